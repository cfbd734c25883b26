package roomversions

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/predicate"
)

// Provider serves the current table and swaps it atomically on reload.
// A failed reload keeps the previous table.
type Provider struct {
	loader     *Loader
	mapper     *Mapper
	table      atomic.Pointer[predicate.Table]
	lastReload atomic.Int64
}

// NewProvider loads the table once and fails if it cannot.
func NewProvider(loader *Loader, mapper *Mapper) (*Provider, error) {
	p := &Provider{loader: loader, mapper: mapper}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload reads the table again.
func (p *Provider) Reload() error {
	doc, err := p.loader.Load()
	if err != nil {
		return err
	}
	table, err := p.mapper.MapTable(doc)
	if err != nil {
		return fmt.Errorf("invalid room versions table %s: %w", p.loader.Source(), err)
	}
	p.table.Store(table)
	p.lastReload.Store(time.Now().UnixNano())
	return nil
}

// Current returns the table in use.
func (p *Provider) Current() *predicate.Table {
	return p.table.Load()
}

// Source names where the table is read from.
func (p *Provider) Source() string {
	return p.loader.Source()
}

// LastReload returns when the table was last loaded successfully.
func (p *Provider) LastReload() time.Time {
	return time.Unix(0, p.lastReload.Load())
}
