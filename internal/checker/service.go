// Package checker owns the per-room sessions and exposes the typed
// operations a front end maps its commands onto.
package checker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/fedcheck/internal/coordinator"
	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/index"
	"github.com/MrSnakeDoc/fedcheck/internal/logger"
	"github.com/MrSnakeDoc/fedcheck/internal/membership"
	"github.com/MrSnakeDoc/fedcheck/internal/predicate"
	"github.com/MrSnakeDoc/fedcheck/internal/report"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// Membership enumerates the homeservers in a room.
type Membership interface {
	JoinedServers(ctx context.Context, roomID string) (membership.Servers, error)
}

// Store persists room snapshots.
type Store interface {
	ReplaceRoom(ctx context.Context, room string, snap domain.Snapshot) error
	DeleteRoom(ctx context.Context, room string) error
}

// Tables provides the current room-version table.
type Tables interface {
	Current() *predicate.Table
}

// Options configures a Service.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	Registry    *software.Registry
	Membership  Membership // optional
	Store       Store      // optional
	Tables      Tables
	Logger      logger.Logger
	Now         func() time.Time
}

// Service runs room tests and answers questions about their results.
type Service struct {
	coord       *coordinator.Coordinator
	sessions    *index.MemoryIndex
	concurrency int
	timeout     time.Duration
	registry    *software.Registry
	membership  Membership
	store       Store
	tables      Tables
	log         logger.Logger
	now         func() time.Time

	flights singleflight.Group
}

// New builds a Service.
func New(coord *coordinator.Coordinator, sessions *index.MemoryIndex, opts Options) *Service {
	s := &Service{
		coord:       coord,
		sessions:    sessions,
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		registry:    opts.Registry,
		membership:  opts.Membership,
		store:       opts.Store,
		tables:      opts.Tables,
		log:         opts.Logger,
		now:         opts.Now,
	}
	if s.registry == nil {
		s.registry = software.NewRegistry()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Registry returns the family registry used for normalization.
func (s *Service) Registry() *software.Registry {
	return s.registry
}

// RoomResult is the outcome of a full room test.
type RoomResult struct {
	Room         string           `json:"room"`
	Outcomes     []domain.Outcome `json:"-"`
	Summary      report.Summary   `json:"summary"`
	MemberCounts map[string]int   `json:"member_counts,omitempty"`
	TestedAt     time.Time        `json:"tested_at"`
	// Shared is set when the caller joined a test another caller started.
	Shared bool `json:"shared"`
}

// RoomReport is the cached state of a room.
type RoomReport struct {
	Room         string         `json:"room"`
	Summary      report.Summary `json:"summary"`
	MemberCounts map[string]int `json:"member_counts,omitempty"`
	TestedAt     time.Time      `json:"tested_at"`
	// Fresh is set when the report required running a test first.
	Fresh bool `json:"fresh"`
}

// RetestResult reports a targeted retest.
type RetestResult struct {
	Room     string          `json:"room"`
	Server   string          `json:"server"`
	Previous *domain.Outcome `json:"-"`
	Current  domain.Outcome  `json:"-"`
	Change   Change          `json:"change"`
}

// MatchResult lists the servers matching a predicate.
type MatchResult struct {
	Room      string   `json:"room"`
	Software  string   `json:"software"`
	Operator  string   `json:"operator"`
	Version   string   `json:"version,omitempty"`
	Servers   []string `json:"servers"`
	Fresh     bool     `json:"fresh"`
	Reachable int      `json:"reachable"`
}

func validRoom(room string) error {
	if !strings.HasPrefix(room, "!") || !strings.Contains(room, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}
	return nil
}

// TestRoom probes every server of room and replaces the room's cache.
// With no servers given, the set comes from room membership. Concurrent
// calls for the same room share a single run.
func (s *Service) TestRoom(ctx context.Context, room string, servers []string) (RoomResult, error) {
	if err := validRoom(room); err != nil {
		return RoomResult{}, err
	}

	v, err, shared := s.flights.Do(room, func() (interface{}, error) {
		return s.runTest(ctx, room, servers)
	})
	res, _ := v.(RoomResult)
	res.Shared = shared
	return res, err
}

func (s *Service) runTest(ctx context.Context, room string, servers []string) (RoomResult, error) {
	var members map[string]int
	if len(servers) == 0 {
		if s.membership == nil {
			return RoomResult{}, ErrMembershipUnavailable
		}
		joined, err := s.membership.JoinedServers(ctx, room)
		if err != nil {
			return RoomResult{}, fmt.Errorf("failed to list room servers: %w", err)
		}
		servers = joined.Names()
		members = joined.Counts()
	}

	// A rejected request must leave the previous results in place.
	if err := coordinator.Validate(servers, s.concurrency, s.timeout); err != nil {
		return RoomResult{}, err
	}

	sess := s.sessions.GetOrCreate(room)
	sess.Touch(s.now())
	sess.Cache.InvalidateAll()

	outcomes, err := s.coord.ProbeAll(ctx, servers, sess.Cache, s.concurrency, s.timeout)
	if outcomes == nil {
		return RoomResult{}, err
	}

	testedAt := s.now()
	sess.SetServers(lo.Map(outcomes, func(o domain.Outcome, _ int) string { return o.Server }), members, testedAt)
	s.persistRoom(ctx, room, sess.Cache.Export())

	return RoomResult{
		Room:         room,
		Outcomes:     outcomes,
		Summary:      report.Summarize(outcomes, s.registry),
		MemberCounts: members,
		TestedAt:     testedAt,
	}, err
}

func (s *Service) persistRoom(ctx context.Context, room string, snap domain.Snapshot) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.ReplaceRoom(ctx, room, snap); err != nil {
		s.log.Warn("failed to persist room snapshot",
			logger.String("room", room),
			logger.Error(err))
	}
}

// session returns the session of room if the room has been tested. A
// session whose only entry is being retested still counts.
func (s *Service) session(room string) (*index.Session, bool) {
	sess, ok := s.sessions.Get(room)
	if !ok || (sess.Cache.Len() == 0 && len(sess.Servers()) == 0) {
		return nil, false
	}
	sess.Touch(s.now())
	return sess, true
}

// cachedOrTest returns the session of room, running a full test first if
// the room has no results yet.
func (s *Service) cachedOrTest(ctx context.Context, room string) (*index.Session, bool, error) {
	if err := validRoom(room); err != nil {
		return nil, false, err
	}
	if sess, ok := s.session(room); ok {
		return sess, false, nil
	}
	if _, err := s.TestRoom(ctx, room, nil); err != nil {
		return nil, false, err
	}
	sess, ok := s.session(room)
	if !ok {
		return nil, false, ErrNoCachedResults
	}
	return sess, true, nil
}

// Report summarizes the cached results of room.
func (s *Service) Report(ctx context.Context, room string) (RoomReport, error) {
	sess, fresh, err := s.cachedOrTest(ctx, room)
	if err != nil {
		return RoomReport{}, err
	}
	return RoomReport{
		Room:         room,
		Summary:      report.SummarizeCache(sess.Cache, s.registry),
		MemberCounts: sess.MemberCounts(),
		TestedAt:     sess.LastTested(),
		Fresh:        fresh,
	}, nil
}

// Retest probes one server of an already tested room again.
func (s *Service) Retest(ctx context.Context, room, server string) (RetestResult, error) {
	if err := validRoom(room); err != nil {
		return RetestResult{}, err
	}
	server = strings.TrimSpace(server)

	sess, ok := s.session(room)
	if !ok {
		return RetestResult{}, ErrNoCachedResults
	}
	if !sess.HasServer(server) {
		return RetestResult{}, fmt.Errorf("%w: %s", ErrServerNotInRoom, server)
	}
	if !sess.BeginRetest(server) {
		return RetestResult{}, fmt.Errorf("%w: %s", ErrRetestInProgress, server)
	}
	defer sess.EndRetest(server)

	prev, hadPrev := sess.Cache.Get(server)
	sess.Cache.Invalidate(server)

	cur, err := s.coord.ProbeOne(ctx, server, sess.Cache, s.timeout)
	if err != nil {
		if hadPrev {
			sess.Cache.Upsert(prev)
		}
		return RetestResult{}, err
	}

	res := RetestResult{
		Room:    room,
		Server:  server,
		Current: cur,
		Change:  classify(prev, hadPrev, cur),
	}
	if hadPrev {
		res.Previous = &prev
	}
	s.log.Info("server retested",
		logger.String("room", room),
		logger.String("server", server),
		logger.String("change", string(res.Change)))
	return res, nil
}

// Check probes a server outside of any room.
func (s *Service) Check(ctx context.Context, server string) (domain.Outcome, error) {
	return s.coord.Check(ctx, server, s.timeout)
}

// Match lists the servers of room matching a software/version filter.
func (s *Service) Match(ctx context.Context, room, name, op, version string) (MatchResult, error) {
	p, err := predicate.New(s.registry, name, op, version)
	if err != nil {
		return MatchResult{}, err
	}
	sess, fresh, err := s.cachedOrTest(ctx, room)
	if err != nil {
		return MatchResult{}, err
	}

	res := MatchResult{
		Room:     room,
		Software: p.Software,
		Operator: p.Op.String(),
		Version:  p.Version.Raw,
		Servers:  predicate.Match(sess.Cache, p),
		Fresh:    fresh,
	}
	if res.Servers == nil {
		res.Servers = []string{}
	}
	for _, o := range sess.Cache.All() {
		if o.OK() {
			res.Reachable++
		}
	}
	return res, nil
}

// Upgrade reports which servers of room support roomVersion.
func (s *Service) Upgrade(ctx context.Context, room, roomVersion string) (predicate.Impact, error) {
	roomVersion = strings.TrimSpace(roomVersion)
	if roomVersion == "" {
		return predicate.Impact{}, ErrNoRoomVersion
	}
	sess, _, err := s.cachedOrTest(ctx, room)
	if err != nil {
		return predicate.Impact{}, err
	}
	var table *predicate.Table
	if s.tables != nil {
		table = s.tables.Current()
	}
	return predicate.UpgradeImpact(sess.Cache, table, roomVersion), nil
}

// Export returns the flat snapshot of a room's cache.
func (s *Service) Export(room string) (domain.Snapshot, error) {
	if err := validRoom(room); err != nil {
		return nil, err
	}
	sess, ok := s.session(room)
	if !ok {
		return nil, ErrNoCachedResults
	}
	return sess.Cache.Export(), nil
}

// Restore loads a persisted snapshot into the session of room. The
// snapshot's servers become the room's server set.
func (s *Service) Restore(room string, snap domain.Snapshot) int {
	sess := index.NewSession(room)
	n := sess.Cache.Import(snap, s.registry)
	if n == 0 {
		return 0
	}
	restored := sess.Cache.All()
	newest := lo.MaxBy(restored, func(a, b domain.Outcome) bool { return a.CheckedAt.After(b.CheckedAt) })
	sess.SetServers(lo.Map(restored, func(o domain.Outcome, _ int) string { return o.Server }), nil, newest.CheckedAt)
	s.sessions.Put(sess)
	return n
}

// Forget drops a room from memory and from persistence.
func (s *Service) Forget(ctx context.Context, room string) error {
	s.sessions.Delete(room)
	if s.store == nil {
		return nil
	}
	if err := s.store.DeleteRoom(ctx, room); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", room, err)
	}
	return nil
}

// Rooms returns the number of rooms held in memory.
func (s *Service) Rooms() int {
	return s.sessions.Count()
}
