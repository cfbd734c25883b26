package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/logger"
)

func validOptions() ConnectOptions {
	return ConnectOptions{
		Addr:           "127.0.0.1:1",
		DialTimeout:    50 * time.Millisecond,
		ReadTimeout:    50 * time.Millisecond,
		WriteTimeout:   50 * time.Millisecond,
		PoolSize:       1,
		ConnectTimeout: 200 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
		MaxWait:        50 * time.Millisecond,
		PingTimeout:    50 * time.Millisecond,
		WarnThreshold:  1,
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConnectOptions)
	}{
		{"connect timeout", func(o *ConnectOptions) { o.ConnectTimeout = 0 }},
		{"retry interval", func(o *ConnectOptions) { o.RetryInterval = 0 }},
		{"max wait", func(o *ConnectOptions) { o.MaxWait = -time.Second }},
		{"ping timeout", func(o *ConnectOptions) { o.PingTimeout = 0 }},
		{"warn threshold", func(o *ConnectOptions) { o.WarnThreshold = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(&opts)
			if _, err := New(context.Background(), opts, logger.Nop()); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}

func TestNewGivesUpAfterTimeout(t *testing.T) {
	start := time.Now()
	client, err := New(context.Background(), validOptions(), logger.Nop())
	if err == nil {
		t.Fatal("New() connected to a closed port")
	}
	if client != nil {
		t.Error("New() returned a client alongside an error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("New() took %v, ConnectTimeout not honoured", elapsed)
	}
}
