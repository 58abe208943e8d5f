// Package storetest provides fault-injecting adapters for tests.
package storetest

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/infra/storage"
)

// ErrRefused is the error a downed Flaky adapter returns.
var ErrRefused error = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

// Flaky wraps an adapter and fails calls on demand.
type Flaky struct {
	inner storage.Adapter

	mu      sync.Mutex
	down    bool
	delay   time.Duration
	next    []error
	matcher func(op string, table string) error
	calls   map[string]int
}

// NewFlaky wraps inner; it starts up.
func NewFlaky(inner storage.Adapter) *Flaky {
	return &Flaky{inner: inner, calls: make(map[string]int)}
}

// Down makes every call fail with ErrRefused until Up.
func (f *Flaky) Down() {
	f.mu.Lock()
	f.down = true
	f.mu.Unlock()
}

// Up restores normal operation.
func (f *Flaky) Up() {
	f.mu.Lock()
	f.down = false
	f.mu.Unlock()
}

// FailNext queues errors returned by the next calls, one per call.
func (f *Flaky) FailNext(errs ...error) {
	f.mu.Lock()
	f.next = append(f.next, errs...)
	f.mu.Unlock()
}

// FailWhen installs fn, consulted on every call; a non-nil result is returned
// instead of calling through.
func (f *Flaky) FailWhen(fn func(op, table string) error) {
	f.mu.Lock()
	f.matcher = fn
	f.mu.Unlock()
}

// Hang delays every call by d, honouring context cancellation.
func (f *Flaky) Hang(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// Calls returns how many times op reached the wrapper.
func (f *Flaky) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Flaky) before(ctx context.Context, op, table string) error {
	f.mu.Lock()
	f.calls[op]++
	down, delay, matcher := f.down, f.delay, f.matcher
	var injected error
	if len(f.next) > 0 {
		injected, f.next = f.next[0], f.next[1:]
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if down {
		return ErrRefused
	}
	if injected != nil {
		return injected
	}
	if matcher != nil {
		return matcher(op, table)
	}
	return nil
}

func (f *Flaky) Source() domain.Source { return f.inner.Source() }

func (f *Flaky) Select(ctx context.Context, table string, q domain.Query) ([]domain.Row, error) {
	if err := f.before(ctx, "select", table); err != nil {
		return nil, err
	}
	return f.inner.Select(ctx, table, q)
}

func (f *Flaky) Insert(ctx context.Context, table string, rows []domain.Row) ([]domain.Row, error) {
	if err := f.before(ctx, "insert", table); err != nil {
		return nil, err
	}
	return f.inner.Insert(ctx, table, rows)
}

func (f *Flaky) Upsert(ctx context.Context, table string, rows []domain.Row, conflictKey []string) ([]domain.Row, error) {
	if err := f.before(ctx, "upsert", table); err != nil {
		return nil, err
	}
	return f.inner.Upsert(ctx, table, rows, conflictKey)
}

func (f *Flaky) Update(ctx context.Context, table string, patch domain.Row, match domain.Match) ([]domain.Row, error) {
	if err := f.before(ctx, "update", table); err != nil {
		return nil, err
	}
	return f.inner.Update(ctx, table, patch, match)
}

func (f *Flaky) Delete(ctx context.Context, table string, match domain.Match) ([]domain.Row, error) {
	if err := f.before(ctx, "delete", table); err != nil {
		return nil, err
	}
	return f.inner.Delete(ctx, table, match)
}
