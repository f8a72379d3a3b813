// Package eventlog reads the append-only CloudEvent log.
//
// Appends never happen here: the ledger writes each event in the same
// database transaction as the status change it records.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
)

// ErrCursorNotFound is returned when afterEventID names no event in the scope
// and no afterTime fallback was given.
var ErrCursorNotFound = errors.New("cursor event not found")

const (
	DefaultPageSize = 100
	MaxTail         = 1000
)

// Log is a read-only view over storage.EventStore.
type Log struct {
	store    storage.EventStore
	pageSize int
}

// New creates a Log. pageSize <= 0 uses DefaultPageSize.
func New(store storage.EventStore, pageSize int) *Log {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Log{store: store, pageSize: pageSize}
}

// ReadSince yields the events of scope after the given bound in ascending
// (created_at, id) order, fetching one page at a time.
//
// afterEventID takes precedence; when it is unknown in the scope the read
// falls back to event_time > afterTime, or fails with ErrCursorNotFound if
// afterTime is zero. With neither bound the whole log is replayed. limit <= 0
// means no limit. Every range over the returned sequence starts over from the
// bound, so it can be consumed more than once.
func (l *Log) ReadSince(
	ctx context.Context,
	scope v1.Scope,
	afterEventID string,
	afterTime time.Time,
	limit int,
) iter.Seq2[*v1.CloudEvent, error] {
	return func(yield func(*v1.CloudEvent, error) bool) {
		q, err := l.resolve(ctx, scope, afterEventID, afterTime)
		if err != nil {
			yield(nil, err)
			return
		}

		delivered := 0
		for {
			q.Limit = l.pageSize
			if limit > 0 && limit-delivered < q.Limit {
				q.Limit = limit - delivered
			}

			page, err := l.store.ReadEvents(ctx, q)
			if err != nil {
				yield(nil, fmt.Errorf("failed to read events: %w", err))
				return
			}

			for _, evt := range page {
				if !yield(evt, nil) {
					return
				}
				delivered++
			}

			if len(page) < q.Limit || (limit > 0 && delivered >= limit) {
				return
			}
			last := page[len(page)-1]
			q.After = storage.Position{CreatedAt: last.CreatedAt, Seq: last.Seq}
		}
	}
}

// resolve turns the caller's bound into a query position.
func (l *Log) resolve(ctx context.Context, scope v1.Scope, afterEventID string, afterTime time.Time) (storage.EventQuery, error) {
	q := storage.EventQuery{Scope: scope}
	if afterEventID == "" {
		q.AfterEventTime = afterTime
		return q, nil
	}

	evt, err := l.store.GetEvent(ctx, scope, afterEventID)
	switch {
	case err == nil:
		q.After = storage.Position{CreatedAt: evt.CreatedAt, Seq: evt.Seq}
		return q, nil
	case !errors.Is(err, storage.ErrNotFound):
		return q, fmt.Errorf("failed to resolve cursor %s: %w", afterEventID, err)
	case afterTime.IsZero():
		return q, fmt.Errorf("%w: %s in %s", ErrCursorNotFound, afterEventID, scope)
	default:
		q.AfterEventTime = afterTime
		return q, nil
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[*v1.CloudEvent, error]) ([]*v1.CloudEvent, error) {
	events := []*v1.CloudEvent{}
	for evt, err := range seq {
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// ReadLast returns the newest n events of scope in chronological order.
func (l *Log) ReadLast(ctx context.Context, scope v1.Scope, n int) ([]*v1.CloudEvent, error) {
	if n <= 0 {
		return []*v1.CloudEvent{}, nil
	}
	if n > MaxTail {
		n = MaxTail
	}
	events, err := l.store.ReadLastEvents(ctx, scope, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read last events: %w", err)
	}
	if events == nil {
		events = []*v1.CloudEvent{}
	}
	return events, nil
}
