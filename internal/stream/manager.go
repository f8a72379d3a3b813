package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
	"github.com/aevon-lab/x402-facilitator/internal/eventlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrCursorRegression marks an advance that would have moved a cursor
	// backward. Polls recover from it by re-reading; it is only returned when
	// the cursor keeps moving under the poller.
	ErrCursorRegression = errors.New("cursor regression")

	ErrStreamNotFound = errors.New("stream not found")
	ErrInvalidStream  = errors.New("invalid stream id")
)

const (
	DefaultBatchSize = 100
	MaxBatchSize     = 1000

	maxAdvanceAttempts = 5
	maxStreamIDLength  = 255
)

var (
	cursorRegressions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facilitator_stream_cursor_regressions_total",
		Help: "Cursor advances rejected because another poller had already moved the cursor further",
	})

	eventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facilitator_stream_events_delivered_total",
		Help: "Events delivered by stream polls",
	})
)

// Manager tracks, per named stream, the last event delivered from a scope's log.
type Manager struct {
	store        storage.StreamStore
	log          *eventlog.Log
	maxBatchSize int
	now          func() time.Time
}

// NewManager creates a cursor manager. maxBatchSize <= 0 uses MaxBatchSize.
func NewManager(store storage.StreamStore, log *eventlog.Log, maxBatchSize int) *Manager {
	if maxBatchSize <= 0 {
		maxBatchSize = MaxBatchSize
	}
	return &Manager{
		store:        store,
		log:          log,
		maxBatchSize: maxBatchSize,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func validateStreamID(streamID string) error {
	if strings.TrimSpace(streamID) == "" {
		return fmt.Errorf("%w: stream_id is required", ErrInvalidStream)
	}
	if len(streamID) > maxStreamIDLength {
		return fmt.Errorf("%w: stream_id exceeds %d characters", ErrInvalidStream, maxStreamIDLength)
	}
	return nil
}

// Poll returns up to batchSize events after the stream's cursor and moves the
// cursor to the last of them. A stream id seen for the first time starts at
// the beginning of the scope's log.
//
// The cursor only moves forward. The advance is a compare-and-swap on the
// mark read at the start of the poll; when another poller got there first
// with a mark at or past ours, this poll re-reads from the newer mark
// instead of overwriting it.
func (m *Manager) Poll(ctx context.Context, streamID string, scope v1.Scope, batchSize int) ([]*v1.CloudEvent, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStream, err)
	}
	switch {
	case batchSize <= 0:
		batchSize = DefaultBatchSize
	case batchSize > m.maxBatchSize:
		batchSize = m.maxBatchSize
	}

	cursor, err := m.store.FindOrCreateStream(ctx, streamID, scope, m.now())
	if err != nil {
		return nil, err
	}

	var events []*v1.CloudEvent
	var prevSeq int64
	for attempt := 0; attempt < maxAdvanceAttempts; attempt++ {
		if events == nil {
			events, err = m.read(ctx, cursor, batchSize)
			if err != nil {
				return nil, err
			}
			if len(events) == 0 {
				return events, nil
			}
			prevSeq = cursor.LastEventSeq
		}

		last := events[len(events)-1]
		ok, err := m.store.AdvanceStream(ctx, streamID, scope, prevSeq, last, m.now())
		if err != nil {
			return nil, err
		}
		if ok {
			eventsDelivered.Add(float64(len(events)))
			slog.Debug("[Stream] Cursor advanced",
				"stream_id", streamID,
				"scope", scope.String(),
				"last_event_id", last.EventID,
				"delivered", len(events))
			return events, nil
		}

		current, err := m.store.GetStream(ctx, streamID, scope)
		if err != nil {
			return nil, err
		}
		if current.LastEventSeq >= last.Seq {
			cursorRegressions.Inc()
			slog.Warn("[Stream] Rejected backward cursor move",
				"error", ErrCursorRegression,
				"stream_id", streamID,
				"scope", scope.String(),
				"stored_event_id", current.LastEventID,
				"attempted_event_id", last.EventID)
			cursor = current
			events = nil
			continue
		}

		// The mark moved but is still behind ours: retry the swap against it.
		prevSeq = current.LastEventSeq
	}

	return nil, fmt.Errorf("%w: stream %s in %s kept moving after %d attempts",
		ErrCursorRegression, streamID, scope, maxAdvanceAttempts)
}

func (m *Manager) read(ctx context.Context, cursor *v1.EventStream, batchSize int) ([]*v1.CloudEvent, error) {
	var afterTime time.Time
	if cursor.LastEventTime != nil {
		afterTime = *cursor.LastEventTime
	}
	return eventlog.Collect(m.log.ReadSince(ctx, cursor.Scope(), cursor.LastEventID, afterTime, batchSize))
}

// Cursor returns the stored position of a stream without moving it.
func (m *Manager) Cursor(ctx context.Context, streamID string, scope v1.Scope) (*v1.EventStream, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}
	cursor, err := m.store.GetStream(ctx, streamID, scope)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s in %s", ErrStreamNotFound, streamID, scope)
	}
	if err != nil {
		return nil, err
	}
	return cursor, nil
}
