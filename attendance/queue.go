package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cppla/punchclock/models"
	"github.com/cppla/punchclock/storage"
)

// SubmitFunc replays one queued event against the backend.
type SubmitFunc func(ctx context.Context, event models.PendingEvent) error

// DrainResult summarises a drain pass.
type DrainResult struct {
	Submitted int `json:"submitted"`
	Skipped   int `json:"skipped"` // already processed by the backend
	Remaining int `json:"remaining"`
}

// OfflineQueue buffers attendance actions that could not be submitted and replays them
// in enqueue order. Every mutation is written through to the store.
type OfflineQueue struct {
	mu       sync.Mutex
	store    storage.Store
	key      string
	events   []models.PendingEvent
	draining bool
	logger   *zap.Logger
	now      func() time.Time
}

// NewOfflineQueue loads the queue persisted under key.
func NewOfflineQueue(ctx context.Context, store storage.Store, key string, logger *zap.Logger) (*OfflineQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &OfflineQueue{store: store, key: key, logger: logger, now: time.Now}
	if _, err := storage.GetJSON(ctx, store, key, &q.events); err != nil {
		return nil, errors.Wrapf(err, "load offline queue %s", key)
	}
	return q, nil
}

// Enqueue appends event and persists the queue. When persisting fails the event is
// not kept, so the caller can report the action as failed.
func (q *OfflineQueue) Enqueue(ctx context.Context, event models.PendingEvent) error {
	if !event.Type.Valid() {
		return errors.Wrapf(ErrUnknownEventType, "enqueue %q", event.Type)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = q.now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, event)
	if err := q.persistLocked(ctx); err != nil {
		q.events = q.events[:len(q.events)-1]
		return errors.Wrap(err, "persist offline queue")
	}
	q.logger.Info("attendance event queued",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Int("queue_len", len(q.events)))
	return nil
}

// Drain submits queued events oldest first. An ErrAlreadyProcessed result counts as
// success. Any other failure stops the pass and leaves the failed event at the head,
// followed by everything after it. Only one drain runs at a time.
func (q *OfflineQueue) Drain(ctx context.Context, submit SubmitFunc) (res DrainResult, err error) {
	q.mu.Lock()
	if q.draining {
		res.Remaining = len(q.events)
		q.mu.Unlock()
		return res, ErrDrainInProgress
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		res.Remaining = len(q.events)
		q.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		q.mu.Lock()
		if len(q.events) == 0 {
			q.mu.Unlock()
			return res, nil
		}
		head := q.events[0]
		q.mu.Unlock()

		err = submit(ctx, head)
		alreadyDone := errors.Is(err, ErrAlreadyProcessed)
		if err != nil && !alreadyDone {
			q.mu.Lock()
			if len(q.events) > 0 && q.events[0].ID == head.ID {
				q.events[0].Attempts++
				if perr := q.persistLocked(ctx); perr != nil {
					q.logger.Warn("persist offline queue failed", zap.Error(perr))
				}
			}
			q.mu.Unlock()
			q.logger.Warn("offline queue drain halted",
				zap.String("event_id", head.ID),
				zap.String("type", string(head.Type)),
				zap.Error(err))
			return res, errors.Wrapf(err, "replay %s %s", head.Type, head.ID)
		}

		q.mu.Lock()
		if len(q.events) == 0 || q.events[0].ID != head.ID {
			// cleared underneath us, e.g. by logout
			q.mu.Unlock()
			return res, nil
		}
		q.events = q.events[1:]
		perr := q.persistLocked(ctx)
		q.mu.Unlock()

		if alreadyDone {
			res.Skipped++
			q.logger.Info("queued event already processed by backend",
				zap.String("event_id", head.ID), zap.String("type", string(head.Type)))
		} else {
			res.Submitted++
		}
		if perr != nil {
			// the stored copy still holds head and would replay it after a restart
			q.logger.Error("persist offline queue failed, drain stopped",
				zap.String("event_id", head.ID), zap.Error(perr))
			return res, errors.Wrap(perr, "persist offline queue")
		}
	}
}

// Len returns the number of queued events.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Draining reports whether a drain pass is running.
func (q *OfflineQueue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Snapshot returns a copy of the queued events in order.
func (q *OfflineQueue) Snapshot() []models.PendingEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.PendingEvent, len(q.events))
	copy(out, q.events)
	return out
}

// Clear drops every queued event, in memory and in the store.
func (q *OfflineQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
	return q.store.Delete(ctx, q.key)
}

func (q *OfflineQueue) persistLocked(ctx context.Context) error {
	if len(q.events) == 0 {
		return q.store.Delete(ctx, q.key)
	}
	return storage.SetJSON(ctx, q.store, q.key, q.events)
}
