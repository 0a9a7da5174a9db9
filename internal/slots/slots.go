// Package slots implements the Slot Manager (C11): priority-aware
// admission control bounding how many requests the process services
// concurrently, fast-failing once the interactive queue backs up.
package slots

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"cognitivecore/internal/coreerr"
	"cognitivecore/internal/model"
)

// Defaults mirror spec §4.11's examples: 2 concurrent user requests, a
// queue-depth cap of 5 before fast-failing, and a 1s heartbeat interval.
const (
	defaultUserConcurrency       = 2
	defaultBackgroundConcurrency = 1
	defaultQueueDepthCap         = 5
	defaultHeartbeatInterval     = time.Second
)

// QueueUpdate is a heartbeat emitted to a waiting caller at
// Config.HeartbeatInterval while it queues for a slot.
type QueueUpdate struct {
	Priority model.SlotPriority
	Waited   time.Duration
	Position int
}

// Config bounds the Manager's pools. Zero values take the defaults above.
type Config struct {
	UserConcurrency       int
	BackgroundConcurrency int
	QueueDepthCap         int
	HeartbeatInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserConcurrency <= 0 {
		c.UserConcurrency = defaultUserConcurrency
	}
	if c.BackgroundConcurrency <= 0 {
		c.BackgroundConcurrency = defaultBackgroundConcurrency
	}
	if c.QueueDepthCap <= 0 {
		c.QueueDepthCap = defaultQueueDepthCap
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	return c
}

// Manager admits requests into one of two bounded pools: a small
// interactive-user pool and a separate, lower-priority background pool,
// so background fact-extraction work never starves interactive chat.
type Manager struct {
	cfg Config

	userSem *semaphore.Weighted
	bgSem   *semaphore.Weighted

	userQueueDepth int64
}

// New constructs a Manager from cfg.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:     cfg,
		userSem: semaphore.NewWeighted(int64(cfg.UserConcurrency)),
		bgSem:   semaphore.NewWeighted(int64(cfg.BackgroundConcurrency)),
	}
}

// Release is returned by Acquire and must be called exactly once on every
// exit path — normal completion, error, or cancellation.
type Release func()

// Acquire is the request's first suspension point. For PriorityUser it
// fast-fails with coreerr.ErrBusy if the queue depth, counting this
// request, exceeds Config.QueueDepthCap (that is, when QueueDepthCap
// requests are already inside Acquire); otherwise it blocks until a pool slot is
// free or ctx is cancelled, emitting a QueueUpdate on heartbeats to
// heartbeats (if non-nil) at Config.HeartbeatInterval while it waits.
func (m *Manager) Acquire(ctx context.Context, priority model.SlotPriority, ownerID string, heartbeats chan<- QueueUpdate) (model.Slot, Release, error) {
	sem := m.semFor(priority)

	if priority == model.PriorityUser {
		depth := atomic.AddInt64(&m.userQueueDepth, 1)
		defer atomic.AddInt64(&m.userQueueDepth, -1)
		if int(depth) > m.cfg.QueueDepthCap {
			return model.Slot{}, nil, fmt.Errorf("%w: user queue depth %d exceeds cap %d", coreerr.ErrBusy, depth, m.cfg.QueueDepthCap)
		}
	}

	start := time.Now()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	acquired := make(chan error, 1)
	go func() { acquired <- sem.Acquire(ctx, 1) }()

	for {
		select {
		case err := <-acquired:
			if err != nil {
				return model.Slot{}, nil, fmt.Errorf("slots: acquire: %w", err)
			}
			slot := model.Slot{
				Priority:    priority,
				AcquiredAt:  time.Now(),
				OwnerID:     ownerID,
				CancelToken: cancelTokenFor(ownerID, start),
			}
			var once sync.Once
			release := Release(func() {
				once.Do(func() { sem.Release(1) })
			})
			return slot, release, nil
		case <-ticker.C:
			if heartbeats != nil {
				select {
				case heartbeats <- QueueUpdate{Priority: priority, Waited: time.Since(start)}:
				default:
				}
			}
		case <-ctx.Done():
			return model.Slot{}, nil, ctx.Err()
		}
	}
}

func (m *Manager) semFor(priority model.SlotPriority) *semaphore.Weighted {
	if priority == model.PriorityBackground {
		return m.bgSem
	}
	return m.userSem
}

// QueueDepth reports the current number of user-priority requests inside
// Acquire (waiting for a slot), for diagnostics; a request leaves the count
// when Acquire returns.
func (m *Manager) QueueDepth() int {
	return int(atomic.LoadInt64(&m.userQueueDepth))
}

func cancelTokenFor(ownerID string, start time.Time) string {
	return fmt.Sprintf("%s-%d", ownerID, start.UnixNano())
}

// ErrBusy re-exports the sentinel Acquire returns on fast-fail, for
// callers that want to errors.Is against it without importing coreerr.
var ErrBusy = coreerr.ErrBusy
