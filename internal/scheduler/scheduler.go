// Package scheduler provides a single logical tick source. Every subscriber
// runs on the goroutine that drives the scheduler, one after another in
// registration order, so work from different subscriptions never interleaves.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInvalidInterval is returned for non-positive intervals.
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

// Func is called with the tick time.
type Func func(now time.Time)

type subscription struct {
	id        uint64
	name      string
	interval  time.Duration
	next      time.Time
	fn        Func
	cancelled atomic.Bool
}

// Token cancels a subscription. Cancel is idempotent and safe to call from
// inside the subscription's own callback.
type Token struct {
	s   *Scheduler
	sub *subscription
}

// Cancel stops future calls of the subscription.
func (t *Token) Cancel() {
	if t == nil || t.sub == nil {
		return
	}
	if t.sub.cancelled.Swap(true) {
		return
	}
	t.s.remove(t.sub.id)
}

// Name returns the subscription name.
func (t *Token) Name() string {
	if t == nil || t.sub == nil {
		return ""
	}
	return t.sub.name
}

// Scheduler fans a single ticker out to interval-based subscriptions.
type Scheduler struct {
	mu         sync.Mutex
	subs       []*subscription
	nextID     uint64
	resolution time.Duration
	logger     *slog.Logger
}

// New creates a scheduler whose Run loop ticks every resolution.
func New(resolution time.Duration, logger *slog.Logger) *Scheduler {
	if resolution <= 0 {
		resolution = time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		resolution: resolution,
		logger:     logger.With(slog.String("component", "scheduler")),
	}
}

// Every registers fn to run at most once per interval. The first call happens
// on the next step.
func (s *Scheduler) Every(name string, interval time.Duration, fn Func) (*Token, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := &subscription{
		id:       s.nextID,
		name:     name,
		interval: interval,
		fn:       fn,
	}
	s.subs = append(s.subs, sub)
	s.logger.Debug("subscription added", "name", name, "interval", interval)
	return &Token{s: s, sub: sub}, nil
}

func (s *Scheduler) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			s.logger.Debug("subscription cancelled", "name", sub.name)
			return
		}
	}
}

// Len returns the number of live subscriptions.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Step runs every subscription that is due at now and returns how many ran.
// Callbacks run without the scheduler lock held, so they may subscribe or
// cancel.
func (s *Scheduler) Step(now time.Time) int {
	s.mu.Lock()
	var due []*subscription
	for _, sub := range s.subs {
		if sub.next.IsZero() || !now.Before(sub.next) {
			due = append(due, sub)
			sub.next = now.Add(sub.interval)
		}
	}
	s.mu.Unlock()

	ran := 0
	for _, sub := range due {
		if sub.cancelled.Load() {
			continue
		}
		sub.fn(now)
		ran++
	}
	return ran
}

// Run drives Step from a ticker until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "resolution", s.resolution)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case now := <-ticker.C:
			s.Step(now)
		}
	}
}
