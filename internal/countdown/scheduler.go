// Package countdown drives the per-poll countdown: one cancellable timer per
// active poll id, ticking once per second until the poll closes.
package countdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pollroom/pollroom/internal/poll"
)

// Loader reloads a poll's current persisted state. Each tick starts from a
// fresh load because the poll may have been closed out-of-band by the
// full-response path or an explicit stop.
type Loader interface {
	Get(ctx context.Context, id string) (*poll.Poll, error)
}

// Hooks are invoked from the timer goroutine on every tick and on expiry.
type Hooks struct {
	// Tick receives the freshly loaded poll and its derived remaining time.
	Tick func(p *poll.Poll, remaining int)
	// Expire fires once when remaining reaches zero. The hook owns the state
	// transition and the terminal broadcast.
	Expire func(ctx context.Context, pollID string)
}

// Scheduler maintains at most one running timer per poll id. Starting a timer
// for an id that already has one cancels the old timer first, so a retried
// activation can never leak a second countdown.
type Scheduler struct {
	clock  clockwork.Clock
	loader Loader
	hooks  Hooks

	mu     sync.Mutex
	active map[string]*timer
}

type timer struct {
	cancel context.CancelFunc
}

// New creates a scheduler. Hooks must be set before the first Start.
func New(loader Loader, clock clockwork.Clock, hooks Hooks) *Scheduler {
	return &Scheduler{
		clock:  clock,
		loader: loader,
		hooks:  hooks,
		active: make(map[string]*timer),
	}
}

// Start begins (or restarts) the countdown for a poll.
func (s *Scheduler) Start(ctx context.Context, pollID string) {
	runCtx, cancel := context.WithCancel(ctx)
	t := &timer{cancel: cancel}

	s.mu.Lock()
	if old, ok := s.active[pollID]; ok {
		old.cancel()
		log.Debug().Str("poll_id", pollID).Msg("replaced existing countdown timer")
	}
	s.active[pollID] = t
	s.mu.Unlock()

	go s.run(runCtx, pollID, t)
}

// Cancel stops the countdown for a poll, if one is running. Idempotent.
func (s *Scheduler) Cancel(pollID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.active[pollID]; ok {
		t.cancel()
		delete(s.active, pollID)
	}
}

// Running reports whether a countdown is active for pollID.
func (s *Scheduler) Running(pollID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[pollID]
	return ok
}

func (s *Scheduler) run(ctx context.Context, pollID string, self *timer) {
	defer s.remove(pollID, self)
	// Release the child context even when the timer exits on its own.
	defer self.cancel()

	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	// First tick fires immediately so a late joiner sees the countdown right
	// away, then once per second.
	for {
		if s.tick(ctx, pollID) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// tick runs one countdown step and reports whether the timer should exit.
func (s *Scheduler) tick(ctx context.Context, pollID string) bool {
	p, err := s.loader.Get(ctx, pollID)
	if errors.Is(err, poll.ErrNotFound) {
		// Poll gone: nothing left to count down.
		log.Debug().Str("poll_id", pollID).Msg("countdown stopping, poll deleted")
		return true
	}
	if err != nil {
		// Transient store failure. Remaining is derived from the start
		// timestamp, so the next tick self-corrects; keep the timer alive.
		log.Warn().Err(err).Str("poll_id", pollID).Msg("countdown tick skipped, poll not loadable")
		return false
	}
	if !p.Active {
		// Normal exit: another trigger already closed the poll.
		return true
	}

	remaining := p.Remaining(s.clock.Now())
	if s.hooks.Tick != nil {
		s.hooks.Tick(p, remaining)
	}

	if remaining <= 0 {
		if s.hooks.Expire != nil {
			s.hooks.Expire(ctx, pollID)
		}
		return true
	}
	return false
}

func (s *Scheduler) remove(pollID string, self *timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Only remove our own entry; Start may already have replaced it.
	if t, ok := s.active[pollID]; ok && t == self {
		delete(s.active, pollID)
	}
}
