package poll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidPoll rejects drafts without a question or with fewer than two
	// non-empty options. No state is mutated.
	ErrInvalidPoll = errors.New("invalid poll data")

	// ErrActivePollExists rejects activation while another poll is accepting
	// answers.
	ErrActivePollExists = errors.New("active poll exists")

	// ErrNoActivePoll rejects submissions against a missing or closed poll.
	ErrNoActivePoll = errors.New("no active poll")

	// ErrAlreadyAnswered enforces the answer-once rule per submitter key.
	ErrAlreadyAnswered = errors.New("already answered")

	// ErrInvalidOption rejects option references that match nothing by id or
	// text.
	ErrInvalidOption = errors.New("invalid option")
)

// Draft is the input to poll creation and activation.
type Draft struct {
	Room               string
	Question           string
	Options            []string
	DurationSec        int
	CorrectOptionIndex *int
	CreatedBy          string
}

// Lifecycle owns the Created -> Active -> Closed state machine and the
// system-wide invariant that at most one poll is active at any instant.
//
// Every read-active-poll -> decide -> write sequence runs under one mutex;
// the store itself has no optimistic concurrency control, so this single
// writer is the only protection against lost updates.
type Lifecycle struct {
	mu    sync.Mutex
	store Store
	clock clockwork.Clock
}

// NewLifecycle creates the state machine on top of a store.
func NewLifecycle(store Store, clock clockwork.Clock) *Lifecycle {
	return &Lifecycle{store: store, clock: clock}
}

func (d Draft) validate() error {
	if strings.TrimSpace(d.Question) == "" {
		return ErrInvalidPoll
	}
	nonEmpty := 0
	for _, o := range d.Options {
		if strings.TrimSpace(o) != "" {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		return ErrInvalidPoll
	}
	return nil
}

// CreateDraft persists an inactive poll. Used by the REST surface; the poll
// accepts no answers until activated.
func (l *Lifecycle) CreateDraft(ctx context.Context, d Draft) (*Poll, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	p := NewPoll(d.Room, d.Question, d.Options, d.DurationSec, l.clock.Now())
	p.CorrectOptionIndex = d.CorrectOptionIndex
	p.CreatedBy = d.CreatedBy
	if err := l.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to persist poll draft: %w", err)
	}
	return p, nil
}

// Activate creates and starts a poll. The check against a currently active
// poll and the activation itself are atomic: two concurrent activations
// cannot both observe "no active poll" and both succeed.
//
// An active poll that every currently connected student has already answered
// does not block a new one; it is closed and returned as superseded so the
// caller can cancel its countdown and emit its terminal broadcast.
// countStudents recounts the live student connections of a room; the
// existing poll is judged against its own room, not the caller's.
func (l *Lifecycle) Activate(ctx context.Context, d Draft, countStudents func(room string) int) (started, superseded *Poll, err error) {
	if err := d.validate(); err != nil {
		return nil, nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.store.FindActive(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to look up active poll: %w", err)
	}
	if existing != nil {
		connected := 0
		if countStudents != nil {
			connected = countStudents(existing.Room)
		}
		if connected > 0 && len(existing.Submissions) < connected {
			return nil, nil, ErrActivePollExists
		}
		existing.Active = false
		if err := l.store.Save(ctx, existing); err != nil {
			return nil, nil, fmt.Errorf("failed to close fully answered poll: %w", err)
		}
		superseded = existing
	}

	now := l.clock.Now()
	p := NewPoll(d.Room, d.Question, d.Options, d.DurationSec, now)
	p.CorrectOptionIndex = d.CorrectOptionIndex
	p.CreatedBy = d.CreatedBy
	p.Active = true
	p.StartedAt = &now
	if err := l.store.Create(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("failed to persist poll: %w", err)
	}

	log.Info().Str("poll_id", p.ID).Str("room", p.Room).Int("duration_sec", p.Duration).Msg("poll activated")
	return p, superseded, nil
}

// Submit records one answer. Appending the submission and incrementing the
// chosen option's votes happen in a single step under the lifecycle mutex; no
// state where one happened without the other is observable.
//
// A poll only accepts answers from the room it runs in; fromRoom is the
// submitter's current room. countStudents recounts that room's live student
// connections at the moment of this submission. When everyone has answered
// the poll closes immediately (ended=true) instead of waiting for the next
// countdown tick.
func (l *Lifecycle) Submit(ctx context.Context, pollID, key, name, optionRef, fromRoom string, countStudents func(room string) int) (p *Poll, ended bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err = l.store.Get(ctx, pollID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, ErrNoActivePoll
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load poll: %w", err)
	}
	if !p.Active {
		return nil, false, ErrNoActivePoll
	}
	if fromRoom != p.Room {
		return nil, false, ErrNoActivePoll
	}
	if p.HasSubmission(key) {
		return nil, false, ErrAlreadyAnswered
	}
	idx, ok := p.FindOption(optionRef)
	if !ok {
		return nil, false, ErrInvalidOption
	}

	p.Options[idx].Votes++
	p.Submissions = append(p.Submissions, Submission{
		Key:      key,
		OptionID: optionRef,
		Name:     name,
		At:       l.clock.Now(),
	})

	connected := 0
	if countStudents != nil {
		connected = countStudents(p.Room)
	}
	if connected > 0 && len(p.Submissions) >= connected {
		p.Active = false
		ended = true
	}
	if err := l.store.Save(ctx, p); err != nil {
		return nil, false, fmt.Errorf("failed to save submission: %w", err)
	}
	return p, ended, nil
}

// Stop closes a poll. Already-closed and missing polls are benign no-ops
// (ended=false), so the timer path, the full-response path and an explicit
// stop converge on a single terminal broadcast: whichever flips the flag
// first reports ended=true, the rest see a closed poll.
func (l *Lifecycle) Stop(ctx context.Context, pollID string) (p *Poll, ended bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err = l.store.Get(ctx, pollID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load poll: %w", err)
	}
	if !p.Active {
		return p, false, nil
	}
	p.Active = false
	if err := l.store.Save(ctx, p); err != nil {
		return nil, false, fmt.Errorf("failed to close poll: %w", err)
	}

	log.Info().Str("poll_id", p.ID).Int("submissions", len(p.Submissions)).Msg("poll closed")
	return p, true, nil
}

// Active returns the current active poll, or ErrNotFound.
func (l *Lifecycle) Active(ctx context.Context) (*Poll, error) {
	return l.store.FindActive(ctx)
}

// Get loads one poll by id.
func (l *Lifecycle) Get(ctx context.Context, id string) (*Poll, error) {
	return l.store.Get(ctx, id)
}

// ListRecent returns up to limit most recent polls.
func (l *Lifecycle) ListRecent(ctx context.Context, limit int) ([]*Poll, error) {
	return l.store.ListRecent(ctx, limit)
}
