package poll

import (
	"time"

	"github.com/google/uuid"
)

// DefaultDuration is applied when a poll is started without an explicit
// duration.
const DefaultDuration = 60 * time.Second

// Option is one answer choice. Votes only grow while the owning poll is
// active and freeze once it closes.
type Option struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Submission records one answer. Key is the submitter's normalized identity,
// or the connection id for anonymous submitters.
type Submission struct {
	Key      string    `json:"key"`
	OptionID string    `json:"option_id"`
	Name     string    `json:"name,omitempty"`
	At       time.Time `json:"at"`
}

// Poll is the persisted poll record. At most one poll is Active at any
// instant; that invariant is owned by the Lifecycle, not the store.
type Poll struct {
	ID                 string       `json:"id"`
	Room               string       `json:"room"`
	Question           string       `json:"question"`
	Options            []Option     `json:"options"`
	CorrectOptionIndex *int         `json:"correct_option_index,omitempty"`
	CreatedBy          string       `json:"created_by,omitempty"`
	Duration           int          `json:"duration"` // seconds
	Active             bool         `json:"is_active"`
	CreatedAt          time.Time    `json:"created_at"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	Submissions        []Submission `json:"submissions"`
}

// NewPoll builds an inactive poll draft with generated option ids.
func NewPoll(room, question string, optionTexts []string, durationSec int, now time.Time) *Poll {
	if durationSec <= 0 {
		durationSec = int(DefaultDuration / time.Second)
	}
	options := make([]Option, 0, len(optionTexts))
	for _, text := range optionTexts {
		options = append(options, Option{ID: uuid.New().String(), Text: text})
	}
	return &Poll{
		ID:          uuid.New().String(),
		Room:        room,
		Question:    question,
		Options:     options,
		Duration:    durationSec,
		CreatedAt:   now,
		Submissions: []Submission{},
	}
}

// Results maps option text to its current vote count. Always recomputed
// fresh; broadcasts must never trust caller-supplied tallies.
func (p *Poll) Results() map[string]int {
	results := make(map[string]int, len(p.Options))
	for _, o := range p.Options {
		results[o.Text] = o.Votes
	}
	return results
}

// Remaining derives the seconds left from the fixed start timestamp, clamped
// at zero. It is never decremented in place, so a delayed tick self-corrects
// instead of drifting.
func (p *Poll) Remaining(now time.Time) int {
	if !p.Active || p.StartedAt == nil {
		return 0
	}
	elapsed := int(now.Sub(*p.StartedAt) / time.Second)
	if remaining := p.Duration - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

// FindOption resolves an option reference by id first, then by exact text.
// Some clients cache options by text, so both forms are accepted as
// submission keys.
func (p *Poll) FindOption(ref string) (int, bool) {
	for i, o := range p.Options {
		if o.ID == ref {
			return i, true
		}
	}
	for i, o := range p.Options {
		if o.Text == ref {
			return i, true
		}
	}
	return 0, false
}

// HasSubmission reports whether key already answered this poll.
func (p *Poll) HasSubmission(key string) bool {
	for _, s := range p.Submissions {
		if s.Key == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can't mutate stored state through
// shared slices.
func (p *Poll) Clone() *Poll {
	cp := *p
	cp.Options = append([]Option(nil), p.Options...)
	cp.Submissions = append([]Submission(nil), p.Submissions...)
	if p.StartedAt != nil {
		t := *p.StartedAt
		cp.StartedAt = &t
	}
	if p.CorrectOptionIndex != nil {
		i := *p.CorrectOptionIndex
		cp.CorrectOptionIndex = &i
	}
	return &cp
}
