package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pollroom/pollroom/internal/poll"
)

// EventType names a wire event.
type EventType string

// Inbound event types (client -> coordinator).
const (
	EventJoinPoll      EventType = "join_poll"
	EventStartPoll     EventType = "teacher_start_poll"
	EventSubmitAnswer  EventType = "submit_answer"
	EventEndPoll       EventType = "end_poll"
	EventRemoveStudent EventType = "remove_student"
)

// Outbound event types (coordinator -> room).
const (
	EventPollStarted    EventType = "poll_started"
	EventTimeTick       EventType = "time_tick"
	EventPollUpdate     EventType = "poll_update"
	EventPollEnded      EventType = "poll_ended"
	EventUpdateUsers    EventType = "update_users"
	EventStudentRemoved EventType = "student_removed"
	EventDuplicateLogin EventType = "duplicate_login"
	EventPollError      EventType = "poll_error"
	EventSubmitError    EventType = "submit_error"
	EventSubmitSuccess  EventType = "submit_success"
)

// Event is the wire envelope for every message in either direction.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps a payload in an envelope.
func NewEvent(t EventType, now time.Time, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: now,
		Data:      data,
	}, nil
}

// DecodeEvent parses an inbound frame into its envelope. The payload is left
// raw; handlers decode it against their own type.
func DecodeEvent(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("malformed event frame: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("event frame missing type")
	}
	return &e, nil
}

// JoinPayload joins a connection to a room under a display identity.
type JoinPayload struct {
	Room string `json:"room"`
	Role string `json:"role"`
	Name string `json:"name"`
}

// StartPollPayload starts a timed question.
type StartPollPayload struct {
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	Duration           int      `json:"duration"`
	CorrectOptionIndex *int     `json:"correctOptionIndex,omitempty"`
}

// SubmitPayload submits one answer. OptionID may carry an option id or its
// exact text; both are accepted as submission keys.
type SubmitPayload struct {
	PollID      string `json:"pollId"`
	OptionID    string `json:"optionId"`
	StudentName string `json:"studentName"`
}

// EndPollPayload stops a poll early.
type EndPollPayload struct {
	PollID string `json:"pollId"`
}

// RemoveStudentPayload bans a student from the session.
type RemoveStudentPayload struct {
	StudentName string `json:"studentName"`
}

// OptionView is the client-facing shape of one poll option.
type OptionView struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// PollView is the full client-facing poll snapshot carried by poll_started.
// Remaining and Results are always recomputed from current state.
type PollView struct {
	ID                 string         `json:"id"`
	Question           string         `json:"question"`
	Options            []OptionView   `json:"options"`
	CorrectOptionIndex *int           `json:"correctOptionIndex,omitempty"`
	IsActive           bool           `json:"isActive"`
	Duration           int            `json:"duration"`
	Results            map[string]int `json:"results"`
	CreatedAt          time.Time      `json:"createdAt"`
	StartedAt          *time.Time     `json:"startedAt,omitempty"`
	Remaining          int            `json:"remaining"`
}

// NewPollView derives the broadcast snapshot for a poll at the given instant.
func NewPollView(p *poll.Poll, now time.Time) PollView {
	options := make([]OptionView, 0, len(p.Options))
	for _, o := range p.Options {
		options = append(options, OptionView{ID: o.ID, Text: o.Text, Votes: o.Votes})
	}
	return PollView{
		ID:                 p.ID,
		Question:           p.Question,
		Options:            options,
		CorrectOptionIndex: p.CorrectOptionIndex,
		IsActive:           p.Active,
		Duration:           p.Duration,
		Results:            p.Results(),
		CreatedAt:          p.CreatedAt,
		StartedAt:          p.StartedAt,
		Remaining:          p.Remaining(now),
	}
}

// TimeTickPayload is broadcast once per second while a poll is active.
type TimeTickPayload struct {
	PollID    string `json:"pollId"`
	Remaining int    `json:"remaining"`
}

// TallyPayload carries the current results map, keyed by option text. Used by
// poll_update, poll_ended and submit_success.
type TallyPayload struct {
	PollID  string         `json:"pollId"`
	Results map[string]int `json:"results"`
}

// UserView is one entry of the update_users presence snapshot.
type UserView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	HasVoted bool   `json:"hasVoted"`
}

// StudentRemovedPayload targets (and announces) a kicked identity.
type StudentRemovedPayload struct {
	Name string `json:"name"`
}

// ErrorPayload is the shape of every targeted error acknowledgement.
type ErrorPayload struct {
	Message string `json:"message"`
}
