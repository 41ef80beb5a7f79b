package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pollroom/pollroom/internal/countdown"
	"github.com/pollroom/pollroom/internal/poll"
	"github.com/pollroom/pollroom/internal/session"
)

// DefaultRoom is where every session currently runs; the protocol is
// room-parameterized but clients that send no room land here.
const DefaultRoom = "lobby"

// kickGrace is how long a kicked connection keeps its socket so the targeted
// student_removed event can be flushed before the force-disconnect.
const kickGrace = 500 * time.Millisecond

// Broadcaster is what the coordinator needs from the transport layer.
// *ConnectionManager implements it; tests substitute a recorder.
type Broadcaster interface {
	ToRoom(room string, event *Event)
	ToConn(connID string, event *Event)
	JoinRoom(connID, room string)
	Disconnect(connID string)
}

// AuthorizeFunc decides whether a member may perform presenter-only
// operations. It stands in for an external authorization collaborator.
type AuthorizeFunc func(m session.Member) bool

// RoleIsTeacher authorizes by the role the member joined with.
func RoleIsTeacher(m session.Member) bool {
	return m.Role == session.RoleTeacher
}

// Coordinator is the single translation point between wire events and the
// live session state. Every inbound event is decoded and validated here
// before it touches the registry, the membership tracker or the poll
// lifecycle, and every state change leaves through here as a room broadcast.
type Coordinator struct {
	base      context.Context
	registry  *session.Registry
	rooms     *session.Rooms
	polls     *poll.Lifecycle
	sched     *countdown.Scheduler
	bcast     Broadcaster
	clock     clockwork.Clock
	authorize AuthorizeFunc
}

// NewCoordinator wires the live session coordinator. base outlives any single
// connection; countdown timers are bound to it.
func NewCoordinator(base context.Context, registry *session.Registry, rooms *session.Rooms, polls *poll.Lifecycle, bcast Broadcaster, clock clockwork.Clock) *Coordinator {
	c := &Coordinator{
		base:      base,
		registry:  registry,
		rooms:     rooms,
		polls:     polls,
		bcast:     bcast,
		clock:     clock,
		authorize: RoleIsTeacher,
	}
	c.sched = countdown.New(polls, clock, countdown.Hooks{
		Tick:   c.broadcastTick,
		Expire: c.ClosePoll,
	})
	return c
}

// SetAuthorizer overrides the presenter authorization collaborator.
func (c *Coordinator) SetAuthorizer(fn AuthorizeFunc) { c.authorize = fn }

// HandleEvent decodes one inbound frame and dispatches it. Malformed or
// unknown frames produce a targeted error event; they never take the session
// down.
func (c *Coordinator) HandleEvent(connID string, raw []byte) {
	e, err := DecodeEvent(raw)
	if err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Msg("rejecting malformed frame")
		c.emit(connID, "", EventPollError, ErrorPayload{Message: "Malformed event"})
		return
	}

	switch e.Type {
	case EventJoinPoll:
		var p JoinPayload
		if !c.decode(connID, e, &p, EventPollError) {
			return
		}
		c.handleJoin(connID, p)
	case EventStartPoll:
		var p StartPollPayload
		if !c.decode(connID, e, &p, EventPollError) {
			return
		}
		c.handleStartPoll(connID, p)
	case EventSubmitAnswer:
		var p SubmitPayload
		if !c.decode(connID, e, &p, EventSubmitError) {
			return
		}
		c.handleSubmit(connID, p)
	case EventEndPoll:
		var p EndPollPayload
		if !c.decode(connID, e, &p, EventPollError) {
			return
		}
		c.handleEndPoll(connID, p)
	case EventRemoveStudent:
		var p RemoveStudentPayload
		if !c.decode(connID, e, &p, EventPollError) {
			return
		}
		c.handleRemoveStudent(connID, p)
	default:
		log.Debug().Str("type", string(e.Type)).Str("conn_id", connID).Msg("ignoring unknown event type")
	}
}

// HandleDisconnect cleans up membership for a dropped connection. Transport
// loss is never an error; it only updates presence.
func (c *Coordinator) HandleDisconnect(connID string) {
	c.registry.Leave(connID)
	if room, ok := c.rooms.Leave(connID); ok {
		c.broadcastUsers(room)
	}
}

func (c *Coordinator) handleJoin(connID string, p JoinPayload) {
	room := p.Room
	if room == "" {
		room = DefaultRoom
	}
	role := session.RoleStudent
	if session.Role(p.Role) == session.RoleTeacher {
		role = session.RoleTeacher
	}

	id, err := c.registry.Join(p.Name, role, connID)
	switch {
	case errors.Is(err, session.ErrBanned):
		log.Info().Str("name", p.Name).Msg("banned identity tried to rejoin")
		c.emit(connID, "", EventStudentRemoved, StudentRemovedPayload{Name: p.Name})
		return
	case errors.Is(err, session.ErrDuplicateIdentity):
		c.emit(connID, "", EventDuplicateLogin, ErrorPayload{Message: "This name is already in use"})
		return
	}

	name := id.Name
	if name == "" {
		name = "Anonymous"
	}
	c.rooms.Join(room, session.Member{ConnID: connID, Name: name, Role: role})
	c.bcast.JoinRoom(connID, room)
	c.broadcastUsers(room)

	// A late joiner gets the running poll immediately, timer included.
	active, err := c.polls.Active(c.base)
	if err != nil {
		if !errors.Is(err, poll.ErrNotFound) {
			log.Error().Err(err).Msg("failed to look up active poll on join")
		}
		return
	}
	c.emit(connID, "", EventPollStarted, NewPollView(active, c.clock.Now()))
	c.sched.Start(c.base, active.ID)
}

func (c *Coordinator) handleStartPoll(connID string, p StartPollPayload) {
	member, ok := c.rooms.Member(connID)
	if !ok || !c.authorize(member) {
		c.emit(connID, "", EventPollError, ErrorPayload{Message: "Not authorized to start a poll"})
		return
	}
	room, _ := c.rooms.Room(connID)

	draft := poll.Draft{
		Room:               room,
		Question:           p.Question,
		Options:            p.Options,
		DurationSec:        p.Duration,
		CorrectOptionIndex: p.CorrectOptionIndex,
		CreatedBy:          member.Name,
	}
	started, superseded, err := c.polls.Activate(c.base, draft, c.rooms.CountStudents)
	switch {
	case errors.Is(err, poll.ErrInvalidPoll):
		c.emit(connID, "", EventPollError, ErrorPayload{Message: "Invalid poll data"})
		return
	case errors.Is(err, poll.ErrActivePollExists):
		c.emit(connID, "", EventPollError, ErrorPayload{
			Message: "Active poll exists. Wait until it finishes or all students have answered.",
		})
		return
	case err != nil:
		log.Error().Err(err).Msg("failed to start poll")
		c.emit(connID, "", EventPollError, ErrorPayload{Message: "Server error starting poll"})
		return
	}

	if superseded != nil {
		c.sched.Cancel(superseded.ID)
		c.emit("", superseded.Room, EventPollEnded, TallyPayload{PollID: superseded.ID, Results: superseded.Results()})
	}

	c.emit("", room, EventPollStarted, NewPollView(started, c.clock.Now()))
	c.broadcastUsers(room)
	c.sched.Start(c.base, started.ID)
}

func (c *Coordinator) handleSubmit(connID string, p SubmitPayload) {
	if p.PollID == "" {
		c.emit(connID, "", EventSubmitError, ErrorPayload{Message: "Missing pollId"})
		return
	}

	// The normalized name attributes the vote; connections that joined
	// anonymously fall back to their connection handle.
	key := session.Normalize(p.StudentName)
	if key == "" {
		key = connID
	}

	// The lifecycle matches the submitter's room against the poll's and
	// recounts the poll room's own students for the full-response rule.
	room, _ := c.rooms.Room(connID)
	pl, ended, err := c.polls.Submit(c.base, p.PollID, key, p.StudentName, p.OptionID, room, c.rooms.CountStudents)
	switch {
	case errors.Is(err, poll.ErrNoActivePoll):
		c.emit(connID, "", EventSubmitError, ErrorPayload{Message: "No active poll"})
		return
	case errors.Is(err, poll.ErrAlreadyAnswered):
		c.emit(connID, "", EventSubmitError, ErrorPayload{Message: "Already answered"})
		return
	case errors.Is(err, poll.ErrInvalidOption):
		c.emit(connID, "", EventSubmitError, ErrorPayload{Message: "Invalid option"})
		return
	case err != nil:
		log.Error().Err(err).Str("poll_id", p.PollID).Msg("failed to record answer")
		c.emit(connID, "", EventSubmitError, ErrorPayload{Message: "Server error submitting answer"})
		return
	}

	tally := TallyPayload{PollID: pl.ID, Results: pl.Results()}
	c.emit("", pl.Room, EventPollUpdate, tally)
	c.broadcastUsers(pl.Room)

	if ended {
		// Last connected student answered; close now, don't wait for the tick.
		c.sched.Cancel(pl.ID)
		c.emit("", pl.Room, EventPollEnded, tally)
	} else {
		c.emit(connID, "", EventSubmitSuccess, tally)
	}
}

func (c *Coordinator) handleEndPoll(connID string, p EndPollPayload) {
	member, ok := c.rooms.Member(connID)
	if !ok || !c.authorize(member) {
		c.emit(connID, "", EventPollError, ErrorPayload{Message: "Not authorized to end a poll"})
		return
	}
	if p.PollID == "" {
		return
	}
	c.ClosePoll(c.base, p.PollID)
}

// ClosePoll is the explicit-stop closure path, shared with the countdown's
// expiry hook and the REST end endpoint. Stopping an already-closed or
// missing poll is a no-op with no extra broadcast.
func (c *Coordinator) ClosePoll(ctx context.Context, pollID string) {
	p, ended, err := c.polls.Stop(ctx, pollID)
	if err != nil {
		log.Error().Err(err).Str("poll_id", pollID).Msg("failed to stop poll")
		return
	}
	if !ended {
		return
	}
	c.sched.Cancel(pollID)
	c.emit("", p.Room, EventPollEnded, TallyPayload{PollID: p.ID, Results: p.Results()})
	c.broadcastUsers(p.Room)
}

func (c *Coordinator) handleRemoveStudent(connID string, p RemoveStudentPayload) {
	member, ok := c.rooms.Member(connID)
	if !ok || !c.authorize(member) {
		c.emit(connID, "", EventPollError, ErrorPayload{Message: "Not authorized to remove a student"})
		return
	}
	if p.StudentName == "" {
		return
	}

	id, live := c.registry.Ban(p.StudentName)
	if live {
		c.emit(id.ConnID, "", EventStudentRemoved, StudentRemovedPayload{Name: p.StudentName})
		// Give the write pump a moment to flush the notice before the socket
		// is torn down.
		target := id.ConnID
		go func() {
			select {
			case <-c.clock.After(kickGrace):
				c.bcast.Disconnect(target)
			case <-c.base.Done():
			}
		}()
	}

	room, _ := c.rooms.Room(connID)
	if room == "" {
		room = DefaultRoom
	}
	c.broadcastUsers(room)
}

// broadcastTick is the countdown's per-second hook.
func (c *Coordinator) broadcastTick(p *poll.Poll, remaining int) {
	c.emit("", p.Room, EventTimeTick, TimeTickPayload{PollID: p.ID, Remaining: remaining})
}

// broadcastUsers sends the presence snapshot for a room, with each member's
// has-voted status joined against the active poll's submissions.
func (c *Coordinator) broadcastUsers(room string) {
	members := c.rooms.List(room)

	var active *poll.Poll
	if p, err := c.polls.Active(c.base); err == nil {
		active = p
	} else if !errors.Is(err, poll.ErrNotFound) {
		log.Error().Err(err).Msg("failed to look up active poll for presence")
	}

	users := make([]UserView, 0, len(members))
	for _, m := range members {
		hasVoted := false
		if active != nil {
			key := session.Normalize(m.Name)
			if key == "" {
				key = m.ConnID
			}
			hasVoted = active.HasSubmission(key) || active.HasSubmission(m.ConnID)
		}
		users = append(users, UserView{
			ID:       m.ConnID,
			Name:     m.Name,
			Role:     string(m.Role),
			HasVoted: hasVoted,
		})
	}
	sortUsers(users)
	c.emit("", room, EventUpdateUsers, users)
}

// sortUsers orders the presence snapshot deterministically.
func sortUsers(users []UserView) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
}

// decode unmarshals an event payload, answering with errType on failure.
func (c *Coordinator) decode(connID string, e *Event, dst any, errType EventType) bool {
	if len(e.Data) == 0 {
		c.emit(connID, "", errType, ErrorPayload{Message: "Missing event payload"})
		return false
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		log.Warn().Err(err).Str("type", string(e.Type)).Str("conn_id", connID).Msg("rejecting malformed payload")
		c.emit(connID, "", errType, ErrorPayload{Message: "Malformed payload"})
		return false
	}
	return true
}

// emit sends an event to one connection (connID set) or a whole room.
func (c *Coordinator) emit(connID, room string, t EventType, payload any) {
	e, err := NewEvent(t, c.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to build event")
		return
	}
	if connID != "" {
		c.bcast.ToConn(connID, e)
		return
	}
	c.bcast.ToRoom(room, e)
}
