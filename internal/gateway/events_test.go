package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollroom/pollroom/internal/poll"
)

func TestDecodeEvent(t *testing.T) {
	e, err := NewEvent(EventSubmitAnswer, time.Now(), SubmitPayload{PollID: "p1", OptionID: "Paris"})
	require.NoError(t, err)
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	decoded, err := DecodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, EventSubmitAnswer, decoded.Type)

	var p SubmitPayload
	require.NoError(t, json.Unmarshal(decoded.Data, &p))
	assert.Equal(t, "p1", p.PollID)
	assert.Equal(t, "Paris", p.OptionID)
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, err := DecodeEvent([]byte("{not json"))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"data":{}}`))
	assert.Error(t, err, "missing type must be rejected")
}

func TestNewPollViewRecomputesDerivedFields(t *testing.T) {
	now := time.Now()
	p := poll.NewPoll("lobby", "Capital of France?", []string{"Paris", "London"}, 10, now)
	p.Active = true
	p.StartedAt = &now
	p.Options[0].Votes = 2

	view := NewPollView(p, now.Add(3*time.Second))
	assert.Equal(t, 7, view.Remaining)
	assert.Equal(t, map[string]int{"Paris": 2, "London": 0}, view.Results)
	require.Len(t, view.Options, 2)
	assert.Equal(t, "Paris", view.Options[0].Text)
	assert.True(t, view.IsActive)
}
