package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollroom/pollroom/internal/poll"
)

const testSecret = "s3cret"

type closeRecorder struct {
	polls *poll.Lifecycle
	ids   []string
}

func (c *closeRecorder) ClosePoll(ctx context.Context, pollID string) {
	c.ids = append(c.ids, pollID)
	c.polls.Stop(ctx, pollID)
}

func newTestHandler(t *testing.T) (*Handler, *poll.Lifecycle, *closeRecorder) {
	t.Helper()
	lc := poll.NewLifecycle(poll.NewMemoryStore(), clockwork.NewFakeClock())
	closer := &closeRecorder{polls: lc}
	return NewHandler(lc, closer, NewTeacherAuth(testSecret)), lc, closer
}

func do(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("X-Teacher-Secret", testSecret)
	return req
}

func TestCreatePoll(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := `{"question":"Capital of France?","options":["Paris","London"],"duration":30}`
	rec := do(h, authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Poll poll.Poll `json:"poll"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Poll.ID)
	assert.Equal(t, "Capital of France?", resp.Poll.Question)
	assert.False(t, resp.Poll.Active)
	assert.Equal(t, 30, resp.Poll.Duration)
}

func TestCreatePollRejectsInvalidInput(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(h, authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// One option is not a poll.
	rec = do(h, authed(httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(`{"question":"q","options":["only"]}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePollRequiresAuth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerTokenAccepted(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := do(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPoll(t *testing.T) {
	h, lc, _ := newTestHandler(t)

	p, err := lc.CreateDraft(context.Background(), poll.Draft{
		Question: "q", Options: []string{"a", "b"},
	})
	require.NoError(t, err)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/"+p.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Poll    poll.Poll      `json:"poll"`
		Results map[string]int `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, p.ID, resp.Poll.ID)
	assert.Equal(t, map[string]int{"a": 0, "b": 0}, resp.Results)
}

func TestGetPollNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPolls(t *testing.T) {
	h, lc, _ := newTestHandler(t)

	for _, q := range []string{"first", "second"} {
		_, err := lc.CreateDraft(context.Background(), poll.Draft{
			Question: q, Options: []string{"a", "b"},
		})
		require.NoError(t, err)
	}

	rec := do(h, authed(httptest.NewRequest(http.MethodGet, "/", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Polls []poll.Poll `json:"polls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Polls, 2)
}

func TestEndPollRoutesThroughCloser(t *testing.T) {
	h, lc, closer := newTestHandler(t)

	p, _, err := lc.Activate(context.Background(), poll.Draft{
		Question: "q", Options: []string{"a", "b"},
	}, nil)
	require.NoError(t, err)

	rec := do(h, authed(httptest.NewRequest(http.MethodPost, "/"+p.ID+"/end", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{p.ID}, closer.ids)

	var resp struct {
		Poll poll.Poll `json:"poll"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Poll.Active)
}

func TestEndPollNotFound(t *testing.T) {
	h, _, closer := newTestHandler(t)

	rec := do(h, authed(httptest.NewRequest(http.MethodPost, "/missing/end", nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	// The closer is still consulted; ending a missing poll is its no-op.
	assert.Equal(t, []string{"missing"}, closer.ids)
}
