package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/taskmirror/internal/taskmirror"
)

type fakeMirror struct {
	state      taskmirror.State
	alerts     []taskmirror.Alert
	selected   string
	answered   []string
	refreshed  int
	refreshErr error
}

func (m *fakeMirror) Snapshot() taskmirror.State   { return m.state }
func (m *fakeMirror) Alerts() []taskmirror.Alert   { return m.alerts }
func (m *fakeMirror) DismissAlert(id string) bool  { return id == "known" }
func (m *fakeMirror) ActivateAlert(id string) bool { return id == "known" }
func (m *fakeMirror) Select(_ context.Context, taskID string) {
	m.selected = taskID
}
func (m *fakeMirror) RefreshTasks(context.Context) error {
	m.refreshed++
	return m.refreshErr
}
func (m *fakeMirror) RefreshStats(context.Context) error {
	m.refreshed++
	return m.refreshErr
}
func (m *fakeMirror) AnswerQuestion(_ context.Context, taskID, questionID, answer string) error {
	m.answered = append(m.answered, taskID+"/"+questionID+"="+answer)
	return nil
}

func doRequest(t *testing.T, server *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	server := NewServerWithConfig(&fakeMirror{}, ServerConfig{APIToken: "secret"})
	rec := doRequest(t, server, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerTokenIsEnforced(t *testing.T) {
	server := NewServerWithConfig(&fakeMirror{}, ServerConfig{APIToken: "secret"})

	rec := doRequest(t, server, http.MethodGet, "/v1/state", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/v1/state", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/v1/state", "secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStateEndpointReturnsSnapshot(t *testing.T) {
	mirror := &fakeMirror{state: taskmirror.State{
		Tasks:      []taskmirror.Task{{ID: "t1", Title: "visible", Status: taskmirror.StatusPending}},
		SelectedID: "t1",
		Seq:        12,
		Connected:  true,
	}}
	server := NewServer(mirror)

	rec := doRequest(t, server, http.MethodGet, "/v1/state", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state taskmirror.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, uint64(12), state.Seq)
	assert.True(t, state.Connected)
	require.Len(t, state.Tasks, 1)
}

func TestAlertRoutes(t *testing.T) {
	mirror := &fakeMirror{alerts: []taskmirror.Alert{{ID: "known", Kind: taskmirror.AlertSuccess, TaskID: "t1"}}}
	server := NewServer(mirror)

	rec := doRequest(t, server, http.MethodGet, "/v1/alerts", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "known")

	rec = doRequest(t, server, http.MethodPost, "/v1/alerts/known/dismiss", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/v1/alerts/ghost/dismiss", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/v1/alerts/known/activate", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSelectRoute(t *testing.T) {
	mirror := &fakeMirror{}
	server := NewServer(mirror)

	rec := doRequest(t, server, http.MethodPost, "/v1/select", "", `{"taskId":"t7"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t7", mirror.selected)

	rec = doRequest(t, server, http.MethodPost, "/v1/select", "", `{bad json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshRoute(t *testing.T) {
	mirror := &fakeMirror{}
	server := NewServer(mirror)

	rec := doRequest(t, server, http.MethodPost, "/v1/refresh", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, mirror.refreshed)

	mirror.refreshErr = taskmirror.ErrNotFound
	rec = doRequest(t, server, http.MethodPost, "/v1/refresh", "", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAnswerRoute(t *testing.T) {
	mirror := &fakeMirror{}
	server := NewServer(mirror)

	rec := doRequest(t, server, http.MethodPost, "/v1/tasks/t1/questions/q1/answer", "", `{"answer":"option a"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"t1/q1=option a"}, mirror.answered)

	rec = doRequest(t, server, http.MethodPost, "/v1/tasks/t1/questions/q1/answer", "", `{"answer":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	server := NewServer(&fakeMirror{})
	rec := doRequest(t, server, http.MethodGet, "/v1/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	server := NewServerWithConfig(&fakeMirror{}, ServerConfig{RateLimitMax: 2})

	req := func() int {
		r := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, r)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, req())
	assert.Equal(t, http.StatusOK, req())
	third := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	server.ServeHTTP(third, r)
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
}
