package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookbridge/bookbridge/internal/rotation"
	"github.com/bookbridge/bookbridge/internal/store"
)

type fakeRunner struct {
	run       store.Run
	err       error
	lastDebug bool
}

func (f *fakeRunner) Run(_ context.Context, debug bool) (store.Run, error) {
	f.lastDebug = debug
	if f.err != nil {
		return store.Run{}, f.err
	}
	return f.run, nil
}

type fakeLeaser struct {
	lease rotation.Lease
	err   error
}

func (f *fakeLeaser) Lease(context.Context) (rotation.Lease, error) {
	return f.lease, f.err
}

type fakeRuns struct {
	runs []store.Run
	err  error
}

func (f *fakeRuns) ListRuns(context.Context, int) ([]store.Run, error) {
	return f.runs, f.err
}

func newTestServer(t *testing.T, cfg Config, runner *fakeRunner, leaser *fakeLeaser, runs *fakeRuns) *Server {
	t.Helper()
	if runner == nil {
		runner = &fakeRunner{}
	}
	if leaser == nil {
		leaser = &fakeLeaser{}
	}
	if runs == nil {
		runs = &fakeRuns{}
	}
	return NewServer(cfg, runner, leaser, runs, zap.NewNop())
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Config{}, nil, nil, nil)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSync(t *testing.T) {
	runner := &fakeRunner{run: store.Run{
		ID:           uuid.New(),
		Status:       store.StatusSucceeded,
		Reservations: 3,
		StartedAt:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}}
	s := newTestServer(t, Config{}, runner, nil, nil)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync?debug=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, runner.lastDebug)

	var run store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, 3, run.Reservations)
}

func TestSyncErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"no endpoints", rotation.ErrNoEndpoints, http.StatusServiceUnavailable},
		{"no credentials", rotation.ErrNoCredentials, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"site failure", errors.New("login rejected"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, Config{}, &fakeRunner{err: tc.err}, nil, nil)

			rec := httptest.NewRecorder()
			s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestLeaseHidesCredentials(t *testing.T) {
	leaser := &fakeLeaser{lease: rotation.Lease{
		Server:   "p1.example.com:1000",
		Username: "alice",
		Password: "s3cret",
		GroupID:  "account1",
	}}
	s := newTestServer(t, Config{}, nil, leaser, nil)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proxy/lease", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "p1.example.com:1000")
	assert.Contains(t, body, "account1")
	assert.NotContains(t, body, "s3cret")
	assert.NotContains(t, body, "alice")
}

func TestRuns(t *testing.T) {
	runs := &fakeRuns{runs: []store.Run{{ID: uuid.New(), Status: store.StatusSucceeded}}}
	s := newTestServer(t, Config{}, nil, nil, runs)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Len(t, payload.Runs, 1)
}

func TestAPIKeyGuard(t *testing.T) {
	s := newTestServer(t, Config{APIKey: "sesame"}, nil, nil, nil)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync", nil)
	req.Header.Set("X-API-Key", "sesame")
	rec = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	rec = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
