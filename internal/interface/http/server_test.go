package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-progress/internal/application/command"
	"github.com/alem-hub/study-progress/internal/application/query"
	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
	"github.com/alem-hub/study-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/study-progress/internal/interface/http/handlers"
	"github.com/alem-hub/study-progress/pkg/clock"
	"github.com/alem-hub/study-progress/pkg/logger"
)

type envelope[T any] struct {
	Success   bool      `json:"success"`
	Data      T         `json:"data"`
	Error     *APIError `json:"error"`
	RequestID string    `json:"request_id"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

var now = time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	catalog, err := progress.NewCatalog([]progress.Badge{{
		ID: "first_steps", Name: "First Steps", Rarity: progress.RarityCommon, XPReward: 50,
		Condition: progress.FieldThreshold{Field: "totalSessions", AtLeast: 1},
	}})
	require.NoError(t, err)

	clk := clock.NewManual(now)
	store := memory.NewStore()
	engine, err := progress.NewEngine(progress.EngineConfig{Catalog: catalog, Clock: clk})
	require.NoError(t, err)

	return NewServer(cfg, Dependencies{
		CompleteSession: command.NewCompleteSessionHandler(engine, store, nil, logger.Nop(),
			command.DefaultCompleteSessionHandlerConfig()),
		GetProgress: query.NewGetProgressHandler(store, catalog, time.UTC, clk),
		Logger:      logger.Nop(),
		Version:     "test",
	})
}

func do(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const sessionBody = `{"user_id":"u1","duration_seconds":5400,"completed_at":"2024-03-01T09:00:00Z","activity_label":"Reading"}`

func TestCompleteSessionThenReadProgress(t *testing.T) {
	h := newTestServer(t, DefaultConfig()).Handler()

	rec := do(h, http.MethodPost, "/api/v1/sessions/completed", sessionBody, map[string]string{"X-Request-ID": "req-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	res := decode[completeSessionResponse](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "req-1", res.RequestID)
	// 15 time + 25 completion + 25 first of day, then 50 from first_steps
	assert.Equal(t, int64(115), res.Data.XPGained)
	assert.Equal(t, int64(65), res.Data.SessionXP)
	assert.Equal(t, []string{"first_steps"}, res.Data.NewlyUnlockedBadgeIDs)
	assert.Equal(t, 1, res.Data.CurrentStreak)
	assert.Equal(t, int64(1), res.Data.Version)
	assert.False(t, res.Data.LeveledUp)

	rec = do(h, http.MethodGet, "/api/v1/users/u1/progress?include_locked=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", rec.Header().Get("Cache-Control"))
	card := decode[query.ProgressDTO](t, rec)
	assert.Equal(t, int64(115), card.Data.XP)
	assert.Equal(t, 1, card.Data.UnlockedBadges)
	assert.Equal(t, []string{"reading"}, card.Data.ActivityTypes)
}

func TestCompleteSession_BadRequests(t *testing.T) {
	h := newTestServer(t, DefaultConfig()).Handler()

	tests := []struct {
		name string
		body string
		code string
	}{
		{"empty body", "", "invalid_request"},
		{"malformed", `{"user_id":`, "invalid_request"},
		{"unknown field", `{"user":"u1"}`, "invalid_request"},
		{"zero duration", `{"user_id":"u1","duration_seconds":0,"completed_at":"2024-03-01T09:00:00Z"}`, "validation_error"},
		{"missing timestamp", `{"user_id":"u1","duration_seconds":60}`, "validation_error"},
		{"huge duration", `{"user_id":"u1","duration_seconds":1000000000000000000,"completed_at":"2024-03-01T09:00:00Z"}`, "validation_error"},
		{"empty user", `{"user_id":"","duration_seconds":60,"completed_at":"2024-03-01T09:00:00Z"}`, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/api/v1/sessions/completed", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			res := decode[json.RawMessage](t, rec)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.code, res.Error.Code)
		})
	}

	rec := do(h, http.MethodGet, "/api/v1/users/nobody/progress", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubCompleter struct{ err error }

func (s stubCompleter) Handle(context.Context, command.CompleteSessionCommand) (*command.CompleteSessionResult, error) {
	return nil, s.err
}

func TestCompleteSession_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"exhausted", fmt.Errorf("complete_session: %w: %w", shared.ErrRetriesExhausted, shared.ErrVersionConflict), http.StatusServiceUnavailable},
		{"timeout", shared.WrapError("store", "Get", shared.ErrTimeout, "store call timed out", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"bare conflict", shared.ErrVersionConflict, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(DefaultConfig(), Dependencies{CompleteSession: stubCompleter{tt.err}, Logger: logger.Nop()})
			rec := do(s.Handler(), http.MethodPost, "/api/v1/sessions/completed", sessionBody, nil)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKeys = []string{"secret"}
	h := newTestServer(t, cfg).Handler()

	rec := do(h, http.MethodPost, "/api/v1/sessions/completed", sessionBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/api/v1/sessions/completed", sessionBody, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/api/v1/sessions/completed", sessionBody, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// probes stay open
	rec = do(h, http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestSizeLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 16
	h := newTestServer(t, cfg).Handler()

	rec := do(h, http.MethodPost, "/api/v1/sessions/completed", sessionBody, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestProbes(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("store", func(context.Context) error { return nil })
	checker.AddOptionalCheck("cache", func(context.Context) error { return errors.New("redis down") })

	s := NewServer(DefaultConfig(), Dependencies{HealthChecker: checker, Logger: logger.Nop()})
	h := s.Handler()

	rec := do(h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	status := decode[handlers.HealthStatus](t, rec)
	assert.False(t, status.Data.Healthy)
	assert.True(t, status.Data.Ready)

	rec = do(h, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	checker.AddCheck("store", func(context.Context) error { return errors.New("db down") })
	rec = do(h, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRecoveryMiddleware(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{Logger: logger.Nop()})
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_RunAndDrain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s := newTestServer(t, cfg)
	assert.Nil(t, s.ListenAddr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Second) }()

	select {
	case <-s.Ready():
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + s.ListenAddr().String() + "/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
