package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mekiki/internal/fault"
	"github.com/ashita-ai/mekiki/internal/model"
	"github.com/ashita-ai/mekiki/internal/ratelimit"
	"github.com/ashita-ai/mekiki/internal/server"
	"github.com/ashita-ai/mekiki/internal/service/backlog"
)

// stubMatcher returns canned responses or a canned error.
type stubMatcher struct {
	resp    model.MatchResponse
	results []model.MatchResult
	err     error
}

func (s stubMatcher) Start(context.Context, string) (model.MatchResponse, error) {
	return s.resp, s.err
}

func (s stubMatcher) Continue(context.Context, model.Session, string) (model.MatchResponse, error) {
	return s.resp, s.err
}

func (s stubMatcher) Finalize(context.Context, model.Session, *int, *int) (model.MatchResponse, error) {
	return s.resp, s.err
}

func (s stubMatcher) MatchProfile(context.Context, model.RequirementProfile, *int, *int) ([]model.MatchResult, error) {
	return s.results, s.err
}

type stubBacklog struct {
	cards []model.CardWithPrompts
	err   error
}

func (s stubBacklog) Report(context.Context, string, string) (backlog.Outcome, error) {
	return backlog.Outcome{CardID: 1}, s.err
}

func (s stubBacklog) Cards(context.Context, int, int) ([]model.CardWithPrompts, error) {
	return s.cards, s.err
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubSearch struct{ err error }

func (s stubSearch) Healthy(context.Context) error { return s.err }

func newTestServer(t *testing.T, cfg server.ServerConfig) *server.Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.DB == nil {
		cfg.DB = stubPinger{}
	}
	if cfg.MatchSvc == nil {
		cfg.MatchSvc = stubMatcher{}
	}
	if cfg.BacklogSvc == nil {
		cfg.BacklogSvc = stubBacklog{}
	}
	if cfg.MaxRequestBodyBytes == 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}
	cfg.Version = "test"
	return server.New(cfg)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMatchStartOK(t *testing.T) {
	question := "Which business areas should the software cover?"
	srv := newTestServer(t, server.ServerConfig{
		MatchSvc: stubMatcher{resp: model.MatchResponse{
			Status:   model.StatusNeedsMore,
			Question: &question,
		}},
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/match/interactive/start",
		model.MatchStartRequest{PromptText: "I need accounting software"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.StatusNeedsMore, resp.Status)
	require.NotNil(t, resp.Question)
	assert.Equal(t, question, *resp.Question)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", fault.New(fault.InvalidInput, "bad"), http.StatusBadRequest, "INVALID_INPUT"},
		{"external service", fault.New(fault.ExternalService, "llm down"), http.StatusBadGateway, "EXTERNAL_SERVICE"},
		{"malformed response", fault.New(fault.MalformedResponse, "bad json"), http.StatusBadGateway, "MALFORMED_RESPONSE"},
		{"storage", fault.New(fault.Storage, "db down"), http.StatusInternalServerError, "STORAGE_ERROR"},
		{"unclassified", fmt.Errorf("plain error"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, server.ServerConfig{
				MatchSvc: stubMatcher{err: tc.err},
			})

			rec := doJSON(t, srv.Handler(), http.MethodPost, "/match/interactive/start",
				model.MatchStartRequest{PromptText: "whatever text here"})
			require.Equal(t, tc.wantStatus, rec.Code)

			var body model.APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantCode, body.Error.Code)
			assert.NotEmpty(t, body.Meta.RequestID)
			assert.False(t, body.Meta.Timestamp.IsZero())
		})
	}
}

func TestMatchStartRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/match/interactive/start",
		map[string]any{"prompt_text": "hello", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchStartRejectsOversizedBody(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{MaxRequestBodyBytes: 64})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/match/interactive/start",
		model.MatchStartRequest{PromptText: strings.Repeat("x", 1024)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMatchProfileOK(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{
		MatchSvc: stubMatcher{results: []model.MatchResult{
			{AppID: 1, Name: "LedgerFox", SimilarityPercent: 92},
		}},
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/match",
		model.MatchProfileRequest{Profile: model.RequirementProfile{LabelsMust: []string{"Accounting"}}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []model.MatchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "LedgerFox", resp.Results[0].Name)
}

func TestBacklogIngestNoContent(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/backlog/ingest",
		model.BacklogIngestRequest{PromptText: "please add CSV export"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestBacklogIngestErrorMapped(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{
		BacklogSvc: stubBacklog{err: fault.New(fault.InvalidInput, "too short")},
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/backlog/ingest",
		model.BacklogIngestRequest{PromptText: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBacklogCards(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{
		BacklogSvc: stubBacklog{cards: []model.CardWithPrompts{
			{Card: model.Card{ID: 1, Title: "CSV export", Status: model.CardStatusActive}},
		}},
	})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/backlog/cards?limit=10&offset=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.CardsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Cards, 1)
	assert.Equal(t, "CSV export", resp.Cards[0].Title)
}

func TestBacklogCardsRejectsBadPaging(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/backlog/cards?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthOK(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{Searcher: stubSearch{}})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Postgres)
	assert.Equal(t, "ok", resp.Qdrant)
	assert.Equal(t, "test", resp.Version)
}

func TestHealthDegraded(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{
		DB: stubPinger{err: fmt.Errorf("connection refused")},
	})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp model.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "error", resp.Postgres)
}

func TestHealthQdrantDegradedOnly(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{
		Searcher: stubSearch{err: fmt.Errorf("grpc unavailable")},
	})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	// Postgres is still up; the service stays reachable.
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "error", resp.Qdrant)
}

func TestOpenAPISpecServed(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{OpenAPISpec: []byte("openapi: 3.0.3\n")})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "openapi:")
}

func TestRateLimitEnforced(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	defer func() { _ = limiter.Close() }()

	srv := newTestServer(t, server.ServerConfig{Limiter: limiter})

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/match/interactive/start",
			strings.NewReader(`{"prompt_text": "I need accounting software"}`))
		req.RemoteAddr = "10.1.1.1:9999"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t, server.ServerConfig{
		MatchSvc: stubMatcher{err: fault.New(fault.InvalidInput, "bad")},
	})

	req := httptest.NewRequest(http.MethodPost, "/match/interactive/start",
		strings.NewReader(`{"prompt_text": "I need accounting software"}`))
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-id", rec.Header().Get("X-Request-ID"))

	var body model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "client-supplied-id", body.Meta.RequestID)
}
