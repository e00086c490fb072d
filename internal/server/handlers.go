package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/mekiki/internal/fault"
	"github.com/ashita-ai/mekiki/internal/model"
	"github.com/ashita-ai/mekiki/internal/service/backlog"
)

// Matcher is the interactive matching surface the HTTP layer exposes.
type Matcher interface {
	Start(ctx context.Context, promptText string) (model.MatchResponse, error)
	Continue(ctx context.Context, sess model.Session, answerText string) (model.MatchResponse, error)
	Finalize(ctx context.Context, sess model.Session, topK, topN *int) (model.MatchResponse, error)
	MatchProfile(ctx context.Context, prof model.RequirementProfile, topK, topN *int) ([]model.MatchResult, error)
}

// Backlogger is the backlog surface the HTTP layer exposes.
type Backlogger interface {
	Report(ctx context.Context, promptText, commentText string) (backlog.Outcome, error)
	Cards(ctx context.Context, limit, offset int) ([]model.CardWithPrompts, error)
}

// Pinger reports database liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SearchHealth reports vector index liveness.
type SearchHealth interface {
	Healthy(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  Pinger
	matchSvc            Matcher
	backlogSvc          Backlogger
	searcher            SearchHealth
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Searcher, OpenAPISpec.
type HandlersDeps struct {
	DB                  Pinger
	MatchSvc            Matcher
	BacklogSvc          Backlogger
	Searcher            SearchHealth
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		matchSvc:            d.MatchSvc,
		backlogSvc:          d.BacklogSvc,
		searcher:            d.Searcher,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleMatchStart handles POST /match/interactive/start.
func (h *Handlers) HandleMatchStart(w http.ResponseWriter, r *http.Request) {
	var req model.MatchStartRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	resp, err := h.matchSvc.Start(r.Context(), req.PromptText)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleMatchContinue handles POST /match/interactive/continue.
func (h *Handlers) HandleMatchContinue(w http.ResponseWriter, r *http.Request) {
	var req model.MatchContinueRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	resp, err := h.matchSvc.Continue(r.Context(), req.Session, req.AnswerText)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleMatchFinalize handles POST /match/interactive/finalize.
func (h *Handlers) HandleMatchFinalize(w http.ResponseWriter, r *http.Request) {
	var req model.MatchFinalizeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	resp, err := h.matchSvc.Finalize(r.Context(), req.Session, req.TopK, req.TopN)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleMatchProfile handles POST /match: one-shot matching against an
// explicit requirement profile.
func (h *Handlers) HandleMatchProfile(w http.ResponseWriter, r *http.Request) {
	var req model.MatchProfileRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	results, err := h.matchSvc.MatchProfile(r.Context(), req.Profile, req.TopK, req.TopN)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, struct {
		Results []model.MatchResult `json:"results"`
	}{Results: results})
}

// HandleBacklogIngest handles POST /backlog/ingest. The caller gets no body
// back; whether the report attached or opened a card is backoffice detail.
func (h *Handlers) HandleBacklogIngest(w http.ResponseWriter, r *http.Request) {
	var req model.BacklogIngestRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if _, err := h.backlogSvc.Report(r.Context(), req.PromptText, req.CommentText); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleBacklogCards handles GET /backlog/cards.
func (h *Handlers) HandleBacklogCards(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fault.Code(fault.InvalidInput), "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fault.Code(fault.InvalidInput), "invalid offset")
		return
	}

	cards, err := h.backlogSvc.Cards(r.Context(), limit, offset)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.CardsResponse{Cards: cards})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := model.HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Postgres: "ok",
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}

	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Postgres = "error"
		status = http.StatusServiceUnavailable
	}
	if h.searcher != nil {
		resp.Qdrant = "ok"
		if err := h.searcher.Healthy(ctx); err != nil {
			resp.Status = "degraded"
			resp.Qdrant = "error"
		}
	}

	writeJSON(w, r, status, resp)
}

// HandleOpenAPISpec handles GET /openapi.yaml.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		writeError(w, r, http.StatusNotFound, fault.Code(fault.Internal), "openapi spec not embedded")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
