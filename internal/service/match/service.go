// Package match implements the interactive buyer-to-application matcher:
// a multi-turn dialog that accumulates a structured requirement profile
// from free-form prompts, asks clarifying questions until the profile
// crosses its completeness thresholds, and then ranks the catalog with the
// hybrid scorer.
//
// Both the HTTP API and the MCP server delegate here, so dialog semantics
// and scoring stay identical across interfaces.
package match

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mekiki/internal/fault"
	"github.com/ashita-ai/mekiki/internal/model"
	"github.com/ashita-ai/mekiki/internal/service/embedding"
	"github.com/ashita-ai/mekiki/internal/service/llm"
	"github.com/ashita-ai/mekiki/internal/telemetry"
)

// Store is the catalog read surface the matcher needs from Postgres.
type Store interface {
	FetchFeatures(ctx context.Context, cands []model.AppCandidate) (map[int64]model.AppFeatures, error)
	FetchSynonyms(ctx context.Context, labels []string) (map[string][]string, error)
	FetchAppNames(ctx context.Context, appIDs []int64) (map[int64]string, error)
}

// CandidateSource retrieves the nearest catalog applications for a buyer
// embedding. Implemented by storage.DB (pgvector) and search.QdrantIndex.
type CandidateSource interface {
	Candidates(ctx context.Context, embedding pgvector.Vector, k int) ([]model.AppCandidate, error)
}

// Depth is the retrieval depth applied when a request omits top_k or top_n:
// TopK candidates are retrieved and the best TopN are returned.
type Depth struct {
	TopK int
	TopN int
}

// DefaultDepth is used when no depth is configured.
var DefaultDepth = Depth{TopK: model.DefaultTopK, TopN: model.DefaultTopN}

// Service drives the start/continue/finalize dialog.
type Service struct {
	gateway    *llm.Gateway
	embedder   embedding.Provider
	store      Store
	candidates CandidateSource
	thresholds Thresholds
	depth      Depth
	logger     *slog.Logger

	embeddingDuration metric.Float64Histogram
	searchDuration    metric.Float64Histogram
	sessionsReady     metric.Int64Counter
}

// New creates the matcher. candidates may be the database itself or a
// vector index layered over it. A zero depth falls back to DefaultDepth.
func New(gateway *llm.Gateway, embedder embedding.Provider, store Store, candidates CandidateSource, th Thresholds, depth Depth, logger *slog.Logger) *Service {
	meter := telemetry.Meter("mekiki/match")
	embDur, _ := meter.Float64Histogram("mekiki.match.embedding.duration",
		metric.WithDescription("Time to generate buyer embeddings (ms)"),
		metric.WithUnit("ms"),
	)
	searchDur, _ := meter.Float64Histogram("mekiki.match.search.duration",
		metric.WithDescription("Time to retrieve candidates (ms)"),
		metric.WithUnit("ms"),
	)
	ready, _ := meter.Int64Counter("mekiki.match.sessions_ready",
		metric.WithDescription("Sessions that crossed the completeness thresholds"),
	)
	if depth.TopK < 1 {
		depth.TopK = model.DefaultTopK
	}
	if depth.TopN < 1 {
		depth.TopN = model.DefaultTopN
	}
	return &Service{
		gateway:           gateway,
		embedder:          embedder,
		store:             store,
		candidates:        candidates,
		thresholds:        th,
		depth:             depth,
		logger:            logger,
		embeddingDuration: embDur,
		searchDuration:    searchDur,
		sessionsReady:     ready,
	}
}

// Start opens a new dialog from the buyer's first prompt.
func (s *Service) Start(ctx context.Context, promptText string) (model.MatchResponse, error) {
	promptText = strings.TrimSpace(promptText)
	if n := utf8.RuneCountInString(promptText); n < model.MinStartPromptLen || n > model.MaxStartPromptLen {
		return model.MatchResponse{}, fault.Errorf(fault.InvalidInput,
			"prompt_text must be between %d and %d characters", model.MinStartPromptLen, model.MaxStartPromptLen)
	}

	sess := model.Session{}
	return s.advance(ctx, sess, promptText)
}

// Continue appends one buyer answer to an in-flight session. A session that
// is already valid cannot be continued; the client should finalize instead.
func (s *Service) Continue(ctx context.Context, sess model.Session, answerText string) (model.MatchResponse, error) {
	if err := sess.CheckShape(); err != nil {
		return model.MatchResponse{}, fault.Wrap(fault.InvalidInput, err, "invalid session")
	}
	if sess.IsValid {
		return model.MatchResponse{}, fault.New(fault.InvalidInput, "session is already complete; call finalize")
	}
	if len(sess.UserTurns()) == 0 {
		return model.MatchResponse{}, fault.New(fault.InvalidInput, "session has no initial prompt")
	}

	answerText = strings.TrimSpace(answerText)
	if n := utf8.RuneCountInString(answerText); n < model.MinAnswerLen || n > model.MaxAnswerLen {
		return model.MatchResponse{}, fault.Errorf(fault.InvalidInput,
			"answer_text must be between %d and %d characters", model.MinAnswerLen, model.MaxAnswerLen)
	}

	return s.advance(ctx, sess, answerText)
}

// advance translates one buyer turn, extracts its requirement delta, merges
// it, and branches on validity: a ready session gets its final prompt, an
// incomplete one gets the next clarifying question.
func (s *Service) advance(ctx context.Context, sess model.Session, turnText string) (model.MatchResponse, error) {
	english, err := s.gateway.TranslateToEnglish(ctx, turnText)
	if err != nil {
		return model.MatchResponse{}, err
	}
	// Turns carry the English form so the composed final prompt and every
	// later extraction stay in one language.
	sess.Turns = append(sess.Turns, model.Turn{Role: model.RoleUser, Text: english})

	delta, err := s.gateway.ExtractRequirements(ctx, english, labelCatalog)
	if err != nil {
		return model.MatchResponse{}, err
	}
	sess.Accumulated = mergeDelta(sess.Accumulated, delta)
	sess = revalidate(sess, s.thresholds)

	if sess.IsValid {
		s.sessionsReady.Add(ctx, 1)
		fp := composeFinalPrompt(sess)
		return model.MatchResponse{
			Status:      model.StatusReady,
			Session:     sess,
			FinalPrompt: &fp,
		}, nil
	}

	question := nextQuestion(sess.Missing, len(sess.UserTurns()))
	sess.Turns = append(sess.Turns, model.Turn{Role: model.RoleAssistant, Text: question})
	missing := sess.Missing
	return model.MatchResponse{
		Status:   model.StatusNeedsMore,
		Session:  sess,
		Question: &question,
		Missing:  &missing,
	}, nil
}

// Finalize ranks the catalog against a completed session.
func (s *Service) Finalize(ctx context.Context, sess model.Session, topK, topN *int) (model.MatchResponse, error) {
	if err := sess.CheckShape(); err != nil {
		return model.MatchResponse{}, fault.Wrap(fault.InvalidInput, err, "invalid session")
	}
	if !sess.IsValid {
		return model.MatchResponse{}, fault.New(fault.InvalidInput, "session is not complete; answer the open questions first")
	}
	if len(sess.UserTurns()) == 0 {
		return model.MatchResponse{}, fault.New(fault.InvalidInput, "session has no user turns")
	}

	k, n, err := s.resolveDepth(topK, topN)
	if err != nil {
		return model.MatchResponse{}, err
	}

	fp := composeFinalPrompt(sess)
	prof := buildProfile(sess, fp)
	prof.Notes = sessionNotes(sess)

	results, err := s.rank(ctx, prof, k, n)
	if err != nil {
		return model.MatchResponse{}, err
	}

	s.logger.Info("finalized match session",
		"turns", len(sess.UserTurns()),
		"labels", len(sess.Accumulated.Labels),
		"results", len(results),
	)
	return model.MatchResponse{
		Status:      model.StatusReady,
		Session:     sess,
		FinalPrompt: &fp,
		Results:     results,
	}, nil
}

// MatchProfile ranks the catalog against an explicit requirement profile,
// bypassing the dialog entirely.
func (s *Service) MatchProfile(ctx context.Context, prof model.RequirementProfile, topK, topN *int) ([]model.MatchResult, error) {
	// Buyer text alone is not a profile; at least one requirement array
	// must carry a value.
	if prof.Empty() {
		return nil, fault.New(fault.InvalidInput, "profile must state at least one requirement")
	}
	k, n, err := s.resolveDepth(topK, topN)
	if err != nil {
		return nil, err
	}
	return s.rank(ctx, prof, k, n)
}

// maxTopK bounds retrieval depth; anything beyond this is a client mistake.
const maxTopK = 200

func (s *Service) resolveDepth(topK, topN *int) (int, int, error) {
	k, n := s.depth.TopK, s.depth.TopN
	if topK != nil {
		k = *topK
	}
	if topN != nil {
		n = *topN
	}
	if k < 1 || k > maxTopK {
		return 0, 0, fault.Errorf(fault.InvalidInput, "top_k must be between 1 and %d", maxTopK)
	}
	if n < 1 || n > k {
		return 0, 0, fault.New(fault.InvalidInput, "top_n must be between 1 and top_k")
	}
	return k, n, nil
}
