// Package backlog deduplicates feature requests into cards. Each incoming
// prompt is compared against one randomly sampled prompt per active card;
// a close enough match attaches the prompt to that card, anything else
// becomes a new card with model-drafted title and description.
package backlog

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mekiki/internal/fault"
	"github.com/ashita-ai/mekiki/internal/model"
	"github.com/ashita-ai/mekiki/internal/scoring"
	"github.com/ashita-ai/mekiki/internal/service/embedding"
	"github.com/ashita-ai/mekiki/internal/service/llm"
	"github.com/ashita-ai/mekiki/internal/storage"
	"github.com/ashita-ai/mekiki/internal/telemetry"
)

// Store is the card surface the deduplicator needs from Postgres.
type Store interface {
	ActiveCardPrompts(ctx context.Context) ([]model.CardWithPrompts, error)
	ListCards(ctx context.Context, limit, offset int) ([]model.CardWithPrompts, error)
	AttachPrompt(ctx context.Context, cardID int64, promptText, commentText string) error
	CreateCardWithPrompt(ctx context.Context, fields model.CardFields, promptText, commentText string) (model.Card, error)
}

// Outcome reports what a report did to the backlog.
type Outcome struct {
	Attached          bool
	CardID            int64
	SimilarityPercent int
}

// Service runs the dedup pipeline.
type Service struct {
	gateway         *llm.Gateway
	embedder        embedding.Provider
	store           Store
	attachThreshold int
	logger          *slog.Logger

	// intn picks the sampled prompt index per card. Injectable so tests
	// can pin the sample.
	intn func(n int) int

	reports       metric.Int64Counter
	matchDuration metric.Float64Histogram
}

// New creates the deduplicator. attachThreshold is the minimum similarity
// percent for attaching to an existing card.
func New(gateway *llm.Gateway, embedder embedding.Provider, store Store, attachThreshold int, logger *slog.Logger) *Service {
	meter := telemetry.Meter("mekiki/backlog")
	reports, _ := meter.Int64Counter("mekiki.backlog.reports",
		metric.WithDescription("Backlog reports processed, by outcome"),
	)
	matchDur, _ := meter.Float64Histogram("mekiki.backlog.match.duration",
		metric.WithDescription("Time to match a report against active cards (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		gateway:         gateway,
		embedder:        embedder,
		store:           store,
		attachThreshold: attachThreshold,
		logger:          logger,
		intn:            rand.IntN,
		reports:         reports,
		matchDuration:   matchDur,
	}
}

// combineText joins a prompt with its clarifying comment so both inform the
// comparison and the drafted card fields.
func combineText(promptText, commentText string) string {
	if commentText == "" {
		return promptText
	}
	return promptText + "\n" + commentText
}

// Report ingests one feature request. The prompt and comment are stored
// verbatim in their original language; the comparison and card drafting run
// on the English form of prompt plus comment.
func (s *Service) Report(ctx context.Context, promptText, commentText string) (Outcome, error) {
	promptText = strings.TrimSpace(promptText)
	commentText = strings.TrimSpace(commentText)
	if n := utf8.RuneCountInString(promptText); n < model.MinBacklogPrompt || n > model.MaxBacklogPrompt {
		return Outcome{}, fault.Errorf(fault.InvalidInput,
			"prompt_text must be between %d and %d characters", model.MinBacklogPrompt, model.MaxBacklogPrompt)
	}
	if utf8.RuneCountInString(commentText) > model.MaxBacklogComment {
		return Outcome{}, fault.Errorf(fault.InvalidInput,
			"comment_text must be at most %d characters", model.MaxBacklogComment)
	}

	english, err := s.gateway.TranslateToEnglish(ctx, combineText(promptText, commentText))
	if err != nil {
		return Outcome{}, err
	}

	start := time.Now()
	best, err := s.bestMatch(ctx, english)
	if err != nil {
		return Outcome{}, err
	}
	s.matchDuration.Record(ctx, float64(time.Since(start).Milliseconds()))

	if best != nil && best.percent >= s.attachThreshold {
		err := s.store.AttachPrompt(ctx, best.cardID, promptText, commentText)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// The card was retired between sampling and attach; fall
			// through to creating a fresh card.
		case err != nil:
			return Outcome{}, fault.Wrap(fault.Storage, err, "backlog: attach prompt")
		default:
			s.reports.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "attached")))
			s.logger.Info("attached report to card",
				"card_id", best.cardID, "similarity_percent", best.percent)
			return Outcome{Attached: true, CardID: best.cardID, SimilarityPercent: best.percent}, nil
		}
	}

	fields, err := s.gateway.GenerateCardFields(ctx, english)
	if err != nil {
		return Outcome{}, err
	}
	card, err := s.store.CreateCardWithPrompt(ctx, fields, promptText, commentText)
	if err != nil {
		return Outcome{}, fault.Wrap(fault.Storage, err, "backlog: create card")
	}

	s.reports.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "created")))
	s.logger.Info("created backlog card", "card_id", card.ID, "title", card.Title)
	out := Outcome{CardID: card.ID}
	if best != nil {
		out.SimilarityPercent = best.percent
	}
	return out, nil
}

type cardMatch struct {
	cardID  int64
	percent int
}

// bestMatch embeds the report alongside one sampled prompt per active card
// and returns the highest-scoring card, or nil when the backlog is empty.
// Each sample carries its comment, and both sides of each cosine are
// translated to English first.
func (s *Service) bestMatch(ctx context.Context, english string) (*cardMatch, error) {
	cards, err := s.store.ActiveCardPrompts(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.Storage, err, "backlog: load active cards")
	}

	samples := make([]model.SampledPrompt, 0, len(cards))
	for _, c := range cards {
		if len(c.Prompts) == 0 {
			continue
		}
		p := c.Prompts[s.intn(len(c.Prompts))]
		samples = append(samples, model.SampledPrompt{
			CardID:     c.ID,
			PromptText: combineText(p.PromptText, p.CommentText),
		})
	}
	if len(samples) == 0 {
		return nil, nil
	}

	texts := make([]string, 0, len(samples)+1)
	texts = append(texts, english)
	for _, sample := range samples {
		st, err := s.gateway.TranslateToEnglish(ctx, sample.PromptText)
		if err != nil {
			return nil, err
		}
		texts = append(texts, st)
	}

	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fault.Wrap(fault.ExternalService, err, "backlog: embed prompts")
	}
	if len(vecs) != len(texts) {
		return nil, fault.Errorf(fault.MalformedResponse,
			"backlog: embedding batch returned %d vectors for %d texts", len(vecs), len(texts))
	}

	report := vecs[0].Slice()
	var best *cardMatch
	for i, sample := range samples {
		percent := scoring.Percentage(scoring.Cosine(report, vecs[i+1].Slice()))
		if best == nil || percent > best.percent {
			best = &cardMatch{cardID: sample.CardID, percent: percent}
		}
	}
	return best, nil
}

// Cards lists backlog cards with their prompts, newest first.
func (s *Service) Cards(ctx context.Context, limit, offset int) ([]model.CardWithPrompts, error) {
	if limit < 1 || limit > 500 {
		return nil, fault.New(fault.InvalidInput, "limit must be between 1 and 500")
	}
	if offset < 0 {
		return nil, fault.New(fault.InvalidInput, "offset must not be negative")
	}
	cards, err := s.store.ListCards(ctx, limit, offset)
	if err != nil {
		return nil, fault.Wrap(fault.Storage, err, "backlog: list cards")
	}
	if cards == nil {
		cards = []model.CardWithPrompts{}
	}
	return cards, nil
}
