package match

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mekiki/internal/fault"
	"github.com/ashita-ai/mekiki/internal/model"
	"github.com/ashita-ai/mekiki/internal/scoring"
	"github.com/ashita-ai/mekiki/internal/service/llm"
)

// scriptedChat echoes translation requests and replays queued JSON payloads
// for extraction requests.
type scriptedChat struct {
	jsonReplies []string
	calls       int
}

func (s *scriptedChat) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	if !req.JSONMode {
		return req.User, nil
	}
	if s.calls >= len(s.jsonReplies) {
		return "", fmt.Errorf("no scripted reply for call %d", s.calls)
	}
	reply := s.jsonReplies[s.calls]
	s.calls++
	return reply, nil
}

type fixedEmbedder struct {
	vec pgvector.Vector
}

func (f fixedEmbedder) Embed(context.Context, string) (pgvector.Vector, error) {
	return f.vec, nil
}

func (f fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	out := make([]pgvector.Vector, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

func (f fixedEmbedder) Dimensions() int { return len(f.vec.Slice()) }

type fakeStore struct {
	features map[int64]model.AppFeatures
	synonyms map[string][]string
	names    map[int64]string
}

func (f fakeStore) FetchFeatures(_ context.Context, _ []model.AppCandidate) (map[int64]model.AppFeatures, error) {
	return f.features, nil
}

func (f fakeStore) FetchSynonyms(_ context.Context, _ []string) (map[string][]string, error) {
	return f.synonyms, nil
}

func (f fakeStore) FetchAppNames(_ context.Context, _ []int64) (map[int64]string, error) {
	return f.names, nil
}

type fakeCandidates struct {
	cands []model.AppCandidate
}

func (f fakeCandidates) Candidates(context.Context, pgvector.Vector, int) ([]model.AppCandidate, error) {
	return f.cands, nil
}

// recordingCandidates captures the retrieval depth it was asked for.
type recordingCandidates struct {
	cands []model.AppCandidate
	k     int
}

func (r *recordingCandidates) Candidates(_ context.Context, _ pgvector.Vector, k int) ([]model.AppCandidate, error) {
	r.k = k
	return r.cands, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestService(chat llm.Provider, store Store, cands CandidateSource) *Service {
	var emb fixedEmbedder
	emb.vec = pgvector.NewVector([]float32{1, 0, 0})
	return New(llm.NewGateway(chat), emb, store, cands, DefaultThresholds, DefaultDepth, testLogger())
}

func TestStartRejectsBadLength(t *testing.T) {
	svc := newTestService(nil, fakeStore{}, fakeCandidates{})

	_, err := svc.Start(context.Background(), "too short")
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))

	_, err = svc.Start(context.Background(), strings.Repeat("x", model.MaxStartPromptLen+1))
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func TestStartBoundaryLengths(t *testing.T) {
	svc := newTestService(nil, fakeStore{}, fakeCandidates{})

	_, err := svc.Start(context.Background(), strings.Repeat("x", model.MinStartPromptLen))
	assert.NoError(t, err, "exactly min length accepted")

	_, err = svc.Start(context.Background(), strings.Repeat("x", model.MaxStartPromptLen))
	assert.NoError(t, err, "exactly max length accepted")

	_, err = svc.Start(context.Background(), strings.Repeat("x", model.MinStartPromptLen-1))
	assert.Error(t, err)
}

func TestStartDegradedGatewayAsksForLabels(t *testing.T) {
	// Nil chat provider extracts nothing, so the first question targets the
	// highest-priority dimension.
	svc := newTestService(nil, fakeStore{}, fakeCandidates{})

	resp, err := svc.Start(context.Background(), "I need a tool to manage my projects")
	require.NoError(t, err)

	assert.Equal(t, model.StatusNeedsMore, resp.Status)
	require.NotNil(t, resp.Question)
	assert.Contains(t, *resp.Question, "business areas")
	require.NotNil(t, resp.Missing)
	assert.Equal(t, model.Missing{LabelsNeeded: 2, TagsNeeded: 1, IntegrationsNeeded: 1}, *resp.Missing)
	assert.Nil(t, resp.Results)
	assert.False(t, resp.Session.IsValid)

	// The question is recorded as an assistant turn in the continuation.
	require.Len(t, resp.Session.Turns, 2)
	assert.Equal(t, model.RoleAssistant, resp.Session.Turns[1].Role)
	assert.Equal(t, *resp.Question, resp.Session.Turns[1].Text)
}

func TestStartImmediatelyReady(t *testing.T) {
	chat := &scriptedChat{jsonReplies: []string{
		`{"labels": ["CRM", "Analytics"], "tags": ["b2b saas"], "integrations": ["Salesforce"], "price_max": null}`,
	}}
	svc := newTestService(chat, fakeStore{}, fakeCandidates{})

	resp, err := svc.Start(context.Background(), "I need a comprehensive CRM system with analytics for my B2B SaaS company, integrated with Salesforce")
	require.NoError(t, err)

	assert.Equal(t, model.StatusReady, resp.Status)
	assert.True(t, resp.Session.IsValid)
	assert.Nil(t, resp.Question)
	require.NotNil(t, resp.FinalPrompt)
	assert.Contains(t, *resp.FinalPrompt, "User need: ")
	assert.Contains(t, *resp.FinalPrompt, "Extracted labels: CRM, Analytics")
	assert.Nil(t, resp.Results, "results stay null until finalize")
}

func TestContinueAccumulatesAcrossTurns(t *testing.T) {
	chat := &scriptedChat{jsonReplies: []string{
		`{"labels": ["Project Management"], "tags": [], "integrations": [], "price_max": null}`,
		`{"labels": ["Time Tracking"], "tags": ["architecture"], "integrations": [], "price_max": null}`,
		`{"labels": [], "tags": [], "integrations": ["AutoCAD", "Revit"], "price_max": 0}`,
	}}
	svc := newTestService(chat, fakeStore{}, fakeCandidates{})
	ctx := context.Background()

	resp, err := svc.Start(ctx, "I need a tool to manage my projects")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsMore, resp.Status)

	resp, err = svc.Continue(ctx, resp.Session, "I need time tracking and resource planning for my architecture firm")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsMore, resp.Status)
	assert.Contains(t, *resp.Question, "integrate")

	resp, err = svc.Continue(ctx, resp.Session, "It must integrate with AutoCAD and Revit, and it needs to be completely free")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, resp.Status)

	acc := resp.Session.Accumulated
	assert.Equal(t, []string{"Project Management", "Time Tracking"}, acc.Labels)
	assert.Equal(t, []string{"architecture"}, acc.Tags)
	assert.Equal(t, []string{"AutoCAD", "Revit"}, acc.Integrations)
	require.NotNil(t, acc.PriceMax)
	assert.Equal(t, 0.0, *acc.PriceMax)
}

func TestContinueRejectsCompleteSession(t *testing.T) {
	svc := newTestService(nil, fakeStore{}, fakeCandidates{})

	sess := model.Session{
		Turns:   []model.Turn{{Role: model.RoleUser, Text: "hello there friend"}},
		IsValid: true,
	}
	_, err := svc.Continue(context.Background(), sess, "more")
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func TestContinueRejectsCorruptSession(t *testing.T) {
	svc := newTestService(nil, fakeStore{}, fakeCandidates{})

	sess := model.Session{Turns: []model.Turn{{Role: "system", Text: "nope"}}}
	_, err := svc.Continue(context.Background(), sess, "answer")
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func TestContinueRejectsOverlongAnswer(t *testing.T) {
	svc := newTestService(nil, fakeStore{}, fakeCandidates{})

	sess := model.Session{Turns: []model.Turn{{Role: model.RoleUser, Text: "initial prompt here"}}}
	_, err := svc.Continue(context.Background(), sess, strings.Repeat("y", model.MaxAnswerLen+1))
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func validSession() model.Session {
	return model.Session{
		Turns: []model.Turn{{Role: model.RoleUser, Text: "I need accounting software for my bakery"}},
		Accumulated: model.Accumulated{
			Labels:       []string{"Accounting", "Invoicing"},
			Tags:         []string{"sme"},
			Integrations: []string{"Datev"},
		},
		IsValid: true,
	}
}

func TestFinalizeRequiresValidSession(t *testing.T) {
	svc := newTestService(nil, fakeStore{}, fakeCandidates{})

	sess := validSession()
	sess.IsValid = false
	_, err := svc.Finalize(context.Background(), sess, nil, nil)
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func TestFinalizeRejectsBadDepth(t *testing.T) {
	svc := newTestService(nil, fakeStore{}, fakeCandidates{})

	k, n := 10, 20
	_, err := svc.Finalize(context.Background(), validSession(), &k, &n)
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))

	zero := 0
	_, err = svc.Finalize(context.Background(), validSession(), &zero, nil)
	assert.Error(t, err)
}

func TestFinalizeRanksAndFloorsConstraintFailures(t *testing.T) {
	store := fakeStore{
		features: map[int64]model.AppFeatures{
			11: {Labels: []string{"Accounting", "Invoicing"}, IntegrationKeys: []string{"Datev"}, Tags: []string{"sme"}, PriceText: "CHF 29/mo"},
			12: {Labels: []string{"E-commerce"}, IntegrationKeys: []string{"Shopify"}, Tags: []string{"online shop"}, PriceText: "Gratis"},
			13: {Labels: []string{"Accounting", "Invoicing"}, IntegrationKeys: []string{"Datev"}, Tags: []string{}, PriceText: "CHF 99/mo"},
		},
		synonyms: map[string][]string{},
		names:    map[int64]string{1: "LedgerFox", 2: "ShopPilot", 3: "TimeGrid"},
	}
	cands := fakeCandidates{cands: []model.AppCandidate{
		{AppSearchID: 11, AppID: 1, PriceText: "CHF 29/mo", Cosine: 0.9},
		{AppSearchID: 12, AppID: 2, PriceText: "Gratis", Cosine: 0.8},
		{AppSearchID: 13, AppID: 3, PriceText: "CHF 99/mo", Cosine: 0.95},
	}}
	svc := newTestService(nil, store, cands)

	resp, err := svc.Finalize(context.Background(), validSession(), nil, nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	// App 2 lacks the Accounting must-label and is pinned to the floor.
	byID := make(map[int64]model.MatchResult)
	for _, r := range resp.Results {
		byID[r.AppID] = r
	}
	assert.Equal(t, scoring.ConstraintFloorPercent, byID[2].SimilarityPercent)
	assert.Equal(t, "ShopPilot", byID[2].Name)

	// Passing apps rank by hybrid score; both sit well above the floor.
	assert.Greater(t, byID[1].SimilarityPercent, 75)
	assert.Greater(t, byID[3].SimilarityPercent, 75)
	assert.Equal(t, int64(2), resp.Results[2].AppID, "floored app sorts last")

	// App 1 matches the sme tag that app 3 lacks; with close cosines the
	// overlap term decides.
	assert.Greater(t, byID[1].SimilarityPercent+2, byID[3].SimilarityPercent)

	require.NotNil(t, resp.FinalPrompt)
	assert.True(t, strings.HasPrefix(*resp.FinalPrompt, "User need: "))
}

func TestFinalizeFreeConstraint(t *testing.T) {
	store := fakeStore{
		features: map[int64]model.AppFeatures{
			11: {Labels: []string{"Accounting", "Invoicing"}, IntegrationKeys: []string{"Datev"}, Tags: []string{"sme"}, PriceText: "CHF 29/mo"},
			12: {Labels: []string{"Accounting", "Invoicing"}, IntegrationKeys: []string{"Datev"}, Tags: []string{"sme"}, PriceText: "Gratis"},
		},
		names: map[int64]string{1: "PaidBooks", 2: "FreeBooks"},
	}
	cands := fakeCandidates{cands: []model.AppCandidate{
		{AppSearchID: 11, AppID: 1, PriceText: "CHF 29/mo", Cosine: 0.9},
		{AppSearchID: 12, AppID: 2, PriceText: "Gratis", Cosine: 0.9},
	}}
	svc := newTestService(nil, store, cands)

	sess := validSession()
	zero := 0.0
	sess.Accumulated.PriceMax = &zero

	resp, err := svc.Finalize(context.Background(), sess, nil, nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	assert.Equal(t, int64(2), resp.Results[0].AppID, "free app passes the budget")
	assert.Equal(t, scoring.ConstraintFloorPercent, resp.Results[1].SimilarityPercent)
	assert.Equal(t, int64(1), resp.Results[1].AppID)
}

func TestMatchProfileRejectsEmptyProfile(t *testing.T) {
	svc := newTestService(nil, fakeStore{}, fakeCandidates{})

	_, err := svc.MatchProfile(context.Background(), model.RequirementProfile{}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func TestMatchProfileRejectsBuyerTextOnlyProfile(t *testing.T) {
	svc := newTestService(nil, fakeStore{}, fakeCandidates{})

	prof := model.RequirementProfile{BuyerText: "online shop for handmade goods"}
	_, err := svc.MatchProfile(context.Background(), prof, nil, nil)
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func TestFinalizeUsesConfiguredDepth(t *testing.T) {
	store := fakeStore{
		features: map[int64]model.AppFeatures{
			11: {Labels: []string{"Accounting", "Invoicing"}, IntegrationKeys: []string{"Datev"}, Tags: []string{"sme"}, PriceText: "CHF 29/mo"},
			12: {Labels: []string{"Accounting", "Invoicing"}, IntegrationKeys: []string{"Datev"}, Tags: []string{"sme"}, PriceText: "Gratis"},
		},
		names: map[int64]string{1: "PaidBooks", 2: "FreeBooks"},
	}
	cands := &recordingCandidates{cands: []model.AppCandidate{
		{AppSearchID: 11, AppID: 1, PriceText: "CHF 29/mo", Cosine: 0.9},
		{AppSearchID: 12, AppID: 2, PriceText: "Gratis", Cosine: 0.8},
	}}
	var emb fixedEmbedder
	emb.vec = pgvector.NewVector([]float32{1, 0, 0})
	svc := New(llm.NewGateway(nil), emb, store, cands, DefaultThresholds, Depth{TopK: 50, TopN: 1}, testLogger())

	resp, err := svc.Finalize(context.Background(), validSession(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, cands.k, "configured top_k drives retrieval")
	assert.Len(t, resp.Results, 1, "configured top_n caps the results")

	// Request-level values still win over the configured defaults.
	k, n := 20, 2
	resp, err = svc.Finalize(context.Background(), validSession(), &k, &n)
	require.NoError(t, err)
	assert.Equal(t, 20, cands.k)
	assert.Len(t, resp.Results, 2)
}

func TestMatchProfileDirect(t *testing.T) {
	store := fakeStore{
		features: map[int64]model.AppFeatures{
			12: {Labels: []string{"E-commerce"}, IntegrationKeys: []string{"Shopify"}, Tags: []string{"online shop"}, PriceText: "Gratis"},
		},
		names: map[int64]string{2: "ShopPilot"},
	}
	cands := fakeCandidates{cands: []model.AppCandidate{
		{AppSearchID: 12, AppID: 2, PriceText: "Gratis", Cosine: 0.85},
	}}
	svc := newTestService(nil, store, cands)

	prof := model.RequirementProfile{
		BuyerText:  "online shop for handmade goods",
		LabelsMust: []string{"E-commerce"},
	}
	results, err := svc.MatchProfile(context.Background(), prof, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ShopPilot", results[0].Name)
	assert.Greater(t, results[0].SimilarityPercent, 50)
}
