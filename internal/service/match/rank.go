package match

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ashita-ai/mekiki/internal/fault"
	"github.com/ashita-ai/mekiki/internal/model"
	"github.com/ashita-ai/mekiki/internal/scoring"
)

// rank runs the retrieval and scoring pipeline for one requirement profile:
// embed the buyer text, pull top-k nearest catalog rows, batch-fetch their
// features and the must-label synonyms, apply hard constraints, score the
// survivors, and return the top-n results by descending similarity.
func (s *Service) rank(ctx context.Context, prof model.RequirementProfile, topK, topN int) ([]model.MatchResult, error) {
	text := prof.BuyerText
	if strings.TrimSpace(text) == "" {
		text = profileText(prof)
	}

	embedStart := time.Now()
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fault.Wrap(fault.ExternalService, err, "match: embed buyer text")
	}
	s.embeddingDuration.Record(ctx, float64(time.Since(embedStart).Milliseconds()))

	searchStart := time.Now()
	cands, err := s.candidates.Candidates(ctx, vec, topK)
	if err != nil {
		return nil, fault.Wrap(fault.Storage, err, "match: fetch candidates")
	}
	s.searchDuration.Record(ctx, float64(time.Since(searchStart).Milliseconds()))
	if len(cands) == 0 {
		return []model.MatchResult{}, nil
	}

	feats, err := s.store.FetchFeatures(ctx, cands)
	if err != nil {
		return nil, fault.Wrap(fault.Storage, err, "match: fetch features")
	}
	syns, err := s.store.FetchSynonyms(ctx, prof.LabelsMust)
	if err != nil {
		return nil, fault.Wrap(fault.Storage, err, "match: fetch synonyms")
	}

	cons := scoring.Constraints{
		LabelsMust:          prof.LabelsMust,
		IntegrationRequired: titleCaseAll(prof.IntegrationRequired),
		PriceMax:            prof.PriceMax,
		Synonyms:            syns,
	}
	dims := scoring.Dimensions{
		TagMust:         prof.TagMust,
		LabelsNice:      prof.LabelsNice,
		TagNice:         prof.TagNice,
		IntegrationNice: titleCaseAll(prof.IntegrationNice),
	}

	type scored struct {
		cand    model.AppCandidate
		percent int
	}
	ranked := make([]scored, 0, len(cands))
	for _, cand := range cands {
		feat := feats[cand.AppSearchID]
		fs := scoring.Features{
			Labels:          feat.Labels,
			IntegrationKeys: feat.IntegrationKeys,
			Tags:            feat.Tags,
		}
		priceText := feat.PriceText
		if priceText == "" {
			priceText = cand.PriceText
		}

		percent := scoring.ConstraintFloorPercent
		if cons.Meets(fs, priceText) {
			percent = scoring.Percentage(scoring.Hybrid(cand.Cosine, dims, fs))
		}
		ranked = append(ranked, scored{cand: cand, percent: percent})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].percent != ranked[j].percent {
			return ranked[i].percent > ranked[j].percent
		}
		if ranked[i].cand.Cosine != ranked[j].cand.Cosine {
			return ranked[i].cand.Cosine > ranked[j].cand.Cosine
		}
		return ranked[i].cand.AppID < ranked[j].cand.AppID
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	appIDs := make([]int64, 0, len(ranked))
	for _, r := range ranked {
		appIDs = append(appIDs, r.cand.AppID)
	}
	names, err := s.store.FetchAppNames(ctx, appIDs)
	if err != nil {
		return nil, fault.Wrap(fault.Storage, err, "match: fetch app names")
	}

	results := make([]model.MatchResult, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, model.MatchResult{
			AppID:             r.cand.AppID,
			Name:              names[r.cand.AppID],
			SimilarityPercent: r.percent,
		})
	}
	return results, nil
}

// profileText builds embedding text for a profile submitted without buyer
// prose, joining the stated dimensions into labeled sections.
func profileText(prof model.RequirementProfile) string {
	var sections []string
	if labels := mergeList(prof.LabelsMust, prof.LabelsNice); len(labels) > 0 {
		sections = append(sections, "Labels: "+strings.Join(labels, ", "))
	}
	if tags := mergeList(prof.TagMust, prof.TagNice); len(tags) > 0 {
		sections = append(sections, "Tags: "+strings.Join(tags, ", "))
	}
	if ints := mergeList(prof.IntegrationRequired, prof.IntegrationNice); len(ints) > 0 {
		sections = append(sections, "Integrations: "+strings.Join(ints, ", "))
	}
	if prof.Notes != "" {
		sections = append(sections, prof.Notes)
	}
	return strings.Join(sections, "\n")
}

func titleCaseAll(vals []string) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = scoring.TitleCase(v)
	}
	return out
}
