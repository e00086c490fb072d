package match

import (
	"strings"

	"github.com/ashita-ai/mekiki/internal/model"
)

// Thresholds are the per-dimension minimums a session must accumulate before
// it can be finalized.
type Thresholds struct {
	MinLabels       int
	MinTags         int
	MinIntegrations int
}

// DefaultThresholds match the marketplace's tuning: two functional labels,
// one business-context tag, one integration.
var DefaultThresholds = Thresholds{
	MinLabels:       2,
	MinTags:         1,
	MinIntegrations: 1,
}

// mergeDelta folds one parser pass into the accumulated requirements. Lists
// grow case-insensitively with first-seen casing preserved; the price ceiling
// keeps the lowest value ever stated. Nothing is ever removed.
func mergeDelta(acc model.Accumulated, delta model.RequirementDelta) model.Accumulated {
	acc.Labels = mergeList(acc.Labels, delta.Labels)
	acc.Tags = mergeList(acc.Tags, delta.Tags)
	acc.Integrations = mergeList(acc.Integrations, delta.Integrations)
	if delta.PriceMax != nil {
		if acc.PriceMax == nil || *delta.PriceMax < *acc.PriceMax {
			v := *delta.PriceMax
			acc.PriceMax = &v
		}
	}
	return acc
}

func mergeList(have, add []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, v := range have {
		seen[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	for _, v := range add {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		have = append(have, v)
	}
	return have
}

// computeMissing returns the per-dimension shortfall against the thresholds.
func computeMissing(acc model.Accumulated, th Thresholds) model.Missing {
	return model.Missing{
		LabelsNeeded:       shortfall(th.MinLabels, len(acc.Labels)),
		TagsNeeded:         shortfall(th.MinTags, len(acc.Tags)),
		IntegrationsNeeded: shortfall(th.MinIntegrations, len(acc.Integrations)),
	}
}

func shortfall(minimum, have int) int {
	if have >= minimum {
		return 0
	}
	return minimum - have
}

// revalidate recomputes missing counts and validity after a merge. Validity
// only ever moves false to true; a session that was valid stays valid even if
// thresholds were raised between turns.
func revalidate(sess model.Session, th Thresholds) model.Session {
	sess.Missing = computeMissing(sess.Accumulated, th)
	if sess.Missing == (model.Missing{}) {
		sess.IsValid = true
	}
	if sess.IsValid {
		sess.Missing = model.Missing{}
	}
	return sess
}

// mustNiceCap is the per-bucket ceiling when splitting accumulated values
// into hard and soft requirement dimensions at finalize.
const mustNiceCap = 6

// splitMustNice partitions an accumulated list positionally: the first six
// entries become the must bucket, the next six the nice bucket, the rest are
// dropped. Earlier turns carry more intent, so earlier entries bind harder.
func splitMustNice(vals []string) (must, nice []string) {
	if len(vals) > mustNiceCap {
		return vals[:mustNiceCap], vals[mustNiceCap:min(len(vals), 2*mustNiceCap)]
	}
	return vals, nil
}

// buildProfile converts a valid session into the scorer's requirement
// profile. Integration names are normalized to title case so they line up
// with the catalog's integration keys.
func buildProfile(sess model.Session, finalPrompt string) model.RequirementProfile {
	prof := model.RequirementProfile{BuyerText: finalPrompt, PriceMax: sess.Accumulated.PriceMax}
	prof.LabelsMust, prof.LabelsNice = splitMustNice(sess.Accumulated.Labels)
	prof.TagMust, prof.TagNice = splitMustNice(sess.Accumulated.Tags)
	prof.IntegrationRequired, prof.IntegrationNice = splitMustNice(titleCaseAll(sess.Accumulated.Integrations))
	return prof
}
