// Package scoring implements the hybrid similarity model that ranks catalog
// applications against a buyer requirement profile. The model is an affine
// combination of embedding cosine similarity and per-dimension overlap
// ratios, mapped through a sigmoid to a buyer-facing percentage.
package scoring

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Weights of the hybrid score. The affine 0.45/0.55 rescale calibrates the
// percentage distribution; changing it shifts every displayed similarity.
const (
	weightCosine          = 0.60
	weightTagMust         = 0.10
	weightLabelsNice      = 0.10
	weightTagNice         = 0.05
	weightIntegrationNice = 0.15

	scoreScale  = 0.45
	scoreOffset = 0.55

	sigmoidSteepness = 10.0
	sigmoidMidpoint  = 0.5

	// emptyListOverlap is the neutral overlap contribution when the buyer
	// never stated a preference for a dimension.
	emptyListOverlap = 0.1
)

// ConstraintFloorPercent is the similarity assigned to apps that fail a hard
// constraint. They stay in the result set, pinned to the bottom.
const ConstraintFloorPercent = 5

// Overlap returns |buyer ∩ app| / |buyer| with case-insensitive membership.
// Duplicate buyer entries count once. An empty buyer list yields the neutral
// contribution rather than zero, so unstated dimensions neither reward nor
// punish a candidate.
func Overlap(buyer, app []string) float64 {
	if len(buyer) == 0 {
		return emptyListOverlap
	}
	appSet := make(map[string]struct{}, len(app))
	for _, v := range app {
		appSet[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	buyerSet := make(map[string]struct{}, len(buyer))
	for _, v := range buyer {
		buyerSet[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	matched := 0
	for v := range buyerSet {
		if _, ok := appSet[v]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(buyerSet))
}

// Hybrid computes the calibrated hybrid score for one candidate. The cosine
// term dominates; the overlap terms reward explicit tag, label, and
// integration hits. Output lands in [0.55, 1.0] for cosine in [0, 1].
func Hybrid(cosine float64, prof Dimensions, feat Features) float64 {
	raw := weightCosine*cosine +
		weightTagMust*Overlap(prof.TagMust, feat.Tags) +
		weightLabelsNice*Overlap(prof.LabelsNice, feat.Labels) +
		weightTagNice*Overlap(prof.TagNice, feat.Tags) +
		weightIntegrationNice*Overlap(prof.IntegrationNice, feat.IntegrationKeys)
	return raw*scoreScale + scoreOffset
}

// Dimensions is the scored subset of a requirement profile.
type Dimensions struct {
	TagMust         []string
	LabelsNice      []string
	TagNice         []string
	IntegrationNice []string
}

// Features is the scored subset of an application's attributes.
type Features struct {
	Labels          []string
	IntegrationKeys []string
	Tags            []string
}

// Percentage maps a score through the sigmoid onto [0, 100].
func Percentage(score float64) int {
	p := 100 / (1 + math.Exp(-sigmoidSteepness*(score-sigmoidMidpoint)))
	n := int(math.Round(p))
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// Cosine returns the cosine similarity of two equal-length vectors, 0 when
// either has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TitleCase normalizes an integration key for display and comparison:
// lowercase everything, then capitalize the first rune of each word.
// "DATEV" becomes "Datev", "google sheets" becomes "Google Sheets".
func TitleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
