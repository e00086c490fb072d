package scoring

import "strings"

// Constraints are the hard requirements a candidate must satisfy to be
// scored at all. Synonyms maps lowercased catalog labels to their accepted
// alternative spellings.
type Constraints struct {
	LabelsMust          []string
	IntegrationRequired []string
	PriceMax            *float64
	Synonyms            map[string][]string
}

// Meets reports whether an application passes every hard constraint.
// Label checks accept the label itself or any of its synonyms. Integration
// checks are case-insensitive. The budget check passes when the price text
// cannot be parsed.
func (c Constraints) Meets(feat Features, priceText string) bool {
	for _, want := range c.LabelsMust {
		if !labelSatisfied(want, feat.Labels, c.Synonyms) {
			return false
		}
	}
	for _, want := range c.IntegrationRequired {
		if !containsFold(feat.IntegrationKeys, want) {
			return false
		}
	}
	if c.PriceMax != nil {
		if price, ok := ParsePrice(priceText); ok && price > *c.PriceMax {
			return false
		}
	}
	return true
}

func labelSatisfied(want string, labels []string, synonyms map[string][]string) bool {
	if containsFold(labels, want) {
		return true
	}
	for _, syn := range synonyms[strings.ToLower(strings.TrimSpace(want))] {
		if containsFold(labels, syn) {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	needle = strings.TrimSpace(needle)
	for _, v := range haystack {
		if strings.EqualFold(strings.TrimSpace(v), needle) {
			return true
		}
	}
	return false
}
