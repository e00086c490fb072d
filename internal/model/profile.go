package model

// RequirementProfile is the structured buyer specification consumed by the
// scorer. Must/required dimensions are hard constraints; nice dimensions are
// scoring terms only. Slices keep insertion order; comparisons downstream are
// case-insensitive.
type RequirementProfile struct {
	BuyerText           string   `json:"buyer_text"`
	LabelsMust          []string `json:"labels_must"`
	LabelsNice          []string `json:"labels_nice"`
	TagMust             []string `json:"tag_must"`
	TagNice             []string `json:"tag_nice"`
	IntegrationRequired []string `json:"integration_required"`
	IntegrationNice     []string `json:"integration_nice"`
	PriceMax            *float64 `json:"price_max,omitempty"`
	Notes               string   `json:"notes,omitempty"`
}

// Empty reports whether no requirement dimension carries a value.
// The scorer treats an empty profile as invalid input.
func (p RequirementProfile) Empty() bool {
	return len(p.LabelsMust) == 0 && len(p.LabelsNice) == 0 &&
		len(p.TagMust) == 0 && len(p.TagNice) == 0 &&
		len(p.IntegrationRequired) == 0 && len(p.IntegrationNice) == 0
}

// RequirementDelta is one parser pass over a single buyer turn: the new
// labels/tags/integrations it mentioned plus an optional price ceiling.
// Missing JSON keys decode as empty slices; unknown keys are dropped.
type RequirementDelta struct {
	Labels       []string `json:"labels"`
	Tags         []string `json:"tags"`
	Integrations []string `json:"integrations"`
	PriceMax     *float64 `json:"price_max"`
}
