package model

// AppCandidate is a vector-search hit: an indexed application row and its
// cosine similarity to the query embedding.
type AppCandidate struct {
	AppSearchID int64
	AppID       int64
	PriceText   string
	Cosine      float64
}

// AppFeatures carries the structured attributes used for overlap scoring
// and hard-constraint checks.
type AppFeatures struct {
	Labels          []string
	IntegrationKeys []string
	Tags            []string
	PriceText       string
}

// MatchResult is one ranked application in a final match response.
type MatchResult struct {
	AppID             int64  `json:"app_id"`
	Name              string `json:"name"`
	SimilarityPercent int    `json:"similarity_percent"`
}
