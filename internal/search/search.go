// Package search maintains a Qdrant mirror of the catalog's embedding rows
// and serves nearest-neighbor candidate retrieval from it. The mirror is
// optional: when Qdrant is not configured, candidate retrieval runs against
// pgvector in Postgres directly.
package search

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/mekiki/internal/model"
)

// Searcher retrieves the nearest catalog applications for a buyer embedding.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Candidates returns up to k applications ordered by descending cosine
	// similarity to the embedding.
	Candidates(ctx context.Context, embedding pgvector.Vector, k int) ([]model.AppCandidate, error)

	// Healthy returns nil if the search index is reachable.
	Healthy(ctx context.Context) error
}

// Point is one catalog search row mirrored into Qdrant. The point ID is the
// application_search row ID; app_id and price_text ride along as payload so
// candidate retrieval needs no Postgres round trip.
type Point struct {
	SearchID  int64
	AppID     int64
	PriceText string
	Embedding []float32
}
