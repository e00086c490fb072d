package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/mekiki/internal/model"
)

// Candidates returns the top-k catalog rows by cosine similarity to the
// query embedding, most similar first. It reads through the HNSW index on
// application_search.embedding.
func (db *DB) Candidates(ctx context.Context, embedding pgvector.Vector, k int) ([]model.AppCandidate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT s.id, s.app_id, COALESCE(a.price_text, ''), 1 - (s.embedding <=> $1) AS cosine
		 FROM application_search s
		 JOIN application a ON a.id = s.app_id
		 ORDER BY s.embedding <=> $1
		 LIMIT $2`,
		embedding, k,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query candidates: %w", err)
	}
	defer rows.Close()

	var cands []model.AppCandidate
	for rows.Next() {
		var c model.AppCandidate
		if err := rows.Scan(&c.AppSearchID, &c.AppID, &c.PriceText, &c.Cosine); err != nil {
			return nil, fmt.Errorf("storage: scan candidate: %w", err)
		}
		cands = append(cands, c)
	}
	return cands, rows.Err()
}

// FetchFeatures loads labels, integration keys, and tags for a candidate set
// in three batched queries. The returned map is keyed by app_search_id.
// Labels and integration keys hang off the search row; tags hang off the
// application, so they fan out to every search row of that application.
func (db *DB) FetchFeatures(ctx context.Context, cands []model.AppCandidate) (map[int64]model.AppFeatures, error) {
	if len(cands) == 0 {
		return map[int64]model.AppFeatures{}, nil
	}

	searchIDs := make([]int64, 0, len(cands))
	appIDs := make([]int64, 0, len(cands))
	feats := make(map[int64]model.AppFeatures, len(cands))
	for _, c := range cands {
		searchIDs = append(searchIDs, c.AppSearchID)
		appIDs = append(appIDs, c.AppID)
		feats[c.AppSearchID] = model.AppFeatures{PriceText: c.PriceText}
	}

	rows, err := db.pool.Query(ctx,
		`SELECT app_search_id, label FROM application_labels WHERE app_search_id = ANY($1)`, searchIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: query labels: %w", err)
	}
	if err := collectInto(rows, feats, func(f *model.AppFeatures, v string) {
		f.Labels = append(f.Labels, v)
	}); err != nil {
		return nil, fmt.Errorf("storage: scan labels: %w", err)
	}

	rows, err = db.pool.Query(ctx,
		`SELECT app_search_id, integration_key FROM application_integration_keys WHERE app_search_id = ANY($1)`, searchIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: query integration keys: %w", err)
	}
	if err := collectInto(rows, feats, func(f *model.AppFeatures, v string) {
		f.IntegrationKeys = append(f.IntegrationKeys, v)
	}); err != nil {
		return nil, fmt.Errorf("storage: scan integration keys: %w", err)
	}

	// Tags key on app_id; fan out to each search row of that application.
	tagRows, err := db.pool.Query(ctx,
		`SELECT app_id, tag FROM apps_tags WHERE app_id = ANY($1)`, appIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: query tags: %w", err)
	}
	defer tagRows.Close()
	tagsByApp := make(map[int64][]string)
	for tagRows.Next() {
		var appID int64
		var tag string
		if err := tagRows.Scan(&appID, &tag); err != nil {
			return nil, fmt.Errorf("storage: scan tag: %w", err)
		}
		tagsByApp[appID] = append(tagsByApp[appID], tag)
	}
	if err := tagRows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate tags: %w", err)
	}
	for _, c := range cands {
		f := feats[c.AppSearchID]
		f.Tags = tagsByApp[c.AppID]
		feats[c.AppSearchID] = f
	}

	return feats, nil
}

// collectInto drains (id, value) rows into the features map via assign.
func collectInto(rows pgx.Rows, feats map[int64]model.AppFeatures, assign func(*model.AppFeatures, string)) error {
	defer rows.Close()
	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return err
		}
		f, ok := feats[id]
		if !ok {
			continue
		}
		assign(&f, value)
		feats[id] = f
	}
	return rows.Err()
}

// FetchSynonyms returns the synonym lists for the given labels, keyed by
// lowercased label. Labels without a catalog row are simply absent.
func (db *DB) FetchSynonyms(ctx context.Context, labels []string) (map[string][]string, error) {
	if len(labels) == 0 {
		return map[string][]string{}, nil
	}
	keys := make([]string, len(labels))
	for i, l := range labels {
		keys[i] = strings.ToLower(strings.TrimSpace(l))
	}

	rows, err := db.pool.Query(ctx,
		`SELECT lower(label), synonyms FROM labels WHERE lower(label) = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("storage: query synonyms: %w", err)
	}
	defer rows.Close()

	syns := make(map[string][]string, len(labels))
	for rows.Next() {
		var label string
		var list []string
		if err := rows.Scan(&label, &list); err != nil {
			return nil, fmt.Errorf("storage: scan synonyms: %w", err)
		}
		syns[label] = list
	}
	return syns, rows.Err()
}

// FetchAppNames resolves application ids to display names.
func (db *DB) FetchAppNames(ctx context.Context, appIDs []int64) (map[int64]string, error) {
	if len(appIDs) == 0 {
		return map[int64]string{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, name FROM application WHERE id = ANY($1)`, appIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: query app names: %w", err)
	}
	defer rows.Close()

	names := make(map[int64]string, len(appIDs))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("storage: scan app name: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

// SearchRow is one catalog embedding row, used by the Qdrant reindexer.
type SearchRow struct {
	SearchID  int64
	AppID     int64
	PriceText string
	Embedding pgvector.Vector
}

// ScanSearchRows pages through application_search in id order, returning up
// to limit rows with id > afterID. An empty result means the scan is done.
func (db *DB) ScanSearchRows(ctx context.Context, afterID int64, limit int) ([]SearchRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT s.id, s.app_id, COALESCE(a.price_text, ''), s.embedding
		 FROM application_search s
		 JOIN application a ON a.id = s.app_id
		 WHERE s.id > $1
		 ORDER BY s.id
		 LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: scan search rows: %w", err)
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.SearchID, &r.AppID, &r.PriceText, &r.Embedding); err != nil {
			return nil, fmt.Errorf("storage: scan search row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
