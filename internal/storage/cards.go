package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mekiki/internal/model"
)

// txRetries and txBaseDelay govern retry of card transactions on
// serialization or deadlock errors. Concurrent ingests hitting the same card
// contend on the number_of_requests row.
const (
	txRetries   = 3
	txBaseDelay = 50 * time.Millisecond
)

// ActiveCardPrompts returns every active card together with its attached
// prompts. Cards without prompts are included with an empty list; the
// backlog sampler skips them.
func (db *DB) ActiveCardPrompts(ctx context.Context) ([]model.CardWithPrompts, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.title, c.description, c.status, c.number_of_requests, c.created_at,
		        p.id, p.prompt_text, p.comment_text, p.created_at
		 FROM cards c
		 LEFT JOIN card_prompts_comments p ON p.card_id = c.id
		 WHERE c.status = $1
		 ORDER BY c.id, p.id`,
		model.CardStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query active cards: %w", err)
	}
	defer rows.Close()
	return scanCardRows(rows)
}

// ListCards returns cards of any status with their prompts, newest card
// first.
func (db *DB) ListCards(ctx context.Context, limit, offset int) ([]model.CardWithPrompts, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.title, c.description, c.status, c.number_of_requests, c.created_at,
		        p.id, p.prompt_text, p.comment_text, p.created_at
		 FROM (
		     SELECT * FROM cards ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2
		 ) c
		 LEFT JOIN card_prompts_comments p ON p.card_id = c.id
		 ORDER BY c.created_at DESC, c.id DESC, p.id`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list cards: %w", err)
	}
	defer rows.Close()
	return scanCardRows(rows)
}

// scanCardRows assembles card+prompt join rows, grouping consecutive rows of
// the same card.
func scanCardRows(rows pgx.Rows) ([]model.CardWithPrompts, error) {
	var out []model.CardWithPrompts
	for rows.Next() {
		var c model.Card
		var pid *int64
		var ptext, pcomment *string
		var pcreated *time.Time
		if err := rows.Scan(
			&c.ID, &c.Title, &c.Description, &c.Status, &c.NumberOfRequests, &c.CreatedAt,
			&pid, &ptext, &pcomment, &pcreated,
		); err != nil {
			return nil, fmt.Errorf("storage: scan card row: %w", err)
		}

		if len(out) == 0 || out[len(out)-1].ID != c.ID {
			out = append(out, model.CardWithPrompts{Card: c})
		}
		if pid == nil {
			continue
		}
		prompt := model.CardPrompt{ID: *pid, CardID: c.ID, CreatedAt: *pcreated}
		if ptext != nil {
			prompt.PromptText = *ptext
		}
		if pcomment != nil {
			prompt.CommentText = *pcomment
		}
		last := &out[len(out)-1]
		last.Prompts = append(last.Prompts, prompt)
	}
	return out, rows.Err()
}

// AttachPrompt links a new prompt to an existing card and increments its
// request counter in one transaction. Returns ErrNotFound if the card no
// longer exists or is no longer active.
func (db *DB) AttachPrompt(ctx context.Context, cardID int64, promptText, commentText string) error {
	return WithRetry(ctx, txRetries, txBaseDelay, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin attach prompt tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx,
			`UPDATE cards SET number_of_requests = number_of_requests + 1
			 WHERE id = $1 AND status = $2`,
			cardID, model.CardStatusActive,
		)
		if err != nil {
			return fmt.Errorf("storage: increment card requests: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO card_prompts_comments (card_id, prompt_text, comment_text)
			 VALUES ($1, $2, $3)`,
			cardID, promptText, nullIfEmpty(commentText),
		); err != nil {
			return fmt.Errorf("storage: insert card prompt: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit attach prompt tx: %w", err)
		}
		return nil
	})
}

// CreateCardWithPrompt creates a new active card and its first prompt in one
// transaction, returning the stored card.
func (db *DB) CreateCardWithPrompt(ctx context.Context, fields model.CardFields, promptText, commentText string) (model.Card, error) {
	var card model.Card
	err := WithRetry(ctx, txRetries, txBaseDelay, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin create card tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		card = model.Card{
			Title:            fields.Title,
			Description:      fields.Description,
			Status:           model.CardStatusActive,
			NumberOfRequests: 1,
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO cards (title, description, status, number_of_requests)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			card.Title, card.Description, card.Status, card.NumberOfRequests,
		).Scan(&card.ID, &card.CreatedAt); err != nil {
			return fmt.Errorf("storage: create card: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO card_prompts_comments (card_id, prompt_text, comment_text)
			 VALUES ($1, $2, $3)`,
			card.ID, promptText, nullIfEmpty(commentText),
		); err != nil {
			return fmt.Errorf("storage: insert first card prompt: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return model.Card{}, err
	}
	return card, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
