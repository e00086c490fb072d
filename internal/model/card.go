package model

import "time"

// CardStatusActive marks cards that participate in dedup matching.
const CardStatusActive = 1

// Card is a backlog card: a cluster of semantically equivalent feature
// requests. NumberOfRequests counts the prompts attached to it.
type Card struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Status           int       `json:"status"`
	NumberOfRequests int       `json:"number_of_requests"`
	CreatedAt        time.Time `json:"created_at"`
}

// CardPrompt is one raw request attached to a card. PromptText is stored
// verbatim in the submitter's original language.
type CardPrompt struct {
	ID          int64     `json:"id"`
	CardID      int64     `json:"card_id"`
	PromptText  string    `json:"prompt_text"`
	CommentText string    `json:"comment_text,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CardWithPrompts is the listing shape: a card plus its attached prompts.
type CardWithPrompts struct {
	Card
	Prompts []CardPrompt `json:"prompts"`
}

// CardFields is what the language model generates for a brand-new card.
type CardFields struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SampledPrompt pairs a card with the comparison text of one of its prompts,
// the prompt joined with its comment when one exists.
type SampledPrompt struct {
	CardID     int64
	PromptText string
}
