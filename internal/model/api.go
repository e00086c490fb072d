package model

import "time"

// Field length limits for user-supplied text. These bound what flows into
// the translation and embedding pipelines and into Postgres TEXT columns.
const (
	MinStartPromptLen = 10
	MaxStartPromptLen = 2000
	MinAnswerLen      = 1
	MaxAnswerLen      = 1000
	MinBacklogPrompt  = 5
	MaxBacklogPrompt  = 2000
	MaxBacklogComment = 1000
)

// Session status values returned by the interactive match endpoints.
const (
	StatusNeedsMore = "needs_more"
	StatusReady     = "ready"
)

// Defaults for finalize retrieval depth.
const (
	DefaultTopK = 30
	DefaultTopN = 10
)

// MatchStartRequest is the request body for POST /match/interactive/start.
type MatchStartRequest struct {
	PromptText string `json:"prompt_text"`
}

// MatchContinueRequest is the request body for POST /match/interactive/continue.
type MatchContinueRequest struct {
	Session    Session `json:"session"`
	AnswerText string  `json:"answer_text"`
}

// MatchFinalizeRequest is the request body for POST /match/interactive/finalize.
type MatchFinalizeRequest struct {
	Session Session `json:"session"`
	TopK    *int    `json:"top_k,omitempty"`
	TopN    *int    `json:"top_n,omitempty"`
}

// MatchProfileRequest is the request body for POST /match: a one-shot match
// against an explicit requirement profile, no dialog.
type MatchProfileRequest struct {
	Profile RequirementProfile `json:"profile"`
	TopK    *int               `json:"top_k,omitempty"`
	TopN    *int               `json:"top_n,omitempty"`
}

// MatchResponse is the response for all interactive match endpoints. Question
// and Missing are set while status is needs_more; FinalPrompt and Results are
// set once finalize succeeds. Results marshals as null until then.
type MatchResponse struct {
	Status      string        `json:"status"`
	Session     Session       `json:"session"`
	Question    *string       `json:"question,omitempty"`
	Missing     *Missing      `json:"missing,omitempty"`
	FinalPrompt *string       `json:"final_prompt,omitempty"`
	Results     []MatchResult `json:"results"`
}

// BacklogIngestRequest is the request body for POST /backlog/ingest.
type BacklogIngestRequest struct {
	PromptText  string `json:"prompt_text"`
	CommentText string `json:"comment_text,omitempty"`
}

// CardsResponse is the response for GET /backlog/cards.
type CardsResponse struct {
	Cards []CardWithPrompts `json:"cards"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every error response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Qdrant   string `json:"qdrant,omitempty"`
	Uptime   int64  `json:"uptime_seconds"`
}
