package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mekiki/internal/model"
)

func (s *Server) registerTools() {
	// mekiki_match_start — open an interactive matching session.
	s.mcpServer.AddTool(
		mcplib.NewTool("mekiki_match_start",
			mcplib.WithDescription(`Start an interactive software-matching session from a buyer's need.

WHEN TO USE: when the user describes what business software they are
looking for, in any language. Mekiki extracts structured requirements
(business areas, integrations, context tags, budget) and either asks a
follow-up question or declares the session ready.

WHAT YOU GET BACK:
- status: "needs_more" or "ready"
- session: the full session state. Hold on to it verbatim — you must
  pass it back to mekiki_match_answer / mekiki_match_finalize.
- question: the follow-up to relay to the user (when needs_more)
- final_prompt: the composed requirement summary (when ready)

When status is "ready", call mekiki_match_finalize to get ranked results.`),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("prompt",
				mcplib.Description("The buyer's description of what they need, 10-2000 characters, any language"),
				mcplib.Required(),
			),
		),
		s.handleMatchStart,
	)

	// mekiki_match_answer — continue a session with the user's answer.
	s.mcpServer.AddTool(
		mcplib.NewTool("mekiki_match_answer",
			mcplib.WithDescription(`Continue a matching session by relaying the user's answer to the last
follow-up question.

WHEN TO USE: after mekiki_match_start (or a previous mekiki_match_answer)
returned status "needs_more". Pass the session state back exactly as you
received it, plus the user's answer.

WHAT YOU GET BACK: same shape as mekiki_match_start. Repeat until status
is "ready", then call mekiki_match_finalize.`),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("session",
				mcplib.Description("The session JSON from the previous tool result, unmodified"),
				mcplib.Required(),
			),
			mcplib.WithString("answer",
				mcplib.Description("The user's answer to the follow-up question, 1-1000 characters"),
				mcplib.Required(),
			),
		),
		s.handleMatchAnswer,
	)

	// mekiki_match_finalize — rank the catalog against a ready session.
	s.mcpServer.AddTool(
		mcplib.NewTool("mekiki_match_finalize",
			mcplib.WithDescription(`Finalize a matching session and get ranked software recommendations.

WHEN TO USE: only after a session has reached status "ready". Pass the
session state back exactly as you received it.

WHAT YOU GET BACK:
- results: ranked applications with similarity_percent (5-100), best first
- final_prompt: the requirement summary the ranking was based on

Present the top results to the user with their similarity percentages.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("session",
				mcplib.Description("The session JSON from the previous tool result, unmodified"),
				mcplib.Required(),
			),
			mcplib.WithNumber("top_k",
				mcplib.Description("Candidate pool size for the vector search"),
				mcplib.Min(1),
				mcplib.Max(200),
				mcplib.DefaultNumber(float64(model.DefaultTopK)),
			),
			mcplib.WithNumber("top_n",
				mcplib.Description("Number of ranked results to return"),
				mcplib.Min(1),
				mcplib.DefaultNumber(float64(model.DefaultTopN)),
			),
		),
		s.handleMatchFinalize,
	)

	// mekiki_backlog_report — file an unmet-demand report.
	s.mcpServer.AddTool(
		mcplib.NewTool("mekiki_backlog_report",
			mcplib.WithDescription(`Report a software need the catalog could not satisfy.

WHEN TO USE: when matching produced no acceptable results, or the user
explicitly says nothing fits. The report is deduplicated against existing
demand cards: similar reports attach to the same card, novel ones open a
new card.

WHAT YOU GET BACK:
- attached: whether the report joined an existing card
- card_id: the card the report landed on
- similarity_percent: how close the best existing card was`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("prompt",
				mcplib.Description("The unmet need, 5-2000 characters, any language"),
				mcplib.Required(),
			),
			mcplib.WithString("comment",
				mcplib.Description("Optional free-form context, up to 1000 characters"),
			),
		),
		s.handleBacklogReport,
	)
}

func (s *Server) handleMatchStart(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	prompt := request.GetString("prompt", "")
	if prompt == "" {
		return errorResult("prompt is required"), nil
	}

	resp, err := s.matcher.Start(ctx, prompt)
	if err != nil {
		return errorResult(fmt.Sprintf("match start failed: %v", err)), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleMatchAnswer(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sess, result := decodeSession(request)
	if result != nil {
		return result, nil
	}
	answer := request.GetString("answer", "")
	if answer == "" {
		return errorResult("answer is required"), nil
	}

	resp, err := s.matcher.Continue(ctx, sess, answer)
	if err != nil {
		return errorResult(fmt.Sprintf("match continue failed: %v", err)), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleMatchFinalize(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sess, result := decodeSession(request)
	if result != nil {
		return result, nil
	}

	var topK, topN *int
	if k := request.GetInt("top_k", 0); k > 0 {
		topK = &k
	}
	if n := request.GetInt("top_n", 0); n > 0 {
		topN = &n
	}

	resp, err := s.matcher.Finalize(ctx, sess, topK, topN)
	if err != nil {
		return errorResult(fmt.Sprintf("match finalize failed: %v", err)), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleBacklogReport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	prompt := request.GetString("prompt", "")
	if prompt == "" {
		return errorResult("prompt is required"), nil
	}
	comment := request.GetString("comment", "")

	outcome, err := s.backlog.Report(ctx, prompt, comment)
	if err != nil {
		return errorResult(fmt.Sprintf("backlog report failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"attached":           outcome.Attached,
		"card_id":            outcome.CardID,
		"similarity_percent": outcome.SimilarityPercent,
	}), nil
}

// decodeSession parses the client-held session argument. Returns a non-nil
// error result when the argument is missing or malformed.
func decodeSession(request mcplib.CallToolRequest) (model.Session, *mcplib.CallToolResult) {
	raw := request.GetString("session", "")
	if raw == "" {
		return model.Session{}, errorResult("session is required; pass the session JSON from the previous result")
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return model.Session{}, errorResult(fmt.Sprintf("session is not valid JSON: %v", err))
	}
	return sess, nil
}
