package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashita-ai/mekiki/internal/fault"
	"github.com/ashita-ai/mekiki/internal/model"
)

// maxAttempts bounds retries per gateway operation. Chat models
// intermittently return invalid JSON; a fresh completion usually repairs it.
const maxAttempts = 3

// Gateway wraps a chat Provider with the marketplace's three operations.
// With a nil provider the gateway degrades instead of failing: translation
// passes text through, extraction returns an empty delta, and card drafting
// clips the prompt into a title. That keeps local setups without API keys
// runnable end to end.
type Gateway struct {
	provider Provider
}

// NewGateway creates a gateway over the given provider. Provider may be nil.
func NewGateway(p Provider) *Gateway {
	return &Gateway{provider: p}
}

// Degraded reports whether the gateway runs without a chat model.
func (g *Gateway) Degraded() bool {
	return g.provider == nil
}

// TranslateToEnglish returns the English form of text. Already-English text
// comes back unchanged (modulo model whitespace).
func (g *Gateway) TranslateToEnglish(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if g.provider == nil {
		return text, nil
	}

	var out string
	err := g.completeWithRetry(ctx, CompletionRequest{
		System:      translateSystemPrompt,
		User:        text,
		Temperature: chatTemperature,
	}, func(raw string) error {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return fmt.Errorf("empty translation for non-empty input")
		}
		out = trimmed
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// ExtractRequirements pulls a requirement delta out of a buyer prompt.
// Labels are filtered to allowedLabels and returned in the catalog's
// canonical casing; tags and integrations come back trimmed and deduplicated
// with first-seen casing.
func (g *Gateway) ExtractRequirements(ctx context.Context, prompt string, allowedLabels []string) (model.RequirementDelta, error) {
	if g.provider == nil {
		return model.RequirementDelta{}, nil
	}

	var delta model.RequirementDelta
	err := g.completeWithRetry(ctx, CompletionRequest{
		System:      fmt.Sprintf(extractSystemPrompt, strings.Join(allowedLabels, ", ")),
		User:        prompt,
		Temperature: chatTemperature,
		JSONMode:    true,
	}, func(raw string) error {
		var parsed model.RequirementDelta
		if err := json.Unmarshal([]byte(stripJSONFences(raw)), &parsed); err != nil {
			return fmt.Errorf("unmarshal requirement delta: %w", err)
		}
		if parsed.PriceMax != nil && *parsed.PriceMax < 0 {
			return fmt.Errorf("negative price_max %v", *parsed.PriceMax)
		}
		delta = parsed
		return nil
	})
	if err != nil {
		return model.RequirementDelta{}, err
	}

	delta.Labels = filterToCatalog(delta.Labels, allowedLabels)
	delta.Tags = cleanList(delta.Tags)
	delta.Integrations = cleanList(delta.Integrations)
	return delta, nil
}

// maxTitleWords caps generated card titles.
const maxTitleWords = 10

// GenerateCardFields drafts a title and description for a new backlog card
// from the English-normalized prompt. Overlong titles are clipped rather
// than rejected.
func (g *Gateway) GenerateCardFields(ctx context.Context, englishPrompt string) (model.CardFields, error) {
	if g.provider == nil {
		return fallbackCardFields(englishPrompt), nil
	}

	var fields model.CardFields
	err := g.completeWithRetry(ctx, CompletionRequest{
		System:      cardSystemPrompt,
		User:        englishPrompt,
		Temperature: chatTemperature,
		JSONMode:    true,
	}, func(raw string) error {
		var parsed model.CardFields
		if err := json.Unmarshal([]byte(stripJSONFences(raw)), &parsed); err != nil {
			return fmt.Errorf("unmarshal card fields: %w", err)
		}
		if strings.TrimSpace(parsed.Title) == "" {
			return fmt.Errorf("empty title in card fields")
		}
		fields = parsed
		return nil
	})
	if err != nil {
		return model.CardFields{}, err
	}

	fields.Title = clipWords(strings.TrimSpace(fields.Title), maxTitleWords)
	if strings.TrimSpace(fields.Description) == "" {
		fields.Description = englishPrompt
	}
	return fields, nil
}

// completeWithRetry runs one completion per attempt until parse accepts the
// output. Provider failures classify as external_service, unusable output as
// malformed_response; the last failure wins.
func (g *Gateway) completeWithRetry(ctx context.Context, req CompletionRequest, parse func(string) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fault.Wrap(fault.ExternalService, err, "llm: context canceled")
		}

		raw, err := g.provider.Complete(ctx, req)
		if err != nil {
			lastErr = fault.Wrap(fault.ExternalService, err, "llm: completion failed")
			continue
		}
		if err := parse(raw); err != nil {
			lastErr = fault.Wrap(fault.MalformedResponse, err, "llm: unusable model output")
			continue
		}
		return nil
	}
	return lastErr
}

func fallbackCardFields(prompt string) model.CardFields {
	return model.CardFields{
		Title:       clipWords(strings.TrimSpace(prompt), maxTitleWords),
		Description: prompt,
	}
}

func clipWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ")
}

// filterToCatalog keeps only entries present in allowed, emitting them in
// the catalog's canonical casing, deduplicated.
func filterToCatalog(got, allowed []string) []string {
	canon := make(map[string]string, len(allowed))
	for _, l := range allowed {
		canon[strings.ToLower(l)] = l
	}
	var out []string
	seen := make(map[string]struct{}, len(got))
	for _, l := range got {
		key := strings.ToLower(strings.TrimSpace(l))
		if key == "" {
			continue
		}
		canonical, ok := canon[key]
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, canonical)
	}
	return out
}

// cleanList trims entries, drops blanks, and deduplicates case-insensitively
// keeping first-seen casing.
func cleanList(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
