package match

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/mekiki/internal/model"
)

// Example pools surfaced inside clarifying questions. Label examples come
// from the closed catalog; integration and tag examples are curated. The
// pool window rotates with the turn count so a buyer who keeps skipping a
// dimension sees fresh examples each time.
var (
	integrationExamples = []string{
		"Datev", "Shopify", "Stripe", "Slack", "Bexio",
		"Google Sheets", "Salesforce", "Hubspot", "Twint", "Microsoft 365",
	}
	tagExamples = []string{
		"small business", "automation", "multi-currency", "reporting",
		"mobile app", "api access", "swiss compliance", "self-service",
		"team collaboration", "offline mode",
	}
)

// questionExampleCount is how many examples each question carries.
const questionExampleCount = 3

// nextQuestion emits one English clarifying question for the most pressing
// missing dimension. Priority is labels, then integrations, then tags.
// turns seeds the example rotation.
func nextQuestion(missing model.Missing, turns int) string {
	switch {
	case missing.LabelsNeeded > 0:
		return fmt.Sprintf(
			"Which business areas should the software cover? For example: %s.",
			exampleWindow(labelCatalog, turns))
	case missing.IntegrationsNeeded > 0:
		return fmt.Sprintf(
			"Which tools or services does the software need to integrate with? For example: %s.",
			exampleWindow(integrationExamples, turns))
	default:
		return fmt.Sprintf(
			"Can you tell me more about your business context or specific needs? For example: %s.",
			exampleWindow(tagExamples, turns))
	}
}

// exampleWindow takes a rotating slice of the pool, wrapping at the end.
func exampleWindow(pool []string, turns int) string {
	n := questionExampleCount
	if turns%2 == 1 {
		n++
	}
	start := (turns * questionExampleCount) % len(pool)
	out := make([]string, 0, n)
	for i := range n {
		out = append(out, pool[(start+i)%len(pool)])
	}
	return strings.Join(out, ", ")
}
