package match

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/mekiki/internal/model"
)

// composeFinalPrompt renders a finished session as the matching text. The
// first user turn is the headline need, later turns become a clarification
// list, and the accumulated dimensions are appended as labeled sections so
// the embedding picks up the structured signal too.
func composeFinalPrompt(sess model.Session) string {
	user := sess.UserTurns()
	if len(user) == 0 {
		return ""
	}

	sections := []string{"User need: " + user[0]}

	if len(user) > 1 {
		var b strings.Builder
		b.WriteString("Clarifications:")
		for _, answer := range user[1:] {
			b.WriteString("\n- " + answer)
		}
		sections = append(sections, b.String())
	}

	acc := sess.Accumulated
	if len(acc.Labels) > 0 {
		sections = append(sections, "Extracted labels: "+strings.Join(acc.Labels, ", "))
	}
	if len(acc.Tags) > 0 {
		sections = append(sections, "Extracted tags: "+strings.Join(acc.Tags, ", "))
	}
	if len(acc.Integrations) > 0 {
		sections = append(sections, "Extracted integrations: "+strings.Join(acc.Integrations, ", "))
	}

	return strings.Join(sections, "\n\n")
}

// sessionNotes annotates a profile built from a dialog.
func sessionNotes(sess model.Session) string {
	n := len(sess.UserTurns())
	return fmt.Sprintf("Interactive session with %d turn(s)", n)
}
