package model

import "fmt"

// Turn roles. Sessions only ever contain these two.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one dialog exchange half.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Accumulated is the union of everything extracted so far in a session.
// Slices preserve first-seen order and first-seen casing; membership is
// case-insensitive. PriceMax keeps the lowest ceiling stated so far.
type Accumulated struct {
	Labels       []string `json:"labels"`
	Tags         []string `json:"tags"`
	Integrations []string `json:"integrations"`
	PriceMax     *float64 `json:"price_max,omitempty"`
}

// Missing counts how far each dimension is below its minimum threshold.
type Missing struct {
	LabelsNeeded       int `json:"labels_needed"`
	TagsNeeded         int `json:"tags_needed"`
	IntegrationsNeeded int `json:"integrations_needed"`
}

// Session is the client-carried continuation between start, continue, and
// finalize. The server holds no copy; the whole value rides in request and
// response bodies. Accumulated never shrinks and IsValid never reverts to
// false once set.
type Session struct {
	Turns       []Turn      `json:"turns"`
	Accumulated Accumulated `json:"accumulated"`
	Missing     Missing     `json:"missing"`
	IsValid     bool        `json:"is_valid"`
}

// CheckShape validates a session received from a client. It guards the
// invariants a well-behaved client cannot break but a corrupt or tampered
// payload can: turn roles, empty turn text, negative counters, and a
// negative price ceiling.
func (s Session) CheckShape() error {
	for i, t := range s.Turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return fmt.Errorf("turn %d: unknown role %q", i, t.Role)
		}
		if t.Text == "" {
			return fmt.Errorf("turn %d: empty text", i)
		}
	}
	if s.Missing.LabelsNeeded < 0 || s.Missing.TagsNeeded < 0 || s.Missing.IntegrationsNeeded < 0 {
		return fmt.Errorf("negative missing counter")
	}
	if s.Accumulated.PriceMax != nil && *s.Accumulated.PriceMax < 0 {
		return fmt.Errorf("negative price_max")
	}
	return nil
}

// UserTurns returns the text of every user turn in order.
func (s Session) UserTurns() []string {
	var out []string
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			out = append(out, t.Text)
		}
	}
	return out
}
