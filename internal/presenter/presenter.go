// Package presenter defines how replies reach the participant. A presenter
// performs no buffering or throttling; callers own the update cadence and must
// never pass text longer than Limit.
package presenter

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Limit is the default maximum message length, in characters.
const Limit = 4096

const (
	// displayHeadroom is reserved for the generating marker on intermediate updates.
	displayHeadroom  = 50
	generatingSuffix = "\n\n(Generating...)"
	cutMarker        = "..."
)

// Affordance is an action offered alongside a message, such as a button.
type Affordance struct {
	Label   string
	Command string
}

// Retry offers to regenerate the last reply.
func Retry() Affordance {
	return Affordance{Label: "Retry", Command: "/retry"}
}

// Resume offers to resume an expired conversation.
func Resume(conversationID uuid.UUID) Affordance {
	return Affordance{
		Label:   "Resume this conversation",
		Command: fmt.Sprintf("/resume_%s", conversationID),
	}
}

// Presenter delivers text to a chat.
type Presenter interface {
	// Send posts a new message and returns the slot ID later updates target.
	Send(ctx context.Context, chatID, text string, affordances ...Affordance) (string, error)
	// Update replaces the text of an in-progress slot.
	Update(ctx context.Context, chatID, slotID, text string) error
	// Finalize replaces the text of a slot for the last time and attaches affordances.
	Finalize(ctx context.Context, chatID, slotID, text string, affordances ...Affordance) error
}

// GeneratingText renders partial content for an intermediate update, cut to
// leave headroom for the generating marker under limit.
func GeneratingText(content string, limit int) string {
	budget := max(0, limit-displayHeadroom)
	if utf8.RuneCountInString(content) > budget {
		return Prefix(content, budget) + cutMarker + generatingSuffix
	}
	return content + generatingSuffix
}

// Render appends affordances to text as command hints, one per line, for
// channels without inline buttons.
func Render(text string, affordances []Affordance) string {
	if len(affordances) == 0 {
		return text
	}

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	for _, a := range affordances {
		b.WriteString("\n")
		b.WriteString(a.Label)
		b.WriteString(": ")
		b.WriteString(a.Command)
	}
	return b.String()
}

// AffordanceLength is the number of characters Render adds for affordances.
func AffordanceLength(affordances []Affordance) int {
	return utf8.RuneCountInString(Render("", affordances))
}

// Prefix returns the first n characters of s.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
