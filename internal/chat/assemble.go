package chat

import (
	"strings"

	"scriptgate/internal/domain"
)

// Assemble builds the turn sequence for a generation call using the
// compiled-in greetings.
func Assemble(history []domain.Turn, message string, page domain.PageContext) []domain.Turn {
	return DefaultGreetings().Assemble(history, message, page)
}

// Assemble builds the turn sequence for a generation call.
//
// On the first turn of a conversation that names a page, two synthetic
// turns come first: a user note describing the page and the assistant
// greeting for it. Real history follows, minus turns missing a role or
// content, then the new message. history is never modified.
func (g Greetings) Assemble(history []domain.Turn, message string, page domain.PageContext) []domain.Turn {
	out := make([]domain.Turn, 0, len(history)+3)

	if len(history) == 0 && page.PageType != "" {
		out = append(out,
			domain.Turn{Role: domain.RoleUser, Content: PageNote(page)},
			domain.Turn{Role: domain.RoleAssistant, Content: g.For(page.PageType)},
		)
	}

	for _, t := range history {
		if t.Role == "" || t.Content == "" {
			continue
		}
		out = append(out, t)
	}

	return append(out, domain.Turn{Role: domain.RoleUser, Content: message})
}

// PageNote renders the machine-readable page marker sent as the first turn.
func PageNote(page domain.PageContext) string {
	var sb strings.Builder
	sb.WriteString("\n\n[Page Context: User is viewing the ")
	sb.WriteString(page.EffectivePageType())
	sb.WriteString(" page")
	if page.UTMSource != "" {
		sb.WriteString(", came from ")
		sb.WriteString(page.UTMSource)
	}
	sb.WriteString("]")
	return sb.String()
}

// boundHistory keeps the most recent limit turns.
func boundHistory(history []domain.Turn, limit int) []domain.Turn {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
