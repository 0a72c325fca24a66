// Package contextwindow derives the bounded history sent along with each
// generation request.
package contextwindow

import (
	"strings"

	"github.com/PabloGalante/riseup-agent/internal/domain"
)

// DefaultSize is the number of most recent turns considered for context.
const DefaultSize = 10

// Build returns the context window for the default size.
func Build(turns []domain.Turn) []domain.ContextEntry {
	return BuildN(turns, DefaultSize)
}

// BuildN takes the last n turns of the log and drops those whose trimmed
// text is empty. The cut happens before the filtering, so the window can
// hold fewer than n entries. Entries come out oldest first with trimmed text.
func BuildN(turns []domain.Turn, n int) []domain.ContextEntry {
	if n <= 0 {
		n = DefaultSize
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	window := make([]domain.ContextEntry, 0, len(turns))
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		window = append(window, domain.ContextEntry{Role: t.Role, Text: text})
	}
	return window
}
