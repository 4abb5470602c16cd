// Package context bounds the conversation history handed to a model call and
// assembles the system instruction around it.
//
// Import with an alias to avoid clashing with the standard library:
//
//	ctxwin "indiistudio/internal/context"
package context

// TruncationMarker is prepended to histories that exceeded their budget.
const TruncationMarker = "[...older history truncated...]\n"

// Prepare bounds history to budgetChars characters.
// Histories within budget are returned unchanged. Longer histories keep their
// most recent budgetChars characters behind TruncationMarker, so the result is
// never longer than budgetChars plus the marker. Characters are runes.
func Prepare(history string, budgetChars int) string {
	if budgetChars < 0 {
		budgetChars = 0
	}
	// Fast path: byte length bounds rune count.
	if len(history) <= budgetChars {
		return history
	}
	runes := []rune(history)
	if len(runes) <= budgetChars {
		return history
	}
	return TruncationMarker + string(runes[len(runes)-budgetChars:])
}

// Truncated reports whether Prepare would cut history.
func Truncated(history string, budgetChars int) bool {
	return Prepare(history, budgetChars) != history
}
