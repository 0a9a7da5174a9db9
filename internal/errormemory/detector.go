package errormemory

import "strings"

// negationMarkers and correctionPhrases are checked, in order, against a
// lowercased user message. Ordered rules rather than one combined regex,
// matching the layered detection style used elsewhere in the pack for
// correction/fact extraction.
var negationMarkers = []string{"no, ", "not that", "that's wrong", "that is wrong", "incorrect"}
var correctionPhrases = []string{"i meant", "i actually meant", "what i meant was", "actually i wanted"}

const shortReplyWordLimit = 6

// IsCorrection applies a small ordered rule set to decide whether
// userMessage is correcting the assistant's previous turn:
//  1. explicit negation markers ("no, ...", "that's wrong")
//  2. "I meant ..." / "what I meant was ..." phrasing
//  3. a short reply immediately following a long assistant turn, which
//     in practice is almost always a correction or clarification request
func IsCorrection(userMessage, previousAssistantResponse string) bool {
	low := strings.ToLower(strings.TrimSpace(userMessage))
	if low == "" {
		return false
	}

	for _, marker := range negationMarkers {
		if strings.HasPrefix(low, marker) || strings.Contains(low, marker) {
			return true
		}
	}
	for _, phrase := range correctionPhrases {
		if strings.Contains(low, phrase) {
			return true
		}
	}

	words := strings.Fields(low)
	if len(words) <= shortReplyWordLimit && len(strings.Fields(previousAssistantResponse)) > 40 {
		return true
	}

	return false
}
