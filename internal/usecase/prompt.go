package usecase

import (
	"fmt"
	"strings"
)

const (
	minSummarySentences = 10
	maxSummarySentences = 40
)

// buildReplyPrompt frames the persona, the running summary, and the new
// message as a single instruction. Inputs are used verbatim and never
// truncated.
func buildReplyPrompt(persona, priorSummary, message string) string {
	return strings.Join([]string{
		persona,
		"",
		"Conversation so far (summarized):",
		priorSummary,
		"",
		"User's new message:",
		quote(message),
		"",
		"Assistant, please respond:",
		"",
	}, "\n")
}

// buildSummarizationPrompt asks for a replacement summary that folds the
// latest exchange into priorSummary.
func buildSummarizationPrompt(priorSummary, message, reply string) string {
	return strings.Join([]string{
		"",
		"Previous summary:",
		priorSummary,
		"",
		"User's latest message:",
		quote(message),
		"",
		"Assistant's reply:",
		quote(reply),
		"",
		"Please provide an updated very detailed summary of these contents.",
		fmt.Sprintf("No less than %d sentences, use detail", minSummarySentences),
		fmt.Sprintf("No more than %d sentences if needed", maxSummarySentences),
		"",
		"If repeated themes start occurring take them into consideration for your response.",
		"",
	}, "\n")
}

func quote(s string) string {
	return `"` + s + `"`
}
