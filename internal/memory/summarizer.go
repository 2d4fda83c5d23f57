package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/pointcrash/ai-dm-bot/internal/llm"
)

const summaryInstruction = `You keep the chronicle of a tabletop role-playing campaign.
You receive the previous chronicle (if any) and a new stretch of the conversation between the players and the Dungeon Master.
Write an updated chronicle that:
- keeps events in chronological order;
- preserves every plot-significant event: decisions and their consequences, fights and their outcomes, items gained or lost, NPCs met, quests received, secrets uncovered and changes to the world;
- names each player character involved and what they did;
- lists unresolved threads at the end;
- leaves out flavor text that changes nothing;
- never invents details that are not in the input;
- stays under 500 words.
Reply with the chronicle as plain text only.`

// LLMSummarizer implements Summarizer over a completion collaborator.
type LLMSummarizer struct {
	completer *llm.Completer
}

// NewLLMSummarizer returns a summarizer backed by completer.
func NewLLMSummarizer(completer *llm.Completer) *LLMSummarizer {
	return &LLMSummarizer{completer: completer}
}

// Summarize returns the completion verbatim. A failure is a *llm.CompletionError.
func (s *LLMSummarizer) Summarize(ctx context.Context, turns []Turn, previous string) (string, error) {
	prompt := SummaryPrompt(turns, previous)
	out, err := s.completer.Complete(ctx, summaryInstruction, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return out, nil
}

// SummaryPrompt formats turns as "role: content" lines after the previous summary.
func SummaryPrompt(turns []Turn, previous string) string {
	var sb strings.Builder
	if previous != "" {
		sb.WriteString("Previous dialog context: ")
		sb.WriteString(previous)
		sb.WriteString("\n\n")
	}
	sb.WriteString("New dialog history:\n")
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
	}
	return sb.String()
}
