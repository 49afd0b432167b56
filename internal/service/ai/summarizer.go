package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var ErrEmptySummary = errors.New("model returned an empty summary")

// Summarizer turns meeting text into a report. Implementations must honor
// ctx cancellation.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// PromptFunc renders the system and user messages for one request.
type PromptFunc func(text string) []*schema.Message

// ChatSummarizer asks a chat model for a single, non-streamed report.
type ChatSummarizer struct {
	chatModel model.BaseChatModel
	prompt    PromptFunc
}

// NewChatSummarizer uses ReportPrompt when prompt is nil.
func NewChatSummarizer(chatModel model.BaseChatModel, prompt PromptFunc) *ChatSummarizer {
	if prompt == nil {
		prompt = ReportPrompt
	}
	return &ChatSummarizer{chatModel: chatModel, prompt: prompt}
}

func (s *ChatSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if s.chatModel == nil {
		return "", errors.New("chat model not configured")
	}
	resp, err := s.chatModel.Generate(ctx, s.prompt(text))
	if err != nil {
		return "", fmt.Errorf("generate summary failed: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptySummary
	}
	return resp.Content, nil
}

const reportSystemPrompt = "You are a senior Product Owner experienced in agile methods. " +
	"You analyse transcripts of team ceremonies (daily stand-ups, sprint reviews and planning sessions) " +
	"and write structured Markdown reports for stakeholders. " +
	"You are only an analyst: never assign an action item to yourself. " +
	"Keep a professional, results-oriented tone and never attribute a task to the wrong person."

const reportTemplate = `Analyse the transcript below and write a report that follows this template exactly:

# Analysis Report - [Squad or Project Name]
**Date:** [Analysis date] | **Squad:** [Squad name or "Default"] | **Event:** [Inferred ceremony type]

---

### Executive Summary
[A concise paragraph on the main progress points and the team's current situation.]

---

### Blockers
**[Person/Area] - [Problem title]:**
- **Problem:** [Detailed description of the blocker]
- **Sub-blocker:** [If any]
- **Impact:** [The real risk to delivery]

---

### Next Steps (Action Items)
**[Person/Role]:**
- **Action:** [A clear task]
- **Owner:** [Name or role]

(Leave two blank lines between different people or roles so names are never mixed.)

---

### Risk Analysis
- **[Category] risk ([Level: High/Medium/Low]):** [The risk and why the transcript suggests it.]

Use bold for the name headings.

Transcript:
`

// ReportPrompt renders the Product Owner report request for text.
func ReportPrompt(text string) []*schema.Message {
	return []*schema.Message{
		{
			Role:    schema.System,
			Content: reportSystemPrompt,
		},
		{
			Role:    schema.User,
			Content: reportTemplate + text,
		},
	}
}
