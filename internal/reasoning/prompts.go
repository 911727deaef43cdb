package reasoning

import (
	"fmt"
	"strings"
	"time"

	"faccende/internal/core"
)

const extractionSystemPrompt = `You are a household operations assistant. You read household
correspondence and extract actionable tasks. Respond with JSON only, no
prose, using this shape:
{"tasks": [{"title": "...", "summary": "...", "due_date": "YYYY-MM-DD",
"potential_savings_usd": 0, "action_links": [{"label": "...", "url": "..."}]}]}
Omit due_date when no deadline is stated. Omit potential_savings_usd when
no monetary saving applies. Return {"tasks": []} when nothing is actionable.`

const scoringSystemPrompt = `You score household tasks on three dimensions, each an integer
from 0 to 100: importance (long-term impact on the household), urgency
(time pressure) and savings_score (money-saving potential). Respond with
JSON only: {"importance": 0, "urgency": 0, "savings_score": 0}`

const instructionsSystemPrompt = `You write concrete step-by-step instructions for completing a
household task. Respond with JSON only:
{"steps": ["..."], "citations": [{"label": "...", "url": "..."}]}
Keep steps short and actionable. Cite sources only when you are confident
they exist.`

func extractionPrompt(msg core.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source message received %s.\n", msg.Timestamp.Format(time.RFC3339))
	if msg.Sender != "" {
		fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	}
	if msg.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	}
	fmt.Fprintf(&b, "\n%s\n", msg.Body)
	return b.String()
}

func scoringPrompt(c core.TaskCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", c.Title)
	fmt.Fprintf(&b, "Details: %s\n", c.Summary)
	if c.DueAt != nil {
		fmt.Fprintf(&b, "Due: %s\n", c.DueAt.Format("2006-01-02"))
	}
	if c.SavingsUSD != nil {
		fmt.Fprintf(&b, "Estimated savings: %s\n", core.FormatUSD(*c.SavingsUSD))
	}
	return b.String()
}

func instructionsPrompt(t core.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Title)
	fmt.Fprintf(&b, "Details: %s\n", t.Summary)
	if t.DueAt != nil {
		fmt.Fprintf(&b, "Due: %s\n", t.DueAt.Format("2006-01-02"))
	}
	return b.String()
}
