package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"faccende/internal/core"

	"github.com/shopspring/decimal"
)

// Per-1000-token pricing for the reasoning model.
var (
	promptCostPer1K     = decimal.RequireFromString("0.00015")
	completionCostPer1K = decimal.RequireFromString("0.0006")
	perThousand         = decimal.NewFromInt(1000)
)

// Ledger is the budget surface the gateway needs: a pre-flight
// affordability check and settlement of costs already incurred upstream.
type Ledger interface {
	CanAfford(ctx context.Context, estimate decimal.Decimal) (bool, error)
	RecordIncurredSpend(ctx context.Context, amount decimal.Decimal, note string) (core.BudgetTransaction, error)
}

// BiasSource supplies the feedback-derived adjustment per score dimension.
type BiasSource interface {
	Bias(dimension core.Dimension) int
}

// Gateway is the single doorway to the reasoning model. Every call is
// admission-checked against the budget before it leaves and settled
// against the ledger after it returns, including calls whose responses
// turn out to be unusable.
type Gateway struct {
	completer Completer
	ledger    Ledger
	bias      BiasSource
	estimate  decimal.Decimal
}

func NewGateway(completer Completer, ledger Ledger, bias BiasSource, estimatedMaxCost decimal.Decimal) *Gateway {
	return &Gateway{
		completer: completer,
		ledger:    ledger,
		bias:      bias,
		estimate:  estimatedMaxCost,
	}
}

// CallCost prices a completion from its token usage.
func CallCost(promptTokens, completionTokens int) decimal.Decimal {
	prompt := decimal.NewFromInt(int64(promptTokens)).Mul(promptCostPer1K).Div(perThousand)
	completion := decimal.NewFromInt(int64(completionTokens)).Mul(completionCostPer1K).Div(perThousand)
	return prompt.Add(completion)
}

type extractionWire struct {
	Tasks []struct {
		Title               string      `json:"title"`
		Summary             string      `json:"summary"`
		DueDate             string      `json:"due_date"`
		PotentialSavingsUSD json.Number `json:"potential_savings_usd"`
		ActionLinks         []core.Link `json:"action_links"`
	} `json:"tasks"`
}

type scoresWire struct {
	Importance   int `json:"importance"`
	Urgency      int `json:"urgency"`
	SavingsScore int `json:"savings_score"`
}

type instructionsWire struct {
	Steps     []string    `json:"steps"`
	Citations []core.Link `json:"citations"`
}

// ExtractTasks asks the model which actionable tasks a message contains.
// A message with nothing actionable yields an empty slice and no error.
func (g *Gateway) ExtractTasks(ctx context.Context, msg core.Message) ([]core.TaskCandidate, error) {
	completion, err := g.call(ctx, "extract", extractionSystemPrompt, extractionPrompt(msg))
	if err != nil {
		return nil, fmt.Errorf("extract tasks: %w", err)
	}

	var wire extractionWire
	if err := json.Unmarshal([]byte(completion.Text), &wire); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", core.ErrMalformedResponse)
	}

	candidates := make([]core.TaskCandidate, 0, len(wire.Tasks))
	for _, t := range wire.Tasks {
		if strings.TrimSpace(t.Title) == "" || strings.TrimSpace(t.Summary) == "" {
			slog.WarnContext(ctx, "Skipping extracted task without title or summary",
				"message_id", msg.ID)
			continue
		}
		c := core.TaskCandidate{
			Title:   strings.TrimSpace(t.Title),
			Summary: strings.TrimSpace(t.Summary),
			Actions: t.ActionLinks,
		}
		if due := parseDueDate(t.DueDate); due != nil {
			c.DueAt = due
		}
		if s := string(t.PotentialSavingsUSD); s != "" {
			if d, err := decimal.NewFromString(s); err == nil && d.IsPositive() {
				c.SavingsUSD = &d
			}
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// ScoreTask asks the model to score a candidate. The returned scores are
// always usable: on any failure they fall back to the defaults. Feedback
// bias is added before clamping in both paths, so a persistent thumbs-up
// on urgency lifts even fallback scores.
func (g *Gateway) ScoreTask(ctx context.Context, c core.TaskCandidate) (core.Scores, error) {
	completion, err := g.call(ctx, "score", scoringSystemPrompt, scoringPrompt(c))
	if err != nil {
		return g.biased(core.DefaultScores()), fmt.Errorf("score task: %w", err)
	}

	var wire scoresWire
	if err := json.Unmarshal([]byte(completion.Text), &wire); err != nil {
		return g.biased(core.DefaultScores()), fmt.Errorf("parse scoring response: %w", core.ErrMalformedResponse)
	}

	return g.biased(core.Scores{
		Importance:   wire.Importance,
		Urgency:      wire.Urgency,
		SavingsScore: wire.SavingsScore,
	}), nil
}

// GenerateInstructions asks the model for step-by-step instructions to
// complete a task.
func (g *Gateway) GenerateInstructions(ctx context.Context, t core.Task) ([]string, []core.Link, error) {
	completion, err := g.call(ctx, "instructions", instructionsSystemPrompt, instructionsPrompt(t))
	if err != nil {
		return nil, nil, fmt.Errorf("generate instructions: %w", err)
	}

	var wire instructionsWire
	if err := json.Unmarshal([]byte(completion.Text), &wire); err != nil {
		return nil, nil, fmt.Errorf("parse instructions response: %w", core.ErrMalformedResponse)
	}
	return wire.Steps, wire.Citations, nil
}

func (g *Gateway) call(ctx context.Context, op, system, prompt string) (Completion, error) {
	ok, err := g.ledger.CanAfford(ctx, g.estimate)
	if err != nil {
		return Completion{}, fmt.Errorf("budget check: %w", err)
	}
	if !ok {
		return Completion{}, fmt.Errorf("%s call blocked: %w", op, core.ErrBudgetExhausted)
	}

	completion, callErr := g.completer.Complete(ctx, system, prompt)
	g.settle(ctx, op, completion)
	if callErr != nil {
		return completion, callErr
	}
	return completion, nil
}

// settle books the actual cost of a call whenever the backend reported
// usage, whether or not the response was usable.
func (g *Gateway) settle(ctx context.Context, op string, completion Completion) {
	if completion.PromptTokens == 0 && completion.CompletionTokens == 0 {
		return
	}
	cost := CallCost(completion.PromptTokens, completion.CompletionTokens)
	if !cost.IsPositive() {
		return
	}
	if _, err := g.ledger.RecordIncurredSpend(ctx, cost, "reasoning "+op); err != nil {
		slog.ErrorContext(ctx, "Failed to record reasoning spend",
			"operation", op,
			"cost", cost.String(),
			"error", err)
		return
	}
	slog.DebugContext(ctx, "Reasoning spend recorded",
		"operation", op,
		"prompt_tokens", completion.PromptTokens,
		"completion_tokens", completion.CompletionTokens,
		"cost", cost.String())
}

func (g *Gateway) biased(s core.Scores) core.Scores {
	if g.bias != nil {
		s.Importance += g.bias.Bias(core.DimensionImportance)
		s.Urgency += g.bias.Bias(core.DimensionUrgency)
		s.SavingsScore += g.bias.Bias(core.DimensionSavings)
	}
	return s.Clamp()
}

func parseDueDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
