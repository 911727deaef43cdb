package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SourceEmail SourceType = "email"
	SourceChat  SourceType = "chat"
)

const (
	StatusOpen      TaskStatus = "open"
	StatusDone      TaskStatus = "done"
	StatusDismissed TaskStatus = "dismissed"
)

const (
	KindAdd   TransactionKind = "add"
	KindSpend TransactionKind = "spend"
)

const (
	DimensionImportance Dimension = "importance"
	DimensionUrgency    Dimension = "urgency"
	DimensionSavings    Dimension = "savings"
)

type (
	SourceType      string
	TaskStatus      string
	TransactionKind string
	Dimension       string

	// Link is a labelled URL attached to a task, either as a suggested
	// action or as a citation backing generated instructions.
	Link struct {
		Label string `json:"label"`
		URL   string `json:"url"`
	}

	Scores struct {
		Importance   int `json:"importance"`
		Urgency      int `json:"urgency"`
		SavingsScore int `json:"savingsScore"`
	}

	Task struct {
		ID           string
		DedupKey     string
		Title        string
		Summary      string
		Source       SourceType
		ReceivedAt   time.Time
		DueAt        *time.Time
		SavingsUSD   *decimal.Decimal
		Importance   int
		Urgency      int
		SavingsScore int
		Status       TaskStatus
		Instructions []string
		Actions      []Link
		Citations    []Link
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	// TaskCandidate is an unscored, unpersisted task proposal produced by
	// extraction, prior to scoring and storage.
	TaskCandidate struct {
		Title      string
		Summary    string
		DueAt      *time.Time
		SavingsUSD *decimal.Decimal
		Actions    []Link
	}

	BudgetTransaction struct {
		ID        string
		Kind      TransactionKind
		Amount    decimal.Decimal
		Note      string
		CreatedAt time.Time
	}

	Feedback struct {
		ID        string
		TaskID    string
		Dimension Dimension
		Signal    int
		CreatedAt time.Time
	}

	// Message is a raw inbound message from a source collaborator.
	Message struct {
		ID        string
		Subject   string
		Sender    string
		Timestamp time.Time
		Body      string
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrBudgetExhausted    = errors.New("budget exhausted")
	ErrMalformedResponse  = errors.New("malformed reasoning response")
	ErrServiceUnavailable = errors.New("reasoning service unavailable")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidDimension   = errors.New("invalid feedback dimension")
	ErrInvalidSignal      = errors.New("invalid feedback signal")
	ErrEmptyTitle         = errors.New("empty title")
	ErrEmptySummary       = errors.New("empty summary")
	ErrInvalidSource      = errors.New("invalid source type")
	ErrInvalidSort        = errors.New("unsupported sort")
)

// DefaultScores is the deliberate fallback when a scoring call fails:
// middle-of-the-road importance and urgency, no claimed savings.
func DefaultScores() Scores {
	return Scores{Importance: 50, Urgency: 50, SavingsScore: 0}
}

// ClampScore forces a score into the [0,100] range.
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Clamp returns a copy with every dimension clamped to [0,100].
func (s Scores) Clamp() Scores {
	return Scores{
		Importance:   ClampScore(s.Importance),
		Urgency:      ClampScore(s.Urgency),
		SavingsScore: ClampScore(s.SavingsScore),
	}
}

func (s SourceType) Valid() bool {
	return s == SourceEmail || s == SourceChat
}

func (s TaskStatus) Valid() bool {
	return s == StatusOpen || s == StatusDone || s == StatusDismissed
}

// Terminal reports whether a status permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusDismissed
}

// CheckTransition validates a status change. Only open→done and
// open→dismissed are permitted; terminal states never leave.
func CheckTransition(from, to TaskStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, string(to))
	}
	if from == to {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, string(from))
	}
	return nil
}

func (d Dimension) Valid() bool {
	return d == DimensionImportance || d == DimensionUrgency || d == DimensionSavings
}

func (f Feedback) Validate() error {
	if strings.TrimSpace(f.TaskID) == "" {
		return fmt.Errorf("%w: missing task id", ErrNotFound)
	}
	if !f.Dimension.Valid() {
		return ErrInvalidDimension
	}
	if f.Signal != 1 && f.Signal != -1 {
		return ErrInvalidSignal
	}
	return nil
}

func (t BudgetTransaction) Validate() error {
	if t.Kind != KindAdd && t.Kind != KindSpend {
		return fmt.Errorf("invalid transaction kind %q", string(t.Kind))
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Signed returns the transaction's contribution to the running balance:
// +amount for add, -amount for spend.
func (t BudgetTransaction) Signed() decimal.Decimal {
	if t.Kind == KindSpend {
		return t.Amount.Neg()
	}
	return t.Amount
}

func (t Task) Validate() error {
	if len(strings.TrimSpace(t.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(t.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	if len(strings.TrimSpace(t.Summary)) == 0 {
		return ErrEmptySummary
	}
	if !t.Source.Valid() {
		return ErrInvalidSource
	}
	if t.ReceivedAt.IsZero() {
		return errors.New("received-at cannot be zero")
	}
	return nil
}

// DedupKey derives the stable idempotency key for one extracted candidate.
// A single source message may yield several tasks; the ordinal keeps each
// candidate's key distinct while re-fetches of the same message map back to
// the same keys.
func DedupKey(source SourceType, messageID string, ordinal int) string {
	return fmt.Sprintf("%s:%s:%d", source, messageID, ordinal)
}
