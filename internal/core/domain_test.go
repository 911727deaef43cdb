package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestClampScore(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{-5, 0},
		{0, 0},
		{50, 50},
		{100, 100},
		{150, 100},
	}
	for _, tc := range cases {
		if got := ClampScore(tc.in); got != tc.want {
			t.Errorf("ClampScore(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestScoresClamp(t *testing.T) {
	s := Scores{Importance: 150, Urgency: -5, SavingsScore: 40}.Clamp()
	if s.Importance != 100 || s.Urgency != 0 || s.SavingsScore != 40 {
		t.Errorf("unexpected clamped scores: %+v", s)
	}
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TaskStatus
		to      TaskStatus
		wantErr bool
	}{
		{"open to done", StatusOpen, StatusDone, false},
		{"open to dismissed", StatusOpen, StatusDismissed, false},
		{"done to open", StatusDone, StatusOpen, true},
		{"dismissed to done", StatusDismissed, StatusDone, true},
		{"done to done is a no-op", StatusDone, StatusDone, false},
		{"unknown target", StatusOpen, TaskStatus("archived"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckTransition(%s, %s) err = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestBudgetTransactionValidate(t *testing.T) {
	valid := BudgetTransaction{Kind: KindAdd, Amount: decimal.NewFromFloat(5)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid transaction rejected: %v", err)
	}

	zero := BudgetTransaction{Kind: KindSpend, Amount: decimal.Zero}
	if err := zero.Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got %v", err)
	}

	negative := BudgetTransaction{Kind: KindSpend, Amount: decimal.NewFromFloat(-1)}
	if err := negative.Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount: expected ErrInvalidAmount, got %v", err)
	}
}

func TestBudgetTransactionSigned(t *testing.T) {
	add := BudgetTransaction{Kind: KindAdd, Amount: decimal.RequireFromString("5.00")}
	spend := BudgetTransaction{Kind: KindSpend, Amount: decimal.RequireFromString("2.50")}
	if !add.Signed().Equal(decimal.RequireFromString("5.00")) {
		t.Errorf("add signed = %s", add.Signed())
	}
	if !spend.Signed().Equal(decimal.RequireFromString("-2.50")) {
		t.Errorf("spend signed = %s", spend.Signed())
	}
}

func TestFeedbackValidate(t *testing.T) {
	base := Feedback{TaskID: "t1", Dimension: DimensionUrgency, Signal: 1}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid feedback rejected: %v", err)
	}

	bad := base
	bad.Dimension = "priority"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("expected ErrInvalidDimension, got %v", err)
	}

	bad = base
	bad.Signal = 2
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSignal) {
		t.Errorf("expected ErrInvalidSignal, got %v", err)
	}
}

func TestTaskValidate(t *testing.T) {
	task := Task{
		Title:      "Renew car insurance",
		Summary:    "Policy expires at the end of the month",
		Source:     SourceEmail,
		ReceivedAt: time.Now(),
	}
	if err := task.Validate(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}

	noTitle := task
	noTitle.Title = "  "
	if err := noTitle.Validate(); !errors.Is(err, ErrEmptyTitle) {
		t.Errorf("expected ErrEmptyTitle, got %v", err)
	}

	badSource := task
	badSource.Source = "fax"
	if err := badSource.Validate(); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("expected ErrInvalidSource, got %v", err)
	}
}

func TestDedupKey(t *testing.T) {
	if got := DedupKey(SourceEmail, "msg-9", 0); got != "email:msg-9:0" {
		t.Errorf("DedupKey = %q", got)
	}
	if DedupKey(SourceEmail, "msg-9", 0) == DedupKey(SourceEmail, "msg-9", 1) {
		t.Error("ordinals must produce distinct keys")
	}
	if DedupKey(SourceEmail, "m", 1) == DedupKey(SourceChat, "m", 1) {
		t.Error("source types must produce distinct keys")
	}
}
