package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"faccende/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BudgetSummary is the ledger rollup served to callers: current balance
// plus lifetime totals per direction.
type BudgetSummary struct {
	Balance    decimal.Decimal
	TotalAdded decimal.Decimal
	TotalSpent decimal.Decimal
}

// RecordTransaction appends a validated entry to the ledger. Spends are
// admission-controlled: the balance check and the append run under one
// mutex so two concurrent spends cannot both pass against the same funds.
// When overrun is allowed by policy, spends that exceed the balance are
// admitted anyway, tagged in the note and logged.
func (r *Repository) RecordTransaction(ctx context.Context, kind core.TransactionKind, amount decimal.Decimal, note string) (core.BudgetTransaction, error) {
	tx := core.BudgetTransaction{
		ID:        uuid.NewString(),
		Kind:      kind,
		Amount:    amount,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.Validate(); err != nil {
		return core.BudgetTransaction{}, err
	}

	r.ledgerMu.Lock()
	defer r.ledgerMu.Unlock()

	var overrun bool
	var balance decimal.Decimal
	if kind == core.KindSpend {
		var err error
		balance, err = r.balanceLocked(ctx)
		if err != nil {
			return core.BudgetTransaction{}, err
		}
		if amount.GreaterThan(balance) {
			if !r.opts.AllowOverrun {
				return core.BudgetTransaction{}, fmt.Errorf(
					"spend %s against balance %s: %w",
					core.FormatUSD(amount), core.FormatUSD(balance), core.ErrInsufficientBudget)
			}
			overrun = true
			if !strings.HasPrefix(tx.Note, "overrun:") {
				tx.Note = "overrun: " + tx.Note
			}
		}
	}

	if err := r.insertTransaction(ctx, tx); err != nil {
		return core.BudgetTransaction{}, err
	}

	if overrun {
		slog.WarnContext(ctx, "Budget overrun recorded",
			"amount", core.FormatUSD(amount),
			"balance_before", core.FormatUSD(balance),
			"balance_after", core.FormatUSD(balance.Sub(amount)))
	}
	return tx, nil
}

// RecordIncurredSpend books a cost that has already been paid to an
// upstream provider. It never fails the balance check: real spend is
// recorded even when it drives the ledger negative, with the note tagged
// and a warning emitted so the overrun is visible.
func (r *Repository) RecordIncurredSpend(ctx context.Context, amount decimal.Decimal, note string) (core.BudgetTransaction, error) {
	if amount.Sign() <= 0 {
		return core.BudgetTransaction{}, fmt.Errorf("incurred spend %s: %w", amount, core.ErrInvalidAmount)
	}

	r.ledgerMu.Lock()
	defer r.ledgerMu.Unlock()

	balance, err := r.balanceLocked(ctx)
	if err != nil {
		return core.BudgetTransaction{}, err
	}
	if amount.GreaterThan(balance) && !strings.HasPrefix(note, "overrun:") {
		note = "overrun: " + note
	}

	tx := core.BudgetTransaction{
		ID:        uuid.NewString(),
		Kind:      core.KindSpend,
		Amount:    amount,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.insertTransaction(ctx, tx); err != nil {
		return core.BudgetTransaction{}, err
	}

	if amount.GreaterThan(balance) {
		slog.WarnContext(ctx, "Budget overrun recorded",
			"amount", core.FormatUSD(amount),
			"balance_before", core.FormatUSD(balance),
			"balance_after", core.FormatUSD(balance.Sub(amount)))
	}
	return tx, nil
}

// Balance returns the current ledger balance: adds minus spends.
func (r *Repository) Balance(ctx context.Context) (decimal.Decimal, error) {
	r.ledgerMu.Lock()
	defer r.ledgerMu.Unlock()
	return r.balanceLocked(ctx)
}

// CanAfford reports whether the balance covers an estimated cost. It is a
// pre-flight hint only; actual spend is settled through RecordIncurredSpend.
func (r *Repository) CanAfford(ctx context.Context, estimate decimal.Decimal) (bool, error) {
	balance, err := r.Balance(ctx)
	if err != nil {
		return false, err
	}
	return balance.GreaterThanOrEqual(estimate), nil
}

// BudgetSummary rolls up the ledger in one pass.
func (r *Repository) BudgetSummary(ctx context.Context) (BudgetSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, amount_usd FROM budget_transactions`)
	if err != nil {
		return BudgetSummary{}, fmt.Errorf("read ledger: %w", err)
	}
	defer rows.Close()

	summary := BudgetSummary{
		Balance:    decimal.Zero,
		TotalAdded: decimal.Zero,
		TotalSpent: decimal.Zero,
	}
	for rows.Next() {
		var kind, amount string
		if err := rows.Scan(&kind, &amount); err != nil {
			return BudgetSummary{}, fmt.Errorf("scan ledger entry: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return BudgetSummary{}, fmt.Errorf("parse ledger amount %q: %w", amount, err)
		}
		switch core.TransactionKind(kind) {
		case core.KindAdd:
			summary.TotalAdded = summary.TotalAdded.Add(d)
		case core.KindSpend:
			summary.TotalSpent = summary.TotalSpent.Add(d)
		}
	}
	if err := rows.Err(); err != nil {
		return BudgetSummary{}, fmt.Errorf("iterate ledger: %w", err)
	}
	summary.Balance = summary.TotalAdded.Sub(summary.TotalSpent)
	return summary, nil
}

// ListTransactions returns ledger entries newest first.
func (r *Repository) ListTransactions(ctx context.Context, limit int) ([]core.BudgetTransaction, error) {
	query := `SELECT id, kind, amount_usd, note, created_at
		FROM budget_transactions ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.BudgetTransaction
	for rows.Next() {
		var (
			tx     core.BudgetTransaction
			kind   string
			amount string
		)
		if err := rows.Scan(&tx.ID, &kind, &amount, &tx.Note, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Kind = core.TransactionKind(kind)
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		tx.Amount = d
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

func (r *Repository) balanceLocked(ctx context.Context) (decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, amount_usd FROM budget_transactions`)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read ledger: %w", err)
	}
	defer rows.Close()

	balance := decimal.Zero
	for rows.Next() {
		var kind, amount string
		if err := rows.Scan(&kind, &amount); err != nil {
			return decimal.Zero, fmt.Errorf("scan ledger entry: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse ledger amount %q: %w", amount, err)
		}
		switch core.TransactionKind(kind) {
		case core.KindAdd:
			balance = balance.Add(d)
		case core.KindSpend:
			balance = balance.Sub(d)
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("iterate ledger: %w", err)
	}
	return balance, nil
}

func (r *Repository) insertTransaction(ctx context.Context, tx core.BudgetTransaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budget_transactions (id, kind, amount_usd, note, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		tx.ID, string(tx.Kind), tx.Amount.String(), tx.Note, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
