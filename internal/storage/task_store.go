package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"faccende/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UpsertTaskParams carries the mutable fields written on first sighting of
// a dedup key and refreshed on re-processing of the same source message.
type UpsertTaskParams struct {
	Title      string
	Summary    string
	Source     core.SourceType
	ReceivedAt time.Time
	DueAt      *time.Time
	SavingsUSD *decimal.Decimal
	Scores     core.Scores
	Actions    []core.Link
}

type TaskFilter struct {
	Status *core.TaskStatus
	Source *core.SourceType
	// Sort is one of urgency, importance, savings_score (descending) or
	// received_at (ascending, the default).
	Sort string
}

const taskColumns = `id, dedup_key, title, summary, source_type, received_at, due_at,
	savings_usd, importance, urgency, savings_score, status,
	instructions, actions, citations, created_at, updated_at`

// UpsertTaskByDedupKey is the idempotency boundary of the pipeline: the
// first call for a key creates an open task, later calls refresh its
// mutable fields and never mint a second id.
func (r *Repository) UpsertTaskByDedupKey(ctx context.Context, key string, p UpsertTaskParams) (core.Task, bool, error) {
	scores := p.Scores.Clamp()

	candidate := core.Task{
		Title:      p.Title,
		Summary:    p.Summary,
		Source:     p.Source,
		ReceivedAt: p.ReceivedAt,
	}
	if err := candidate.Validate(); err != nil {
		return core.Task{}, false, fmt.Errorf("validate task: %w", err)
	}

	actionsJSON, err := marshalLinks(p.Actions)
	if err != nil {
		return core.Task{}, false, fmt.Errorf("marshal actions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Task{}, false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM tasks WHERE dedup_key = ?`, key).Scan(&existingID)
	now := time.Now().UTC()

	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET title = ?, summary = ?, due_at = ?, savings_usd = ?,
			    importance = ?, urgency = ?, savings_score = ?,
			    actions = ?, updated_at = ?
			WHERE id = ?`,
			p.Title, p.Summary, nullTime(p.DueAt), nullDecimal(p.SavingsUSD),
			scores.Importance, scores.Urgency, scores.SavingsScore,
			actionsJSON, now, existingID)
		if err != nil {
			return core.Task{}, false, fmt.Errorf("update task: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return core.Task{}, false, fmt.Errorf("commit upsert: %w", err)
		}
		task, err := r.GetTask(ctx, existingID)
		return task, false, err

	case errors.Is(err, sql.ErrNoRows):
		id := uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, dedup_key, title, summary, source_type, received_at,
				due_at, savings_usd, importance, urgency, savings_score, status,
				actions, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, key, p.Title, p.Summary, string(p.Source), p.ReceivedAt.UTC(),
			nullTime(p.DueAt), nullDecimal(p.SavingsUSD),
			scores.Importance, scores.Urgency, scores.SavingsScore, string(core.StatusOpen),
			actionsJSON, now, now)
		if err != nil {
			return core.Task{}, false, fmt.Errorf("insert task: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return core.Task{}, false, fmt.Errorf("commit upsert: %w", err)
		}

		slog.InfoContext(ctx, "Task created",
			"id", id,
			"dedup_key", key,
			"source", string(p.Source),
			"title", p.Title)

		task, err := r.GetTask(ctx, id)
		return task, true, err

	default:
		return core.Task{}, false, fmt.Errorf("look up dedup key: %w", err)
	}
}

func (r *Repository) GetTask(ctx context.Context, id string) (core.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Task{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks matching the filter. Score sorts are descending,
// received_at ascending; ties break on id for a stable order.
func (r *Repository) ListTasks(ctx context.Context, f TaskFilter) ([]core.Task, error) {
	orderBy, err := sortClause(f.Sort)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.Source != nil {
		query += ` AND source_type = ?`
		args = append(args, string(*f.Source))
	}
	query += ` ORDER BY ` + orderBy

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// SetTaskStatus applies a lifecycle transition. Terminal states (done,
// dismissed) never transition back; attempts fail with ErrInvalidTransition.
func (r *Repository) SetTaskStatus(ctx context.Context, id string, status core.TaskStatus) (core.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Task{}, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Task{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Task{}, fmt.Errorf("read task status: %w", err)
	}

	if err := core.CheckTransition(core.TaskStatus(current), status); err != nil {
		return core.Task{}, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return core.Task{}, fmt.Errorf("update task status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Task{}, fmt.Errorf("commit status update: %w", err)
	}

	slog.InfoContext(ctx, "Task status changed", "id", id, "from", current, "to", string(status))
	return r.GetTask(ctx, id)
}

// SetTaskScores updates the provided score dimensions, clamping each to
// [0,100]. Nil values leave the stored score untouched.
func (r *Repository) SetTaskScores(ctx context.Context, id string, importance, urgency, savingsScore *int) (core.Task, error) {
	query := `UPDATE tasks SET updated_at = ?`
	args := []any{time.Now().UTC()}
	if importance != nil {
		query += `, importance = ?`
		args = append(args, core.ClampScore(*importance))
	}
	if urgency != nil {
		query += `, urgency = ?`
		args = append(args, core.ClampScore(*urgency))
	}
	if savingsScore != nil {
		query += `, savings_score = ?`
		args = append(args, core.ClampScore(*savingsScore))
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return core.Task{}, fmt.Errorf("update task scores: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Task{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return core.Task{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	return r.GetTask(ctx, id)
}

// SetTaskInstructions stores generated step-by-step instructions and their
// citations on the task.
func (r *Repository) SetTaskInstructions(ctx context.Context, id string, steps []string, citations []core.Link) (core.Task, error) {
	stepsJSON, err := marshalStrings(steps)
	if err != nil {
		return core.Task{}, fmt.Errorf("marshal instructions: %w", err)
	}
	citationsJSON, err := marshalLinks(citations)
	if err != nil {
		return core.Task{}, fmt.Errorf("marshal citations: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET instructions = ?, citations = ?, updated_at = ? WHERE id = ?`,
		stepsJSON, citationsJSON, time.Now().UTC(), id)
	if err != nil {
		return core.Task{}, fmt.Errorf("update task instructions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Task{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return core.Task{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	return r.GetTask(ctx, id)
}

// TaskExists reports whether a task id resolves, without loading the row.
func (r *Repository) TaskExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check task exists: %w", err)
	}
	return true, nil
}

func sortClause(sort string) (string, error) {
	switch sort {
	case "", "received_at":
		return "received_at ASC, id ASC", nil
	case "urgency":
		return "urgency DESC, received_at ASC, id ASC", nil
	case "importance":
		return "importance DESC, received_at ASC, id ASC", nil
	case "savings_score":
		return "savings_score DESC, received_at ASC, id ASC", nil
	default:
		return "", fmt.Errorf("%w: %q", core.ErrInvalidSort, sort)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (core.Task, error) {
	var (
		t            core.Task
		source       string
		status       string
		dueAt        sql.NullTime
		savings      sql.NullString
		instructions sql.NullString
		actions      sql.NullString
		citations    sql.NullString
	)
	err := row.Scan(&t.ID, &t.DedupKey, &t.Title, &t.Summary, &source, &t.ReceivedAt, &dueAt,
		&savings, &t.Importance, &t.Urgency, &t.SavingsScore, &status,
		&instructions, &actions, &citations, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return core.Task{}, err
	}
	t.Source = core.SourceType(source)
	t.Status = core.TaskStatus(status)
	if dueAt.Valid {
		due := dueAt.Time
		t.DueAt = &due
	}
	if savings.Valid {
		if d, err := decimal.NewFromString(savings.String); err == nil {
			t.SavingsUSD = &d
		}
	}
	t.Instructions = unmarshalStrings(instructions)
	t.Actions = unmarshalLinks(actions)
	t.Citations = unmarshalLinks(citations)
	return t, nil
}

func marshalLinks(links []core.Link) (sql.NullString, error) {
	if len(links) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(links)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// unmarshalLinks tolerates malformed stored JSON: a bad column yields an
// empty list rather than poisoning every read of the row.
func unmarshalLinks(s sql.NullString) []core.Link {
	if !s.Valid || s.String == "" {
		return nil
	}
	var links []core.Link
	if err := json.Unmarshal([]byte(s.String), &links); err != nil {
		slog.Warn("Dropping malformed link column", "error", err)
		return nil
	}
	return links
}

func marshalStrings(ss []string) (sql.NullString, error) {
	if len(ss) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s.String), &ss); err != nil {
		slog.Warn("Dropping malformed string-list column", "error", err)
		return nil
	}
	return ss
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
