package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"faccende/internal/core"
	"faccende/internal/services"
	"faccende/internal/storage"
)

type fakeInstructor struct {
	steps     []string
	citations []core.Link
	err       error
}

func (f *fakeInstructor) GenerateInstructions(_ context.Context, _ core.Task) ([]string, []core.Link, error) {
	return f.steps, f.citations, f.err
}

type fakeFeedbackApplier struct {
	err  error
	last core.Feedback
}

func (f *fakeFeedbackApplier) Apply(_ context.Context, taskID string, dimension core.Dimension, signal int) (core.Feedback, error) {
	if f.err != nil {
		return core.Feedback{}, f.err
	}
	fb := core.Feedback{
		ID:        "fb-1",
		TaskID:    taskID,
		Dimension: dimension,
		Signal:    signal,
		CreatedAt: time.Now().UTC(),
	}
	f.last = fb
	return fb, nil
}

type fakeIntakeRunner struct {
	report services.RunReport
	err    error
	runs   int
}

func (f *fakeIntakeRunner) Run(_ context.Context) (services.RunReport, error) {
	f.runs++
	return f.report, f.err
}

type serverFixture struct {
	server     *Server
	repo       *storage.Repository
	instructor *fakeInstructor
	feedback   *fakeFeedbackApplier
	intake     *fakeIntakeRunner
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()

	repo, err := storage.New(filepath.Join(t.TempDir(), "test.db"), storage.Options{})
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	fx := &serverFixture{
		repo:       repo,
		instructor: &fakeInstructor{},
		feedback:   &fakeFeedbackApplier{},
		intake:     &fakeIntakeRunner{},
	}
	fx.server = NewServer(":0", repo, fx.instructor, fx.feedback, fx.intake)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		fx.server.Shutdown(ctx)
	})
	return fx
}

func (fx *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	fx.server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func seedTask(t *testing.T, fx *serverFixture, key, title string, scores core.Scores) core.Task {
	t.Helper()
	task, _, err := fx.repo.UpsertTaskByDedupKey(context.Background(), key, storage.UpsertTaskParams{
		Title:      title,
		Summary:    "summary for " + title,
		Source:     core.SourceEmail,
		ReceivedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Scores:     scores,
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func TestHealthEndpoints(t *testing.T) {
	fx := newTestServer(t)

	if rec := fx.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec := fx.do(t, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestListTasksFilterAndSort(t *testing.T) {
	fx := newTestServer(t)
	seedTask(t, fx, "email:m1:0", "Pay electricity bill", core.Scores{Importance: 90, Urgency: 40})
	seedTask(t, fx, "email:m2:0", "Renew insurance", core.Scores{Importance: 60, Urgency: 80})

	rec := fx.do(t, http.MethodGet, "/api/tasks?sort=urgency", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	tasks := decodeJSON[[]taskResponse](t, rec)
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
	if tasks[0].Title != "Renew insurance" {
		t.Errorf("first task = %q, want urgency-sorted order", tasks[0].Title)
	}

	rec = fx.do(t, http.MethodGet, "/api/tasks?status=done", nil)
	if got := decodeJSON[[]taskResponse](t, rec); len(got) != 0 {
		t.Errorf("done tasks = %d, want 0", len(got))
	}

	if rec := fx.do(t, http.MethodGet, "/api/tasks?status=bogus", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bogus status filter = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if rec := fx.do(t, http.MethodGet, "/api/tasks?sort=bogus", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bogus sort = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestListTasksCachePurgedOnStatusChange(t *testing.T) {
	fx := newTestServer(t)
	task := seedTask(t, fx, "email:m1:0", "Pay electricity bill", core.DefaultScores())

	// Prime the cache.
	fx.do(t, http.MethodGet, "/api/tasks", nil)

	rec := fx.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/status", map[string]string{"status": "done"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status change = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = fx.do(t, http.MethodGet, "/api/tasks?status=open", nil)
	if got := decodeJSON[[]taskResponse](t, rec); len(got) != 0 {
		t.Errorf("open tasks after done = %d, want 0", len(got))
	}
}

func TestGetTaskNotFound(t *testing.T) {
	fx := newTestServer(t)
	if rec := fx.do(t, http.MethodGet, "/api/tasks/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSetTaskStatusInvalidTransition(t *testing.T) {
	fx := newTestServer(t)
	task := seedTask(t, fx, "email:m1:0", "Pay electricity bill", core.DefaultScores())

	if rec := fx.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/status", map[string]string{"status": "done"}); rec.Code != http.StatusOK {
		t.Fatalf("open->done = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := fx.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/status", map[string]string{"status": "open"}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("done->open = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestGenerateInstructions(t *testing.T) {
	fx := newTestServer(t)
	task := seedTask(t, fx, "email:m1:0", "Renew insurance", core.DefaultScores())
	fx.instructor.steps = []string{"Compare quotes", "Call the current provider"}
	fx.instructor.citations = []core.Link{{Label: "Comparison site", URL: "https://example.com/compare"}}

	rec := fx.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/instructions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	got := decodeJSON[taskResponse](t, rec)
	if len(got.Instructions) != 2 || got.Instructions[0] != "Compare quotes" {
		t.Errorf("instructions = %v", got.Instructions)
	}
	if len(got.Citations) != 1 || got.Citations[0].URL != "https://example.com/compare" {
		t.Errorf("citations = %v", got.Citations)
	}
}

func TestGenerateInstructionsBudgetExhausted(t *testing.T) {
	fx := newTestServer(t)
	task := seedTask(t, fx, "email:m1:0", "Renew insurance", core.DefaultScores())
	fx.instructor.err = core.ErrBudgetExhausted

	if rec := fx.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/instructions", nil); rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusPaymentRequired)
	}
}

func TestBudgetEndpoints(t *testing.T) {
	fx := newTestServer(t)

	rec := fx.do(t, http.MethodPost, "/api/budget/add", map[string]string{"amount": "25.00", "note": "monthly top-up"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = fx.do(t, http.MethodGet, "/api/budget", nil)
	summary := decodeJSON[budgetSummaryResponse](t, rec)
	if want := decimal.RequireFromString("25"); !decimal.RequireFromString(summary.Balance).Equal(want) {
		t.Errorf("balance = %s, want %s", summary.Balance, want)
	}

	rec = fx.do(t, http.MethodGet, "/api/budget/transactions", nil)
	txs := decodeJSON[[]transactionResponse](t, rec)
	if len(txs) != 1 || txs[0].Kind != "add" || txs[0].Note != "monthly top-up" {
		t.Errorf("transactions = %+v", txs)
	}

	if rec := fx.do(t, http.MethodPost, "/api/budget/add", map[string]string{"amount": "-5"}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("negative add = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if rec := fx.do(t, http.MethodGet, "/api/budget/transactions?limit=zero", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad limit = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	fx := newTestServer(t)

	rec := fx.do(t, http.MethodPost, "/api/feedback", map[string]any{
		"taskId":    "task-1",
		"dimension": "urgency",
		"signal":    1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	got := decodeJSON[feedbackResponse](t, rec)
	if got.TaskID != "task-1" || got.Dimension != "urgency" || got.Signal != 1 {
		t.Errorf("feedback = %+v", got)
	}

	fx.feedback.err = core.ErrInvalidSignal
	if rec := fx.do(t, http.MethodPost, "/api/feedback", map[string]any{"taskId": "task-1", "dimension": "urgency", "signal": 3}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid signal = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestIntakeRunEndpoint(t *testing.T) {
	fx := newTestServer(t)
	fx.intake.report = services.RunReport{MessagesSeen: 3, TasksCreated: 2}

	rec := fx.do(t, http.MethodPost, "/api/intake/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	report := decodeJSON[services.RunReport](t, rec)
	if report.MessagesSeen != 3 || report.TasksCreated != 2 {
		t.Errorf("report = %+v", report)
	}
	if fx.intake.runs != 1 {
		t.Errorf("runs = %d, want 1", fx.intake.runs)
	}

	fx.intake.err = errors.New("boom")
	if rec := fx.do(t, http.MethodPost, "/api/intake/run", nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("failed run = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter()
	defer rl.stop()

	for i := 0; i < 60; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d rejected, want allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Error("61st request allowed, want rejected")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("other client rejected, want allowed")
	}
}
