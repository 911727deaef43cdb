package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"faccende/internal/core"
	"faccende/internal/sources"
	"faccende/internal/storage"

	"golang.org/x/sync/errgroup"
)

// TaskStore is the persistence surface the pipeline writes through.
type TaskStore interface {
	UpsertTaskByDedupKey(ctx context.Context, key string, p storage.UpsertTaskParams) (core.Task, bool, error)
}

// Reasoner is the pipeline's view of the reasoning gateway.
type Reasoner interface {
	ExtractTasks(ctx context.Context, msg core.Message) ([]core.TaskCandidate, error)
	ScoreTask(ctx context.Context, c core.TaskCandidate) (core.Scores, error)
}

// RunReport summarizes one intake run for logs and diagnostics.
type RunReport struct {
	Started         time.Time `json:"started"`
	Finished        time.Time `json:"finished"`
	MessagesSeen    int       `json:"messagesSeen"`
	MessagesSkipped int       `json:"messagesSkipped"`
	TasksCreated    int       `json:"tasksCreated"`
	TasksRefreshed  int       `json:"tasksRefreshed"`
	ScoringFailures int       `json:"scoringFailures"`
	SourceErrors    int       `json:"sourceErrors"`
	BudgetExhausted bool      `json:"budgetExhausted"`
}

// IntakePipeline pulls new messages from every source, extracts task
// candidates, scores them and upserts them into the store. Sources run
// concurrently; messages within a source are processed in order.
type IntakePipeline struct {
	sources   []sources.Source
	reasoner  Reasoner
	store     TaskStore
	lookback  time.Duration
	batchSize int
}

// NewIntakePipeline wires the pipeline. batchSize caps how many messages
// one run takes from each source; zero means no cap.
func NewIntakePipeline(srcs []sources.Source, reasoner Reasoner, store TaskStore, lookback time.Duration, batchSize int) *IntakePipeline {
	return &IntakePipeline{
		sources:   srcs,
		reasoner:  reasoner,
		store:     store,
		lookback:  lookback,
		batchSize: batchSize,
	}
}

// Run executes one intake pass. A failing source is counted and the rest
// continue; only context cancellation aborts the run. Every write path is
// idempotent, so an abandoned run leaves no corrupt state and the next
// run picks up where it left off.
func (p *IntakePipeline) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{Started: time.Now().UTC()}
	since := report.Started.Add(-p.lookback)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range p.sources {
		src := src
		g.Go(func() error {
			err := p.runSource(gctx, src, since, &mu, &report)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				mu.Lock()
				report.SourceErrors++
				if errors.Is(err, core.ErrBudgetExhausted) {
					report.BudgetExhausted = true
				}
				mu.Unlock()
				slog.ErrorContext(gctx, "Source intake failed",
					"source", string(src.Type()),
					"error", err)
				return nil
			}
			return err
		})
	}

	err := g.Wait()
	report.Finished = time.Now().UTC()

	slog.InfoContext(ctx, "Intake run finished",
		"duration", report.Finished.Sub(report.Started),
		"messages_seen", report.MessagesSeen,
		"messages_skipped", report.MessagesSkipped,
		"tasks_created", report.TasksCreated,
		"tasks_refreshed", report.TasksRefreshed,
		"scoring_failures", report.ScoringFailures,
		"source_errors", report.SourceErrors)

	if err != nil {
		return report, fmt.Errorf("intake run: %w", err)
	}
	return report, nil
}

func (p *IntakePipeline) runSource(ctx context.Context, src sources.Source, since time.Time, mu *sync.Mutex, report *RunReport) error {
	msgs, err := src.FetchNew(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch from %s: %w", src.Type(), err)
	}
	if p.batchSize > 0 && len(msgs) > p.batchSize {
		// The remainder stays unacknowledged and is picked up next run.
		msgs = msgs[:p.batchSize]
	}

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processMessage(ctx, src.Type(), msg, mu, report); err != nil {
			// An exhausted budget stops the source; later messages
			// would be blocked the same way.
			if errors.Is(err, core.ErrBudgetExhausted) {
				return err
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Not acknowledged: the message is retried on the next
			// fetch cycle.
			slog.WarnContext(ctx, "Skipping message after intake failure",
				"source", string(src.Type()),
				"message_id", msg.ID,
				"error", err)
			mu.Lock()
			report.MessagesSkipped++
			mu.Unlock()
			continue
		}
		if err := src.Acknowledge(ctx, msg.ID); err != nil {
			slog.WarnContext(ctx, "Failed to acknowledge message",
				"source", string(src.Type()),
				"message_id", msg.ID,
				"error", err)
		}
	}
	return nil
}

func (p *IntakePipeline) processMessage(ctx context.Context, source core.SourceType, msg core.Message, mu *sync.Mutex, report *RunReport) error {
	mu.Lock()
	report.MessagesSeen++
	mu.Unlock()

	candidates, err := p.reasoner.ExtractTasks(ctx, msg)
	if err != nil {
		return fmt.Errorf("extract from message %s: %w", msg.ID, err)
	}
	if len(candidates) == 0 {
		mu.Lock()
		report.MessagesSkipped++
		mu.Unlock()
		slog.DebugContext(ctx, "No actionable tasks in message",
			"source", string(source),
			"message_id", msg.ID)
		return nil
	}

	for i, candidate := range candidates {
		scores, scoreErr := p.reasoner.ScoreTask(ctx, candidate)
		if scoreErr != nil {
			if errors.Is(scoreErr, context.Canceled) || errors.Is(scoreErr, context.DeadlineExceeded) {
				return scoreErr
			}
			// Fallback scores are still usable; the task lands with
			// defaults rather than being dropped.
			mu.Lock()
			report.ScoringFailures++
			mu.Unlock()
			slog.WarnContext(ctx, "Scoring failed, using fallback scores",
				"message_id", msg.ID,
				"title", candidate.Title,
				"error", scoreErr)
		}

		key := core.DedupKey(source, msg.ID, i)
		_, isNew, err := p.store.UpsertTaskByDedupKey(ctx, key, storage.UpsertTaskParams{
			Title:      candidate.Title,
			Summary:    candidate.Summary,
			Source:     source,
			ReceivedAt: msg.Timestamp,
			DueAt:      candidate.DueAt,
			SavingsUSD: candidate.SavingsUSD,
			Scores:     scores,
			Actions:    candidate.Actions,
		})
		if err != nil {
			return fmt.Errorf("upsert task %s: %w", key, err)
		}

		mu.Lock()
		if isNew {
			report.TasksCreated++
		} else {
			report.TasksRefreshed++
		}
		mu.Unlock()
	}
	return nil
}
