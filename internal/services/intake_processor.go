package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// IntakeProcessorConfig holds configuration for the intake processor.
type IntakeProcessorConfig struct {
	// PollInterval is how often an intake run starts (default: 5m)
	PollInterval time.Duration

	// RunTimeout bounds a single run (default: 2m)
	RunTimeout time.Duration
}

// DefaultIntakeProcessorConfig returns sensible defaults.
func DefaultIntakeProcessorConfig() IntakeProcessorConfig {
	return IntakeProcessorConfig{
		PollInterval: 5 * time.Minute,
		RunTimeout:   2 * time.Minute,
	}
}

// IntakeProcessor runs the intake pipeline on a schedule.
type IntakeProcessor struct {
	pipeline *IntakePipeline
	config   IntakeProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastReport *RunReport
}

func NewIntakeProcessor(pipeline *IntakePipeline, config IntakeProcessorConfig) *IntakeProcessor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultIntakeProcessorConfig().PollInterval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultIntakeProcessorConfig().RunTimeout
	}
	return &IntakeProcessor{
		pipeline: pipeline,
		config:   config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *IntakeProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("intake processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Intake processor started",
		"poll_interval", p.config.PollInterval,
		"run_timeout", p.config.RunTimeout)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *IntakeProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Intake processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Intake processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running.
func (p *IntakeProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LastReport returns the report of the most recent run, if any.
func (p *IntakeProcessor) LastReport() *RunReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReport
}

func (p *IntakeProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on startup
	p.runOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *IntakeProcessor) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, p.config.RunTimeout)
	defer cancel()

	report, err := p.pipeline.Run(runCtx)
	if err != nil {
		slog.ErrorContext(ctx, "Intake run failed", "error", err)
	}

	p.mu.Lock()
	p.lastReport = &report
	p.mu.Unlock()
}
