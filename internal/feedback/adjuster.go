package feedback

import (
	"context"
	"log/slog"
	"sync"

	"faccende/internal/core"
)

// Store persists feedback signals.
type Store interface {
	RecordFeedback(ctx context.Context, fb core.Feedback) (core.Feedback, error)
}

// Adjuster turns thumb signals into per-dimension scoring biases. Each
// signal moves the dimension's bias by a fixed step, clamped to a
// symmetric limit, and the bias is added to model scores before clamping.
type Adjuster struct {
	store Store
	step  int
	limit int

	mu   sync.Mutex
	bias map[core.Dimension]int
}

func NewAdjuster(store Store, step, limit int) *Adjuster {
	return &Adjuster{
		store: store,
		step:  step,
		limit: limit,
		bias:  make(map[core.Dimension]int),
	}
}

// Apply records the signal against the task and shifts the dimension's
// bias. The bias only moves once the store accepts the feedback, so an
// unknown task or malformed signal leaves scoring untouched.
func (a *Adjuster) Apply(ctx context.Context, taskID string, dimension core.Dimension, signal int) (core.Feedback, error) {
	fb, err := a.store.RecordFeedback(ctx, core.Feedback{
		TaskID:    taskID,
		Dimension: dimension,
		Signal:    signal,
	})
	if err != nil {
		return core.Feedback{}, err
	}

	a.mu.Lock()
	a.bias[dimension] = clamp(a.bias[dimension]+signal*a.step, a.limit)
	updated := a.bias[dimension]
	a.mu.Unlock()

	slog.InfoContext(ctx, "Feedback applied",
		"task_id", taskID,
		"dimension", string(dimension),
		"signal", signal,
		"bias", updated)
	return fb, nil
}

// Bias returns the current adjustment for a dimension.
func (a *Adjuster) Bias(dimension core.Dimension) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bias[dimension]
}

// Biases returns a snapshot of all dimension adjustments.
func (a *Adjuster) Biases() map[core.Dimension]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[core.Dimension]int, len(a.bias))
	for d, b := range a.bias {
		out[d] = b
	}
	return out
}

func clamp(v, limit int) int {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
