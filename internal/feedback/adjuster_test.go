package feedback

import (
	"context"
	"errors"
	"testing"

	"faccende/internal/core"
)

type fakeStore struct {
	recorded []core.Feedback
	err      error
}

func (f *fakeStore) RecordFeedback(_ context.Context, fb core.Feedback) (core.Feedback, error) {
	if f.err != nil {
		return core.Feedback{}, f.err
	}
	fb.ID = "fb-1"
	f.recorded = append(f.recorded, fb)
	return fb, nil
}

func TestApplyAccumulatesBias(t *testing.T) {
	store := &fakeStore{}
	adj := NewAdjuster(store, 3, 20)
	ctx := context.Background()

	steps := []struct {
		signal int
		want   int
	}{
		{1, 3},
		{1, 6},
		{-1, 3},
	}
	for _, s := range steps {
		if _, err := adj.Apply(ctx, "task-1", core.DimensionUrgency, s.signal); err != nil {
			t.Fatalf("Apply(%d) error = %v", s.signal, err)
		}
		if got := adj.Bias(core.DimensionUrgency); got != s.want {
			t.Errorf("bias after signal %d = %d, want %d", s.signal, got, s.want)
		}
	}

	if got := adj.Bias(core.DimensionImportance); got != 0 {
		t.Errorf("untouched dimension bias = %d, want 0", got)
	}
	if len(store.recorded) != 3 {
		t.Errorf("recorded %d feedback rows, want 3", len(store.recorded))
	}
}

func TestApplyClampsBias(t *testing.T) {
	adj := NewAdjuster(&fakeStore{}, 3, 20)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := adj.Apply(ctx, "task-1", core.DimensionSavings, 1); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	if got := adj.Bias(core.DimensionSavings); got != 20 {
		t.Errorf("bias = %d, want clamped 20", got)
	}

	for i := 0; i < 20; i++ {
		if _, err := adj.Apply(ctx, "task-1", core.DimensionSavings, -1); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	if got := adj.Bias(core.DimensionSavings); got != -20 {
		t.Errorf("bias = %d, want clamped -20", got)
	}
}

func TestApplyStoreFailureLeavesBias(t *testing.T) {
	store := &fakeStore{err: core.ErrNotFound}
	adj := NewAdjuster(store, 3, 20)

	_, err := adj.Apply(context.Background(), "missing", core.DimensionUrgency, 1)
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Apply() error = %v, want ErrNotFound", err)
	}
	if got := adj.Bias(core.DimensionUrgency); got != 0 {
		t.Errorf("bias after failed apply = %d, want 0", got)
	}
}

func TestBiasesSnapshot(t *testing.T) {
	adj := NewAdjuster(&fakeStore{}, 5, 20)
	ctx := context.Background()

	if _, err := adj.Apply(ctx, "task-1", core.DimensionImportance, 1); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	snap := adj.Biases()
	snap[core.DimensionImportance] = 99
	if got := adj.Bias(core.DimensionImportance); got != 5 {
		t.Errorf("snapshot mutation leaked, bias = %d, want 5", got)
	}
}
