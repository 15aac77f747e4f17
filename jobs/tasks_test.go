package jobs

import (
	"context"
	"errors"
	"testing"
)

type fakeSweeper struct {
	count int64
	err   error
	calls int
}

func (f *fakeSweeper) CleanupExpiredGrants(context.Context) (int64, error) {
	f.calls++
	return f.count, f.err
}

func TestGrantsCleanupTaskType(t *testing.T) {
	task := NewGrantsCleanupTask()
	if task.Type() != TaskGrantsCleanup {
		t.Fatalf("unexpected task type %q", task.Type())
	}
	if len(task.Payload()) != 0 {
		t.Fatalf("sweep task must carry no payload, got %q", task.Payload())
	}
}

func TestGrantsCleanupHandler(t *testing.T) {
	sweeper := &fakeSweeper{count: 3}
	handler := NewGrantsCleanupHandler(sweeper, nil)

	if err := handler(context.Background(), NewGrantsCleanupTask()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.calls)
	}
}

func TestGrantsCleanupHandlerPropagatesError(t *testing.T) {
	wantErr := errors.New("db down")
	handler := NewGrantsCleanupHandler(&fakeSweeper{err: wantErr}, nil)

	if err := handler(context.Background(), NewGrantsCleanupTask()); !errors.Is(err, wantErr) {
		t.Fatalf("expected the sweep error, got %v", err)
	}
}
