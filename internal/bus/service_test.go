package bus

import (
	"context"
	"errors"
	"testing"
)

func TestCleanupStackRunsInLIFOOrder(t *testing.T) {
	var order []int
	var stack CleanupStack

	stack.Push(func(ctx context.Context) error {
		order = append(order, 1)
		return nil
	})
	stack.Push(func(ctx context.Context) error {
		order = append(order, 2)
		return nil
	})
	stack.Push(func(ctx context.Context) error {
		order = append(order, 3)
		return nil
	})

	if err := stack.Unwind(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("unexpected order: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order: %v", order)
		}
	}
}

func TestCleanupStackRunsEveryStepDespiteErrors(t *testing.T) {
	var ran int
	var stack CleanupStack

	stack.Push(func(ctx context.Context) error {
		ran++
		return errors.New("first failure")
	})
	stack.Push(func(ctx context.Context) error {
		ran++
		return errors.New("second failure")
	})

	err := stack.Unwind(context.Background())
	if err == nil {
		t.Fatal("expected the first error to be returned")
	}
	if err.Error() != "second failure" {
		t.Fatalf("expected the first-run (last-pushed) error to win, got %q", err.Error())
	}
	if ran != 2 {
		t.Fatalf("expected both cleanup steps to run, ran %d", ran)
	}
}

func TestCleanupStackUnwindIsOneShot(t *testing.T) {
	var ran int
	var stack CleanupStack
	stack.Push(func(ctx context.Context) error {
		ran++
		return nil
	})

	_ = stack.Unwind(context.Background())
	_ = stack.Unwind(context.Background())

	if ran != 1 {
		t.Fatalf("expected cleanup to run exactly once, ran %d", ran)
	}
}
