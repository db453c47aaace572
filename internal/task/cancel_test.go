package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsUserCancelledNormalizesContextCanceled(t *testing.T) {
	t.Parallel()

	if !IsUserCancelled(context.Canceled) {
		t.Fatalf("expected context.Canceled to count as user cancellation")
	}
	if !IsUserCancelled(fmt.Errorf("read stream: %w", context.Canceled)) {
		t.Fatalf("expected wrapped context.Canceled to count as user cancellation")
	}
	if IsUserCancelled(errors.New("connection reset")) {
		t.Fatalf("unexpected cancellation for plain error")
	}
	if IsUserCancelled(nil) {
		t.Fatalf("nil is not a cancellation")
	}
}

func TestPhaseString(t *testing.T) {
	t.Parallel()

	for phase, want := range map[Phase]string{
		PhaseIdle:      "idle",
		PhaseRunning:   "running",
		PhaseCompleted: "completed",
		PhaseStopped:   "stopped",
		PhaseErrored:   "errored",
		Phase(42):      "unknown",
	} {
		if got := phase.String(); got != want {
			t.Fatalf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}
