package algorithm

import (
	"context"
	"time"
)

// Cost models the latency of a compute step. It is invoked
// once per step before the step touches the store, so a
// slow training step never holds exclusive access while it
// waits. A non-nil error aborts the step.
type Cost func(ctx context.Context, kind Kind) error

// NoCost returns immediately
func NoCost(ctx context.Context, kind Kind) error {
	return nil
}

// SleepCost returns a Cost that waits train for training steps
// and infer for inference steps. Zero durations disable the wait.
// The wait ends early with ctx.Err() if ctx is done first.
func SleepCost(train, infer time.Duration) Cost {
	return func(ctx context.Context, kind Kind) error {
		d := infer

		if kind == Train {
			d = train
		}

		if d <= 0 {
			return nil
		}

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
