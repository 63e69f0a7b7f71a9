package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// DriveClock advances clock by step each time a goroutine is blocked on it,
// until done is closed. It fails the test if done is not closed within ten
// seconds of real time. Call it from the test goroutine while the code under
// test runs in another.
func DriveClock(t *testing.T, clock *clockwork.FakeClock, step time.Duration, done <-chan struct{}) {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("timed out driving fake clock")
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		err := clock.BlockUntilContext(ctx, 1)
		cancel()
		if err == nil {
			clock.Advance(step)
		}
	}
}
