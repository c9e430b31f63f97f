package ubibdev

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// idleBackoff is how long Run sleeps after an Idle poll, mirroring the
// teacher's queue runner backing off rather than busy-spinning when there
// is no work.
const idleBackoff = time.Millisecond

// Run pins the calling goroutine's OS thread and, if cpu >= 0, its CPU
// affinity (the same per-queue thread-pinning idiom the teacher's
// queue.Runner.ioLoop uses, generalized from "one ublk queue per thread" to
// "one channel per thread"), then polls ch until ctx is done.
func Run(ctx context.Context, ch *Channel, cpu int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if cpu >= 0 {
		var mask unix.CPUSet
		mask.Set(cpu)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			ch.logger.Warn("failed to set channel CPU affinity", "cpu", cpu, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if ch.Poll() == Idle {
			time.Sleep(idleBackoff)
		}
	}
}
