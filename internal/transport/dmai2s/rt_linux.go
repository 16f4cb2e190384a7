//go:build linux

package dmai2s

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// elevate moves the calling thread to SCHED_FIFO at priority and locks the
// process memory. The caller must hold its OS thread.
func elevate(priority int) error {
	if priority > 0 {
		attr := &unix.SchedAttr{
			Size:     unix.SizeofSchedAttr,
			Policy:   unix.SCHED_FIFO,
			Priority: uint32(priority),
		}
		if err := unix.SchedSetAttr(0, attr, 0); err != nil {
			return fmt.Errorf("sched_setattr SCHED_FIFO %d: %w", priority, err)
		}
	}
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}

// nanosleep sleeps on the calling thread without involving the Go timer
// machinery, resuming after signals.
func nanosleep(d time.Duration) {
	ts := unix.NsecToTimespec(int64(d))
	for unix.Nanosleep(&ts, &ts) == unix.EINTR {
	}
}
