//go:build linux

package dmai2s

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/smazurov/fxnode/internal/transport"
)

// realtimeThreads counts the threads of this process scheduled SCHED_FIFO
// or SCHED_RR, read from field 41 of /proc/self/task/*/stat.
func realtimeThreads(t *testing.T) int {
	t.Helper()
	stats, err := filepath.Glob("/proc/self/task/*/stat")
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, path := range stats {
		data, err := os.ReadFile(path)
		if err != nil {
			// The thread exited between the glob and the read.
			continue
		}
		// comm may contain spaces; fields restart after its closing paren.
		rest := string(data[strings.LastIndexByte(string(data), ')')+2:])
		fields := strings.Fields(rest)
		if len(fields) < 39 {
			t.Fatalf("%s: %d fields", path, len(fields))
		}
		policy, err := strconv.Atoi(fields[38])
		if err != nil {
			t.Fatalf("%s: policy %q", path, fields[38])
		}
		if policy == unix.SCHED_FIFO || policy == unix.SCHED_RR {
			n++
		}
	}
	return n
}

func TestStopReleasesRealtimeThread(t *testing.T) {
	if n := realtimeThreads(t); n != 0 {
		t.Skipf("%d real-time threads before start", n)
	}
	tr, _, cb := newTestTransport(t)
	tr.opts.Priority = 1
	if _, err := tr.Init(transport.InitRequest{Driver: "fake"}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "blocks", func() bool { return cb.blocks.Load() > 2 })
	if realtimeThreads(t) == 0 {
		_ = tr.Stop()
		t.Skip("SCHED_FIFO not permitted")
	}

	if err := tr.Stop(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "real-time thread to exit", func() bool { return realtimeThreads(t) == 0 })

	var wg sync.WaitGroup
	var onRealtime atomic.Int32
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			attr, err := unix.SchedGetAttr(0, 0)
			if err == nil && attr.Policy == unix.SCHED_FIFO {
				onRealtime.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := onRealtime.Load(); n != 0 {
		t.Errorf("%d goroutines ran on a SCHED_FIFO thread after Stop", n)
	}
}
