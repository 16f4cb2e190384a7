// Package transport defines the contract between an audio transport backend
// and the engine that owns it.
package transport

import (
	"fmt"
	"slices"
	"sync"

	"github.com/smazurov/fxnode/internal/logging"
)

// Callback is implemented by the owner of a transport.
type Callback interface {
	// ProcessBlock is called once per completed hardware block. out and in
	// are dual-mono buffers of at least frames samples.
	ProcessBlock(out, in [][]float32, frames int)
	// NotifyDropout reports a transient transport fault. It may be called
	// from the real-time goroutine and must not block.
	NotifyDropout()
	// RequestExit reports an unrecoverable condition. Called at most once per
	// Start; the owner must stop the engine.
	RequestExit(reason string)
}

// InitRequest selects the driver and channel mapping.
type InitRequest struct {
	// Driver names the backend-specific device, e.g. the codec.
	Driver     string
	InputBase  int
	OutputBase int
}

// Info is what a transport reports after Init.
type Info struct {
	SampleRate   int `json:"sample_rate"`
	MaxBlockSize int `json:"max_block_size"`
	Inputs       int `json:"inputs"`
	Outputs      int `json:"outputs"`
}

// Transport moves audio between hardware and a Callback.
type Transport interface {
	Init(req InitRequest) (Info, error)
	Start() error
	Stop() error
	Restart() error
	// LastError returns a human-readable description of the most recent
	// failure, or "".
	LastError() string
}

// State is the observable lifecycle state.
type State string

// Transport states.
const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Stateful is implemented by transports that report their state.
type Stateful interface {
	State() State
}

// Stats are running counters of a transport.
type Stats struct {
	Blocks     uint64 `json:"blocks"`
	Dropouts   uint64 `json:"dropouts"`
	FIFOErrors uint64 `json:"fifo_errors"`
	SyncErrors uint64 `json:"sync_errors"`
	LostTrack  uint64 `json:"lost_track"`
}

// Monitored is implemented by transports that keep Stats.
type Monitored interface {
	Stats() Stats
}

// Options configure a backend instance.
type Options struct {
	BlockSize int
	Channels  int
	// SampleRate is a hint; codecs may override it.
	SampleRate int
	// Prefill is the number of silent words queued before transmit starts.
	Prefill int
	// Priority is the SCHED_FIFO priority of the polling goroutine, 0 to
	// leave scheduling alone.
	Priority int
	// Extra holds backend-specific settings.
	Extra  map[string]string
	Logger logging.Logger
}

// Factory creates a backend bound to cb.
type Factory func(cb Callback, opts Options) (Transport, error)

var (
	mu       sync.RWMutex
	backends = map[string]Factory{}
)

// Register makes a backend available by name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := backends[name]; dup {
		panic("transport: backend registered twice: " + name)
	}
	backends[name] = f
}

// New creates the named backend.
func New(name string, cb Callback, opts Options) (Transport, error) {
	mu.RLock()
	f, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, NewError(ErrCodeConfiguration, fmt.Sprintf("unknown backend %q (have %v)", name, Backends()), nil)
	}
	return f(cb, opts)
}

// Backends lists registered backend names.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
