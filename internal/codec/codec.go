// Package codec brings up the audio codec on the other end of the I2S link
// and watches it for unrecoverable changes.
package codec

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// ErrConfigLost is returned by Check when the codec no longer holds the
// configuration it was started with, e.g. after a reset or clock change.
var ErrConfigLost = errors.New("codec: configuration lost")

// Codec is a clock-master codec feeding the PCM block.
type Codec interface {
	Name() string
	// Start resets and configures the codec and returns once its clocks
	// are stable.
	Start(ctx context.Context) error
	// Stop powers the codec down.
	Stop() error
	// SampleRate is the frame rate the codec drives.
	SampleRate() int
	// Check verifies the codec over the control channel. A non-nil error
	// means the audio stream can no longer be trusted.
	Check() error
	// ChipID returns the identification register, or 0 if there is none.
	ChipID() (byte, error)
}

// Line is a digital output, used for the codec reset pin.
type Line interface {
	Write(high bool)
}

// Deps are the resources a codec driver may use.
type Deps struct {
	// Bus is the control bus and Addr the codec's 7-bit address on it;
	// 0 selects the driver default.
	Bus        i2c.Bus
	Addr       uint16
	Reset      Line
	SampleRate int
	// Sleep waits between bring-up steps. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (d *Deps) sleep(ctx context.Context, dur time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, dur)
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Factory creates a codec driver.
type Factory func(d Deps) (Codec, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a driver available by name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic("codec: driver registered twice: " + name)
	}
	factories[name] = f
}

// New creates the named driver.
func New(name string, d Deps) (Codec, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec: unknown driver %q (have %v)", name, Drivers())
	}
	return f(d)
}

// Drivers lists the registered driver names.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Watch polls c.Check every interval until ctx ends. After failures
// consecutive errors, or at once on ErrConfigLost, it calls fatal and
// returns.
func Watch(ctx context.Context, c Codec, interval time.Duration, failures int, fatal func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := c.Check()
		if err == nil {
			misses = 0
			continue
		}
		misses++
		if errors.Is(err, ErrConfigLost) || misses >= failures {
			fatal(err)
			return
		}
	}
}
