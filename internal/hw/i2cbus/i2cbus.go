// Package i2cbus opens the codec control bus through the periph host drivers.
package i2cbus

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// DevicePath returns the character device of bus n.
func DevicePath(n int) string {
	return fmt.Sprintf("/dev/i2c-%d", n)
}

// Open loads the host drivers on first use and opens bus n.
func Open(n int) (i2c.BusCloser, error) {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return nil, fmt.Errorf("i2c: load host drivers: %w", hostErr)
	}
	bus, err := i2creg.Open(strconv.Itoa(n))
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", DevicePath(n), err)
	}
	return bus, nil
}
