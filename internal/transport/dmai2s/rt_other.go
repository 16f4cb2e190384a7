//go:build !linux

package dmai2s

import (
	"errors"
	"time"
)

func elevate(priority int) error {
	return errors.New("real-time scheduling is only supported on linux")
}

func nanosleep(d time.Duration) {
	time.Sleep(d)
}
