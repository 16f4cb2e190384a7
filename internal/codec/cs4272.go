package codec

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/mmr"
)

// CS4272 control port registers.
const (
	CS4272ModeControl1 = 0x01
	CS4272DACControl   = 0x02
	CS4272DACVolMix    = 0x03
	CS4272VolumeA      = 0x04
	CS4272VolumeB      = 0x05
	CS4272ADCControl   = 0x06
	CS4272ModeControl2 = 0x07
	CS4272ChipID       = 0x08

	// CS4272Address is the 7-bit I2C address with AD0 low.
	CS4272Address = 0x10
)

// Mode Control 1 fields.
const (
	mc1SingleSpeed = 0 << 6
	mc1DoubleSpeed = 1 << 6
	mc1QuadSpeed   = 2 << 6
	mc1Ratio256    = 0 << 4
	mc1Master      = 1 << 3
	mc1DACI2S      = 1 << 0
)

// Mode Control 2 bits.
const (
	mc2PDN    = 1 << 0
	mc2CPEN   = 1 << 1
	mc2Freeze = 1 << 2
	mc2MuteAB = 1 << 3
	mc2Loop   = 1 << 4
)

// ADC Control bits.
const (
	adcI2S = 1 << 4
)

// DAC Volume and Mixing: soft ramp with zero cross, A=L B=R.
const dacVolMixStereo = 0x30 | 0x09

// Bring-up timing.
const (
	cs4272ResetHold = time.Millisecond
	cs4272Settle    = 10 * time.Millisecond
)

func init() {
	Register("cs4272", newCS4272)
}

type cs4272 struct {
	m     mmr.Dev8
	reset Line
	deps  Deps
	rate  int
	mc1   byte
}

func newCS4272(d Deps) (Codec, error) {
	if d.Bus == nil {
		return nil, errors.New("codec: cs4272 needs an I2C bus")
	}
	rate := d.SampleRate
	if rate == 0 {
		rate = 48000
	}
	speed, err := cs4272Speed(rate)
	if err != nil {
		return nil, err
	}
	addr := d.Addr
	if addr == 0 {
		addr = CS4272Address
	}
	return &cs4272{
		m: mmr.Dev8{
			Conn:  &i2c.Dev{Bus: d.Bus, Addr: addr},
			Order: binary.BigEndian,
		},
		reset: d.Reset,
		deps:  d,
		rate:  rate,
		mc1:   speed | mc1Ratio256 | mc1Master | mc1DACI2S,
	}, nil
}

func cs4272Speed(rate int) (byte, error) {
	switch {
	case rate >= 4000 && rate <= 50000:
		return mc1SingleSpeed, nil
	case rate > 50000 && rate <= 100000:
		return mc1DoubleSpeed, nil
	case rate > 100000 && rate <= 200000:
		return mc1QuadSpeed, nil
	}
	return 0, fmt.Errorf("codec: cs4272 cannot run at %d Hz", rate)
}

func (c *cs4272) Name() string    { return "cs4272" }
func (c *cs4272) SampleRate() int { return c.rate }

// Start follows the control port power-up sequence: reset, enable the control
// port while powered down, configure, then release power down.
func (c *cs4272) Start(ctx context.Context) error {
	if c.reset != nil {
		c.reset.Write(false)
		if err := c.deps.sleep(ctx, cs4272ResetHold); err != nil {
			return err
		}
		c.reset.Write(true)
		if err := c.deps.sleep(ctx, cs4272ResetHold); err != nil {
			return err
		}
	}

	steps := []struct {
		reg, val byte
	}{
		{CS4272ModeControl2, mc2CPEN | mc2PDN},
		{CS4272ModeControl1, c.mc1},
		{CS4272DACControl, 0x00},
		{CS4272DACVolMix, dacVolMixStereo},
		{CS4272VolumeA, 0x00},
		{CS4272VolumeB, 0x00},
		{CS4272ADCControl, adcI2S},
		{CS4272ModeControl2, mc2CPEN},
	}
	for _, s := range steps {
		if err := c.m.WriteUint8(s.reg, s.val); err != nil {
			return fmt.Errorf("codec: cs4272 bring-up: %w", err)
		}
	}

	// The serial clocks start once the internal PLL locks.
	return c.deps.sleep(ctx, cs4272Settle)
}

func (c *cs4272) Stop() error {
	if err := c.m.WriteUint8(CS4272ModeControl2, mc2CPEN|mc2PDN); err != nil {
		return fmt.Errorf("codec: cs4272 power down: %w", err)
	}
	return nil
}

func (c *cs4272) Check() error {
	mc1, err := c.m.ReadUint8(CS4272ModeControl1)
	if err != nil {
		return err
	}
	mc2, err := c.m.ReadUint8(CS4272ModeControl2)
	if err != nil {
		return err
	}
	if mc1 != c.mc1 || mc2&(mc2PDN|mc2CPEN) != mc2CPEN {
		return fmt.Errorf("%w: cs4272 mode %#02x/%#02x, want %#02x/%#02x", ErrConfigLost, mc1, mc2, c.mc1, byte(mc2CPEN))
	}
	return nil
}

func (c *cs4272) ChipID() (byte, error) {
	return c.m.ReadUint8(CS4272ChipID)
}
