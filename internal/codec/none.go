package codec

import "context"

func init() {
	Register("none", newNone)
}

// none stands in for a codec that needs no control channel, such as a
// fixed-function ADC/DAC pair clocked from elsewhere.
type none struct {
	rate int
}

func newNone(d Deps) (Codec, error) {
	rate := d.SampleRate
	if rate == 0 {
		rate = 48000
	}
	return &none{rate: rate}, nil
}

func (n *none) Name() string                { return "none" }
func (n *none) Start(context.Context) error { return nil }
func (n *none) Stop() error                 { return nil }
func (n *none) SampleRate() int             { return n.rate }
func (n *none) Check() error                { return nil }
func (n *none) ChipID() (byte, error)       { return 0, nil }
