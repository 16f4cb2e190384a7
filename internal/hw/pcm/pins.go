package pcm

import "github.com/smazurov/fxnode/internal/hw/regs"

// Pins is the GPIO routing of the PCM signals.
type Pins struct {
	Clock     int
	FrameSync int
	DataIn    int
	DataOut   int
	Function  regs.Function
}

// DefaultPins is the header routing shared by every 40 pin board.
var DefaultPins = Pins{Clock: 18, FrameSync: 19, DataIn: 20, DataOut: 21, Function: regs.Alt0}

// Route switches the PCM pins to their peripheral function.
func Route(g *regs.GPIO, p Pins) {
	for _, pin := range []int{p.Clock, p.FrameSync, p.DataIn, p.DataOut} {
		g.SetFunction(pin, p.Function)
		g.Pull(pin, regs.PullNone)
	}
}

// Release returns the PCM pins to inputs.
func Release(g *regs.GPIO, p Pins) {
	for _, pin := range []int{p.Clock, p.FrameSync, p.DataIn, p.DataOut} {
		g.SetFunction(pin, regs.Input)
	}
}
