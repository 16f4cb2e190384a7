package pcm

import (
	"testing"

	"github.com/smazurov/fxnode/internal/hw/regs"
)

// w1cRegs models CS_A: the error flags clear when written as one, the FIFO
// clear bits self-clear, and FIFO writes are counted.
type w1cRegs struct {
	mem        map[uint32]uint32
	fifoWrites int
}

func newW1C() *w1cRegs {
	return &w1cRegs{mem: map[uint32]uint32{}}
}

func (f *w1cRegs) Get(off uint32) uint32 {
	return f.mem[off]
}

func (f *w1cRegs) Set(off, v uint32) {
	switch off {
	case RegCS:
		latched := f.mem[RegCS] & CSErrors &^ v
		f.mem[RegCS] = v&^(CSErrors|CSTXClr|CSRXClr) | latched
	case RegFIFO:
		f.fifoWrites++
	default:
		f.mem[off] = v
	}
}

func (f *w1cRegs) inject(bits uint32) {
	f.mem[RegCS] |= bits
}

func TestI2SFormat(t *testing.T) {
	r := newW1C()
	p := New(r)
	if err := p.Configure(I2S(24)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	mode := r.mem[RegMode]
	if got := mode >> ModeFLenShift & 0x3ff; got != 63 {
		t.Errorf("FLEN = %d, want 63", got)
	}
	if got := mode & 0x3ff; got != 32 {
		t.Errorf("FSLEN = %d, want 32", got)
	}
	for _, bit := range []uint32{ModeCLKM, ModeFSM, ModeCLKI, ModeFSI} {
		if mode&bit == 0 {
			t.Errorf("MODE %#x missing %#x", mode, bit)
		}
	}

	// CH1: WEX=1 EN=1 POS=1 WID=0. CH2: WEX=1 EN=1 POS=33 WID=0.
	want := uint32(1<<31 | 1<<30 | 1<<20 | 1<<15 | 1<<14 | 33<<4)
	if r.mem[RegRXC] != want || r.mem[RegTXC] != want {
		t.Errorf("RXC/TXC = %#x/%#x, want %#x", r.mem[RegRXC], r.mem[RegTXC], want)
	}

	cs := r.mem[RegCS]
	if cs&CSEn == 0 || cs&CSDMAEn == 0 {
		t.Errorf("CS = %#x, want EN and DMAEN", cs)
	}
	if cs&(CSTXOn|CSRXOn) != 0 {
		t.Errorf("CS = %#x, transfer enabled before Enable", cs)
	}
	if got := r.mem[RegDREQ]; got != 0x10<<24|0x30<<16|0x30<<8|0x20 {
		t.Errorf("DREQ = %#x", got)
	}
}

func TestSampleWidthEncoding(t *testing.T) {
	tests := []struct {
		bits int
		wex  bool
		wid  uint32
	}{
		{8, false, 0},
		{16, false, 8},
		{23, false, 15},
		{24, true, 0},
		{32, true, 8},
	}
	for _, tt := range tests {
		c := I2S(tt.bits)
		ch := c.channels() & 0xffff
		if got := ch&chWEX != 0; got != tt.wex {
			t.Errorf("%d bits: WEX = %v, want %v", tt.bits, got, tt.wex)
		}
		if got := ch & chWidMask; got != tt.wid {
			t.Errorf("%d bits: WID = %d, want %d", tt.bits, got, tt.wid)
		}
	}
}

func TestValidate(t *testing.T) {
	bad := I2S(24)
	bad.Positions[1] = 48
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted a channel past the frame end")
	}
	if err := I2S(40).Validate(); err == nil {
		t.Error("Validate() accepted 40 bit samples")
	}
	if err := New(newW1C()).Configure(bad); err == nil {
		t.Error("Configure() accepted an invalid format")
	}
}

func TestTakeErrorsClears(t *testing.T) {
	r := newW1C()
	p := New(r)
	_ = p.Configure(I2S(24))
	p.Enable()

	if errs := p.TakeErrors(); errs != 0 {
		t.Fatalf("TakeErrors() on clean status = %v", errs)
	}

	r.inject(CSRXErr)
	errs := p.TakeErrors()
	if !errs.RXError() || errs.TXError() {
		t.Errorf("TakeErrors() = %v, want RXERR only", errs)
	}
	if st := p.Status(); st.RXError() {
		t.Errorf("Status() after TakeErrors = %v, RXERR still set", st)
	}
	if st := p.Status(); uint32(st)&(CSTXOn|CSRXOn|CSEn) != CSTXOn|CSRXOn|CSEn {
		t.Errorf("Status() after TakeErrors = %v, lost control bits", st)
	}

	r.inject(CSTXErr | CSRXErr)
	if errs := p.TakeErrors(); !errs.TXError() || !errs.RXError() {
		t.Errorf("TakeErrors() = %v, want both", errs)
	}
	if errs := p.TakeErrors(); errs != 0 {
		t.Errorf("second TakeErrors() = %v", errs)
	}
}

func TestPrefillAndEnable(t *testing.T) {
	r := newW1C()
	p := New(r)
	_ = p.Configure(I2S(24))
	p.ClearFIFOs()
	p.Prefill(4)
	if r.fifoWrites != 4 {
		t.Errorf("FIFO writes = %d, want 4", r.fifoWrites)
	}
	if r.mem[RegCS]&CSSync != 0 {
		t.Error("SYNC left set after ClearFIFOs")
	}
	p.Enable()
	if !(p.Status()&CSTXOn != 0 && p.Status()&CSRXOn != 0) {
		t.Errorf("Status() = %v after Enable", p.Status())
	}
	p.Disable()
	if p.Status() != 0 {
		t.Errorf("Status() = %v after Disable", p.Status())
	}
}

func TestRoute(t *testing.T) {
	g := regs.NewGPIO(regs.NewWindow("gpio", make([]uint32, regs.GPIOSize/4)), regs.PullDirect)
	Route(g, DefaultPins)
	for _, pin := range []int{18, 19, 20, 21} {
		if fn := g.Function(pin); fn != regs.Alt0 {
			t.Errorf("pin %d function = %v, want ALT0", pin, fn)
		}
	}
	Release(g, DefaultPins)
	if fn := g.Function(18); fn != regs.Input {
		t.Errorf("pin 18 after Release = %v", fn)
	}
}
