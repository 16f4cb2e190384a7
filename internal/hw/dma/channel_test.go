package dma

import (
	"strings"
	"testing"

	"github.com/smazurov/fxnode/internal/hw/regs"
)

func newTestChannel(t *testing.T, n int) (*Channel, *regs.Window) {
	t.Helper()
	w := regs.NewWindow("dma", make([]uint32, ControllerSize/4))
	c, err := NewChannel(w, n)
	if err != nil {
		t.Fatalf("NewChannel(%d) error = %v", n, err)
	}
	return c, w
}

func TestNewChannelRange(t *testing.T) {
	w := regs.NewWindow("dma", make([]uint32, ControllerSize/4))
	for _, n := range []int{-1, 15, 16} {
		if _, err := NewChannel(w, n); err == nil {
			t.Errorf("NewChannel(%d) succeeded", n)
		}
	}
}

func TestChannelStart(t *testing.T) {
	c, w := newTestChannel(t, 5)
	base := uint32(5 * ChannelStride)

	if err := c.Start(0xc0400020); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := w.Get(base + RegConblkAd); got != 0xc0400020 {
		t.Errorf("CONBLK_AD = %#x", got)
	}
	cs := w.Get(base + RegCS)
	if cs&CSActive == 0 || cs&CSWaitForOutstandingWrites == 0 {
		t.Errorf("CS = %#x, want ACTIVE and WAIT_FOR_OUTSTANDING_WRITES", cs)
	}
	if p := cs >> csPriorityShift & csPriorityMask; p != 8 {
		t.Errorf("priority = %d, want 8", p)
	}
	if c.CurrentDescriptor() != 0xc0400020 {
		t.Errorf("CurrentDescriptor() = %#x", c.CurrentDescriptor())
	}
	if !c.Status().Active() {
		t.Error("Status().Active() = false")
	}

	if err := c.Start(0xc0400010); err == nil {
		t.Error("Start() accepted unaligned descriptor")
	}
}

func TestChannelEnable(t *testing.T) {
	c, w := newTestChannel(t, 3)
	w.Set(regEnable, 1<<0)
	c.Enable()
	if got := w.Get(regEnable); got != 1<<0|1<<3 {
		t.Errorf("ENABLE = %#x, want %#x", got, 1<<0|1<<3)
	}
}

func TestChannelClearErrors(t *testing.T) {
	c, w := newTestChannel(t, 0)
	w.Set(RegDebug, DebugFIFOError)
	if got := c.ClearErrors(); got != DebugFIFOError {
		t.Errorf("ClearErrors() = %#x, want %#x", got, DebugFIFOError)
	}
	if got := w.Get(RegDebug); got != DebugErrors {
		t.Errorf("DEBUG written %#x, want %#x", got, DebugErrors)
	}
}

func TestChannelAbortResets(t *testing.T) {
	c, w := newTestChannel(t, 1)
	_ = c.Start(0xc0400000)
	c.Abort()
	if got := w.Get(ChannelStride + RegCS); got != CSReset {
		t.Errorf("CS after Abort = %#x, want RESET", got)
	}
	if got := c.CurrentDescriptor(); got != 0 {
		t.Errorf("CONBLK_AD after Abort = %#x", got)
	}
}

func TestStatusString(t *testing.T) {
	s := Status(CSActive | CSError)
	if got := s.String(); !strings.Contains(got, "ACTIVE") || !strings.Contains(got, "ERROR") {
		t.Errorf("String() = %q", got)
	}
	if !s.Error() || s.Paused() {
		t.Errorf("flags wrong for %v", s)
	}
}
