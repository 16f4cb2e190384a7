package dma

import (
	"unsafe"

	"github.com/smazurov/fxnode/internal/hw/dmamem"
)

// Half is one buffer pair: the input buffer the engine fills and the output
// buffer it drains during the same pass.
type Half struct {
	Index int
	In    []int32
	Out   []int32
}

// Layout holds typed views of the sample buffers inside a region. The
// buffers follow the descriptors: all inputs, then all outputs.
type Layout struct {
	geo    Geometry
	in     [][]int32
	out    [][]int32
	inBus  []uint32
	outBus []uint32
	base   int
}

func newLayout(region *dmamem.Region, g Geometry) (*Layout, error) {
	l := &Layout{
		geo:    g,
		in:     make([][]int32, g.Buffers),
		out:    make([][]int32, g.Buffers),
		inBus:  make([]uint32, g.Buffers),
		outBus: make([]uint32, g.Buffers),
		base:   g.SampleOffset(),
	}
	n := g.BufferWords()
	size := n * 4
	for b := 0; b < g.Buffers; b++ {
		inOff := l.base + b*size
		outOff := l.base + (g.Buffers+b)*size
		l.in[b] = int32s(region.Words(inOff, n))
		l.out[b] = int32s(region.Words(outOff, n))
		var err error
		if l.inBus[b], err = region.BusAddr(unsafe.Pointer(&l.in[b][0])); err != nil {
			return nil, err
		}
		if l.outBus[b], err = region.BusAddr(unsafe.Pointer(&l.out[b][0])); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func int32s(w []uint32) []int32 {
	if len(w) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&w[0])), len(w))
}

// Half returns buffer pair k.
func (l *Layout) Half(k int) Half {
	return Half{Index: k, In: l.in[k], Out: l.out[k]}
}

// Idle returns the pair the engine finished before entering cur. With two
// buffers that is simply the other one.
func (l *Layout) Idle(cur int) Half {
	return l.Half((cur + l.geo.Buffers - 1) % l.geo.Buffers)
}

// InputBus returns the bus address of input buffer k.
func (l *Layout) InputBus(k int) uint32 {
	return l.inBus[k]
}

// OutputBus returns the bus address of output buffer k.
func (l *Layout) OutputBus(k int) uint32 {
	return l.outBus[k]
}

// Span returns the byte ranges [start, end) of pair k relative to the region.
func (l *Layout) Span(k int) (in, out [2]int) {
	size := l.geo.BufferWords() * 4
	in[0] = l.base + k*size
	in[1] = in[0] + size
	out[0] = l.base + (l.geo.Buffers+k)*size
	out[1] = out[0] + size
	return in, out
}

// Clear zeroes every sample buffer.
func (l *Layout) Clear() {
	for b := range l.in {
		clear(l.in[b])
		clear(l.out[b])
	}
}

// InputSnapshot copies every input buffer.
func (l *Layout) InputSnapshot() [][]int32 {
	snap := make([][]int32, len(l.in))
	for b, buf := range l.in {
		snap[b] = append([]int32(nil), buf...)
	}
	return snap
}
