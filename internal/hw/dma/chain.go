package dma

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/smazurov/fxnode/internal/hw/dmamem"
)

// DescriptorSize is the size of one control block. Control blocks must be
// aligned to it.
const DescriptorSize = 32

// SampleBytes is the transfer length of one descriptor: one 24-in-32-bit word.
const SampleBytes = 4

// Descriptor is a DMA control block as the engine reads it.
type Descriptor struct {
	TI     uint32
	Source uint32
	Dest   uint32
	Length uint32
	Stride uint32
	Next   uint32
	_      [2]uint32
}

// Direction of a single-sample transfer.
type Direction int

const (
	Read  Direction = iota // FIFO to input buffer
	Write                  // output buffer to FIFO
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

// Geometry sizes a chain.
type Geometry struct {
	Buffers   int
	BlockSize int
	Channels  int
}

// Validate checks the geometry is buildable.
func (g Geometry) Validate() error {
	switch {
	case g.Buffers < 1:
		return fmt.Errorf("dma: %d buffers", g.Buffers)
	case g.BlockSize < 1:
		return fmt.Errorf("dma: block size %d", g.BlockSize)
	case g.Channels < 1:
		return fmt.Errorf("dma: %d channels", g.Channels)
	}
	return nil
}

// Stride is the block size rounded up to a multiple of four frames.
func (g Geometry) Stride() int {
	return (g.BlockSize + 3) &^ 3
}

// BufferWords is the number of int32 words in one buffer.
func (g Geometry) BufferWords() int {
	return g.Stride() * g.Channels
}

// PerBuffer is the number of descriptors covering one buffer.
func (g Geometry) PerBuffer() int {
	return g.BlockSize * g.Channels * 2
}

// Descriptors is the total chain length.
func (g Geometry) Descriptors() int {
	return g.Buffers * g.PerBuffer()
}

// SampleOffset is the region offset where the sample buffers start.
func (g Geometry) SampleOffset() int {
	return (g.Descriptors()*DescriptorSize + 31) &^ 31
}

// RegionSize is the number of bytes a region must hold for this geometry.
func (g Geometry) RegionSize() int {
	return g.SampleOffset() + 2*g.Buffers*g.BufferWords()*4
}

// Position is a decoded DMA location.
type Position struct {
	Buffer    int
	Frame     int
	Channel   int
	Direction Direction
}

func (p Position) String() string {
	return fmt.Sprintf("buf=%d frame=%d ch=%d %s", p.Buffer, p.Frame, p.Channel, p.Direction)
}

// Chain is a circular list of single-sample descriptors over a region.
type Chain struct {
	geo    Geometry
	region *dmamem.Region
	desc   []Descriptor
	addrs  []uint32
	bases  []uint32
	first  uint32
	layout *Layout
}

// Build lays out the descriptor cycle for g in region. Descriptors occupy
// the start of the region; the sample buffers follow. fifo is the bus
// address of the peripheral FIFO, rx and tx its DREQ lines.
func Build(region *dmamem.Region, g Geometry, fifo, rx, tx uint32) (*Chain, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if region.Size() < g.RegionSize() {
		return nil, fmt.Errorf("dma: region of %d bytes cannot hold %d", region.Size(), g.RegionSize())
	}

	words := region.Words(0, g.Descriptors()*DescriptorSize/4)
	desc := unsafe.Slice((*Descriptor)(unsafe.Pointer(&words[0])), g.Descriptors())
	first, err := region.BusAddr(unsafe.Pointer(&desc[0]))
	if err != nil {
		return nil, err
	}
	if first&31 != 0 {
		return nil, errors.New("dma: region bus address not 32 byte aligned")
	}
	layout, err := newLayout(region, g)
	if err != nil {
		return nil, err
	}
	c := &Chain{
		geo:    g,
		region: region,
		desc:   desc,
		addrs:  make([]uint32, len(desc)),
		bases:  make([]uint32, g.Buffers),
		first:  first,
		layout: layout,
	}
	for i := range desc {
		if c.addrs[i], err = region.BusAddr(unsafe.Pointer(&desc[i])); err != nil {
			return nil, err
		}
	}

	readTI := uint32(TIWaitResp | TINoWideBursts | TISrcDReq | Permap(rx))
	writeTI := uint32(TIWaitResp | TINoWideBursts | TIDestDReq | Permap(tx))

	slot := 0
	for b := 0; b < g.Buffers; b++ {
		c.bases[b] = c.addr(slot)
		for f := 0; f < g.BlockSize; f++ {
			for ch := 0; ch < g.Channels; ch++ {
				word := uint32((f*g.Channels + ch) * 4)
				for _, dir := range []Direction{Read, Write} {
					d := &c.desc[slot]
					*d = Descriptor{Length: SampleBytes}
					if dir == Read {
						d.TI = readTI
						d.Source = fifo
						d.Dest = c.layout.inBus[b] + word
					} else {
						d.TI = writeTI
						d.Source = c.layout.outBus[b] + word
						d.Dest = fifo
					}
					slot++
				}
			}
		}
	}
	c.Relink()
	return c, nil
}

func (c *Chain) addr(slot int) uint32 {
	return c.addrs[slot]
}

// Relink rewrites every next pointer to the following slot, the last one
// back to slot 0.
func (c *Chain) Relink() {
	n := len(c.desc)
	for i := range c.desc {
		c.desc[i].Next = c.addr((i + 1) % n)
	}
}

// Geometry returns the geometry the chain was built for.
func (c *Chain) Geometry() Geometry {
	return c.geo
}

// Len returns the number of descriptors.
func (c *Chain) Len() int {
	return len(c.desc)
}

// Descriptor returns descriptor i.
func (c *Chain) Descriptor(i int) Descriptor {
	return c.desc[i]
}

// Addr returns the bus address of descriptor i.
func (c *Chain) Addr(i int) uint32 {
	return c.addr(i)
}

// Head is the bus address the engine must be started at.
func (c *Chain) Head() uint32 {
	return c.first
}

// BufferBase returns the bus address of the first descriptor of buffer b.
func (c *Chain) BufferBase(b int) uint32 {
	return c.bases[b]
}

// Layout returns the sample buffer views.
func (c *Chain) Layout() *Layout {
	return c.layout
}

// Decode maps a descriptor bus address to the transfer it performs. Buffer
// bases are strictly increasing, so the last base not above addr owns it.
func (c *Chain) Decode(addr uint32) (Position, bool) {
	b := -1
	for i, base := range c.bases {
		if addr >= base {
			b = i
		}
	}
	if b < 0 {
		return Position{}, false
	}
	off := addr - c.bases[b]
	if off%DescriptorSize != 0 {
		return Position{}, false
	}
	idx := int(off / DescriptorSize)
	if idx >= c.geo.PerBuffer() {
		return Position{}, false
	}
	return Position{
		Buffer:    b,
		Frame:     idx / (c.geo.Channels * 2),
		Channel:   (idx / 2) % c.geo.Channels,
		Direction: Direction(idx % 2),
	}, true
}
