// Package pipeline converts between the interleaved 24-bit hardware buffers
// and the dual-mono float buffers handed to the block processor.
package pipeline

import (
	"fmt"
	"unsafe"

	"github.com/klauspost/cpuid/v2"
)

// Processor is the block callback.
type Processor interface {
	ProcessBlock(out, in [][]float32, frames int)
}

// Config sizes a pipeline.
type Config struct {
	// Channels is the number of interleaved hardware channels.
	Channels int
	// BlockSize is the number of frames per block.
	BlockSize int
	// InputBase and OutputBase are the first hardware channels mapped to
	// processor channel 0.
	InputBase  int
	OutputBase int
	// Scalar disables the four-lane converters.
	Scalar bool
}

// Pipeline owns the float staging buffers for one transport.
type Pipeline struct {
	cfg    Config
	in     [][]float32
	out    [][]float32
	vector bool
}

// SIMD reports whether the CPU has the vector units the four-lane converters
// are written for.
func SIMD() bool {
	return cpuid.CPU.Supports(cpuid.ASIMD) || cpuid.CPU.Supports(cpuid.SSE2)
}

// New allocates staging buffers for cfg.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Channels < 1 || cfg.BlockSize < 1 {
		return nil, fmt.Errorf("pipeline: %d channels, block size %d", cfg.Channels, cfg.BlockSize)
	}
	if cfg.InputBase < 0 || cfg.InputBase >= cfg.Channels {
		return nil, fmt.Errorf("pipeline: input channel base %d outside %d hardware channels", cfg.InputBase, cfg.Channels)
	}
	if cfg.OutputBase < 0 || cfg.OutputBase >= cfg.Channels {
		return nil, fmt.Errorf("pipeline: output channel base %d outside %d hardware channels", cfg.OutputBase, cfg.Channels)
	}
	return &Pipeline{
		cfg:    cfg,
		in:     staging(cfg.Channels-cfg.InputBase, cfg.BlockSize),
		out:    staging(cfg.Channels-cfg.OutputBase, cfg.BlockSize),
		vector: !cfg.Scalar && SIMD(),
	}, nil
}

// staging returns n buffers of frames floats, each starting on a 16 byte
// boundary.
func staging(n, frames int) [][]float32 {
	bufs := make([][]float32, n)
	for i := range bufs {
		raw := make([]float32, frames+3)
		skip := 0
		for uintptr(unsafe.Pointer(&raw[skip]))&15 != 0 {
			skip++
		}
		bufs[i] = raw[skip : skip+frames : skip+frames]
	}
	return bufs
}

// Inputs is the number of channels the processor receives.
func (p *Pipeline) Inputs() int { return len(p.in) }

// Outputs is the number of channels the processor produces.
func (p *Pipeline) Outputs() int { return len(p.out) }

// Vector reports whether the four-lane converters are in use.
func (p *Pipeline) Vector() bool { return p.vector }

// Run converts one completed hardware block, calls proc, and writes its
// output back. in and out are interleaved buffers of at least BlockSize
// frames. Hardware channels below OutputBase are written as silence.
func (p *Pipeline) Run(out, in []int32, proc Processor) {
	hw := p.cfg.Channels
	frames := p.cfg.BlockSize

	for i, dst := range p.in {
		if p.vector {
			decodeVector(dst, in, hw, p.cfg.InputBase+i)
		} else {
			decodeScalar(dst, in, hw, p.cfg.InputBase+i)
		}
	}
	for _, o := range p.out {
		clear(o)
	}

	proc.ProcessBlock(p.out, p.in, frames)

	for ch := 0; ch < p.cfg.OutputBase; ch++ {
		zeroChannel(out, frames, hw, ch)
	}
	for i, src := range p.out {
		if p.vector {
			encodeVector(out, src, hw, p.cfg.OutputBase+i)
		} else {
			encodeScalar(out, src, hw, p.cfg.OutputBase+i)
		}
	}
}

// Passthrough copies inputs to outputs channel by channel.
type Passthrough struct{}

// ProcessBlock implements Processor.
func (Passthrough) ProcessBlock(out, in [][]float32, frames int) {
	for i := range out {
		if i < len(in) {
			copy(out[i][:frames], in[i][:frames])
		}
	}
}
