package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/smazurov/fxnode/internal/hw/dma"
	"github.com/smazurov/fxnode/internal/hw/dmamem"
	"github.com/smazurov/fxnode/internal/hw/pcm"
)

// chainBus is the bus address the heap-backed region pretends to live at.
const chainBus = 0xc0000000

// ChainReport summarizes a built descriptor chain.
type ChainReport struct {
	Geometry    dma.Geometry
	Descriptors int
	RegionSize  int
	Stride      int
	BufferWords int
}

// CreateChainCmd creates the chain command. It builds the descriptor chain
// for a geometry in ordinary memory and checks it without touching hardware.
func CreateChainCmd() *cobra.Command {
	var (
		g       dma.Geometry
		verbose bool
	)

	chainCmd := &cobra.Command{
		Use:   "chain",
		Short: "Build and verify a DMA descriptor chain layout",
		Long: `Build the circular descriptor chain the rpi-dma transport would use and
verify it: every descriptor is visited once per cycle, decodes to a buffer,
frame and channel, and moves data between the PCM FIFO and its buffer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.Validate(); err != nil {
				return err
			}
			region := dmamem.NewHeap(g.RegionSize(), chainBus)
			c, err := dma.Build(region, g, pcm.FIFOBus, dma.DReqPCMRX, dma.DReqPCMTX)
			if err != nil {
				return err
			}
			report, err := CheckChain(c)
			if err != nil {
				return err
			}
			printChain(cmd.OutOrStdout(), c, report, verbose)
			return nil
		},
	}

	chainCmd.Flags().IntVar(&g.Buffers, "buffers", 2, "Number of buffers in the ring")
	chainCmd.Flags().IntVar(&g.BlockSize, "block-size", 64, "Frames per block")
	chainCmd.Flags().IntVar(&g.Channels, "channels", 2, "Channels per frame")
	chainCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every descriptor")

	return chainCmd
}

// CheckChain walks c from its head and verifies it is a single cycle of
// decodable descriptors that alternate between reading and writing the FIFO.
func CheckChain(c *dma.Chain) (ChainReport, error) {
	g := c.Geometry()
	report := ChainReport{
		Geometry:    g,
		Descriptors: c.Len(),
		RegionSize:  g.RegionSize(),
		Stride:      g.Stride(),
		BufferWords: g.BufferWords(),
	}

	index := make(map[uint32]int, c.Len())
	for i := 0; i < c.Len(); i++ {
		index[c.Addr(i)] = i
	}

	addr := c.Head()
	seen := make([]bool, c.Len())
	for step := 0; step < c.Len(); step++ {
		i, ok := index[addr]
		if !ok {
			return report, fmt.Errorf("step %d: next pointer %#08x is not a descriptor", step, addr)
		}
		if seen[i] {
			return report, fmt.Errorf("step %d: descriptor %d visited twice", step, i)
		}
		seen[i] = true

		pos, ok := c.Decode(addr)
		if !ok {
			return report, fmt.Errorf("descriptor %d at %#08x does not decode", i, addr)
		}
		if want := dma.Direction(step % 2); pos.Direction != want {
			return report, fmt.Errorf("descriptor %d: direction %s, want %s", i, pos.Direction, want)
		}
		d := c.Descriptor(i)
		switch pos.Direction {
		case dma.Read:
			if d.Source != pcm.FIFOBus {
				return report, fmt.Errorf("descriptor %d: read source %#08x is not the FIFO", i, d.Source)
			}
		case dma.Write:
			if d.Dest != pcm.FIFOBus {
				return report, fmt.Errorf("descriptor %d: write destination %#08x is not the FIFO", i, d.Dest)
			}
		}
		addr = d.Next
	}
	if addr != c.Head() {
		return report, fmt.Errorf("chain does not return to its head after %d descriptors", c.Len())
	}
	return report, nil
}

func printChain(w io.Writer, c *dma.Chain, r ChainReport, verbose bool) {
	fmt.Fprintf(w, "geometry:     %d buffers x %d frames x %d channels\n",
		r.Geometry.Buffers, r.Geometry.BlockSize, r.Geometry.Channels)
	fmt.Fprintf(w, "descriptors:  %d (%d per buffer)\n", r.Descriptors, r.Geometry.PerBuffer())
	fmt.Fprintf(w, "stride:       %d frames, %d words per buffer\n", r.Stride, r.BufferWords)
	fmt.Fprintf(w, "region:       %d bytes\n", r.RegionSize)
	for b := 0; b < r.Geometry.Buffers; b++ {
		fmt.Fprintf(w, "buffer %d:     head %#08x\n", b, c.BufferBase(b))
	}
	if verbose {
		for i := 0; i < c.Len(); i++ {
			pos, _ := c.Decode(c.Addr(i))
			d := c.Descriptor(i)
			fmt.Fprintf(w, "%6d %#08x %-28s src=%#08x dst=%#08x next=%#08x\n",
				i, c.Addr(i), pos, d.Source, d.Dest, d.Next)
		}
	}
	fmt.Fprintln(w, "chain ok")
}
