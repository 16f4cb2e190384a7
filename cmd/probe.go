package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c"

	"github.com/smazurov/fxnode/internal/board"
	"github.com/smazurov/fxnode/internal/codec"
	"github.com/smazurov/fxnode/internal/hw/i2cbus"
	"github.com/smazurov/fxnode/internal/hw/mailbox"
	"github.com/smazurov/fxnode/internal/transport"
	_ "github.com/smazurov/fxnode/internal/transport/dmai2s"
	_ "github.com/smazurov/fxnode/internal/transport/sim"
)

// ProbeDeps are the hardware entry points of the probe command.
type ProbeDeps struct {
	Detect   func() (board.Board, error)
	Revision func() (uint32, error)
	OpenBus  func(n int) (i2c.BusCloser, error)
}

func defaultProbeDeps() ProbeDeps {
	return ProbeDeps{
		Detect:   board.Detect,
		Revision: firmwareBoardRevision,
		OpenBus:  i2cbus.Open,
	}
}

// firmwareBoardRevision asks the VideoCore firmware for the revision code.
func firmwareBoardRevision() (uint32, error) {
	mb, err := mailbox.Open()
	if err != nil {
		return 0, err
	}
	defer mb.Close()
	return mb.BoardRevision()
}

// CreateProbeCmd creates the probe command, which reports the detected board
// and reads the codec identification register.
func CreateProbeCmd() *cobra.Command {
	var driver string

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Detect the board and the codec",
		Long: `Match the device tree model against the board table, print the peripheral
addresses and pin routing the rpi-dma transport will use, and read the
codec chip ID over I2C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Probe(cmd.OutOrStdout(), defaultProbeDeps(), driver)
		},
	}

	probeCmd.Flags().StringVarP(&driver, "driver", "d", "cs4272", "Codec driver to probe (none to skip)")

	return probeCmd
}

// Probe writes the board and codec report to w.
func Probe(w io.Writer, deps ProbeDeps, driver string) error {
	fmt.Fprintf(w, "backends:     %v\n", transport.Backends())
	fmt.Fprintf(w, "codecs:       %v\n", codec.Drivers())

	b, err := deps.Detect()
	if err != nil {
		return fmt.Errorf("detect board: %w", err)
	}
	fmt.Fprintf(w, "board:        %s (%s)\n", b.Name, b.Model)
	if deps.Revision != nil {
		if rev, err := deps.Revision(); err != nil {
			fmt.Fprintf(w, "revision:     unavailable (%v)\n", err)
		} else {
			fmt.Fprintf(w, "revision:     %#06x\n", rev)
		}
	}
	fmt.Fprintf(w, "peripherals:  %#x (gpio %#x, pcm %#x, dma %#x)\n",
		b.PeripheralBase, b.GPIOBase(), b.PCMBase(), b.DMABase())
	fmt.Fprintf(w, "dma channel:  %d\n", b.DMAChannel)
	fmt.Fprintf(w, "pcm pins:     clk %d fs %d din %d dout %d\n",
		b.PCM.Clock, b.PCM.FrameSync, b.PCM.DataIn, b.PCM.DataOut)
	for _, name := range slices.Sorted(maps.Keys(b.LEDs)) {
		fmt.Fprintf(w, "led %-8s  %s\n", name+":", b.LEDs[name])
	}

	if driver == "" || driver == "none" {
		return nil
	}
	bus, err := deps.OpenBus(b.I2CBus)
	if err != nil {
		return fmt.Errorf("open codec bus: %w", err)
	}
	defer bus.Close()

	c, err := codec.New(driver, codec.Deps{Bus: bus, Addr: b.CodecAddress})
	if err != nil {
		return err
	}
	id, err := c.ChipID()
	if err != nil {
		return fmt.Errorf("read %s chip id: %w", driver, err)
	}
	fmt.Fprintf(w, "codec:        %s at i2c-%d %#02x, chip id %#02x\n", c.Name(), b.I2CBus, b.CodecAddress, id)
	return nil
}
