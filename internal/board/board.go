// Package board identifies the single board computer and supplies its static
// hardware description: peripheral base, memory flags, pin routing and LEDs.
package board

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/fxnode/internal/hw/dma"
	"github.com/smazurov/fxnode/internal/hw/pcm"
	"github.com/smazurov/fxnode/internal/hw/regs"
)

// Device tree paths.
const (
	ModelPath  = "/proc/device-tree/model"
	RangesPath = "/proc/device-tree/soc/ranges"
)

//go:embed boards.toml
var boardsTOML []byte

// ErrUnknown is returned when no table entry matches the model.
var ErrUnknown = errors.New("board: unsupported board")

// Pins is the PCM routing of a board.
type Pins struct {
	Clock     int `toml:"clock"`
	FrameSync int `toml:"frame_sync"`
	DataIn    int `toml:"data_in"`
	DataOut   int `toml:"data_out"`
}

// Board is one table entry.
type Board struct {
	Name           string            `toml:"name"`
	Match          []string          `toml:"match"`
	PeripheralBase uint64            `toml:"peripheral_base"`
	MemFlags       uint32            `toml:"mem_flags"`
	Pull           string            `toml:"pull_style"`
	DMAChannel     int               `toml:"dma_channel"`
	I2CBus         int               `toml:"i2c_bus"`
	CodecAddress   uint16            `toml:"codec_address"`
	CodecReset     int               `toml:"codec_reset"`
	PCM            Pins              `toml:"pcm"`
	LEDs           map[string]string `toml:"leds"`

	// Model is the device tree model the entry was matched against.
	Model string `toml:"-"`
}

type table struct {
	Boards []Board `toml:"board"`
}

// Table returns the embedded board table.
func Table() ([]Board, error) {
	var t table
	if err := toml.Unmarshal(boardsTOML, &t); err != nil {
		return nil, fmt.Errorf("board: parse table: %w", err)
	}
	for _, b := range t.Boards {
		if err := b.validate(); err != nil {
			return nil, err
		}
	}
	return t.Boards, nil
}

func (b Board) validate() error {
	if b.Name == "" || len(b.Match) == 0 {
		return fmt.Errorf("board: entry without name or match: %+v", b)
	}
	if b.Pull != "clocked" && b.Pull != "direct" {
		return fmt.Errorf("board: %s: unknown pull style %q", b.Name, b.Pull)
	}
	for _, p := range []int{b.PCM.Clock, b.PCM.FrameSync, b.PCM.DataIn, b.PCM.DataOut, b.CodecReset} {
		if p < 0 || p >= regs.NumPins {
			return fmt.Errorf("board: %s: pin %d out of range", b.Name, p)
		}
	}
	return nil
}

// Match returns the first table entry matching model.
func Match(model string) (Board, error) {
	boards, err := Table()
	if err != nil {
		return Board{}, err
	}
	for _, b := range boards {
		for _, m := range b.Match {
			if strings.Contains(model, m) {
				b.Model = model
				return b, nil
			}
		}
	}
	return Board{}, fmt.Errorf("%w: %q", ErrUnknown, model)
}

// Detect reads the device tree model and matches it. When the device tree
// reports a peripheral base it overrides the table value.
func Detect() (Board, error) {
	model := ReadModel(ModelPath)
	b, err := Match(model)
	if err != nil {
		return Board{}, err
	}
	if base, err := PeripheralBaseFromRanges(RangesPath); err == nil && base != 0 {
		b.PeripheralBase = base
	}
	return b, nil
}

// ReadModel returns the device tree model string, or "unknown".
func ReadModel(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00")
}

// PeripheralBaseFromRanges decodes the first soc ranges entry. Boards with
// 64-bit parent addresses carry the high word first, which is zero below 4GB.
func PeripheralBaseFromRanges(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(data) < 8 {
		return 0, fmt.Errorf("board: %s: short ranges (%d bytes)", path, len(data))
	}
	base := binary.BigEndian.Uint32(data[4:8])
	if base == 0 && len(data) >= 12 {
		base = binary.BigEndian.Uint32(data[8:12])
	}
	return uint64(base), nil
}

// PullStyle returns the GPIO pull register scheme.
func (b Board) PullStyle() regs.PullStyle {
	if b.Pull == "direct" {
		return regs.PullDirect
	}
	return regs.PullClocked
}

// PCMPins returns the PCM routing in driver form.
func (b Board) PCMPins() pcm.Pins {
	return pcm.Pins{
		Clock:     b.PCM.Clock,
		FrameSync: b.PCM.FrameSync,
		DataIn:    b.PCM.DataIn,
		DataOut:   b.PCM.DataOut,
		Function:  regs.Alt0,
	}
}

// GPIOBase is the physical address of the GPIO block.
func (b Board) GPIOBase() uint64 { return b.PeripheralBase + regs.GPIOOffset }

// PCMBase is the physical address of the PCM block.
func (b Board) PCMBase() uint64 { return b.PeripheralBase + pcm.Offset }

// DMABase is the physical address of the DMA controller block.
func (b Board) DMABase() uint64 { return b.PeripheralBase + dma.ControllerOffset }
