package led

import (
	"github.com/smazurov/fxnode/internal/board"
	"github.com/smazurov/fxnode/internal/logging"
)

// New creates an LED controller for the board's LED table.
// Falls back to a no-op controller when the board has no LEDs.
func New(b board.Board, logger logging.Logger) Controller {
	if logger == nil {
		logger = logging.GetLogger("led")
	}
	if len(b.LEDs) == 0 {
		logger.Info("No LED support detected, using no-op controller", "board_model", b.Model)
		return newNoop(logger)
	}
	logger.Info("Using sysfs LED controller", "board", b.Name, "leds", len(b.LEDs))
	return newSysfs(sysfsLEDPath, b.LEDs)
}

// Detect looks the running board up and creates its controller.
func Detect(logger logging.Logger) Controller {
	if logger == nil {
		logger = logging.GetLogger("led")
	}
	b, err := board.Detect()
	if err != nil {
		logger.Info("Board not recognized for LED control", "error", err)
		return newNoop(logger)
	}
	return New(b, logger)
}
