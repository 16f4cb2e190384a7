package led

import (
	"sync"
	"time"

	"github.com/smazurov/fxnode/internal/events"
	"github.com/smazurov/fxnode/internal/logging"
)

// DefaultHold is how long the status LED blinks after a dropout.
const DefaultHold = 5 * time.Second

// Manager drives the status LED from transport events: solid while the
// transport runs cleanly, blinking while it is stopped or shortly after a
// dropout.
type Manager struct {
	controller Controller
	eventBus   *events.Bus
	led        string
	hold       time.Duration
	logger     logging.Logger

	mu          sync.Mutex
	unsubscribe []func()
	running     bool
	troubled    bool
	timer       *time.Timer
	pattern     string
}

// NewManager creates a manager for the named LED. hold <= 0 selects
// DefaultHold.
func NewManager(controller Controller, eventBus *events.Bus, led string, hold time.Duration, logger logging.Logger) *Manager {
	if hold <= 0 {
		hold = DefaultHold
	}
	if logger == nil {
		logger = logging.GetLogger("led")
	}
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		led:        led,
		hold:       hold,
		logger:     logger,
	}
}

// Start begins listening for transport events
func (m *Manager) Start() {
	m.mu.Lock()
	m.unsubscribe = []func(){
		m.eventBus.Subscribe(m.handleState),
		m.eventBus.Subscribe(m.handleDropout),
	}
	m.apply()
	m.mu.Unlock()
	m.logger.Info("LED manager started", "led", m.led)
}

// Stop unsubscribes from events and leaves the LED blinking.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.unsubscribe = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.running = false
	m.apply()
	m.logger.Info("LED manager stopped")
}

func (m *Manager) handleState(e events.TransportStateEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = e.Running()
	m.logger.Debug("Transport state changed", "backend", e.Backend, "state", e.State)
	m.apply()
}

func (m *Manager) handleDropout(e events.DropoutEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Count == 0 {
		return
	}
	m.troubled = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.hold, m.settle)
	m.apply()
}

func (m *Manager) settle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.troubled = false
	m.timer = nil
	m.apply()
}

// apply sets the LED if the desired pattern changed. Caller holds mu.
func (m *Manager) apply() {
	pattern := "blink"
	if m.running && !m.troubled {
		pattern = "solid"
	}
	if pattern == m.pattern {
		return
	}
	if err := m.controller.Set(m.led, true, pattern); err != nil {
		m.logger.Warn("Failed to set status LED", "led", m.led, "pattern", pattern, "error", err)
		return
	}
	m.pattern = pattern
}

// Pattern returns the pattern last applied to the LED.
func (m *Manager) Pattern() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pattern
}

// GetController returns the underlying LED controller for direct API access
func (m *Manager) GetController() Controller {
	return m.controller
}
