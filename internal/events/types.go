package events

import (
	"time"

	"github.com/smazurov/fxnode/internal/logging"
)

// Event type constants for kelindar/event.
const (
	TypeTransportState uint32 = iota + 1
	TypeDropout
	TypeExitRequested
	TypeConfigReloaded
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// TransportStateEvent is published whenever the engine starts, stops or
// restarts its transport.
type TransportStateEvent struct {
	Backend   string `json:"backend" example:"rpi-dma" doc:"Transport backend name"`
	State     string `json:"state" example:"running" doc:"Transport state: running or stopped"`
	Error     string `json:"error,omitempty" doc:"Last transport error, if any"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TransportStateEvent.
func (e TransportStateEvent) Type() uint32 { return TypeTransportState }

// Running reports whether the transport is streaming.
func (e TransportStateEvent) Running() bool { return e.State == "running" }

// DropoutEvent summarizes dropouts counted since the previous report.
type DropoutEvent struct {
	Backend   string `json:"backend" example:"rpi-dma" doc:"Transport backend name"`
	Count     uint64 `json:"count" example:"1" doc:"Dropouts since the previous report"`
	Total     uint64 `json:"total" example:"12" doc:"Dropouts since the engine started"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DropoutEvent.
func (e DropoutEvent) Type() uint32 { return TypeDropout }

// ExitRequestedEvent is published when a transport reports an unrecoverable
// condition and the engine shuts down.
type ExitRequestedEvent struct {
	Reason    string `json:"reason" example:"codec configuration lost" doc:"Why the transport asked to exit"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ExitRequestedEvent.
func (e ExitRequestedEvent) Type() uint32 { return TypeExitRequested }

// ConfigReloadedEvent is published after the audio section of the
// configuration file changed.
type ConfigReloadedEvent struct {
	Restarted bool   `json:"restarted" doc:"Whether the transport was rebuilt"`
	Error     string `json:"error,omitempty" doc:"Reload failure, if any"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"engine" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// NewLogEntryEvent converts a buffered log entry.
func NewLogEntryEvent(e logging.Entry) LogEntryEvent {
	return LogEntryEvent{
		Seq:        e.Seq,
		Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
		Level:      e.Level,
		Module:     e.Module,
		Message:    e.Message,
		Attributes: e.Attributes,
	}
}
