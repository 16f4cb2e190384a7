// Package systemd talks to the service manager: readiness and watchdog
// notifications over the notify socket, unit state over D-Bus.
package systemd

import (
	"context"

	"github.com/coreos/go-systemd/v22/dbus"
)

// ServiceName is the unit fxnode is installed as.
const ServiceName = "fxnode.service"

// Manager reads unit state over the system D-Bus.
type Manager struct {
	conn *dbus.Conn
}

// NewManager connects to the system bus.
func NewManager(ctx context.Context) (*Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, err
	}
	return &Manager{conn: conn}, nil
}

// UnitState is the subset of unit properties the API reports.
type UnitState struct {
	Name        string `json:"name" example:"fxnode.service"`
	ActiveState string `json:"active_state" example:"active"`
	SubState    string `json:"sub_state" example:"running"`
	Restarts    uint32 `json:"restarts" doc:"NRestarts: how often systemd restarted the unit"`
}

// State returns the active state of a unit.
func (m *Manager) State(ctx context.Context, name string) (UnitState, error) {
	props, err := m.conn.GetUnitPropertiesContext(ctx, name)
	if err != nil {
		return UnitState{}, err
	}
	return unitState(name, props), nil
}

// unitState extracts UnitState from a unit's property map.
func unitState(name string, props map[string]any) UnitState {
	st := UnitState{Name: name}
	st.ActiveState, _ = props["ActiveState"].(string)
	st.SubState, _ = props["SubState"].(string)
	st.Restarts, _ = props["NRestarts"].(uint32)
	return st
}

// Close cleanly closes the D-Bus connection.
func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}
