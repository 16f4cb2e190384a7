package models

// SystemdUnitStatus contains the state of a systemd unit.
type SystemdUnitStatus struct {
	Unit        string `json:"unit" example:"fxnode.service" doc:"Unit name"`
	ActiveState string `json:"active_state" example:"active" doc:"Unit active state (active, inactive, failed, etc.)"`
	SubState    string `json:"sub_state" example:"running" doc:"Unit sub-state"`
	Restarts    uint32 `json:"restarts" example:"0" doc:"Automatic restarts since boot"`
}

// SystemdUnitStatusResponse wraps SystemdUnitStatus for API responses.
type SystemdUnitStatusResponse struct {
	Body SystemdUnitStatus
}
