package models

import "github.com/smazurov/fxnode/internal/events"

// Health check models
type HealthData struct {
	Status    string `json:"status" example:"ok" doc:"Service status"`
	Message   string `json:"message" example:"API is healthy" doc:"Status message"`
	Transport string `json:"transport" example:"running" doc:"Transport state (running, stopped)"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-01T00:00:00Z" doc:"Build timestamp"`
	Modified  bool   `json:"modified" example:"false" doc:"Whether the working tree was dirty at build time"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Body struct {
		Message string `json:"message" example:"Transport restarted" doc:"Operation result message"`
	}
}

// NewMessageResponse builds a MessageResponse.
func NewMessageResponse(msg string) *MessageResponse {
	r := &MessageResponse{}
	r.Body.Message = msg
	return r
}

// Log models
type LogsRequest struct {
	After uint64 `query:"after" example:"0" doc:"Only return entries with a sequence number above this"`
}

type LogsData struct {
	Entries []events.LogEntryEvent `json:"entries" doc:"Buffered log entries, oldest first"`
	Last    uint64                 `json:"last" example:"42" doc:"Sequence number of the newest entry returned"`
}

type LogsResponse struct {
	Body LogsData
}

type LogLevelsResponse struct {
	Body struct {
		Levels map[string]string `json:"levels" doc:"Effective level per module; the empty key is the default level"`
	}
}

type LogLevelRequest struct {
	Body struct {
		Module string `json:"module,omitempty" example:"dmai2s" doc:"Module name; empty sets the default level"`
		Level  string `json:"level" example:"debug" enum:"debug,info,warn,error" doc:"New level"`
	}
}
