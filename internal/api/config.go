package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/fxnode/internal/api/models"
	"github.com/smazurov/fxnode/internal/config"
)

func toAudioConfig(a config.Audio) models.AudioConfig {
	return models.AudioConfig{
		Backend:        a.Backend,
		Driver:         a.Driver,
		BlockSize:      a.BlockSize,
		Channels:       a.Channels,
		SampleRate:     a.SampleRate,
		Prefill:        a.Prefill,
		Priority:       a.Priority,
		InputBase:      a.InputBase,
		OutputBase:     a.OutputBase,
		ReportInterval: a.ReportInterval.String(),
		Extra:          a.Extra,
	}
}

// registerConfigRoutes registers audio configuration endpoints.
func (s *Server) registerConfigRoutes() {
	if s.options.Engine != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-audio-config",
			Method:      http.MethodGet,
			Path:        "/api/config/audio",
			Summary:     "Audio Configuration",
			Description: "Get the audio configuration the engine is running with",
			Tags:        []string{"configuration"},
			Security:    withAuth(),
			Errors:      []int{401},
		}, func(ctx context.Context, _ *struct{}) (*models.AudioConfigResponse, error) {
			return &models.AudioConfigResponse{Body: toAudioConfig(s.options.Engine.Config())}, nil
		})
	}

	if s.options.ReloadConfig == nil {
		return
	}
	huma.Register(s.api, huma.Operation{
		OperationID: "reload-config",
		Method:      http.MethodPost,
		Path:        "/api/config/reload",
		Summary:     "Reload Configuration",
		Description: "Re-read the configuration file and rebuild the transport if the audio section changed",
		Tags:        []string{"configuration"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
		if err := s.options.ReloadConfig(); err != nil {
			return nil, huma.Error500InternalServerError("Failed to reload configuration", err)
		}
		return models.NewMessageResponse("Configuration reloaded"), nil
	})
}
