package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/fxnode/internal/api/models"
	"github.com/smazurov/fxnode/internal/systemd"
)

func (s *Server) registerSystemdRoutes() {
	if s.options.SystemdManager == nil {
		return
	}

	unit := s.options.ServiceName
	if unit == "" {
		unit = systemd.ServiceName
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-service-status",
		Method:      http.MethodGet,
		Path:        "/api/systemd/status",
		Summary:     "Service Status",
		Description: "Get the systemd state of the fxnode unit",
		Tags:        []string{"systemd"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.SystemdUnitStatusResponse, error) {
		st, err := s.options.SystemdManager.State(ctx, unit)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get service status", err)
		}
		return &models.SystemdUnitStatusResponse{
			Body: models.SystemdUnitStatus{
				Unit:        st.Name,
				ActiveState: st.ActiveState,
				SubState:    st.SubState,
				Restarts:    st.Restarts,
			},
		}, nil
	})
}
