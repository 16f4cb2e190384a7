package api

import (
	"context"
	"math"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/fxnode/internal/api/models"
	"github.com/smazurov/fxnode/internal/engine"
	"github.com/smazurov/fxnode/internal/hw/dma"
	"github.com/smazurov/fxnode/internal/hw/pcm"
	"github.com/smazurov/fxnode/internal/pipeline"
)

// Diagnostics offered by the DMA transport. Other backends answer 404.
type (
	positioner interface {
		Position() (dma.Position, bool)
	}
	pcmStatuser interface {
		PCMStatus() (pcm.Status, bool)
	}
	inputSnapshotter interface {
		InputSnapshot() [][]int32
	}
)

func toTransportStatus(st engine.Status) models.TransportStatus {
	out := models.TransportStatus{
		Backend:      st.Backend,
		State:        string(st.State),
		SampleRate:   st.Info.SampleRate,
		MaxBlockSize: st.Info.MaxBlockSize,
		Inputs:       st.Info.Inputs,
		Outputs:      st.Info.Outputs,
		LastError:    st.LastError,
		Dropouts:     st.Dropouts,
	}
	if st.Stats != nil {
		out.Stats = &models.TransportStats{
			Blocks:     st.Stats.Blocks,
			Dropouts:   st.Stats.Dropouts,
			FIFOErrors: st.Stats.FIFOErrors,
			SyncErrors: st.Stats.SyncErrors,
			LostTrack:  st.Stats.LostTrack,
		}
	}
	return out
}

// peaks returns the largest absolute level per channel of interleaved words.
func peaks(buffers [][]int32, channels int) []float64 {
	out := make([]float64, channels)
	for _, buf := range buffers {
		for i, w := range buf {
			v := math.Abs(float64(pipeline.ToFloat(w)))
			if c := i % channels; v > out[c] {
				out[c] = v
			}
		}
	}
	return out
}

// registerTransportRoutes registers transport status and control endpoints.
func (s *Server) registerTransportRoutes() {
	if s.options.Engine == nil {
		s.logger.Debug("Engine not available, skipping transport routes")
		return
	}
	eng := s.options.Engine

	huma.Register(s.api, huma.Operation{
		OperationID: "get-transport-status",
		Method:      http.MethodGet,
		Path:        "/api/transport",
		Summary:     "Transport Status",
		Description: "Get the transport state, geometry and counters",
		Tags:        []string{"transport"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.TransportStatusResponse, error) {
		return &models.TransportStatusResponse{Body: toTransportStatus(eng.Status())}, nil
	})

	for _, action := range []struct {
		id, path, summary, done string
		run                     func() error
	}{
		{"start-transport", "/api/transport/start", "Start Transport", "Transport started", eng.Start},
		{"stop-transport", "/api/transport/stop", "Stop Transport", "Transport stopped", eng.Stop},
		{"restart-transport", "/api/transport/restart", "Restart Transport", "Transport restarted", eng.Restart},
	} {
		huma.Register(s.api, huma.Operation{
			OperationID: action.id,
			Method:      http.MethodPost,
			Path:        action.path,
			Summary:     action.summary,
			Tags:        []string{"transport"},
			Security:    withAuth(),
			Errors:      []int{401, 500},
		}, func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
			if err := action.run(); err != nil {
				return nil, huma.Error500InternalServerError(action.summary+" failed", err)
			}
			return models.NewMessageResponse(action.done), nil
		})
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-transport-position",
		Method:      http.MethodGet,
		Path:        "/api/transport/position",
		Summary:     "DMA Position",
		Description: "Decode the descriptor the DMA engine is currently executing",
		Tags:        []string{"transport"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409},
	}, func(ctx context.Context, _ *struct{}) (*models.PositionResponse, error) {
		p, ok := eng.Transport().(positioner)
		if !ok {
			return nil, huma.Error404NotFound("Backend does not report a DMA position")
		}
		pos, ok := p.Position()
		if !ok {
			return nil, huma.Error409Conflict("DMA position not available")
		}
		return &models.PositionResponse{Body: models.PositionData{
			Buffer:    pos.Buffer,
			Frame:     pos.Frame,
			Channel:   pos.Channel,
			Direction: pos.Direction.String(),
		}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-pcm-status",
		Method:      http.MethodGet,
		Path:        "/api/transport/pcm",
		Summary:     "PCM Status",
		Description: "Read the PCM control and status register",
		Tags:        []string{"transport"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409},
	}, func(ctx context.Context, _ *struct{}) (*models.PCMStatusResponse, error) {
		p, ok := eng.Transport().(pcmStatuser)
		if !ok {
			return nil, huma.Error404NotFound("Backend has no PCM peripheral")
		}
		st, ok := p.PCMStatus()
		if !ok {
			return nil, huma.Error409Conflict("PCM not mapped")
		}
		return &models.PCMStatusResponse{Body: models.PCMStatusData{
			Raw:     uint32(st),
			Flags:   st.String(),
			RXError: st.RXError(),
			TXError: st.TXError(),
		}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-input-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/transport/inputs",
		Summary:     "Input Snapshot",
		Description: "Copy both input buffers and report per-channel peaks",
		Tags:        []string{"transport"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409},
	}, func(ctx context.Context, _ *struct{}) (*models.InputSnapshotResponse, error) {
		p, ok := eng.Transport().(inputSnapshotter)
		if !ok {
			return nil, huma.Error404NotFound("Backend does not expose its input buffers")
		}
		buffers := p.InputSnapshot()
		if buffers == nil {
			return nil, huma.Error409Conflict("Input buffers not allocated")
		}
		channels := eng.Config().Channels
		if channels <= 0 {
			channels = 2
		}
		return &models.InputSnapshotResponse{Body: models.InputSnapshotData{
			Channels: channels,
			Buffers:  buffers,
			Peaks:    peaks(buffers, channels),
		}}, nil
	})
}
