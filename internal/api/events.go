package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/fxnode/internal/events"
	"github.com/smazurov/fxnode/internal/transport"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of transport state, dropouts, exit requests and configuration reloads",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"transport-state": events.TransportStateEvent{},
		"dropout":         events.DropoutEvent{},
		"exit-requested":  events.ExitRequestedEvent{},
		"config-reloaded": events.ConfigReloadedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.TransportStateEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DropoutEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ExitRequestedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ConfigReloadedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// The current state goes first so clients need no separate status call.
		if err := send.Data(s.currentState()); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

func (s *Server) currentState() events.TransportStateEvent {
	ev := events.TransportStateEvent{
		State:     string(transport.StateStopped),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if s.options.Engine != nil {
		st := s.options.Engine.Status()
		ev.Backend = st.Backend
		ev.State = string(st.State)
		ev.Error = st.LastError
	}
	return ev
}
