package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/fxnode/internal/api/models"
	"github.com/smazurov/fxnode/internal/config"
	"github.com/smazurov/fxnode/internal/engine"
	"github.com/smazurov/fxnode/internal/events"
	"github.com/smazurov/fxnode/internal/led"
	"github.com/smazurov/fxnode/internal/logging"
	"github.com/smazurov/fxnode/internal/systemd"
	"github.com/smazurov/fxnode/internal/transport"
	"github.com/smazurov/fxnode/internal/version"
)

// EngineService is the part of the engine the API drives.
type EngineService interface {
	Status() engine.Status
	Config() config.Audio
	Start() error
	Stop() error
	Restart() error
	Transport() transport.Transport
}

// UnitStater reports systemd unit state.
type UnitStater interface {
	State(ctx context.Context, name string) (systemd.UnitState, error)
}

// Server is the diagnostics API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	eventBus   *events.Bus
	logger     *slog.Logger
}

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string
	Engine       EngineService
	EventBus     *events.Bus
	// LEDController enables the LED routes (optional).
	LEDController led.Controller
	// SystemdManager enables the unit status route (optional).
	SystemdManager UnitStater
	ServiceName    string
	// ReloadConfig re-reads the audio configuration (optional).
	ReloadConfig      func() error
	PrometheusHandler http.Handler // Optional Prometheus metrics handler
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	humaConfig := huma.DefaultConfig("fxnode API", version.Get().Version)
	humaConfig.Info.Description = "Diagnostics and control for the fxnode audio engine"
	humaConfig.Servers = []*huma.Server{}
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, humaConfig)

	server := &Server{
		api:      api,
		mux:      mux,
		options:  opts,
		eventBus: opts.EventBus,
		logger:   logging.GetLogger("api"),
	}
	if server.eventBus == nil {
		server.eventBus = events.New()
	}

	// CORS first, then logging, then auth
	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// Metrics stay outside huma so scrapers need no credentials
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting fxnode API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the server without waiting for SSE clients.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		resp := &models.HealthResponse{
			Body: models.HealthData{
				Status:    "ok",
				Message:   "API is healthy",
				Transport: string(transport.StateStopped),
			},
		}
		if s.options.Engine != nil {
			resp.Body.Transport = string(s.options.Engine.Status().State)
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				Modified:  info.Modified,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerTransportRoutes()
	s.registerConfigRoutes()
	s.registerLEDRoutes()
	s.registerLogRoutes()
	s.registerSystemdRoutes()
	s.registerSSERoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
