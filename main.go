package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/fxnode/cmd"
	"github.com/smazurov/fxnode/internal/api"
	"github.com/smazurov/fxnode/internal/config"
	"github.com/smazurov/fxnode/internal/engine"
	"github.com/smazurov/fxnode/internal/events"
	"github.com/smazurov/fxnode/internal/led"
	"github.com/smazurov/fxnode/internal/logging"
	"github.com/smazurov/fxnode/internal/metrics"
	"github.com/smazurov/fxnode/internal/systemd"
	_ "github.com/smazurov/fxnode/internal/transport/dmai2s"
	_ "github.com/smazurov/fxnode/internal/transport/sim"
	"github.com/smazurov/fxnode/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"fxnode.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Audio settings
	AudioBackend        string `help:"Transport backend (rpi-dma, sim)" default:"rpi-dma" toml:"audio.backend" env:"AUDIO_BACKEND"`
	AudioDriver         string `help:"Codec driver (cs4272, none)" default:"cs4272" toml:"audio.driver" env:"AUDIO_DRIVER"`
	AudioBlockSize      int    `help:"Frames per block" default:"64" toml:"audio.block_size" env:"AUDIO_BLOCK_SIZE"`
	AudioChannels       int    `help:"Channels per frame" default:"2" toml:"audio.channels" env:"AUDIO_CHANNELS"`
	AudioSampleRate     int    `help:"Sample rate hint" default:"48000" toml:"audio.sample_rate" env:"AUDIO_SAMPLE_RATE"`
	AudioPrefill        int    `help:"Silent words queued before transmit starts (0 for backend default)" default:"0" toml:"audio.prefill" env:"AUDIO_PREFILL"`
	AudioPriority       int    `help:"SCHED_FIFO priority of the polling loop (0 to disable)" default:"70" toml:"audio.priority" env:"AUDIO_PRIORITY"`
	AudioInputBase      int    `help:"First hardware channel mapped to input" default:"0" toml:"audio.input_base" env:"AUDIO_INPUT_BASE"`
	AudioOutputBase     int    `help:"First hardware channel mapped to output" default:"0" toml:"audio.output_base" env:"AUDIO_OUTPUT_BASE"`
	AudioReportInterval string `help:"Dropout report interval" default:"1s" toml:"audio.report_interval" env:"AUDIO_REPORT_INTERVAL"`

	// Features settings
	FeaturesLedControl   bool   `help:"Drive a board LED from the transport state" default:"true" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`
	FeaturesStatusLed    string `help:"LED that shows the transport state" default:"act" toml:"features.status_led" env:"FEATURES_STATUS_LED"`
	FeaturesWatchConfig  bool   `help:"Reload the audio section when the config file changes" default:"true" toml:"features.watch_config" env:"FEATURES_WATCH_CONFIG"`
	FeaturesSystemdUnits bool   `help:"Report the systemd unit state over D-Bus" default:"true" toml:"features.systemd_units" env:"FEATURES_SYSTEMD_UNITS"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingEngine    string `help:"Engine logging level" default:"info" toml:"logging.engine" env:"LOGGING_ENGINE"`
	LoggingTransport string `help:"Transport backend logging level" default:"info" toml:"logging.transport" env:"LOGGING_TRANSPORT"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingConfig    string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

// audioConfig builds the [audio] section from the flat options. Backend
// settings without a flag come from the [audio.extra] table.
func audioConfig(opts *Options) (config.Audio, error) {
	interval, err := time.ParseDuration(opts.AudioReportInterval)
	if err != nil {
		return config.Audio{}, fmt.Errorf("audio.report_interval: %w", err)
	}
	a := config.Audio{
		Backend:        opts.AudioBackend,
		Driver:         opts.AudioDriver,
		BlockSize:      opts.AudioBlockSize,
		Channels:       opts.AudioChannels,
		SampleRate:     opts.AudioSampleRate,
		Prefill:        opts.AudioPrefill,
		Priority:       opts.AudioPriority,
		InputBase:      opts.AudioInputBase,
		OutputBase:     opts.AudioOutputBase,
		ReportInterval: interval,
	}
	if file, err := config.LoadAudio(opts.Config); err == nil {
		a.Extra = file.Extra
	} else if !errors.Is(err, os.ErrNotExist) {
		return config.Audio{}, err
	}
	return a, nil
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Flags as given on the command line, before the file and env apply
		flagOpts := *opts

		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"engine":  opts.LoggingEngine,
				"rpi-dma": opts.LoggingTransport,
				"sim":     opts.LoggingTransport,
				"api":     opts.LoggingAPI,
				"config":  opts.LoggingConfig,
			},
		})
		logger := logging.GetLogger("main")
		logger.Info("Starting", "version", version.String())

		audio, err := audioConfig(opts)
		if err != nil {
			logger.Error("Invalid audio configuration", "error", err)
			os.Exit(1)
		}

		eventBus := events.New()
		logging.SetSink(func(e logging.Entry) {
			eventBus.Publish(events.NewLogEntryEvent(e))
		})

		eng := engine.New(engine.Options{Config: audio, Bus: eventBus})
		if regErr := metrics.RegisterStats(eng.Stats); regErr != nil {
			logger.Warn("Failed to register transport metrics", "error", regErr)
		}

		var ledController led.Controller
		var ledManager *led.Manager
		if opts.FeaturesLedControl {
			ledController = led.Detect(logging.GetLogger("led"))
			ledManager = led.NewManager(ledController, eventBus, opts.FeaturesStatusLed, led.DefaultHold, logging.GetLogger("led"))
		}

		// The audio section is re-read with the same precedence as at startup
		loadAudio := func(path string) (config.Audio, error) {
			next := flagOpts
			next.Config = path
			if err := config.LoadConfig(&next, cli.Root()); err != nil {
				return config.Audio{}, err
			}
			return audioConfig(&next)
		}
		watcher := config.NewConfigWatcher(opts.Config, loadAudio, logging.GetLogger("config"),
			config.WithErrorHandler[config.Audio](func(error) {
				metrics.IncConfigReloads("invalid")
			}))
		watcher.OnReload(func(a config.Audio) {
			restarted, err := eng.Reconfigure(a)
			if err != nil {
				logger.Error("Failed to apply audio configuration", "error", err)
				return
			}
			logger.Info("Audio configuration applied", "restarted", restarted)
		})

		notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
		var units *systemd.Manager
		if opts.FeaturesSystemdUnits {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			units, err = systemd.NewManager(ctx)
			cancel()
			if err != nil {
				logger.Debug("systemd D-Bus not available", "error", err)
				units = nil
			}
		}

		apiOpts := &api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Engine:            eng,
			EventBus:          eventBus,
			ReloadConfig:      watcher.Reload,
			PrometheusHandler: metrics.Handler(),
		}
		if ledController != nil {
			apiOpts.LEDController = ledController
		}
		if units != nil {
			apiOpts.SystemdManager = units
		}
		server := api.NewServer(apiOpts)

		ctx, cancel := context.WithCancel(context.Background())
		engineDone := make(chan struct{})

		hooks.OnStart(func() {
			if ledManager != nil {
				ledManager.Start()
			}
			if opts.FeaturesWatchConfig {
				if watchErr := watcher.Start(); watchErr != nil {
					logger.Warn("Failed to watch config file", "path", opts.Config, "error", watchErr)
				}
			}

			if startErr := eng.Start(); startErr != nil {
				logger.Error("Failed to start transport", "backend", audio.Backend, "error", startErr)
				os.Exit(1)
			}
			notifier.Ready()
			notifier.Status("streaming via " + audio.Backend)
			go notifier.Watchdog(ctx, eng.Running)

			go func() {
				defer close(engineDone)
				runErr := eng.Run(ctx)
				if runErr == nil {
					return
				}
				// The engine only returns early when the transport gives up
				notifier.Stopping()
				shutdown(server, watcher, ledManager, units)
				var exitErr *engine.ExitError
				if errors.As(runErr, &exitErr) {
					logger.Error("Transport requested exit", "reason", exitErr.Reason)
					os.Exit(2)
				}
				logger.Error("Engine failed", "error", runErr)
				os.Exit(1)
			}()

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			notifier.Stopping()
			shutdown(server, watcher, ledManager, units)

			// Run closes the transport before returning
			cancel()
			<-engineDone
		})
	})

	cli.Root().AddCommand(cmd.CreateChainCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	cli.Run()
}

// shutdown releases everything but the engine, which Run closes itself.
func shutdown(server *api.Server, watcher *config.Watcher[config.Audio], ledManager *led.Manager, units *systemd.Manager) {
	logger := logging.GetLogger("main")
	if err := server.Stop(); err != nil {
		logger.Error("Error stopping HTTP server", "error", err)
	}
	if err := watcher.Stop(); err != nil {
		logger.Warn("Error stopping config watcher", "error", err)
	}
	if ledManager != nil {
		ledManager.Stop()
	}
	if units != nil {
		units.Close()
	}
}
