// Package logging provides structured logging with per-module log levels.
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"dmai2s": "debug",
//			"api":    "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("engine")
//	logger.Info("Transport started", "backend", "rpi-dma")
//
// Loggers may be obtained before Initialize; their levels follow the
// configuration once it is applied, and SetLevel changes them at runtime.
//
// # Output Destinations
//
// Every record goes to the in-memory history (see Recent and SetSink), to
// stdout when something is attached to it, and to the systemd journal when
// its socket is reachable. Journal records carry SYSLOG_IDENTIFIER=fxnode
// and the attributes as upper-case fields:
//
//	journalctl -t fxnode -f
//	journalctl -t fxnode MODULE=dmai2s -p warning
//
// # Configuration
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	dmai2s = "debug"
//	api = "warn"
package logging
