package config

import (
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"
)

// Server holds the HTTP listener configuration
type Server struct {
	Addr             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	WebSocketOrigins []string
}

func (x *Server) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Category:    "server",
			Aliases:     []string{"a"},
			Sources:     cli.EnvVars("KITSUNE_ADDR"),
			Usage:       "Listen address",
			Value:       "127.0.0.1:8001",
			Destination: &x.Addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Category:    "server",
			Sources:     cli.EnvVars("KITSUNE_READ_TIMEOUT"),
			Usage:       "Maximum duration for reading a request",
			Value:       30 * time.Second,
			Destination: &x.ReadTimeout,
		},
		&cli.DurationFlag{
			Name:        "write-timeout",
			Category:    "server",
			Sources:     cli.EnvVars("KITSUNE_WRITE_TIMEOUT"),
			Usage:       "Maximum duration for writing a response, 0 disables it. Keep it above llm-timeout when streaming",
			Value:       0,
			Destination: &x.WriteTimeout,
		},
		&cli.DurationFlag{
			Name:        "shutdown-timeout",
			Category:    "server",
			Sources:     cli.EnvVars("KITSUNE_SHUTDOWN_TIMEOUT"),
			Usage:       "Grace period for in-flight requests on shutdown",
			Value:       10 * time.Second,
			Destination: &x.ShutdownTimeout,
		},
		&cli.StringSliceFlag{
			Name:        "ws-origin",
			Category:    "server",
			Sources:     cli.EnvVars("KITSUNE_WS_ORIGINS"),
			Usage:       "Origin pattern accepted by the chat websocket (repeatable). Same origin is always accepted",
			Destination: &x.WebSocketOrigins,
		},
	}
}

func (x Server) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", x.Addr),
		slog.Duration("read_timeout", x.ReadTimeout),
		slog.Duration("write_timeout", x.WriteTimeout),
		slog.Any("ws_origins", x.WebSocketOrigins),
	)
}
