package config

import (
	"log/slog"

	"github.com/m-mizutani/kitsune/pkg/controller/http/middleware"
	"github.com/urfave/cli/v3"
)

// RateLimit holds the per principal request limit
type RateLimit struct {
	PerMinute int
	Burst     int
}

func (x *RateLimit) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "rate-limit",
			Category:    "ratelimit",
			Sources:     cli.EnvVars("KITSUNE_RATE_LIMIT"),
			Usage:       "Requests per minute allowed for one principal, 0 disables limiting",
			Value:       120,
			Destination: &x.PerMinute,
		},
		&cli.IntFlag{
			Name:        "rate-limit-burst",
			Category:    "ratelimit",
			Sources:     cli.EnvVars("KITSUNE_RATE_LIMIT_BURST"),
			Usage:       "Requests a principal may send at once before the limit applies",
			Value:       20,
			Destination: &x.Burst,
		},
	}
}

func (x RateLimit) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("per_minute", x.PerMinute),
		slog.Int("burst", x.Burst),
	)
}

// Configure returns nil when limiting is disabled
func (x *RateLimit) Configure() *middleware.RateLimiter {
	if x.PerMinute <= 0 {
		return nil
	}
	return middleware.NewRateLimiter(x.PerMinute, x.Burst)
}
