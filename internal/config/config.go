package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server reads from the environment.
type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":5000"`
	CORSOrigin    string `env:"CORS_ORIGIN" envDefault:"*"`
	TeacherSecret string `env:"TEACHER_SECRET"`
	// DatabaseURL selects the Postgres store; empty keeps polls in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	// NATSURL enables the event relay; empty disables it.
	NATSURL  string `env:"NATS_URL"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}
