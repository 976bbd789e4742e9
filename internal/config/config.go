package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/quest.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// Remote quest runtime.
	RuntimeBaseURL string        `env:"RUNTIME_BASE_URL" envDefault:"http://localhost:9090"`
	RuntimeTimeout time.Duration `env:"RUNTIME_TIMEOUT" envDefault:"10s"`

	// Quest definition with the stop zones.
	QuestFile string `env:"QUEST_FILE" envDefault:"quest.json"`

	// Team mode; both empty in solo mode.
	TeamCode  string `env:"TEAM_CODE"`
	TeamWSURL string `env:"TEAM_WS_URL"`

	// Proximity tuning.
	GeoDebounce    time.Duration `env:"GEO_DEBOUNCE" envDefault:"30s"`
	GeoOneTimeOnly bool          `env:"GEO_ONE_TIME_ONLY" envDefault:"true"`

	// Offline queue.
	QueueMaxRetries int `env:"QUEUE_MAX_RETRIES" envDefault:"3"`

	// Connectivity probe interval.
	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"15s"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
