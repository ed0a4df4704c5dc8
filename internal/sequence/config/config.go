package config

import "time"

type Config struct {
	MaxRetries      uint64        `mapstructure:"maxretries"`
	InitialInterval time.Duration `mapstructure:"initialinterval"`
}
