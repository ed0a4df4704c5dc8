package config

import "time"

type Config struct {
	Secret string        `mapstructure:"secret" validate:"required"`
	TTL    time.Duration `mapstructure:"ttl" validate:"gt=0"`
}
