package config

import "time"

type Config struct {
	BatchTimeout       time.Duration `mapstructure:"batchtimeout" validate:"gt=0"`
	CollectionLeadDays int           `mapstructure:"collectionleaddays" validate:"gte=0"`
}
