package config

type Config struct {
	ServerAddr string `mapstructure:"addr" validate:"required"`
}
