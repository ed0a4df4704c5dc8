package config

type Config struct {
	OutputDir string `mapstructure:"outputdir" validate:"required"`
}
