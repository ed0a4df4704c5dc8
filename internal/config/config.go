package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	docstoreConfig "github.com/iurnickita/homecare/internal/docstore/config"
	handlerConfig "github.com/iurnickita/homecare/internal/handler/config"
	loggerConfig "github.com/iurnickita/homecare/internal/logger/config"
	sepaConfig "github.com/iurnickita/homecare/internal/sepa/config"
	sequenceConfig "github.com/iurnickita/homecare/internal/sequence/config"
	serviceConfig "github.com/iurnickita/homecare/internal/service/config"
	storeConfig "github.com/iurnickita/homecare/internal/store/config"
	tokenConfig "github.com/iurnickita/homecare/internal/token/config"
)

const envPrefix = "HOMECARE"

type Config struct {
	Handler  handlerConfig.Config  `mapstructure:"handler"`
	Service  serviceConfig.Config  `mapstructure:"service"`
	Store    storeConfig.Config    `mapstructure:"store"`
	Logger   loggerConfig.Config   `mapstructure:"logger"`
	Sequence sequenceConfig.Config `mapstructure:"sequence"`
	Sepa     sepaConfig.Config     `mapstructure:"sepa"`
	Docstore docstoreConfig.Config `mapstructure:"docstore"`
	Token    tokenConfig.Config    `mapstructure:"token"`
}

// GetConfig собирает конфигурацию: значения по умолчанию < config.yaml < .env < переменные окружения
func GetConfig(configFile string) (Config, error) {
	// .env не обязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// у секрета нет значения по умолчанию: без явной привязки Unmarshal его не увидит
	if err := v.BindEnv("token.secret"); err != nil {
		return Config{}, errors.Wrap(err, "bind token secret")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	return validator.New().Struct(c)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("handler.addr", ":8080")
	v.SetDefault("logger.level", "info")
	v.SetDefault("store.dsn", "")
	v.SetDefault("service.batchtimeout", 30*time.Second)
	v.SetDefault("service.collectionleaddays", 0)
	v.SetDefault("sequence.maxretries", 5)
	v.SetDefault("sequence.initialinterval", 50*time.Millisecond)
	v.SetDefault("sepa.outputdir", filepath.Join(os.TempDir(), "sepa"))
	v.SetDefault("docstore.addr", "")
	v.SetDefault("docstore.timeout", 10*time.Second)
	v.SetDefault("token.ttl", 24*time.Hour)
}
