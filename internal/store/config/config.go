package config

type Config struct {
	// пустая строка - хранилище в памяти
	DBDsn string `mapstructure:"dsn"`
}
