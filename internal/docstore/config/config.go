package config

import "time"

type Config struct {
	// пустая строка - выгрузка отключена
	Addr    string        `mapstructure:"addr" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout"`
}
