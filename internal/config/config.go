// Package config loads service configuration from an optional app.env file
// plus environment variables. Environment always wins.
package config

import (
	"github.com/spf13/viper"

	"bandbot/internal/store"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	Workers        int    `mapstructure:"WORKERS"`
	QueueSize      int    `mapstructure:"QUEUE_SIZE"`
	BatchSize      int    `mapstructure:"BATCH_SIZE"`
	ClickHouseAddr string `mapstructure:"CLICKHOUSE_ADDR"`
	ClickHouseDB   string `mapstructure:"CLICKHOUSE_DB"`
	ClickHouseUser string `mapstructure:"CLICKHOUSE_USER"`
	ClickHousePass string `mapstructure:"CLICKHOUSE_PASSWORD"`
	PostgresDSN    string `mapstructure:"POSTGRES_DSN"`
	NatsURL        string `mapstructure:"NATS_URL"`
}

func Load() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName("app")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("WORKERS", 4)
	viper.SetDefault("QUEUE_SIZE", 64)
	viper.SetDefault("BATCH_SIZE", 500)
	viper.SetDefault("CLICKHOUSE_ADDR", "localhost:9000")
	viper.SetDefault("CLICKHOUSE_DB", "backtest")
	viper.SetDefault("CLICKHOUSE_USER", "backtest")
	viper.SetDefault("CLICKHOUSE_PASSWORD", "backtest123")
	viper.SetDefault("POSTGRES_DSN", "")
	viper.SetDefault("NATS_URL", "")

	err = viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	}
	if err != nil {
		return Config{}, err
	}
	err = viper.Unmarshal(&config)
	return
}

// ClickHouse maps the flat env fields onto the store's connection config.
func (c Config) ClickHouse() store.ClickHouseConfig {
	return store.ClickHouseConfig{
		Addr:     c.ClickHouseAddr,
		Database: c.ClickHouseDB,
		User:     c.ClickHouseUser,
		Password: c.ClickHousePass,
	}
}
