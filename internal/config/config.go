// Package config loads DriftDB's runtime configuration, following the
// teacher's viper-backed pattern (defaults + env override + optional file).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the DriftDB server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Rooms   RoomsConfig   `mapstructure:"rooms"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains network-level settings for the HTTP/WebSocket
// listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// RoomsConfig controls room/connection-level behavior and the external
// URL bases used to build socket_url/http_url in RoomResult.
type RoomsConfig struct {
	SocketURLBase    string `mapstructure:"socket_url_base"`
	HTTPURLBase      string `mapstructure:"http_url_base"`
	OutboundQueueDepth int  `mapstructure:"outbound_queue_depth"`
}

// MetricsConfig controls the Prometheus/diagnostics endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables and an optional
// config file, with defaults set for every field so the server runs
// without any file present.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.handshake_timeout", 5*time.Second)

	v.SetDefault("rooms.socket_url_base", "ws://localhost:8787")
	v.SetDefault("rooms.http_url_base", "http://localhost:8787")
	v.SetDefault("rooms.outbound_queue_depth", 256)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9187")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("driftdb")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("DRIFTDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.ReadInConfig() // config file is optional

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Rooms.OutboundQueueDepth <= 0 {
		cfg.Rooms.OutboundQueueDepth = 256
	}

	return cfg, nil
}
