package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	// Transport tuning.
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	PingPeriod   time.Duration `mapstructure:"ping_period"` // must stay below pong_wait
	SendBuffer   int           `mapstructure:"send_buffer"`

	// Room rules.
	MaxPlayers  int           `mapstructure:"max_players"`
	ChatHistory int           `mapstructure:"chat_history"`
	InitChat    int           `mapstructure:"init_chat"`
	IdleWindow  time.Duration `mapstructure:"idle_window"`
	SweepEvery  time.Duration `mapstructure:"sweep_every"`
	RoomGrace   time.Duration `mapstructure:"room_grace"`

	// Client sync agent.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MoveRate          int           `mapstructure:"move_rate"` // updates per second
	MinMoveDelta      float64       `mapstructure:"min_move_delta"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`

	// Empty means the in-memory room store.
	RedisAddr string `mapstructure:"redis_addr"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Int("max_players", cfg.MaxPlayers).
		Msg("effective config")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "dev-only-secret")

	v.SetDefault("read_limit", 32768)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)

	v.SetDefault("max_players", 8)
	v.SetDefault("chat_history", 50)
	v.SetDefault("init_chat", 20)
	v.SetDefault("idle_window", "45s")
	v.SetDefault("sweep_every", "15s")
	v.SetDefault("room_grace", "60s")

	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("move_rate", 10)
	v.SetDefault("min_move_delta", 0.01)
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("backoff_base", "500ms")
	v.SetDefault("backoff_cap", "8s")

	v.SetDefault("redis_addr", "")
}

// Default returns the built-in configuration without touching disk.
// Tests and the client agent use it as a baseline.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
