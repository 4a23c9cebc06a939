package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type RTCConfig struct {
	ListenIP    string `mapstructure:"listen_ip"`
	AnnouncedIP string `mapstructure:"announced_ip"`
	MinPort     uint16 `mapstructure:"min_port"`
	MaxPort     uint16 `mapstructure:"max_port"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	Secret         string        `mapstructure:"secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`

	// Workers <= 0 means one media worker per CPU core.
	Workers            int       `mapstructure:"workers"`
	MaxIncomingBitrate uint64    `mapstructure:"max_incoming_bitrate"`
	RTC                RTCConfig `mapstructure:"rtc"`

	// BackendURL points at the chat backend that owns call metadata and
	// group membership. Empty disables the HTTP membership gate (dev mode).
	BackendURL    string `mapstructure:"backend_url"`
	InternalToken string `mapstructure:"internal_token"`

	JoinLimit  int           `mapstructure:"join_limit"`
	JoinWindow time.Duration `mapstructure:"join_window"`

	Redis RedisConfig `mapstructure:"redis"`
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

	v.SetDefault("mode", "release")
	v.SetDefault("port", 4000)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("workers", 0)
	v.SetDefault("max_incoming_bitrate", 1_500_000)
	v.SetDefault("rtc.listen_ip", "0.0.0.0")
	v.SetDefault("rtc.announced_ip", "127.0.0.1")
	v.SetDefault("rtc.min_port", 40000)
	v.SetDefault("rtc.max_port", 40100)
	v.SetDefault("join_limit", 10)
	v.SetDefault("join_window", "10s")
	v.SetDefault("redis.channel", "calls:events")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
