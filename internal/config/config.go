package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultRoomCapacity  = 100
	DefaultInvitationTTL = 7 * 24 * time.Hour
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	RoomCapacity   int
	InvitationTTL  time.Duration
	PasswordCost   int
	EventRate      float64
	EventBurst     int
	LogLevel       string
	LogFormat      string
}

// fileConfig mirrors the keys accepted from files and the environment.
type fileConfig struct {
	ServerAddr     string        `mapstructure:"server_addr"`
	DatabaseDSN    string        `mapstructure:"database_dsn"`
	SigningKey     string        `mapstructure:"signing_key"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RoomCapacity   int           `mapstructure:"room_capacity"`
	InvitationTTL  time.Duration `mapstructure:"invitation_ttl"`
	PasswordCost   int           `mapstructure:"password_cost"`
	EventRate      float64       `mapstructure:"event_rate"`
	EventBurst     int           `mapstructure:"event_burst"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		RoomCapacity:   DefaultRoomCapacity,
		InvitationTTL:  DefaultInvitationTTL,
		PasswordCost:   bcrypt.DefaultCost,
		EventRate:      50,
		EventBurst:     100,
		LogLevel:       "info",
		LogFormat:      "json",
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", ":8000")
	v.SetDefault("database_dsn", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("room_capacity", DefaultRoomCapacity)
	v.SetDefault("invitation_ttl", DefaultInvitationTTL)
	v.SetDefault("password_cost", bcrypt.DefaultCost)
	v.SetDefault("event_rate", 50.0)
	v.SetDefault("event_burst", 100)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads configuration from defaults, the optional file at path and
// ROOMS_ prefixed environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("rooms")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only applies to keys viper already knows about
	v.BindEnv("signing_key")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg, err := NewConfig(fc.ServerAddr, fc.DatabaseDSN, fc.SigningKey, fc.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	cfg.RoomCapacity = fc.RoomCapacity
	cfg.InvitationTTL = fc.InvitationTTL
	cfg.PasswordCost = fc.PasswordCost
	cfg.EventRate = fc.EventRate
	cfg.EventBurst = fc.EventBurst
	cfg.LogLevel = fc.LogLevel
	cfg.LogFormat = fc.LogFormat

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.RoomCapacity <= 0 {
		return fmt.Errorf("room capacity must be positive, got %d", c.RoomCapacity)
	}
	if c.InvitationTTL <= 0 {
		return fmt.Errorf("invitation ttl must be positive, got %s", c.InvitationTTL)
	}
	if c.PasswordCost < bcrypt.MinCost || c.PasswordCost > bcrypt.MaxCost {
		return fmt.Errorf("password cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.PasswordCost)
	}
	if c.EventRate <= 0 || c.EventBurst <= 0 {
		return fmt.Errorf("event rate and burst must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}
