package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`
	OpenAI   OpenAIConfig   `json:"openai" mapstructure:"openai"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Redis    RedisConfig    `json:"redis" mapstructure:"redis"`
	Session  SessionConfig  `json:"session" mapstructure:"session"`
	Render   RenderConfig   `json:"render" mapstructure:"render"`
}

type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

type TelegramConfig struct {
	Token         string        `json:"token" mapstructure:"token"`
	WebhookSecret string        `json:"webhook_secret,omitempty" mapstructure:"webhook_secret"`
	PublicURL     string        `json:"public_url,omitempty" mapstructure:"public_url"`
	FetchTimeout  time.Duration `json:"fetch_timeout" mapstructure:"fetch_timeout"`
}

type OpenAIConfig struct {
	APIKey  string        `json:"api_key,omitempty" mapstructure:"api_key"`
	Model   string        `json:"model" mapstructure:"model"`
	BaseURL string        `json:"base_url,omitempty" mapstructure:"base_url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty" mapstructure:"addr"`
	Password string `json:"password,omitempty" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

type SessionConfig struct {
	MaxFiles      int           `json:"max_files" mapstructure:"max_files"`
	TTL           time.Duration `json:"ttl" mapstructure:"ttl"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

type RenderConfig struct {
	AgencyName string  `json:"agency_name" mapstructure:"agency_name"`
	DPI        float64 `json:"dpi" mapstructure:"dpi"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("telegram.fetch_timeout", "60s")
	viper.SetDefault("openai.model", "gpt-4o")
	viper.SetDefault("openai.timeout", "90s")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "flightbot")
	viper.SetDefault("database.database", "flightbot")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("session.max_files", 15)
	viper.SetDefault("session.ttl", "1h")
	viper.SetDefault("session.sweep_interval", "10m")
	viper.SetDefault("render.agency_name", "Exile Automate")
	viper.SetDefault("render.dpi", 144)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file is fine; env vars carry the secrets.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram token is required (set TELEGRAM_TOKEN)")
	}
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY)")
	}

	return &cfg, nil
}

// HasDatabase reports whether a Postgres host is configured. Without one the
// service falls back to the in-memory store (single instance only).
func (c *Config) HasDatabase() bool {
	return c.Database.Host != ""
}

// HasRedis reports whether webhook dedup via Redis is configured.
func (c *Config) HasRedis() bool {
	return c.Redis.Addr != ""
}

func loadEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_WEBHOOK_SECRET"); v != "" {
		cfg.Telegram.WebhookSecret = v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		cfg.Telegram.PublicURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AGENCY_NAME"); v != "" {
		cfg.Render.AgencyName = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}
