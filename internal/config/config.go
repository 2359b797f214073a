package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Cache    CacheConfig    `yaml:"cache"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"-"` // from env only, never from the yaml file
	TokenTTL  string `yaml:"token_ttl"`
	ParsedTTL time.Duration
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	TradesTopic string   `yaml:"trades_topic"`
}

// Enabled reports whether trade publishing to Kafka is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.TradesTopic != ""
}

type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads the yaml config file and overlays secrets from the environment,
// loading a .env file next to the config if one exists.
func Load(filename string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(filename), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: error loading .env file: %v\n", err)
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	config := &Config{}
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Database.URL = url
	}
	config.Auth.JWTSecret = os.Getenv("JWT_SECRET")

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Database.URL == "" {
		return nil, fmt.Errorf("database url is required (config or DATABASE_URL)")
	}
	if config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if config.Cache.Dir == "" {
		config.Cache.Dir = "data/bookcache"
	}

	if config.Auth.TokenTTL == "" {
		config.Auth.TokenTTL = "24h"
	}
	ttl, err := time.ParseDuration(config.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ttl: %w", err)
	}
	config.Auth.ParsedTTL = ttl

	return config, nil
}
