package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. QUIZ_REDIS_ADDR.
const EnvPrefix = "QUIZ_"

type Config struct {
	Server struct {
		Port      string `yaml:"port" env:"PORT"`
		PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
	} `yaml:"server" envPrefix:"SERVER_"`
	Redis struct {
		Addr     string `yaml:"addr" env:"ADDR"`
		Password string `yaml:"password" env:"PASSWORD"`
		DB       int    `yaml:"db" env:"DB"`
		TTL      string `yaml:"ttl" env:"TTL"`
	} `yaml:"redis" envPrefix:"REDIS_"`
	Postgres struct {
		URL string `yaml:"url" env:"URL"`
	} `yaml:"postgres" envPrefix:"POSTGRES_"`
	Quiz struct {
		QuestionDuration string `yaml:"question_duration" env:"QUESTION_DURATION"`
		PointsPerCorrect int    `yaml:"points_per_correct" env:"POINTS_PER_CORRECT"`
		MinOptions       int    `yaml:"min_options" env:"MIN_OPTIONS"`
		MaxOptions       int    `yaml:"max_options" env:"MAX_OPTIONS"`
		AutoAdvance      bool   `yaml:"auto_advance" env:"AUTO_ADVANCE"`
		RevealGrace      string `yaml:"reveal_grace" env:"REVEAL_GRACE"`
		ReaperInterval   string `yaml:"reaper_interval" env:"REAPER_INTERVAL"`
		LibraryCacheTTL  string `yaml:"library_cache_ttl" env:"LIBRARY_CACHE_TTL"`
	} `yaml:"quiz" envPrefix:"GAME_"`
	Rewards struct {
		CompletionMode  string `yaml:"completion_mode" env:"COMPLETION_MODE"`
		CoinsPerCorrect int    `yaml:"coins_per_correct" env:"COINS_PER_CORRECT"`
		FlatBonus       int    `yaml:"flat_bonus" env:"FLAT_BONUS"`
		WheelCooldown   string `yaml:"wheel_cooldown" env:"WHEEL_COOLDOWN"`
		WheelPrizes     []int  `yaml:"wheel_prizes" env:"WHEEL_PRIZES" envSeparator:","`
	} `yaml:"rewards" envPrefix:"REWARDS_"`
	Shop struct {
		PackCost int `yaml:"pack_cost" env:"PACK_COST"`
	} `yaml:"shop" envPrefix:"SHOP_"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
		TokenTTL  string `yaml:"token_ttl" env:"TOKEN_TTL"`
		Issuer    string `yaml:"issuer" env:"ISSUER"`
	} `yaml:"auth" envPrefix:"AUTH_"`
	Log struct {
		Env string `yaml:"env" env:"ENV"`
	} `yaml:"log" envPrefix:"LOG_"`
	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
		ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
	} `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// Default returns the shipped configuration.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Redis.TTL = "24h"
	cfg.Quiz.QuestionDuration = "20s"
	cfg.Quiz.PointsPerCorrect = 10
	cfg.Quiz.MinOptions = 2
	cfg.Quiz.MaxOptions = 6
	cfg.Quiz.AutoAdvance = true
	cfg.Quiz.RevealGrace = "3s"
	cfg.Quiz.ReaperInterval = "1s"
	cfg.Quiz.LibraryCacheTTL = "10m"
	cfg.Rewards.CompletionMode = "per_correct"
	cfg.Rewards.CoinsPerCorrect = 10
	cfg.Rewards.FlatBonus = 10
	cfg.Rewards.WheelCooldown = "5h"
	cfg.Rewards.WheelPrizes = []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1000, 5000}
	cfg.Shop.PackCost = 5
	cfg.Auth.TokenTTL = "24h"
	cfg.Auth.Issuer = "live-quiz-service"
	cfg.Log.Env = "development"
	cfg.Telemetry.ServiceName = "live-quiz-service"
	return cfg
}

// Load reads YAML config from path over the defaults, then applies QUIZ_* environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Rewards.CompletionMode != "per_correct" && c.Rewards.CompletionMode != "flat" {
		errs = append(errs, fmt.Errorf("rewards.completion_mode %q must be per_correct or flat", c.Rewards.CompletionMode))
	}
	if len(c.Rewards.WheelPrizes) == 0 {
		errs = append(errs, errors.New("rewards.wheel_prizes must not be empty"))
	}
	for _, prize := range c.Rewards.WheelPrizes {
		if prize < 0 {
			errs = append(errs, fmt.Errorf("rewards.wheel_prizes: negative prize %d", prize))
			break
		}
	}
	if c.Quiz.MinOptions < 2 || c.Quiz.MaxOptions < c.Quiz.MinOptions {
		errs = append(errs, fmt.Errorf("quiz options range [%d, %d] is invalid", c.Quiz.MinOptions, c.Quiz.MaxOptions))
	}
	if c.Shop.PackCost <= 0 {
		errs = append(errs, errors.New("shop.pack_cost must be positive"))
	}
	return errors.Join(errs...)
}

// Duration parses a duration string or returns the fallback if empty or malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
