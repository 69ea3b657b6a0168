package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"usermanager/backend/internal/repository"
)

type Config struct {
	AppPort           string              `env:"APP_PORT" envDefault:"5000"`
	DB                repository.DBConfig `envPrefix:"DB_"`
	JWTSecret         string              `env:"JWT_SECRET" envDefault:"default_secret"`
	JWTExpiresIn      time.Duration       `env:"JWT_EXPIRES_IN" envDefault:"24h"`
	BcryptCost        int                 `env:"BCRYPT_COST" envDefault:"10"`
	LogLevel          string              `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string              `env:"LOG_FORMAT" envDefault:"text"`
	AdminInitEnabled  bool                `env:"ADMIN_INIT_ENABLED" envDefault:"false"`
	AdminInitName     string              `env:"ADMIN_INIT_NAME" envDefault:"Administrator"`
	AdminInitEmail    string              `env:"ADMIN_INIT_EMAIL"`
	AdminInitPassword string              `env:"ADMIN_INIT_PASSWORD"`
}

// LoadConfig reads an optional .env file from the working directory and then
// parses the process environment. Variables already set win over the file.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return ParseEnv()
}

func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.AppPort) == "" {
		return errors.New("APP_PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.JWTExpiresIn <= 0 {
		return errors.New("JWT_EXPIRES_IN must be positive")
	}
	return c.DB.Validate()
}

func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.AppPort, ":")
}
