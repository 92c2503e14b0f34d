package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const EnvProduction = "production"

type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"staging"`
	Host   string `env:"HOST" envDefault:"127.0.0.1"`
	Port   string `env:"PORT" envDefault:"3000"`

	IntegratorToken string `env:"INTEGRATOR_TOKEN,required"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DB    DBConfig
	Redis RedisConfig

	ReconcileInterval      time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"10m"`
	SessionMaxAge          time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h"`

	WalletTimeout   time.Duration `env:"WALLET_TIMEOUT" envDefault:"10s"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`
	Gs5RefundDelay  time.Duration `env:"GS5_REFUND_DELAY" envDefault:"2s"`
}

type DBConfig struct {
	Driver      string `env:"DB_DRIVER" envDefault:"postgres"`
	Host        string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port        string `env:"DB_PORT" envDefault:"5432"`
	User        string `env:"DB_USER"`
	Password    string `env:"DB_PASSWORD"`
	Name        string `env:"DB_NAME"`
	SSLMode     string `env:"DB_SSLMODE" envDefault:"disable"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Load reads an optional .env file and then parses the process environment.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}
