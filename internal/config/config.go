package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DataDir       string   `env:"DATA_DIR"`
	LogLevel      string   `env:"LOG_LEVEL, default=info"`
	MaxExecutions int      `env:"MAX_EXECUTIONS, default=10"`
	SpecDirs      []string `env:"SPEC_DIRS, default=."`
	Backend       Backend  `env:",prefix=BACKEND_"`
	Hooks         Hooks    `env:",prefix=HOOKS_"`
	Lease         Lease    `env:",prefix=LEASE_"`
}

type Backend struct {
	Kind   string `env:"KIND, default=sqlite"`
	SQLite SQLite `env:",prefix=SQLITE_"`
	Redis  Redis  `env:",prefix=REDIS_"`
	Badger Badger `env:",prefix=BADGER_"`
}

type SQLite struct {
	Path string `env:"PATH"`
}

type Redis struct {
	Addr     string `env:"ADDR, default=localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB, default=0"`
	Prefix   string `env:"PREFIX"`
}

type Badger struct {
	Path     string `env:"PATH"`
	InMemory bool   `env:"IN_MEMORY, default=false"`
}

type Hooks struct {
	Timeout   time.Duration `env:"TIMEOUT, default=10s"`
	Attempts  uint          `env:"ATTEMPTS, default=3"`
	Delay     time.Duration `env:"DELAY, default=1s"`
	Workers   int           `env:"WORKERS, default=2"`
	QueueSize int           `env:"QUEUE_SIZE, default=100"`
}

type Lease struct {
	Kind string        `env:"KIND, default=local"`
	TTL  time.Duration `env:"TTL, default=30s"`
	Wait time.Duration `env:"WAIT, default=10s"`
}

const envPrefix = "PIPESTATUS_"

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration from l, filling path defaults that
// depend on the data directory.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper(envPrefix, l),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to process environment")
	}

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = filepath.Join(homeDir, ".pipestatus")
	}
	if cfg.Backend.SQLite.Path == "" {
		cfg.Backend.SQLite.Path = filepath.Join(cfg.DataDir, "pipestatus.db")
	}
	if cfg.Backend.Badger.Path == "" {
		cfg.Backend.Badger.Path = filepath.Join(cfg.DataDir, "badger")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "sqlite", "redis", "badger":
	default:
		return errors.Errorf("unknown backend kind %q", c.Backend.Kind)
	}
	switch c.Lease.Kind {
	case "local", "redis":
	default:
		return errors.Errorf("unknown lease kind %q", c.Lease.Kind)
	}
	if c.Lease.Kind == "redis" && c.Lease.TTL < time.Second {
		return errors.New("LEASE_TTL must be >= 1s")
	}
	if c.MaxExecutions < 1 {
		return errors.New("MAX_EXECUTIONS must be >= 1")
	}
	if c.Hooks.Workers < 1 {
		return errors.New("HOOKS_WORKERS must be >= 1")
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}
