// Package clienv holds the configuration and database plumbing shared by the
// CLI subcommands.
package clienv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	platformlogging "github.com/collabridge/rapport-tracker/platform/go/logging"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
	"github.com/collabridge/rapport-tracker/platform/go/policy"
)

// DatabaseFlag is the persistent flag every database command reads.
const DatabaseFlag = "database-url"

// Config is read from the environment after an optional .env file.
type Config struct {
	DatabaseURL    string        `env:"DATABASE_URL"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"warn"`
	JWTSecret      string        `env:"JWT_SECRET"`
	JWTTTL         time.Duration `env:"JWT_TTL" envDefault:"1h"`
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
}

// Load reads .env when present and parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// AddDatabaseFlag registers --database-url, defaulting to DATABASE_URL.
func AddDatabaseFlag(cmd *cobra.Command, cfg Config) {
	cmd.PersistentFlags().String(DatabaseFlag, cfg.DatabaseURL, "PostgreSQL connection string (defaults to DATABASE_URL)")
}

// Conn bundles what database commands need.
type Conn struct {
	Pool   *pgxpool.Pool
	DB     *persistence.DB
	Policy *policy.Holder
	Logger *zap.Logger
}

// Open connects using the --database-url flag and loads the soft delete
// policy. The returned cleanup closes the pool and flushes the logger.
func Open(ctx context.Context, cmd *cobra.Command, cfg Config) (*Conn, func(), error) {
	databaseURL, err := cmd.Flags().GetString(DatabaseFlag)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil, errors.New("database url is required (--database-url or DATABASE_URL)")
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "cli",
		Level:     cfg.LogLevel,
		Format:    "console",
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	p, err := policy.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load soft delete policy: %w", err)
	}
	holder, err := policy.NewHolder(p)
	if err != nil {
		return nil, nil, err
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      databaseURL,
		ApplicationName: "rapport-cli",
		MaxConns:        4,
		ConnectTimeout:  cfg.ConnectTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}

	cleanup := func() {
		persistence.ClosePool(pool)
		_ = logger.Sync()
	}
	return &Conn{Pool: pool, DB: persistence.NewDB(pool), Policy: holder, Logger: logger}, cleanup, nil
}
