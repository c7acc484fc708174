/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. .env file in the working directory (optional, via godotenv)
  3. Process environment
  4. Command-line flags

KEYS:
  PORT                 -port        HTTP port (8080)
  DB_PATH              -db          SQLite path, ":memory:" allowed (stock.db)
  LOCK_TIMEOUT         -lock-timeout   Wait for a busy product (2s)
  LEDGER_MAX_ATTEMPTS  -max-attempts   Transaction attempts on a lost CAS (3)
  RECONCILE_INTERVAL   -reconcile      Reconciliation sweep interval, 0 disables (1h)
  RATE_LIMIT           -rate-limit     Write limit per IP, e.g. "60-M", "" disables (120-M)
  CORS_ORIGINS         -cors           Comma-separated allowed origins
  SEED_DEMO            -seed           Scenario id to load at start ("")
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	DBPath            string
	LockTimeout       time.Duration
	MaxAttempts       int
	ReconcileInterval time.Duration
	RateLimit         string
	CORSOrigins       []string
	SeedDemo          string
}

func Default() Config {
	return Config{
		Port:              8080,
		DBPath:            "stock.db",
		LockTimeout:       2 * time.Second,
		MaxAttempts:       3,
		ReconcileInterval: time.Hour,
		RateLimit:         "120-M",
		CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// Load reads .env, the environment and then args (without the program name).
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parse(os.LookupEnv, args)
}

func parse(lookup func(string) (string, bool), args []string) (Config, error) {
	cfg := Default()

	var errs []error
	env := func(key string, apply func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := apply(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	env("PORT", func(v string) (err error) { cfg.Port, err = strconv.Atoi(v); return })
	env("DB_PATH", func(v string) error { cfg.DBPath = v; return nil })
	env("LOCK_TIMEOUT", func(v string) (err error) { cfg.LockTimeout, err = time.ParseDuration(v); return })
	env("LEDGER_MAX_ATTEMPTS", func(v string) (err error) { cfg.MaxAttempts, err = strconv.Atoi(v); return })
	env("RECONCILE_INTERVAL", func(v string) (err error) { cfg.ReconcileInterval, err = time.ParseDuration(v); return })
	env("RATE_LIMIT", func(v string) error { cfg.RateLimit = v; return nil })
	env("CORS_ORIGINS", func(v string) error { cfg.CORSOrigins = splitList(v); return nil })
	env("SEED_DEMO", func(v string) error { cfg.SeedDemo = v; return nil })
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}

	fset := flag.NewFlagSet("server", flag.ContinueOnError)
	fset.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fset.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fset.DurationVar(&cfg.LockTimeout, "lock-timeout", cfg.LockTimeout, "wait for a busy product")
	fset.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "transaction attempts on a concurrent stock write")
	fset.DurationVar(&cfg.ReconcileInterval, "reconcile", cfg.ReconcileInterval, "reconciliation interval, 0 disables")
	fset.StringVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, `write rate limit per IP ("60-M"), empty disables`)
	cors := fset.String("cors", strings.Join(cfg.CORSOrigins, ","), "comma-separated allowed origins")
	fset.StringVar(&cfg.SeedDemo, "seed", cfg.SeedDemo, "scenario to load at start")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.CORSOrigins = splitList(*cors)

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("lock timeout must be positive"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, errors.New("reconcile interval must not be negative"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
