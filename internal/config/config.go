package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence/sqlstore"
)

// DefaultDSN is the SQLite file used when TALLER_DB_DSN is unset.
const DefaultDSN = "file:taller.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Config captures environment driven configuration for the taller CLI.
type Config struct {
	DBDriver     string `env:"TALLER_DB_DRIVER"          envDefault:"sqlite"`
	DBDSN        string `env:"TALLER_DB_DSN"`
	MaxOpenConns string `env:"TALLER_DB_MAX_OPEN_CONNS"  envDefault:"1"`
	LogLevel     string `env:"TALLER_LOG_LEVEL"          envDefault:"info"`
	LogFormat    string `env:"TALLER_LOG_FORMAT"         envDefault:"json"`
	SessionMatch string `env:"TALLER_SESSION_MATCH"      envDefault:"date_start"`
	DefaultKind  string `env:"TALLER_DEFAULT_KIND"       envDefault:"mesa"`
	RenewClasses string `env:"TALLER_RENEW_CLASSES"      envDefault:"4"`
	StoreRetries string `env:"TALLER_STORE_RETRIES"      envDefault:"3"`

	// Parsed values, filled by Load.
	Policy          matching.Policy
	Kind            persistence.SessionKind
	OpenConns       int
	ClassesPerRenew int
	Retries         int
}

// Load parses configuration values from the current process environment.
//
// Numeric and enumerated values are read as strings and validated here so
// that every invalid variable is reported in one error.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if strings.TrimSpace(cfg.DBDSN) == "" {
		cfg.DBDSN = DefaultDSN
	}

	invalid := make([]string, 0, 4)

	if _, _, err := sqlstore.ParseDialect(cfg.DBDriver); err != nil {
		invalid = append(invalid, "TALLER_DB_DRIVER")
	}
	if n, ok := positiveInt(cfg.MaxOpenConns, 1); ok {
		cfg.OpenConns = n
	} else {
		invalid = append(invalid, "TALLER_DB_MAX_OPEN_CONNS")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		invalid = append(invalid, "TALLER_LOG_LEVEL")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json", "text":
	default:
		invalid = append(invalid, "TALLER_LOG_FORMAT")
	}
	if policy, err := matching.ParsePolicy(cfg.SessionMatch); err == nil {
		cfg.Policy = policy
	} else {
		invalid = append(invalid, "TALLER_SESSION_MATCH")
	}
	kind := persistence.SessionKind(strings.ToLower(strings.TrimSpace(cfg.DefaultKind)))
	if kind.Valid() && kind != persistence.KindFeriado {
		cfg.Kind = kind
	} else {
		invalid = append(invalid, "TALLER_DEFAULT_KIND")
	}
	if n, ok := positiveInt(cfg.RenewClasses, 1); ok {
		cfg.ClassesPerRenew = n
	} else {
		invalid = append(invalid, "TALLER_RENEW_CLASSES")
	}
	if n, ok := positiveInt(cfg.StoreRetries, 0); ok {
		cfg.Retries = n
	} else {
		invalid = append(invalid, "TALLER_STORE_RETRIES")
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

// StoreConfig converts the database settings into a sqlstore configuration.
func (c Config) StoreConfig() sqlstore.Config {
	retry := sqlstore.DefaultRetryConfig()
	retry.MaxRetries = c.Retries
	return sqlstore.Config{
		Driver:       c.DBDriver,
		DSN:          c.DBDSN,
		MaxOpenConns: c.OpenConns,
		Retry:        retry,
	}
}

func positiveInt(value string, min int) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < min {
		return 0, false
	}
	return n, true
}
