// Package config resolves the server settings from defaults, an optional
// .env file, KNJIZNICA_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/erazemk/knjiznica/internal/resolution"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "KNJIZNICA_"

// DefaultEnvFile is read if present; a missing file is not an error.
const DefaultEnvFile = ".env"

// Config holds the server settings.
type Config struct {
	DBPath            string
	Addr              string
	AdminUser         string
	LogPath           string
	LoanDays          int
	SuspensionDays    int
	MaxSuspensionDays int
}

// Defaults returns the built-in settings.
func Defaults() Config {
	p := resolution.DefaultPolicy()
	return Config{
		DBPath:            "knjiznica.sqlite3",
		Addr:              ":8080",
		AdminUser:         "Admin",
		LoanDays:          14,
		SuspensionDays:    p.DefaultSuspensionDays,
		MaxSuspensionDays: p.MaxSuspensionDays,
	}
}

// Policy returns the resolution policy described by c.
func (c *Config) Policy() resolution.Policy {
	p := resolution.DefaultPolicy()
	p.DefaultSuspensionDays = c.SuspensionDays
	p.MaxSuspensionDays = c.MaxSuspensionDays
	return p
}

// Validate checks the numeric settings.
func (c *Config) Validate() error {
	if c.LoanDays < 1 {
		return fmt.Errorf("loan days must be positive, got %d", c.LoanDays)
	}
	if c.MaxSuspensionDays > 365 {
		return fmt.Errorf("max suspension days must be at most 365, got %d", c.MaxSuspensionDays)
	}
	return c.Policy().Validate()
}

const usage = `Usage: knjiznica [flags]

Flags:
  -d, -db <path>              SQLite database path (default: knjiznica.sqlite3)
  -a, -addr <host:port>       listen address (default: :8080)
  -u, -user <name>            admin username on first run (default: Admin)
  -l, -log <path>             log file path (default: no file, stdout/stderr only)
  -loan-days <n>              loan period for new borrows (default: 14)
  -suspension-days <n>        suspension for lost or damaged books (default: 14)
  -max-suspension-days <n>    longest suspension an admin may set (default: 90)
  -h, -help                   show this help and exit

Every flag can also be set with a KNJIZNICA_* environment variable
(KNJIZNICA_DB, KNJIZNICA_ADDR, KNJIZNICA_LOAN_DAYS, ...) or in a .env file.
`

// Load resolves the configuration for the given command-line arguments
// (without the program name). It returns flag.ErrHelp if help was requested.
func Load(args []string, stdout io.Writer) (*Config, error) {
	return load(args, DefaultEnvFile, os.LookupEnv, stdout)
}

func load(args []string, envFile string, lookup func(string) (string, bool), stdout io.Writer) (*Config, error) {
	fileEnv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", envFile, err)
	}

	get := func(name string) (string, bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			return v, true
		}
		v, ok := fileEnv[EnvPrefix+name]
		return v, ok
	}

	cfg := Defaults()
	for name, dst := range map[string]*string{
		"DB":   &cfg.DBPath,
		"ADDR": &cfg.Addr,
		"USER": &cfg.AdminUser,
		"LOG":  &cfg.LogPath,
	} {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	for name, dst := range map[string]*int{
		"LOAN_DAYS":           &cfg.LoanDays,
		"SUSPENSION_DAYS":     &cfg.SuspensionDays,
		"MAX_SUSPENSION_DAYS": &cfg.MaxSuspensionDays,
	} {
		v, ok := get(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
		}
		*dst = n
	}

	fs := flag.NewFlagSet("knjiznica", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() { fmt.Fprint(stdout, usage) }

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "")
	fs.StringVar(&cfg.Addr, "a", cfg.Addr, "")
	fs.StringVar(&cfg.AdminUser, "user", cfg.AdminUser, "")
	fs.StringVar(&cfg.AdminUser, "u", cfg.AdminUser, "")
	fs.StringVar(&cfg.LogPath, "log", cfg.LogPath, "")
	fs.StringVar(&cfg.LogPath, "l", cfg.LogPath, "")
	fs.IntVar(&cfg.LoanDays, "loan-days", cfg.LoanDays, "")
	fs.IntVar(&cfg.SuspensionDays, "suspension-days", cfg.SuspensionDays, "")
	fs.IntVar(&cfg.MaxSuspensionDays, "max-suspension-days", cfg.MaxSuspensionDays, "")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
