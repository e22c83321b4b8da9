package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing env file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil, filepath.Join(t.TempDir(), "missing.env"), env(nil), io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *cfg != Defaults() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	p := cfg.Policy()
	if p.ExtendDays != 7 || p.DefaultSuspensionDays != 14 || p.MaxSuspensionDays != 90 {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestLoadPrecedence(t *testing.T) {
	file := writeEnvFile(t, "KNJIZNICA_DB=file.sqlite3\nKNJIZNICA_ADDR=:9000\nKNJIZNICA_LOAN_DAYS=21\n")
	vars := env(map[string]string{
		"KNJIZNICA_ADDR":            ":9100",
		"KNJIZNICA_SUSPENSION_DAYS": "30",
	})

	cfg, err := load([]string{"-suspension-days", "20", "-u", "Knjiznicarka"}, file, vars, io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DBPath != "file.sqlite3" {
		t.Errorf("expected db from .env, got %q", cfg.DBPath)
	}
	if cfg.Addr != ":9100" {
		t.Errorf("expected environment to override .env, got %q", cfg.Addr)
	}
	if cfg.LoanDays != 21 {
		t.Errorf("expected loan days from .env, got %d", cfg.LoanDays)
	}
	if cfg.SuspensionDays != 20 {
		t.Errorf("expected flag to override environment, got %d", cfg.SuspensionDays)
	}
	if cfg.AdminUser != "Knjiznicarka" {
		t.Errorf("expected admin user from short flag, got %q", cfg.AdminUser)
	}
}

func TestLoadInvalid(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")
	tests := []struct {
		name string
		args []string
		vars map[string]string
	}{
		{"bad number", nil, map[string]string{"KNJIZNICA_LOAN_DAYS": "two weeks"}},
		{"zero loan days", []string{"-loan-days", "0"}, nil},
		{"default above max", []string{"-suspension-days", "60", "-max-suspension-days", "30"}, nil},
		{"max above a year", []string{"-max-suspension-days", "400"}, nil},
		{"unknown flag", []string{"-verbose"}, nil},
		{"extra argument", []string{"serve"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(tt.args, missing, env(tt.vars), io.Discard); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadHelp(t *testing.T) {
	var out strings.Builder
	_, err := load([]string{"-h"}, filepath.Join(t.TempDir(), "missing.env"), env(nil), &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage: knjiznica") {
		t.Errorf("expected usage text, got %q", out.String())
	}
}
