package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/revittco/sare/internal/config"
)

// Config holds process configuration loaded from environment variables
// and command-line flags.
type Config struct {
	HTTPAddr   string     // application listener, "127.0.0.1:8080"
	AdminAddr  string     // admin API listener, "127.0.0.1:8081"
	ConfigFile string     // path to sare.yaml
	ArchiveDSN string     // sqlite path for the evolution archive; overrides the file
	LogLevel   slog.Level // slog level
}

// defaultDataPath returns ~/.sare/<filename>, falling back to
// a CWD-relative path if the home directory can't be resolved.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	return filepath.Join(home, ".sare", filename)
}

func loadConfig() *Config {
	return &Config{
		HTTPAddr:   envOr("SARE_HTTP_ADDR", "127.0.0.1:8080"),
		AdminAddr:  envOr("SARE_ADMIN_ADDR", "127.0.0.1:8081"),
		ConfigFile: envOr("SARE_CONFIG", defaultDataPath("sare.yaml")),
		ArchiveDSN: envOr("SARE_ARCHIVE_DSN", ""),
		LogLevel:   parseLogLevel(envOr("SARE_LOG_LEVEL", "info")),
	}
}

// applyFlags parses --key=value flags from the args list.
func applyFlags(cfg *Config, args []string) {
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok || val == "" {
			continue
		}
		switch key {
		case "--addr":
			cfg.HTTPAddr = val
		case "--admin-addr":
			cfg.AdminAddr = val
		case "--config":
			cfg.ConfigFile = val
		case "--archive":
			cfg.ArchiveDSN = val
		case "--log-level":
			cfg.LogLevel = parseLogLevel(val)
		}
	}
}

// loadFileConfig reads the YAML config, or returns the defaults when the
// file does not exist.
func loadFileConfig(path string) (*config.FileConfig, bool, error) {
	if path == "" {
		return config.Default(), false, nil
	}
	fc, err := config.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return fc, true, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// cmdConfig prints the effective configuration as YAML. With "validate"
// it only reports whether the file parses.
func cmdConfig(args []string) error {
	cfg := loadConfig()
	validateOnly := false
	for _, a := range args {
		if a == "validate" {
			validateOnly = true
		}
	}
	applyFlags(cfg, args)

	fc, found, err := loadFileConfig(cfg.ConfigFile)
	if err != nil {
		return err
	}
	if validateOnly {
		if !found {
			return fmt.Errorf("config file not found: %s", cfg.ConfigFile)
		}
		fmt.Printf("%s: ok\n", cfg.ConfigFile)
		return nil
	}

	data, err := config.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}
