package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/revittco/sare/internal/config"
	"github.com/revittco/sare/internal/store/sqlite"
)

const configHeader = `# SARE configuration
# Durations use Go syntax (500ms, 30s, 5m). Omitted keys keep their defaults.
# Pin routes into memoization under "routes", e.g.
#   routes:
#     - route: GET /api/items/{id}
#       ttl: 1m
`

func cmdInit(args []string) error {
	ctx := context.Background()
	cfg := loadConfig()
	applyFlags(cfg, args)

	if err := os.MkdirAll(filepath.Dir(cfg.ConfigFile), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	// Create default config if not exists
	if _, err := os.Stat(cfg.ConfigFile); os.IsNotExist(err) {
		data, err := config.Marshal(config.Default())
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		if err := os.WriteFile(cfg.ConfigFile, append([]byte(configHeader), data...), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Config file created: %s\n", cfg.ConfigFile)
	} else {
		fmt.Printf("Config file already exists: %s\n", cfg.ConfigFile)
	}

	if cfg.ArchiveDSN != "" {
		db, err := sqlite.New(ctx, cfg.ArchiveDSN)
		if err != nil {
			return fmt.Errorf("create archive: %w", err)
		}
		_ = db.Close()
		fmt.Printf("Archive created: %s\n", cfg.ArchiveDSN)
	}

	return nil
}
