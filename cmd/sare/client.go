package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const clientTimeout = 5 * time.Second

// adminGet fetches path from the running admin API.
func adminGet(ctx context.Context, adminAddr, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()

	url := httpURLFromAddr(adminAddr) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact admin api at %s: %w", adminAddr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// cmdReport prints the intelligence report of a running server.
func cmdReport(args []string) error {
	cfg := loadConfig()
	applyFlags(cfg, args)

	format := "text"
	for _, a := range args {
		if a == "--json" {
			format = "json"
		}
	}
	body, err := adminGet(context.Background(), cfg.AdminAddr, "/api/v1/report?format="+format)
	if err != nil {
		return err
	}
	fmt.Print(string(body))
	return nil
}

type statusSummary struct {
	Version       string `json:"version"`
	UptimeSeconds int    `json:"uptime_seconds"`
	Enabled       bool   `json:"enabled"`
}

type statsSummary struct {
	Traffic struct {
		TotalRequests int64   `json:"total_requests"`
		TotalErrors   int64   `json:"total_errors"`
		GlobalRPS     float64 `json:"global_rps"`
		TrackedRoutes int     `json:"tracked_routes"`
	} `json:"traffic"`
	Optimizer struct {
		Cycles          int64 `json:"optimization_cycles"`
		HotRoutesCached int   `json:"hot_routes_cached"`
	} `json:"optimizer"`
	CodePath struct {
		MemoizedRoutes int   `json:"memoized_routes"`
		CacheHits      int64 `json:"cache_hits"`
	} `json:"codepath"`
}

func cmdStatus(args []string) error {
	ctx := context.Background()
	cfg := loadConfig()
	applyFlags(cfg, args)

	var health statusSummary
	if err := adminGetJSON(ctx, cfg.AdminAddr, "/api/v1/health", &health); err != nil {
		return err
	}
	var stats statsSummary
	if err := adminGetJSON(ctx, cfg.AdminAddr, "/api/v1/stats", &stats); err != nil {
		return err
	}

	fmt.Printf("SARE Status (admin: %s, version %s)\n", httpURLFromAddr(cfg.AdminAddr), health.Version)
	fmt.Printf("  Enabled:          %t\n", health.Enabled)
	fmt.Printf("  Uptime:           %s\n", time.Duration(health.UptimeSeconds)*time.Second)
	fmt.Printf("  Requests:         %d (%d errors)\n", stats.Traffic.TotalRequests, stats.Traffic.TotalErrors)
	fmt.Printf("  Global RPS:       %.2f\n", stats.Traffic.GlobalRPS)
	fmt.Printf("  Tracked routes:   %d\n", stats.Traffic.TrackedRoutes)
	fmt.Printf("  Hot routes:       %d\n", stats.Optimizer.HotRoutesCached)
	fmt.Printf("  Memoized routes:  %d\n", stats.CodePath.MemoizedRoutes)
	fmt.Printf("  Cache hits:       %d\n", stats.CodePath.CacheHits)
	fmt.Printf("  Optimizer cycles: %d\n", stats.Optimizer.Cycles)
	return nil
}

func adminGetJSON(ctx context.Context, adminAddr, path string, v any) error {
	body, err := adminGet(ctx, adminAddr, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
