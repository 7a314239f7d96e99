package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/star/stageflight/internal/api"
	"github.com/star/stageflight/internal/auth"
	"github.com/star/stageflight/internal/cache"
	"github.com/star/stageflight/internal/export"
	"github.com/star/stageflight/internal/metrics"
	"github.com/star/stageflight/internal/presets"
	"github.com/star/stageflight/internal/runner"
	"github.com/star/stageflight/internal/stream"
	"github.com/star/stageflight/web"
)

// presetsConfig controls where the vehicle catalog comes from.
type presetsConfig struct {
	File            string
	SourceURL       string
	ExtraURLs       []string
	RefreshInterval time.Duration
}

// exportConfig controls the on-disk CSV exports.
type exportConfig struct {
	Dir      string
	MaxFiles int
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	addr := os.Getenv("STAGEFLIGHT_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	presetsCfg := loadPresetsConfig(logger)
	store := presets.NewStore()
	catalog, err := loadCatalog(ctx, presetsCfg, logger)
	if err != nil {
		logger.Error("failed to load presets", "error", err)
		os.Exit(1)
	}
	setCatalog(store, catalog, logger)

	runCfg := loadRunnerConfig(logger)
	resultCache := cache.NewResultCache(loadCacheConfig(logger), logger)
	r := runner.NewRunner(resultCache, runCfg, logger)

	exportCfg := loadExportConfig(logger)
	var exports *export.Writer
	if exportCfg.Dir != "" {
		exports = export.NewWriter(exportCfg.Dir, exportCfg.MaxFiles)
	}

	streamHandler := stream.NewHandler(r, store, loadStreamConfig(logger), logger)

	srv := api.NewServer(addr, logger, authCfg, api.Deps{
		Runner:  r,
		Cache:   resultCache,
		Presets: store,
		Exports: exports,
		Stream:  streamHandler,
		Static:  web.Content,
	})

	// Start cache background worker.
	go resultCache.Start(ctx)

	if presetsCfg.SourceURL != "" && presetsCfg.RefreshInterval > 0 {
		go refreshPresets(ctx, store, presetsCfg, logger)
	}

	// Background goroutine to update the catalog age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetPresetAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server", "addr", addr, "auth_enabled", authCfg.Enabled, "presets", len(catalog.Presets))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// loadCatalog reads the preset file if one is configured, then the remote
// source, and falls back to the embedded catalog when the remote fetch
// fails. A bad preset file is fatal.
func loadCatalog(ctx context.Context, cfg presetsConfig, logger *slog.Logger) (*presets.Catalog, error) {
	if cfg.File != "" {
		return presets.LoadFile(cfg.File, logger)
	}
	if cfg.SourceURL != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		c, err := presets.NewFetcher(cfg.SourceURL, logger, cfg.ExtraURLs...).Fetch(fetchCtx)
		if err == nil {
			return c, nil
		}
		logger.Warn("preset fetch failed, using embedded catalog", "url", cfg.SourceURL, "error", err)
	}
	return presets.Defaults(logger)
}

func setCatalog(store *presets.Store, c *presets.Catalog, logger *slog.Logger) {
	store.Set(c)
	metrics.SetPresetCount(len(c.Presets))
	metrics.SetPresetAge(0)
	logger.Info("loaded presets", "source", c.Source, "count", len(c.Presets))
}

// refreshPresets re-fetches the remote catalog on a fixed interval. A failed
// refresh keeps the current catalog.
func refreshPresets(ctx context.Context, store *presets.Store, cfg presetsConfig, logger *slog.Logger) {
	fetcher := presets.NewFetcher(cfg.SourceURL, logger, cfg.ExtraURLs...)
	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			store.Lock()
			c, err := fetcher.Fetch(ctx)
			if err != nil {
				logger.Warn("preset refresh failed", "url", fetcher.SourceURL(), "error", err)
			} else {
				setCatalog(store, c, logger)
			}
			store.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("STAGEFLIGHT_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("STAGEFLIGHT_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("STAGEFLIGHT_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("STAGEFLIGHT_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadRunnerConfig(logger *slog.Logger) runner.Config {
	cfg := runner.Config{
		Workers: runtime.NumCPU(),
	}

	if v := os.Getenv("STAGEFLIGHT_RUN_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid STAGEFLIGHT_RUN_WORKERS value, using default", "value", v, "default", cfg.Workers)
		} else {
			cfg.Workers = n
		}
	}

	logger.Info("runner config", "workers", cfg.Workers)

	return cfg
}

func loadCacheConfig(logger *slog.Logger) cache.Config {
	cfg := cache.Config{
		TTL:           600 * time.Second,
		MaxEntries:    256,
		SweepInterval: 30 * time.Second,
	}

	if v := os.Getenv("STAGEFLIGHT_CACHE_TTL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid STAGEFLIGHT_CACHE_TTL value, using default", "value", v, "default", 600)
		} else {
			cfg.TTL = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("STAGEFLIGHT_CACHE_MAX_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid STAGEFLIGHT_CACHE_MAX_ENTRIES value, using default", "value", v, "default", 256)
		} else {
			cfg.MaxEntries = n
		}
	}

	logger.Info("cache config",
		"ttl_seconds", cfg.TTL.Seconds(),
		"max_entries", cfg.MaxEntries,
		"sweep_interval_seconds", cfg.SweepInterval.Seconds(),
	)

	return cfg
}

func loadPresetsConfig(logger *slog.Logger) presetsConfig {
	cfg := presetsConfig{
		File:            os.Getenv("STAGEFLIGHT_PRESETS_FILE"),
		SourceURL:       os.Getenv("STAGEFLIGHT_PRESETS_URL"),
		RefreshInterval: time.Hour,
	}

	if v := os.Getenv("STAGEFLIGHT_PRESETS_EXTRA_URLS"); v != "" {
		for _, u := range strings.Split(v, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				cfg.ExtraURLs = append(cfg.ExtraURLs, u)
			}
		}
	}

	if v := os.Getenv("STAGEFLIGHT_PRESETS_REFRESH"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 0 {
			logger.Warn("invalid STAGEFLIGHT_PRESETS_REFRESH value, defaulting to 3600", "value", v)
		} else {
			cfg.RefreshInterval = time.Duration(seconds) * time.Second
		}
	}

	logger.Info("presets config",
		"file", cfg.File,
		"source_url", cfg.SourceURL,
		"extra_urls", cfg.ExtraURLs,
		"refresh_seconds", cfg.RefreshInterval.Seconds(),
	)

	return cfg
}

func loadExportConfig(logger *slog.Logger) exportConfig {
	cfg := exportConfig{
		Dir:      "/tmp/stageflight/runs",
		MaxFiles: 20,
	}

	if v, ok := os.LookupEnv("STAGEFLIGHT_EXPORT_DIR"); ok {
		cfg.Dir = v
	}

	if v := os.Getenv("STAGEFLIGHT_EXPORT_MAX_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid STAGEFLIGHT_EXPORT_MAX_FILES value, using default", "value", v, "default", 20)
		} else {
			cfg.MaxFiles = n
		}
	}

	logger.Info("export config", "dir", cfg.Dir, "max_files", cfg.MaxFiles, "enabled", cfg.Dir != "")

	return cfg
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 4,
		OpenRate:           1,
		OpenBurst:          3,
		SampleEvery:        10,
	}

	if v := os.Getenv("STAGEFLIGHT_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid STAGEFLIGHT_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", 4)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	if v := os.Getenv("STAGEFLIGHT_STREAM_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			logger.Warn("invalid STAGEFLIGHT_STREAM_RATE value, using default", "value", v, "default", 1)
		} else {
			cfg.OpenRate = f
		}
	}

	if v := os.Getenv("STAGEFLIGHT_STREAM_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid STAGEFLIGHT_STREAM_BURST value, using default", "value", v, "default", 3)
		} else {
			cfg.OpenBurst = n
		}
	}

	if v := os.Getenv("STAGEFLIGHT_STREAM_SAMPLE_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid STAGEFLIGHT_STREAM_SAMPLE_EVERY value, using default", "value", v, "default", 10)
		} else {
			cfg.SampleEvery = n
		}
	}

	if v := os.Getenv("STAGEFLIGHT_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid STAGEFLIGHT_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"open_rate", cfg.OpenRate,
		"open_burst", cfg.OpenBurst,
		"sample_every", cfg.SampleEvery,
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}
