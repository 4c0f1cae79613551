package main

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/imgcache"
	"github.com/unkn0wn-root/imgcache/codec"
	"github.com/unkn0wn-root/imgcache/decode"
	vipsdecode "github.com/unkn0wn-root/imgcache/decode/vips"
	"github.com/unkn0wn-root/imgcache/disklru"
	"github.com/unkn0wn-root/imgcache/fetch"
	asynchook "github.com/unkn0wn-root/imgcache/hooks/async"
	"github.com/unkn0wn-root/imgcache/internal/config"
	httphandlers "github.com/unkn0wn-root/imgcache/internal/http"
	"github.com/unkn0wn-root/imgcache/internal/logger"
	"github.com/unkn0wn-root/imgcache/internal/sysinfo"
	"github.com/unkn0wn-root/imgcache/internal/views"
	zapadapter "github.com/unkn0wn-root/imgcache/log/zap"
	"github.com/unkn0wn-root/imgcache/memtier"
	"github.com/unkn0wn-root/imgcache/sloghooks"
)

const (
	hookWorkers = 1
	hookQueue   = 1000
	viewSweep   = time.Minute
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	decoder, shutdownDecoder := newDecoder(cfg, log)
	defer shutdownDecoder()

	memory, closeMemory, err := newMemoryTier(cfg)
	if err != nil {
		log.Fatal("Failed to initialize memory tier", zap.Error(err))
	}
	defer closeMemory()
	if !cfg.StrictLRU() {
		log.Warn("Memory tier is not strict LRU; puts may be rejected by admission",
			zap.String("memory_tier", cfg.MemoryTier))
	}

	journalCodec, err := codec.Named[disklru.Record](cfg.JournalCodec)
	if err != nil {
		log.Fatal("Invalid journal codec", zap.String("codec", cfg.JournalCodec), zap.Error(err))
	}

	hooks := asynchook.New(sloghooks.New(newEventLogger(cfg.LogLevel), sloghooks.Options{
		HitEvery:   100,
		StaleEvery: 10,
	}), hookWorkers, hookQueue)
	defer hooks.Close()

	loader, err := imgcache.New[image.Image](imgcache.Options[image.Image]{
		Decoder:      decoder,
		SizeOf:       decode.ImageSize,
		Memory:       memory,
		CacheDir:     cfg.CacheDir,
		DiskCapacity: cfg.DiskCapacity(),
		JournalCodec: journalCodec,
		Transport: &fetch.HTTPTransport{
			Client:    &http.Client{Timeout: cfg.FetchTimeout},
			UserAgent: "imgcache/1",
		},
		Logger: zapadapter.New(log),
		Hooks:  hooks,
	})
	if err != nil {
		log.Fatal("Failed to initialize loader", zap.Error(err))
	}

	log.Info("Starting imgcache server",
		zap.Int("port", cfg.Port),
		zap.String("cache_dir", loader.CacheDir()),
		zap.Bool("disk_enabled", loader.DiskEnabled()),
		zap.String("memory_tier", cfg.MemoryTier),
		zap.String("decoder", cfg.Decoder),
	)

	registry := views.NewRegistry(viewSweep, cfg.ViewRetention)
	handlers := httphandlers.New(log, loader, registry)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Routes(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := registry.Close(ctx); err != nil {
		log.Error("Views close failed", zap.Error(err))
	}
	if err := loader.Close(ctx); err != nil {
		log.Error("Loader close failed", zap.Error(err))
	}

	s := loader.Stats()
	log.Info("Server stopped",
		zap.Uint64("memory_hits", s.MemoryHits),
		zap.Uint64("disk_hits", s.DiskHits),
		zap.Uint64("network_fetches", s.NetworkFetches),
		zap.Uint64("failures", s.Failures),
		zap.Uint64("hook_events_dropped", hooks.Dropped()),
	)
}

func newDecoder(cfg *config.Config, log *zap.Logger) (imgcache.Decoder[image.Image], func()) {
	if cfg.Decoder != "vips" {
		return decode.Std{}, func() {}
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(&vips.Config{
		MaxCacheMem:   cfg.VipsMaxCacheMB * 1024 * 1024,
		MaxCacheFiles: 0,
		MaxCacheSize:  0,
		VectorEnabled: true,
	})
	log.Info("VIPS initialized", zap.Int("max_cache_mb", cfg.VipsMaxCacheMB))
	return vipsdecode.Decoder{}, vips.Shutdown
}

func newMemoryTier(cfg *config.Config) (imgcache.MemoryTier[image.Image], func(), error) {
	capacity := cfg.MemoryCapacity()
	if capacity <= 0 {
		capacity = sysinfo.MemoryBudget(512<<20) / 8
	}
	switch cfg.MemoryTier {
	case config.MemoryTierRistretto:
		r, err := memtier.NewRistretto[image.Image](memtier.RistrettoConfig{MaxCost: capacity}, decode.ImageSize)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case config.MemoryTierLRU, "":
		l, err := memtier.NewLRU[image.Image](capacity, decode.ImageSize)
		if err != nil {
			return nil, nil, err
		}
		return l, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown memory tier %q", cfg.MemoryTier)
	}
}

// newEventLogger backs the cache event hooks.
func newEventLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})).With("component", "imgcache-events")
}
