// Package memorycachefx provides an fx module for an in-memory chunk cache.
// Useful for testing.
package memorycachefx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/chunkcache"
	"github.com/discochess/chunkcache/internal/stats"
	"github.com/discochess/chunkcache/internal/stats/logger"
	"github.com/discochess/chunkcache/internal/store/memstore"
)

// Config holds optional configuration for the in-memory cache.
type Config struct {
	// MaxSize bounds the cached bytes. 0 leaves the cache unbounded.
	MaxSize int64
}

// Module provides an in-memory cache for testing.
// Requires a *zap.Logger to be provided. A Config is optional.
var Module = fx.Module("memorycache",
	fx.Provide(
		newStatsCollector,
		memstore.NewDirectory,
		newCache,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("chunkcache.stats"))
}

// Params holds dependencies for creating the cache.
type Params struct {
	fx.In

	Config    Config `optional:"true"`
	Logger    *zap.Logger
	Collector stats.Collector
	Directory *memstore.Directory
	Lifecycle fx.Lifecycle
}

func newCache(p Params) (*chunkcache.Cache, error) {
	opts := []chunkcache.Option{
		chunkcache.WithOpener(memstore.NewOpener(p.Directory)),
		chunkcache.WithStats(p.Collector),
		chunkcache.WithLogger(p.Logger.Named("chunkcache")),
	}
	if p.Config.MaxSize > 0 {
		opts = append(opts, chunkcache.WithMaxSize(p.Config.MaxSize))
	}

	cache, err := chunkcache.New(opts...)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return cache.Close()
		},
	})

	return cache, nil
}
