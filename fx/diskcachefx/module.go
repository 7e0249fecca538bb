// Package diskcachefx provides an fx module for a chunk cache kept on local disk.
package diskcachefx

import (
	"context"
	"errors"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/chunkcache"
	"github.com/discochess/chunkcache/internal/codec/zstdcodec"
	"github.com/discochess/chunkcache/internal/index"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/stats"
	"github.com/discochess/chunkcache/internal/stats/logger"
	"github.com/discochess/chunkcache/internal/store/diskstore"
)

// Config holds configuration for the disk-backed cache.
type Config struct {
	// Dir is the directory holding one subdirectory per store.
	Dir string

	// MaxSize bounds the cached bytes. Default is 1 GiB.
	MaxSize int64

	// Policy is "fifo" or "lifo". Default is "fifo".
	Policy string
}

// Module provides a disk-backed cache.
// Requires a Config and a *zap.Logger to be provided.
var Module = fx.Module("diskcache",
	fx.Provide(
		newStatsCollector,
		newCache,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("chunkcache.stats"))
}

// Params holds dependencies for creating the cache.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector stats.Collector
	Lifecycle fx.Lifecycle
}

func newCache(p Params) (*chunkcache.Cache, error) {
	if p.Config.Dir == "" {
		return nil, errors.New("diskcachefx: Dir is required")
	}
	maxSize := p.Config.MaxSize
	if maxSize <= 0 {
		maxSize = 1 << 30
	}
	policy := index.FIFO
	if p.Config.Policy != "" {
		var err error
		if policy, err = index.ParsePolicy(p.Config.Policy); err != nil {
			return nil, err
		}
	}

	op, err := diskstore.NewOpener(filepath.Join(p.Config.Dir, opener.Placeholder), zstdcodec.New())
	if err != nil {
		return nil, err
	}

	cache, err := chunkcache.New(
		chunkcache.WithOpener(op),
		chunkcache.WithMaxSize(maxSize),
		chunkcache.WithPolicy(policy),
		chunkcache.WithStats(p.Collector),
		chunkcache.WithLogger(p.Logger.Named("chunkcache")),
	)
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
