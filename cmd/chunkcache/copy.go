package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/discochess/chunkcache"
	"github.com/discochess/chunkcache/benchmark/analysis"
	"github.com/discochess/chunkcache/benchmark/reporting"
	"github.com/discochess/chunkcache/internal/admission"
	"github.com/discochess/chunkcache/internal/codec/zstdcodec"
	"github.com/discochess/chunkcache/internal/index"
	"github.com/discochess/chunkcache/internal/index/redisindex"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/stats"
	"github.com/discochess/chunkcache/internal/stats/logger"
	promstats "github.com/discochess/chunkcache/internal/stats/prometheus"
	"github.com/discochess/chunkcache/internal/storage/timing"
	"github.com/discochess/chunkcache/internal/store"
	"github.com/discochess/chunkcache/internal/store/bigstore"
	"github.com/discochess/chunkcache/internal/store/cachedstore"
	"github.com/discochess/chunkcache/internal/store/diskstore"
	"github.com/discochess/chunkcache/internal/store/memstore"
)

var copyCmd = &cobra.Command{
	Use:   "copy SRC DST",
	Short: "Copy a dataset through the cache",
	Long: `Copy every key of the dataset at SRC to DST, reading through a cache.

SRC and DST are local directories or s3://bucket/prefix, gs://bucket/prefix
or minio://host:port/bucket/prefix locations. MinIO credentials are read from
MINIO_ACCESS_KEY and MINIO_SECRET_KEY.

With --passes greater than one, SRC is read again after the copy and the
latencies of the first (cold) and last (warm) pass are compared.`,
	Args: cobra.ExactArgs(2),
	RunE: runCopy,
}

var (
	copyMaxSize      int64
	copyPolicy       string
	copyPasses       int
	copyWorkers      int
	copyCache        string
	copySrcCodec     string
	copyDstCodec     string
	copyRedisAddr    string
	copyMaxValueSize int
	copySecondHit    int
	copyTiming       bool
	copyReport       string
	copyMetricsAddr  string
)

func init() {
	copyCmd.Flags().Int64Var(&copyMaxSize, "max-size", 256<<20, "cache budget in bytes (0 for unbounded)")
	copyCmd.Flags().StringVar(&copyPolicy, "policy", "fifo", "eviction policy: fifo or lifo")
	copyCmd.Flags().IntVar(&copyPasses, "passes", 1, "number of read passes over SRC")
	copyCmd.Flags().IntVar(&copyWorkers, "workers", 8, "concurrent reads")
	copyCmd.Flags().StringVar(&copyCache, "cache", "memory", "backing stores: memory, disk or bigcache")
	copyCmd.Flags().StringVar(&copySrcCodec, "src-codec", "none", "codec of SRC objects: none, zstd or gzip")
	copyCmd.Flags().StringVar(&copyDstCodec, "dst-codec", "none", "codec of DST objects: none, zstd or gzip")
	copyCmd.Flags().StringVar(&copyRedisAddr, "redis-addr", "", "keep the index in Redis at this address")
	copyCmd.Flags().IntVar(&copyMaxValueSize, "max-value-size", 0, "do not cache values larger than this (0 for no limit)")
	copyCmd.Flags().IntVar(&copySecondHit, "second-hit", 0, "cache a key only on its second miss among this many recent misses")
	copyCmd.Flags().BoolVar(&copyTiming, "timing", false, "show cache storage timing")
	copyCmd.Flags().StringVar(&copyReport, "report", "", "write a Markdown report to this file")
	copyCmd.Flags().StringVar(&copyMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while copying")
	rootCmd.AddCommand(copyCmd)
}

func runCopy(cmd *cobra.Command, args []string) error {
	if copyPasses < 1 {
		return fmt.Errorf("--passes must be at least 1")
	}
	if copyWorkers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	src, dst, err := openEnds(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	defer store.Close(dst)

	collector, stopMetrics := newCollector(log)
	defer stopMetrics()

	cache, err := newCache(log, collector)
	if err != nil {
		return err
	}
	defer cache.Close()

	storeID := filepath.Base(filepath.Clean(args[0]))
	cs, err := cache.Open(storeID, src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", storeID, err)
	}

	keys, err := cs.Keys(ctx)
	if err != nil {
		return fmt.Errorf("listing %s: %w", args[0], err)
	}
	fmt.Printf("Copying %d keys from %s to %s\n", len(keys), args[0], args[1])

	run := reporting.Run{
		Source:  args[0],
		Dest:    args[1],
		Keys:    len(keys),
		MaxSize: copyMaxSize,
		Policy:  copyPolicy,
		Workers: copyWorkers,
	}
	passes := make([]reporting.Pass, 0, copyPasses)
	for n := 1; n <= copyPasses; n++ {
		var target store.Store
		if n == 1 {
			target = dst
		}
		pass, written, err := copyPass(ctx, cs, target, keys)
		if err != nil {
			return fmt.Errorf("pass %d: %w", n, err)
		}
		pass.Number = n
		if n == 1 {
			run.Bytes = written
		}
		passes = append(passes, pass)
		printPass(pass)
	}

	if err := printCacheState(ctx, cache); err != nil {
		return err
	}
	if copyTiming && cache.Timing() != nil {
		printTiming(cache.Timing())
	}

	var comp *analysis.PassComparison
	if len(passes) > 1 {
		comp = analysis.ComparePasses(passes[0].Latencies, passes[len(passes)-1].Latencies)
		fmt.Printf("Cold vs warm:   %.1fx faster (p=%.4f, effect %s)\n",
			comp.Speedup, comp.MannWhitney.PValue, comp.EffectSize.Interpretation)
	}

	if copyReport != "" {
		if err := writeReport(copyReport, run, passes, comp); err != nil {
			return err
		}
		fmt.Printf("Report written to %s\n", copyReport)
	}
	return nil
}

func openEnds(ctx context.Context, srcArg, dstArg string) (store.Store, store.Store, error) {
	srcCodec, err := codecByName(copySrcCodec)
	if err != nil {
		return nil, nil, err
	}
	dstCodec, err := codecByName(copyDstCodec)
	if err != nil {
		return nil, nil, err
	}

	srcLoc, err := parseLocation(srcArg)
	if err != nil {
		return nil, nil, err
	}
	dstLoc, err := parseLocation(dstArg)
	if err != nil {
		return nil, nil, err
	}

	src, err := openLocation(ctx, srcLoc, srcCodec)
	if err != nil {
		return nil, nil, fmt.Errorf("opening source: %w", err)
	}
	dst, err := openLocation(ctx, dstLoc, dstCodec)
	if err != nil {
		store.Close(src)
		return nil, nil, fmt.Errorf("opening destination: %w", err)
	}
	return src, dst, nil
}

// newCollector returns a Prometheus collector served on --metrics-addr, a
// logging collector with --verbose, and a no-op collector otherwise.
func newCollector(log *zap.Logger) (stats.Collector, func()) {
	if copyMetricsAddr == "" {
		if verbose {
			return logger.New(log.Named("chunkcache.stats")), func() {}
		}
		return stats.NewNoop(), func() {}
	}

	registry := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: copyMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return promstats.New(registry), stop
}

func newCache(log *zap.Logger, collector stats.Collector) (*chunkcache.Cache, error) {
	policy, err := index.ParsePolicy(copyPolicy)
	if err != nil {
		return nil, err
	}

	opts := []chunkcache.Option{
		chunkcache.WithLogger(log.Named("chunkcache")),
		chunkcache.WithStats(collector),
	}

	switch copyCache {
	case "memory":
		opts = append(opts, chunkcache.WithOpener(memstore.NewOpener(memstore.NewDirectory())))
	case "disk":
		op, err := diskstore.NewOpener(filepath.Join(cacheDir, opener.Placeholder), zstdcodec.New())
		if err != nil {
			return nil, err
		}
		opts = append(opts, chunkcache.WithOpener(op))
	case "bigcache":
		opts = append(opts, chunkcache.WithOpener(bigstore.NewOpener(bigstore.Config{})))
	default:
		return nil, fmt.Errorf("unknown --cache %q (want memory, disk or bigcache)", copyCache)
	}

	switch {
	case copyMaxSize <= 0:
		opts = append(opts, chunkcache.WithUnbounded())
	case copyRedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: copyRedisAddr})
		opts = append(opts, chunkcache.WithIndex(redisindex.New(client, "chunkcache",
			redisindex.WithPolicy(policy),
			redisindex.WithMaxSize(copyMaxSize),
		)))
	default:
		opts = append(opts, chunkcache.WithMaxSize(copyMaxSize), chunkcache.WithPolicy(policy))
	}

	if copyTiming {
		opts = append(opts, chunkcache.WithTiming())
	}

	var filters []cachedstore.Filter
	if copyMaxValueSize > 0 {
		filters = append(filters, admission.MaxValueSize(copyMaxValueSize))
	}
	if copySecondHit > 0 {
		f, err := admission.SecondHit(copySecondHit)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if len(filters) > 0 {
		opts = append(opts, chunkcache.WithFilter(admission.All(filters...)))
	}

	return chunkcache.New(opts...)
}

// copyPass reads every key through cs, writing each value to dst unless dst
// is nil. It returns the pass measurements and the bytes read.
func copyPass(ctx context.Context, cs *cachedstore.Store, dst store.Store, keys []string) (reporting.Pass, int64, error) {
	before := cs.Stats()
	latencies := make([]float64, len(keys))
	sizes := make([]int64, len(keys))

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(copyWorkers)
	for i, key := range keys {
		g.Go(func() error {
			t := time.Now()
			value, err := cs.Get(gctx, key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", key, err)
			}
			latencies[i] = float64(time.Since(t)) / float64(time.Millisecond)
			sizes[i] = int64(len(value))
			if dst != nil {
				if err := dst.Set(gctx, key, value); err != nil {
					return fmt.Errorf("writing %s: %w", key, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reporting.Pass{}, 0, err
	}

	after := cs.Stats()
	var total int64
	for _, n := range sizes {
		total += n
	}
	return reporting.Pass{
		Duration:  time.Since(start),
		Hits:      after.Hits - before.Hits,
		Misses:    after.Misses - before.Misses,
		Latencies: latencies,
	}, total, nil
}

func printPass(p reporting.Pass) {
	d := analysis.Describe(p.Latencies)
	fmt.Printf("Pass %d:         %s, %d hits, %d misses (%.1f%%), latency %.3f ± %.3f ms\n",
		p.Number, p.Duration.Round(time.Millisecond), p.Hits, p.Misses, p.HitRate(), d.Mean, d.StdDev)
}

func printCacheState(ctx context.Context, cache *chunkcache.Cache) error {
	size, bounded, err := cache.Size(ctx)
	if err != nil {
		return fmt.Errorf("reading cache size: %w", err)
	}
	if bounded {
		fmt.Printf("Cache size:     %s\n", formatBytes(size))
	}
	return nil
}

func printTiming(t *timing.Storage) {
	ops := []struct {
		name string
		st   timing.OpStats
	}{
		{"get", t.GetValueStats()},
		{"put", t.PutValueStats()},
		{"delete", t.DeleteValueStats()},
	}
	fmt.Println("Cache storage timing:")
	for _, op := range ops {
		if op.st.Count == 0 {
			continue
		}
		throughput := "n/a"
		if !math.IsNaN(op.st.Throughput) {
			throughput = formatBytes(int64(op.st.Throughput)) + "/s"
		}
		fmt.Printf("  %-6s %8d calls, avg %s, %.3f ms, %s\n",
			op.name, op.st.Count, formatBytes(int64(op.st.AvgSize)), op.st.AvgLatency*1000, throughput)
	}
}

func writeReport(path string, run reporting.Run, passes []reporting.Pass, comp *analysis.PassComparison) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	defer f.Close()

	r := reporting.NewMarkdownReport(f)
	r.WriteHeader("Chunkcache Copy Report")
	r.WriteRun(run)
	r.WritePasses(passes)
	if comp != nil {
		r.WriteComparison(comp)
		r.WriteDistributionChart("Cold", passes[0].Latencies)
		r.WriteDistributionChart("Warm", passes[len(passes)-1].Latencies)
	}
	r.WriteFooter()
	return nil
}
