package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/discochess/chunkcache/internal/codec/noopcodec"
	"github.com/discochess/chunkcache/internal/stats"
	"github.com/discochess/chunkcache/internal/store/diskstore"
	"github.com/discochess/chunkcache/internal/store/memstore"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		want    location
		wantErr bool
	}{
		{"./data/cube.zarr", location{scheme: "file", path: "./data/cube.zarr"}, false},
		{"s3://bucket/cube.zarr/", location{scheme: "s3", host: "bucket", path: "cube.zarr"}, false},
		{"gs://bucket", location{scheme: "gs", host: "bucket"}, false},
		{"minio://localhost:9000/bucket/a/b", location{scheme: "minio", host: "localhost:9000", path: "bucket/a/b"}, false},
		{"s3:///prefix", location{}, true},
		{"ftp://host/x", location{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLocation(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLocation() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLocation() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		wantExt string
		wantErr bool
	}{
		{"", "", false},
		{"none", "", false},
		{"zstd", "zst", false},
		{"GZIP", "gz", false},
		{"lz4", "", true},
	}

	for _, tt := range tests {
		c, err := codecByName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("codecByName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && c.Extension() != tt.wantExt {
			t.Errorf("codecByName(%q).Extension() = %q, want %q", tt.name, c.Extension(), tt.wantExt)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1 << 30, "1.0 GB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDiskUsage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, id := range []string{"ozone", "cube"} {
		s, err := diskstore.New(filepath.Join(dir, id), noopcodec.New())
		if err != nil {
			t.Fatalf("diskstore.New() error = %v", err)
		}
		_ = s.Set(ctx, ".zgroup", []byte("{}"))
		_ = s.Set(ctx, "var/0", make([]byte, 100))
	}
	if err := os.WriteFile(filepath.Join(dir, "cube", "var", "1.tmp"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	usage, err := diskUsage(dir)
	if err != nil {
		t.Fatalf("diskUsage() error = %v", err)
	}
	if len(usage) != 2 || usage[0].id != "cube" {
		t.Fatalf("diskUsage() = %+v, want cube and ozone", usage)
	}
	if usage[0].values != 2 || usage[0].bytes != 102 {
		t.Errorf("cube usage = %+v, want 2 values of 102 bytes", usage[0])
	}
}

func TestCopyPass(t *testing.T) {
	ctx := context.Background()
	copyWorkers = 4
	copyMaxSize = 1 << 20
	copyPolicy = "lifo"
	copyCache = "memory"

	cache, err := newCache(zap.NewNop(), stats.NewNoop())
	if err != nil {
		t.Fatalf("newCache() error = %v", err)
	}
	defer cache.Close()

	src := memstore.NewFrom(map[string][]byte{"a": []byte("1"), "b": []byte("22"), "c": []byte("333")})
	dst := memstore.New()
	cs, _ := cache.Open("src", src)
	keys, _ := cs.Keys(ctx)

	cold, written, err := copyPass(ctx, cs, dst, keys)
	if err != nil {
		t.Fatalf("copyPass() error = %v", err)
	}
	if written != 6 || dst.Len() != 3 {
		t.Errorf("written = %d, dst Len() = %d, want 6 and 3", written, dst.Len())
	}
	if cold.Misses != 3 || cold.Hits != 0 {
		t.Errorf("cold pass = %d hits, %d misses, want 0 and 3", cold.Hits, cold.Misses)
	}

	warm, _, err := copyPass(ctx, cs, nil, keys)
	if err != nil {
		t.Fatalf("copyPass() error = %v", err)
	}
	if warm.Hits != 3 || len(warm.Latencies) != 3 {
		t.Errorf("warm pass = %d hits, %d latencies, want 3 and 3", warm.Hits, len(warm.Latencies))
	}
}
