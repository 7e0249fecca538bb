package miniostore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/discochess/chunkcache/internal/codec/zstdcodec"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/store"
)

func TestConfig_Validate(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds: credentials.NewStaticV4("a", "b", ""),
	})
	if err != nil {
		t.Fatalf("minio.New() error = %v", err)
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"client", Config{Client: client, Bucket: "b", Pattern: "{store_id}"}, false},
		{"connection", Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b", Pattern: "{store_id}"}, false},
		{"no bucket", Config{Client: client, Pattern: "{store_id}"}, true},
		{"no placeholder", Config{Client: client, Bucket: "b", Pattern: "cache"}, true},
		{"client and endpoint", Config{Client: client, Endpoint: "localhost:9000", Bucket: "b", Pattern: "{store_id}"}, true},
		{"client and ssl", Config{Client: client, UseSSL: true, Bucket: "b", Pattern: "{store_id}"}, true},
		{"no endpoint", Config{AccessKey: "a", SecretKey: "s", Bucket: "b", Pattern: "{store_id}"}, true},
		{"no secret", Config{Endpoint: "localhost:9000", AccessKey: "a", Bucket: "b", Pattern: "{store_id}"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOpener(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewOpener() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, opener.ErrConfig) {
				t.Errorf("NewOpener() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestStore_objectKey(t *testing.T) {
	s := New(nil, "bucket", "cache/cube.zarr/", zstdcodec.New())
	if got := s.objectKey("var1/0.0"); got != "cache/cube.zarr/var1/0.0.zst" {
		t.Errorf("objectKey() = %q", got)
	}
	if got := s.storeKey("cache/cube.zarr/var1/0.0.zst"); got != "var1/0.0" {
		t.Errorf("storeKey() = %q", got)
	}
}

func TestTranslate(t *testing.T) {
	notFound := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	if err := translate("reading", "k", notFound); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("translate(NoSuchKey) = %v, want ErrNotFound", err)
	}
	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	if err := translate("reading", "k", denied); errors.Is(err, store.ErrNotFound) {
		t.Errorf("translate(AccessDenied) = %v, should not be ErrNotFound", err)
	}
}

// minioAvailable returns an opener against the server named by MINIO_ENDPOINT,
// skipping the test when it is not set.
func minioAvailable(t *testing.T) *Opener {
	t.Helper()
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}

	ctx := context.Background()
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	if err != nil {
		t.Fatalf("minio.New() error = %v", err)
	}
	const bucket = "chunkcache-test"
	if ok, err := client.BucketExists(ctx, bucket); err != nil {
		t.Skipf("MinIO not available: %v", err)
	} else if !ok {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			t.Fatalf("MakeBucket() error = %v", err)
		}
	}

	o, err := NewOpener(Config{Client: client, Bucket: bucket, Pattern: "test/{store_id}", Codec: zstdcodec.New()})
	if err != nil {
		t.Fatalf("NewOpener() error = %v", err)
	}
	return o
}

func TestStore_Integration(t *testing.T) {
	ctx := context.Background()
	o := minioAvailable(t)
	st, err := o.Open(ctx, t.Name())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Clear(ctx) })

	if _, err := st.Get(ctx, "v/0"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	data := bytes.Repeat([]byte("x"), 4096)
	if err := st.Set(ctx, "v/0", data); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := st.Get(ctx, "v/0")
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("Get() = %d bytes, %v", len(got), err)
	}
	if keys, _ := st.Keys(ctx); len(keys) != 1 || keys[0] != "v/0" {
		t.Errorf("Keys() = %v, want [v/0]", keys)
	}
	if err := st.Delete(ctx, "v/0"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := st.Delete(ctx, "v/0"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}

	_ = st.Set(ctx, "a", []byte("1"))
	_ = st.Set(ctx, "b", []byte("2"))
	if err := st.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n, _ := store.Len(ctx, st); n != 0 {
		t.Errorf("Len() = %d after Clear, want 0", n)
	}
}
