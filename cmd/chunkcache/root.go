package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags.
	cacheDir string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "chunkcache",
	Short: "Cache chunked datasets read from slow object stores",
	Long: `Chunkcache reads chunked array datasets (Zarr-style key/value stores)
through a size-bounded local cache shared by every dataset.

Examples:
  # Copy a dataset from S3 to a local directory, reading it twice
  chunkcache copy s3://bucket/cube.zarr ./cube.zarr --passes 2

  # Keep the cache on disk with a 1 GiB budget
  chunkcache copy gs://bucket/cube.zarr ./out --cache disk --max-size 1073741824

  # Show what a disk cache holds
  chunkcache stats --cache-dir ./cache`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cacheDir, "cache-dir", "d", "./cache", "directory of the disk cache")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// newLogger returns a development logger with --verbose and a production
// logger otherwise.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
