package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what a disk cache holds",
	Long: `Display statistics about a disk cache directory:
- Number of cached stores
- Cached values and bytes on disk per store
- Total size on disk`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

// storeUsage is the disk usage of one cached store.
type storeUsage struct {
	id     string
	values int
	bytes  int64
}

func runStats(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cacheDir); os.IsNotExist(err) {
		return fmt.Errorf("cache directory %q does not exist; run 'chunkcache copy --cache disk' first", cacheDir)
	}

	usage, err := diskUsage(cacheDir)
	if err != nil {
		return err
	}
	if len(usage) == 0 {
		fmt.Println("No cached stores found in cache directory.")
		return nil
	}

	var values int
	var total int64
	fmt.Printf("Cache directory: %s\n", cacheDir)
	fmt.Printf("Stores:          %d\n", len(usage))
	for _, u := range usage {
		fmt.Printf("  %-24s %8d values  %10s\n", u.id, u.values, formatBytes(u.bytes))
		values += u.values
		total += u.bytes
	}
	fmt.Printf("Values:          %d\n", values)
	fmt.Printf("Total size:      %s\n", formatBytes(total))
	return nil
}

// diskUsage walks each store directory below dir, skipping partial writes.
func diskUsage(dir string) ([]storeUsage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}

	var usage []storeUsage
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		u := storeUsage{id: entry.Name()}
		err := filepath.WalkDir(filepath.Join(dir, entry.Name()), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || strings.HasSuffix(path, ".tmp") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			u.values++
			u.bytes += info.Size()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", entry.Name(), err)
		}
		usage = append(usage, u)
	}

	sort.Slice(usage, func(i, j int) bool { return usage[i].id < usage[j].id })
	return usage, nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
