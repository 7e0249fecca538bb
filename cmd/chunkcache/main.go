// Package main provides the chunkcache CLI tool for copying chunked datasets
// through a size-bounded cache and inspecting cache directories.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
