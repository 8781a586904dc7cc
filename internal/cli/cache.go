package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"sykli/internal/core"
)

func newCacheCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or garbage-collect the content-addressed cache.",
	}
	cmd.AddCommand(newCacheStatsCommand(g), newCacheCleanCommand(g), newCachePathCommand(g))
	return cmd
}

func newCachePathCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved cache root directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), g.CacheDir)
			return nil
		},
	}
}

func newCacheStatsCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache entry and blob counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := dirCount(filepath.Join(g.CacheDir, "meta"))
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("cache stats: %v", err)}
			}
			blobs, err := dirCount(filepath.Join(g.CacheDir, "blobs"))
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("cache stats: %v", err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entries: %d\nblobs: %d\n", entries, blobs)
			return nil
		},
	}
}

func newCacheCleanCommand(g *Globals) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete cache entries (and any now-unreferenced blobs) older than --older-than.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := core.NewFileCache(g.CacheDir)
			cutoff := time.Now().Add(-olderThan)
			if err := cache.CleanOlderThan(cutoff); err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("cache clean: %v", err)}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Age cutoff for GC (e.g. 168h).")
	return cmd
}

func dirCount(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n, nil
}
