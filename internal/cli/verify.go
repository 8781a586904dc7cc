package cli

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sykli/internal/core"
)

// newVerifyCommand scans every cache entry, confirming its metadata parses,
// every referenced blob exists, and every blob's content still hashes to its
// filename (spec §4.3's corrupted/blobs_missing cases, checked proactively
// rather than discovered lazily on the next CheckDetailed).
func newVerifyCommand(g *Globals) *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the cache for corrupted metadata or missing/tampered blobs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			metaDir := filepath.Join(g.CacheDir, "meta")
			entries, err := os.ReadDir(metaDir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(cmd.OutOrStdout(), "cache is empty")
					return nil
				}
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("verify: %v", err)}
			}

			bad := 0
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				metaPath := filepath.Join(metaDir, e.Name())
				data, err := os.ReadFile(metaPath)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: unreadable: %v\n", e.Name(), err)
					bad++
					continue
				}
				var entry core.CacheEntry
				if err := json.Unmarshal(data, &entry); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: corrupted metadata: %v\n", e.Name(), err)
					bad++
					if fix {
						_ = os.Remove(metaPath)
					}
					continue
				}
				entryBad := 0
				for _, o := range entry.Outputs {
					blobPath := filepath.Join(g.CacheDir, "blobs", o.Blob)
					content, err := os.ReadFile(blobPath)
					if err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: blob %s missing for output %s\n", e.Name(), o.Blob, o.Path)
						entryBad++
						continue
					}
					sum := sha256.Sum256(content)
					if hex.EncodeToString(sum[:]) != o.Blob {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: blob %s content mismatch for output %s\n", e.Name(), o.Blob, o.Path)
						entryBad++
					}
				}
				bad += entryBad
				if fix && entryBad > 0 {
					_ = os.Remove(metaPath)
				}
			}
			if bad > 0 {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("verify: %d problem(s) found", bad)}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "Remove metadata for entries found to be corrupted or missing blobs.")
	return cmd
}
