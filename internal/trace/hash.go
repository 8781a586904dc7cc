package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash computes the deterministic hash of a canonical trace
// encoding: sha256 over the canonical sorted-event bytes, hex-encoded. The
// input must already be a canonical encoding (e.g. from
// ExecutionTrace.CanonicalJSON()) so the result is stable across platforms
// and independent of execution timing.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}
