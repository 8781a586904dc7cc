package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint is the cache key for a task: a 256-bit hex digest summarizing
// everything that can affect its output (spec §3, "Task fingerprint").
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// ComponentHashes are the individually-hashed contributors to a Fingerprint.
// Storing them alongside the entry lets CheckDetailed name exactly which
// component changed on a miss, instead of only reporting "miss".
type ComponentHashes struct {
	Command   string `json:"command"`
	Inputs    string `json:"inputs"`
	Container string `json:"container"`
	Env       string `json:"env"`
	Mounts    string `json:"mounts"`
	BuildEnv  string `json:"build_env"`
}

// FingerprintInput is everything ComputeFingerprint needs.
type FingerprintInput struct {
	TaskName   string
	Command    string
	Inputs     *InputSet
	Container  string
	Env        map[string]string
	Mounts     []Mount
	BuildEnv   map[string]string // whitelisted build-environment variables, see config.BuildEnvWhitelist
	ToolVersion string
}

// Hasher computes deterministic Fingerprints.
type Hasher struct{}

func NewHasher() *Hasher { return &Hasher{} }

// Compute hashes each component independently, then hashes the ordered
// concatenation of component hashes (plus task name and tool version) to
// produce the final Fingerprint. Every write is length-prefixed so no
// component's bytes can bleed into the next (the teacher's hasher.go pattern,
// reused here and in internal/dag/taskdef_hash.go).
func (h *Hasher) Compute(in FingerprintInput) (Fingerprint, ComponentHashes) {
	comps := ComponentHashes{
		Command:   hashField([]byte(in.Command)),
		Inputs:    hashInputs(in.Inputs),
		Container: hashField([]byte(in.Container)),
		Env:       hashStringMap(in.Env),
		Mounts:    hashMounts(in.Mounts),
		BuildEnv:  hashStringMap(in.BuildEnv),
	}

	hasher := sha256.New()
	writeField(hasher, []byte(in.TaskName))
	writeField(hasher, []byte(in.ToolVersion))
	writeField(hasher, []byte(comps.Command))
	writeField(hasher, []byte(comps.Inputs))
	writeField(hasher, []byte(comps.Container))
	writeField(hasher, []byte(comps.Env))
	writeField(hasher, []byte(comps.Mounts))
	writeField(hasher, []byte(comps.BuildEnv))

	return Fingerprint(hex.EncodeToString(hasher.Sum(nil))), comps
}

func writeField(h interface{ Write([]byte) (int, error) }, data []byte) {
	length := uint64(len(data))
	lengthBytes := []byte{
		byte(length >> 56), byte(length >> 48), byte(length >> 40), byte(length >> 32),
		byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length),
	}
	h.Write(lengthBytes)
	h.Write(data)
}

func hashField(data []byte) string {
	hasher := sha256.New()
	writeField(hasher, data)
	return hex.EncodeToString(hasher.Sum(nil))
}

func hashStringMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hasher := sha256.New()
	writeField(hasher, []byte{byte(len(keys))})
	for _, k := range keys {
		writeField(hasher, []byte(k))
		writeField(hasher, []byte(m[k]))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

func hashMounts(mounts []Mount) string {
	sorted := make([]Mount, len(mounts))
	copy(sorted, mounts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Resource != sorted[j].Resource {
			return sorted[i].Resource < sorted[j].Resource
		}
		if sorted[i].Path != sorted[j].Path {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].Type < sorted[j].Type
	})

	hasher := sha256.New()
	writeField(hasher, []byte{byte(len(sorted))})
	for _, m := range sorted {
		writeField(hasher, []byte(m.Resource))
		writeField(hasher, []byte(m.Path))
		writeField(hasher, []byte(m.Type))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

func hashInputs(inputs *InputSet) string {
	hasher := sha256.New()
	count := 0
	if inputs != nil {
		count = len(inputs.Inputs)
	}
	writeField(hasher, []byte{byte(count)})
	if inputs != nil {
		for _, inp := range inputs.Inputs {
			writeField(hasher, []byte(inp.Path))
			writeField(hasher, inp.Content)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
