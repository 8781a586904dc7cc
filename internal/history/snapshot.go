package history

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// snapshotRingSize mirrors spec §6's "ring of ~50" for occurrences/*.etf.
const snapshotRingSize = 50

// snapshotExt replaces the original implementation's Erlang-term-format
// (.etf) binary encoding with Go's encoding/gob: both are a compact,
// language-native binary serialization of the same record, and gob needs
// no schema compiler, matching the no-protoc constraint elsewhere in this
// codebase.
const snapshotExt = ".etf"

// SaveSnapshot gob-encodes occ into <projectRoot>/.sykli/occurrences/<run-id>.etf
// and also writes the latest occurrence.json (spec §6), then trims the
// occurrences directory back down to the ring size, oldest first.
func SaveSnapshot(projectRoot string, occ Occurrence) error {
	dir := filepath.Join(projectRoot, ".sykli", "occurrences")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: creating occurrences dir: %w", err)
	}

	path := filepath.Join(dir, occ.ID+snapshotExt)
	f, err := os.CreateTemp(dir, "occ-*.tmp")
	if err != nil {
		return fmt.Errorf("history: creating snapshot temp file: %w", err)
	}
	tmpPath := f.Name()
	if err := gob.NewEncoder(f).Encode(occ); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("history: encoding snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("history: closing snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("history: finalizing snapshot: %w", err)
	}

	if err := writeLatestOccurrenceJSON(projectRoot, occ); err != nil {
		return err
	}
	return trimRing(dir)
}

// LoadSnapshot reads one run's gob-encoded occurrence back.
func LoadSnapshot(projectRoot, runID string) (Occurrence, error) {
	path := filepath.Join(projectRoot, ".sykli", "occurrences", runID+snapshotExt)
	f, err := os.Open(path)
	if err != nil {
		return Occurrence{}, err
	}
	defer f.Close()

	var occ Occurrence
	if err := gob.NewDecoder(f).Decode(&occ); err != nil {
		return Occurrence{}, fmt.Errorf("history: decoding snapshot %s: %w", runID, err)
	}
	return occ, nil
}

// ListSnapshots returns every retained run ID, oldest first, by file
// modification time.
func ListSnapshots(projectRoot string) ([]string, error) {
	dir := filepath.Join(projectRoot, ".sykli", "occurrences")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type stamped struct {
		id  string
		mod time.Time
	}
	var all []stamped
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != snapshotExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		all = append(all, stamped{id: e.Name()[:len(e.Name())-len(snapshotExt)], mod: info.ModTime()})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].mod.Before(all[j].mod) })

	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.id
	}
	return ids, nil
}

// writeLatestOccurrenceJSON writes <projectRoot>/.sykli/occurrence.json, the
// human-and-machine-readable record of the most recent run (spec §6).
func writeLatestOccurrenceJSON(projectRoot string, occ Occurrence) error {
	dir := filepath.Join(projectRoot, ".sykli")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: creating .sykli dir: %w", err)
	}
	path := filepath.Join(dir, "occurrence.json")

	data, err := json.MarshalIndent(occ, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encoding occurrence.json: %w", err)
	}

	f, err := os.CreateTemp(dir, "occurrence-*.json.tmp")
	if err != nil {
		return fmt.Errorf("history: creating occurrence.json temp file: %w", err)
	}
	tmpPath := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("history: writing occurrence.json: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("history: finalizing occurrence.json: %w", err)
	}
	return nil
}

func trimRing(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	type stamped struct {
		name string
		mod  time.Time
	}
	var all []stamped
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != snapshotExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		all = append(all, stamped{name: e.Name(), mod: info.ModTime()})
	}
	if len(all) <= snapshotRingSize {
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].mod.Before(all[j].mod) })
	for _, s := range all[:len(all)-snapshotRingSize] {
		if err := os.Remove(filepath.Join(dir, s.name)); err != nil {
			return err
		}
	}
	return nil
}
