// Package statestore implements the atomic versioned JSON persistence of
// spec §4.5: writes go to a temporary file in the same directory and are
// renamed into place, so a reader never observes a partial record. Loads
// that hit a missing file, malformed JSON, or (through LoadVersioned) an
// unknown or absent schema version return (false, nil) — a cold start,
// never an error the caller must handle specially. Other missing fields
// are not detected; they decode as zero values.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Versioned is implemented by any record this store persists; it lets Load
// reject schema versions it doesn't understand before unmarshaling further.
type Versioned interface {
	SchemaVersion() int
}

// Save writes state to path atomically: marshal, write to a temp file in
// the same directory, fsync, then rename over the destination. Either the
// whole new snapshot becomes visible or the old one remains — there is no
// partial-update window (spec Invariant on persistence, property 9).
func Save(path string, state any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-state-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// Load reads and unmarshals the record at path into out (a pointer). It
// returns (false, nil) for every cold-start condition: a missing or
// unreadable file, or malformed JSON. It never returns a non-nil error;
// read failures of any kind are reported as cold start. Schema-version
// checking is done by LoadVersioned.
func Load(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, nil
	}
	return true, nil
}

// LoadVersioned is a convenience wrapper that additionally checks the
// decoded record's schema version against wantVersion, treating a mismatch
// as cold start.
func LoadVersioned(path string, out Versioned, wantVersion int) (bool, error) {
	ok, err := Load(path, out)
	if err != nil || !ok {
		return ok, err
	}
	if out.SchemaVersion() != wantVersion {
		return false, nil
	}
	return true, nil
}
