package baseline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/galpt/cake-autorate-ctl/internal/staterecords"
	"github.com/galpt/cake-autorate-ctl/internal/statestore"
)

func writeRecord(t *testing.T, dir string, rec staterecords.AutorateRecord) string {
	t.Helper()
	path := filepath.Join(dir, "autorate_wan1.json")
	if err := statestore.Save(path, rec); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestLoadAcceptsInBoundsBaseline(t *testing.T) {
	dir := t.TempDir()
	path := writeRecord(t, dir, staterecords.AutorateRecord{
		SchemaVersionField: staterecords.SchemaVersion,
		WANName:            "wan1",
		BaselineRTTMs:      25,
		Timestamp:          time.Now(),
	})

	v, ok := Load(path, Bounds{MinMs: 10, MaxMs: 60})
	if !ok || v != 25 {
		t.Fatalf("expected baseline 25 accepted, got v=%v ok=%v", v, ok)
	}
}

func TestLoadRejectsBelowMin(t *testing.T) {
	dir := t.TempDir()
	path := writeRecord(t, dir, staterecords.AutorateRecord{
		SchemaVersionField: staterecords.SchemaVersion, BaselineRTTMs: 5,
	})
	if _, ok := Load(path, Bounds{MinMs: 10, MaxMs: 60}); ok {
		t.Fatalf("expected baseline below min to be rejected")
	}
}

func TestLoadRejectsAboveConfiguredMax(t *testing.T) {
	dir := t.TempDir()
	path := writeRecord(t, dir, staterecords.AutorateRecord{
		SchemaVersionField: staterecords.SchemaVersion, BaselineRTTMs: 70,
	})
	if _, ok := Load(path, Bounds{MinMs: 10, MaxMs: 60}); ok {
		t.Fatalf("expected baseline above configured max to be rejected")
	}
}

func TestLoadEnforcesAbsoluteCeilingEvenIfConfigRelaxed(t *testing.T) {
	dir := t.TempDir()
	// A corrupted/compromised autorate persists a huge baseline.
	path := writeRecord(t, dir, staterecords.AutorateRecord{
		SchemaVersionField: staterecords.SchemaVersion, BaselineRTTMs: 10000,
	})
	// Even a config that (incorrectly) relaxes the max far beyond the
	// absolute ceiling must not let this through.
	if _, ok := Load(path, Bounds{MinMs: 1, MaxMs: 50000}); ok {
		t.Fatalf("expected absolute ceiling to reject a 10s baseline regardless of config")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, ok := Load(filepath.Join(dir, "missing.json"), Bounds{MinMs: 1, MaxMs: 100}); ok {
		t.Fatalf("expected missing file to be unavailable")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, ok := Load(path, Bounds{MinMs: 1, MaxMs: 100}); ok {
		t.Fatalf("expected malformed JSON to be unavailable")
	}
}
