package statestore

import (
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
}

func (s sample) SchemaVersion() int { return s.Version }

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	in := sample{Version: 1, Name: "wan1"}
	if err := Save(path, in); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var out sample
	ok, err := Load(path, &out)
	if err != nil || !ok {
		t.Fatalf("load failed: ok=%v err=%v", ok, err)
	}
	if out != in {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", out, in)
	}
}

func TestLoadMissingFileIsColdStart(t *testing.T) {
	dir := t.TempDir()
	var out sample
	ok, err := Load(filepath.Join(dir, "missing.json"), &out)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatalf("expected cold start (ok=false) for missing file")
	}
}

func TestLoadMalformedJSONIsColdStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	var out sample
	ok, err := Load(path, &out)
	if err != nil || ok {
		t.Fatalf("expected cold start for malformed JSON, got ok=%v err=%v", ok, err)
	}
}

func TestLoadVersionedRejectsUnknownSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := Save(path, sample{Version: 99, Name: "x"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	var out sample
	ok, err := LoadVersioned(path, &out, 1)
	if err != nil || ok {
		t.Fatalf("expected cold start on schema mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestSaveNeverLeavesPartialFileOnSubsequentLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	for i := 0; i < 20; i++ {
		if err := Save(path, sample{Version: 1, Name: "iteration"}); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
		var out sample
		ok, err := Load(path, &out)
		if err != nil || !ok {
			t.Fatalf("load after save %d failed: ok=%v err=%v", i, ok, err)
		}
		if out.Name != "iteration" {
			t.Fatalf("expected complete record, got %+v", out)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "state.json" {
			t.Fatalf("expected no leftover temp files, found %s", e.Name())
		}
	}
}
