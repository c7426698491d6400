package confreload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcherAppliesReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reload.yaml")
	if err := os.WriteFile(path, []byte("reflectors: [\"1.1.1.1\"]\nlog_level: info\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	applied := make(chan MutableFields, 1)
	load := func(p string) (MutableFields, error) {
		return MutableFields{Reflectors: []string{"9.9.9.9"}, LogLevel: "debug"}, nil
	}
	apply := func(f MutableFields) { applied <- f }

	w := New(path, load, apply, zerolog.Nop(), 20*time.Millisecond)
	stop := make(chan struct{})
	defer close(stop)

	done := make(chan error, 1)
	go func() { done <- w.Run(stop) }()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("reflectors: [\"9.9.9.9\"]\nlog_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	select {
	case f := <-applied:
		if f.LogLevel != "debug" || len(f.Reflectors) != 1 || f.Reflectors[0] != "9.9.9.9" {
			t.Fatalf("unexpected applied fields: %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reload callback never fired")
	}
}
