// Package lockfile implements the per-WAN file lock of spec §4.11/§5/§6:
// one lock per controller instance, enforced with flock(2) so a crashed
// process's lock is released by the kernel, with a PID+age staleness check
// layered on top for lock files left by a process that died without
// releasing (e.g. SIGKILL on a filesystem where flock semantics are
// unavailable, such as some network mounts).
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultStaleTimeout is the age beyond which a lock file whose contents
// cannot be read or parsed counts as stale (spec §5: default 300s).
const DefaultStaleTimeout = 300 * time.Second

type contents struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Lock represents one held per-WAN lock. Release must be called to close
// the underlying file descriptor (which also drops the flock).
type Lock struct {
	path string
	f    *os.File
}

// Acquire attempts to take the lock at path, failing fast if another
// process holds its flock. When the flock is held, the file counts as stale
// if its recorded PID is no longer alive (regardless of age), or, when its
// contents cannot be parsed, if it is older than staleTimeout; a stale file
// gets one more non-blocking flock attempt. A flock that is still held is
// never taken over.
func Acquire(path string, staleTimeout time.Duration) (*Lock, error) {
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if isStale(f, staleTimeout) {
			// Best-effort reclaim: the prior holder is dead or the lock
			// is ancient; truncate and retake.
			if flockErr := forceReclaim(f); flockErr == nil {
				if err := writeContents(f); err != nil {
					f.Close()
					return nil, err
				}
				return &Lock{path: path, f: f}, nil
			}
		}
		f.Close()
		return nil, fmt.Errorf("lockfile: %s is held by another instance: %w", path, err)
	}

	if err := writeContents(f); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}
	return &Lock{path: path, f: f}, nil
}

func writeContents(f *os.File) error {
	c := contents{PID: os.Getpid(), StartedAt: time.Now()}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("lockfile: marshal contents: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("lockfile: truncate: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("lockfile: write: %w", err)
	}
	return f.Sync()
}

func isStale(f *os.File, staleTimeout time.Duration) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	var c contents
	data := make([]byte, info.Size())
	if _, err := f.ReadAt(data, 0); err != nil {
		return time.Since(info.ModTime()) > staleTimeout
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return time.Since(info.ModTime()) > staleTimeout
	}
	if pidAlive(c.PID) {
		return false
	}
	return true
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually delivering a signal.
	return proc.Signal(syscall.Signal(0)) == nil
}

func forceReclaim(f *os.File) error {
	// Another flock attempt after confirming staleness: if the holder is
	// truly dead the kernel lock was already released with the process, so
	// this should succeed immediately.
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

// Release drops the flock and closes the file. It does not remove the lock
// file itself, so the PID/timestamp remain available for post-mortem
// inspection until the next Acquire overwrites them.
func (l *Lock) Release() error {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
