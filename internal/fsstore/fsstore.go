// Package fsstore is ContextFS's file-store primitive (spec.md §4.1): atomic
// write-rename, an exclusive-create cross-process lock with stale-lock
// recovery, and append/rotate helpers that every higher layer (history,
// archive, pins, summary, state, embedding view, traces) builds on.
package fsstore

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"contextfs/internal/cerrors"
	"contextfs/internal/logging"
)

const lockFileName = ".lock"

// Store scopes every file operation to one workspace directory
// (<workspaceDir>/<contextfsDir>/).
type Store struct {
	dir         string
	lockStaleMs int

	// acquireRetries/renameRetries bound worst-case latency per spec.md §4.1.
	acquireRetries int
	renameRetries  int

	mu sync.Mutex // serializes in-process lock attempts; the file itself serializes cross-process
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, lockStaleMs int) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, cerrors.Internal(err, "fsstore: mkdir %s", dir)
	}
	if lockStaleMs <= 0 {
		lockStaleMs = 30000
	}
	return &Store{
		dir:            dir,
		lockStaleMs:    lockStaleMs,
		acquireRetries: 80,
		renameRetries:  5,
	}, nil
}

// Dir returns the root directory this store operates on.
func (s *Store) Dir() string { return s.dir }

// Path joins name onto the store's root directory.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// ReadText reads name and returns its full contents, or "" if it doesn't
// exist yet (a fresh workspace has no pins.md/summary.md/etc. until the
// first write).
func (s *Store) ReadText(name string) (string, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", cerrors.Internal(err, "fsstore: read %s", name)
	}
	return string(data), nil
}

// Exists reports whether name exists under the store root.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// WriteTextAtomic writes data to name via a temp file + rename so readers
// never observe a partially written file. Rename is retried with bounded
// backoff on transient busy/permission/cross-device errors.
func (s *Store) WriteTextAtomic(name string, data []byte) error {
	target := s.Path(name)
	tmp := fmt.Sprintf("%s.%d.%d.%d.tmp", target, os.Getpid(), time.Now().UnixMilli(), rand.Intn(1_000_000))

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return cerrors.Internal(err, "fsstore: write temp for %s", name)
	}

	var lastErr error
	backoff := 5 * time.Millisecond
	for attempt := 0; attempt < s.renameRetries; attempt++ {
		err := os.Rename(tmp, target)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			os.Remove(tmp)
			return cerrors.Internal(err, "fsstore: rename %s", name)
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	os.Remove(tmp)
	return cerrors.Internal(lastErr, "fsstore: rename %s exhausted retries", name)
}

// Append opens name for append (creating it if needed) and writes data
// verbatim. Callers that need append-under-lock semantics should wrap this
// with WithLock themselves; Append alone does not acquire the store lock.
func (s *Store) Append(name string, data []byte) error {
	f, err := os.OpenFile(s.Path(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return cerrors.Internal(err, "fsstore: open %s for append", name)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return cerrors.Internal(err, "fsstore: append %s", name)
	}
	return nil
}

// Remove deletes name if it exists; a missing file is not an error, since
// derived files (archive index, embedding views, index.sqlite, traces) may
// be deleted at any time per spec.md §3.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return cerrors.Internal(err, "fsstore: remove %s", name)
	}
	return nil
}

// Rename moves from to to within the store root; a missing source is not
// an error, since rotation may run on a workspace that has no file yet.
func (s *Store) Rename(from, to string) error {
	err := os.Rename(s.Path(from), s.Path(to))
	if err != nil && !os.IsNotExist(err) {
		return cerrors.Internal(err, "fsstore: rename %s -> %s", from, to)
	}
	return nil
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, tok := range []string{"busy", "device or resource busy", "permission denied", "invalid cross-device link", "exist"} {
		if strings.Contains(msg, tok) {
			return true
		}
	}
	return false
}

// WithLock acquires the exclusive workspace lock, runs fn, then releases
// the lock unconditionally (even on panic-free early return or error),
// guaranteeing the lock file is never leaked.
func (s *Store) WithLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryLock, "WithLock")
	defer timer.StopWithThreshold(time.Duration(s.lockStaleMs) * time.Millisecond)

	stamp, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.release(stamp)

	return fn()
}

// acquire exclusive-creates the lock file with a unique stamp, retrying
// with jittered backoff (10-12ms initial, capped at 60ms) up to
// acquireRetries times. If the existing lock's mtime is older than
// lockStaleMs, it is treated as abandoned and unlinked before retrying.
func (s *Store) acquire() (string, error) {
	lockPath := s.Path(lockFileName)
	stamp := fmt.Sprintf("%d-%d-%d", os.Getpid(), time.Now().UnixMilli(), rand.Intn(1_000_000))

	backoff := 10*time.Millisecond + time.Duration(rand.Intn(3))*time.Millisecond
	const maxBackoff = 60 * time.Millisecond

	for attempt := 0; attempt < s.acquireRetries; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := f.Write([]byte(stamp))
			f.Close()
			if werr != nil {
				os.Remove(lockPath)
				return "", cerrors.Internal(werr, "fsstore: write lock stamp")
			}
			return stamp, nil
		}

		if !os.IsExist(err) && !isRetryable(err) {
			return "", cerrors.Internal(err, "fsstore: create lock %s", lockPath)
		}

		s.recoverStaleLock(lockPath)

		time.Sleep(backoff)
		backoff += time.Duration(rand.Intn(5)) * time.Millisecond
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return "", cerrors.LockTimeout(lockPath)
}

// recoverStaleLock unlinks the lock file if its mtime exceeds lockStaleMs,
// so a crashed holder never wedges the workspace forever.
func (s *Store) recoverStaleLock(lockPath string) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return
	}
	age := time.Since(info.ModTime())
	if age > time.Duration(s.lockStaleMs)*time.Millisecond {
		logging.Get(logging.CategoryLock).Warn("stale lock %s (age %v), recovering", lockPath, age)
		os.Remove(lockPath)
	}
}

// release removes the lock file only if its stamp still matches, so a
// process that timed out and gave up never deletes a lock someone else
// subsequently acquired.
func (s *Store) release(stamp string) {
	lockPath := s.Path(lockFileName)
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return
	}
	if string(data) != stamp {
		logging.Get(logging.CategoryLock).Warn("lock stamp mismatch on release, not unlinking %s", lockPath)
		return
	}
	os.Remove(lockPath)
}

// Rotate shifts name, name.1, ..., name.(maxFiles-1) down by one slot
// (dropping the oldest) and renames name to name.1, leaving name absent
// until the next write recreates it. The trace writer does not call it; it
// rotates its own files (trace.Store.rotateLocked).
func (s *Store) Rotate(name string, maxFiles int) error {
	if maxFiles < 1 {
		maxFiles = 1
	}
	oldest := fmt.Sprintf("%s.%d", name, maxFiles-1)
	os.Remove(s.Path(oldest))

	for i := maxFiles - 2; i >= 1; i-- {
		from := s.Path(fmt.Sprintf("%s.%d", name, i))
		to := s.Path(fmt.Sprintf("%s.%d", name, i+1))
		if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}

	current := s.Path(name)
	if _, err := os.Stat(current); err == nil {
		if err := os.Rename(current, s.Path(name+".1")); err != nil {
			return cerrors.Internal(err, "fsstore: rotate %s", name)
		}
	}
	return nil
}
