package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
)

// Lock file tuning. A lock older than staleLockAge is assumed to belong to a
// crashed process.
const (
	lockRetries    = 50
	lockRetryDelay = 100 * time.Millisecond
	staleLockAge   = 30 * time.Second
)

var errLockTimeout = errors.New("timeout waiting for session file lock")

// fileLock is an exclusive, cross-process lock on a sidecar "<path>.lock" file.
type fileLock struct {
	lockFile *os.File
	lockPath string
}

// acquireFileLock takes the lock guarding filePath. It polls until the lock is
// free, ctx is done, or lockRetries attempts have failed.
func acquireFileLock(ctx context.Context, filePath string) (*fileLock, error) {
	lockPath := filePath + ".lock"

	for range lockRetries {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// Owner PID, for whoever finds a leftover lock.
			_, _ = lockFile.WriteString(strconv.Itoa(os.Getpid()))
			return &fileLock{lockFile: lockFile, lockPath: lockPath}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if stale, staleErr := removeStaleLock(lockPath); staleErr != nil {
			return nil, staleErr
		} else if stale {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	return nil, fmt.Errorf("%w after %v", errLockTimeout, lockRetries*lockRetryDelay)
}

// removeStaleLock deletes lockPath when it is older than staleLockAge and
// reports whether it did. Losing the removal race to another process is fine.
func removeStaleLock(lockPath string) (bool, error) {
	info, err := os.Stat(lockPath)
	if err != nil || time.Since(info.ModTime()) <= staleLockAge {
		return false, nil
	}
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, err)
	}
	return true, nil
}

// release drops the lock. Releasing twice is a no-op.
func (fl *fileLock) release() error {
	if fl.lockFile == nil {
		return nil
	}
	_ = fl.lockFile.Close()
	fl.lockFile = nil
	if err := os.Remove(fl.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
