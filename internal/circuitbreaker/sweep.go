package circuitbreaker

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const stateFilePrefix = "circuit-breaker-"

// Sweep removes circuit-breaker state files under runDir whose mtime is
// older than maxAge, returning the number removed. Grounded on the original
// sidecar's cleanup_stale_files housekeeping task; safe to run concurrently
// with live breakers since a removed file just reappears as a fresh CLOSED
// default on next read.
func Sweep(runDir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var stale []string
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), stateFilePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		stale = append(stale, filepath.Join(runDir, e.Name()))
	}

	var g errgroup.Group
	for _, path := range stale {
		path := path
		g.Go(func() error {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(stale), nil
}
