package edged

import (
	"fmt"
	"os"
	"path/filepath"
)

// Daemon state directories beneath the configured homedir:
//
//   - cache holds the device identity cache
//   - mnt holds per-module mounts handed to workloads
//   - gc holds the image prune bookkeeping store
const (
	cacheSubdir = "cache"
	mntSubdir   = "mnt"
	gcSubdir    = "gc"

	dirMode = 0o755
)

// dirs are the resolved daemon state directories.
type dirs struct {
	cache string
	mnt   string
	gc    string
}

// bootstrapDirs creates the state directories beneath homedir. Creation
// is idempotent: a daemon restarting on the same homedir finds its
// directories, and everything in them, already in place.
func bootstrapDirs(homedir string) (dirs, error) {
	d := dirs{
		cache: filepath.Join(homedir, cacheSubdir),
		mnt:   filepath.Join(homedir, mntSubdir),
		gc:    filepath.Join(homedir, gcSubdir),
	}

	for _, dir := range []string{d.cache, d.mnt, d.gc} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return dirs{}, fmt.Errorf("creating daemon directory %q: %w", dir, err)
		}
	}
	return d, nil
}
