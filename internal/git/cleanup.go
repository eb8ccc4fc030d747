package git

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/poacher-dev/poacher/internal/console"
)

// RemoveWorkingCopy deletes path recursively on a best-effort basis.
//
// git leaves object files read-only, which blocks plain removal on some
// platforms. When the first attempt fails every entry is made writable and
// removal is retried entry by entry, deepest first. Paths that still
// cannot be removed are logged, abandoned and returned; the error never
// propagates because a stale working copy must not stop discovery.
func RemoveWorkingCopy(path string, log *console.Logger) []string {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.RemoveAll(path); err == nil {
		return nil
	}

	var entries []string
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable directory: still try to make it writable below.
			entries = append(entries, p)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		entries = append(entries, p)
		makeWritable(p, d)
		return nil
	})

	// Children sort after their parents; reverse to delete leaves first.
	sort.Sort(sort.Reverse(sort.StringSlice(entries)))

	var abandoned []string
	for _, p := range entries {
		info, err := os.Lstat(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		desc := "file"
		if err == nil && info.IsDir() {
			desc = "directory"
		}
		if err := os.RemoveAll(p); err != nil {
			log.Log("Failed to remove %s %s, abandoning...", desc, p)
			abandoned = append(abandoned, p)
		}
	}
	return abandoned
}

func makeWritable(p string, d fs.DirEntry) {
	if d.Type()&fs.ModeSymlink != 0 {
		return
	}
	info, err := d.Info()
	if err != nil {
		return
	}
	mode := info.Mode().Perm() | 0200
	if d.IsDir() {
		mode |= 0700
	}
	_ = os.Chmod(p, mode)
}
