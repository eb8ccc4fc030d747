// Package archive keeps the working copies that a handler matched.
//
// Every archived repository gets its own directory under the archive root,
// named after the working copy and the repository ID:
//
//	<root>/<name>_<id>/info.txt
//	<root>/<name>_<id>/<name>/...
//
// info.txt holds the URL, the creation time and the handler's log lines.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/poacher-dev/poacher/internal/console"
	"github.com/poacher-dev/poacher/internal/git"
	"github.com/poacher-dev/poacher/internal/types"
)

// InfoFile is the name of the metadata file in every archive entry.
const InfoFile = "info.txt"

const createdAtLayout = "01/02/2006 15:04:05"

// ErrExists is returned when the destination for a repository is already
// taken, which happens when the same ID is archived twice.
var ErrExists = errors.New("archive entry already exists")

// writeFile is swapped out in tests.
var writeFile = os.WriteFile

// Archiver copies working copies into Root.
type Archiver struct {
	Root string
	Log  *console.Logger
}

// New creates an archiver rooted at root.
func New(root string, log *console.Logger) *Archiver {
	if log == nil {
		log = console.Discard()
	}
	return &Archiver{Root: root, Log: log}
}

// Destination returns the entry directory used for a working copy.
func (a *Archiver) Destination(workingCopy string, repo *types.Repository) string {
	return filepath.Join(a.Root, fmt.Sprintf("%s_%d", filepath.Base(workingCopy), repo.ID))
}

// Archive stores workingCopy together with its metadata and removes the
// working copy afterwards. If writing the entry fails the partial entry is
// removed, the working copy is left where it is and an error is returned.
func (a *Archiver) Archive(workingCopy string, repo *types.Repository, logs []string) (string, error) {
	if err := os.MkdirAll(a.Root, 0755); err != nil {
		return "", fmt.Errorf("creating archive directory %s: %w", a.Root, err)
	}

	dest := a.Destination(workingCopy, repo)
	if err := os.Mkdir(dest, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, dest)
		}
		return "", fmt.Errorf("creating archive entry %s: %w", dest, err)
	}

	if err := writeFile(filepath.Join(dest, InfoFile), []byte(Info(repo, logs)), 0644); err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("writing %s: %w", InfoFile, err)
	}

	if err := copyTree(workingCopy, filepath.Join(dest, filepath.Base(workingCopy))); err != nil {
		a.Log.Write("Failed to copy repo files while archiving: leaving in %s", workingCopy)
		os.RemoveAll(dest)
		return "", fmt.Errorf("copying %s: %w", workingCopy, err)
	}

	git.RemoveWorkingCopy(workingCopy, a.Log)
	return dest, nil
}

// Info renders the contents of info.txt.
func Info(repo *types.Repository, logs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL : %s\n", repo.HTMLURL)
	fmt.Fprintf(&b, "created at : %s\n", repo.CreatedAt.UTC().Format(createdAtLayout))
	if len(logs) > 0 {
		b.WriteString("\nlogs:\n\n")
		for _, line := range logs {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// copyTree copies src into dst, which must not exist yet. Symlinks are
// copied as links and file modes are kept.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			// Owner bits are forced so the copy stays writable and
			// removable even when the source was read-only.
			return os.Mkdir(target, fi.Mode().Perm()|0700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, fi.Mode().Perm())
		default:
			// Sockets, devices and pipes have no place in a repository.
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
