package materialize

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/sync"
)

// lstat doesn't follow symlinks if the filesystem supports them.
func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if lstater, ok := fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(path)
		return info, err
	}
	return fs.Stat(path)
}

func isSymlink(info os.FileInfo) bool {
	return info.Mode()&os.ModeSymlink != 0
}

// linksTo returns whether `path` is a symlink that resolves to `target`.
func linksTo(fs afero.Fs, path, target string) bool {
	reader, ok := fs.(afero.LinkReader)
	if !ok {
		return false
	}

	dest, err := reader.ReadlinkIfPossible(path)
	if err != nil {
		return false
	}

	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(path), dest)
	}
	return filepath.Clean(dest) == filepath.Clean(target)
}

// linksInto returns whether `path` is a symlink that resolves to somewhere
// under `dir`.
func linksInto(fs afero.Fs, path, dir string) bool {
	reader, ok := fs.(afero.LinkReader)
	if !ok {
		return false
	}

	dest, err := reader.ReadlinkIfPossible(path)
	if err != nil {
		return false
	}

	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(path), dest)
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return false
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	return isLocal(relTo(absDir, absDest))
}

// relTo returns `path` relative to `base`, or "" if it can't be expressed
// that way.
func relTo(base, path string) string {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(path))
	if err != nil {
		return ""
	}
	return rel
}

// isLocal returns whether the relative path `rel` names something strictly
// inside its base.
func isLocal(rel string) bool {
	return rel != "" && rel != "." && !filepath.IsAbs(rel) &&
		rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// symlink creates a link at `path` pointing to `target`. Relative links are
// preferred so that the tree can be moved together with the raw directory.
func symlink(linker afero.Linker, target, path string) error {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return errors.WithContext(err, "resolve source")
	}

	absPath, err := filepath.Abs(path)
	if err == nil {
		rel, err := filepath.Rel(filepath.Dir(absPath), absTarget)
		if err == nil {
			return linker.SymlinkIfPossible(rel, path)
		}
	}
	return linker.SymlinkIfPossible(absTarget, path)
}

// copyEntry copies `src` to `dst`, recursing into directories. Files that are
// already up to date are left untouched. It returns whether anything was
// written.
func copyEntry(fs afero.Fs, src, dst string) (bool, error) {
	srcInfo, err := fs.Stat(src)
	if err != nil {
		return false, errors.WithContext(err, "stat source")
	}

	if !srcInfo.IsDir() {
		return copyFile(fs, src, dst, srcInfo)
	}

	changed, err := prune(fs, src, dst)
	if err != nil {
		return changed, err
	}

	err = afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return fs.MkdirAll(target, 0755)
		}

		copied, err := copyFile(fs, path, target, info)
		changed = changed || copied
		return err
	})
	return changed, err
}

// outdated returns whether copyEntry would change anything at `dst`.
func outdated(fs afero.Fs, src, dst string) (bool, error) {
	var changed bool
	err := afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		dstInfo, err := fs.Stat(filepath.Join(dst, rel))
		switch {
		case os.IsNotExist(err):
			changed = true
		case err != nil:
			return err
		case info.IsDir() != dstInfo.IsDir():
			changed = true
		case !info.IsDir() && sync.ShouldTransfer(info, dstInfo, false).Transfer:
			changed = true
		}
		return nil
	})
	if err != nil || changed {
		return changed, err
	}

	// Anything left over would be pruned.
	err = afero.Walk(fs, dst, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dst, path)
		if err != nil {
			return err
		}

		if exists, err := afero.Exists(fs, filepath.Join(src, rel)); err != nil {
			return err
		} else if !exists {
			changed = true
		}
		return nil
	})
	return changed, err
}

// prune removes everything under `dst` that has no counterpart under `src`,
// such as deleted pages.
func prune(fs afero.Fs, src, dst string) (bool, error) {
	var removed bool
	err := afero.Walk(fs, dst, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		rel, err := filepath.Rel(dst, path)
		if err != nil {
			return err
		}

		if rel == "." {
			if info.IsDir() {
				return nil
			}
		} else {
			srcInfo, err := fs.Stat(filepath.Join(src, rel))
			switch {
			case err == nil && srcInfo.IsDir() == info.IsDir():
				return nil
			case err != nil && !os.IsNotExist(err):
				return errors.WithContext(err, "stat source")
			}
		}

		if err := fs.RemoveAll(path); err != nil {
			return errors.WithContext(err, "remove")
		}
		removed = true

		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	return removed, err
}

func copyFile(fs afero.Fs, src, dst string, srcInfo os.FileInfo) (bool, error) {
	dstInfo, err := fs.Stat(dst)
	switch {
	case os.IsNotExist(err):
		dstInfo = nil
	case err != nil:
		return false, errors.WithContext(err, "stat destination")
	}

	if !sync.ShouldTransfer(srcInfo, dstInfo, false).Transfer {
		return false, nil
	}

	in, err := fs.Open(src)
	if err != nil {
		return false, errors.WithContext(err, "open source")
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return false, errors.WithContext(err, "create")
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return false, errors.WithContext(err, "copy")
	}

	if err := out.Close(); err != nil {
		return false, errors.WithContext(err, "close")
	}

	if err := fs.Chmod(dst, srcInfo.Mode().Perm()); err != nil {
		return false, errors.WithContext(err, "chmod")
	}

	mtime := srcInfo.ModTime()
	if err := fs.Chtimes(dst, mtime, mtime); err != nil {
		return false, errors.WithContext(err, "set modification time")
	}
	return true, nil
}
