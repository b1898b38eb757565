package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/remote"
	"github.com/sidkik/tabletsync/pkg/retry"
)

// partialSuffix is appended to files while they're being downloaded so that
// an interrupted transfer never looks like a complete local copy.
const partialSuffix = ".partial"

// Stats summarizes a single Synchronize call.
type Stats struct {
	Downloaded int
	Skipped    int
	Errors     int
	TotalBytes int64
}

func (s Stats) String() string {
	return fmt.Sprintf("downloaded %d, skipped %d, errors %d (%s)",
		s.Downloaded, s.Skipped, s.Errors, humanize.Bytes(uint64(s.TotalBytes)))
}

// Engine mirrors a remote directory tree onto the local filesystem.
// Concurrent calls against the same local directory must be serialized by
// the caller.
type Engine struct {
	Dialer remote.Dialer
	Fs     afero.Fs
	Retry  retry.Policy
}

// NewEngine returns an Engine that writes to the OS filesystem, and retries
// connection failures with the default policy.
func NewEngine(dialer remote.Dialer) *Engine {
	policy := retry.DefaultPolicy()
	policy.Operation = "Tablet sync"
	policy.Retryable = errors.IsRetryable
	return &Engine{
		Dialer: dialer,
		Fs:     afero.NewOsFs(),
		Retry:  policy,
	}
}

// Transfer is a file that a sync would download.
type Transfer struct {
	// Path is relative to the remote root, with forward slashes.
	Path   string
	Size   int64
	Reason Reason
}

// Synchronize copies every new or changed file under `remoteRoot` to the
// same relative path under `localRoot`. If `forceFull` is set, every file is
// copied regardless of the local state.
//
// Failures for individual files are counted in Stats.Errors. Connection
// failures restart the whole walk according to the retry policy.
// Authentication failures and a missing remote root are returned
// immediately.
func (e *Engine) Synchronize(ctx context.Context, remoteRoot, localRoot string,
	forceFull bool) (Stats, error) {

	var stats Stats
	err := e.Retry.Do(ctx, func() error {
		// Files downloaded by a failed attempt are skipped by the next one,
		// so the counts only reflect the final attempt.
		stats = Stats{}
		return e.syncOnce(ctx, remoteRoot, localRoot, walker{
			fs:        e.Fs,
			forceFull: forceFull,
			stats:     &stats,
		})
	})
	if err != nil {
		return stats, err
	}

	log.WithFields(log.Fields{
		"remote": remoteRoot,
		"local":  localRoot,
		"forced": forceFull,
	}).Infof("Sync complete: %s", stats)
	return stats, nil
}

// Plan returns the files that Synchronize would download, without writing
// anything locally. The listing is retried like a sync.
func (e *Engine) Plan(ctx context.Context, remoteRoot, localRoot string,
	forceFull bool) ([]Transfer, error) {

	var plan []Transfer
	err := e.Retry.Do(ctx, func() error {
		plan = nil
		return e.syncOnce(ctx, remoteRoot, localRoot, walker{
			fs:         e.Fs,
			forceFull:  forceFull,
			stats:      &Stats{},
			plan:       &plan,
			remoteRoot: path.Clean(remoteRoot),
		})
	})
	return plan, err
}

func (e *Engine) syncOnce(ctx context.Context, remoteRoot, localRoot string, w walker) error {
	session, err := e.Dialer.Dial(ctx)
	if err != nil {
		return errors.WithContext(err, "dial")
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Debug("Failed to close remote session")
		}
	}()

	root := path.Clean(remoteRoot)
	rootInfo, err := session.Stat(root)
	switch {
	case err != nil && errors.Is(err, os.ErrNotExist):
		return errors.RemoteRootError{Path: root, Reason: "does not exist"}
	case err != nil && remote.IsConnectionLost(err):
		return connectionLost(root, err)
	case err != nil:
		return errors.WithContext(err, "stat remote root")
	case !rootInfo.IsDir():
		return errors.RemoteRootError{Path: root, Reason: "is not a directory"}
	}

	if !w.planning() {
		if err := e.Fs.MkdirAll(localRoot, 0755); err != nil {
			return errors.WithContext(err, "create local root")
		}
	}

	w.session = session
	return w.walk(ctx, root, localRoot)
}

type walker struct {
	session   remote.Session
	fs        afero.Fs
	forceFull bool
	stats     *Stats

	// plan collects the files that would be downloaded instead of
	// downloading them.
	plan       *[]Transfer
	remoteRoot string
}

func (w walker) planning() bool {
	return w.plan != nil
}

// walk returns an error only if the whole sync should be aborted. Problems
// with individual paths are logged and counted.
func (w walker) walk(ctx context.Context, remoteDir, localDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := w.session.ReadDir(remoteDir)
	if err != nil {
		if remote.IsConnectionLost(err) {
			return connectionLost(remoteDir, err)
		}
		w.stats.Errors++
		log.WithError(err).WithField("path", remoteDir).Warn("Failed to list remote directory")
		return nil
	}

	// Sort so that the transfer order doesn't depend on the server.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		remotePath := path.Join(remoteDir, entry.Name())
		localPath := filepath.Join(localDir, entry.Name())
		if entry.IsDir() {
			if w.planning() {
				if err := w.walk(ctx, remotePath, localPath); err != nil {
					return err
				}
				continue
			}

			if err := w.fs.MkdirAll(localPath, 0755); err != nil {
				w.stats.Errors++
				log.WithError(err).WithField("path", localPath).Warn(
					"Failed to create local directory")
				continue
			}

			if err := w.walk(ctx, remotePath, localPath); err != nil {
				return err
			}
			continue
		}

		if err := w.syncFile(entry, remotePath, localPath); err != nil {
			return err
		}
	}
	return nil
}

func (w walker) syncFile(entry os.FileInfo, remotePath, localPath string) error {
	var local os.FileInfo
	if fi, err := w.fs.Stat(localPath); err == nil {
		local = fi
	} else if !os.IsNotExist(err) {
		// If we can't check, err on the side of downloading.
		log.WithError(err).WithField("path", localPath).Debug("Failed to stat local file")
	}

	decision := ShouldTransfer(entry, local, w.forceFull)
	fileLog := log.WithFields(log.Fields{
		"path":   remotePath,
		"reason": decision.Reason,
		"size":   humanize.Bytes(uint64(entry.Size())),
	})
	if !decision.Transfer {
		w.stats.Skipped++
		fileLog.Debug("Skipping file")
		return nil
	}

	if w.planning() {
		rel := strings.TrimPrefix(strings.TrimPrefix(remotePath, w.remoteRoot), "/")
		*w.plan = append(*w.plan, Transfer{
			Path:   rel,
			Size:   entry.Size(),
			Reason: decision.Reason,
		})
		fileLog.Debug("Would download file")
		return nil
	}

	fileLog.Debug("Downloading file")
	n, err := w.download(entry, remotePath, localPath)
	if err != nil {
		if remote.IsConnectionLost(err) {
			return connectionLost(remotePath, err)
		}
		w.stats.Errors++
		fileLog.WithError(err).Warn("Failed to download file")
		return nil
	}

	w.stats.Downloaded++
	w.stats.TotalBytes += n
	return nil
}

func (w walker) download(entry os.FileInfo, remotePath, localPath string) (int64, error) {
	src, err := w.session.Open(remotePath)
	if err != nil {
		return 0, errors.WithContext(err, "open remote")
	}
	defer src.Close()

	if err := w.fs.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return 0, errors.WithContext(err, "make parent")
	}

	tmpPath := localPath + partialSuffix
	dst, err := w.fs.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, errors.WithContext(err, "create local")
	}

	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n != entry.Size() {
		err = errors.ErrFileChanged
	}
	if err != nil {
		w.removePartial(tmpPath)
		return 0, errors.WithContext(err, "copy")
	}

	if err := w.fs.Rename(tmpPath, localPath); err != nil {
		w.removePartial(tmpPath)
		return 0, errors.WithContext(err, "rename")
	}

	// Preserve the remote modification time so that the next run's
	// comparison is stable.
	modTime := entry.ModTime()
	if err := w.fs.Chtimes(localPath, modTime, modTime); err != nil {
		return 0, errors.WithContext(err, "set modification time")
	}
	return n, nil
}

func (w walker) removePartial(path string) {
	if err := w.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("path", path).Warn(
			"Failed to clean up partial download. It will be overwritten by the next sync.")
	}
}

func connectionLost(path string, err error) error {
	return errors.ConnectionError{Host: "tablet", Err: errors.WithContext(err, path)}
}
