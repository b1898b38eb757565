// Package fswatch notifies callers when the contents of a directory change.
package fswatch

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/tabletsync/pkg/errors"
)

var fs = afero.NewOsFs()

// Mocked out for unit testing.
var newWatcher = fsnotify.NewWatcher

// Watch watches `dir` and all of its subdirectories. It sends an event on the
// returned channel whenever something within them changes. Events that occur
// while the previous one hasn't been received yet are combined. The returned
// function stops the watch.
func Watch(dir string) (<-chan struct{}, func() error, error) {
	paths, err := getPathsToWatch(dir)
	if err != nil {
		return nil, nil, errors.WithContext(err, "get paths")
	}

	watcher, err := newWatcher()
	if err != nil {
		return nil, nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}

	go func() {
		for err := range watcher.Errors {
			log.WithError(err).Debug("File watcher error")
		}
	}()
	return combineUpdates(watcher.Events, watcher.Add), watcher.Close, nil
}

// combineUpdates forwards `updates` without blocking. New directories are
// passed to `add` before the update is sent, so that changes within them are
// seen too.
func combineUpdates(updates <-chan fsnotify.Event, add func(string) error) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for event := range updates {
			if event.Op&fsnotify.Create != 0 {
				watchNewDir(event.Name, add)
			}

			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

func watchNewDir(path string, add func(string) error) {
	fi, err := fs.Stat(path)
	if err != nil || !fi.IsDir() {
		return
	}

	paths, err := getPathsToWatch(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Debug("Failed to list new directory")
		return
	}

	for _, path := range paths {
		if err := add(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("Failed to watch new directory")
		}
	}
}

// getPathsToWatch returns `dir` and its subdirectories. fsnotify doesn't
// watch recursively, but watching a directory covers the files directly
// within it.
func getPathsToWatch(dir string) (paths []string, err error) {
	fi, err := fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: dir}
		}
		return nil, errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return nil, errors.New("%q is not a directory", dir)
	}

	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if fi.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
