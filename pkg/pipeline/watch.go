package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/fswatch"
)

// PollInterval is how often the raw directory is checked when it's too large
// to watch.
const PollInterval = 30 * time.Second

// Mocked out for unit testing.
var watchDir = fswatch.Watch

// Watcher reorganizes whenever the raw directory changes, for example
// because a `pull` ran in another process.
type Watcher struct {
	Pipeline Pipeline
	Options  OrganizeOptions

	// Quiet is how long the raw directory must go without changes before
	// organizing. A sync touches many files in a row.
	Quiet time.Duration
	Clock clockwork.Clock

	// OnOrganize is called after every organize attempt.
	OnOrganize func(Summary, error)
}

// Run organizes once, and then again after every change until `ctx` is
// cancelled.
func (w Watcher) Run(ctx context.Context) error {
	if w.Clock == nil {
		w.Clock = clockwork.NewRealClock()
	}

	w.organize()

	changes, stop, err := watchDir(w.Pipeline.Config.RawDir())
	if err != nil {
		if !strings.Contains(errors.RootCause(err).Error(), "too many open files") {
			return errors.WithContext(err, "watch raw directory")
		}

		log.Warnf("Too many files to watch for changes. "+
			"Polling every %s instead.", PollInterval)
		changes, stop = w.poll(ctx)
	}
	defer func() {
		if err := stop(); err != nil {
			log.WithError(err).Debug("Failed to stop file watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}

		if !w.waitQuiet(ctx, changes) {
			return nil
		}
		w.organize()
	}
}

// waitQuiet returns once there have been no changes for the quiet period.
// It returns false if `ctx` is cancelled first.
func (w Watcher) waitQuiet(ctx context.Context, changes <-chan struct{}) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-changes:
		case <-w.Clock.After(w.Quiet):
			return true
		}
	}
}

func (w Watcher) poll(ctx context.Context) (<-chan struct{}, func() error) {
	ticker := w.Clock.NewTicker(PollInterval)
	changes := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				select {
				case changes <- struct{}{}:
				default:
				}
			}
		}
	}()
	return changes, func() error {
		ticker.Stop()
		return nil
	}
}

func (w Watcher) organize() {
	summary, err := w.Pipeline.Organize(w.Options)
	if w.OnOrganize != nil {
		w.OnOrganize(summary, err)
	}
}
