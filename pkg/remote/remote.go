// Package remote provides authenticated access to the tablet's filesystem
// over SFTP.
package remote

import (
	"context"
	"io"
	"os"

	"github.com/pkg/sftp"

	"github.com/sidkik/tabletsync/pkg/errors"
)

// Session is an open connection to the tablet's filesystem. Paths are
// slash-separated remote paths.
type Session interface {
	// ReadDir lists the entries of one remote directory.
	ReadDir(path string) ([]os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Close() error
}

// Dialer opens Sessions. Errors from Dial are classified as either
// errors.AuthenticationError or errors.ConnectionError.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// IsConnectionLost returns whether err means the session itself is gone,
// rather than a single remote path failing.
func IsConnectionLost(err error) bool {
	return errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, sftp.ErrSSHFxNoConnection) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
