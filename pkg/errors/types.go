package errors

import (
	"fmt"
	"strings"
)

// ErrFileChanged is returned when a remote file's size changes while it's
// being downloaded.
var ErrFileChanged = New("file contents changed during sync")

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// ConnectionError is a transport level failure talking to the tablet, such as
// a timeout or a reset connection. These are transient, so callers may retry.
type ConnectionError struct {
	Host string
	Err  error
}

func (err ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %s", err.Host, err.Err)
}

func (err ConnectionError) Unwrap() error {
	return err.Err
}

// FriendlyMessage implements the interface used by GetPrintableMessage.
func (err ConnectionError) FriendlyMessage() string {
	return fmt.Sprintf("Cannot connect to the tablet at %s.\n"+
		"Check that it's awake and reachable (USB or Wi-Fi).\n\n"+
		"Details: %s", err.Host, err.Err)
}

// AuthenticationError means the tablet rejected our credentials. It is never
// retried.
type AuthenticationError struct {
	User string
	Host string
	Err  error
}

func (err AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s@%s: %s", err.User, err.Host, err.Err)
}

func (err AuthenticationError) Unwrap() error {
	return err.Err
}

// FriendlyMessage implements the interface used by GetPrintableMessage.
func (err AuthenticationError) FriendlyMessage() string {
	return fmt.Sprintf("SSH authentication failed for %s@%s.\n"+
		"Check the password (Settings > Help > Copyrights and licenses on "+
		"the tablet) or the configured private key.", err.User, err.Host)
}

// RemoteRootError means the document store on the tablet doesn't exist, or
// isn't a directory.
type RemoteRootError struct {
	Path   string
	Reason string
}

func (err RemoteRootError) Error() string {
	return fmt.Sprintf("remote root %q %s", err.Path, err.Reason)
}

// ConfigError lists the problems that prevent the configuration from being
// used.
type ConfigError struct {
	Issues []string
}

func (err ConfigError) Error() string {
	return fmt.Sprintf("configuration is incomplete: %s", strings.Join(err.Issues, "; "))
}

// FriendlyMessage implements the interface used by GetPrintableMessage.
func (err ConfigError) FriendlyMessage() string {
	msg := "Configuration is incomplete:\n"
	for _, issue := range err.Issues {
		msg += fmt.Sprintf(" - %s\n", issue)
	}
	return msg + "Run `tabletsync config` to fix it."
}

// IsRetryable returns whether the error is a transient connection failure.
func IsRetryable(err error) bool {
	var connErr ConnectionError
	return As(err, &connErr)
}
