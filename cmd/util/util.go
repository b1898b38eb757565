// Package util contains helpers shared by the tabletsync commands.
package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/remote"
	"github.com/sidkik/tabletsync/pkg/sync"
)

// Exit codes returned by the CLI.
const (
	ExitFailure    = 1
	ExitConnection = 2
	ExitConfig     = 3
)

// ConfigPath is set by the `--config` flag on the root command.
var ConfigPath string

// DryRun is set by the `--dry-run` flag on the root command. Commands report
// what they would do without writing anything.
var DryRun bool

// Mocked out for unit testing.
var (
	exit                 = os.Exit
	stderr     io.Writer = os.Stderr
	loadConfig           = config.Load
)

// HandleFatalError prints the error and exits. Errors with a friendly
// message are printed without the context that was added to them.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(ExitCode(err))
}

// ExitCode maps an error to the exit code of the CLI.
func ExitCode(err error) int {
	var connErr errors.ConnectionError
	var authErr errors.AuthenticationError
	var configErr errors.ConfigError
	var loadErr loadConfigError
	switch {
	case errors.As(err, &connErr), errors.As(err, &authErr):
		return ExitConnection
	case errors.As(err, &configErr), errors.As(err, &loadErr):
		return ExitConfig
	default:
		return ExitFailure
	}
}

// HandlePanic logs the stack trace of a panic before exiting.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Debug("Panic")
		HandleFatalError(errors.NewFriendlyError(
			"tabletsync crashed unexpectedly: %v\n\n"+
				"Rerun with --verbose for more information.", r))
	}
}

// loadConfigError marks errors from reading the config file.
type loadConfigError struct {
	err error
}

func (err loadConfigError) Error() string {
	return err.err.Error()
}

func (err loadConfigError) Unwrap() error {
	return err.err
}

// LoadConfig reads the config at ConfigPath, or the default location.
func LoadConfig() (config.Config, error) {
	cfg, err := loadConfig(ConfigPath)
	if err != nil {
		return config.Config{}, loadConfigError{errors.WithContext(err, "load config")}
	}
	return cfg, nil
}

// LoadValidConfig is like LoadConfig, but also requires everything needed to
// connect to the tablet.
func LoadValidConfig() (config.Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return config.Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// NewSyncEngine returns an engine that connects to the tablet in `cfg`.
func NewSyncEngine(cfg config.Config) *sync.Engine {
	return sync.NewEngine(remote.NewSSHDialer(remote.CredentialsFromConfig(cfg)))
}
