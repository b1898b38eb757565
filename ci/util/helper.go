package util

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/remote/remotetest"
)

// Binary is the tabletsync executable under test. It must be on the PATH.
const Binary = "tabletsync"

// TestHelper contains methods commonly used during integration tests.
type TestHelper struct {
	Tablet *remotetest.Server

	// RemotePath is the local directory that the fake tablet serves as its
	// document store.
	RemotePath string

	BaseDir    string
	ConfigPath string
}

// NewTestHelper starts a fake tablet and writes a config that points
// tabletsync at it. Everything lives under `root`.
func NewTestHelper(root string) (*TestHelper, error) {
	tablet, err := remotetest.NewServer(config.DefaultUser, "ci-password")
	if err != nil {
		return nil, errors.WithContext(err, "start tablet")
	}

	helper := &TestHelper{
		Tablet:     tablet,
		RemotePath: filepath.Join(root, "xochitl"),
		BaseDir:    filepath.Join(root, "tabletsync"),
		ConfigPath: filepath.Join(root, "tabletsync.yaml"),
	}
	if err := os.MkdirAll(helper.RemotePath, 0755); err != nil {
		tablet.Close()
		return nil, errors.WithContext(err, "create document store")
	}

	cfg := config.Default()
	cfg.Host = tablet.Host()
	cfg.Port = tablet.Port()
	cfg.Password = tablet.Password
	cfg.RemotePath = filepath.ToSlash(helper.RemotePath) + "/"
	cfg.BaseDir = helper.BaseDir
	cfg.SSHTimeoutSeconds = 5
	if err := config.Write(helper.ConfigPath, cfg); err != nil {
		tablet.Close()
		return nil, errors.WithContext(err, "write config")
	}
	return helper, nil
}

// Close stops the fake tablet.
func (helper *TestHelper) Close() error {
	return helper.Tablet.Close()
}

// Config loads the config written by NewTestHelper.
func (helper *TestHelper) Config() (config.Config, error) {
	return config.Load(helper.ConfigPath)
}

func (helper *TestHelper) command(ctx context.Context, env []string, args ...string) *exec.Cmd {
	args = append([]string{"--config", helper.ConfigPath}, args...)
	cmd := exec.CommandContext(ctx, Binary, args...)
	// Stray credentials in the CI environment would override the config.
	cmd.Env = append(os.Environ(),
		config.HostEnvKey+"=", config.UserEnvKey+"=", config.PasswordEnvKey+"=",
		config.KeyPathEnvKey+"=", config.BaseDirEnvKey+"=")
	cmd.Env = append(cmd.Env, env...)
	return cmd
}

// Run runs the given tabletsync command, and returns its stdout.
func (helper *TestHelper) Run(ctx context.Context, args ...string) ([]byte, error) {
	return helper.RunWithEnv(ctx, nil, args...)
}

// RunWithEnv is like Run, but sets extra environment variables such as
// config overrides.
func (helper *TestHelper) RunWithEnv(ctx context.Context, env []string, args ...string) ([]byte, error) {
	cmd := helper.command(ctx, env, args...)
	stderr := bytes.NewBuffer(nil)
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%w (stderr: %s)", err, stderr)
	}
	return out, nil
}

// Start starts the given tabletsync command. It returns a reader for the
// stdout output, and a channel for obtaining any errors after starting the
// command. The command is interrupted when `ctx` is cancelled.
func (helper *TestHelper) Start(ctx context.Context, args ...string) (
	io.Reader, chan error, error) {

	cmd := helper.command(context.Background(), nil, args...)

	stdoutReader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}

	stderr := bytes.NewBuffer(nil)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	errChan := make(chan error, 1)
	go func() {
		waitErr := make(chan error)
		go func() {
			waitErr <- cmd.Wait()
			close(waitErr)
		}()

		defer close(errChan)
		select {
		case <-ctx.Done():
			if err := cmd.Process.Signal(os.Interrupt); err != nil {
				errChan <- errors.WithContext(err, "interrupt")
				return
			}
			<-waitErr
		case err := <-waitErr:
			errChan <- fmt.Errorf("crashed (%v): stderr: %s", err, stderr)
		}
	}()
	return stdoutReader, errChan, nil
}

// WaitForOutput blocks until `expOutput` is written to `reader`, or `ctx` has
// expired.
func WaitForOutput(ctx context.Context, reader *StreamReader, expOutput []byte) error {
	actualOutput := bytes.NewBuffer(nil)
	for {
		select {
		case <-ctx.Done():
			return errors.New("cancelled while waiting for %q, got %q",
				expOutput, actualOutput)
		case r := <-reader.Read(ctx):
			if r.Error != nil {
				return errors.WithContext(r.Error, "read")
			}
			actualOutput.Write(r.Bytes)

			if bytes.Contains(actualOutput.Bytes(), expOutput) {
				return nil
			}
		}
	}
}

// TestWithRetry runs `test` until it passes or `ctx` expires, backing off
// between attempts.
func TestWithRetry(ctx context.Context, test func() bool) bool {
	maxSleepTime := 5 * time.Second
	sleepTime := 100 * time.Millisecond
	for {
		if test() {
			return true
		}

		select {
		case <-ctx.Done():
			return test()
		case <-time.After(sleepTime):
			sleepTime *= 2
			if sleepTime > maxSleepTime {
				sleepTime = maxSleepTime
			}
		}
	}
}
