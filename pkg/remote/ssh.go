package remote

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"

	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Credentials identify the tablet and how to authenticate to it. Either
// Password or KeyPath must be set.
type Credentials struct {
	Host          string
	Port          int
	User          string
	Password      string
	KeyPath       string
	KeyPassphrase string

	// Timeout bounds connection and handshake. It doesn't apply to
	// transfers once the session is established.
	Timeout time.Duration
}

// CredentialsFromConfig extracts the connection settings from cfg. If no
// password or key is configured, the default key path is used.
func CredentialsFromConfig(cfg config.Config) Credentials {
	creds := Credentials{
		Host:          cfg.Host,
		Port:          cfg.Port,
		User:          cfg.User,
		Password:      cfg.Password,
		KeyPath:       cfg.KeyPath,
		KeyPassphrase: cfg.KeyPassphrase,
		Timeout:       cfg.SSHTimeout(),
	}
	if creds.Password == "" && creds.KeyPath == "" {
		if keyPath, err := config.ExpandPath(config.DefaultKeyPath); err == nil {
			creds.KeyPath = keyPath
		}
	}
	return creds
}

// Address returns the host:port to dial.
func (c Credentials) Address() string {
	port := c.Port
	if port == 0 {
		port = config.DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SSHDialer opens SFTP sessions over SSH.
type SSHDialer struct {
	Credentials Credentials

	// HostKeyCallback verifies the tablet's host key. The tablet regenerates
	// its key on factory reset, so by default any key is accepted.
	HostKeyCallback ssh.HostKeyCallback
}

// NewSSHDialer creates a dialer for the given credentials.
func NewSSHDialer(creds Credentials) SSHDialer {
	return SSHDialer{Credentials: creds}
}

// Dial implements the Dialer interface.
func (d SSHDialer) Dial(ctx context.Context) (Session, error) {
	client, err := d.dialSSH(ctx)
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, errors.ConnectionError{
			Host: d.Credentials.Host,
			Err:  errors.WithContext(err, "start sftp subsystem"),
		}
	}
	return &sftpSession{ssh: client, sftp: sftpClient}, nil
}

func (d SSHDialer) dialSSH(ctx context.Context) (*ssh.Client, error) {
	creds := d.Credentials
	clientConfig, err := d.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := creds.Address()
	dialer := net.Dialer{Timeout: creds.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.ConnectionError{Host: creds.Host, Err: err}
	}

	// The deadline only covers the handshake. It's cleared afterwards so
	// that long transfers aren't interrupted.
	if creds.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(creds.Timeout)); err != nil {
			conn.Close()
			return nil, errors.ConnectionError{Host: creds.Host, Err: err}
		}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, d.classifyHandshakeError(err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, errors.ConnectionError{Host: creds.Host, Err: err}
	}

	log.WithFields(log.Fields{
		"host": creds.Host,
		"user": creds.User,
	}).Debug("Established SSH session")
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (d SSHDialer) clientConfig() (*ssh.ClientConfig, error) {
	creds := d.Credentials
	var auth []ssh.AuthMethod
	if creds.Password != "" {
		auth = append(auth, ssh.Password(creds.Password),
			ssh.KeyboardInteractive(passwordChallenge(creds.Password)))
	}

	if creds.KeyPath != "" {
		signer, err := d.loadKey()
		if err != nil {
			// A missing default key isn't fatal if there's a password.
			if creds.Password == "" {
				return nil, errors.AuthenticationError{
					User: creds.User, Host: creds.Host, Err: err}
			}
			log.WithError(err).WithField("path", creds.KeyPath).Debug(
				"Ignoring unusable private key")
		} else {
			auth = append(auth, ssh.PublicKeys(signer))
		}
	}

	if len(auth) == 0 {
		return nil, errors.AuthenticationError{User: creds.User, Host: creds.Host,
			Err: errors.New("no password or private key configured")}
	}

	hostKeyCallback := d.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            creds.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         creds.Timeout,
	}, nil
}

func (d SSHDialer) loadKey() (ssh.Signer, error) {
	keyBytes, err := afero.ReadFile(fs, d.Credentials.KeyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: d.Credentials.KeyPath}
		}
		return nil, errors.WithContext(err, "read private key")
	}

	if d.Credentials.KeyPassphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(keyBytes,
			[]byte(d.Credentials.KeyPassphrase))
		return signer, errors.WithContext(err, "parse private key")
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	return signer, errors.WithContext(err, "parse private key")
}

// passwordChallenge answers keyboard-interactive prompts with the password.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}

func (d SSHDialer) classifyHandshakeError(err error) error {
	// x/crypto/ssh doesn't export a typed error for rejected credentials.
	if strings.Contains(err.Error(), "unable to authenticate") {
		return errors.AuthenticationError{
			User: d.Credentials.User,
			Host: d.Credentials.Host,
			Err:  err,
		}
	}
	return errors.ConnectionError{Host: d.Credentials.Host, Err: err}
}

// Ping checks that the tablet accepts our credentials and can run commands.
func Ping(ctx context.Context, creds Credentials) error {
	out, err := Run(ctx, creds, `echo "test"`)
	if err != nil {
		return errors.WithContext(err, "run test command")
	}

	if got := strings.TrimSpace(out); got != "test" {
		return errors.New("unexpected response to test command: %q", got)
	}
	return nil
}

// Version returns the firmware build of the tablet.
func Version(ctx context.Context, creds Credentials) (string, error) {
	out, err := Run(ctx, creds, "cat /etc/version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Run executes `command` on the tablet and returns its output.
func Run(ctx context.Context, creds Credentials, command string) (string, error) {
	client, err := SSHDialer{Credentials: creds}.dialSSH(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", errors.ConnectionError{Host: creds.Host,
			Err: errors.WithContext(err, "open session")}
	}
	defer session.Close()

	out, err := session.Output(command)
	if err != nil {
		return "", errors.WithContext(err, "run")
	}
	return string(out), nil
}

type sftpSession struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *sftpSession) ReadDir(path string) ([]os.FileInfo, error) {
	return s.sftp.ReadDir(path)
}

func (s *sftpSession) Stat(path string) (os.FileInfo, error) {
	return s.sftp.Stat(path)
}

func (s *sftpSession) Open(path string) (io.ReadCloser, error) {
	return s.sftp.Open(path)
}

func (s *sftpSession) Close() error {
	sftpErr := s.sftp.Close()
	sshErr := s.ssh.Close()
	if sftpErr != nil {
		return errors.WithContext(sftpErr, "close sftp")
	}
	return errors.WithContext(sshErr, "close ssh")
}
