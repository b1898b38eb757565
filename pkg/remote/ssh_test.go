package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/sidkik/tabletsync/pkg/config"
	tserrors "github.com/sidkik/tabletsync/pkg/errors"
)

func TestCredentialsFromConfig(t *testing.T) {
	cfg := config.Config{
		Host:              "10.11.99.1",
		Port:              2222,
		User:              "root",
		Password:          "secret",
		SSHTimeoutSeconds: 7,
	}
	creds := CredentialsFromConfig(cfg)
	assert.Equal(t, Credentials{
		Host:     "10.11.99.1",
		Port:     2222,
		User:     "root",
		Password: "secret",
		Timeout:  7 * time.Second,
	}, creds)
	assert.Equal(t, "10.11.99.1:2222", creds.Address())

	creds.Port = 0
	assert.Equal(t, "10.11.99.1:22", creds.Address())

	noCreds := CredentialsFromConfig(config.Config{Host: "h", User: "root"})
	assert.NotEmpty(t, noCreds.KeyPath, "the default key should be used")
}

func TestClientConfig(t *testing.T) {
	fs = afero.NewMemMapFs()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/keys/tablet", pem.EncodeToMemory(block), 0600))

	tests := []struct {
		name     string
		creds    Credentials
		expAuths int
		expError bool
	}{
		{
			name:     "Password",
			creds:    Credentials{Host: "h", User: "root", Password: "pw"},
			expAuths: 2,
		},
		{
			name:     "Key",
			creds:    Credentials{Host: "h", User: "root", KeyPath: "/keys/tablet"},
			expAuths: 1,
		},
		{
			name: "PasswordAndMissingKey",
			creds: Credentials{Host: "h", User: "root", Password: "pw",
				KeyPath: "/keys/missing"},
			expAuths: 2,
		},
		{
			name:     "MissingKeyOnly",
			creds:    Credentials{Host: "h", User: "root", KeyPath: "/keys/missing"},
			expError: true,
		},
		{
			name:     "Nothing",
			creds:    Credentials{Host: "h", User: "root"},
			expError: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			clientConfig, err := NewSSHDialer(test.creds).clientConfig()
			if test.expError {
				var authErr tserrors.AuthenticationError
				assert.True(t, errors.As(err, &authErr))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "root", clientConfig.User)
			assert.Len(t, clientConfig.Auth, test.expAuths)
			assert.NotNil(t, clientConfig.HostKeyCallback)
		})
	}
}

func TestClassifyHandshakeError(t *testing.T) {
	dialer := NewSSHDialer(Credentials{Host: "h", User: "root"})

	authErr := dialer.classifyHandshakeError(errors.New(
		"ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain"))
	assert.IsType(t, tserrors.AuthenticationError{}, authErr)
	assert.False(t, tserrors.IsRetryable(authErr))

	connErr := dialer.classifyHandshakeError(errors.New("read: connection reset by peer"))
	assert.IsType(t, tserrors.ConnectionError{}, connErr)
	assert.True(t, tserrors.IsRetryable(connErr))
}

func TestPasswordChallenge(t *testing.T) {
	answers, err := passwordChallenge("pw")("", "", []string{"Password:", "Again:"}, []bool{false, false})
	assert.NoError(t, err)
	assert.Equal(t, []string{"pw", "pw"}, answers)
}

func TestIsConnectionLost(t *testing.T) {
	assert.True(t, IsConnectionLost(tserrors.WithContext(sftp.ErrSSHFxConnectionLost, "read dir")))
	assert.False(t, IsConnectionLost(errors.New("permission denied")))
}
