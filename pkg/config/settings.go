package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/tabletsync/pkg/errors"
)

const (
	// UserConfigPath is the default path to the tabletsync config.
	UserConfigPath = "~/.tabletsync.yaml"

	// SupportedConfigVersion is the version of the config file understood
	// by this binary. Files that don't specify a version default to it.
	SupportedConfigVersion = "v1"

	// DefaultHost is the address the tablet uses over USB networking.
	DefaultHost = "10.11.99.1"

	// DefaultUser is the only SSH user on the tablet.
	DefaultUser = "root"

	// DefaultPort is the tablet's SSH port.
	DefaultPort = 22

	// DefaultRemotePath is where the tablet keeps its document store.
	DefaultRemotePath = "/home/root/.local/share/remarkable/xochitl/"

	// DefaultBaseDir is the local directory that holds all synced data.
	DefaultBaseDir = "~/tabletsync"

	// DefaultSSHTimeoutSeconds bounds SSH session establishment.
	DefaultSSHTimeoutSeconds = 20

	// DefaultKeyPath is checked when no password is configured.
	DefaultKeyPath = "~/.ssh/id_ed25519"
)

// Environment variables that override values in the config file.
const (
	HostEnvKey     = "RM_HOST"
	UserEnvKey     = "RM_USER"
	PasswordEnvKey = "RM_PASSWORD"
	KeyPathEnvKey  = "RM_KEY_PATH"
	BaseDirEnvKey  = "RM_BASE_DIR"
)

// Config is everything needed to reach the tablet and lay out the local
// copy of its documents. It is passed explicitly to every component.
type Config struct {
	Version string `json:"version,omitempty"`

	Host          string `json:"host"`
	Port          int    `json:"port,omitempty"`
	User          string `json:"user"`
	Password      string `json:"password,omitempty"`
	KeyPath       string `json:"keyPath,omitempty"`
	KeyPassphrase string `json:"keyPassphrase,omitempty"`

	RemotePath        string `json:"remotePath,omitempty"`
	SSHTimeoutSeconds int    `json:"sshTimeoutSeconds,omitempty"`

	BaseDir      string `json:"baseDir,omitempty"`
	IncludeTrash bool   `json:"includeTrash,omitempty"`
}

// Mocked out in unit tests.
var (
	homedirExpand = homedir.Expand
	getenv        = os.Getenv
)

// Default returns the config used when no config file exists.
func Default() Config {
	return Config{
		Version:           SupportedConfigVersion,
		Host:              DefaultHost,
		Port:              DefaultPort,
		User:              DefaultUser,
		RemotePath:        DefaultRemotePath,
		SSHTimeoutSeconds: DefaultSSHTimeoutSeconds,
		BaseDir:           DefaultBaseDir,
	}
}

// Load reads the config at `path`, or at UserConfigPath if `path` is empty.
// A missing file isn't an error: the defaults are used instead. Environment
// variables take precedence over the file.
func Load(path string) (Config, error) {
	if path == "" {
		var err error
		path, err = GetUserConfigPath()
		if err != nil {
			return Config{}, errors.WithContext(err, "expand config path")
		}
	}

	config := Default()
	if err := parseConfig(path, &config); err != nil {
		if _, ok := err.(errors.FileNotFound); !ok {
			return Config{}, errors.WithContext(err, "parse")
		}
	}

	config.applyEnv()
	config.applyDefaults()

	var err error
	config.BaseDir, err = homedirExpand(config.BaseDir)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand base dir")
	}

	// Evaluate relative paths relative to the config path.
	if !filepath.IsAbs(config.BaseDir) {
		config.BaseDir = filepath.Join(filepath.Dir(path), config.BaseDir)
	}

	if config.KeyPath != "" {
		config.KeyPath, err = homedirExpand(config.KeyPath)
		if err != nil {
			return Config{}, errors.WithContext(err, "expand key path")
		}
	}
	return config, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key   string
		field *string
	}{
		{HostEnvKey, &c.Host},
		{UserEnvKey, &c.User},
		{PasswordEnvKey, &c.Password},
		{KeyPathEnvKey, &c.KeyPath},
		{BaseDirEnvKey, &c.BaseDir},
	}
	for _, override := range overrides {
		if val := getenv(override.key); val != "" {
			*override.field = val
		}
	}
}

// applyDefaults fills in fields that were explicitly emptied in the file.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.RemotePath == "" {
		c.RemotePath = DefaultRemotePath
	}
	if c.SSHTimeoutSeconds == 0 {
		c.SSHTimeoutSeconds = DefaultSSHTimeoutSeconds
	}
	if c.BaseDir == "" {
		c.BaseDir = DefaultBaseDir
	}
}

// Write writes the given config to `path`, or to UserConfigPath if `path` is
// empty.
func Write(path string, cfg Config) error {
	if path == "" {
		var err error
		path, err = GetUserConfigPath()
		if err != nil {
			return errors.WithContext(err, "expand config path")
		}
	}

	cfg.Version = SupportedConfigVersion
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	// The file may contain the SSH password.
	if err := afero.WriteFile(fs, path, yamlBytes, 0600); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// Validate checks that the config has enough information to connect to the
// tablet.
func (c Config) Validate() error {
	var issues []string
	if c.Host == "" {
		issues = append(issues, "Host is not configured")
	}
	if c.User == "" {
		issues = append(issues, "SSH user is not configured")
	}
	if c.Password == "" && c.KeyPath == "" {
		defaultKey, err := homedirExpand(DefaultKeyPath)
		if err != nil {
			issues = append(issues, "Neither password nor SSH key is configured")
		} else if exists, _ := afero.Exists(fs, defaultKey); !exists {
			issues = append(issues, "Neither password nor SSH key is configured")
		}
	}

	if len(issues) != 0 {
		return errors.ConfigError{Issues: issues}
	}
	return nil
}

// SSHTimeout returns how long to wait for the SSH session to be established.
func (c Config) SSHTimeout() time.Duration {
	return time.Duration(c.SSHTimeoutSeconds) * time.Second
}

// RawDir is where the tablet's document store is mirrored to.
func (c Config) RawDir() string {
	return filepath.Join(c.BaseDir, "data", "raw")
}

// OrganizedDir is where the folder hierarchy is materialized.
func (c Config) OrganizedDir() string {
	return filepath.Join(c.BaseDir, "data", "organized")
}

// CatalogPath is the location of the catalog written after each index.
func (c Config) CatalogPath() string {
	return filepath.Join(c.BaseDir, "data", "catalog.json")
}

// GetUserConfigPath returns the path to the user's tabletsync configuration.
// This path is expanded, so it can be directly passed to file operations.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}

// ExpandPath expands a leading `~` to the user's home directory.
func ExpandPath(path string) (string, error) {
	return homedirExpand(path)
}
