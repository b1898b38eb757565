// Package config loads and writes the tabletsync settings file.
package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/tabletsync/pkg/errors"
)

// Replaced with afero.NewMemMapFs() in unit tests.
var fs = afero.NewOsFs()

// parseConfigErrTemplate is shown when the settings file isn't valid YAML,
// or has fields of the wrong type or that we don't know about. The YAML
// library's errors don't say where the problem is, so all we can do is pass
// the message along.
const parseConfigErrTemplate = "Failed to parse the tabletsync settings in %q.\n" +
	"Check for misspelled field names and values of the wrong type, " +
	"e.g. a quoted port number.\n\n" +
	"Parser error: %s"

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The settings file %q was written for a different "+
		"version of tabletsync (expected %q, found %q).\n"+
		"Run `tabletsync config` to regenerate it.", err.path, err.exp, err.actual)
}

// parseConfig overlays the settings in `path` onto `cfg`. Fields missing
// from the file keep their current values.
func parseConfig(path string, cfg *Config) error {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read file")
	}

	// The version is checked before the strict decode so that files from
	// other versions get the more helpful error.
	if err := yaml.Unmarshal(configBytes, cfg); err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	if cfg.Version != SupportedConfigVersion {
		return incompatibleVersionError{path, SupportedConfigVersion, cfg.Version}
	}

	if err := yaml.UnmarshalStrict(configBytes, cfg, yaml.DisallowUnknownFields); err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return nil
}
