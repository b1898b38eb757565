package materialize

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/sidkik/tabletsync/pkg/errors"
)

// StateFile is written to the root of the destination after every run. It
// records which node each entry belongs to so that entries created by a
// previous run can be recognized and reused.
const StateFile = ".tabletsync-state.json"

type state struct {
	// Entries maps node IDs to their path relative to the destination root.
	Entries map[string]string `json:"entries"`
}

func loadState(fs afero.Fs, destRoot string) (state, error) {
	st := state{Entries: map[string]string{}}
	stateBytes, err := afero.ReadFile(fs, filepath.Join(destRoot, StateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, errors.WithContext(err, "read")
	}

	if err := json.Unmarshal(stateBytes, &st); err != nil {
		return state{Entries: map[string]string{}}, errors.WithContext(err, "parse")
	}
	if st.Entries == nil {
		st.Entries = map[string]string{}
	}
	return st, nil
}

func writeState(fs afero.Fs, destRoot string, st state) error {
	stateBytes, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	path := filepath.Join(destRoot, StateFile)
	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, stateBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return fs.Rename(tmpPath, path)
}
