package sync

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockFileInfo struct {
	name    string
	size    int64
	modTime time.Time
	dir     bool
}

func (fi mockFileInfo) Name() string       { return fi.name }
func (fi mockFileInfo) Size() int64        { return fi.size }
func (fi mockFileInfo) ModTime() time.Time { return fi.modTime }
func (fi mockFileInfo) IsDir() bool        { return fi.dir }
func (fi mockFileInfo) Sys() interface{}   { return nil }
func (fi mockFileInfo) Mode() os.FileMode {
	if fi.dir {
		return os.ModeDir | 0755
	}
	return 0644
}

func TestShouldTransfer(t *testing.T) {
	modTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := mockFileInfo{name: "a.metadata", size: 100, modTime: modTime}

	tests := []struct {
		name      string
		local     os.FileInfo
		forceFull bool
		exp       Decision
	}{
		{
			name:  "Absent",
			local: nil,
			exp:   Decision{true, ReasonNew},
		},
		{
			name:  "Unchanged",
			local: remote,
			exp:   Decision{false, ReasonUnchanged},
		},
		{
			name:      "ForcedEvenIfUnchanged",
			local:     remote,
			forceFull: true,
			exp:       Decision{true, ReasonForced},
		},
		{
			name:      "ForcedWhenAbsent",
			local:     nil,
			forceFull: true,
			exp:       Decision{true, ReasonForced},
		},
		{
			name:  "SizeChanged",
			local: mockFileInfo{size: 99, modTime: modTime},
			exp:   Decision{true, ReasonSizeChanged},
		},
		{
			name:  "SizeCheckedBeforeTime",
			local: mockFileInfo{size: 99, modTime: modTime.Add(time.Hour)},
			exp:   Decision{true, ReasonSizeChanged},
		},
		{
			name:  "WithinTolerance",
			local: mockFileInfo{size: 100, modTime: modTime.Add(-time.Second)},
			exp:   Decision{false, ReasonUnchanged},
		},
		{
			name:  "LocalNewerBeyondTolerance",
			local: mockFileInfo{size: 100, modTime: modTime.Add(1500 * time.Millisecond)},
			exp:   Decision{true, ReasonModified},
		},
		{
			name:  "RemoteNewerBeyondTolerance",
			local: mockFileInfo{size: 100, modTime: modTime.Add(-time.Minute)},
			exp:   Decision{true, ReasonModified},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.exp, ShouldTransfer(remote, test.local, test.forceFull))
		})
	}
}
