package sync

import (
	"os"
	"time"
)

// ModTimeTolerance is the largest modification time difference that's still
// considered unchanged.
const ModTimeTolerance = time.Second

// Reason explains a transfer decision.
type Reason string

const (
	ReasonForced      Reason = "forced"
	ReasonNew         Reason = "new file"
	ReasonSizeChanged Reason = "size changed"
	ReasonModified    Reason = "modified"
	ReasonUnchanged   Reason = "unchanged"
)

// Decision is the outcome of comparing a remote file with its local copy.
type Decision struct {
	Transfer bool
	Reason   Reason
}

// ShouldTransfer decides whether `remote` needs to be copied over `local`.
// `local` is nil if there's no local copy.
func ShouldTransfer(remote, local os.FileInfo, forceFull bool) Decision {
	switch {
	case forceFull:
		return Decision{true, ReasonForced}
	case local == nil:
		return Decision{true, ReasonNew}
	case remote.Size() != local.Size():
		return Decision{true, ReasonSizeChanged}
	case absDuration(remote.ModTime().Sub(local.ModTime())) > ModTimeTolerance:
		return Decision{true, ReasonModified}
	default:
		return Decision{false, ReasonUnchanged}
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
