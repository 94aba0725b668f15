package chat

import "github.com/m-mizutani/kitsune/pkg/domain/types"

type SessionResolutionKind int

const (
	SessionGenerated SessionResolutionKind = iota + 1
	SessionExisting
	SessionRejected
)

func (k SessionResolutionKind) String() string {
	switch k {
	case SessionGenerated:
		return "generated"
	case SessionExisting:
		return "existing"
	case SessionRejected:
		return "rejected"
	}
	return "unknown"
}

// SessionResolution is the outcome of resolving a caller supplied session ID
type SessionResolution struct {
	Kind   SessionResolutionKind
	ID     types.SessionID
	Reason string
}

func Generated(id types.SessionID) SessionResolution {
	return SessionResolution{Kind: SessionGenerated, ID: id}
}

func Existing(id types.SessionID) SessionResolution {
	return SessionResolution{Kind: SessionExisting, ID: id}
}

func Rejected(reason string) SessionResolution {
	return SessionResolution{Kind: SessionRejected, Reason: reason}
}

// Accepted reports whether the session can be used for a turn
func (x SessionResolution) Accepted() bool {
	return x.Kind == SessionGenerated || x.Kind == SessionExisting
}
