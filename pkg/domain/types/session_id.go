package types

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// SessionID groups turns of one conversation. Sessions are never stored as
// entities; they exist as long as at least one turn refers to them.
type SessionID string

func NewSessionID(ctx context.Context) SessionID {
	return SessionID(newUUID(ctx))
}

func (id SessionID) String() string {
	return string(id)
}

// IsValid checks if the SessionID is valid
func (id SessionID) IsValid() bool {
	return isUUID(string(id))
}

// ParseSessionID normalizes a caller supplied session ID into canonical UUID
// form. Braced and upper case forms are accepted as uuid.Parse does.
func ParseSessionID(s string) (SessionID, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return SessionID(parsed.String()), true
}
