package core

import (
	"strings"

	"github.com/google/uuid"
)

// TempIDPrefix marks ids assigned locally before the remote store confirmed a write.
const TempIDPrefix = "tmp-"

// NewTempID returns a fresh temporary id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTemporaryID reports whether id was assigned locally and is still unconfirmed.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// IdentityProvider supplies the opaque user id stamped on every record.
type IdentityProvider interface {
	UserID() string
}

// StaticIdentity is an IdentityProvider returning a fixed id.
type StaticIdentity string

func (s StaticIdentity) UserID() string { return string(s) }
