package domain

import (
	"encoding/hex"
	"regexp"

	"github.com/google/uuid"
)

// IDLength is the length of every record id: 16 bytes, hex encoded.
const IDLength = 32

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NewID returns a time-ordered UUIDv7 rendered as 32 lowercase hex characters.
func NewID() string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return hex.EncodeToString(u[:])
}

// IsID reports whether s has the shape of a record id.
func IsID(s string) bool {
	return idPattern.MatchString(s)
}
