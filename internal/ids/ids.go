// Package ids generates the two identifier kinds used across the service.
package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier used as a storage key.
func New() string {
	return ulid.Make().String()
}

// NewPublicRef returns the immutable UUID attached to every entity at
// creation. Public refs appear in emails and URLs; storage keys never
// leave the service.
func NewPublicRef() string {
	return uuid.NewString()
}
