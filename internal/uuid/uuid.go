// Package uuid issues the idempotency keys attached to queued mutations.
//
// Every pending operation carries a random v4 request id so a server that
// already applied a mutation can recognise a retried delivery of it.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRequestID generates a new v4 request id in canonical lowercase form.
func NewRequestID() string {
	return uuid.New().String()
}

// ParseRequestID parses s and requires it to be a v4 UUID.
func ParseRequestID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid request id: %w", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, fmt.Errorf("expected UUID v4 request id, got v%d", id.Version())
	}
	if len(s) != 36 {
		return uuid.Nil, fmt.Errorf("request id %q is not in canonical form", s)
	}
	return id, nil
}

// IsRequestID reports whether s is a canonical v4 request id.
func IsRequestID(s string) bool {
	_, err := ParseRequestID(s)
	return err == nil
}
