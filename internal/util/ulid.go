package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID generates a lexically sortable unique id, used for webhook tokens.
func NewULID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
