// Package ids generates identifiers for session history records.
package ids

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewSessionID generates a unique session ID.
// Format: "ses_" + ulid(). ULIDs sort lexicographically by creation time,
// which keeps history queries ordered without a separate timestamp index.
func NewSessionID() string {
	return "ses_" + generateULID()
}

// generateULID generates a ULID string.
func generateULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	return id.String()
}

// SessionIDTime extracts the creation time from a session ID.
func SessionIDTime(id string) (time.Time, error) {
	const prefix = "ses_"
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return time.Time{}, fmt.Errorf("not a session ID: %q", id)
	}
	u, err := ulid.Parse(id[len(prefix):])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ULID: %w", err)
	}
	ms := u.Time()
	return time.UnixMilli(int64(ms)), nil //nolint:gosec // ULID timestamps fit in int64 until year 10889
}
