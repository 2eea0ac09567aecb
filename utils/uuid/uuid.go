package uuid

import (
	google_uuid "github.com/google/uuid"
)

// MustUUID returns a random UUID string. It panics
// only if the system's random source fails.
func MustUUID() string {
	return google_uuid.New().String()
}
