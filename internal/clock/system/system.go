// Package system is the wall-clock vault.Clock used outside of tests.
package system

import (
	"time"

	"github.com/aovault/aovault/internal/vault"
)

// Clock reads time.Now. Timestamps are normalized to UTC so stored
// last-checked and probe times compare cleanly across hosts.
type Clock struct{}

var _ vault.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
