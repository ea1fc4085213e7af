// Package system provides the wall clock behind job timestamps.
package system

import (
	"time"

	"github.com/openshelf/catalogd/internal/catalog"
)

// Clock reads time.Now in UTC. Job rows persist UTC, so every read goes
// through the same conversion.
type Clock struct{}

var _ catalog.Clock = Clock{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
