// Package attempt tracks in-flight login attempts.
//
// Starting a login supersedes any attempt still running, so a result that
// arrives late for an older attempt can be recognized and discarded.
package attempt

import (
	"time"
)

// Attempt is one login attempt against a portal.
type Attempt struct {
	// ID is a random UUID.
	ID string

	// Host is the portal host being logged in to.
	Host string

	// Method is the login method, e.g. "saml".
	Method string

	CreatedAt time.Time
	ExpiresAt time.Time

	// ResultWritten is set once a result has been handed to the credential
	// exchange. At most one result is accepted per attempt.
	ResultWritten bool
}

// Expired reports whether the attempt has run past its deadline.
func (a Attempt) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
