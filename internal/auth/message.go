package auth

import (
	"context"
	"errors"

	"github.com/al-bashkir/reachable/internal/browser"
	"github.com/al-bashkir/reachable/internal/extract"
	"github.com/al-bashkir/reachable/internal/portal"
	"github.com/al-bashkir/reachable/internal/sso"
)

// messages maps error classes to what users are told. The first match wins.
var messages = []struct {
	err error
	msg string
}{
	{extract.ErrUserNotFound, "No account was found for this login. Check that you are signing in to the right school."},
	{extract.ErrUnknown, "The school portal reported an error. Please try again later."},
	{ErrSuperseded, "A newer login replaced this one."},
	{ErrNotLoggedIn, "You are not logged in."},
	{ErrTokenRequired, "A login token is required."},
	{ErrMethodDisabled, "This login method is not enabled for this school."},
	{sso.ErrUnknownProvider, "Unknown login method."},
	{ErrUnknownLocation, "That location does not exist at this school."},
	{ErrLocationRejected, "The school portal did not accept the location."},
	{sso.ErrSAMLStatus, "The identity provider rejected the login."},
	{sso.ErrSAMLResponseMissing, "The identity provider did not return a login response."},
	{browser.ErrInteractionRequired, "This login needs a browser. Run it again with --interactive."},
	{browser.ErrTooManyHops, "The login redirected too many times."},
	{portal.ErrInvalidHost, "That school address is not valid."},
	{portal.ErrExtract, "The login response was not recognized. The school portal may have changed."},
	{portal.ErrDecode, "The school portal sent a response that could not be read."},
	{context.DeadlineExceeded, "The school portal took too long to respond."},
	{context.Canceled, "The login was cancelled."},
	{portal.ErrTransport, "Could not reach the school portal. Check your connection and try again."},
	{ErrIncomplete, "The login was not completed."},
}

// Message renders err for users. It returns "" for a nil error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "Something went wrong. Please try again."
}

// IsBusiness reports whether err is an expected refusal by the portal
// rather than a failure of the client.
func IsBusiness(err error) bool {
	return errors.Is(err, extract.ErrBusiness)
}
