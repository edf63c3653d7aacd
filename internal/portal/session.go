package portal

import (
	"fmt"
	"net/url"
)

// Session is the authenticated portal session produced by a successful login.
type Session struct {
	// BaseURL is the scheme and host of the portal, e.g. https://school.example.
	BaseURL   string `json:"reachDomain"`
	Token     string `json:"token"`
	ContactID int    `json:"contactID"`
}

// Valid reports whether s carries everything needed for authenticated calls.
func (s Session) Valid() bool {
	if s.Token == "" {
		return false
	}
	u, err := url.Parse(s.BaseURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Host returns the portal host the session belongs to.
func (s Session) Host() string {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (s Session) endpoint(elem ...string) (string, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: session base URL %q", ErrInvalidHost, s.BaseURL)
	}
	return u.JoinPath(elem...).String(), nil
}
