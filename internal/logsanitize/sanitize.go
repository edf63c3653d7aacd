// Package logsanitize provides helpers for sanitizing untrusted values before logging.
package logsanitize

import (
	"net/url"
	"strings"
)

// credentialParams are query or form keys whose values grant a session.
var credentialParams = []string{"sso_token", "SAMLResponse", "authToken"}

// Sanitize removes control characters from log field values to reduce
// the risk of log injection (CWE-117).
//
// Stripped ranges:
//   - C0 controls 0x00-0x1F (except horizontal tab 0x09)
//   - DEL 0x7F and C1 controls 0x80-0x9F
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return '_'
		}
		if r >= 0x7f && r <= 0x9f {
			return '_'
		}
		return r
	}, s)
}

// RedactURL sanitizes raw and masks credential-bearing query parameters.
// Values that do not parse as a URL are sanitized only.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return Sanitize(raw)
	}

	q := u.Query()
	changed := false
	for _, key := range credentialParams {
		if q.Has(key) {
			q.Set(key, "[REDACTED]")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return Sanitize(u.String())
}
