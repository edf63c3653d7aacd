// Package formdata encodes and decodes application/x-www-form-urlencoded
// bodies the way the portal expects them.
//
// The portal rejects '+' as a space, so spaces are always sent as %20 and a
// literal '+' is always sent as %2B.
package formdata

import (
	"net/url"
	"sort"
	"strings"
)

// ContentType is the Content-Type header value for encoded bodies.
const ContentType = "application/x-www-form-urlencoded"

const upperhex = "0123456789ABCDEF"

// unreserved reports whether c may appear unescaped in a key or value.
// '&', '=' and '+' are excluded because they are delimiters in the body.
func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!$'()*,-./:;?@_~", c) >= 0
}

// Escape percent-encodes s for use as a form key or value.
func Escape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

// EncodeString serializes fields as k=v pairs joined by '&'.
// Keys are sorted so the output is deterministic.
func EncodeString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(Escape(k))
		b.WriteByte('=')
		b.WriteString(Escape(fields[k]))
	}
	return b.String()
}

// Encode is EncodeString returning bytes for use as a request body.
func Encode(fields map[string]string) []byte {
	return []byte(EncodeString(fields))
}

// Decode parses an encoded body. Pairs without '=' or with an invalid
// percent escape are dropped. A repeated key keeps its last value.
func Decode(body []byte) map[string]string {
	fields := make(map[string]string)
	if len(body) == 0 {
		return fields
	}

	for _, pair := range strings.Split(string(body), "&") {
		rawKey, rawValue, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, err := url.PathUnescape(rawKey)
		if err != nil {
			continue
		}
		value, err := url.PathUnescape(rawValue)
		if err != nil {
			continue
		}
		fields[key] = value
	}
	return fields
}
