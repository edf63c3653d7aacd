// Package extract pulls the session token and the user matrix out of the
// HTML page the portal renders after a successful credential exchange.
//
// The page embeds two JavaScript assignments:
//
//	var tokenID = '<token>';
//	var matrix = '"<json string>"';
//
// The matrix is escaped twice by the backend. It is decoded once as a JSON
// string and the result is decoded again as a Matrix.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Error classes. Every error returned by TokenAndMatrix wraps exactly one.
var (
	ErrExtraction = errors.New("extraction failed")
	ErrBusiness   = errors.New("portal rejected login")
	ErrDecode     = errors.New("matrix decode failed")
)

// Extraction failures.
var (
	ErrPatternInit    = fmt.Errorf("%w: pattern initialization", ErrExtraction)
	ErrTokenNotFound  = fmt.Errorf("%w: token not found", ErrExtraction)
	ErrMatrixNotFound = fmt.Errorf("%w: matrix not found", ErrExtraction)
)

// Business failures signalled by sentinel token values.
var (
	ErrUserNotFound = fmt.Errorf("%w: user not found", ErrBusiness)
	ErrUnknown      = fmt.Errorf("%w: unknown error", ErrBusiness)
)

const (
	sentinelUserNotFound = "-1"
	sentinelUnknown      = "-2"
)

// DecodeError reports which of the two matrix decode stages failed.
type DecodeError struct {
	Stage int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("matrix decode stage %d: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// Matrix is the user profile record embedded in the login page.
type Matrix struct {
	ContactID          int    `json:"cid"`
	UserDefinedFieldID int    `json:"uid"`
	FirstName          string `json:"f"`
	LastName           string `json:"l"`
	RoleID             int    `json:"r"`
}

// Quote styles must agree, so the token pattern has one alternative per
// style. Backslash escapes never close a literal.
const (
	tokenPattern       = `var\s+tokenID\s*=\s*(?:'((?:[^'\\\n]|\\.)*)'|"((?:[^"\\\n]|\\.)*)")\s*;`
	matrixStartPattern = `var\s+matrix\s*=\s*(['"])`
)

var (
	compileOnce sync.Once
	tokenRe     *regexp.Regexp
	matrixRe    *regexp.Regexp
	compileErr  error
)

func patterns() (*regexp.Regexp, *regexp.Regexp, error) {
	compileOnce.Do(func() {
		tokenRe, compileErr = regexp.Compile(tokenPattern)
		if compileErr != nil {
			return
		}
		matrixRe, compileErr = regexp.Compile(matrixStartPattern)
	})
	return tokenRe, matrixRe, compileErr
}

// TokenAndMatrix extracts the session token and the decoded matrix from html.
//
// The sentinel token values are checked as soon as the token is found, so a
// rejected login is reported as a business failure even when the page
// carries no matrix.
func TokenAndMatrix(html string) (string, Matrix, error) {
	tokenRe, matrixRe, err := patterns()
	if err != nil {
		return "", Matrix{}, fmt.Errorf("%w: %w", ErrPatternInit, err)
	}

	token, ok := findToken(tokenRe, html)
	if !ok {
		return "", Matrix{}, ErrTokenNotFound
	}

	switch token {
	case sentinelUserNotFound:
		return "", Matrix{}, ErrUserNotFound
	case sentinelUnknown:
		return "", Matrix{}, ErrUnknown
	}

	literals := matrixLiterals(matrixRe, html)
	if len(literals) == 0 {
		return "", Matrix{}, ErrMatrixNotFound
	}

	var firstErr error
	for _, literal := range literals {
		matrix, err := DecodeMatrix(literal)
		if err == nil {
			return token, matrix, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", Matrix{}, firstErr
}

// matrixLiterals returns the quoted literals that may be the matrix value,
// shortest first. Each candidate ends at an unescaped closing quote followed
// by a semicolon on the same line. A double-quoted value is a JSON string, so
// its first candidate is exact. A single-quoted value may contain raw single
// quotes, so later candidates are kept for the decoder to try.
func matrixLiterals(re *regexp.Regexp, html string) []string {
	loc := re.FindStringSubmatchIndex(html)
	if loc == nil {
		return nil
	}
	open := loc[2]
	quote := html[open]

	var out []string
	for i := open + 1; i < len(html); i++ {
		switch c := html[i]; {
		case c == '\\':
			i++
		case c == '\n':
			return out
		case c == quote:
			if !followedBySemicolon(html[i+1:]) {
				continue
			}
			out = append(out, html[open:i+1])
			if quote == '"' {
				return out
			}
		}
	}
	return out
}

func followedBySemicolon(s string) bool {
	rest := strings.TrimLeft(s, " \t\r")
	return strings.HasPrefix(rest, ";")
}

func findToken(re *regexp.Regexp, html string) (string, bool) {
	m := re.FindStringSubmatchIndex(html)
	if m == nil {
		return "", false
	}
	// Group 1 is the single-quoted form, group 2 the double-quoted form.
	if m[2] >= 0 {
		return html[m[2]:m[3]], true
	}
	return html[m[4]:m[5]], true
}

// DecodeMatrix decodes a quoted matrix literal as captured from the page.
//
// Stage 1 decodes a JSON string literal. The literal is either the capture
// itself (double-quoted in the page) or the text between the page quotes.
// Stage 2 decodes the resulting string as a Matrix.
func DecodeMatrix(literal string) (Matrix, error) {
	inner, err := decodeStringLiteral(literal)
	if err != nil {
		return Matrix{}, &DecodeError{Stage: 1, Err: err}
	}

	var matrix Matrix
	if err := json.Unmarshal([]byte(inner), &matrix); err != nil {
		return Matrix{}, &DecodeError{Stage: 2, Err: err}
	}
	return matrix, nil
}

func decodeStringLiteral(literal string) (string, error) {
	var firstErr error
	for _, candidate := range literalCandidates(literal) {
		var s string
		err := json.Unmarshal([]byte(candidate), &s)
		if err == nil {
			return s, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = errors.New("matrix literal is not a JSON string")
	}
	return "", firstErr
}

// literalCandidates lists the substrings of a captured literal that may hold
// the JSON string, most specific first.
func literalCandidates(literal string) []string {
	var out []string
	if strings.HasPrefix(literal, `"`) {
		out = append(out, literal)
	}
	if len(literal) >= 2 {
		inner := literal[1 : len(literal)-1]
		if len(inner) >= 2 && strings.HasPrefix(inner, `"`) && strings.HasSuffix(inner, `"`) {
			out = append(out, inner)
			// '"<json string literal>"' wraps an already quoted literal.
			if len(inner) >= 4 && strings.HasPrefix(inner, `""`) && strings.HasSuffix(inner, `""`) {
				out = append(out, inner[1:len(inner)-1])
			}
		}
	}
	return out
}
