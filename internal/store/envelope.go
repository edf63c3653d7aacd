// Package store persists the signed-in session and its cached data in a
// single JSON file shared by every process of the app.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/al-bashkir/reachable/internal/portal"
)

// AppConfig holds user preferences.
type AppConfig struct {
	FavoriteLocations []int `json:"favoriteLocations"`
}

// Envelope is the full persisted document.
type Envelope struct {
	Auth         *portal.Session      `json:"auth,omitempty"`
	SchoolConfig *portal.SchoolConfig `json:"schoolConfig,omitempty"`
	UserContact  *portal.Contact      `json:"userContact,omitempty"`
	AppConfig    AppConfig            `json:"appConfig"`
}

// legacyEnvelope is the minimal schema every version of the file satisfies.
type legacyEnvelope struct {
	Auth *portal.Session `json:"auth"`
}

// Source reports which schema a file was decoded with.
type Source int

const (
	SourceEmpty Source = iota
	SourceLegacy
	SourceFull
)

func (s Source) String() string {
	switch s {
	case SourceFull:
		return "full"
	case SourceLegacy:
		return "legacy"
	default:
		return "empty"
	}
}

// Decode decodes a persisted file. It tries the full schema first, then the
// legacy schema, and finally returns an empty envelope. A readable session
// is never lost because some other field failed to decode. A session missing
// its token or portal address counts as unreadable.
func Decode(data []byte) (Envelope, Source) {
	if env, err := decodeFull(data); err == nil {
		return env, SourceFull
	}

	var legacy legacyEnvelope
	if err := json.Unmarshal(data, &legacy); err == nil && legacy.Auth != nil && legacy.Auth.Valid() {
		return Envelope{Auth: legacy.Auth}, SourceLegacy
	}

	return Envelope{}, SourceEmpty
}

func decodeFull(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Envelope{}, fmt.Errorf("trailing data after envelope")
	}
	if env.Auth != nil && !env.Auth.Valid() {
		return Envelope{}, errors.New("invalid session in envelope")
	}
	return env, nil
}

// Encode serializes env with the full schema.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Clone returns a deep copy of e.
func (e Envelope) Clone() Envelope {
	out := Envelope{
		AppConfig: AppConfig{FavoriteLocations: slices.Clone(e.AppConfig.FavoriteLocations)},
	}
	if e.Auth != nil {
		auth := *e.Auth
		out.Auth = &auth
	}
	if e.SchoolConfig != nil {
		cfg := *e.SchoolConfig
		cfg.Locations = slices.Clone(e.SchoolConfig.Locations)
		out.SchoolConfig = &cfg
	}
	if e.UserContact != nil {
		contact := *e.UserContact
		if e.UserContact.Address != nil {
			addr := *e.UserContact.Address
			contact.Address = &addr
		}
		out.UserContact = &contact
	}
	return out
}

// IsFavorite reports whether locationID is a favorite.
func (e Envelope) IsFavorite(locationID int) bool {
	return slices.Contains(e.AppConfig.FavoriteLocations, locationID)
}

// FavoriteLocations returns the configured locations the user marked as
// favorites, in configuration order.
func (e Envelope) FavoriteLocations() []portal.Location {
	if e.SchoolConfig == nil {
		return nil
	}
	var out []portal.Location
	for _, loc := range e.SchoolConfig.Locations {
		if e.IsFavorite(loc.ID) {
			out = append(out, loc)
		}
	}
	return out
}
