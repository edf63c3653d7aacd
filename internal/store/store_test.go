package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/al-bashkir/reachable/internal/portal"
)

func sampleEnvelope() Envelope {
	return Envelope{
		Auth: &portal.Session{BaseURL: "https://school.example", Token: "tok", ContactID: 42},
		SchoolConfig: &portal.SchoolConfig{
			Reach: portal.ReachConfig{
				Acronym:        "ES",
				SchoolName:     "Example School",
				PortalKey:      "pk",
				WebsocketJWT:   "jwt",
				StorageBaseURL: "https://storage.example",
			},
			Locations: []portal.Location{
				{ID: 1, Name: "Library", Color: portal.HexColor{Red: 0x10, Green: 0x20, Blue: 0x30}, Visible: true},
				{ID: 2, Name: "Gym", Color: portal.HexColor{Red: 0xff}},
			},
			Assets: portal.Assets{LoginBackground: "bg.png"},
		},
		UserContact: &portal.Contact{
			ContactID: 42,
			FirstName: "Ada",
			LastName:  "Lovelace",
			Email:     "ada@example.com",
			Address:   &portal.Address{Line1: "1 Main St", City: "Town", State: "CT", PostalCode: "06492", Country: "USA"},
		},
		AppConfig: AppConfig{FavoriteLocations: []int{2}},
	}
}

func TestDecodeFallback(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		source   Source
		wantAuth *portal.Session
	}{
		{
			name:     "legacy only auth",
			data:     `{"auth":{"reachDomain":"https://school.example","token":"t","contactID":1}}`,
			source:   SourceFull,
			wantAuth: &portal.Session{BaseURL: "https://school.example", Token: "t", ContactID: 1},
		},
		{
			name:     "unknown field",
			data:     `{"auth":{"reachDomain":"https://school.example","token":"t","contactID":1},"unknownField":{"x":1}}`,
			source:   SourceLegacy,
			wantAuth: &portal.Session{BaseURL: "https://school.example", Token: "t", ContactID: 1},
		},
		{
			name:     "changed school config schema",
			data:     `{"auth":{"reachDomain":"https://school.example","token":"t","contactID":1},"schoolConfig":{"loc":"not a list"},"appConfig":{"favoriteLocations":[1]}}`,
			source:   SourceLegacy,
			wantAuth: &portal.Session{BaseURL: "https://school.example", Token: "t", ContactID: 1},
		},
		{
			name:   "corrupt",
			data:   `{"auth":`,
			source: SourceEmpty,
		},
		{
			name:   "empty",
			data:   ``,
			source: SourceEmpty,
		},
		{
			name:   "auth has wrong type",
			data:   `{"auth":{"token":5}}`,
			source: SourceEmpty,
		},
		{
			name:   "auth missing fields",
			data:   `{"auth":{}}`,
			source: SourceEmpty,
		},
		{
			name:   "auth without token",
			data:   `{"auth":{"reachDomain":"https://school.example","contactID":1},"appConfig":{"favoriteLocations":[1]}}`,
			source: SourceEmpty,
		},
		{
			name:   "auth without portal address",
			data:   `{"auth":{"token":"t","contactID":1}}`,
			source: SourceEmpty,
		},
		{
			name:   "trailing data",
			data:   `{"appConfig":{"favoriteLocations":[]}} {}`,
			source: SourceEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, src := Decode([]byte(tt.data))
			assert.Equal(t, tt.source, src)
			assert.Equal(t, tt.wantAuth, env.Auth)
			if src != SourceFull {
				assert.Nil(t, env.SchoolConfig)
				assert.Nil(t, env.UserContact)
				assert.Empty(t, env.AppConfig.FavoriteLocations)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	envs := []Envelope{
		{},
		{AppConfig: AppConfig{FavoriteLocations: []int{}}},
		sampleEnvelope(),
	}

	for _, env := range envs {
		data, err := Encode(env)
		require.NoError(t, err)

		got, src := Decode(data)
		assert.Equal(t, SourceFull, src)
		assert.Equal(t, env, got)
	}
}

func TestStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Reachable", "ReachableInfo", "database.json")

	s := Open(path)
	assert.Equal(t, Envelope{}, s.Snapshot())

	env := sampleEnvelope()
	s.Save(env)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened := Open(path)
	assert.Equal(t, env, reopened.Snapshot())
	assert.Equal(t, env, reopened.Load())
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "db.json"))
	s.Save(sampleEnvelope())

	snap := s.Snapshot()
	snap.Auth.Token = "changed"
	snap.SchoolConfig.Locations[0].Name = "changed"
	snap.UserContact.Address.City = "changed"
	snap.AppConfig.FavoriteLocations[0] = 99

	assert.Equal(t, sampleEnvelope(), s.Snapshot())
}

func TestStoreSessionLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s := Open(path)

	_, ok := s.Session()
	assert.False(t, ok)

	sess := portal.Session{BaseURL: "https://school.example", Token: "tok", ContactID: 42}
	s.SetSession(sess)
	s.SetSchoolConfig(sampleEnvelope().SchoolConfig)
	s.SetUserContact(sampleEnvelope().UserContact)
	assert.True(t, s.ToggleFavorite(1))

	got, ok := Open(path).Session()
	require.True(t, ok)
	assert.Equal(t, sess, got)

	// Re-login as the same user keeps cached data.
	sess.Token = "tok2"
	s.SetSession(sess)
	assert.NotNil(t, s.Snapshot().SchoolConfig)

	// A different account drops it.
	s.SetSession(portal.Session{BaseURL: "https://other.example", Token: "x", ContactID: 1})
	assert.Nil(t, s.Snapshot().SchoolConfig)
	assert.Nil(t, s.Snapshot().UserContact)

	s.ClearSession()
	_, ok = Open(path).Session()
	assert.False(t, ok)
	assert.Equal(t, []int{1}, Open(path).Snapshot().AppConfig.FavoriteLocations)
}

func TestToggleFavorite(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "db.json"))

	assert.True(t, s.ToggleFavorite(3))
	assert.True(t, s.ToggleFavorite(5))
	assert.False(t, s.ToggleFavorite(3))
	assert.Equal(t, []int{5}, s.Snapshot().AppConfig.FavoriteLocations)

	env := s.Snapshot()
	assert.True(t, env.IsFavorite(5))
	assert.False(t, env.IsFavorite(3))
}

func TestFavoriteLocations(t *testing.T) {
	env := sampleEnvelope()
	favs := env.FavoriteLocations()
	require.Len(t, favs, 1)
	assert.Equal(t, "Gym", favs[0].Name)

	assert.Nil(t, Envelope{}.FavoriteLocations())
}

func TestStoreWriteFailureIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	// The parent "directory" is a regular file, so every write fails.
	s := Open(filepath.Join(blocker, "db.json"))
	sess := portal.Session{BaseURL: "https://school.example", Token: "tok"}
	s.SetSession(sess)

	got, ok := s.Session()
	require.True(t, ok)
	assert.Equal(t, sess, got)
}

func TestStoreLoadFallsBackFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	data := `{"auth":{"reachDomain":"https://school.example","token":"t","contactID":7},"unknownField":{"nested":true}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	env := Open(path).Snapshot()
	require.NotNil(t, env.Auth)
	assert.Equal(t, 7, env.Auth.ContactID)
	assert.Nil(t, env.SchoolConfig)
	assert.Empty(t, env.AppConfig.FavoriteLocations)
}

func TestWatchReportsExternalChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s := Open(path)
	other := Open(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Envelope, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(env Envelope) { changes <- env })
	}()

	want := portal.Session{BaseURL: "https://school.example", Token: "from-other", ContactID: 9}
	require.Eventually(t, func() bool {
		other.SetSession(want)
		select {
		case env := <-changes:
			return env.Auth != nil && *env.Auth == want
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	got, ok := s.Session()
	require.True(t, ok)
	assert.Equal(t, want, got)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "full", SourceFull.String())
	assert.Equal(t, "legacy", SourceLegacy.String())
	assert.Equal(t, "empty", SourceEmpty.String())
}

func TestStoreIgnoresIncompleteSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"auth":{}}`), 0600))

	s := Open(path)
	_, ok := s.Session()
	assert.False(t, ok)
}
