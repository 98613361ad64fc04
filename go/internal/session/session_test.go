package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore_SetGetClear(t *testing.T) {
	store := NewMemoryStore()

	_, ok := store.Get()
	assert.False(t, ok)

	store.Set(Session{AccessToken: "a1", RefreshToken: "r1", UserID: "u1"})
	s, ok := store.Get()
	assert.True(t, ok)
	assert.Equal(t, "a1", s.AccessToken)
	assert.True(t, s.Valid())

	store.SetAccessToken("a2")
	store.SetRefreshToken("")
	s, _ = store.Get()
	assert.Equal(t, "a2", s.AccessToken)
	assert.Equal(t, "r1", s.RefreshToken)

	store.Clear()
	s, ok = store.Get()
	assert.False(t, ok)
	assert.False(t, s.Valid())
}

func TestMemoryStore_SetAccessTokenAfterClear(t *testing.T) {
	store := NewMemoryStore()
	store.Set(Session{AccessToken: "a1", RefreshToken: "r1"})
	store.Clear()

	store.SetAccessToken("late")

	_, ok := store.Get()
	assert.False(t, ok, "a refresh landing after logout must not resurrect the session")
}
