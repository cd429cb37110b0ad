package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========================================
// TESTS: CredentialStore
// ========================================

func credentialedProvider(id string) Provider {
	p := testProvider(id)
	p.RequiresCredential = true
	return p
}

func TestCredentialStore_SetAndGet(t *testing.T) {
	store := NewCredentialStore(nil)
	p := credentialedProvider("mapbox")

	require.NoError(t, store.Set(p, "sk.test-token"))

	secret, ok := store.Get("mapbox")
	assert.True(t, ok)
	assert.Equal(t, "sk.test-token", secret)
	assert.True(t, store.Satisfied(p))
}

func TestCredentialStore_RejectsNonCredentialProvider(t *testing.T) {
	store := NewCredentialStore(nil)

	err := store.Set(testProvider("osm"), "anything")
	assert.ErrorIs(t, err, ErrCredentialNotApplicable)
}

func TestCredentialStore_EmptySecretClearsEligibility(t *testing.T) {
	store := NewCredentialStore(map[string]string{"mapbox": "sk.old"})
	p := credentialedProvider("mapbox")

	require.True(t, store.Satisfied(p))
	require.NoError(t, store.Set(p, ""))

	assert.False(t, store.Has("mapbox"))
	assert.False(t, store.Satisfied(p))
}

func TestCredentialStore_SnapshotIsolatedFromRotation(t *testing.T) {
	store := NewCredentialStore(map[string]string{"google": "key-v1"})
	p := credentialedProvider("google")

	snapshot := store.Snapshot()
	require.NoError(t, store.Set(p, "key-v2"))

	assert.Equal(t, "key-v1", snapshot["google"])

	current, _ := store.Get("google")
	assert.Equal(t, "key-v2", current)
}

func TestCredentialStore_SatisfiedWithoutRequirement(t *testing.T) {
	store := NewCredentialStore(nil)
	assert.True(t, store.Satisfied(testProvider("osm")))
}
