package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
)

func newLevelDBStore(t *testing.T) (*LevelDBStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db")
	dbStore, err := NewLevelDBStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbStore.Close() })
	return dbStore, path
}

func TestLevelDBStoreIntentRoundTrip(t *testing.T) {
	dbStore, _ := newLevelDBStore(t)

	_, err := dbStore.GetIntent("intent-1")
	assert.ErrorIs(t, err, ErrNotFound)

	intent := sampleIntent("intent-1", models.IntentStatusPending)
	require.NoError(t, dbStore.CreateIntent(intent))

	got, err := dbStore.GetIntent("intent-1")
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)
	assert.Equal(t, intent.Status, got.Status)
	assert.Equal(t, intent.AmountDrops, got.AmountDrops)
	assert.Equal(t, intent.ExpiresAt.Unix(), got.ExpiresAt.Unix())

	got.Status = models.IntentStatusCompleted
	require.NoError(t, dbStore.UpdateIntent(got))

	updated, err := dbStore.GetIntent("intent-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCompleted, updated.Status)
}

func TestLevelDBStoreUpdateUnknownIntent(t *testing.T) {
	dbStore, _ := newLevelDBStore(t)
	err := dbStore.UpdateIntent(sampleIntent("missing", models.IntentStatusPending))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLevelDBStoreGetActiveIntent(t *testing.T) {
	dbStore, _ := newLevelDBStore(t)

	require.NoError(t, dbStore.CreateIntent(sampleIntent("intent-1", models.IntentStatusCompleted)))
	_, err := dbStore.GetActiveIntent("eval-1", "rPayer")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, dbStore.CreateIntent(sampleIntent("intent-2", models.IntentStatusProcessing)))
	got, err := dbStore.GetActiveIntent("eval-1", "rPayer")
	require.NoError(t, err)
	assert.Equal(t, "intent-2", got.ID)
}

func TestLevelDBStoreGrantRoundTrip(t *testing.T) {
	dbStore, _ := newLevelDBStore(t)

	grant := sampleGrant("grant-1", models.GrantStatusActive)
	grant.DownloadHistory = []models.DownloadRecord{{At: time.Now().UTC(), Bytes: 512, Source: "report.pdf"}}
	require.NoError(t, dbStore.CreateGrant(grant))

	got, err := dbStore.GetGrant("grant-1")
	require.NoError(t, err)
	assert.Equal(t, grant.ID, got.ID)
	require.Len(t, got.DownloadHistory, 1)
	assert.Equal(t, int64(512), got.DownloadHistory[0].Bytes)

	active, err := dbStore.GetActiveGrant("eval-1", "hospital-1")
	require.NoError(t, err)
	assert.Equal(t, "grant-1", active.ID)
}

func TestLevelDBStoreListByStatus(t *testing.T) {
	dbStore, _ := newLevelDBStore(t)

	require.NoError(t, dbStore.CreateIntent(sampleIntent("intent-1", models.IntentStatusPending)))
	require.NoError(t, dbStore.CreateIntent(sampleIntent("intent-2", models.IntentStatusFailed)))
	require.NoError(t, dbStore.CreateGrant(sampleGrant("grant-1", models.GrantStatusActive)))
	require.NoError(t, dbStore.CreateGrant(sampleGrant("grant-2", models.GrantStatusRevoked)))

	pending, err := dbStore.ListIntentsByStatus(models.IntentStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	active, err := dbStore.ListGrantsByStatus(models.GrantStatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, "grant-1", active[0].ID)
}

func TestLevelDBStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	first, err := NewLevelDBStore(path)
	require.NoError(t, err)
	require.NoError(t, first.CreateIntent(sampleIntent("intent-1", models.IntentStatusPending)))
	require.NoError(t, first.Close())

	second, err := NewLevelDBStore(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	got, err := second.GetIntent("intent-1")
	require.NoError(t, err)
	assert.Equal(t, "intent-1", got.ID)
}
