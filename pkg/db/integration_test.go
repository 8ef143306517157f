package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/peer-services/pkg/directory"
)

const dbIntegrationPrefix = "db:integration_test"

// testDBEnv returns the database URL for integration tests; skips the test if not set.
func testDBEnv(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skipf("%s - TEST_DATABASE_URL not set, skipping", dbIntegrationPrefix)
	}
	return url
}

// setupIntegrationPool creates a pool with migrations applied and the mirror emptied.
func setupIntegrationPool(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	url := testDBEnv(t)

	pool, err := NewPool(ctx, url)
	require.NoError(t, err, "%s - NewPool", dbIntegrationPrefix)
	t.Cleanup(pool.Close)

	path := ResolveMigrationPath("migrations", filepath.Join("..", "..", "migrations"))
	migrations, err := LoadMigrationFiles(path)
	require.NoError(t, err, "%s - LoadMigrationFiles", dbIntegrationPrefix)
	require.NoError(t, RunMigrations(ctx, pool, migrations), "%s - RunMigrations", dbIntegrationPrefix)
	require.NoError(t, ClearPeers(ctx, pool), "%s - ClearPeers", dbIntegrationPrefix)
	return ctx, pool
}

func TestIntegration_SchemaPresent(t *testing.T) {
	ctx, pool := setupIntegrationPool(t)

	ok, err := SchemaPresent(ctx, pool)
	require.NoError(t, err)
	assert.True(t, ok, "%s - expected peers table after migrations", dbIntegrationPrefix)
}

func TestIntegration_UpsertAndMarkOffline(t *testing.T) {
	ctx, pool := setupIntegrationPool(t)
	repo := NewRepository(pool)

	seen := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.UpsertPeer(ctx, directory.Peer{
		Address:         "bob@example.com",
		Online:          true,
		ProtocolVersion: "1.0.0",
		Features:        []string{"urn:ytstenut:capabilities:video"},
		LastSeen:        seen,
	}))

	rec, err := repo.GetPeer(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, rec.Online)
	assert.Equal(t, "1.0.0", rec.ProtocolVersion)
	assert.Equal(t, []string{"urn:ytstenut:capabilities:video"}, rec.Features)
	assert.WithinDuration(t, seen, rec.LastSeen, time.Second)

	// Second upsert replaces features, keeps first_seen.
	require.NoError(t, repo.UpsertPeer(ctx, directory.Peer{Address: "bob@example.com", Online: true}))
	again, err := repo.GetPeer(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Empty(t, again.Features)
	assert.Equal(t, rec.FirstSeen, again.FirstSeen)

	require.NoError(t, repo.MarkOffline(ctx, "bob@example.com"))
	offline, err := repo.GetPeer(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, offline.Online)

	require.NoError(t, repo.MarkOffline(ctx, "nobody@example.com"), "%s - unknown address is not an error", dbIntegrationPrefix)
	_, err = repo.GetPeer(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestIntegration_ListPeersFilters(t *testing.T) {
	ctx, pool := setupIntegrationPool(t)
	repo := NewRepository(pool)

	require.NoError(t, repo.UpsertPeer(ctx, directory.Peer{Address: "a@example.com", Online: true, Features: []string{"x"}}))
	require.NoError(t, repo.UpsertPeer(ctx, directory.Peer{Address: "b@example.com", Online: true, Features: []string{"y"}}))
	require.NoError(t, repo.UpsertPeer(ctx, directory.Peer{Address: "c@example.com", Online: true, Features: []string{"x"}}))
	require.NoError(t, repo.MarkOffline(ctx, "c@example.com"))

	all, err := repo.ListPeers(ctx, ListPeersParams{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a@example.com", all[0].Address)

	online, err := repo.ListPeers(ctx, ListPeersParams{OnlineOnly: true})
	require.NoError(t, err)
	assert.Len(t, online, 2)

	withX, err := repo.ListPeers(ctx, ListPeersParams{Feature: "x"})
	require.NoError(t, err)
	assert.Len(t, withX, 2)

	n, err := repo.MarkAllOffline(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestIntegration_DirectoryMirrorsThroughRepository(t *testing.T) {
	ctx, pool := setupIntegrationPool(t)
	repo := NewRepository(pool)
	dir := directory.New(repo)

	dir.Update(ctx, directory.Peer{Address: "carol@example.com", ProtocolVersion: "1.2.0"})
	rec, err := repo.GetPeer(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.True(t, rec.Online)
	assert.Equal(t, "carol@example.com", rec.Peer().Address)

	dir.MarkOffline(ctx, "carol@example.com")
	rec, err = repo.GetPeer(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.False(t, rec.Online)
}
