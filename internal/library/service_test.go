// ABOUTME: Tests for the library service over a real SQLite store with fake media
// ABOUTME: Covers search validation, thumbnail orchestration, store adds, and preset upserts

package library

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-run/atelier/internal/media"
	"github.com/atelier-run/atelier/internal/store"
)

// fakeMediaStore records uploads and reports existence from memory.
type fakeMediaStore struct {
	files     map[string][]byte
	uploadErr error
}

func newFakeMediaStore() *fakeMediaStore {
	return &fakeMediaStore{files: make(map[string][]byte)}
}

func (f *fakeMediaStore) key(userID, filename string) string { return userID + "/" + filename }

func (f *fakeMediaStore) CheckExists(_ context.Context, userID, filename string) (string, error) {
	if _, ok := f.files[f.key(userID, filename)]; ok {
		return "http://media.test/" + f.key(userID, filename), nil
	}
	return "", nil
}

func (f *fakeMediaStore) Upload(_ context.Context, userID, filename string, data []byte) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.files[f.key(userID, filename)] = data
	return "http://media.test/" + f.key(userID, filename), nil
}

// fakeImageGenerator returns fixed bytes or a configured error.
type fakeImageGenerator struct {
	calls int
	err   error
}

func (f *fakeImageGenerator) Generate(_ context.Context, _ media.AgentDescriptor) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("thumbnail"), nil
}

func setupService(t *testing.T) (*Service, *store.SQLiteStore, *fakeMediaStore, *fakeImageGenerator) {
	t.Helper()
	sqlStore, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	mediaStore := newFakeMediaStore()
	images := &fakeImageGenerator{}
	svc := NewService(sqlStore, sqlStore, sqlStore, mediaStore, images)
	return svc, sqlStore, mediaStore, images
}

func createGraph(t *testing.T, s *store.SQLiteStore, id string, version int, creatorID string) *store.AgentGraph {
	t.Helper()
	g := &store.AgentGraph{
		ID:          id,
		Version:     version,
		Name:        "Agent " + id,
		Description: "description of " + id,
		UserID:      creatorID,
		IsActive:    true,
	}
	require.NoError(t, s.CreateGraph(context.Background(), g))
	return g
}

func TestListAgents_SearchTooLong(t *testing.T) {
	svc, _, _, _ := setupService(t)

	_, err := svc.ListAgents(context.Background(), "user-1", strings.Repeat("x", 101))
	assert.ErrorIs(t, err, ErrSearchTooLong)

	// Exactly 100 characters is accepted.
	_, err = svc.ListAgents(context.Background(), "user-1", strings.Repeat("x", 100))
	assert.NoError(t, err)

	// Whitespace is trimmed before the length check.
	_, err = svc.ListAgents(context.Background(), "user-1", strings.Repeat("x", 100)+"   ")
	assert.NoError(t, err)
}

func TestAddAgent_GeneratesThumbnail(t *testing.T) {
	svc, sqlStore, mediaStore, images := setupService(t)
	ctx := context.Background()

	createGraph(t, sqlStore, "g1", 1, "creator-1")

	agent, err := svc.AddAgent(ctx, "user-1", "g1", 1)
	require.NoError(t, err)
	assert.Equal(t, "creator-1", agent.CreatorID)
	assert.True(t, agent.UseGraphIsActiveVersion)
	assert.False(t, agent.IsCreatedByUser)

	assert.Equal(t, 1, images.calls)
	assert.Contains(t, mediaStore.files, "user-1/agent_g1.jpeg")
}

func TestAddAgent_SkipsExistingThumbnail(t *testing.T) {
	svc, sqlStore, mediaStore, images := setupService(t)
	ctx := context.Background()

	createGraph(t, sqlStore, "g1", 1, "creator-1")
	mediaStore.files["user-1/agent_g1.jpeg"] = []byte("existing")

	_, err := svc.AddAgent(ctx, "user-1", "g1", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, images.calls)
}

func TestAddAgent_MissingGraph(t *testing.T) {
	svc, _, _, _ := setupService(t)

	_, err := svc.AddAgent(context.Background(), "user-1", "no-such-graph", 1)
	assert.ErrorIs(t, err, store.ErrAgentNotFound)
}

func TestAddAgent_ImageFailureFailsCreate(t *testing.T) {
	svc, sqlStore, _, images := setupService(t)
	ctx := context.Background()

	createGraph(t, sqlStore, "g1", 1, "creator-1")
	images.err = errors.New("image service down")

	_, err := svc.AddAgent(ctx, "user-1", "g1", 1)
	require.Error(t, err)

	// The library entry was not created.
	agents, err := sqlStore.ListLibraryAgents(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestAddStoreAgent(t *testing.T) {
	svc, sqlStore, _, _ := setupService(t)
	ctx := context.Background()

	createGraph(t, sqlStore, "g1", 1, "creator-1")
	listing := &store.StoreListingVersion{AgentID: "g1", AgentVersion: 1}
	require.NoError(t, sqlStore.CreateStoreListingVersion(ctx, listing))

	agent, err := svc.AddStoreAgent(ctx, "user-1", listing.ID)
	require.NoError(t, err)
	assert.Equal(t, "g1", agent.AgentID)
	assert.Equal(t, "creator-1", agent.CreatorID)

	// Adding the same listing again is a no-op returning the existing row.
	again, err := svc.AddStoreAgent(ctx, "user-1", listing.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, again.ID)

	agents, err := sqlStore.ListLibraryAgents(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestAddStoreAgent_RejectsOwnAgent(t *testing.T) {
	svc, sqlStore, _, _ := setupService(t)
	ctx := context.Background()

	createGraph(t, sqlStore, "g1", 1, "creator-1")
	listing := &store.StoreListingVersion{AgentID: "g1", AgentVersion: 1}
	require.NoError(t, sqlStore.CreateStoreListingVersion(ctx, listing))

	_, err := svc.AddStoreAgent(ctx, "creator-1", listing.ID)
	assert.ErrorIs(t, err, ErrOwnAgent)
}

func TestAddStoreAgent_MissingListing(t *testing.T) {
	svc, _, _, _ := setupService(t)

	_, err := svc.AddStoreAgent(context.Background(), "user-1", "no-such-listing")
	assert.ErrorIs(t, err, store.ErrAgentNotFound)
}

func TestUpsertPreset(t *testing.T) {
	svc, sqlStore, _, _ := setupService(t)
	ctx := context.Background()

	createGraph(t, sqlStore, "g1", 1, "creator-1")

	// No id: create.
	created, err := svc.UpsertPreset(ctx, "user-1", "", &store.AgentPreset{
		AgentID:      "g1",
		AgentVersion: 1,
		Name:         "morning run",
		IsActive:     true,
		Inputs:       []store.PresetInput{{Name: "query", Data: "news"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "user-1", created.UserID)

	// With id: update fields and append inputs.
	updated, err := svc.UpsertPreset(ctx, "user-1", created.ID, &store.AgentPreset{
		Name:     "evening run",
		IsActive: false,
		Inputs:   []store.PresetInput{{Name: "limit", Data: float64(5)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "evening run", updated.Name)
	assert.Len(t, updated.Inputs, 2)

	// Unknown id fails rather than creating.
	_, err = svc.UpsertPreset(ctx, "user-1", "no-such-preset", &store.AgentPreset{Name: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
