// ABOUTME: Tests for the user service against an in-memory store fake
// ABOUTME: Covers claims resolution, integration encryption, migration, and preference projection

package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-run/atelier/internal/auth"
	"github.com/atelier-run/atelier/internal/secrets"
	"github.com/atelier-run/atelier/internal/store"
)

// fakeUserStore is an in-memory UserStore for service tests.
type fakeUserStore struct {
	users    map[string]*store.User
	settings map[string]*store.NotificationSettings
	execs    []store.GraphExecution
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:    make(map[string]*store.User),
		settings: make(map[string]*store.NotificationSettings),
	}
}

func (f *fakeUserStore) CreateUser(_ context.Context, u *store.User) error {
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return store.ErrEmailExists
		}
	}
	if u.ID == "" {
		u.ID = "generated-id"
	}
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	f.users[u.ID] = u
	f.settings[u.ID] = &store.NotificationSettings{
		UserID:                       u.ID,
		NotifyOnAgentRun:             true,
		NotifyOnZeroBalance:          true,
		NotifyOnLowBalance:           true,
		NotifyOnBlockExecutionFailed: true,
		NotifyOnContinuousAgentError: true,
		NotifyOnDailySummary:         true,
		NotifyOnWeeklySummary:        true,
		NotifyOnMonthlySummary:       true,
		MaxEmailsPerDay:              3,
	}
	return nil
}

func (f *fakeUserStore) GetUser(_ context.Context, id string) (*store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeUserStore) ListUsers(_ context.Context) ([]*store.User, error) {
	users := make([]*store.User, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, u)
	}
	return users, nil
}

func (f *fakeUserStore) UpdateUserMetadata(_ context.Context, id string, metadata map[string]any) error {
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Metadata = metadata
	return nil
}

func (f *fakeUserStore) GetUserIntegrationsBlob(_ context.Context, id string) (string, error) {
	u, ok := f.users[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return u.Integrations, nil
}

func (f *fakeUserStore) SetUserIntegrationsBlob(_ context.Context, id, blob string) error {
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Integrations = blob
	return nil
}

func (f *fakeUserStore) EnsureNotificationSettings(_ context.Context, userID string) error {
	if _, ok := f.settings[userID]; ok {
		return nil
	}
	f.settings[userID] = &store.NotificationSettings{
		UserID:                       userID,
		NotifyOnAgentRun:             true,
		NotifyOnZeroBalance:          true,
		NotifyOnLowBalance:           true,
		NotifyOnBlockExecutionFailed: true,
		NotifyOnContinuousAgentError: true,
		NotifyOnDailySummary:         true,
		NotifyOnWeeklySummary:        true,
		NotifyOnMonthlySummary:       true,
		MaxEmailsPerDay:              3,
	}
	return nil
}

func (f *fakeUserStore) GetNotificationSettings(_ context.Context, userID string) (*store.NotificationSettings, error) {
	s, ok := f.settings[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeUserStore) ActiveUserIDsInRange(_ context.Context, start, end time.Time) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range f.execs {
		if e.CreatedAt.Before(start) || e.CreatedAt.After(end) {
			continue
		}
		if !seen[e.UserID] {
			seen[e.UserID] = true
			ids = append(ids, e.UserID)
		}
	}
	return ids, nil
}

var _ store.UserStore = (*fakeUserStore)(nil)

func setupService(t *testing.T) (*Service, *fakeUserStore) {
	t.Helper()
	cryptor, err := secrets.NewCryptor("test-passphrase")
	require.NoError(t, err)
	fake := newFakeUserStore()
	return NewService(fake, cryptor), fake
}

func TestGetOrCreateUser_MissingClaims(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.GetOrCreateUser(ctx, nil)
	assert.ErrorIs(t, err, ErrMissingClaims)

	_, err = svc.GetOrCreateUser(ctx, &auth.Claims{Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrMissingClaims)

	_, err = svc.GetOrCreateUser(ctx, &auth.Claims{Subject: "user-123"})
	assert.ErrorIs(t, err, ErrMissingClaims)
}

func TestGetOrCreateUser_Idempotent(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()

	claims := &auth.Claims{Subject: "user-123", Email: "ada@example.com", Name: "Ada"}

	first, err := svc.GetOrCreateUser(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, "user-123", first.ID)
	assert.Equal(t, "Ada", first.Name)

	second, err := svc.GetOrCreateUser(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Exactly one settings row exists.
	assert.Len(t, fake.settings, 1)
}

func TestGetOrCreateUser_BackfillsNotificationSettings(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()

	// A legacy account created before settings rows existed.
	fake.users["legacy-1"] = &store.User{ID: "legacy-1", Email: "old@example.com", Metadata: map[string]any{}}

	_, err := svc.GetOrCreateUser(ctx, &auth.Claims{Subject: "legacy-1", Email: "old@example.com"})
	require.NoError(t, err)

	settings, err := fake.GetNotificationSettings(ctx, "legacy-1")
	require.NoError(t, err)
	assert.True(t, settings.NotifyOnAgentRun)
}

func TestCreateDefaultUser_Idempotent(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	first, err := svc.CreateDefaultUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultUserID, first.ID)

	second, err := svc.CreateDefaultUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestMetadata_FullReplace(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	u, err := svc.GetOrCreateUser(ctx, &auth.Claims{Subject: "user-123", Email: "a@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateMetadata(ctx, u.ID, map[string]any{"theme": "dark", "beta": true}))
	require.NoError(t, svc.UpdateMetadata(ctx, u.ID, map[string]any{"theme": "light"}))

	metadata, err := svc.GetMetadata(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "light", metadata["theme"])
	assert.NotContains(t, metadata, "beta")
}

func TestIntegrations_AbsentReadsEmpty(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	u, err := svc.GetOrCreateUser(ctx, &auth.Claims{Subject: "user-123", Email: "a@example.com"})
	require.NoError(t, err)

	integrations, err := svc.GetIntegrations(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, integrations.Credentials)
	assert.Empty(t, integrations.OAuthStates)
}

func TestIntegrations_EncryptedRoundTrip(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()

	u, err := svc.GetOrCreateUser(ctx, &auth.Claims{Subject: "user-123", Email: "a@example.com"})
	require.NoError(t, err)

	doc := &UserIntegrations{
		Credentials: []Credential{{ID: "c1", Provider: "github", Type: "api_key", APIKey: "tok_123"}},
	}
	require.NoError(t, svc.UpdateIntegrations(ctx, u.ID, doc))

	// The stored blob is ciphertext, not the secret.
	assert.NotContains(t, fake.users[u.ID].Integrations, "tok_123")

	got, err := svc.GetIntegrations(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, got.Credentials, 1)
	assert.Equal(t, "tok_123", got.Credentials[0].APIKey)
}

func TestMigrateUserIntegrations(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	u, err := svc.GetOrCreateUser(ctx, &auth.Claims{Subject: "user-123", Email: "a@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateMetadata(ctx, u.ID, map[string]any{
		"theme": "dark",
		"integration_credentials": []any{
			map[string]any{"id": "c1", "provider": "github", "type": "api_key", "api_key": "tok_123"},
		},
		"integration_oauth_states": []any{
			map[string]any{"token": "state-1", "provider": "github", "expires_at": float64(1700000000)},
		},
	}))

	migrated, err := svc.MigrateUserIntegrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, migrated)

	// Data moved into the encrypted document.
	integrations, err := svc.GetIntegrations(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, integrations.Credentials, 1)
	assert.Equal(t, "tok_123", integrations.Credentials[0].APIKey)
	require.Len(t, integrations.OAuthStates, 1)
	assert.Equal(t, "state-1", integrations.OAuthStates[0].Token)

	// Legacy keys stripped, unrelated metadata preserved.
	metadata, err := svc.GetMetadata(ctx, u.ID)
	require.NoError(t, err)
	assert.NotContains(t, metadata, "integration_credentials")
	assert.NotContains(t, metadata, "integration_oauth_states")
	assert.Equal(t, "dark", metadata["theme"])

	// Re-running finds nothing left to migrate.
	migrated, err = svc.MigrateUserIntegrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, migrated)
}

func TestMigrateUserIntegrations_NeverOverwritesCredentials(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	u, err := svc.GetOrCreateUser(ctx, &auth.Claims{Subject: "user-123", Email: "a@example.com"})
	require.NoError(t, err)

	// Encrypted document already holds migrated credentials.
	require.NoError(t, svc.UpdateIntegrations(ctx, u.ID, &UserIntegrations{
		Credentials: []Credential{{ID: "current", Provider: "github", Type: "api_key", APIKey: "fresh"}},
	}))

	// Metadata still carries a stale copy, as after a crash between the two
	// migration writes.
	require.NoError(t, svc.UpdateMetadata(ctx, u.ID, map[string]any{
		"integration_credentials": []any{
			map[string]any{"id": "stale", "provider": "github", "type": "api_key", "api_key": "old"},
		},
		"integration_oauth_states": []any{
			map[string]any{"token": "state-2", "provider": "github", "expires_at": float64(1700000000)},
		},
	}))

	migrated, err := svc.MigrateUserIntegrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, migrated)

	integrations, err := svc.GetIntegrations(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, integrations.Credentials, 1)
	assert.Equal(t, "fresh", integrations.Credentials[0].APIKey, "existing credentials win")
	require.Len(t, integrations.OAuthStates, 1)
	assert.Equal(t, "state-2", integrations.OAuthStates[0].Token, "oauth states take the metadata value")
}

func TestMigrateUserIntegrations_SelectsOnCredentialsKeyOnly(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	u, err := svc.GetOrCreateUser(ctx, &auth.Claims{Subject: "user-123", Email: "a@example.com"})
	require.NoError(t, err)

	// Only legacy oauth states, no credentials key: not a migration candidate.
	require.NoError(t, svc.UpdateMetadata(ctx, u.ID, map[string]any{
		"integration_oauth_states": []any{
			map[string]any{"token": "state-3", "provider": "github", "expires_at": float64(1700000000)},
		},
	}))

	migrated, err := svc.MigrateUserIntegrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, migrated)

	metadata, err := svc.GetMetadata(ctx, u.ID)
	require.NoError(t, err)
	assert.Contains(t, metadata, "integration_oauth_states")
}

func TestNotificationPreference_Defaults(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()

	u, err := svc.GetOrCreateUser(ctx, &auth.Claims{Subject: "user-123", Email: "a@example.com"})
	require.NoError(t, err)

	// Simulate a user with no settings row.
	delete(fake.settings, u.ID)

	pref, err := svc.NotificationPreference(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, pref.DailyLimit)
	assert.Equal(t, 0, pref.EmailsSentToday)
	assert.Len(t, pref.Preferences, len(store.AllNotificationKinds))
	for kind, enabled := range pref.Preferences {
		assert.True(t, enabled, "kind %s should default to true", kind)
	}
}

func TestNotificationPreference_FromRow(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()

	u, err := svc.GetOrCreateUser(ctx, &auth.Claims{Subject: "user-123", Email: "a@example.com"})
	require.NoError(t, err)

	fake.settings[u.ID].NotifyOnWeeklySummary = false
	fake.settings[u.ID].MaxEmailsPerDay = 10

	pref, err := svc.NotificationPreference(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", pref.Email)
	assert.False(t, pref.Preferences[store.NotificationWeeklySummary])
	assert.True(t, pref.Preferences[store.NotificationAgentRun])
	assert.Equal(t, 10, pref.DailyLimit)
}

func TestActiveUserIDs(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	fake.execs = []store.GraphExecution{
		{UserID: "recent", CreatedAt: now.Add(-24 * time.Hour)},
		{UserID: "recent", CreatedAt: now.Add(-48 * time.Hour)},
		{UserID: "stale", CreatedAt: now.AddDate(0, 0, -45)},
	}

	ids, err := svc.ActiveUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"recent"}, ids)

	ids, err = svc.ActiveUserIDsInRange(ctx, now.AddDate(0, 0, -60), now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"recent", "stale"}, ids)
}
