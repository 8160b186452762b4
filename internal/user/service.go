// ABOUTME: User record manager: claims-driven account lifecycle and metadata
// ABOUTME: Wraps the store with integration encryption and the legacy migration batch

package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atelier-run/atelier/internal/auth"
	"github.com/atelier-run/atelier/internal/secrets"
	"github.com/atelier-run/atelier/internal/store"
)

// ErrMissingClaims is returned when the identity claims lack a subject id or
// email, so no account can be resolved or created.
var ErrMissingClaims = errors.New("missing identity claims")

const (
	defaultUserEmail = "default@example.com"
	defaultUserName  = "Default User"

	// metadata keys holding pre-migration integration data
	legacyCredentialsKey = "integration_credentials"
	legacyOAuthStatesKey = "integration_oauth_states"
)

// Service owns user account logic above the store: resolving identity claims
// to accounts, encrypting the integrations document, projecting notification
// preferences, and the one-time legacy integrations migration.
type Service struct {
	store   store.UserStore
	cryptor *secrets.Cryptor
	logger  *slog.Logger
}

// NewService creates a user service backed by the given store and cryptor.
func NewService(st store.UserStore, cryptor *secrets.Cryptor) *Service {
	return &Service{
		store:   st,
		cryptor: cryptor,
		logger:  slog.Default().With("component", "user"),
	}
}

// GetOrCreateUser resolves verified claims to an account, creating it on
// first sight. The subject id becomes the user id. Existing accounts that
// predate notification settings get their settings row created here, so the
// one-row-per-user invariant holds for legacy data too.
func (s *Service) GetOrCreateUser(ctx context.Context, claims *auth.Claims) (*store.User, error) {
	if claims == nil || claims.Subject == "" || claims.Email == "" {
		return nil, ErrMissingClaims
	}

	u, err := s.store.GetUser(ctx, claims.Subject)
	if err == nil {
		if err := s.store.EnsureNotificationSettings(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("ensuring notification settings for user %s: %w", u.ID, err)
		}
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up user %s: %w", claims.Subject, err)
	}

	u = &store.User{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("creating user %s: %w", claims.Subject, err)
	}

	s.logger.Info("created user", "user_id", u.ID, "email", u.Email)
	return u, nil
}

// CreateDefaultUser idempotently creates the fixed single-tenant account and
// returns it.
func (s *Service) CreateDefaultUser(ctx context.Context) (*store.User, error) {
	u, err := s.store.GetUser(ctx, store.DefaultUserID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up default user: %w", err)
	}

	u = &store.User{
		ID:    store.DefaultUserID,
		Email: defaultUserEmail,
		Name:  defaultUserName,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("creating default user: %w", err)
	}

	s.logger.Info("created default user", "user_id", u.ID)
	return u, nil
}

// GetMetadata returns the user's free-form metadata document.
func (s *Service) GetMetadata(ctx context.Context, userID string) (map[string]any, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", userID, err)
	}
	return u.Metadata, nil
}

// UpdateMetadata replaces the metadata document wholesale. There is no merge.
func (s *Service) UpdateMetadata(ctx context.Context, userID string, metadata map[string]any) error {
	if err := s.store.UpdateUserMetadata(ctx, userID, metadata); err != nil {
		return fmt.Errorf("updating metadata for user %s: %w", userID, err)
	}
	return nil
}

// GetIntegrations decrypts and returns the user's integrations document. A
// user who has never stored one gets an empty document, not an error.
func (s *Service) GetIntegrations(ctx context.Context, userID string) (*UserIntegrations, error) {
	blob, err := s.store.GetUserIntegrationsBlob(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting integrations blob for user %s: %w", userID, err)
	}
	if blob == "" {
		return &UserIntegrations{}, nil
	}

	var integrations UserIntegrations
	if err := s.cryptor.DecryptJSON(blob, &integrations); err != nil {
		return nil, fmt.Errorf("decrypting integrations for user %s: %w", userID, err)
	}
	return &integrations, nil
}

// UpdateIntegrations encrypts and stores the user's integrations document.
func (s *Service) UpdateIntegrations(ctx context.Context, userID string, integrations *UserIntegrations) error {
	blob, err := s.cryptor.EncryptJSON(integrations)
	if err != nil {
		return fmt.Errorf("encrypting integrations for user %s: %w", userID, err)
	}
	if err := s.store.SetUserIntegrationsBlob(ctx, userID, blob); err != nil {
		return fmt.Errorf("storing integrations blob for user %s: %w", userID, err)
	}
	return nil
}

// MigrateUserIntegrations moves legacy integration data out of user metadata
// into the encrypted integrations store, then strips the legacy keys. Per
// user: credentials move only when the encrypted document has none yet, so an
// earlier run's result is never overwritten by a stale metadata copy; oauth
// states always take the metadata value. The two writes (integrations, then
// metadata) are not atomic. A crash between them leaves the data in both
// places, which the next run resolves the same way, so the batch is
// at-least-once and safe to re-run. Returns the number of users migrated.
func (s *Service) MigrateUserIntegrations(ctx context.Context) (int, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users for migration: %w", err)
	}

	migrated := 0
	for _, u := range users {
		// Selection keys off the credentials key alone. A user holding only
		// legacy oauth states is left for the run that sees credentials.
		if _, ok := u.Metadata[legacyCredentialsKey]; !ok {
			continue
		}

		if err := s.migrateOneUser(ctx, u); err != nil {
			return migrated, fmt.Errorf("migrating integrations for user %s: %w", u.ID, err)
		}
		migrated++
	}

	s.logger.Info("integration migration complete", "users_migrated", migrated)
	return migrated, nil
}

func (s *Service) migrateOneUser(ctx context.Context, u *store.User) error {
	integrations, err := s.GetIntegrations(ctx, u.ID)
	if err != nil {
		return err
	}

	var credentials []Credential
	if raw, ok := u.Metadata[legacyCredentialsKey]; ok {
		if err := reencode(raw, &credentials); err != nil {
			return fmt.Errorf("decoding legacy credentials: %w", err)
		}
	}
	var oauthStates []OAuthState
	if raw, ok := u.Metadata[legacyOAuthStatesKey]; ok {
		if err := reencode(raw, &oauthStates); err != nil {
			return fmt.Errorf("decoding legacy oauth states: %w", err)
		}
	}

	// First write wins for credentials; metadata never clobbers an already
	// populated encrypted document.
	if len(credentials) > 0 && len(integrations.Credentials) == 0 {
		integrations.Credentials = credentials
	}
	integrations.OAuthStates = oauthStates

	if err := s.UpdateIntegrations(ctx, u.ID, integrations); err != nil {
		return err
	}

	stripped := make(map[string]any, len(u.Metadata))
	for k, v := range u.Metadata {
		if k == legacyCredentialsKey || k == legacyOAuthStatesKey {
			continue
		}
		stripped[k] = v
	}
	if err := s.store.UpdateUserMetadata(ctx, u.ID, stripped); err != nil {
		return fmt.Errorf("stripping legacy keys: %w", err)
	}

	s.logger.Debug("migrated user integrations",
		"user_id", u.ID,
		"credentials", len(credentials),
		"oauth_states", len(oauthStates))
	return nil
}

// reencode converts a decoded JSON value into a typed structure by
// round-tripping through json. Metadata documents come back from the store as
// generic maps and slices.
func reencode(raw, out any) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}

// NotificationPreference projects the stored settings row into a dense
// per-kind boolean map. Users without a row get all-true defaults with a
// daily cap of 3. EmailsSentToday is not persisted on this path and always
// reads zero.
func (s *Service) NotificationPreference(ctx context.Context, userID string) (*store.NotificationPreference, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", userID, err)
	}

	pref := &store.NotificationPreference{
		UserID:          userID,
		Email:           u.Email,
		Preferences:     make(map[store.NotificationKind]bool, len(store.AllNotificationKinds)),
		DailyLimit:      3,
		EmailsSentToday: 0,
	}

	settings, err := s.store.GetNotificationSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		for _, kind := range store.AllNotificationKinds {
			pref.Preferences[kind] = true
		}
		return pref, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification settings for user %s: %w", userID, err)
	}

	pref.Preferences[store.NotificationAgentRun] = settings.NotifyOnAgentRun
	pref.Preferences[store.NotificationZeroBalance] = settings.NotifyOnZeroBalance
	pref.Preferences[store.NotificationLowBalance] = settings.NotifyOnLowBalance
	pref.Preferences[store.NotificationBlockExecutionFailed] = settings.NotifyOnBlockExecutionFailed
	pref.Preferences[store.NotificationContinuousAgentError] = settings.NotifyOnContinuousAgentError
	pref.Preferences[store.NotificationDailySummary] = settings.NotifyOnDailySummary
	pref.Preferences[store.NotificationWeeklySummary] = settings.NotifyOnWeeklySummary
	pref.Preferences[store.NotificationMonthlySummary] = settings.NotifyOnMonthlySummary
	pref.DailyLimit = settings.MaxEmailsPerDay
	return pref, nil
}

// ActiveUserIDsInRange returns distinct ids of users with at least one
// execution inside [start, end].
func (s *Service) ActiveUserIDsInRange(ctx context.Context, start, end time.Time) ([]string, error) {
	ids, err := s.store.ActiveUserIDsInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying active users: %w", err)
	}
	return ids, nil
}

// ActiveUserIDs is the fixed 30-day window special case.
func (s *Service) ActiveUserIDs(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	return s.ActiveUserIDsInRange(ctx, now.AddDate(0, 0, -30), now)
}
