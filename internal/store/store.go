// ABOUTME: Store interfaces and data types for atelier persistence
// ABOUTME: Defines User, AgentGraph, LibraryAgent, AgentPreset and the per-concern store interfaces

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAgentNotFound is returned when a referenced agent graph or store
// listing does not exist, or when a version repoint has no single
// auto-update row to act on.
var ErrAgentNotFound = errors.New("agent not found")

// ErrEmailExists is returned when creating a user with an email that is
// already registered.
var ErrEmailExists = errors.New("email already registered")

// DefaultUserID is the fixed id used by single-tenant and dev deployments.
const DefaultUserID = "3e53486c-cf57-477e-ba2a-cb02dc828e1a"

// User is a platform account. Metadata is a free-form document owned by the
// frontend; Integrations is an opaque encrypted blob managed by the user
// service and never interpreted by the store.
type User struct {
	ID           string
	Email        string
	Name         string
	Metadata     map[string]any
	Integrations string // encrypted blob, empty if never written
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NotificationKind identifies one category of outbound notification.
type NotificationKind string

const (
	NotificationAgentRun             NotificationKind = "AGENT_RUN"
	NotificationZeroBalance          NotificationKind = "ZERO_BALANCE"
	NotificationLowBalance           NotificationKind = "LOW_BALANCE"
	NotificationBlockExecutionFailed NotificationKind = "BLOCK_EXECUTION_FAILED"
	NotificationContinuousAgentError NotificationKind = "CONTINUOUS_AGENT_ERROR"
	NotificationDailySummary         NotificationKind = "DAILY_SUMMARY"
	NotificationWeeklySummary        NotificationKind = "WEEKLY_SUMMARY"
	NotificationMonthlySummary       NotificationKind = "MONTHLY_SUMMARY"
)

// AllNotificationKinds lists every notification category in a stable order.
var AllNotificationKinds = []NotificationKind{
	NotificationAgentRun,
	NotificationZeroBalance,
	NotificationLowBalance,
	NotificationBlockExecutionFailed,
	NotificationContinuousAgentError,
	NotificationDailySummary,
	NotificationWeeklySummary,
	NotificationMonthlySummary,
}

// NotificationSettings is the stored per-user preference row. Every user has
// exactly one; it is created together with the user, or lazily for legacy rows.
type NotificationSettings struct {
	UserID                       string
	NotifyOnAgentRun             bool
	NotifyOnZeroBalance          bool
	NotifyOnLowBalance           bool
	NotifyOnBlockExecutionFailed bool
	NotifyOnContinuousAgentError bool
	NotifyOnDailySummary         bool
	NotifyOnWeeklySummary        bool
	NotifyOnMonthlySummary       bool
	MaxEmailsPerDay              int
	CreatedAt                    time.Time
	UpdatedAt                    time.Time
}

// NotificationPreference is the dense projection handed to notification
// senders: one boolean per kind plus the daily cap.
type NotificationPreference struct {
	UserID          string
	Email           string
	Preferences     map[NotificationKind]bool
	DailyLimit      int
	EmailsSentToday int
	LastResetAt     time.Time
}

// AgentGraph is one immutable version of an agent definition. Versions of the
// same agent share an ID; (ID, Version) is the composite key.
type AgentGraph struct {
	ID          string
	Version     int
	Name        string
	Description string
	UserID      string // creator
	IsActive    bool
	CreatedAt   time.Time
}

// LibraryAgent is a user's saved reference to an agent graph, either pinned
// to a version or floating on the graph's active version.
type LibraryAgent struct {
	ID                      string
	UserID                  string
	AgentID                 string
	AgentVersion            int
	CreatorID               string
	IsCreatedByUser         bool
	UseGraphIsActiveVersion bool
	IsFavorite              bool
	IsArchived              bool
	IsDeleted               bool
	CreatedAt               time.Time
	UpdatedAt               time.Time

	// Populated from the referenced graph on reads.
	AgentName        string
	AgentDescription string
}

// LibraryAgentFlags carries the mutable flags of a LibraryAgent for bulk
// updates. All four are set together, matching the update surface of the API.
type LibraryAgentFlags struct {
	UseGraphIsActiveVersion bool
	IsFavorite              bool
	IsArchived              bool
	IsDeleted               bool
}

// AgentPreset is a saved named set of inputs for one agent graph version.
type AgentPreset struct {
	ID           string
	UserID       string
	AgentID      string
	AgentVersion int
	Name         string
	Description  string
	IsActive     bool
	IsDeleted    bool
	Inputs       []PresetInput
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PresetInput is one named input value belonging to a preset. Input rows are
// append-only: updating a preset adds rows, it never replaces prior ones.
type PresetInput struct {
	ID        string
	PresetID  string
	Name      string
	Data      any // arbitrary JSON value
	CreatedAt time.Time
}

// Pagination describes one page of an offset-paginated listing.
type Pagination struct {
	TotalItems  int `json:"total_items"`
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
	PageSize    int `json:"page_size"`
}

// PresetPage is one page of a user's presets.
type PresetPage struct {
	Presets    []*AgentPreset
	Pagination Pagination
}

// StoreListingVersion resolves a public marketplace listing to the agent
// graph version it was published from.
type StoreListingVersion struct {
	ID           string
	AgentID      string
	AgentVersion int
	CreatedAt    time.Time
}

// GraphExecution records one run of an agent graph by a user. Only the
// timestamp and ownership are needed by this layer; run payloads live
// elsewhere.
type GraphExecution struct {
	ID           string
	UserID       string
	AgentID      string
	AgentVersion int
	CreatedAt    time.Time
}

// UserStore defines user account persistence.
type UserStore interface {
	// CreateUser inserts the user together with its notification settings
	// row in one transaction.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	// UpdateUserMetadata replaces the metadata document wholesale.
	UpdateUserMetadata(ctx context.Context, id string, metadata map[string]any) error

	// Integrations blob accessors. The blob is opaque; encryption happens
	// in the user service.
	GetUserIntegrationsBlob(ctx context.Context, id string) (string, error)
	SetUserIntegrationsBlob(ctx context.Context, id, blob string) error

	// EnsureNotificationSettings creates the settings row if the user
	// predates it. No-op when the row exists.
	EnsureNotificationSettings(ctx context.Context, userID string) error
	GetNotificationSettings(ctx context.Context, userID string) (*NotificationSettings, error)

	// ActiveUserIDsInRange returns distinct ids of users with at least one
	// graph execution inside [start, end].
	ActiveUserIDsInRange(ctx context.Context, start, end time.Time) ([]string, error)
}

// GraphStore defines agent graph, store listing and execution persistence.
type GraphStore interface {
	CreateGraph(ctx context.Context, graph *AgentGraph) error
	GetGraph(ctx context.Context, id string, version int) (*AgentGraph, error)
	CreateStoreListingVersion(ctx context.Context, listing *StoreListingVersion) error
	GetStoreListingVersion(ctx context.Context, id string) (*StoreListingVersion, error)
	RecordExecution(ctx context.Context, exec *GraphExecution) error
}

// LibraryStore defines persistence for a user's agent library.
type LibraryStore interface {
	// ListLibraryAgents returns the user's non-deleted, non-archived
	// entries, newest-updated first. A non-empty search filters by
	// case-insensitive substring match on the referenced graph's name or
	// description.
	ListLibraryAgents(ctx context.Context, userID, search string) ([]*LibraryAgent, error)

	// GetLibraryAgent returns the entry only when it belongs to userID;
	// not-found and not-owned both yield ErrNotFound.
	GetLibraryAgent(ctx context.Context, id, userID string) (*LibraryAgent, error)

	CreateLibraryAgent(ctx context.Context, agent *LibraryAgent) error

	// FindLibraryAgent looks up the user's entry for an exact
	// (agentID, version) pair. Returns ErrNotFound when absent.
	FindLibraryAgent(ctx context.Context, userID, agentID string, version int) (*LibraryAgent, error)

	// UpdateLibraryAgentVersion repoints the user's single auto-update
	// entry for agentID to the given version. Fails with ErrAgentNotFound
	// unless exactly one such entry exists.
	UpdateLibraryAgentVersion(ctx context.Context, userID, agentID string, version int) error

	// UpdateLibraryAgentFlags bulk-sets the mutable flags scoped to rows
	// owned by userID. Zero rows affected is not an error.
	UpdateLibraryAgentFlags(ctx context.Context, id, userID string, flags LibraryAgentFlags) error

	// DeleteLibraryAgentsByGraph hard-deletes every entry of the user
	// referencing the graph, regardless of version.
	DeleteLibraryAgentsByGraph(ctx context.Context, graphID, userID string) error
}

// PresetStore defines persistence for saved agent input presets.
type PresetStore interface {
	ListPresets(ctx context.Context, userID string, page, pageSize int) (*PresetPage, error)

	// GetPreset returns (nil, nil) both when the preset does not exist and
	// when it belongs to another user, so callers cannot distinguish the
	// two.
	GetPreset(ctx context.Context, userID, presetID string) (*AgentPreset, error)

	CreatePreset(ctx context.Context, preset *AgentPreset) error

	// UpdatePreset sets name, description and the active flag, and appends
	// the given inputs to the preset's existing ones. Returns ErrNotFound
	// when the preset does not exist.
	UpdatePreset(ctx context.Context, presetID, name, description string, isActive bool, inputs []PresetInput) (*AgentPreset, error)

	// SoftDeletePreset marks the preset deleted when owned by userID.
	// Not-owned and nonexistent ids are silent no-ops.
	SoftDeletePreset(ctx context.Context, userID, presetID string) error
}
