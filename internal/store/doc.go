// Package store provides persistent storage for the atelier backend using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with one interface
// per concern:
//
//   - UserStore: Accounts, metadata, the encrypted integrations blob, and
//     notification settings
//   - GraphStore: Versioned agent graphs, store listings, execution records
//   - LibraryStore: A user's library of pinned or floating agent references
//   - PresetStore: Saved input presets for agent graph versions
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # Data Models
//
//   - User: Account with free-form metadata and an opaque encrypted
//     integrations blob. Every user has exactly one NotificationSettings row.
//   - AgentGraph: One immutable version of an agent definition; versions of
//     the same agent share an id and differ by version number.
//   - LibraryAgent: A user's saved reference to a graph, pinned to a version
//     or floating on the graph's active version.
//   - AgentPreset / PresetInput: A named, append-only set of input values
//     for one graph version.
//   - StoreListingVersion: Resolves a marketplace listing to its graph.
//   - GraphExecution: Activity records backing active-user queries.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrAgentNotFound: Referenced agent graph or listing does not exist
//   - ErrEmailExists: Email already registered
//
// Deletion semantics differ per operation and are part of the contract:
// library flag updates and preset deletes are soft (boolean flags), while
// DeleteLibraryAgentsByGraph removes rows outright.
//
// All methods accept context.Context for cancellation support.
package store
