package ir

import "encoding/json"

// GlobalVersion holds lix's own metadata: schemas, version descriptors,
// commits and change sets.
const GlobalVersion = "global"

// Built-in schema keys.
const (
	SchemaVersionDescriptor = "lix_version_descriptor"
	SchemaVersionTip        = "lix_version_tip"
	SchemaCommit            = "lix_commit"
	SchemaChangeSet         = "lix_change_set"
	SchemaChangeSetElement  = "lix_change_set_element"
	SchemaStoredSchema      = "lix_stored_schema"
	SchemaFileDescriptor    = "lix_file_descriptor"
	SchemaKeyValue          = "lix_key_value"
	SchemaAccount           = "lix_account"
	SchemaChangeAuthor      = "lix_change_author"
	SchemaActiveAccount     = "lix_active_account"
)

// LixOwnFile is the file_id of entities that belong to no user file.
const LixOwnFile = "lix"

// LixPlugin is the plugin_key of built-in entities.
const LixPlugin = "lix_own_entity"

// Change is an immutable record of one entity mutation.
// A nil or JSON null Snapshot is a tombstone.
type Change struct {
	ID            string          `json:"id"`
	EntityID      string          `json:"entity_id"`
	SchemaKey     string          `json:"schema_key"`
	SchemaVersion string          `json:"schema_version"`
	FileID        string          `json:"file_id"`
	PluginKey     string          `json:"plugin_key"`
	Snapshot      json.RawMessage `json:"snapshot_content"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// IsTombstone reports whether the change deletes its entity.
func (c Change) IsTombstone() bool {
	return IsNullSnapshot(c.Snapshot)
}

// IsNullSnapshot reports whether a snapshot document is absent. Decoding a
// JSON null into json.RawMessage yields the literal bytes "null".
func IsNullSnapshot(snapshot json.RawMessage) bool {
	return len(snapshot) == 0 || string(snapshot) == "null"
}

// Identity keys one entity within one version.
type Identity struct {
	EntityID  string `json:"entity_id"`
	SchemaKey string `json:"schema_key"`
	FileID    string `json:"file_id"`
	VersionID string `json:"version_id"`
}

// Commit is a node of the commit graph.
type Commit struct {
	ID              string   `json:"id"`
	ChangeSetID     string   `json:"change_set_id"`
	ParentCommitIDs []string `json:"parent_commit_ids"`
}

// VersionDescriptor is the lix_version_descriptor snapshot.
type VersionDescriptor struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	InheritsFromVersionID *string `json:"inherits_from_version_id"`
	Hidden                bool    `json:"hidden,omitempty"`
}

// VersionTip is the lix_version_tip snapshot.
type VersionTip struct {
	ID              string `json:"id"`
	CommitID        string `json:"commit_id"`
	WorkingCommitID string `json:"working_commit_id"`
}

// Version merges a descriptor with its tip.
type Version struct {
	VersionDescriptor
	CommitID        string `json:"commit_id"`
	WorkingCommitID string `json:"working_commit_id"`
}

// ChangeSetElement is the lix_change_set_element snapshot.
type ChangeSetElement struct {
	ChangeSetID string `json:"change_set_id"`
	ChangeID    string `json:"change_id"`
	EntityID    string `json:"entity_id"`
	SchemaKey   string `json:"schema_key"`
	FileID      string `json:"file_id"`
}

// StoredEntityID returns the entity id under which the element is stored.
func (e ChangeSetElement) StoredEntityID() string {
	return e.ChangeSetID + "~" + e.ChangeID
}

// TransactionRow is one row of the per-session transaction buffer.
type TransactionRow struct {
	ID            string          `json:"id"`
	EntityID      string          `json:"entity_id"`
	SchemaKey     string          `json:"schema_key"`
	SchemaVersion string          `json:"schema_version"`
	FileID        string          `json:"file_id"`
	PluginKey     string          `json:"plugin_key"`
	VersionID     string          `json:"version_id"`
	Snapshot      json.RawMessage `json:"snapshot_content"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     string          `json:"created_at"`
	Untracked     bool            `json:"untracked"`
	WriterKey     *string         `json:"writer_key"`
}

// Identity returns the row's entity identity.
func (r TransactionRow) Identity() Identity {
	return Identity{EntityID: r.EntityID, SchemaKey: r.SchemaKey, FileID: r.FileID, VersionID: r.VersionID}
}

// UntrackedRow is persisted state without history.
type UntrackedRow struct {
	EntityID      string          `json:"entity_id"`
	SchemaKey     string          `json:"schema_key"`
	SchemaVersion string          `json:"schema_version"`
	FileID        string          `json:"file_id"`
	PluginKey     string          `json:"plugin_key"`
	VersionID     string          `json:"version_id"`
	Snapshot      json.RawMessage `json:"snapshot_content"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

// CacheRow is one materialized "latest value" row of a schema cache table.
type CacheRow struct {
	EntityID               string          `json:"entity_id"`
	SchemaKey              string          `json:"schema_key"`
	SchemaVersion          string          `json:"schema_version"`
	FileID                 string          `json:"file_id"`
	PluginKey              string          `json:"plugin_key"`
	VersionID              string          `json:"version_id"`
	Snapshot               json.RawMessage `json:"snapshot_content"`
	ChangeID               string          `json:"change_id"`
	CommitID               string          `json:"commit_id"`
	InheritedFromVersionID *string         `json:"inherited_from_version_id"`
	IsTombstone            bool            `json:"is_tombstone"`
	CreatedAt              string          `json:"created_at"`
	UpdatedAt              string          `json:"updated_at"`
}

// CommittedChange is one entry of a state_commit notification.
type CommittedChange struct {
	ID            string          `json:"id"`
	EntityID      string          `json:"entity_id"`
	SchemaKey     string          `json:"schema_key"`
	SchemaVersion string          `json:"schema_version"`
	FileID        string          `json:"file_id"`
	PluginKey     string          `json:"plugin_key"`
	CreatedAt     string          `json:"created_at"`
	Snapshot      json.RawMessage `json:"snapshot_content"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	VersionID     string          `json:"version_id"`
	CommitID      string          `json:"commit_id,omitempty"`
	Untracked     bool            `json:"untracked"`
	WriterKey     *string         `json:"writer_key"`
}
