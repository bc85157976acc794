package ir

// Version constants for the store layout and engine.
const (
	// StoreVersion is the physical schema version (PRAGMA user_version).
	StoreVersion = 1

	// EngineVersion is the lix engine version.
	EngineVersion = "0.1.0"
)
