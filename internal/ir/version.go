package ir

// Version constants for the persisted data model and engine.
const (
	// FormatVersion is the version of the persisted record format. Stores
	// written with a different version are rejected on load.
	FormatVersion = "1"

	// EngineVersion is the incr engine version.
	EngineVersion = "0.1.0"
)
