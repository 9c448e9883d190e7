package ir

// Version constants for the stored stream format and the engine.
const (
	// IRVersion is the token stream schema version.
	IRVersion = "1"

	// EngineVersion is the storyflow engine version.
	EngineVersion = "0.1.0"
)
