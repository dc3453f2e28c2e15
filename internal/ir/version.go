package ir

// Version constants for the state protocol and engine.
const (
	// ProtocolVersion identifies the encoded update format.
	ProtocolVersion = "1"

	// EngineVersion is the treesync engine version.
	EngineVersion = "0.1.0"
)

// Reserved store keys. Neither may be used as a top-level state key.
const (
	// UpdateKey holds the encoded StateUpdate of the most recent local mutation.
	UpdateKey = "__state_update"

	// VersionKey holds the VersionTag written by the leader on first run.
	VersionKey = "__state_version"
)

// IsReservedKey reports whether key collides with a reserved store key.
func IsReservedKey(key string) bool {
	return key == UpdateKey || key == VersionKey
}
