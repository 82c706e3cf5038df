package capture

const (
	// DefaultMaxSessions is the session table size used when the
	// configuration does not set one.
	DefaultMaxSessions = 1 << 16

	promNamespace        = "capture"
	promSubsystemTracker = "tracker"
	labelNameCaptureName = "capture_name"

	defaultCaptureName = "default"
)
