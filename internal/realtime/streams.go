package realtime

// Named realtime streams.
const (
	// StreamSync carries sync coordinator status changes.
	StreamSync = "sync"
	// StreamDirectory announces refreshed or cleared directory data.
	StreamDirectory = "directory"
)

// Events published on the named streams.
const (
	EventStatus    = "status"
	EventRefreshed = "refreshed"
	EventCleared   = "cleared"
	// EventQueued goes only to the user who queued the action.
	EventQueued = "queued"
)
