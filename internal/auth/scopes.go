package auth

// Scopes understood by the API.
const (
	ScopeStateRead  = "state:read"
	ScopeStateWrite = "state:write"
	ScopeSyncAdmin  = "sync:admin"
	// ScopeSyncWrite allows pushing documents to a node running in cloud mode.
	ScopeSyncWrite = "sync:write"
)
