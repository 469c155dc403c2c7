package store

import "github.com/google/uuid"

// newID mints an opaque primary key for entities the store itself
// creates (users, backends); callers that already hold a domain
// identifier (sessions, transfer jobs) supply their own.
func newID() string { return uuid.NewString() }
