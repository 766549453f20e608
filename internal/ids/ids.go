package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier. ULIDs keep
// append-heavy tables (sessions, security events) in insertion order.
func New() string {
	return ulid.Make().String()
}
