// Package ids generates the identifiers used as primary keys for users,
// roles, refresh tokens and audit records.
package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable unique identifier. Safe for
// concurrent use; ids generated in the same millisecond stay ordered.
func New() string {
	return ulid.Make().String()
}
