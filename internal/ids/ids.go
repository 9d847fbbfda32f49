package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewWithPrefix returns a prefixed identifier ("CASE-01J...", "TKT-01J...").
// The prefix keeps operator-facing identifiers distinguishable across entity
// types; the ULID part stays sortable by creation time.
func NewWithPrefix(prefix string) string {
	prefix = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(prefix)), "-")
	if prefix == "" {
		return New()
	}
	return prefix + "-" + New()
}
