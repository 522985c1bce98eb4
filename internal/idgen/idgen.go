// Package idgen generates identifiers for accounts, transfers, ledger
// entries and events.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Prefixes used across the service.
const (
	Account    = "acc_"
	Transfer   = "trf_"
	Entry      = "ent_"
	Assessment = "asm_"
	Event      = "evt_"
)

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by the 32 hex digits of a fresh UUID,
// e.g. "trf_9f1c...". The prefix makes ids self-describing in logs.
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether id is prefix plus 32 hex digits.
func Valid(prefix, id string) bool {
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	rest := id[len(prefix):]
	if len(rest) != 32 {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
