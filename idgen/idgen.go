// Package idgen provides pluggable ID generation.
//
// Constructors across the module accept a Generator, making the ID strategy
// a startup-time decision rather than a compile-time one. Smart-link UIDs are
// NOT produced here; they are content hashes owned by the anchor package.
package idgen

import (
	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique; the default for registry row IDs.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Useful for type-scoped identifiers (e.g. "sl_", "rev_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// New is the default Generator.
var New Generator = UUIDv7()
