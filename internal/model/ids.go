package model

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces identifiers for records, events and clients.
// Implemented by UUIDv4Generator (production) and SequenceGenerator (tests).
type IDGenerator interface {
	NewID() string
}

// UUIDv4Generator generates random RFC 4122 version 4 identifiers.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv4Generator struct{}

// NewID returns a new hyphenated UUIDv4.
func (UUIDv4Generator) NewID() string {
	return uuid.NewString()
}

// SequenceGenerator returns predetermined identifiers, then falls back to
// prefix-numbered ones. Used to make traces deterministic.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	ids    []string
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator that yields ids in order, then
// "<prefix>-<n>" once ids are exhausted.
func NewSequenceGenerator(prefix string, ids ...string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{ids: ids, prefix: prefix}
}

// NewID returns the next identifier.
func (g *SequenceGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return g.prefix + "-" + strconv.Itoa(g.n)
}
