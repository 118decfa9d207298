// Package idgen mints version 1 (time-based) UUIDs for stored readings.
//
// Each id packs a 60-bit count of 100ns ticks since 1582-10-15, a 14-bit
// clock sequence and a 6-byte node tag. The node tag must be unique per
// concurrently running writer: two writers sharing a tag can mint the same
// id. Duplicate tags are a deployment error, see package nodetag.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// gregorianOffset is the number of 100ns ticks between the UUID epoch
// (1582-10-15) and the Unix epoch.
const gregorianOffset = 0x01B21DD213814000

// Generator issues strictly time-increasing UUIDs for one node tag.
// It is safe for concurrent use.
type Generator struct {
	node     [6]byte
	clockSeq uint16
	now      func() time.Time

	mu        sync.Mutex
	lastTicks uint64
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithClockSequence pins the clock sequence instead of drawing it at random.
func WithClockSequence(seq uint16) Option {
	return func(g *Generator) { g.clockSeq = seq & 0x3fff }
}

// New returns a Generator stamping ids with node.
func New(node [6]byte, opts ...Option) (*Generator, error) {
	var seed [2]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("seeding clock sequence: %w", err)
	}
	g := &Generator{
		node:     node,
		clockSeq: binary.BigEndian.Uint16(seed[:]) & 0x3fff,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Node returns the node tag stamped into every id.
func (g *Generator) Node() [6]byte { return g.node }

// Generate returns the next id. It never fails and never blocks on the
// clock: when the wall clock has not advanced past the last issued tick
// (same tick, or a step backwards) the generator issues last+1, so ids
// keep increasing and run slightly ahead until the clock catches up.
func (g *Generator) Generate() uuid.UUID {
	ticks := uint64(g.now().UnixNano()/100) + gregorianOffset

	g.mu.Lock()
	if ticks <= g.lastTicks {
		ticks = g.lastTicks + 1
	}
	g.lastTicks = ticks
	g.mu.Unlock()

	return build(ticks, g.clockSeq, g.node)
}

func build(ticks uint64, seq uint16, node [6]byte) uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint32(id[0:4], uint32(ticks))
	binary.BigEndian.PutUint16(id[4:6], uint16(ticks>>32))
	binary.BigEndian.PutUint16(id[6:8], uint16(ticks>>48)&0x0fff|0x1000)
	binary.BigEndian.PutUint16(id[8:10], seq&0x3fff|0x8000)
	copy(id[10:], node[:])
	return id
}

// Ticks returns the 60-bit timestamp of a version 1 id.
func Ticks(id uuid.UUID) uint64 {
	return uint64(binary.BigEndian.Uint32(id[0:4])) |
		uint64(binary.BigEndian.Uint16(id[4:6]))<<32 |
		uint64(binary.BigEndian.Uint16(id[6:8])&0x0fff)<<48
}

// Compare orders version 1 ids the way the store orders timeuuid columns:
// by timestamp first, then by the raw bytes.
func Compare(a, b uuid.UUID) int {
	ta, tb := Ticks(a), Ticks(b)
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	}
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
