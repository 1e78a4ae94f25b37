// Package idgenerator allocates RCON packet identifiers and optionally keeps
// track of the identifiers a session has handed out.
package idgenerator

import (
	"math"
	"sync/atomic"
)

// IdGenerator generates monotonically increasing int32 packet IDs. The
// starting value is set at construction and the first Id() returns
// startValue+1, so a generator built with NewIdGenerator(0) yields 1, 2, 3...
//
// IDs stay in the positive int32 range. After math.MaxInt32 the generator
// wraps back to 1; zero and negative values are never returned because -1 is
// the server's "authentication failed" marker.
type IdGenerator struct {
	id atomic.Int32
}

// NewIdGenerator creates an IdGenerator that will generate IDs starting from
// startValue+1. Negative start values are clamped to zero.
//
// Parameters:
//   - startValue: The value to initialize the counter to; the first Id() will
//     return startValue+1
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue int32) *IdGenerator {
	if startValue < 0 {
		startValue = 0
	}

	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the current value of the counter plus one and advances it.
// It is safe for concurrent use by multiple goroutines.
//
// Returns:
//   - The next packet ID, always in [1, math.MaxInt32]
func (l *IdGenerator) Id() int32 {
	for {
		cur := l.id.Load()
		next := cur + 1
		if cur == math.MaxInt32 {
			next = 1
		}

		if l.id.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Peek returns the ID the next call to Id will produce without consuming it.
func (l *IdGenerator) Peek() int32 {
	cur := l.id.Load()
	if cur == math.MaxInt32 {
		return 1
	}

	return cur + 1
}
