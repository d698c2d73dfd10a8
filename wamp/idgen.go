package wamp

const maxID int64 = 1 << 53

// IDGen generates request IDs for one session.
//
// WAMP request IDs are sequential per WAMP session, starting at 1 and wrapping
// around at 2**53 (both value are inclusive [1, 2**53]).
//
// The reason to choose the specific upper bound is that 2^53 is the largest
// integer such that this integer and all (positive) smaller integers can be
// represented exactly in IEEE-754 doubles. Some languages (e.g. JavaScript)
// use doubles as their sole number type.
//
// An IDGen is not safe for concurrent use; the session that owns it only
// touches it from its own goroutine.
type IDGen struct {
	next int64
}

// Next returns the next ID, skipping any ID for which inUse returns true.
// Passing a nil inUse accepts every ID.
func (g *IDGen) Next(inUse func(ID) bool) ID {
	for {
		g.next++
		if g.next > maxID {
			g.next = 1
		}
		id := ID(g.next)
		if inUse == nil || !inUse(id) {
			return id
		}
	}
}
