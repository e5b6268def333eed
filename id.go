package gocrdt

import "fmt"

// ID uniquely names a single unit of replicated content: the unit produced
// by client at the given logical clock. Two IDs are never reused — once a
// client has produced clock N, no other struct will ever claim (client, N)
// again.
//
// IDs are totally ordered lexicographically (client, then clock) only for
// tie-breaking concurrent operations. Causally they form a partial order:
// an Item only "happens after" the structs it names as Origin/RightOrigin.
type ID struct {
	Client uint64
	Clock  uint64
}

// NewID builds an ID from a client and clock value.
func NewID(client, clock uint64) ID {
	return ID{Client: client, Clock: clock}
}

// Equal reports whether two IDs name the same unit.
func (id ID) Equal(other ID) bool {
	return id.Client == other.Client && id.Clock == other.Clock
}

// Less gives the tie-break order used when two concurrent Items must be
// placed relative to each other and their origins are otherwise equal:
// the smaller client wins the leftward (earlier) position.
func (id ID) Less(other ID) bool {
	if id.Client != other.Client {
		return id.Client < other.Client
	}
	return id.Clock < other.Clock
}

// String renders an ID as "(client,clock)" for logs and debug dumps.
func (id ID) String() string {
	return fmt.Sprintf("(%d,%d)", id.Client, id.Clock)
}

// Within reports whether clock falls in the half-open interval
// [id.Clock, id.Clock+length) that id anchors.
func (id ID) Within(length, clock uint64) bool {
	return id.Clock <= clock && clock < id.Clock+length
}
