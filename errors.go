package gocrdt

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the codec and integration paths. Front-end
// callers are expected to use errors.Is against these.
var (
	// ErrMalformedUpdate is returned when decoding a wire message hits a
	// short read or an unknown content tag. Decoding completes before
	// anything is integrated, so such an update leaves the store unchanged.
	// It is also returned during integration when a struct names a parent
	// that is not a nested type; structs integrated earlier in that same
	// update stay applied.
	ErrMalformedUpdate = errors.New("gocrdt: malformed update")

	// ErrUnknownClient is returned by StructStore.find (and the lookups
	// built on it) for a client the store has never seen.
	ErrUnknownClient = errors.New("gocrdt: unknown client")

	// ErrNoActiveTransaction is returned when a mutation is attempted
	// outside of Document.Transact.
	ErrNoActiveTransaction = errors.New("gocrdt: no active transaction")
)

// assertf panics with a formatted message. It is used exclusively for
// integrity violations: programmer errors such as a split offset outside
// a struct, splitting atomic (embed/type) content, gc on an Item that is
// not deleted, or encoding a struct with an unresolved parent or unknown
// variant. These can only happen if a caller or a bug in this package
// violates an invariant the algorithm depends on for correctness, so they
// are not wrapped as recoverable errors. Struct-store contiguity breaks
// and lookups outside the known state are reported as returned errors
// by StructStore instead.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("gocrdt: integrity violation: "+format, args...))
	}
}
