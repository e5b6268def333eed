package gocrdt

import "fmt"

// StructStore is the sole owner of every Struct ever created or received:
// a mapping from client to that client's contiguous, gap-free array of
// structs, ordered by clock starting at 0. Shared types (Branch, Item)
// hold non-owning back-references into it.
type StructStore struct {
	clients map[uint64][]Struct
}

// NewStructStore returns an empty store.
func NewStructStore() *StructStore {
	return &StructStore{clients: make(map[uint64][]Struct)}
}

// addStruct appends s to the end of its client's array. It is a
// programmer error to call this out of clock order: s must begin exactly
// where the client's array currently ends.
func (s *StructStore) addStruct(st Struct) error {
	arr := s.clients[st.ID().Client]
	if len(arr) > 0 {
		last := arr[len(arr)-1]
		if last.ID().Clock+last.Len() != st.ID().Clock {
			return fmt.Errorf("gocrdt: addStruct: client %d gap or overlap: last ends at %d, new starts at %d",
				st.ID().Client, last.ID().Clock+last.Len(), st.ID().Clock)
		}
	} else if st.ID().Clock != 0 {
		return fmt.Errorf("gocrdt: addStruct: client %d must start at clock 0, got %d", st.ID().Client, st.ID().Clock)
	}
	s.clients[st.ID().Client] = append(arr, st)
	return nil
}

// find performs a binary search for the struct whose half-open clock
// interval contains clock, within the given client's array. It is a
// programmer error to ask for a clock outside the client's known state.
func (s *StructStore) find(client uint64, clock uint64) (Struct, int, error) {
	arr := s.clients[client]
	if len(arr) == 0 {
		return nil, -1, fmt.Errorf("%w: client %d", ErrUnknownClient, client)
	}

	lo, hi := 0, len(arr)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		st := arr[mid]
		midClock := st.ID().Clock
		if st.ID().Within(st.Len(), clock) {
			return st, mid, nil
		}
		if midClock < clock {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return nil, -1, fmt.Errorf("gocrdt: find: clock %d out of known range for client %d", clock, client)
}

// getItemCleanStart returns the struct beginning exactly at id.Clock,
// splitting the struct that currently spans it if necessary.
func (s *StructStore) getItemCleanStart(id ID) (Struct, error) {
	st, i, err := s.find(id.Client, id.Clock)
	if err != nil {
		return nil, err
	}
	diff := id.Clock - st.ID().Clock
	if diff == 0 {
		return st, nil
	}
	right := splitStruct(st, diff)
	arr := s.clients[id.Client]
	arr = append(arr, nil)
	copy(arr[i+2:], arr[i+1:])
	arr[i+1] = right
	s.clients[id.Client] = arr
	return right, nil
}

// getItemCleanEnd returns the struct ending exactly at id.Clock+1,
// splitting if necessary.
func (s *StructStore) getItemCleanEnd(id ID) (Struct, error) {
	st, i, err := s.find(id.Client, id.Clock)
	if err != nil {
		return nil, err
	}
	diff := id.Clock - st.ID().Clock + 1
	if diff == st.Len() {
		return st, nil
	}
	right := splitStruct(st, diff)
	arr := s.clients[id.Client]
	arr = append(arr, nil)
	copy(arr[i+2:], arr[i+1:])
	arr[i+1] = right
	s.clients[id.Client] = arr
	return st, nil
}

// replaceStruct swaps old for replacement at old's position, preserving
// the contiguity invariant (replacement must carry the same ID and
// length). Used by Item.gc to collapse a Tombstone into a GCStruct.
func (s *StructStore) replaceStruct(old, replacement Struct) error {
	arr := s.clients[old.ID().Client]
	_, i, err := s.find(old.ID().Client, old.ID().Clock)
	if err != nil {
		return err
	}
	if arr[i] != old {
		return fmt.Errorf("gocrdt: replaceStruct: struct at %s is not the expected instance", old.ID())
	}
	if replacement.ID() != old.ID() || replacement.Len() != old.Len() {
		return fmt.Errorf("gocrdt: replaceStruct: replacement must preserve id/length")
	}
	arr[i] = replacement
	return nil
}

// getState returns the next expected clock for client: the position one
// past the end of its array, or 0 if the client has never appeared.
func (s *StructStore) getState(client uint64) uint64 {
	arr := s.clients[client]
	if len(arr) == 0 {
		return 0
	}
	last := arr[len(arr)-1]
	return last.ID().Clock + last.Len()
}

// getStateVector snapshots the next-expected-clock for every client the
// store has ever seen.
func (s *StructStore) getStateVector() map[uint64]uint64 {
	sv := make(map[uint64]uint64, len(s.clients))
	for client, arr := range s.clients {
		if len(arr) == 0 {
			continue
		}
		last := arr[len(arr)-1]
		sv[client] = last.ID().Clock + last.Len()
	}
	return sv
}

// clientIDs returns the set of clients with at least one struct, in no
// particular order — callers that need determinism (codec) sort it.
func (s *StructStore) clientIDs() []uint64 {
	ids := make([]uint64, 0, len(s.clients))
	for c := range s.clients {
		ids = append(ids, c)
	}
	return ids
}

// integrityCheck verifies per-client contiguity (spec invariant 1) and
// that every array starts at clock 0. It is meant for tests and
// diagnostics, not the hot path.
func (s *StructStore) integrityCheck() error {
	for client, arr := range s.clients {
		if len(arr) == 0 {
			continue
		}
		if arr[0].ID().Clock != 0 {
			return fmt.Errorf("gocrdt: integrityCheck: client %d array does not start at clock 0", client)
		}
		for i := 0; i+1 < len(arr); i++ {
			cur, next := arr[i], arr[i+1]
			if cur.ID().Clock+cur.Len() != next.ID().Clock {
				return fmt.Errorf("gocrdt: integrityCheck: client %d gap/overlap between index %d and %d", client, i, i+1)
			}
		}
	}
	return nil
}
