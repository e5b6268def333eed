package gocrdt

import "sort"

// DeleteRange is a half-open clock interval [Clock, Clock+Len) that has
// been tombstoned for one client.
type DeleteRange struct {
	Clock uint64
	Len   uint64
}

// DeleteSet is a per-client collection of tombstoned clock ranges, built
// transiently during a transaction (and while applying a remote update)
// and merged into sorted, disjoint form before it is encoded or consulted.
type DeleteSet struct {
	clients map[uint64][]DeleteRange
}

// NewDeleteSet returns an empty delete set.
func NewDeleteSet() *DeleteSet {
	return &DeleteSet{clients: make(map[uint64][]DeleteRange)}
}

// add pushes an unsorted range. sortAndMerge must run before the ranges
// can be relied on to be disjoint.
func (d *DeleteSet) add(client, clock, length uint64) {
	if length == 0 {
		return
	}
	d.clients[client] = append(d.clients[client], DeleteRange{Clock: clock, Len: length})
}

// sortAndMerge sorts each client's ranges by clock and coalesces
// [a,b)+[b,c) into [a,c), leaving strictly increasing, non-adjacent ranges
// (spec invariant 7).
func (d *DeleteSet) sortAndMerge() {
	for client, ranges := range d.clients {
		if len(ranges) == 0 {
			continue
		}
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Clock < ranges[j].Clock })

		merged := ranges[:1]
		for _, r := range ranges[1:] {
			last := &merged[len(merged)-1]
			if last.Clock+last.Len >= r.Clock {
				if end := r.Clock + r.Len; end > last.Clock+last.Len {
					last.Len = end - last.Clock
				}
				continue
			}
			merged = append(merged, r)
		}
		d.clients[client] = merged
	}
}

// isDeleted reports whether id falls within one of client's merged ranges.
// Callers must have run sortAndMerge first: the binary search assumes
// sorted, disjoint ranges and can miss a matching range otherwise.
func (d *DeleteSet) isDeleted(id ID) bool {
	ranges := d.clients[id.Client]
	lo, hi := 0, len(ranges)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		r := ranges[mid]
		if id.Clock >= r.Clock && id.Clock < r.Clock+r.Len {
			return true
		}
		if r.Clock < id.Clock {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return false
}

// iterateDeletedStructs walks every struct touched by d's ranges, range
// by range in the order they are stored (clients in map iteration order),
// invoking f on each. Each range is walked independently, so ranges need
// not be sorted; a struct covered by two overlapping unmerged ranges is
// visited once per range.
func (d *DeleteSet) iterateDeletedStructs(store *StructStore, f func(Struct) error) error {
	for client, ranges := range d.clients {
		for _, r := range ranges {
			clock := r.Clock
			end := r.Clock + r.Len
			for clock < end {
				st, _, err := store.find(client, clock)
				if err != nil {
					return err
				}
				if err := f(st); err != nil {
					return err
				}
				clock = st.ID().Clock + st.Len()
			}
		}
	}
	return nil
}

// createDeleteSetFromStructStore scans every client's array and coalesces
// runs of already-deleted structs into a fresh DeleteSet — used to
// recompute a canonical delete set from store state alone (e.g. for
// EncodeStateAsUpdate over the full document).
func createDeleteSetFromStructStore(store *StructStore) *DeleteSet {
	ds := NewDeleteSet()
	for client, arr := range store.clients {
		var runStart uint64
		var runLen uint64
		flush := func() {
			if runLen > 0 {
				ds.clients[client] = append(ds.clients[client], DeleteRange{Clock: runStart, Len: runLen})
				runLen = 0
			}
		}
		for _, st := range arr {
			if st.IsDeleted() {
				if runLen == 0 {
					runStart = st.ID().Clock
				}
				runLen += st.Len()
			} else {
				flush()
			}
		}
		flush()
	}
	return ds
}
