package gocrdt

// Struct is the common interface satisfied by every unit stored in the
// StructStore: Item (content-bearing) and GCStruct (a collapsed
// placeholder). Both occupy a contiguous, half-open clock interval
// [ID().Clock, ID().Clock+Len()) owned by a single client.
type Struct interface {
	ID() ID
	Len() uint64
	IsDeleted() bool
}

// Item is a logically inserted element: a run of content owned by one
// client, linked into its parent's sequence via Left/Right, and optionally
// keyed into the parent's map via ParentSub.
type Item struct {
	id     ID
	length uint64

	// origin/rightOrigin name the Items this Item was inserted between at
	// the moment of creation. Nil means "the start/end of the sequence".
	origin      *ID
	rightOrigin *ID

	left  *Item
	right *Item

	parent    *Branch
	parentSub *string

	content ItemContent
	deleted bool
}

func (i *Item) ID() ID         { return i.id }
func (i *Item) Len() uint64    { return i.length }
func (i *Item) IsDeleted() bool { return i.deleted }

// lastID is the ID of the final unit this Item's run occupies.
func (i *Item) lastID() ID {
	return NewID(i.id.Client, i.id.Clock+i.length-1)
}

// splitAt carves a right-hand Item off of i at clock offset diff
// (0 < diff < i.length), mirroring the teacher's RGA content slicing but
// generalized to arbitrary ItemContent. i is shortened in place and the
// new right Item is spliced into the linked list directly after it; the
// right Item is returned for the caller (StructStore) to insert into the
// client's array.
func (i *Item) splitAt(diff uint64) *Item {
	assertf(diff > 0 && diff < i.length, "splitAt: diff %d out of range for length %d", diff, i.length)

	leftContent, rightContent := i.content.split(diff)
	rightOrigin := i.lastIDAt(diff) // origin of the right half is the last unit of the (new) left half

	right := &Item{
		id:          NewID(i.id.Client, i.id.Clock+diff),
		length:      i.length - diff,
		origin:      &rightOrigin,
		rightOrigin: i.rightOrigin,
		left:        i,
		right:       i.right,
		parent:      i.parent,
		parentSub:   i.parentSub,
		content:     rightContent,
		deleted:     i.deleted,
	}
	if right.right != nil {
		right.right.left = right
	}
	i.right = right
	i.length = diff
	i.content = leftContent
	return right
}

// lastIDAt returns the ID of the last unit in the first diff units of i,
// i.e. the unit right.origin should point at after a split at diff.
func (i *Item) lastIDAt(diff uint64) ID {
	return NewID(i.id.Client, i.id.Clock+diff-1)
}

// mergeWith attempts to fold right onto the end of i. Succeeds only when
// every precondition spec §4.4 lists holds; the caller (Transaction's
// merge pass) is responsible for splicing right out of the store and
// linked list once this returns true.
func (i *Item) mergeWith(right *Item) bool {
	if i.id.Client != right.id.Client {
		return false
	}
	if i.id.Clock+i.length != right.id.Clock {
		return false
	}
	if i.deleted != right.deleted {
		return false
	}
	if i.parent != right.parent {
		return false
	}
	if !subEqual(i.parentSub, right.parentSub) {
		return false
	}
	if right.origin == nil || !right.origin.Equal(i.lastID()) {
		return false
	}
	if right.left != i {
		return false
	}

	merged, ok := i.content.mergeWith(right.content)
	if !ok {
		return false
	}

	i.content = merged
	i.length += right.length
	i.right = right.right
	if i.right != nil {
		i.right.left = i
	}
	i.rightOrigin = right.rightOrigin
	return true
}

func subEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// delete marks i as a Tombstone: content stays allocated (gc() drops it
// later) but the linked-list cell remains so concurrently-arriving
// operations can still reference this position. Bookkeeping for the
// transaction's delete set and observer dispatch happens here too.
func (i *Item) delete(tx *Transaction) {
	if i.deleted {
		return
	}
	i.deleted = true
	tx.deleteSet.add(i.id.Client, i.id.Clock, i.length)
	tx.markChanged(i.parent, i.parentSub)
	tx.addChangedParentTypes(i)
}

// gc collapses a deleted Item's content. When parentGCed is false (the
// common case: this Item's content alone is no longer needed, e.g. a map
// key was overwritten) it becomes a Tombstone with its payload dropped to
// just a length. When parentGCed is true the Item's parent subtree is
// itself unreachable and this position is replaced wholesale by a GCStruct
// in the store — no observer will ever walk past this point again.
func (i *Item) gc(store *StructStore, parentGCed bool) {
	assertf(i.deleted, "gc: item %s is not deleted", i.id)

	if parentGCed {
		gcStruct := &GCStruct{id: i.id, length: i.length}
		if err := store.replaceStruct(i, gcStruct); err != nil {
			panic(err)
		}
		return
	}

	if _, already := i.content.(contentDeleted); already {
		return
	}
	i.content = contentDeleted{length: i.length}
}

// GCStruct is a content-less placeholder preserving a clock interval so
// binary search over a client's array stays valid after content has been
// discarded entirely. It carries no linked-list position: nothing in the
// parent sequence can still reach it (spec §4.4).
type GCStruct struct {
	id     ID
	length uint64
}

func (g *GCStruct) ID() ID         { return g.id }
func (g *GCStruct) Len() uint64    { return g.length }
func (g *GCStruct) IsDeleted() bool { return true }

func (g *GCStruct) splitAt(diff uint64) *GCStruct {
	assertf(diff > 0 && diff < g.length, "splitAt: diff %d out of range for length %d", diff, g.length)
	right := &GCStruct{id: NewID(g.id.Client, g.id.Clock+diff), length: g.length - diff}
	g.length = diff
	return right
}

func (g *GCStruct) mergeWith(right *GCStruct) bool {
	if g.id.Client != right.id.Client || g.id.Clock+g.length != right.id.Clock {
		return false
	}
	g.length += right.length
	return true
}

// splitStruct dispatches a clock-offset split to the concrete struct
// variant, returning the newly created right-hand Struct. s is shortened
// in place.
func splitStruct(s Struct, diff uint64) Struct {
	switch v := s.(type) {
	case *Item:
		return v.splitAt(diff)
	case *GCStruct:
		return v.splitAt(diff)
	default:
		assertf(false, "splitStruct: unknown struct variant %T", s)
		return nil
	}
}

// tryMergeStructs dispatches a merge attempt between two adjacent structs
// of possibly-matching variant. Returns true if right was absorbed into
// left (the caller must then splice right out of the store).
func tryMergeStructs(left, right Struct) bool {
	switch l := left.(type) {
	case *Item:
		r, ok := right.(*Item)
		if !ok {
			return false
		}
		return l.mergeWith(r)
	case *GCStruct:
		r, ok := right.(*GCStruct)
		if !ok {
			return false
		}
		return l.mergeWith(r)
	default:
		return false
	}
}
