package gocrdt

import "fmt"

// pendingClientRefs holds structRefs received for a client whose
// dependencies are not all satisfied yet. i is the next unconsumed index;
// consumed entries are never removed from the slice (spec §9: "do not pop
// from the front of a long array"), only the cursor advances.
type pendingClientRefs struct {
	i    int
	refs []*structRef
}

// pendingDeleteRange is a delete-set range whose target clocks are not
// all known locally yet.
type pendingDeleteRange struct {
	client uint64
	clock  uint64
	length uint64
}

// originsEqual reports whether two Items share the same left anchor for
// tie-break purposes. Two nil origins are considered equal: both mean
// "nothing precedes me at this position yet", whether that position is
// the start of a sequence or a map key with no prior value, and two
// Items concurrently claiming that same virtual anchor must still
// compete via the client tie-break below rather than being treated as
// causally unrelated.
func originsEqual(a, b *ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func depSatisfied(store *StructStore, id *ID) bool {
	if id == nil {
		return true
	}
	return id.Clock < store.getState(id.Client)
}

// resolveNeighborItem finds the Item ending exactly at id (the left
// neighbor an Item's origin names), splitting the containing struct if
// needed. A nil id means "start of sequence". If the position has already
// been garbage-collected into a GCStruct there is no Item left to anchor
// to; integration falls back to treating the neighbor as unresolved (nil).
func resolveNeighborItem(store *StructStore, id *ID) (*Item, error) {
	if id == nil {
		return nil, nil
	}
	st, err := store.getItemCleanEnd(*id)
	if err != nil {
		return nil, err
	}
	if item, ok := st.(*Item); ok {
		return item, nil
	}
	return nil, nil
}

// resolveRightNeighborItem finds the Item starting exactly at id (an
// Item's rightOrigin). Same GC caveat as resolveNeighborItem.
func resolveRightNeighborItem(store *StructStore, id *ID) (*Item, error) {
	if id == nil {
		return nil, nil
	}
	st, err := store.getItemCleanStart(*id)
	if err != nil {
		return nil, err
	}
	if item, ok := st.(*Item); ok {
		return item, nil
	}
	return nil, nil
}

// integrateItem runs the YATA conflict-resolution walk (spec §4.4) to
// place item among its concurrent siblings and links it into the store
// and its parent Branch. Used for both locally-created Items and Items
// decoded from a remote update.
func integrateItem(tx *Transaction, item *Item) error {
	store := tx.doc.store

	left, err := resolveNeighborItem(store, item.origin)
	if err != nil {
		return err
	}
	right, err := resolveRightNeighborItem(store, item.rightOrigin)
	if err != nil {
		return err
	}

	var scanStart *Item
	switch {
	case left != nil:
		scanStart = left.right
	case item.parentSub == nil:
		scanStart = item.parent.start
	default:
		// A map write with no prior value it is anchored to (nil origin):
		// scan from whatever the current entry for this key is, so two
		// concurrent first-writers to the same key still compete via the
		// same tie-break below instead of silently overwriting each other.
		scanStart = item.parent.entries[*item.parentSub]
	}

	placeAfter := left
	c := scanStart
	scanned := make(map[ID]bool)

scan:
	for c != nil && c != right {
		scanned[c.id] = true
		switch {
		case originsEqual(item.origin, c.origin):
			// Same anchor point (explicitly shared, or both nil meaning
			// "nothing before me yet"): concurrent siblings tie-break by
			// client, smaller client wins the leftward position.
			if c.id.Client < item.id.Client {
				placeAfter = c
				c = c.right
				continue
			}
			break scan
		case c.origin != nil && scanned[*c.origin]:
			// c's own origin already appeared in our scan window: c was
			// spliced in ahead of where we are, so it stays left of us.
			placeAfter = c
			c = c.right
		default:
			// c depends on something outside our scan window (newer,
			// unrelated content): we belong in front of it.
			break scan
		}
	}

	// item.right is always exactly wherever the scan stopped, whether
	// that is nil (scan exhausted, or map tie lost with nothing after
	// it), the caller-supplied right bound, or a real sibling the item
	// ties against and loses to (parked to its left).
	item.left = placeAfter
	item.right = c

	linkItem(item)
	if err := store.addStruct(item); err != nil {
		return err
	}
	tx.recordMergeCandidate(item.id)
	tx.markChanged(item.parent, item.parentSub)
	tx.addChangedParentTypes(item)
	return nil
}

// linkItem splices item into its parent's linked list / map slot once its
// left/right neighbors are decided.
func linkItem(item *Item) {
	if item.left != nil {
		item.left.right = item
	} else if item.parentSub == nil {
		item.parent.start = item
	}
	if item.right != nil {
		item.right.left = item
	}
	if item.parentSub != nil && item.right == nil {
		item.parent.entries[*item.parentSub] = item
	}
}

// trimStructRef discards the prefix of ref already known locally (its
// clocks below state), returning nil if ref is entirely subsumed —
// required for idempotent re-application of an update (spec invariant 4).
func trimStructRef(ref *structRef, state uint64) *structRef {
	offset := state - ref.id.Clock
	if offset >= ref.length {
		return nil
	}
	trimmed := *ref
	trimmed.id = NewID(ref.id.Client, state)
	trimmed.length = ref.length - offset
	if !ref.isGC {
		newOrigin := NewID(ref.id.Client, state-1)
		trimmed.origin = &newOrigin
		if ref.contentTag == contentTagString {
			runes := []rune(ref.contentString)
			trimmed.contentString = string(runes[offset:])
		}
	}
	return &trimmed
}

// contentFromRef materializes a structRef's wire payload into an
// ItemContent.
func contentFromRef(ref *structRef) (ItemContent, error) {
	switch ref.contentTag {
	case contentTagString:
		return ContentString(ref.contentString), nil
	case contentTagEmbed:
		v, err := unmarshalEmbed(ref.contentEmbedJSON)
		if err != nil {
			return nil, err
		}
		return ContentEmbed{Value: v}, nil
	case contentTagType:
		return ContentType{Branch: newBranch("")}, nil
	default:
		return nil, fmt.Errorf("%w: unknown content tag %d", ErrMalformedUpdate, ref.contentTag)
	}
}

// toStruct converts a decoded structRef into a concrete Struct, resolving
// its parent reference. If the parent turns out to be deleted or absent,
// the content is discarded in favor of a GCStruct — there is nowhere
// meaningful left to integrate it (spec §4.6).
func (doc *Document) toStruct(ref *structRef) (Struct, error) {
	if ref.isGC {
		return &GCStruct{id: ref.id, length: ref.length}, nil
	}

	var parent *Branch
	if ref.parentRootName != nil {
		parent = doc.getOrCreateRoot(*ref.parentRootName)
	} else {
		parentSt, _, err := doc.store.find(ref.parentID.Client, ref.parentID.Clock)
		if err != nil {
			return nil, err
		}
		parentItem, ok := parentSt.(*Item)
		if !ok || parentItem.deleted {
			return &GCStruct{id: ref.id, length: ref.length}, nil
		}
		ct, ok := parentItem.content.(ContentType)
		if !ok {
			return nil, fmt.Errorf("%w: parent %s is not a type", ErrMalformedUpdate, ref.parentID)
		}
		parent = ct.Branch
	}

	content, err := contentFromRef(ref)
	if err != nil {
		return nil, err
	}

	return &Item{
		id:          ref.id,
		length:      ref.length,
		origin:      ref.origin,
		rightOrigin: ref.rightOrigin,
		parent:      parent,
		parentSub:   ref.parentSub,
		content:     content,
	}, nil
}

// tryIntegrateRef attempts to integrate a single structRef, returning
// false (not an error) if a dependency — its origin, rightOrigin, or
// parent — is not yet known locally. The caller leaves it parked.
func (doc *Document) tryIntegrateRef(tx *Transaction, ref *structRef) (bool, error) {
	if !depSatisfied(doc.store, ref.origin) {
		return false, nil
	}
	if !depSatisfied(doc.store, ref.rightOrigin) {
		return false, nil
	}
	if ref.parentID != nil && !depSatisfied(doc.store, ref.parentID) {
		return false, nil
	}

	st, err := doc.toStruct(ref)
	if err != nil {
		return false, err
	}

	if item, ok := st.(*Item); ok {
		if err := integrateItem(tx, item); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := doc.store.addStruct(st); err != nil {
		return false, err
	}
	return true, nil
}

// integrateStructRefs merges incoming refs into the document's pending
// queues and repeatedly sweeps every client's cursor until no more
// progress can be made, following spec §4.6's tryResumePendingStructRefs.
func (doc *Document) integrateStructRefs(tx *Transaction, incoming map[uint64][]*structRef) error {
	for client, refs := range incoming {
		pcr := doc.pendingStructRefs[client]
		if pcr == nil {
			pcr = &pendingClientRefs{}
			doc.pendingStructRefs[client] = pcr
		}
		pcr.refs = append(pcr.refs, refs...)
	}

	for {
		progressed := false
		for client, pcr := range doc.pendingStructRefs {
			for pcr.i < len(pcr.refs) {
				ref := pcr.refs[pcr.i]
				state := doc.store.getState(client)
				if ref.id.Clock > state {
					break
				}
				candidate := ref
				if ref.id.Clock < state {
					candidate = trimStructRef(ref, state)
					if candidate == nil {
						pcr.i++
						progressed = true
						continue
					}
				}
				ok, err := doc.tryIntegrateRef(tx, candidate)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				pcr.i++
				progressed = true
			}
			if pcr.i >= len(pcr.refs) {
				delete(doc.pendingStructRefs, client)
			}
		}
		if !progressed {
			break
		}
	}
	return nil
}

// deleteRange applies a delete to every non-deleted Item in [from,to) for
// client, splitting clean boundaries first so partial-struct deletes are
// representable.
func (doc *Document) deleteRange(tx *Transaction, client, from, to uint64) error {
	if from >= to {
		return nil
	}
	if _, err := doc.store.getItemCleanStart(NewID(client, from)); err != nil {
		return err
	}
	if _, err := doc.store.getItemCleanEnd(NewID(client, to-1)); err != nil {
		return err
	}
	clock := from
	for clock < to {
		st, _, err := doc.store.find(client, clock)
		if err != nil {
			return err
		}
		if item, ok := st.(*Item); ok && !item.deleted {
			item.delete(tx)
		}
		clock = st.ID().Clock + st.Len()
	}
	return nil
}

// applyDeleteSet applies ds to the store, parking any range whose clocks
// extend past what is locally known yet (spec §4.6 readDeleteSet).
func (doc *Document) applyDeleteSet(tx *Transaction, ds *DeleteSet) error {
	for client, ranges := range ds.clients {
		for _, r := range ranges {
			state := doc.store.getState(client)
			if r.Clock >= state {
				doc.pendingDeleteReaders = append(doc.pendingDeleteReaders, pendingDeleteRange{client: client, clock: r.Clock, length: r.Len})
				continue
			}
			end := r.Clock + r.Len
			if end > state {
				doc.pendingDeleteReaders = append(doc.pendingDeleteReaders, pendingDeleteRange{client: client, clock: state, length: end - state})
				end = state
			}
			if err := doc.deleteRange(tx, client, r.Clock, end); err != nil {
				return err
			}
		}
	}
	return nil
}

// retryPendingDeleteReaders re-attempts every parked delete range; ranges
// still missing content stay parked (trimmed to their still-unknown
// suffix).
func (doc *Document) retryPendingDeleteReaders(tx *Transaction) error {
	remaining := doc.pendingDeleteReaders[:0]
	for _, p := range doc.pendingDeleteReaders {
		state := doc.store.getState(p.client)
		if p.clock >= state {
			remaining = append(remaining, p)
			continue
		}
		end := p.clock + p.length
		if end > state {
			remaining = append(remaining, pendingDeleteRange{client: p.client, clock: state, length: end - state})
			end = state
		}
		if err := doc.deleteRange(tx, p.client, p.clock, end); err != nil {
			return err
		}
	}
	doc.pendingDeleteReaders = remaining
	return nil
}
