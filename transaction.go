package gocrdt

import "sort"

// Transaction is the atomic batching unit (spec §4.5). Mutations made
// through a Document's Transact call accumulate here; observers only ever
// see state as of the outermost transaction's close.
type Transaction struct {
	doc    *Document
	origin any

	beforeState map[uint64]uint64
	afterState  map[uint64]uint64

	deleteSet *DeleteSet

	// changed maps a touched Branch to the set of parentSub keys that
	// changed within it. The empty-string key (seqChangeKey) is used as
	// the sentinel for "sequence position changed" (spec §4.5).
	changed map[*Branch]map[string]bool

	changedParentTypes map[*Branch][]Event

	// mergeStructs holds the IDs of the Items integrated during this
	// transaction, whose neighborhood should be rechecked for merge
	// opportunities at close.
	mergeStructs []ID
}

const seqChangeKey = "" // sentinel parentSub key meaning "sequence changed"

func newTransaction(doc *Document, origin any) *Transaction {
	return &Transaction{
		doc:                doc,
		origin:             origin,
		beforeState:        doc.store.getStateVector(),
		deleteSet:          NewDeleteSet(),
		changed:            make(map[*Branch]map[string]bool),
		changedParentTypes: make(map[*Branch][]Event),
	}
}

func (tx *Transaction) markChanged(b *Branch, parentSub *string) {
	if b == nil {
		return
	}
	key := seqChangeKey
	if parentSub != nil {
		key = *parentSub
	}
	set, ok := tx.changed[b]
	if !ok {
		set = make(map[string]bool)
		tx.changed[b] = set
	}
	set[key] = true
}

// addChangedParentTypes records a deep-observer event targeting item's
// Branch on that Branch and every ancestor Branch reachable through its
// parent chain, so observeDeep listeners registered anywhere above the
// edit also fire.
func (tx *Transaction) addChangedParentTypes(item *Item) {
	ev := Event{Target: item.parent, Transaction: tx}
	b := item.parent
	for b != nil {
		tx.changedParentTypes[b] = append(tx.changedParentTypes[b], ev)
		b = b.Parent()
	}
}

func (tx *Transaction) recordMergeCandidate(id ID) {
	tx.mergeStructs = append(tx.mergeStructs, id)
}

// close runs the store-side close-time pipeline for tx: sort/merge its
// delete set, snapshot afterState, run the GC pass, and run the merge
// pass. The caller (Document.closeTransaction) is responsible for
// dispatching observer events and emitting the update,
// since those steps may themselves open nested transactions.
func (tx *Transaction) close() {
	tx.deleteSet.sortAndMerge()
	tx.afterState = tx.doc.store.getStateVector()

	tx.runGCPass()
	tx.runMergePass()
}

// runGCPass walks the delete set right-to-left and calls gc(store, false)
// on every deleted Item (spec §4.5 step 4: "walk deleted Items and call
// gc(store, false)" — this pass never does the parentGCed=true full
// collapse; that would make a replica's encoded state depend on how
// updates happened to be batched, not just on which updates it has
// seen). Right-to-left so that collapsing a later run never invalidates
// the store index used to find an earlier one.
func (tx *Transaction) runGCPass() {
	for client, ranges := range tx.deleteSet.clients {
		for i := len(ranges) - 1; i >= 0; i-- {
			r := ranges[i]
			clock := r.Clock
			end := r.Clock + r.Len
			for clock < end {
				st, _, err := tx.doc.store.find(client, clock)
				if err != nil {
					break
				}
				if item, ok := st.(*Item); ok && item.deleted {
					item.gc(tx.doc.store, false)
				}
				clock = st.ID().Clock + st.Len()
			}
		}
	}
}

// runMergePass attempts tryMergeLeft across every position the delete set
// or this transaction's clock advances touched, plus every struct in
// mergeStructs, right-to-left within each span so splicing a struct out
// never shifts the index of the one still to be visited (spec §4.5 step 5).
func (tx *Transaction) runMergePass() {
	for client, ranges := range tx.deleteSet.clients {
		arr := tx.doc.store.clients[client]
		for _, r := range ranges {
			_, startIdx, err := tx.doc.store.find(client, r.Clock)
			if err != nil {
				continue
			}
			arr = tx.doc.store.clients[client]
			for i := minInt(startIdx+indexSpanForRange(arr, startIdx, r), len(arr)-1); i >= 1; i-- {
				if tryMergeLeft(tx, client, i) {
					arr = tx.doc.store.clients[client]
				}
			}
		}
	}

	for client, beforeClock := range tx.beforeState {
		arr := tx.doc.store.clients[client]
		if len(arr) == 0 {
			continue
		}
		startIdx := 0
		if _, idx, err := tx.doc.store.find(client, beforeClock); err == nil {
			startIdx = idx
		}
		if startIdx < 1 {
			startIdx = 1
		}
		for i := len(arr) - 1; i >= startIdx; i-- {
			if tryMergeLeft(tx, client, i) {
				arr = tx.doc.store.clients[client]
			}
		}
	}

	for _, id := range tx.mergeStructs {
		if _, i, err := tx.doc.store.find(id.Client, id.Clock); err == nil {
			tryMergeLeft(tx, id.Client, i)
			if i+1 < len(tx.doc.store.clients[id.Client]) {
				tryMergeLeft(tx, id.Client, i+1)
			}
		}
	}
}

// indexSpanForRange estimates how many array slots from startIdx a delete
// range covers, so the merge pass only revisits the affected neighborhood.
func indexSpanForRange(arr []Struct, startIdx int, r DeleteRange) int {
	end := r.Clock + r.Len
	span := 0
	for i := startIdx; i < len(arr) && arr[i].ID().Clock < end; i++ {
		span = i - startIdx
	}
	return span
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// tryMergeLeft attempts to merge the struct at index i in client's array
// into its left neighbor at i-1. On success it splices i out of the array
// and fixes up any map entry that pointed at the absorbed struct.
func tryMergeLeft(tx *Transaction, client uint64, i int) bool {
	arr := tx.doc.store.clients[client]
	if i <= 0 || i >= len(arr) {
		return false
	}
	left, right := arr[i-1], arr[i]
	if left.IsDeleted() != right.IsDeleted() {
		return false
	}
	if !tryMergeStructs(left, right) {
		return false
	}

	if rightItem, ok := right.(*Item); ok {
		if rightItem.parentSub != nil && rightItem.parent != nil {
			if current := rightItem.parent.entries[*rightItem.parentSub]; current == rightItem {
				rightItem.parent.entries[*rightItem.parentSub] = left.(*Item)
			}
		}
		if rightItem.parent != nil && rightItem.parent.start == rightItem {
			rightItem.parent.start = left.(*Item)
		}
	}

	tx.doc.store.clients[client] = append(arr[:i], arr[i+1:]...)
	return true
}

// sortedAfterClients returns tx.afterState's client keys in ascending order,
// used wherever a transaction needs deterministic iteration (e.g. the
// update emitted from computeUpdate).
func (tx *Transaction) sortedAfterClients() []uint64 {
	clients := make([]uint64, 0, len(tx.afterState))
	for c := range tx.afterState {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}

// computeUpdate builds the outbound update message for tx, or nil if
// nothing changed (spec §4.6: "if neither the delete set nor the state
// advanced, emit nothing").
func (tx *Transaction) computeUpdate() ([]byte, error) {
	changedAny := len(tx.deleteSet.clients) > 0
	structsByClient := make(map[uint64][]Struct)

	for _, client := range tx.sortedAfterClients() {
		before := tx.beforeState[client]
		after := tx.afterState[client]
		if after <= before {
			continue
		}
		changedAny = true
		clock := before
		var structs []Struct
		for clock < after {
			st, _, err := tx.doc.store.find(client, clock)
			if err != nil {
				return nil, err
			}
			structs = append(structs, st)
			clock = st.ID().Clock + st.Len()
		}
		structsByClient[client] = structs
	}

	if !changedAny {
		return nil, nil
	}
	return encodeUpdateMessage(structsByClient, tx.deleteSet)
}
