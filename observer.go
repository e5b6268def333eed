package gocrdt

// deliverObservers fires shallow and deep observers for tx, following
// spec §4.5 step 3: one shallow event per directly-changed Branch, then
// deep events walking each changed Branch's ancestor chain, filtering out
// events whose target is deleted while its parent was not (a Branch that
// was itself removed by this same transaction shouldn't surface a
// separate "I changed" event once its parent announces "I lost a child").
func (tx *Transaction) deliverObservers() {
	for branch := range tx.changed {
		ev := Event{Target: branch, Transaction: tx}
		for _, fn := range branch.observers {
			fn(ev)
		}
	}

	for branch, events := range tx.changedParentTypes {
		filtered := make([]Event, 0, len(events))
		for _, ev := range events {
			if branchIsOrphaned(ev.Target) {
				continue
			}
			filtered = append(filtered, ev)
		}
		if len(filtered) == 0 {
			continue
		}
		for _, fn := range branch.deepObservers {
			fn(filtered, tx)
		}
	}
}

// branchIsOrphaned reports whether b's anchoring Item is deleted while its
// own parent Branch's anchor is not — i.e. b disappeared on its own, not
// merely as a side effect of an ancestor disappearing.
func branchIsOrphaned(b *Branch) bool {
	if b == nil || b.item == nil {
		return false
	}
	if !b.item.deleted {
		return false
	}
	parent := b.Parent()
	if parent == nil || parent.item == nil {
		return true
	}
	return !parent.item.deleted
}
