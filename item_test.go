package gocrdt

import "testing"

func TestItem_SplitAt(t *testing.T) {
	branch := newBranch("root")
	item := &Item{
		id:      NewID(1, 0),
		length:  5,
		parent:  branch,
		content: ContentString("hello"),
	}

	right := item.splitAt(2)

	if item.length != 2 || item.content.(ContentString) != "he" {
		t.Fatalf("left half = %d/%q, want 2/%q", item.length, item.content, "he")
	}
	if right.length != 3 || right.content.(ContentString) != "llo" {
		t.Fatalf("right half = %d/%q, want 3/%q", right.length, right.content, "llo")
	}
	if right.id != NewID(1, 2) {
		t.Errorf("right.id = %s, want %s", right.id, NewID(1, 2))
	}
	if right.origin == nil || !right.origin.Equal(NewID(1, 1)) {
		t.Errorf("right.origin = %v, want %s", right.origin, NewID(1, 1))
	}
	if item.right != right || right.left != item {
		t.Errorf("split halves not linked to each other")
	}
}

func TestItem_SplitAtPanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected splitAt out of range to panic")
		}
	}()
	(&Item{length: 3, content: ContentString("abc")}).splitAt(3)
}

func TestItem_MergeWith(t *testing.T) {
	branch := newBranch("root")
	left := &Item{id: NewID(1, 0), length: 1, parent: branch, content: ContentString("h")}
	rightOrigin := left.lastID()
	right := &Item{
		id:      NewID(1, 1),
		length:  1,
		origin:  &rightOrigin,
		left:    left,
		parent:  branch,
		content: ContentString("i"),
	}
	left.right = right

	if !left.mergeWith(right) {
		t.Fatalf("expected merge to succeed")
	}
	if left.length != 2 || left.content.(ContentString) != "hi" {
		t.Errorf("merged left = %d/%q, want 2/%q", left.length, left.content, "hi")
	}
}

func TestItem_MergeWithRejectsOriginMismatch(t *testing.T) {
	branch := newBranch("root")
	left := &Item{id: NewID(1, 0), length: 1, parent: branch, content: ContentString("h")}
	unrelatedOrigin := NewID(9, 9)
	right := &Item{id: NewID(1, 1), length: 1, origin: &unrelatedOrigin, left: left, parent: branch, content: ContentString("i")}

	if left.mergeWith(right) {
		t.Fatalf("expected merge to fail: right's origin does not match left's lastID")
	}
}

func TestItem_DeleteAndGC(t *testing.T) {
	branch := newBranch("root")
	item := &Item{id: NewID(1, 0), length: 3, parent: branch, content: ContentString("abc")}
	store := NewStructStore()
	if err := store.addStruct(item); err != nil {
		t.Fatalf("addStruct: %v", err)
	}

	doc := NewDocument(WithClientID(1))
	doc.store = store
	tx := newTransaction(doc, nil)

	item.delete(tx)
	if !item.deleted {
		t.Fatalf("expected item to be marked deleted")
	}
	if got := tx.deleteSet.clients[1][0].Len; got != 3 {
		t.Fatalf("delete set range length = %d, want 3", got)
	}

	item.gc(store, false)
	if _, ok := item.content.(contentDeleted); !ok {
		t.Errorf("expected content to collapse to contentDeleted, got %T", item.content)
	}

	gcStruct := &GCStruct{id: NewID(2, 0), length: 3}
	store2 := NewStructStore()
	item2 := &Item{id: NewID(2, 0), length: 3, deleted: true, parent: branch, content: ContentString("xyz")}
	if err := store2.addStruct(item2); err != nil {
		t.Fatalf("addStruct: %v", err)
	}
	item2.gc(store2, true)
	st, _, err := store2.find(2, 1)
	if err != nil {
		t.Fatalf("find after parent-gc: %v", err)
	}
	if _, ok := st.(*GCStruct); !ok {
		t.Errorf("expected parentGCed gc to replace struct with a GCStruct, got %T", st)
	}
	_ = gcStruct
}

func TestGCStruct_SplitAndMerge(t *testing.T) {
	g := &GCStruct{id: NewID(1, 0), length: 5}
	right := g.splitAt(2)
	if g.length != 2 || right.length != 3 || right.id != NewID(1, 2) {
		t.Fatalf("split = %d/%d starting at %s, want 2/3 at (1,2)", g.length, right.length, right.id)
	}
	if !g.mergeWith(right) || g.length != 5 {
		t.Fatalf("expected merge back to length 5, got %d", g.length)
	}
}
