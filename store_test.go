package gocrdt

import "testing"

var testRootBranch = newBranch("root")

func mustAddItem(t *testing.T, s *StructStore, client, clock, length uint64, text string) *Item {
	t.Helper()
	item := &Item{id: NewID(client, clock), length: length, parent: testRootBranch, content: ContentString(text)}
	if err := s.addStruct(item); err != nil {
		t.Fatalf("addStruct: %v", err)
	}
	return item
}

func TestStructStore_AddStructRejectsGapsAndOverlaps(t *testing.T) {
	s := NewStructStore()
	mustAddItem(t, s, 1, 0, 3, "abc")

	if err := s.addStruct(&Item{id: NewID(1, 5), length: 1}); err == nil {
		t.Fatalf("expected a gap at clock 5 to be rejected")
	}
	if err := s.addStruct(&Item{id: NewID(1, 2), length: 1}); err == nil {
		t.Fatalf("expected an overlap at clock 2 to be rejected")
	}
	if err := s.addStruct(&Item{id: NewID(2, 1), length: 1}); err == nil {
		t.Fatalf("expected a new client not starting at clock 0 to be rejected")
	}
}

func TestStructStore_Find(t *testing.T) {
	s := NewStructStore()
	a := mustAddItem(t, s, 1, 0, 3, "abc")
	b := mustAddItem(t, s, 1, 3, 2, "de")

	if st, _, err := s.find(1, 0); err != nil || st != Struct(a) {
		t.Fatalf("find(1,0) = %v, %v, want %v", st, err, a)
	}
	if st, _, err := s.find(1, 4); err != nil || st != Struct(b) {
		t.Fatalf("find(1,4) = %v, %v, want %v", st, err, b)
	}
	if _, _, err := s.find(1, 5); err == nil {
		t.Fatalf("expected out-of-range clock to error")
	}
	if _, _, err := s.find(99, 0); err == nil {
		t.Fatalf("expected unknown client to error")
	}
}

func TestStructStore_GetItemCleanStartAndEnd(t *testing.T) {
	s := NewStructStore()
	mustAddItem(t, s, 1, 0, 5, "hello")

	right, err := s.getItemCleanStart(NewID(1, 2))
	if err != nil {
		t.Fatalf("getItemCleanStart: %v", err)
	}
	if right.ID() != NewID(1, 2) || right.Len() != 3 {
		t.Fatalf("clean start struct = %s len %d, want (1,2) len 3", right.ID(), right.Len())
	}
	if len(s.clients[1]) != 2 {
		t.Fatalf("expected split to produce 2 structs, got %d", len(s.clients[1]))
	}

	left, err := s.getItemCleanEnd(NewID(1, 3))
	if err != nil {
		t.Fatalf("getItemCleanEnd: %v", err)
	}
	if left.ID().Clock+left.Len() != 4 {
		t.Fatalf("clean end struct should end exactly at clock 4, ends at %d", left.ID().Clock+left.Len())
	}
	if len(s.clients[1]) != 3 {
		t.Fatalf("expected second split to produce 3 structs, got %d", len(s.clients[1]))
	}

	if err := s.integrityCheck(); err != nil {
		t.Fatalf("integrityCheck after splits: %v", err)
	}
}

func TestStructStore_ReplaceStruct(t *testing.T) {
	s := NewStructStore()
	item := mustAddItem(t, s, 1, 0, 3, "abc")
	gcStruct := &GCStruct{id: item.id, length: item.length}

	if err := s.replaceStruct(item, gcStruct); err != nil {
		t.Fatalf("replaceStruct: %v", err)
	}
	st, _, err := s.find(1, 1)
	if err != nil {
		t.Fatalf("find after replace: %v", err)
	}
	if _, ok := st.(*GCStruct); !ok {
		t.Errorf("expected replaced struct to be a GCStruct, got %T", st)
	}
}

func TestStructStore_GetStateAndStateVector(t *testing.T) {
	s := NewStructStore()
	if got := s.getState(1); got != 0 {
		t.Errorf("getState on unknown client = %d, want 0", got)
	}
	mustAddItem(t, s, 1, 0, 4, "abcd")
	mustAddItem(t, s, 2, 0, 2, "xy")

	if got := s.getState(1); got != 4 {
		t.Errorf("getState(1) = %d, want 4", got)
	}
	sv := s.getStateVector()
	if sv[1] != 4 || sv[2] != 2 {
		t.Errorf("state vector = %v, want {1:4, 2:2}", sv)
	}
}

func TestStructStore_IntegrityCheckDetectsGap(t *testing.T) {
	s := NewStructStore()
	s.clients[1] = []Struct{
		&Item{id: NewID(1, 0), length: 2},
		&Item{id: NewID(1, 3), length: 1},
	}
	if err := s.integrityCheck(); err == nil {
		t.Fatalf("expected integrityCheck to detect the gap between index 0 and 1")
	}
}
