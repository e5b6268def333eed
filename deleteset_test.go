package gocrdt

import "testing"

func TestDeleteSet_SortAndMergeCoalesces(t *testing.T) {
	d := NewDeleteSet()
	d.add(1, 10, 2) // [10,12)
	d.add(1, 0, 5)  // [0,5)
	d.add(1, 5, 5)  // [5,10) — adjacent to the previous range
	d.add(1, 20, 1) // disjoint

	d.sortAndMerge()

	ranges := d.clients[1]
	if len(ranges) != 2 {
		t.Fatalf("expected 2 merged ranges, got %d: %+v", len(ranges), ranges)
	}
	if ranges[0] != (DeleteRange{Clock: 0, Len: 12}) {
		t.Errorf("first range = %+v, want {0 12}", ranges[0])
	}
	if ranges[1] != (DeleteRange{Clock: 20, Len: 1}) {
		t.Errorf("second range = %+v, want {20 1}", ranges[1])
	}
}

func TestDeleteSet_AddIgnoresZeroLength(t *testing.T) {
	d := NewDeleteSet()
	d.add(1, 0, 0)
	if len(d.clients[1]) != 0 {
		t.Errorf("expected zero-length range to be dropped")
	}
}

func TestDeleteSet_IsDeleted(t *testing.T) {
	d := NewDeleteSet()
	d.add(1, 5, 3) // [5,8)
	d.sortAndMerge()

	cases := []struct {
		clock uint64
		want  bool
	}{
		{4, false},
		{5, true},
		{7, true},
		{8, false},
	}
	for _, c := range cases {
		if got := d.isDeleted(NewID(1, c.clock)); got != c.want {
			t.Errorf("isDeleted(1,%d) = %v, want %v", c.clock, got, c.want)
		}
	}
}

func TestCreateDeleteSetFromStructStore(t *testing.T) {
	s := NewStructStore()
	mustAddItem(t, s, 1, 0, 2, "ab")
	deletedItem := mustAddItem(t, s, 1, 2, 3, "cde")
	deletedItem.deleted = true
	mustAddItem(t, s, 1, 5, 1, "f")

	ds := createDeleteSetFromStructStore(s)
	ranges := ds.clients[1]
	if len(ranges) != 1 || ranges[0] != (DeleteRange{Clock: 2, Len: 3}) {
		t.Fatalf("delete set = %+v, want a single range {2 3}", ranges)
	}
}
