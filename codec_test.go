package gocrdt

import "testing"

func TestCodec_StateVectorRoundTrip(t *testing.T) {
	sv := map[uint64]uint64{1: 5, 2: 0, 42: 100}

	data := encodeStateVector(sv)
	got, err := decodeStateVector(data)
	if err != nil {
		t.Fatalf("decodeStateVector: %v", err)
	}
	if len(got) != len(sv) {
		t.Fatalf("decoded %d clients, want %d", len(got), len(sv))
	}
	for client, clock := range sv {
		if got[client] != clock {
			t.Errorf("client %d: got %d, want %d", client, got[client], clock)
		}
	}
}

func TestCodec_StructRefRoundTrip(t *testing.T) {
	origin := NewID(1, 3)
	name := "root"
	ref := &structRef{
		id:            NewID(1, 4),
		length:        2,
		origin:        &origin,
		parentRootName: &name,
		contentTag:    contentTagString,
		contentString: "hi",
	}

	e := newEncoder()
	writeStructRefFull(e, ref)

	d := newDecoder(e.bytes())
	got, err := readStructRef(d, ref.id.Client, ref.id.Clock)
	if err != nil {
		t.Fatalf("readStructRef: %v", err)
	}
	if got.length != ref.length || got.contentString != ref.contentString {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", got, ref)
	}
	if got.origin == nil || !got.origin.Equal(*ref.origin) {
		t.Errorf("origin roundtrip mismatch: %v vs %v", got.origin, ref.origin)
	}
	if got.parentRootName == nil || *got.parentRootName != name {
		t.Errorf("parentRootName roundtrip mismatch: %v", got.parentRootName)
	}
}

func TestCodec_UpdateMessageRoundTrip(t *testing.T) {
	s := NewStructStore()
	mustAddItem(t, s, 1, 0, 2, "ab")
	mustAddItem(t, s, 2, 0, 1, "x")

	ds := NewDeleteSet()
	ds.add(1, 0, 1)
	ds.sortAndMerge()

	structsByClient := map[uint64][]Struct{
		1: s.clients[1],
		2: s.clients[2],
	}
	data, err := encodeUpdateMessage(structsByClient, ds)
	if err != nil {
		t.Fatalf("encodeUpdateMessage: %v", err)
	}

	refs, gotDS, err := decodeUpdateMessage(data)
	if err != nil {
		t.Fatalf("decodeUpdateMessage: %v", err)
	}
	if len(refs[1]) != 1 || refs[1][0].contentString != "ab" {
		t.Fatalf("client 1 refs = %+v, want a single ref with content %q", refs[1], "ab")
	}
	if len(refs[2]) != 1 || refs[2][0].contentString != "x" {
		t.Fatalf("client 2 refs = %+v, want a single ref with content %q", refs[2], "x")
	}
	if len(gotDS.clients[1]) != 1 || gotDS.clients[1][0] != (DeleteRange{Clock: 0, Len: 1}) {
		t.Fatalf("delete set = %+v, want {0 1} for client 1", gotDS.clients[1])
	}
}

func TestCodec_StructRefFromStructEncodesContentDeletedAsPlaceholder(t *testing.T) {
	s := NewStructStore()
	item := mustAddItem(t, s, 1, 0, 3, "abc")
	item.deleted = true
	item.content = contentDeleted{length: 3}

	ref, err := structRefFromStruct(item)
	if err != nil {
		t.Fatalf("structRefFromStruct: %v", err)
	}
	if ref.contentTag != contentTagString {
		t.Fatalf("expected deleted content to still encode as a placeholder string run")
	}
	if len(ref.contentString) != 3 {
		t.Fatalf("expected placeholder content of length 3, got %d", len(ref.contentString))
	}
}
