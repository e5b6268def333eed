package gocrdt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
)

// Wire format is LEB128 varuints throughout (spec §4.6), written with
// encoding/binary.PutUvarint / read with encoding/binary.Uvarint. No
// library in the retrieval pack offers a dedicated varint codec (the only
// binary.Write/Read users in the pack — e.g. etcd's mvcc kvstore,
// go-ethereum's pathdb history — reach for the same stdlib package for the
// same reason), so the codec uses the standard library's; see DESIGN.md.

const (
	structVariantGC   byte = 0
	structVariantItem byte = 1

	contentTagString byte = 0
	contentTagEmbed  byte = 1
	contentTagType   byte = 2
)

const (
	infoIsGC          byte = 1 << 0
	infoContentMask   byte = 0b11 << 1
	infoHasOrigin     byte = 1 << 3
	infoHasRightOrig  byte = 1 << 4
	infoHasParentYKey byte = 1 << 5
	infoHasParentSub  byte = 1 << 6
)

type encoder struct {
	buf bytes.Buffer
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) writeUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

func (e *encoder) writeString(s string) {
	e.writeUvarint(uint64(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) writeBytes(b []byte) {
	e.writeUvarint(uint64(len(b)))
	e.buf.Write(b)
}

func (e *encoder) writeID(id ID) {
	e.writeUvarint(id.Client)
	e.writeUvarint(id.Clock)
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

type decoder struct {
	buf []byte
	pos int
}

func newDecoder(data []byte) *decoder { return &decoder{buf: data} }

func (d *decoder) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: short read decoding varuint", ErrMalformedUpdate)
	}
	d.pos += n
	return v, nil
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("%w: short read decoding byte", ErrMalformedUpdate)
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readString() (string, error) {
	n, err := d.readUvarint()
	if err != nil {
		return "", err
	}
	if uint64(d.pos)+n > uint64(len(d.buf)) {
		return "", fmt.Errorf("%w: short read decoding string", ErrMalformedUpdate)
	}
	s := string(d.buf[d.pos : uint64(d.pos)+n])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) readBytes() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	if uint64(d.pos)+n > uint64(len(d.buf)) {
		return nil, fmt.Errorf("%w: short read decoding bytes", ErrMalformedUpdate)
	}
	b := d.buf[d.pos : uint64(d.pos)+n]
	d.pos += int(n)
	return b, nil
}

func (d *decoder) readID() (ID, error) {
	client, err := d.readUvarint()
	if err != nil {
		return ID{}, err
	}
	clock, err := d.readUvarint()
	if err != nil {
		return ID{}, err
	}
	return NewID(client, clock), nil
}

func (d *decoder) done() bool { return d.pos >= len(d.buf) }

// structRef is the not-yet-integrated view of a struct read off the wire:
// origin/rightOrigin/parent are still raw IDs or names, not resolved
// pointers. integrate.go turns these into real Items/GCStructs once their
// dependencies are known to be present (spec §4.6).
type structRef struct {
	id     ID
	length uint64
	isGC   bool

	origin      *ID
	rightOrigin *ID

	parentRootName *string
	parentID       *ID
	parentSub      *string

	contentTag       byte
	contentString    string
	contentEmbedJSON []byte
}

func writeStructRef(e *encoder, id ID, length uint64, isGC bool,
	origin, rightOrigin *ID, parentRootName *string, parentID *ID, parentSub *string,
	contentTag byte, contentString string, contentEmbedJSON []byte) {

	info := byte(0)
	if isGC {
		info |= infoIsGC
	} else {
		info |= (contentTag << 1) & infoContentMask
	}
	if origin != nil {
		info |= infoHasOrigin
	}
	if rightOrigin != nil {
		info |= infoHasRightOrig
	}
	if parentRootName != nil {
		info |= infoHasParentYKey
	}
	if parentSub != nil {
		info |= infoHasParentSub
	}

	e.buf.WriteByte(info)
	e.writeUvarint(length)

	if isGC {
		return
	}
	if origin != nil {
		e.writeID(*origin)
	}
	if rightOrigin != nil {
		e.writeID(*rightOrigin)
	}
	if parentRootName != nil {
		e.writeString(*parentRootName)
	} else {
		e.writeID(*parentID)
	}
	if parentSub != nil {
		e.writeString(*parentSub)
	}

	switch contentTag {
	case contentTagString:
		e.writeString(contentString)
	case contentTagEmbed:
		e.writeBytes(contentEmbedJSON)
	case contentTagType:
		// no payload: decode side creates a fresh, empty nested Branch.
	}
}

func readStructRef(d *decoder, client uint64, clock uint64) (*structRef, error) {
	info, err := d.readByte()
	if err != nil {
		return nil, err
	}
	length, err := d.readUvarint()
	if err != nil {
		return nil, err
	}

	ref := &structRef{id: NewID(client, clock), length: length}

	if info&infoIsGC != 0 {
		ref.isGC = true
		return ref, nil
	}
	ref.contentTag = (info & infoContentMask) >> 1

	if info&infoHasOrigin != 0 {
		o, err := d.readID()
		if err != nil {
			return nil, err
		}
		ref.origin = &o
	}
	if info&infoHasRightOrig != 0 {
		o, err := d.readID()
		if err != nil {
			return nil, err
		}
		ref.rightOrigin = &o
	}
	if info&infoHasParentYKey != 0 {
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		ref.parentRootName = &name
	} else {
		pid, err := d.readID()
		if err != nil {
			return nil, err
		}
		ref.parentID = &pid
	}
	if info&infoHasParentSub != 0 {
		sub, err := d.readString()
		if err != nil {
			return nil, err
		}
		ref.parentSub = &sub
	}

	switch ref.contentTag {
	case contentTagString:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		ref.contentString = s
	case contentTagEmbed:
		b, err := d.readBytes()
		if err != nil {
			return nil, err
		}
		ref.contentEmbedJSON = b
	case contentTagType:
		// no payload.
	default:
		return nil, fmt.Errorf("%w: unknown content tag %d", ErrMalformedUpdate, ref.contentTag)
	}

	return ref, nil
}

// marshalEmbed/unmarshalEmbed round-trip an arbitrary embed value through
// JSON, the simplest cross-replica representation for an opaque "any".
func marshalEmbed(v any) ([]byte, error) { return json.Marshal(v) }

func unmarshalEmbed(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// writeDeleteSet encodes d per spec §4.3: numClients, then per client
// client, numRanges, then (clock,len) pairs. d must already be merged.
func writeDeleteSet(e *encoder, d *DeleteSet) {
	clients := make([]uint64, 0, len(d.clients))
	for c, ranges := range d.clients {
		if len(ranges) > 0 {
			clients = append(clients, c)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	e.writeUvarint(uint64(len(clients)))
	for _, c := range clients {
		ranges := d.clients[c]
		e.writeUvarint(c)
		e.writeUvarint(uint64(len(ranges)))
		for _, r := range ranges {
			e.writeUvarint(r.Clock)
			e.writeUvarint(r.Len)
		}
	}
}

// readDeleteSetWire decodes the wire format into a fresh DeleteSet. It
// does not apply it to any store — that is applyDeleteSet in integrate.go,
// a distinct step per spec §4.6.
func readDeleteSetWire(d *decoder) (*DeleteSet, error) {
	numClients, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	ds := NewDeleteSet()
	for i := uint64(0); i < numClients; i++ {
		client, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		numRanges, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		ranges := make([]DeleteRange, 0, numRanges)
		for j := uint64(0); j < numRanges; j++ {
			clock, err := d.readUvarint()
			if err != nil {
				return nil, err
			}
			length, err := d.readUvarint()
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, DeleteRange{Clock: clock, Len: length})
		}
		ds.clients[client] = ranges
	}
	return ds, nil
}

// encodeStateVector writes numClients then (client,clock) pairs, sorted by
// client for determinism across a map's random iteration order.
func encodeStateVector(sv map[uint64]uint64) []byte {
	e := newEncoder()
	clients := make([]uint64, 0, len(sv))
	for c := range sv {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	e.writeUvarint(uint64(len(clients)))
	for _, c := range clients {
		e.writeUvarint(c)
		e.writeUvarint(sv[c])
	}
	return e.bytes()
}

// decodeStateVector parses the wire format written by encodeStateVector.
func decodeStateVector(data []byte) (map[uint64]uint64, error) {
	d := newDecoder(data)
	numClients, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	sv := make(map[uint64]uint64, numClients)
	for i := uint64(0); i < numClients; i++ {
		client, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		clock, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		sv[client] = clock
	}
	return sv, nil
}

// structRefFromStruct converts a concrete, already-integrated Struct back
// into its wire structRef form, used when computing an outbound update.
func structRefFromStruct(st Struct) (*structRef, error) {
	switch v := st.(type) {
	case *GCStruct:
		return &structRef{id: v.id, length: v.length, isGC: true}, nil
	case *Item:
		ref := &structRef{id: v.id, length: v.length}
		ref.origin = v.origin
		ref.rightOrigin = v.rightOrigin
		ref.parentSub = v.parentSub
		if v.parent != nil && v.parent.item == nil && v.parent.name != "" {
			name := v.parent.name
			ref.parentRootName = &name
		} else if v.parent != nil && v.parent.item != nil {
			pid := v.parent.item.id
			ref.parentID = &pid
		} else {
			assertf(false, "structRefFromStruct: item %s has an unresolved parent", v.id)
		}

		switch c := v.content.(type) {
		case ContentString:
			ref.contentTag = contentTagString
			ref.contentString = string(c)
		case contentDeleted:
			// Deleted content still round-trips as a string run of NUL
			// characters of the same length; readers apply the delete-set section
			// separately so the payload itself is never re-read as text.
			ref.contentTag = contentTagString
			ref.contentString = string(make([]rune, c.length))
		case ContentEmbed:
			ref.contentTag = contentTagEmbed
			b, err := marshalEmbed(c.Value)
			if err != nil {
				return nil, err
			}
			ref.contentEmbedJSON = b
		case ContentType:
			ref.contentTag = contentTagType
		default:
			assertf(false, "structRefFromStruct: unknown content %T", c)
		}
		return ref, nil
	default:
		assertf(false, "structRefFromStruct: unknown struct variant %T", st)
		return nil, nil
	}
}

func writeStructRefFull(e *encoder, ref *structRef) {
	writeStructRef(e, ref.id, ref.length, ref.isGC, ref.origin, ref.rightOrigin,
		ref.parentRootName, ref.parentID, ref.parentSub,
		ref.contentTag, ref.contentString, ref.contentEmbedJSON)
}

// encodeUpdateMessage writes the full wire message for a set of structs
// (grouped by client, in clock order) plus the delete set that goes with
// them (spec §4.6: struct section then delete-set section).
func encodeUpdateMessage(structsByClient map[uint64][]Struct, ds *DeleteSet) ([]byte, error) {
	e := newEncoder()

	clients := make([]uint64, 0, len(structsByClient))
	for c, structs := range structsByClient {
		if len(structs) > 0 {
			clients = append(clients, c)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	e.writeUvarint(uint64(len(clients)))
	for _, c := range clients {
		structs := structsByClient[c]
		e.writeUvarint(c)
		e.writeUvarint(uint64(len(structs)))
		e.writeUvarint(structs[0].ID().Clock)
		for _, st := range structs {
			ref, err := structRefFromStruct(st)
			if err != nil {
				return nil, err
			}
			writeStructRefFull(e, ref)
		}
	}

	if ds == nil {
		ds = NewDeleteSet()
	}
	writeDeleteSet(e, ds)
	return e.bytes(), nil
}

// decodeUpdateMessage parses the wire format produced by
// encodeUpdateMessage back into per-client structRef slices (in the order
// they were written, i.e. clock order) plus the delete set.
func decodeUpdateMessage(data []byte) (map[uint64][]*structRef, *DeleteSet, error) {
	d := newDecoder(data)
	numClients, err := d.readUvarint()
	if err != nil {
		return nil, nil, err
	}

	refs := make(map[uint64][]*structRef, numClients)
	for i := uint64(0); i < numClients; i++ {
		client, err := d.readUvarint()
		if err != nil {
			return nil, nil, err
		}
		numStructs, err := d.readUvarint()
		if err != nil {
			return nil, nil, err
		}
		clock, err := d.readUvarint()
		if err != nil {
			return nil, nil, err
		}

		clientRefs := make([]*structRef, 0, numStructs)
		for j := uint64(0); j < numStructs; j++ {
			ref, err := readStructRef(d, client, clock)
			if err != nil {
				return nil, nil, err
			}
			clock += ref.length
			clientRefs = append(clientRefs, ref)
		}
		refs[client] = clientRefs
	}

	ds, err := readDeleteSetWire(d)
	if err != nil {
		return nil, nil, err
	}
	return refs, ds, nil
}
