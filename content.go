package gocrdt

// ItemContent is the payload carried by an Item. It is the second tagged
// sum spec §9 calls for, nested inside the first (Item vs GC): a string
// chunk, an embedded opaque value, or a pointer to a nested shared type.
// Split and merge of an Item delegate to its content's implementation.
type ItemContent interface {
	// Len reports how many clock units this content occupies. String
	// content reports rune count; embed and type content are always 1.
	Len() uint64

	// split divides the content at offset, returning the left and right
	// halves. offset must be strictly between 0 and Len().
	split(offset uint64) (left, right ItemContent)

	// mergeWith attempts to splice other onto the end of this content,
	// returning the merged content and true on success. Embed and type
	// content are atomic and never merge.
	mergeWith(other ItemContent) (ItemContent, bool)
}

// ContentString is a chunk of replicated text. Multiple adjacent
// ContentString Items merge into a single run during the transaction's
// merge pass, the same way the teacher's RGA collapses nothing but a
// structured CRDT document keeps runs short by merging contiguous writes.
type ContentString string

func (c ContentString) Len() uint64 { return uint64(len([]rune(string(c)))) }

func (c ContentString) split(offset uint64) (ItemContent, ItemContent) {
	runes := []rune(string(c))
	return ContentString(string(runes[:offset])), ContentString(string(runes[offset:]))
}

func (c ContentString) mergeWith(other ItemContent) (ItemContent, bool) {
	o, ok := other.(ContentString)
	if !ok {
		return nil, false
	}
	return c + o, true
}

// ContentEmbed wraps an arbitrary caller-supplied value (e.g. an image
// reference or a JSON-ish blob) as a single atomic unit of length 1.
type ContentEmbed struct {
	Value any
}

func (c ContentEmbed) Len() uint64 { return 1 }

func (c ContentEmbed) split(uint64) (ItemContent, ItemContent) {
	assertf(false, "ContentEmbed is atomic and cannot be split")
	return nil, nil
}

func (c ContentEmbed) mergeWith(ItemContent) (ItemContent, bool) { return nil, false }

// ContentType anchors a nested shared type (a Branch) at this Item's
// position. Length is always 1: the nested type occupies one slot in its
// parent's sequence or map regardless of how large its own subtree grows.
type ContentType struct {
	Branch *Branch
}

func (c ContentType) Len() uint64 { return 1 }

func (c ContentType) split(uint64) (ItemContent, ItemContent) {
	assertf(false, "ContentType is atomic and cannot be split")
	return nil, nil
}

func (c ContentType) mergeWith(ItemContent) (ItemContent, bool) { return nil, false }

// contentDeleted replaces an Item's content once it has been individually
// garbage-collected (spec §4.4 Item.gc with parentGCed=false): the
// linked-list cell is retained (it is still a Tombstone) but the payload
// is dropped down to just its length.
type contentDeleted struct {
	length uint64
}

func (c contentDeleted) Len() uint64 { return c.length }

func (c contentDeleted) split(offset uint64) (ItemContent, ItemContent) {
	return contentDeleted{length: offset}, contentDeleted{length: c.length - offset}
}

func (c contentDeleted) mergeWith(other ItemContent) (ItemContent, bool) {
	o, ok := other.(contentDeleted)
	if !ok {
		return nil, false
	}
	return contentDeleted{length: c.length + o.length}, true
}
