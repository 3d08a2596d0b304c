package sidelog

// byteBuffer is the side log's equivalent of a memtable: a flat run of
// opaque bytes appended in order, with no keys and nothing to sort. Unlike
// the KV write buffer it never reorders or dedups; a side write's position
// in the stream is its identity.
type byteBuffer struct {
	budget int64
	raw    []byte
}

func newByteBuffer(budget int64) *byteBuffer {
	return &byteBuffer{budget: budget}
}

func (b *byteBuffer) HasRoom(p []byte) bool {
	return int64(len(b.raw)+len(p)) <= b.budget
}

func (b *byteBuffer) Empty() bool {
	return len(b.raw) == 0
}

func (b *byteBuffer) Len() int64 {
	return int64(len(b.raw))
}

func (b *byteBuffer) Append(p []byte) {
	b.raw = append(b.raw, p...)
}

func (b *byteBuffer) Bytes() []byte {
	return b.raw
}

func (b *byteBuffer) Reset() {
	b.raw = b.raw[:0]
}
