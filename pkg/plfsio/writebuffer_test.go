package plfsio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteBufferOrderedSort(t *testing.T) {
	opts := DefaultOptions()
	wb := NewWriteBuffer(&opts, 1<<20)

	wb.Add([]byte("c"), []byte("3"))
	wb.Add([]byte("a"), []byte("1"))
	wb.Add([]byte("b"), []byte("2"))

	entries := wb.FinishAndSort()
	require.Len(t, entries, 3)
	require.Equal(t, []byte("a"), entries[0].Key)
	require.Equal(t, []byte("b"), entries[1].Key)
	require.Equal(t, []byte("c"), entries[2].Key)
}

func TestWriteBufferUniqueKeysDedups(t *testing.T) {
	opts := DefaultOptions()
	opts.UniqueKeys = true
	wb := NewWriteBuffer(&opts, 1<<20)

	wb.Add([]byte("k"), []byte("old"))
	wb.Add([]byte("k"), []byte("new"))

	entries := wb.FinishAndSort()
	require.Len(t, entries, 1)
	require.Equal(t, []byte("new"), entries[0].Value)
}

func TestWriteBufferNonUniqueKeysPreservesDuplicates(t *testing.T) {
	opts := DefaultOptions()
	opts.UniqueKeys = false
	wb := NewWriteBuffer(&opts, 1<<20)

	wb.Add([]byte("k"), []byte("old"))
	wb.Add([]byte("k"), []byte("new"))

	entries := wb.FinishAndSort()
	require.Len(t, entries, 2)
}

func TestWriteBufferUnorderedKeepsInsertionOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.Unordered = true
	opts.UniqueKeys = false
	wb := NewWriteBuffer(&opts, 1<<20)

	wb.Add([]byte("c"), []byte("3"))
	wb.Add([]byte("a"), []byte("1"))
	wb.Add([]byte("b"), []byte("2"))

	entries := wb.FinishAndSort()
	require.Equal(t, []byte("c"), entries[0].Key)
	require.Equal(t, []byte("a"), entries[1].Key)
	require.Equal(t, []byte("b"), entries[2].Key)
}

func TestWriteBufferHasRoom(t *testing.T) {
	opts := DefaultOptions()
	wb := NewWriteBuffer(&opts, 16)

	require.True(t, wb.HasRoom([]byte("k"), []byte("v")))
	wb.Add([]byte("k"), []byte("v"))
	require.False(t, wb.HasRoom([]byte("much-longer-key"), []byte("much-longer-value")))
}

func TestWriteBufferEmpty(t *testing.T) {
	opts := DefaultOptions()
	wb := NewWriteBuffer(&opts, 1<<20)
	require.True(t, wb.Empty())
	wb.Add([]byte("k"), []byte("v"))
	require.False(t, wb.Empty())
}
