package plfsio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableBuilderRoundTrip(t *testing.T) {
	opts := DefaultOptions()
	opts.Compression = CompressionNone
	opts.IndexCompression = CompressionNone
	opts.BlockSize = 64 // force multiple data blocks

	var out bytes.Buffer
	tb := NewTableBuilder(&opts, &out, 0, 16)

	want := []Entry{
		{Key: []byte("k01"), Value: []byte("value-one")},
		{Key: []byte("k02"), Value: []byte("value-two")},
		{Key: []byte("k03"), Value: []byte("value-three")},
		{Key: []byte("k04"), Value: []byte("value-four")},
		{Key: []byte("k05"), Value: []byte("value-five")},
	}
	for _, e := range want {
		tb.Add(e.Key, e.Value)
	}

	tableLen, err := tb.Finish()
	require.NoError(t, err)
	require.Equal(t, uint64(out.Len()), tableLen)

	data := out.Bytes()
	footer := data[len(data)-tableFooterSize:]
	filterHandle, indexHandle, parsedLen, err := ParseFooter(footer)
	require.NoError(t, err)
	require.Equal(t, tableLen, parsedLen)

	indexBlockBytes := data[indexHandle.Offset : indexHandle.Offset+indexHandle.Size]
	indexContents, _, err := DecodeBlock(indexBlockBytes, true)
	require.NoError(t, err)
	indexEntries, err := ParseVariableEntries(indexContents)
	require.NoError(t, err)
	require.NotEmpty(t, indexEntries)

	var got []Entry
	for _, ie := range indexEntries {
		handle, _ := decodeBlockHandle(ie.Value)
		blockBytes := data[handle.Offset : handle.Offset+handle.Size]
		contents, _, err := DecodeBlock(blockBytes, true)
		require.NoError(t, err)
		entries, err := ParseVariableEntries(contents)
		require.NoError(t, err)
		got = append(got, entries...)
	}
	require.Len(t, got, len(want))
	for i, e := range want {
		require.Equal(t, e.Key, got[i].Key)
		require.Equal(t, e.Value, got[i].Value)
	}

	filterBlock := data[filterHandle.Offset : filterHandle.Offset+filterHandle.Size]
	for _, e := range want {
		require.True(t, BloomFilterMayContain(filterBlock, e.Key))
	}

	dataBytes, filterBytes, indexBytes := tb.Sizes()
	require.Greater(t, dataBytes, int64(0))
	require.Greater(t, filterBytes, int64(0))
	require.Greater(t, indexBytes, int64(0))
}

func TestTableBuilderCuckooFilter(t *testing.T) {
	opts := DefaultOptions()
	opts.Filter = FilterCuckoo
	opts.Compression = CompressionNone

	var out bytes.Buffer
	tb := NewTableBuilder(&opts, &out, 0, 8)
	tb.Add([]byte("a"), []byte("1"))
	tb.Add([]byte("b"), []byte("2"))

	_, err := tb.Finish()
	require.NoError(t, err)
	require.NotZero(t, out.Len())
}

func TestTableBuilderNoFilter(t *testing.T) {
	opts := DefaultOptions()
	opts.Filter = FilterNone
	opts.Compression = CompressionNone

	var out bytes.Buffer
	tb := NewTableBuilder(&opts, &out, 0, 0)
	tb.Add([]byte("a"), []byte("1"))

	tableLen, err := tb.Finish()
	require.NoError(t, err)
	require.NotZero(t, tableLen)
}

// TestTableBuilderConcatenation exercises the shape a partition's single
// file relies on: a second table starting at a nonzero offset produces
// handles addressed into the shared file, not relative to its own start.
func TestTableBuilderConcatenation(t *testing.T) {
	opts := DefaultOptions()
	opts.Compression = CompressionNone

	var out bytes.Buffer
	first := NewTableBuilder(&opts, &out, 0, 4)
	first.Add([]byte("a"), []byte("1"))
	firstLen, err := first.Finish()
	require.NoError(t, err)
	require.Equal(t, uint64(out.Len()), firstLen)

	second := NewTableBuilder(&opts, &out, firstLen, 4)
	second.Add([]byte("b"), []byte("2"))
	secondLen, err := second.Finish()
	require.NoError(t, err)
	require.Equal(t, uint64(out.Len()), firstLen+secondLen)

	fh := second.FilterHandle()
	require.GreaterOrEqual(t, fh.Offset, firstLen)

	filterBlock := out.Bytes()[fh.Offset : fh.Offset+fh.Size]
	require.True(t, BloomFilterMayContain(filterBlock, []byte("b")))
}
