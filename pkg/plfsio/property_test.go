package plfsio

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// TestBlockRoundTripProperty is spec.md §8's round-trip law: encoding a
// block and decoding it yields the original records back, for any
// sequence of keys and values within a partition's working set.
func TestBlockRoundTripProperty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("variable-size block decodes back the same records", prop.ForAll(
		func(keys, values []string) bool {
			n := len(keys)
			if len(values) < n {
				n = len(values)
			}
			opts := DefaultOptions()
			opts.BlockRestartInterval = 4
			b := NewBlockBuilder(&opts)
			for i := 0; i < n; i++ {
				b.Add([]byte(keys[i]), []byte(values[i]))
			}
			raw := b.Finish()

			contents, _, err := DecodeBlock(raw, true)
			if err != nil {
				return false
			}
			got, err := ParseVariableEntries(contents)
			if err != nil {
				return false
			}
			if len(got) != n {
				return false
			}
			for i := 0; i < n; i++ {
				if string(got[i].Key) != keys[i] || string(got[i].Value) != values[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("write buffer ordered+unique collapses duplicate keys to the last value", prop.ForAll(
		func(n int) bool {
			if n <= 0 {
				return true
			}
			opts := DefaultOptions()
			opts.UniqueKeys = true
			wb := NewWriteBuffer(&opts, 1<<20)
			for i := 0; i < n; i++ {
				wb.Add([]byte("k"), []byte{byte(i)})
			}
			entries := wb.FinishAndSort()
			return len(entries) == 1 && entries[0].Value[0] == byte(n-1)
		},
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}

// TestBloomFilterNeverFalseNegative is spec.md §8's invariant that a
// filter never rejects a key it was built with, for any key set.
func TestBloomFilterNeverFalseNegative(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("every added key is reported present", prop.ForAll(
		func(keys []string) bool {
			b := NewBloomFilterBuilder(10)
			for _, k := range keys {
				b.Add([]byte(k))
			}
			block := b.Finish()
			for _, k := range keys {
				if !BloomFilterMayContain(block, []byte(k)) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestCuckooFilterNeverFalseNegative mirrors the bloom filter property
// for the cuckoo filter, including its victim-spill path.
func TestCuckooFilterNeverFalseNegative(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("every added key's value is recoverable even when victims spill", prop.ForAll(
		func(n int) bool {
			c := NewCuckooFilterBuilder(32, 12, 0, 0.95)
			for i := 0; i < n; i++ {
				c.Add([]byte{byte(i), byte(i >> 8)}, 0)
			}
			block := c.Finish()
			for i := 0; i < n; i++ {
				vals := CuckooFilterLookup(block, []byte{byte(i), byte(i >> 8)})
				if len(vals) == 0 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}

func TestManifestNumEntriesRoundTrip(t *testing.T) {
	sink := &memSink{}
	mw := NewManifestWriter(sink)
	var total uint64
	for i := 0; i < 5; i++ {
		e := ManifestEntry{
			Epoch:        uint64(i),
			Partition:    i,
			TableHandle:  BlockHandle{Offset: 0, Size: uint64(100 + i)},
			FilterHandle: BlockHandle{Offset: uint64(100 + i), Size: uint64(10 + i)},
			FirstKey:     []byte("a"),
			LastKey:      []byte("z"),
		}
		require.NoError(t, mw.Append(e))
		total++
	}
	require.NoError(t, mw.Finish())

	footer := sink.data[len(sink.data)-24:]
	numEntries, _, err := ParseManifestFooter(footer)
	require.NoError(t, err)
	require.Equal(t, total, numEntries)
}

type memSink struct {
	data []byte
}

func (m *memSink) Write(p []byte) (int, error) {
	m.data = append(m.data, p...)
	return len(p), nil
}
