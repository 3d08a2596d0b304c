package plfsio

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chuckcranor/deltafs/pkg/sidelog"
)

func smallOptions() Options {
	opts := DefaultOptions()
	opts.LgParts = 2
	opts.TotalMemtableBudget = 1 << 16
	opts.BlockSize = 256
	opts.Compression = CompressionNone
	return opts
}

func TestDirEmptyEpoch(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir, smallOptions())
	require.NoError(t, err)

	require.NoError(t, d.EndEpoch(0))
	require.NoError(t, d.Finish())

	data, err := os.ReadFile(dir + "/MANIFEST")
	require.NoError(t, err)
	numEntries, _, err := ParseManifestFooter(data[len(data)-24:])
	require.NoError(t, err)
	require.Equal(t, uint64(0), numEntries)
}

func TestDirSingleEpoch(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir, smallOptions())
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, d.Add([]byte(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("value-%04d", i)), 0))
	}
	require.NoError(t, d.EndEpoch(0))
	require.NoError(t, d.Finish())

	data, err := os.ReadFile(dir + "/MANIFEST")
	require.NoError(t, err)
	numEntries, _, err := ParseManifestFooter(data[len(data)-24:])
	require.NoError(t, err)
	require.Greater(t, numEntries, uint64(0))
}

func TestDirMultiEpochNonUnique(t *testing.T) {
	dir := t.TempDir()
	opts := smallOptions()
	opts.UniqueKeys = false
	d, err := Open(dir, opts)
	require.NoError(t, err)

	for epoch := 0; epoch < 3; epoch++ {
		for i := 0; i < 20; i++ {
			require.NoError(t, d.Add([]byte(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("epoch-%d", epoch)), uint64(epoch)))
		}
		require.NoError(t, d.EndEpoch(uint64(epoch)))
	}
	require.NoError(t, d.Finish())

	data, err := os.ReadFile(dir + "/MANIFEST")
	require.NoError(t, err)
	numEntries, _, err := ParseManifestFooter(data[len(data)-24:])
	require.NoError(t, err)
	require.Greater(t, numEntries, uint64(0))
}

func TestDirLargeBatch(t *testing.T) {
	dir := t.TempDir()
	opts := smallOptions()
	opts.TotalMemtableBudget = 1 << 20
	d, err := Open(dir, opts)
	require.NoError(t, err)

	const n = 65536
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%08d", i)
		require.NoError(t, d.Add([]byte(key), []byte("v"), 0))
	}
	require.NoError(t, d.EndEpoch(0))
	require.NoError(t, d.Finish())
}

func TestDirFilterOff(t *testing.T) {
	dir := t.TempDir()
	opts := smallOptions()
	opts.Filter = FilterNone
	d, err := Open(dir, opts)
	require.NoError(t, err)

	require.NoError(t, d.Add([]byte("a"), []byte("1"), 0))
	require.NoError(t, d.EndEpoch(0))
	require.NoError(t, d.Finish())
}

func TestDirBackpressureBlocksUntilCompactionDrains(t *testing.T) {
	dir := t.TempDir()
	opts := smallOptions()
	opts.LgParts = 0
	opts.TotalMemtableBudget = 4096
	d, err := Open(dir, opts)
	require.NoError(t, err)

	// Enough writes to force several compactions within one partition's
	// small budget; Add must never error or deadlock here.
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("k%06d", i)
		require.NoError(t, d.Add([]byte(key), []byte("some moderately sized value payload"), 0))
	}
	require.NoError(t, d.Finish())
}

func TestDirSingleEpochWithSideLog(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir, smallOptions())
	require.NoError(t, err)

	side, err := sidelog.Open(filepath.Join(dir, "side.log"), 4096, 0, func(job func()) { job() })
	require.NoError(t, err)
	d.AttachSideLog(side)

	for i := 1; i <= 6; i++ {
		require.NoError(t, d.Add([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)), 0))
	}
	for _, b := range []string{"a", "b", "c", "x", "y", "z"} {
		_, err := side.Append([]byte(b))
		require.NoError(t, err)
	}

	require.NoError(t, d.EndEpoch(0))
	require.NoError(t, d.Finish())

	data, err := os.ReadFile(filepath.Join(dir, "side.log"))
	require.NoError(t, err)
	require.Equal(t, "abcxyz", string(data))
}

// TestDirFlushDoesNotAdvanceEpoch exercises the sub-epoch flush the
// source distinguishes from an epoch flush: Flush seals buffers into
// tables, but records added afterward are still attributed to the same
// epoch, and the manifest accumulates entries from both flushes under
// that one epoch's record.
func TestDirFlushDoesNotAdvanceEpoch(t *testing.T) {
	dir := t.TempDir()
	opts := smallOptions()
	opts.LgParts = 0
	d, err := Open(dir, opts)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, d.Add([]byte(fmt.Sprintf("key-%04d", i)), []byte("v"), 0))
	}
	require.NoError(t, d.Flush(true))
	require.Equal(t, uint64(0), d.currentEpoch())

	for i := 20; i < 40; i++ {
		require.NoError(t, d.Add([]byte(fmt.Sprintf("key-%04d", i)), []byte("v"), 0))
	}
	require.NoError(t, d.Flush(true))
	require.Equal(t, uint64(0), d.currentEpoch())

	require.NoError(t, d.Finish())

	data, err := os.ReadFile(dir + "/MANIFEST")
	require.NoError(t, err)
	body := data[:len(data)-24]
	epoch, entries, n, err := ParseManifestRecord(body)
	require.NoError(t, err)
	require.Equal(t, uint64(0), epoch)
	require.Len(t, entries, 2)
	require.Equal(t, len(body), n)
}

func TestDirFinishIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir, smallOptions())
	require.NoError(t, err)

	require.NoError(t, d.Add([]byte("a"), []byte("1"), 0))
	require.NoError(t, d.Finish())
	require.Error(t, d.Finish())
}

func TestDirAddRejectsStaleEpoch(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir, smallOptions())
	require.NoError(t, err)

	require.NoError(t, d.Add([]byte("a"), []byte("1"), 0))
	require.NoError(t, d.EndEpoch(0))

	err = d.Add([]byte("b"), []byte("2"), 0)
	require.Error(t, err, "an insert naming an epoch older than the current one must be rejected")
	require.Equal(t, InvalidArgument, CodeOf(err))

	require.NoError(t, d.Add([]byte("c"), []byte("3"), 1))
	require.NoError(t, d.Finish())
}

func TestDirEndEpochRejectsMismatchedEpoch(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir, smallOptions())
	require.NoError(t, err)

	err = d.EndEpoch(5)
	require.Error(t, err, "EndEpoch must assert its argument equals the current epoch")
	require.Equal(t, InvalidArgument, CodeOf(err))

	require.NoError(t, d.EndEpoch(0))
	require.NoError(t, d.Finish())
}

func TestDirAddAfterFinishFails(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir, smallOptions())
	require.NoError(t, err)
	require.NoError(t, d.Finish())

	err = d.Add([]byte("a"), []byte("1"), 0)
	require.Error(t, err)
}
