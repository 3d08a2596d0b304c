// Package pools provides object pooling for reducing GC pressure on the
// write path, where every insert otherwise allocates a fresh key/value
// buffer and every compaction allocates a fresh offset array.
//
//   - BytePool: size-class based byte slice pooling for key/value staging
//   - Uint64Pool: pooling for the write buffer's sort offset array
//   - BufferBuilder: buffer construction with pooling, used by the block
//     and table builders for trailer/footer assembly
package pools
