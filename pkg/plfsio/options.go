package plfsio

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/chuckcranor/deltafs/internal/optvalidate"
)

// Compression selects a per-block compression codec.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
)

// FilterKind selects the filter built for each table.
type FilterKind string

const (
	FilterNone   FilterKind = "none"
	FilterBloom  FilterKind = "bloom"
	FilterCuckoo FilterKind = "cuckoo"
)

// Options configures a Dir at Open. The zero value is not valid; use
// DefaultOptions and override fields, or LoadOptions to read a YAML file.
type Options struct {
	// LgParts is P: the directory has 2^P partitions.
	LgParts int `yaml:"lg_parts" validate:"gte=0,lte=20"`

	// TotalMemtableBudget is the total byte budget for write buffers,
	// divided across partitions and their double buffer.
	TotalMemtableBudget int64 `yaml:"total_memtable_budget" validate:"gt=0"`

	BlockSize      int  `yaml:"block_size" validate:"gt=0"`
	BlockPadding   bool `yaml:"block_padding"`
	BlockBatchSize int  `yaml:"block_batch_size" validate:"gte=0"`
	// BlockRestartInterval is R: a restart point is recorded every R keys
	// in variable-size mode.
	BlockRestartInterval int `yaml:"block_restart_interval" validate:"gte=1"`

	Compression       Compression `yaml:"compression" validate:"oneof=none snappy"`
	ForceCompression  bool        `yaml:"force_compression"`
	IndexCompression  Compression `yaml:"index_compression" validate:"oneof=none snappy"`
	// CompressionRatio is the minimum shrinkage (0,1) a block must achieve
	// to be stored compressed when ForceCompression is false.
	CompressionRatio float64 `yaml:"compression_ratio" validate:"gt=0,lt=1"`

	Filter        FilterKind `yaml:"filter" validate:"oneof=none bloom cuckoo"`
	BFBitsPerKey  int        `yaml:"bf_bits_per_key" validate:"gte=0"`
	CuckooFrac    float64    `yaml:"cuckoo_frac" validate:"gte=0,lte=1"`

	FixedKV            bool `yaml:"fixed_kv"`
	KeySize            int  `yaml:"key_size" validate:"gte=0"`
	ValueSize          int  `yaml:"value_size" validate:"gte=0"`
	LeveldbCompatible  bool `yaml:"leveldb_compatible"`
	UniqueKeys         bool `yaml:"unique_keys"`
	Unordered          bool `yaml:"unordered"`

	DataBuffer     int64 `yaml:"data_buffer" validate:"gte=0"`
	MinDataBuffer  int64 `yaml:"min_data_buffer" validate:"gte=0"`
	IndexBuffer    int64 `yaml:"index_buffer" validate:"gte=0"`
	MinIndexBuffer int64 `yaml:"min_index_buffer" validate:"gte=0"`

	VerifyChecksums bool `yaml:"verify_checksums"`
	ParanoidChecks  bool `yaml:"paranoid_checks"`
	Rank            int  `yaml:"rank" validate:"gte=0"`
}

// DefaultOptions returns the baseline configuration: one partition, 64MiB
// memtable budget, 4KiB blocks with padding off, snappy compression only
// when it shrinks a block by 12.5%, a bloom filter at 10 bits per key.
func DefaultOptions() Options {
	return Options{
		LgParts:              0,
		TotalMemtableBudget:  64 << 20,
		BlockSize:            4096,
		BlockPadding:         false,
		BlockBatchSize:       0,
		BlockRestartInterval: 16,
		Compression:          CompressionSnappy,
		ForceCompression:     false,
		IndexCompression:     CompressionNone,
		CompressionRatio:     0.125,
		Filter:               FilterBloom,
		BFBitsPerKey:         10,
		CuckooFrac:           0.95,
		FixedKV:              false,
		KeySize:              0,
		ValueSize:            0,
		LeveldbCompatible:    false,
		UniqueKeys:           true,
		Unordered:            false,
		DataBuffer:           4 << 20,
		MinDataBuffer:        4 << 10,
		IndexBuffer:          4 << 20,
		MinIndexBuffer:       4 << 10,
		VerifyChecksums:      true,
		ParanoidChecks:       false,
		Rank:                 0,
	}
}

// Validate checks every field's range/enum constraint via struct tags, then
// the cross-field invariants that tags can't express (unordered mode vs.
// unique_keys, fixed_kv vs. declared key/value sizes).
func (o *Options) Validate() error {
	if err := optvalidate.ValidateStruct(o); err != nil {
		return NewError("Validate").Component("Options").Cause(err).Code(InvalidArgument).Err()
	}
	if err := optvalidate.CrossFieldChecks(o.Unordered, o.UniqueKeys, o.FixedKV, o.KeySize, o.ValueSize); err != nil {
		return NewError("Validate").Component("Options").Cause(err).Code(InvalidArgument).Err()
	}
	return nil
}

// NumParts returns 2^LgParts, the partition count.
func (o *Options) NumParts() int {
	return 1 << o.LgParts
}

// LoadOptions reads a YAML file into Options starting from DefaultOptions,
// then applies the environment-variable overrides named in the observable
// CLI surface, then validates the merged result.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Options{}, NewError("LoadOptions").Component("Options").Context(path).Cause(err).Code(IOError).Err()
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return Options{}, NewError("LoadOptions").Component("Options").Context(path).Cause(err).Code(Corruption).Err()
		}
	}

	applyEnvOverrides(&opts)

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// applyEnvOverrides mirrors the original CLI glue's environment variable
// surface: COMPRESSION, FORCE_COMPRESSION, INDEX_COMPRESSION, SNAPPY, and
// BF_BITS_PER_KEY override whatever the YAML file or defaults set.
func applyEnvOverrides(opts *Options) {
	if v := os.Getenv("COMPRESSION"); v != "" {
		opts.Compression = Compression(v)
	}
	if v := os.Getenv("INDEX_COMPRESSION"); v != "" {
		opts.IndexCompression = Compression(v)
	}
	if v := os.Getenv("FORCE_COMPRESSION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.ForceCompression = b
		}
	}
	if v := os.Getenv("SNAPPY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			opts.Compression = CompressionSnappy
		}
	}
	if v := os.Getenv("BF_BITS_PER_KEY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.BFBitsPerKey = n
		}
	}
}
