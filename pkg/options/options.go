// Package options provides data structures and functions for configuring
// the Pelikan storage engine. It defines the parameters that control the
// engine's memory footprint, segment geometry, hash table sizing,
// eviction policy, optional datapool persistence, and session buffer
// sizing — the `seg` and `buf` sections of the process configuration
// file (see internal/config for the full process-wide surface, which
// embeds an *Options for its `seg`/`buf` sections).
package options

import (
	"strings"
	"time"
)

// EvictionPolicy selects the strategy the engine uses when it needs a
// segment and the free pool is empty (spec §4.5.2).
type EvictionPolicy string

const (
	// EvictionNone disables eviction entirely; writes fail when out of space.
	EvictionNone EvictionPolicy = "none"
	// EvictionRandom picks a random accessible, evictable segment.
	EvictionRandom EvictionPolicy = "random"
	// EvictionFIFO picks the oldest segment in the most-populated bucket.
	EvictionFIFO EvictionPolicy = "fifo"
	// EvictionCTE picks the segment closest to (but not past) expiration.
	EvictionCTE EvictionPolicy = "cte"
	// EvictionUtil merges a run of sparsely-populated segments into one.
	EvictionUtil EvictionPolicy = "util"
)

// segmentOptions configures the fixed-size regions the heap is carved
// into and, optionally, the eviction policy applied when none are free.
type segmentOptions struct {
	// Size is the byte size of each fixed-size segment.
	//
	//  - Default: 1MiB
	//  - Maximum: 4GiB
	//  - Minimum: 512KiB
	Size uint64 `json:"segmentSize" toml:"segment_size"`

	// HeapSize is the total byte size of the datapool-backed heap; it is
	// divided into Size-byte segments, so HeapSize/Size gives the segment
	// count.
	//
	// Default: 1GiB
	HeapSize uint64 `json:"heapSize" toml:"heap_size"`

	// HashPower is log2 of the number of primary hash-table buckets
	// (spec §4.4): the table has 2^HashPower buckets of 8 slots each.
	//
	// Default: 16 (65536 buckets, ~524288 primary slots)
	HashPower uint8 `json:"hashPower" toml:"hash_power"`

	// OverflowFactor is the fraction of the primary bucket count set
	// aside as the spare overflow-bucket pool (spec §4.4).
	//
	// Default: 0.1 (10% spare overflow buckets)
	OverflowFactor float64 `json:"overflowFactor" toml:"overflow_factor"`

	// Eviction selects the eviction strategy used on segment exhaustion.
	//
	// Default: EvictionCTE
	Eviction EvictionPolicy `json:"eviction" toml:"eviction"`

	// Directory is where datapool snapshot files are stored, if Restore
	// (or a persistent Datapool variant) is enabled.
	//
	// Default: "/var/lib/pelikan/segments"
	Directory string `json:"directory" toml:"datapool_path"`

	// Prefix is the filename prefix used for datapool snapshot files.
	// Final filename: `prefix_NNNNN_timestamp.seg`.
	//
	// Default: "segment"
	Prefix string `json:"prefix" toml:"prefix"`

	// DatapoolSize is the total size (header + data, rounded up to a
	// whole number of pages) of the file-backed datapool snapshot, when
	// persistence is enabled. Zero means "pure memory, no persistence".
	//
	// Default: 0
	DatapoolSize uint64 `json:"datapoolSize" toml:"datapool_size"`

	// Restore, when true and a datapool snapshot file is present at
	// Directory/Prefix, reopens and validates it instead of starting
	// from an empty heap.
	//
	// Default: false
	Restore bool `json:"restore" toml:"restore"`
}

// bufOptions configures per-session read/write buffer sizing (spec
// §6.3's `buf` section).
type bufOptions struct {
	// InitSize is the initial capacity allocated for a new session's
	// read and write buffers.
	//
	// Default: 16KiB
	InitSize uint32 `json:"initSize" toml:"init_size"`

	// MaxSize caps how large a session buffer may grow before the
	// session is considered pathological and closed.
	//
	// Default: 1MiB
	MaxSize uint32 `json:"maxSize" toml:"max_size"`
}

// Options holds the full configuration of one storage-engine instance.
type Options struct {
	// DataDir is the base path under which Directory is resolved.
	//
	// Default: "/var/lib/pelikan"
	DataDir string `json:"dataDir" toml:"data_dir"`

	// ExpireInterval controls how often the expiration tick (spec
	// §4.5.3) sweeps the TTL buckets for expired segments.
	//
	// Default: 1s
	ExpireInterval time.Duration `json:"expireInterval" toml:"expire_interval"`

	// SegmentOptions configures heap/segment/hash/eviction/persistence.
	SegmentOptions *segmentOptions `json:"segmentOptions" toml:"seg"`

	// BufOptions configures session buffer sizing.
	BufOptions *bufOptions `json:"bufOptions" toml:"buf"`
}

// OptionFunc mutates an Options value; used with NewDefaultOptions to
// build a customized configuration one field at a time.
type OptionFunc func(*Options)

// WithDefaultOptions resets every field to its documented default.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		opts := NewDefaultOptions()
		*o = opts
	}
}

// WithDataDir sets the base data directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithExpireInterval sets the expiration tick interval.
func WithExpireInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.ExpireInterval = interval
		}
	}
}

// WithSegmentDir sets the directory datapool snapshot files live in.
func WithSegmentDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.SegmentOptions.Directory = directory
		}
	}
}

// WithSegmentPrefix sets the filename prefix for datapool snapshot files.
func WithSegmentPrefix(prefix string) OptionFunc {
	return func(o *Options) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			o.SegmentOptions.Prefix = prefix
		}
	}
}

// WithSegmentSize sets the byte size of each segment.
func WithSegmentSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size >= MinSegmentSize && size <= MaxSegmentSize {
			o.SegmentOptions.Size = size
		}
	}
}

// WithHeapSize sets the total heap size backing the segment pool.
func WithHeapSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.SegmentOptions.HeapSize = size
		}
	}
}

// WithHashPower sets log2 of the primary hash-table bucket count.
func WithHashPower(power uint8) OptionFunc {
	return func(o *Options) {
		if power > 0 && power <= MaxHashPower {
			o.SegmentOptions.HashPower = power
		}
	}
}

// WithOverflowFactor sets the spare-overflow-bucket fraction.
func WithOverflowFactor(factor float64) OptionFunc {
	return func(o *Options) {
		if factor > 0 && factor < 1 {
			o.SegmentOptions.OverflowFactor = factor
		}
	}
}

// WithEviction selects the eviction policy.
func WithEviction(policy EvictionPolicy) OptionFunc {
	return func(o *Options) {
		switch policy {
		case EvictionNone, EvictionRandom, EvictionFIFO, EvictionCTE, EvictionUtil:
			o.SegmentOptions.Eviction = policy
		}
	}
}

// WithDatapoolSize enables file-backed persistence with the given total
// (header + data) size.
func WithDatapoolSize(size uint64) OptionFunc {
	return func(o *Options) {
		o.SegmentOptions.DatapoolSize = size
	}
}

// WithRestore enables or disables reopening an existing datapool
// snapshot on startup.
func WithRestore(restore bool) OptionFunc {
	return func(o *Options) {
		o.SegmentOptions.Restore = restore
	}
}

// WithBufSizes sets the initial and maximum session buffer sizes.
func WithBufSizes(initSize, maxSize uint32) OptionFunc {
	return func(o *Options) {
		if initSize > 0 && maxSize >= initSize {
			o.BufOptions.InitSize = initSize
			o.BufOptions.MaxSize = maxSize
		}
	}
}
