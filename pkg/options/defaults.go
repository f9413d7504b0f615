package options

import "time"

const (
	// DefaultDataDir is where Pelikan stores files absent explicit config.
	DefaultDataDir = "/var/lib/pelikan"

	// DefaultExpireInterval is how often the expiration tick runs.
	DefaultExpireInterval = time.Second

	// MinSegmentSize is the smallest allowed segment size (512KiB).
	MinSegmentSize uint64 = 512 * 1024
	// MaxSegmentSize is the largest allowed segment size (4GiB).
	MaxSegmentSize uint64 = 4 * 1024 * 1024 * 1024
	// DefaultSegmentSize is the segment size used absent explicit config (1MiB).
	DefaultSegmentSize uint64 = 1 * 1024 * 1024

	// DefaultHeapSize is the total heap size used absent explicit config (1GiB).
	DefaultHeapSize uint64 = 1 * 1024 * 1024 * 1024

	// MaxHashPower bounds HashPower so 2^HashPower*8 slots stays addressable
	// with the 20-bit segment-id / 10-bit tag / 29-bit offset slot layout.
	MaxHashPower uint8 = 26
	// DefaultHashPower gives 65536 primary buckets (524288 primary slots).
	DefaultHashPower uint8 = 16

	// DefaultOverflowFactor reserves 10% extra buckets for overflow chains.
	DefaultOverflowFactor = 0.1

	// DefaultSegmentDirectory is the default subdirectory for datapool
	// snapshot files, relative to DataDir.
	DefaultSegmentDirectory = "/segments"
	// DefaultSegmentPrefix is the default datapool snapshot filename prefix.
	DefaultSegmentPrefix = "segment"

	// DefaultBufInitSize is the initial session buffer capacity (16KiB).
	DefaultBufInitSize uint32 = 16 * 1024
	// DefaultBufMaxSize is the maximum session buffer capacity (1MiB).
	DefaultBufMaxSize uint32 = 1024 * 1024
)

// NewDefaultOptions returns the documented default engine configuration.
func NewDefaultOptions() Options {
	return Options{
		DataDir:        DefaultDataDir,
		ExpireInterval: DefaultExpireInterval,
		SegmentOptions: &segmentOptions{
			Size:           DefaultSegmentSize,
			HeapSize:       DefaultHeapSize,
			HashPower:      DefaultHashPower,
			OverflowFactor: DefaultOverflowFactor,
			Eviction:       EvictionCTE,
			Directory:      DefaultSegmentDirectory,
			Prefix:         DefaultSegmentPrefix,
			DatapoolSize:   0,
			Restore:        false,
		},
		BufOptions: &bufOptions{
			InitSize: DefaultBufInitSize,
			MaxSize:  DefaultBufMaxSize,
		},
	}
}
