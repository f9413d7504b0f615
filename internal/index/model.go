package index

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Index is the public wrapper around Table: the engine's single point
// of entry for resolving keys to (segment id, offset) pairs. Table
// itself assumes a single writer (spec §4.4) and Index adds no locking
// of its own; it adds only the atomic closed-flag lifecycle guard the rest of this
// codebase uses, so callers get a consistent "operation on a closed
// component" error regardless of which piece they're talking to.
type Index struct {
	log    *zap.SugaredLogger
	table  *Table
	closed atomic.Bool
}

// Config encapsulates the configuration parameters required to
// initialize an Index.
type Config struct {
	// HashPower is log2 of the primary bucket count (spec §4.4).
	HashPower uint8
	// OverflowFactor is the fraction of primary buckets set aside as
	// the spare overflow-bucket pool.
	OverflowFactor float64
	// Reader confirms tag matches by reading a candidate item's full
	// key back from storage.
	Reader KeyReader
	Logger *zap.SugaredLogger
}
