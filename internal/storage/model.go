package storage

import (
	"sync/atomic"

	"github.com/iamNilotpal/pelikan/internal/datapool"
	"github.com/iamNilotpal/pelikan/internal/segment"
	"github.com/iamNilotpal/pelikan/internal/ttlbucket"
	"github.com/iamNilotpal/pelikan/pkg/options"
	"go.uber.org/zap"
)

// Storage owns the byte-level half of the engine: the Datapool-backed
// segment heap and its TTL buckets. It knows nothing about keys, CAS,
// or eviction policy — those live in internal/engine, which treats
// Storage as its segment/bucket allocator and as the index's KeyReader
// (spec §4.4's tag-collision confirmation).
//
// This plays the role the teacher's original file-segment Storage
// played (owning "the currently active segment" and rotating to a new
// one on exhaustion), except the active segment is now tracked per TTL
// bucket by ttlbucket.Buckets rather than as a single package-global
// file handle.
type Storage struct {
	options *options.Options
	log     *zap.SugaredLogger
	closed  atomic.Bool

	pool    datapool.Pool
	heap    *segment.Heap
	buckets *ttlbucket.Buckets
}

// Config encapsulates all the configuration parameters required to initialize a Storage instance.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}
