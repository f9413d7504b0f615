// Package engine provides the core database engine implementation for the
// Pelikan storage system (spec §4.5, component "Seg").
//
// The engine serves as the central coordinator and entry point for all
// cache operations. It orchestrates the interaction between the
// subsystems built up underneath it:
//   - Index: the open-addressed hash table resolving keys to (segment, offset)
//   - Storage: the Datapool-backed segment heap and TTL buckets
//   - Compaction: relocation mechanics behind the Util eviction policy
//
// Unlike the teacher's original write-ahead-log engine, Seg has no
// durability guarantee across process restart by default (persistence
// is opt-in via a file-backed Datapool, spec §4.1) and every write goes
// through a fixed-size segment rather than an ever-growing log file.
// The lifecycle shape — atomic closed-flag, Config-driven New,
// subsystem composition in Close — is kept from the teacher.
package engine

import (
	"context"
	"encoding/binary"
	stdErrors "errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iamNilotpal/pelikan/internal/index"
	"github.com/iamNilotpal/pelikan/internal/segment"
	"github.com/iamNilotpal/pelikan/internal/storage"
	"github.com/iamNilotpal/pelikan/internal/ttlbucket"
	"github.com/iamNilotpal/pelikan/pkg/errors"
	"github.com/iamNilotpal/pelikan/pkg/options"
	"go.uber.org/zap"
)

// ErrEngineClosed is returned when attempting to perform operations on a closed engine.
var ErrEngineClosed = stdErrors.New("operation failed: cannot access closed engine")

// freqThreshold is the access-frequency count past which BumpFreq on a
// Get becomes probabilistic rather than unconditional (spec §4.5: "always
// at low counts; with probability 2^-(f-threshold) past a threshold to
// bound counter growth").
const freqThreshold = 8

// Engine represents the main database engine that coordinates all subsystems.
// It acts as the primary interface for cache operations and manages the
// lifecycle of all internal components.
type Engine struct {
	options *options.Options
	log     *zap.SugaredLogger
	closed  atomic.Bool

	index   *index.Index
	storage *storage.Storage

	expireCancel context.CancelFunc
	expireDone   chan struct{}

	flushMu    sync.Mutex
	flushTimer *time.Timer
}

// Config holds all the parameters needed to initialize a new Engine instance.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New creates and initializes a new Engine instance with the provided
// configuration, wiring Storage (the segment heap + TTL buckets) and
// Index (the hash table, using Storage as its KeyReader) together, then
// starts the background expiration sweep (spec §4.5.3).
func New(ctx context.Context, config *Config) (*Engine, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "engine configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}

	store, err := storage.New(ctx, &storage.Config{Logger: config.Logger, Options: config.Options})
	if err != nil {
		return nil, err
	}

	idx, err := index.New(ctx, &index.Config{
		HashPower:      config.Options.SegmentOptions.HashPower,
		OverflowFactor: config.Options.SegmentOptions.OverflowFactor,
		Reader:         store,
		Logger:         config.Logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	expireCtx, cancel := context.WithCancel(ctx)
	e := &Engine{
		options:      config.Options,
		log:          config.Logger,
		index:        idx,
		storage:      store,
		expireCancel: cancel,
		expireDone:   make(chan struct{}),
	}

	go e.expireLoop(expireCtx)
	return e, nil
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// Close gracefully shuts down the engine: stops the expiration sweep,
// cancels any pending flush_all timer, then closes Index and Storage.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	e.expireCancel()
	<-e.expireDone

	e.flushMu.Lock()
	if e.flushTimer != nil {
		e.flushTimer.Stop()
	}
	e.flushMu.Unlock()

	if err := e.index.Close(); err != nil {
		e.log.Errorw("closing index", "error", err)
	}
	return e.storage.Close()
}

// expireLoop ticks at options.ExpireInterval, sweeping every TTL bucket
// for segments whose absolute expiration has passed (spec §4.5.3).
func (e *Engine) expireLoop(ctx context.Context) {
	defer close(e.expireDone)

	ticker := time.NewTicker(e.options.ExpireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := e.Expire()
			if n > 0 {
				e.log.Debugw("expired segments", "count", n)
			}
		}
	}
}

// Expire runs one expiration sweep immediately, independent of the
// background ticker, and returns how many segments were reclaimed.
func (e *Engine) Expire() int {
	return e.storage.Buckets().Expire(time.Now(), e.stripHashEntries)
}

// stripHashEntries removes every live item's hash-table entry before a
// segment is returned to the free pool, per spec §4.3's expire_segment.
func (e *Engine) stripHashEntries(seg *segment.Segment) {
	seg.IterItems(func(offset uint32, hdr segment.ItemHeader, key, value []byte) bool {
		if !hdr.Deleted() {
			e.index.Remove(key)
		}
		return true
	})
}

func engineErr(code errors.ErrorCode, msg string, key []byte, op string) *errors.EngineError {
	return errors.NewEngineError(nil, code, msg).WithKey(string(key)).WithOperation(op)
}

func isNoFreeSegments(err error) bool {
	var se *errors.StorageError
	if stdErrors.As(err, &se) {
		return se.Code() == errors.ErrorCodeNoFreeSegments
	}
	return false
}

// bumpFreq implements the probabilistic frequency increment from spec
// §4.5's get: unconditional below freqThreshold, then increasingly rare
// as the counter grows, so hot items don't spend every Get paying for a
// counter that's already saturated-relevant.
func (e *Engine) bumpFreq(seg *segment.Segment, offset uint32) {
	f := seg.Freq(offset)
	if f < freqThreshold {
		seg.BumpFreq(offset)
		return
	}
	if rand.Float64() < math.Pow(2, -(float64(f)-freqThreshold)) {
		seg.BumpFreq(offset)
	}
}

// deriveCAS computes the per-item CAS token from the segment that holds
// it, its creation time, and its byte offset (spec §4.5: "derived from
// (segment timestamp XOR per-bucket timestamp XOR slot position) so that
// any mutation to that slot advances it"). Every write to a key appends
// a brand-new item rather than mutating in place, so offset alone
// already changes on every mutation within a segment; folding in the
// segment id and creation timestamp additionally guarantees a fresh CAS
// across a TTL-bucket roll, without needing a separate per-bucket
// timestamp lookup through the index.
func deriveCAS(segID segment.Id, createTimestamp int64, offset uint32) uint64 {
	return uint64(segID)<<44 ^ uint64(uint32(createTimestamp))<<20 ^ uint64(offset)
}

// tailForWrite returns the current (or freshly rolled) tail segment of
// bucketID with at least `needed` bytes of room, running the configured
// eviction policy and retrying once if the free pool is empty.
func (e *Engine) tailForWrite(ttlSeconds uint32, bucketID uint16, needed uint32) (*segment.Segment, error) {
	seg, err := e.storage.TailOrAlloc(ttlSeconds, bucketID)
	if err != nil {
		seg, err = e.rollAfterEviction(err, ttlSeconds, bucketID)
		if err != nil {
			return nil, err
		}
	}

	if uint64(seg.Header().WriteOffset())+uint64(needed) <= uint64(seg.Size()) {
		return seg, nil
	}
	return e.roll(ttlSeconds, bucketID)
}

// roll allocates a fresh tail segment for bucketID, running eviction
// once if the free pool is empty.
func (e *Engine) roll(ttlSeconds uint32, bucketID uint16) (*segment.Segment, error) {
	seg, err := e.storage.Roll(ttlSeconds, bucketID)
	if err != nil {
		return e.rollAfterEviction(err, ttlSeconds, bucketID)
	}
	return seg, nil
}

func (e *Engine) rollAfterEviction(firstErr error, ttlSeconds uint32, bucketID uint16) (*segment.Segment, error) {
	if !isNoFreeSegments(firstErr) {
		return nil, firstErr
	}
	if evErr := e.evict(); evErr != nil {
		return nil, errors.NewStorageError(
			evErr, errors.ErrorCodeNoFreeSegments, "no segment available after eviction",
		)
	}
	return e.storage.Roll(ttlSeconds, bucketID)
}

// write implements the storage engine's write path (spec §4.5.1): size
// the item, get a tail segment with room, append, stamp CAS, then
// install the hash-table entry, marking the prior item (if any) dead in
// its own segment.
func (e *Engine) write(key, data []byte, flags uint32, ttlSeconds uint32) error {
	if len(key) == 0 || len(key) > segment.MaxKeyLen {
		return engineErr(errors.ErrorCodeKeyTooLong, "key length out of bounds", key, "write")
	}

	stored, kind := encodeStoredValue(data)
	trailer := encodeTrailer(flags)

	var flagsByte uint8
	if trailer != nil {
		flagsByte |= segment.FlagHasOptional
	}
	if kind == segment.ValueKindInt {
		flagsByte |= segment.FlagValueIsInt
	}

	size := segment.ItemSize(len(key), len(stored), len(trailer))
	if uint64(size) > e.storage.SegmentSize() {
		return engineErr(errors.ErrorCodeValueTooLong, "value does not fit in a segment", key, "write")
	}

	bucketID := ttlbucket.BucketID(ttlSeconds)
	seg, err := e.tailForWrite(ttlSeconds, bucketID, size)
	if err != nil {
		return err
	}

	offset, err := seg.AppendItem(segment.ItemHeader{Flags: flagsByte}, key, stored, trailer)
	if err != nil {
		seg, err = e.roll(ttlSeconds, bucketID)
		if err != nil {
			return err
		}
		offset, err = seg.AppendItem(segment.ItemHeader{Flags: flagsByte}, key, stored, trailer)
		if err != nil {
			return err
		}
	}

	cas := deriveCAS(seg.Header().ID(), seg.Header().CreateTimestamp(), offset)
	seg.SetCAS(offset, cas)

	prev, replaced, err := e.index.Insert(key, seg.Header().ID(), offset)
	if err != nil {
		return err
	}
	if replaced {
		if prevSeg, serr := e.storage.Segment(prev.SegmentID); serr == nil {
			prevSeg.MarkDead(prev.Offset)
		}
	}
	return nil
}

// lookup resolves key through the index and reads back its item,
// treating a dead (tombstoned) item the same as a miss.
func (e *Engine) lookup(key []byte) (*segment.Segment, uint32, segment.ItemHeader, []byte, []byte, bool, error) {
	ref, ok, err := e.index.Lookup(key)
	if err != nil || !ok {
		return nil, 0, segment.ItemHeader{}, nil, nil, false, err
	}
	seg, err := e.storage.Segment(ref.SegmentID)
	if err != nil {
		return nil, 0, segment.ItemHeader{}, nil, nil, false, err
	}
	hdr, _, value, trailer, err := seg.Item(ref.Offset)
	if err != nil {
		return nil, 0, segment.ItemHeader{}, nil, nil, false, err
	}
	if hdr.Deleted() {
		return nil, 0, segment.ItemHeader{}, nil, nil, false, nil
	}
	return seg, ref.Offset, hdr, value, trailer, true, nil
}

// Get retrieves key's value, bumping its access-frequency counter.
func (e *Engine) Get(key []byte) (Value, error) {
	return e.get(key, true)
}

// GetNoFreqIncr retrieves key's value without mutating its frequency
// counter, used by add/replace presence checks (spec §4.5).
func (e *Engine) GetNoFreqIncr(key []byte) (Value, error) {
	return e.get(key, false)
}

// GetCAS retrieves key's value along with its current CAS token, for
// protocol adapters that surface it to clients (memcache text "gets").
func (e *Engine) GetCAS(key []byte) (Value, uint64, error) {
	if err := e.checkOpen(); err != nil {
		return Value{}, 0, err
	}
	seg, offset, hdr, value, trailer, ok, err := e.lookup(key)
	if err != nil {
		return Value{}, 0, err
	}
	if !ok {
		return Value{}, 0, engineErr(errors.ErrorCodeNotFound, "key not found", key, "gets")
	}
	e.bumpFreq(seg, offset)
	raw := append([]byte(nil), value...)
	return Value{Kind: hdr.Kind(), Flags: decodeTrailer(trailer), raw: raw}, seg.CAS(offset), nil
}

func (e *Engine) get(key []byte, bumpFreq bool) (Value, error) {
	if err := e.checkOpen(); err != nil {
		return Value{}, err
	}
	seg, offset, hdr, value, trailer, ok, err := e.lookup(key)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, engineErr(errors.ErrorCodeNotFound, "key not found", key, "get")
	}
	if bumpFreq {
		e.bumpFreq(seg, offset)
	}
	raw := append([]byte(nil), value...)
	return Value{Kind: hdr.Kind(), Flags: decodeTrailer(trailer), raw: raw}, nil
}

// Set inserts key/value, replacing any existing item. A non-positive
// ttlSeconds deletes the key instead of storing it (spec §4.5: "if TTL
// <= 0, deletes"), matching callers that pass a signed delay and expect
// zero-or-negative to mean "don't keep this".
func (e *Engine) Set(key, data []byte, flags uint32, ttlSeconds int64) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if ttlSeconds <= 0 {
		_, err := e.Delete(key)
		return err
	}
	return e.write(key, data, flags, uint32(ttlSeconds))
}

// immediateExpireTTL is the TTL add/replace/cas insert under when the
// caller passes a negative ttlSeconds (the memcache text protocol's
// "negative exptime means expire immediately" convention, spec §9). The
// engine's segments have no "insert already-dead" primitive, so
// writeSigned inserts at this TTL and deletes on success instead.
const immediateExpireTTL uint32 = 1

// writeSigned adapts write to accept a signed ttlSeconds the way the
// memcache text protocol does: zero-or-positive is a normal TTL in
// seconds; negative means the item should look expired to any
// subsequent reader. For the latter it inserts at immediateExpireTTL and
// then deletes on success — the insert-then-delete race spec §9
// documents for CAS and preserves as-specified ("briefly exposes the
// value to a concurrent reader between insert and delete"), applied
// uniformly to add/replace/cas since all three share this call path.
func (e *Engine) writeSigned(key, data []byte, flags uint32, ttlSeconds int64) error {
	if ttlSeconds < 0 {
		if err := e.write(key, data, flags, immediateExpireTTL); err != nil {
			return err
		}
		_, err := e.Delete(key)
		return err
	}
	return e.write(key, data, flags, uint32(ttlSeconds))
}

// Add inserts key/value only if key is not currently present. A
// negative ttlSeconds triggers the insert-then-delete immediate-expire
// race documented on writeSigned.
func (e *Engine) Add(key, data []byte, flags uint32, ttlSeconds int64) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if _, err := e.GetNoFreqIncr(key); err == nil {
		return engineErr(errors.ErrorCodeNotStored, "key already exists", key, "add")
	}
	return e.writeSigned(key, data, flags, ttlSeconds)
}

// Replace inserts key/value only if key is currently present. A
// negative ttlSeconds triggers the insert-then-delete immediate-expire
// race documented on writeSigned.
func (e *Engine) Replace(key, data []byte, flags uint32, ttlSeconds int64) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if _, err := e.GetNoFreqIncr(key); err != nil {
		return engineErr(errors.ErrorCodeNotStored, "key does not exist", key, "replace")
	}
	return e.writeSigned(key, data, flags, ttlSeconds)
}

// CompareAndSwap inserts key/value only if the item's current CAS token
// equals expectedCAS. A negative ttlSeconds is the reference
// CAS-with-immediate-expire path (spec §9): it inserts at a 1-second TTL
// and deletes on success rather than failing to write at all, which can
// briefly expose the value to a concurrent reader between insert and
// delete. This is preserved as-specified, not worked around.
func (e *Engine) CompareAndSwap(key, data []byte, flags uint32, ttlSeconds int64, expectedCAS uint64) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	seg, offset, _, _, _, ok, err := e.lookup(key)
	if err != nil {
		return err
	}
	if !ok {
		return engineErr(errors.ErrorCodeNotFound, "key not found", key, "cas")
	}
	if seg.CAS(offset) != expectedCAS {
		return engineErr(errors.ErrorCodeExists, "cas token mismatch", key, "cas")
	}
	return e.writeSigned(key, data, flags, ttlSeconds)
}

// Incr adds delta to key's stored integer value (wrapping on overflow),
// updating it in place without touching the hash slot or CAS stamp.
func (e *Engine) Incr(key []byte, delta uint64) (uint64, error) {
	return e.arith(key, delta, true)
}

// Decr subtracts delta from key's stored integer value, saturating at
// zero rather than wrapping.
func (e *Engine) Decr(key []byte, delta uint64) (uint64, error) {
	return e.arith(key, delta, false)
}

func (e *Engine) arith(key []byte, delta uint64, add bool) (uint64, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	seg, offset, hdr, value, _, ok, err := e.lookup(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, engineErr(errors.ErrorCodeNotFound, "key not found", key, "incr_decr")
	}

	var n uint64
	if hdr.Kind() == segment.ValueKindInt {
		n = binary.LittleEndian.Uint64(value)
	} else {
		parsed, ok := parseUint64(value)
		if !ok {
			return 0, engineErr(errors.ErrorCodeNotNumeric, "value is not numeric", key, "incr_decr")
		}
		n = parsed
	}

	if add {
		n += delta
	} else if delta > n {
		n = 0
	} else {
		n -= delta
	}

	seg.SetIntValue(offset, n)
	return n, nil
}

// Append writes data after key's current value, preserving its TTL.
func (e *Engine) Append(key, data []byte) error { return e.concat(key, data, false) }

// Prepend writes data before key's current value, preserving its TTL.
func (e *Engine) Prepend(key, data []byte) error { return e.concat(key, data, true) }

func (e *Engine) concat(key, data []byte, before bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	seg, _, hdr, value, trailer, ok, err := e.lookup(key)
	if err != nil {
		return err
	}
	if !ok {
		return engineErr(errors.ErrorCodeNotStored, "key not found", key, "append_prepend")
	}
	if hdr.Kind() == segment.ValueKindInt {
		return engineErr(errors.ErrorCodeUnsupportedOperation, "cannot append/prepend to a numeric item", key, "append_prepend")
	}

	var combined []byte
	if before {
		combined = append(append([]byte(nil), data...), value...)
	} else {
		combined = append(append([]byte(nil), value...), data...)
	}

	return e.write(key, combined, decodeTrailer(trailer), seg.Header().TTLSeconds())
}

// Delete removes key, reporting whether it was present.
func (e *Engine) Delete(key []byte) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	ref, ok, err := e.index.Remove(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if seg, serr := e.storage.Segment(ref.SegmentID); serr == nil {
		seg.MarkDead(ref.Offset)
	}
	return true, nil
}

// FlushAll invalidates every stored item. delay <= 0 runs synchronously
// before returning; delay > 0 schedules the flush and returns
// immediately, replacing any previously pending flush_all.
func (e *Engine) FlushAll(delay time.Duration) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	e.flushMu.Lock()
	if e.flushTimer != nil {
		e.flushTimer.Stop()
		e.flushTimer = nil
	}
	if delay <= 0 {
		e.flushMu.Unlock()
		return e.flushAllNow()
	}
	e.flushTimer = time.AfterFunc(delay, func() {
		if e.checkOpen() == nil {
			if err := e.flushAllNow(); err != nil {
				e.log.Errorw("scheduled flush_all failed", "error", err)
			}
		}
	})
	e.flushMu.Unlock()
	return nil
}

func (e *Engine) flushAllNow() error {
	for _, seg := range e.storage.Heap().AllSegments() {
		if !seg.Header().Accessible() {
			continue
		}
		e.stripHashEntries(seg)
		if err := e.storage.Reclaim(seg.Header().ID()); err != nil {
			return err
		}
	}
	return nil
}
