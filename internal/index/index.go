package index

import (
	"context"
	stdErrors "errors"

	"github.com/iamNilotpal/pelikan/internal/segment"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

var ErrIndexClosed = stdErrors.New("operation failed: cannot access closed index")

// New builds an Index backed by a freshly allocated Table sized from
// config.HashPower/OverflowFactor.
func New(ctx context.Context, config *Config) (*Index, error) {
	if config == nil || config.Reader == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "index configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}

	table, err := NewTable(config.HashPower, config.OverflowFactor, config.Reader)
	if err != nil {
		return nil, err
	}

	return &Index{log: config.Logger, table: table}, nil
}

func (idx *Index) checkOpen() error {
	if idx.closed.Load() {
		return ErrIndexClosed
	}
	return nil
}

// Lookup resolves key to its current (segment id, offset), per spec §4.4.
func (idx *Index) Lookup(key []byte) (ItemRef, bool, error) {
	if err := idx.checkOpen(); err != nil {
		return ItemRef{}, false, err
	}
	ref, ok := idx.table.Lookup(key)
	return ref, ok, nil
}

// Touch bumps key's index-level frequency hint.
func (idx *Index) Touch(key []byte) error {
	if err := idx.checkOpen(); err != nil {
		return err
	}
	idx.table.Touch(key)
	return nil
}

// Insert writes key's slot to point at (segID, offset), returning the
// previous ItemRef if key was already present.
func (idx *Index) Insert(key []byte, segID segment.Id, offset uint32) (ItemRef, bool, error) {
	if err := idx.checkOpen(); err != nil {
		return ItemRef{}, false, err
	}
	return idx.table.Insert(key, segID, offset)
}

// Remove deletes key's slot, returning its prior ItemRef.
func (idx *Index) Remove(key []byte) (ItemRef, bool, error) {
	if err := idx.checkOpen(); err != nil {
		return ItemRef{}, false, err
	}
	ref, ok := idx.table.Remove(key)
	return ref, ok, nil
}

// NumBuckets returns the primary bucket count.
func (idx *Index) NumBuckets() uint32 { return idx.table.NumBuckets() }

// Close gracefully shuts down the Index, preventing further use.
func (idx *Index) Close() error {
	if !idx.closed.CompareAndSwap(false, true) {
		return ErrIndexClosed
	}
	idx.log.Infow("closing index")
	idx.table = nil
	idx.log.Infow("index closed")
	return nil
}
