// Package ignite is the embeddable client facade over the storage
// engine (internal/engine): a single process-local handle exposing the
// same get/set/add/replace/cas/incr/decr/append/prepend/delete surface
// the wire protocols (internal/protocol) translate requests into,
// without going through a listener at all. It is the entry point for
// anything that links the cache in-process rather than talking to it
// over the network — tests, benchmarks, or an application that wants
// the segment store without a server.
package ignite

import (
	"context"
	"time"

	"github.com/iamNilotpal/pelikan/internal/engine"
	"github.com/iamNilotpal/pelikan/pkg/logger"
	"github.com/iamNilotpal/pelikan/pkg/options"
)

// Instance is the primary entry point for interacting with the cache
// in-process. It encapsulates the storage engine and the options it
// was configured with.
type Instance struct {
	engine  *engine.Engine
	options *options.Options
}

// NewInstance creates and initializes a new in-process cache instance.
func NewInstance(ctx context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	log := logger.New(service)

	defaultOpts := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&defaultOpts)
	}

	eng, err := engine.New(ctx, &engine.Config{Logger: log, Options: &defaultOpts})
	if err != nil {
		return nil, err
	}

	return &Instance{engine: eng, options: &defaultOpts}, nil
}

// Set stores a key-value pair, replacing any existing item.
func (i *Instance) Set(ctx context.Context, key string, value []byte, flags uint32, ttl time.Duration) error {
	return i.engine.Set([]byte(key), value, flags, int64(ttl.Seconds()))
}

// Add stores a key-value pair only if key is not currently present.
func (i *Instance) Add(ctx context.Context, key string, value []byte, flags uint32, ttl time.Duration) error {
	return i.engine.Add([]byte(key), value, flags, int64(ttl.Seconds()))
}

// Replace stores a key-value pair only if key is currently present.
func (i *Instance) Replace(ctx context.Context, key string, value []byte, flags uint32, ttl time.Duration) error {
	return i.engine.Replace([]byte(key), value, flags, int64(ttl.Seconds()))
}

// CompareAndSwap stores a key-value pair only if the item's current CAS
// token equals expectedCAS.
func (i *Instance) CompareAndSwap(ctx context.Context, key string, value []byte, flags uint32, ttl time.Duration, expectedCAS uint64) error {
	return i.engine.CompareAndSwap([]byte(key), value, flags, int64(ttl.Seconds()), expectedCAS)
}

// Get retrieves the value associated with key.
func (i *Instance) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := i.engine.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	return v.Bytes(), nil
}

// Incr adds delta to key's stored integer value.
func (i *Instance) Incr(ctx context.Context, key string, delta uint64) (uint64, error) {
	return i.engine.Incr([]byte(key), delta)
}

// Decr subtracts delta from key's stored integer value, saturating at zero.
func (i *Instance) Decr(ctx context.Context, key string, delta uint64) (uint64, error) {
	return i.engine.Decr([]byte(key), delta)
}

// Append adds data to the end of key's current value.
func (i *Instance) Append(ctx context.Context, key string, data []byte) error {
	return i.engine.Append([]byte(key), data)
}

// Prepend adds data to the start of key's current value.
func (i *Instance) Prepend(ctx context.Context, key string, data []byte) error {
	return i.engine.Prepend([]byte(key), data)
}

// Delete removes a key-value pair. The bool reports whether the key was
// present.
func (i *Instance) Delete(ctx context.Context, key string) (bool, error) {
	return i.engine.Delete([]byte(key))
}

// FlushAll invalidates every item in the store, either immediately
// (delay <= 0) or after delay elapses.
func (i *Instance) FlushAll(ctx context.Context, delay time.Duration) error {
	return i.engine.FlushAll(delay)
}

// Close gracefully shuts down the instance, releasing the underlying
// engine's storage and stopping its background expiration loop.
func (i *Instance) Close(ctx context.Context) error {
	return i.engine.Close()
}
