package datapool

import "context"

// memoryPool is the pure in-RAM Pool variant: no header, no backing file,
// nothing survives a restart. It exists mainly for tests and for
// deployments that intentionally trade persistence for simplicity.
type memoryPool struct {
	data []byte
}

func newMemoryPool(size uint64) Pool {
	return &memoryPool{data: make([]byte, size)}
}

func (p *memoryPool) AsSlice() []byte    { return p.data }
func (p *memoryPool) AsMutSlice() []byte { return p.data }
func (p *memoryPool) Len() int           { return len(p.data) }
func (p *memoryPool) Close() error       { return nil }

func (p *memoryPool) Flush(ctx context.Context) error {
	return nil
}
