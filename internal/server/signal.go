package server

// Signal is broadcast from the admin thread to every worker, storage,
// and listener thread's signal queue (spec §4.9.3).
type Signal int

const (
	// SignalFlushAll asks the storage engine to flush every item.
	SignalFlushAll Signal = iota
	// SignalShutdown asks the receiving thread to exit its event loop.
	SignalShutdown
)
