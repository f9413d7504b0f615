// Package poll is the readiness-notification abstraction every event
// loop in the server and proxy runtimes is built on (spec §4.7): a
// Poll that yields batches of Events carrying a Token and readiness
// flags, and a Waker that lets any thread unblock another thread's Poll
// exactly once until reset. The epoll-backed implementation lives in
// poll_linux.go (golang.org/x/sys/unix, as SnellerInc/sneller and
// calvinalkan/agent-task both depend on for this concern); other
// platforms get the portable channel-based fallback in poll_other.go.
package poll

import "time"

// Token is the small integer identifying which registered file
// descriptor an Event belongs to. WakerToken is reserved and never
// handed out to a session.
type Token int

// WakerToken is the well-known token a thread's own Waker registers
// under; it is never reused for a session (spec §4.7).
const WakerToken Token = -1

// Interest is the readiness set a registration asks to be notified for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event is one readiness notification returned by Poll.Wait.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
	Error    bool
}

// Poll batches OS readiness notifications for a set of registered file
// descriptors, one instance per event-loop thread.
type Poll interface {
	// Register begins watching fd for interest under token.
	Register(fd int, token Token, interest Interest) error
	// Reregister changes the interest set for an already-registered fd.
	Reregister(fd int, token Token, interest Interest) error
	// Deregister stops watching fd.
	Deregister(fd int) error
	// Wait blocks up to timeout for at least one event, appending
	// results to events[:0] and returning the populated slice.
	Wait(events []Event, timeout time.Duration) ([]Event, error)
	// Close releases the underlying OS resource.
	Close() error
}

// Waker lets any thread unblock a specific Poll's Wait call exactly
// once until the target thread observes WakerToken and calls Reset.
type Waker interface {
	// Wake unblocks the owning Poll's Wait, idempotent until Reset.
	Wake() error
	// Reset acknowledges the wake, rearming it for the next Wake call.
	Reset() error
	Close() error
}
