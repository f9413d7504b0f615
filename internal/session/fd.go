package session

import (
	"syscall"

	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// ConnFD returns the underlying file descriptor for a net.Conn that
// implements syscall.Conn (*net.TCPConn, and *tls.Conn via its
// NetConn()), for Poll registration. The descriptor stays owned by
// conn; callers must not close it directly. Exported so internal/proxy
// can register its own (non-Session) upstream connections with a Poll
// the same way.
func ConnFD(conn syscall.Conn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, errors.NewProtocolError(err, errors.ErrorCodeIO, "connection has no raw descriptor")
	}
	var out int
	var ctrlErr error
	err = raw.Control(func(f uintptr) { out = int(f) })
	if err != nil {
		ctrlErr = err
	}
	if ctrlErr != nil {
		return 0, errors.NewProtocolError(ctrlErr, errors.ErrorCodeIO, "failed to read connection descriptor")
	}
	return out, nil
}

// FD exposes the session's underlying descriptor for Poll registration.
func (s *Session[Req, Resp]) FD() (int, error) {
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return 0, errors.NewProtocolError(nil, errors.ErrorCodeIO, "connection does not support raw descriptor access")
	}
	return ConnFD(sc)
}
