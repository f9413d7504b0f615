package datapool

import (
	"encoding/binary"
	"time"

	"github.com/iamNilotpal/pelikan/pkg/errors"
	"lukechampine.com/blake3"
)

// Magic identifies a Pelikan datapool header (spec §4.1/§6.2).
const Magic = "PELIKAN!"

// FormatVersion is this package's own on-disk layout version, distinct
// from the caller-supplied UserVersion.
const FormatVersion uint64 = 1

// Header layout, exactly one PageSize page, fields in fixed order:
//
//	[0:32)   checksum    Blake3-256 truncated to 32 bytes
//	[32:40)  magic       "PELIKAN!"
//	[40:48)  formatVer   uint64 LE
//	[48:56)  monoSeconds uint64 LE
//	[56:64)  monoNanos   uint64 LE
//	[64:72)  unixSeconds uint64 LE
//	[72:80)  unixNanos   uint64 LE
//	[80:88)  userVersion uint64 LE
//	[88:96)  optionFlags uint64 LE
//	[96:PageSize) zero padding
const (
	offChecksum    = 0
	offMagic       = 32
	offFormatVer   = 40
	offMonoSeconds = 48
	offMonoNanos   = 56
	offUnixSeconds = 64
	offUnixNanos   = 72
	offUserVersion = 80
	offOptionFlags = 88
	headerUsed     = 96
)

// Header is the decoded form of a datapool's header page.
type Header struct {
	Checksum    [32]byte
	Magic       [8]byte
	FormatVer   uint64
	MonoSeconds uint64
	MonoNanos   uint64
	UnixSeconds uint64
	UnixNanos   uint64
	UserVersion uint64
	OptionFlags uint64
}

// encodeHeader writes h into a fresh PageSize-byte page.
func encodeHeader(h *Header) []byte {
	buf := make([]byte, PageSize)
	copy(buf[offChecksum:], h.Checksum[:])
	copy(buf[offMagic:], h.Magic[:])
	binary.LittleEndian.PutUint64(buf[offFormatVer:], h.FormatVer)
	binary.LittleEndian.PutUint64(buf[offMonoSeconds:], h.MonoSeconds)
	binary.LittleEndian.PutUint64(buf[offMonoNanos:], h.MonoNanos)
	binary.LittleEndian.PutUint64(buf[offUnixSeconds:], h.UnixSeconds)
	binary.LittleEndian.PutUint64(buf[offUnixNanos:], h.UnixNanos)
	binary.LittleEndian.PutUint64(buf[offUserVersion:], h.UserVersion)
	binary.LittleEndian.PutUint64(buf[offOptionFlags:], h.OptionFlags)
	return buf
}

// decodeHeader parses a PageSize-byte page into a Header. It does not
// validate magic/version/checksum; callers do that via validateHeader.
func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < PageSize {
		return nil, errors.NewStorageError(
			nil, errors.ErrorCodeSegmentCorrupted, "header page truncated",
		).WithDetail("gotLen", len(buf)).WithDetail("wantLen", PageSize)
	}
	h := &Header{
		FormatVer:   binary.LittleEndian.Uint64(buf[offFormatVer:]),
		MonoSeconds: binary.LittleEndian.Uint64(buf[offMonoSeconds:]),
		MonoNanos:   binary.LittleEndian.Uint64(buf[offMonoNanos:]),
		UnixSeconds: binary.LittleEndian.Uint64(buf[offUnixSeconds:]),
		UnixNanos:   binary.LittleEndian.Uint64(buf[offUnixNanos:]),
		UserVersion: binary.LittleEndian.Uint64(buf[offUserVersion:]),
		OptionFlags: binary.LittleEndian.Uint64(buf[offOptionFlags:]),
	}
	copy(h.Checksum[:], buf[offChecksum:offChecksum+32])
	copy(h.Magic[:], buf[offMagic:offMagic+8])
	return h, nil
}

// newHeader builds a Header stamped with the current time, ready to be
// checksummed and written.
func newHeader(userVersion uint64) *Header {
	now := time.Now()
	h := &Header{
		FormatVer:   FormatVersion,
		MonoSeconds: uint64(monotonicSeconds()),
		MonoNanos:   uint64(monotonicNanos()),
		UnixSeconds: uint64(now.Unix()),
		UnixNanos:   uint64(now.UnixNano() % 1e9),
		UserVersion: userVersion,
	}
	copy(h.Magic[:], Magic)
	return h
}

// restamp updates the timestamp and user-version fields of an existing
// header ahead of a flush, leaving the checksum to be recomputed by the
// caller afterward.
func (h *Header) restamp(userVersion uint64) {
	now := time.Now()
	h.MonoSeconds = uint64(monotonicSeconds())
	h.MonoNanos = uint64(monotonicNanos())
	h.UnixSeconds = uint64(now.Unix())
	h.UnixNanos = uint64(now.UnixNano() % 1e9)
	h.UserVersion = userVersion
}

// checksum computes Blake3-256 over (header-with-zeroed-checksum || data).
func checksum(h *Header, data []byte) [32]byte {
	zeroed := *h
	zeroed.Checksum = [32]byte{}
	hasher := blake3.New(32, nil)
	hasher.Write(encodeHeader(&zeroed))
	hasher.Write(data)
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

// validateHeader checks magic, format version, user version, and
// checksum, in that order, matching spec §4.1's open-path sequencing.
func validateHeader(h *Header, data []byte, wantUserVersion uint64) error {
	if string(h.Magic[:]) != Magic {
		return errors.NewStorageError(
			nil, errors.ErrorCodeSegmentCorrupted, "header not recognized",
		).WithDetail("gotMagic", string(h.Magic[:]))
	}
	if h.FormatVer != FormatVersion {
		return errors.NewStorageError(
			nil, errors.ErrorCodeSegmentCorrupted, "incompatible version",
		).WithDetail("gotVersion", h.FormatVer).WithDetail("wantVersion", FormatVersion)
	}
	if h.UserVersion != wantUserVersion {
		return errors.NewStorageError(
			nil, errors.ErrorCodeSegmentCorrupted, "user version mismatch",
		).WithDetail("gotVersion", h.UserVersion).WithDetail("wantVersion", wantUserVersion)
	}
	want := checksum(h, data)
	if want != h.Checksum {
		return errors.NewStorageError(
			nil, errors.ErrorCodeSegmentCorrupted, "checksum mismatch",
		)
	}
	return nil
}

// stampAndChecksum restamps h and recomputes its checksum over h||data,
// returning the encoded header page ready to write.
func stampAndChecksum(h *Header, data []byte, userVersion uint64) []byte {
	h.restamp(userVersion)
	h.Checksum = checksum(h, data)
	return encodeHeader(h)
}
