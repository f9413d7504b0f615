// Package memcachebinary implements the Memcache binary protocol (spec
// §4.11): a fixed 24-byte header (magic, opcode, key length, extras
// length, data type, status/reserved, total body length, opaque, CAS)
// followed by extras, key, and value, grounded on
// original_source/src/protocol/memcache/src/binary's wire layout.
package memcachebinary

import (
	"encoding/binary"

	"github.com/iamNilotpal/pelikan/internal/engine"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

const protocolName = "memcache_binary"

// HeaderLen is the fixed size of every request and response header.
const HeaderLen = 24

// Opcode names a binary protocol command (spec §4.11 lists Get/Set/Delete
// as the required subset).
type Opcode uint8

const (
	OpGet    Opcode = 0x00
	OpSet    Opcode = 0x01
	OpAdd    Opcode = 0x02
	OpReplace Opcode = 0x03
	OpDelete Opcode = 0x04
	OpIncr   Opcode = 0x05
	OpDecr   Opcode = 0x06
	OpAppend Opcode = 0x0e
	OpPrepend Opcode = 0x0f
)

// Status mirrors original_source's ResponseStatus enum.
type Status uint16

const (
	StatusNoError                   Status = 0x0000
	StatusKeyNotFound               Status = 0x0001
	StatusKeyExists                 Status = 0x0002
	StatusValueTooLarge             Status = 0x0003
	StatusInvalidArguments          Status = 0x0004
	StatusItemNotStored             Status = 0x0005
	StatusIncrDecrOnNonNumericValue Status = 0x0006
	StatusUnknownCommand            Status = 0x0081
	StatusOutOfMemory               Status = 0x0082
	StatusNotSupported              Status = 0x0083
	StatusInternalError             Status = 0x0084
)

const (
	magicRequest  = 0x80
	magicResponse = 0x81
)

// Request is one parsed binary protocol command.
type Request struct {
	Opcode   Opcode
	Opaque   uint32
	CAS      uint64
	Key      []byte
	Value    []byte
	Flags    uint32
	TTL      uint32
	Delta    uint64
	Initial  uint64
	HasDelta bool
}

// Response is what Execute produces for ComposeResponse to render.
type Response struct {
	Opcode Opcode
	Opaque uint32
	Status Status
	CAS    uint64
	Key    []byte // echoed for incr/decr by some clients; empty otherwise
	Value  []byte
}

func parseErr(msg string) error {
	return errors.NewProtocolError(nil, errors.ErrorCodeParseInvalid, msg).WithProtocol(protocolName)
}

func wouldBlock() error {
	return errors.NewProtocolError(nil, errors.ErrorCodeParseWouldBlock, "incomplete request").WithProtocol(protocolName)
}

// ParseRequest consumes one binary protocol command from buf.
func ParseRequest(buf []byte) (Request, int, error) {
	if len(buf) < HeaderLen {
		return Request{}, 0, wouldBlock()
	}
	if buf[0] != magicRequest {
		return Request{}, 0, parseErr("invalid request magic")
	}
	opcode := Opcode(buf[1])
	keyLen := int(binary.BigEndian.Uint16(buf[2:4]))
	extrasLen := int(buf[4])
	dataType := buf[5]
	if dataType != 0x00 {
		return Request{}, 0, parseErr("unsupported data type")
	}
	totalBodyLen := int(binary.BigEndian.Uint32(buf[8:12]))
	opaque := binary.BigEndian.Uint32(buf[12:16])
	cas := binary.BigEndian.Uint64(buf[16:24])

	need := HeaderLen + totalBodyLen
	if len(buf) < need {
		return Request{}, 0, wouldBlock()
	}
	if extrasLen+keyLen > totalBodyLen {
		return Request{}, 0, parseErr("extras/key length exceeds total body length")
	}

	body := buf[HeaderLen:need]
	extras := body[:extrasLen]
	key := append([]byte(nil), body[extrasLen:extrasLen+keyLen]...)
	value := append([]byte(nil), body[extrasLen+keyLen:]...)

	req := Request{Opcode: opcode, Opaque: opaque, CAS: cas, Key: key, Value: value}

	switch opcode {
	case OpSet, OpAdd, OpReplace:
		if extrasLen != 8 {
			return Request{}, 0, parseErr("set/add/replace requires 8 bytes of extras")
		}
		req.Flags = binary.BigEndian.Uint32(extras[0:4])
		req.TTL = binary.BigEndian.Uint32(extras[4:8])
	case OpIncr, OpDecr:
		if extrasLen != 20 {
			return Request{}, 0, parseErr("incr/decr requires 20 bytes of extras")
		}
		req.Delta = binary.BigEndian.Uint64(extras[0:8])
		req.Initial = binary.BigEndian.Uint64(extras[8:16])
		req.TTL = binary.BigEndian.Uint32(extras[16:20])
		req.HasDelta = true
	case OpGet, OpDelete, OpAppend, OpPrepend:
		// no extras expected
	default:
		return Request{}, 0, parseErr("unsupported opcode")
	}

	return req, need, nil
}

// Execute runs req against eng, translating the outcome into a Response.
func Execute(req Request, eng *engine.Engine) Response {
	switch req.Opcode {
	case OpGet:
		v, err := eng.Get(req.Key)
		if err != nil {
			return errResponse(req, StatusKeyNotFound)
		}
		return Response{Opcode: req.Opcode, Opaque: req.Opaque, Status: StatusNoError, Value: v.Bytes()}
	case OpSet:
		if err := eng.Set(req.Key, req.Value, req.Flags, int64(req.TTL)); err != nil {
			return errResponse(req, statusFromErr(err))
		}
		return okResponse(req)
	case OpAdd:
		if err := eng.Add(req.Key, req.Value, req.Flags, int64(req.TTL)); err != nil {
			return errResponse(req, statusFromErr(err))
		}
		return okResponse(req)
	case OpReplace:
		if err := eng.Replace(req.Key, req.Value, req.Flags, int64(req.TTL)); err != nil {
			return errResponse(req, statusFromErr(err))
		}
		return okResponse(req)
	case OpAppend:
		if err := eng.Append(req.Key, req.Value); err != nil {
			return errResponse(req, statusFromErr(err))
		}
		return okResponse(req)
	case OpPrepend:
		if err := eng.Prepend(req.Key, req.Value); err != nil {
			return errResponse(req, statusFromErr(err))
		}
		return okResponse(req)
	case OpDelete:
		found, err := eng.Delete(req.Key)
		if err != nil {
			return errResponse(req, statusFromErr(err))
		}
		if !found {
			return errResponse(req, StatusKeyNotFound)
		}
		return okResponse(req)
	case OpIncr:
		n, err := eng.Incr(req.Key, req.Delta)
		return arithResponse(req, n, err)
	case OpDecr:
		n, err := eng.Decr(req.Key, req.Delta)
		return arithResponse(req, n, err)
	default:
		return errResponse(req, StatusUnknownCommand)
	}
}

func okResponse(req Request) Response {
	return Response{Opcode: req.Opcode, Opaque: req.Opaque, Status: StatusNoError}
}

func errResponse(req Request, status Status) Response {
	return Response{Opcode: req.Opcode, Opaque: req.Opaque, Status: status}
}

func arithResponse(req Request, n uint64, err error) Response {
	if err != nil {
		return errResponse(req, statusFromErr(err))
	}
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, n)
	return Response{Opcode: req.Opcode, Opaque: req.Opaque, Status: StatusNoError, Value: value}
}

func statusFromErr(err error) Status {
	switch errors.StatusFromEngineError(err) {
	case errors.StatusNotFound:
		return StatusKeyNotFound
	case errors.StatusExists:
		return StatusKeyExists
	case errors.StatusNotStored:
		return StatusItemNotStored
	case errors.StatusError:
		return StatusIncrDecrOnNonNumericValue
	case errors.StatusClientError:
		return StatusInvalidArguments
	default:
		return StatusInternalError
	}
}

// ComposeResponse writes resp's 24-byte header followed by its value
// bytes into the session's write buffer.
func ComposeResponse(req Request, resp Response, out []byte) (int, []byte) {
	body := resp.Value
	header := make([]byte, HeaderLen)
	header[0] = magicResponse
	header[1] = byte(resp.Opcode)
	binary.BigEndian.PutUint16(header[2:4], 0) // key never echoed in this subset
	header[4] = 0                              // extras_len
	header[5] = 0                              // data_type
	binary.BigEndian.PutUint16(header[6:8], uint16(resp.Status))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(body)))
	binary.BigEndian.PutUint32(header[12:16], resp.Opaque)
	binary.BigEndian.PutUint64(header[16:24], resp.CAS)

	return 0, append(header, body...)
}

// Hangup: the binary protocol has no quit opcode in this subset;
// clients close the connection themselves.
func Hangup(Request) bool { return false }
