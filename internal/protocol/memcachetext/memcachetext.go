// Package memcachetext implements the line-oriented Memcache text
// protocol (spec §4.11): get/gets/set/add/replace/cas/append/prepend
// /incr/decr/delete/flush_all/quit, keys up to 250 bytes with no spaces
// or CR/LF, and value bytes declared in the command header and
// delimited by a trailing CRLF.
package memcachetext

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/iamNilotpal/pelikan/internal/engine"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

const protocolName = "memcache_text"

// MaxKeyLen is the largest key this protocol accepts (spec §4.11).
const MaxKeyLen = 250

// MaxValueLen bounds the declared <bytes> field of a storage command,
// matching the reference implementation's DEFAULT_MAX_VALUE_SIZE. It
// also keeps dataStart+nbytes+2 well inside int range on every
// platform, so a client-supplied byte count can never overflow the
// arithmetic that locates the trailing CRLF.
const MaxValueLen = 512 * 1024 * 1024

// Command names the memcache text verb a Request carries.
type Command string

const (
	CmdGet      Command = "get"
	CmdGets     Command = "gets"
	CmdSet      Command = "set"
	CmdAdd      Command = "add"
	CmdReplace  Command = "replace"
	CmdAppend   Command = "append"
	CmdPrepend  Command = "prepend"
	CmdCas      Command = "cas"
	CmdIncr     Command = "incr"
	CmdDecr     Command = "decr"
	CmdDelete   Command = "delete"
	CmdFlushAll Command = "flush_all"
	CmdQuit     Command = "quit"
)

// Request is one parsed memcache text command.
type Request struct {
	Command Command
	Keys    [][]byte // get/gets may name several keys; others use Keys[0].
	Value   []byte
	Flags   uint32
	TTL     int64
	CAS     uint64
	Delta   uint64
	Delay   time.Duration
	NoReply bool
}

// Item is one key's result within a get/gets response.
type Item struct {
	Key   []byte
	Flags uint32
	Value []byte
	CAS   uint64
}

// Response is what Execute produces for a Request.
type Response struct {
	Status errors.WireStatus
	Items  []Item
	Number uint64 // incr/decr result
}

func parseErr(msg string) error {
	return errors.NewProtocolError(nil, errors.ErrorCodeParseInvalid, msg).WithProtocol(protocolName)
}

func wouldBlock() error {
	return errors.NewProtocolError(nil, errors.ErrorCodeParseWouldBlock, "incomplete request").WithProtocol(protocolName)
}

// ParseRequest consumes one memcache text command from buf.
func ParseRequest(buf []byte) (Request, int, error) {
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		if len(buf) > 8192 {
			return Request{}, 0, parseErr("command line too long")
		}
		return Request{}, 0, wouldBlock()
	}
	line := buf[:idx]
	headerLen := idx + 2

	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return Request{}, 0, parseErr("empty command")
	}

	cmd := Command(fields[0])
	switch cmd {
	case CmdGet, CmdGets:
		return parseRetrieval(cmd, fields, headerLen)
	case CmdSet, CmdAdd, CmdReplace, CmdAppend, CmdPrepend:
		return parseStorage(cmd, fields, headerLen, buf)
	case CmdCas:
		return parseCas(fields, headerLen, buf)
	case CmdIncr, CmdDecr:
		return parseArith(cmd, fields, headerLen)
	case CmdDelete:
		return parseDelete(fields, headerLen)
	case CmdFlushAll:
		return parseFlushAll(fields, headerLen)
	case CmdQuit:
		return Request{Command: CmdQuit}, headerLen, nil
	default:
		return Request{}, 0, parseErr("unknown command: " + fields[0])
	}
}

func validateKey(key string) error {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return parseErr("invalid key length")
	}
	return nil
}

func parseRetrieval(cmd Command, fields []string, headerLen int) (Request, int, error) {
	if len(fields) < 2 {
		return Request{}, 0, parseErr(string(cmd) + " requires at least one key")
	}
	keys := make([][]byte, 0, len(fields)-1)
	for _, k := range fields[1:] {
		if err := validateKey(k); err != nil {
			return Request{}, 0, err
		}
		keys = append(keys, []byte(k))
	}
	return Request{Command: cmd, Keys: keys}, headerLen, nil
}

// parseStorage handles set/add/replace/append/prepend:
// "<cmd> <key> <flags> <exptime> <bytes> [noreply]\r\n<data>\r\n"
func parseStorage(cmd Command, fields []string, headerLen int, buf []byte) (Request, int, error) {
	if len(fields) < 5 {
		return Request{}, 0, parseErr(string(cmd) + " requires key flags exptime bytes")
	}
	if err := validateKey(fields[1]); err != nil {
		return Request{}, 0, err
	}
	flags, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Request{}, 0, parseErr("invalid flags")
	}
	ttl, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Request{}, 0, parseErr("invalid exptime")
	}
	nbytes, err := strconv.Atoi(fields[4])
	if err != nil || nbytes < 0 || nbytes > MaxValueLen {
		return Request{}, 0, parseErr("invalid byte count")
	}
	noReply := len(fields) >= 6 && fields[5] == "noreply"

	dataStart := headerLen
	need := dataStart + nbytes + 2
	if len(buf) < need {
		return Request{}, 0, wouldBlock()
	}
	if !bytes.Equal(buf[dataStart+nbytes:need], []byte("\r\n")) {
		return Request{}, 0, parseErr("data block missing CRLF terminator")
	}
	value := append([]byte(nil), buf[dataStart:dataStart+nbytes]...)

	return Request{
		Command: cmd,
		Keys:    [][]byte{[]byte(fields[1])},
		Value:   value,
		Flags:   uint32(flags),
		TTL:     ttl,
		NoReply: noReply,
	}, need, nil
}

// parseCas handles "cas <key> <flags> <exptime> <bytes> <cas unique> [noreply]\r\n<data>\r\n".
func parseCas(fields []string, headerLen int, buf []byte) (Request, int, error) {
	if len(fields) < 6 {
		return Request{}, 0, parseErr("cas requires key flags exptime bytes cas_unique")
	}
	req, consumed, err := parseStorage(CmdCas, fields[:5:5], headerLen, buf)
	if err != nil {
		return Request{}, 0, err
	}
	cas, err := strconv.ParseUint(fields[5], 10, 64)
	if err != nil {
		return Request{}, 0, parseErr("invalid cas_unique")
	}
	req.CAS = cas
	req.NoReply = len(fields) >= 7 && fields[6] == "noreply"
	return req, consumed, nil
}

func parseArith(cmd Command, fields []string, headerLen int) (Request, int, error) {
	if len(fields) < 3 {
		return Request{}, 0, parseErr(string(cmd) + " requires key delta")
	}
	if err := validateKey(fields[1]); err != nil {
		return Request{}, 0, err
	}
	delta, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Request{}, 0, parseErr("invalid delta")
	}
	noReply := len(fields) >= 4 && fields[3] == "noreply"
	return Request{Command: cmd, Keys: [][]byte{[]byte(fields[1])}, Delta: delta, NoReply: noReply}, headerLen, nil
}

func parseDelete(fields []string, headerLen int) (Request, int, error) {
	if len(fields) < 2 {
		return Request{}, 0, parseErr("delete requires a key")
	}
	if err := validateKey(fields[1]); err != nil {
		return Request{}, 0, err
	}
	noReply := len(fields) >= 3 && fields[2] == "noreply"
	return Request{Command: CmdDelete, Keys: [][]byte{[]byte(fields[1])}, NoReply: noReply}, headerLen, nil
}

func parseFlushAll(fields []string, headerLen int) (Request, int, error) {
	req := Request{Command: CmdFlushAll}
	rest := fields[1:]
	if len(rest) > 0 && rest[len(rest)-1] == "noreply" {
		req.NoReply = true
		rest = rest[:len(rest)-1]
	}
	if len(rest) > 0 {
		secs, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return Request{}, 0, parseErr("invalid flush_all delay")
		}
		req.Delay = time.Duration(secs) * time.Second
	}
	return req, headerLen, nil
}

// Execute runs req against eng, producing the Response ComposeResponse
// renders. It is the translation layer between wire commands and the
// storage engine's get/set/add/replace/cas/incr/decr/append/prepend
// /delete/flush_all operations (spec §4.5).
func Execute(req Request, eng *engine.Engine) Response {
	switch req.Command {
	case CmdGet, CmdGets:
		return executeRetrieval(req, eng)
	case CmdSet:
		return fromErr(eng.Set(req.Keys[0], req.Value, req.Flags, req.TTL))
	case CmdAdd:
		return fromErr(eng.Add(req.Keys[0], req.Value, req.Flags, req.TTL))
	case CmdReplace:
		return fromErr(eng.Replace(req.Keys[0], req.Value, req.Flags, req.TTL))
	case CmdCas:
		return fromErr(eng.CompareAndSwap(req.Keys[0], req.Value, req.Flags, req.TTL, req.CAS))
	case CmdAppend:
		return fromErr(eng.Append(req.Keys[0], req.Value))
	case CmdPrepend:
		return fromErr(eng.Prepend(req.Keys[0], req.Value))
	case CmdIncr:
		n, err := eng.Incr(req.Keys[0], req.Delta)
		return fromArith(n, err)
	case CmdDecr:
		n, err := eng.Decr(req.Keys[0], req.Delta)
		return fromArith(n, err)
	case CmdDelete:
		found, err := eng.Delete(req.Keys[0])
		if err != nil {
			return fromErr(err)
		}
		if !found {
			return Response{Status: errors.StatusNotFound}
		}
		return Response{Status: errors.StatusDeleted}
	case CmdFlushAll:
		if err := eng.FlushAll(req.Delay); err != nil {
			return fromErr(err)
		}
		return Response{Status: errors.StatusStored}
	default:
		return Response{Status: errors.StatusClientError}
	}
}

func executeRetrieval(req Request, eng *engine.Engine) Response {
	items := make([]Item, 0, len(req.Keys))
	for _, key := range req.Keys {
		if req.Command == CmdGets {
			v, cas, err := eng.GetCAS(key)
			if err != nil {
				continue // a missing key is simply omitted from the response
			}
			items = append(items, Item{Key: key, Flags: v.Flags, Value: v.Bytes(), CAS: cas})
			continue
		}
		v, err := eng.Get(key)
		if err != nil {
			continue
		}
		items = append(items, Item{Key: key, Flags: v.Flags, Value: v.Bytes()})
	}
	return Response{Status: errors.StatusStored, Items: items}
}

func fromErr(err error) Response {
	if err == nil {
		return Response{Status: errors.StatusStored}
	}
	return Response{Status: errors.StatusFromEngineError(err)}
}

func fromArith(n uint64, err error) Response {
	if err != nil {
		return Response{Status: errors.StatusFromEngineError(err)}
	}
	return Response{Status: errors.StatusStored, Number: n}
}

// ComposeResponse renders resp into the session's write buffer per the
// memcache text wire format.
func ComposeResponse(req Request, resp Response, out []byte) (int, []byte) {
	var b bytes.Buffer

	switch req.Command {
	case CmdGet, CmdGets:
		for _, item := range resp.Items {
			b.WriteString("VALUE ")
			b.Write(item.Key)
			b.WriteByte(' ')
			b.WriteString(strconv.FormatUint(uint64(item.Flags), 10))
			b.WriteByte(' ')
			b.WriteString(strconv.Itoa(len(item.Value)))
			if req.Command == CmdGets {
				b.WriteByte(' ')
				b.WriteString(strconv.FormatUint(item.CAS, 10))
			}
			b.WriteString("\r\n")
			b.Write(item.Value)
			b.WriteString("\r\n")
		}
		b.WriteString("END\r\n")
	case CmdIncr, CmdDecr:
		if req.NoReply {
			return 0, nil
		}
		if resp.Status == errors.StatusNotFound {
			b.WriteString("NOT_FOUND\r\n")
		} else if resp.Status != errors.StatusStored {
			b.WriteString(statusLine(resp.Status))
		} else {
			b.WriteString(strconv.FormatUint(resp.Number, 10))
			b.WriteString("\r\n")
		}
	case CmdQuit:
		return 0, nil
	default:
		if req.NoReply {
			return 0, nil
		}
		b.WriteString(statusLine(resp.Status))
	}

	return 0, b.Bytes()
}

func statusLine(status errors.WireStatus) string {
	switch status {
	case errors.StatusStored:
		return "STORED\r\n"
	case errors.StatusNotStored:
		return "NOT_STORED\r\n"
	case errors.StatusExists:
		return "EXISTS\r\n"
	case errors.StatusNotFound:
		return "NOT_FOUND\r\n"
	case errors.StatusDeleted:
		return "DELETED\r\n"
	case errors.StatusClientError:
		return "CLIENT_ERROR bad command line format\r\n"
	default:
		return "SERVER_ERROR internal error\r\n"
	}
}

// Hangup reports whether req should close the session after its
// response (if any) is flushed.
func Hangup(req Request) bool { return req.Command == CmdQuit }
