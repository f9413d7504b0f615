// Package resp implements the RESP wire protocol (spec §4.11): arrays of
// bulk strings for the multi-bulk form, plus the inline form used by
// simple clients (redis-cli, netcat). Commands that name a data
// structure the engine doesn't carry (hashes, lists, sets, sorted sets)
// parse successfully but execute to "unsupported command", per spec's
// "not all backends implement all commands" allowance.
package resp

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/iamNilotpal/pelikan/internal/engine"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

const protocolName = "resp"

// maxMultiBulkLen and maxBulkLen bound the two length-prefixed fields a
// multibulk command carries: how many array elements follow, and how
// long any one bulk string is. Without a ceiling a client-declared
// count near math.MaxInt64 overflows the int arithmetic that locates
// each element, wrapping negative and defeating the would-block check
// that depends on it. maxBulkLen matches the value-size ceiling the
// memcache text protocol uses (memcachetext.MaxValueLen); maxMultiBulkLen
// mirrors the RESP wire format's own conventional array-length cap.
const (
	maxMultiBulkLen = 1024 * 1024
	maxBulkLen      = 512 * 1024 * 1024
)

func parseErr(msg string) error {
	return errors.NewProtocolError(nil, errors.ErrorCodeParseInvalid, msg).WithProtocol(protocolName)
}

func wouldBlock() error {
	return errors.NewProtocolError(nil, errors.ErrorCodeParseWouldBlock, "incomplete request").WithProtocol(protocolName)
}

// SetOptions holds the optional modifiers SET accepts (spec §4.11: NX,
// XX, EX, PX, EXAT, PXAT, KEEPTTL, GET).
type SetOptions struct {
	NX, XX, KeepTTL, WithGet bool
	HasExpire                bool
	ExpireAt                 time.Time
}

// Request is one parsed RESP command: an upper-cased verb plus its raw
// argument bytes (the command name itself is not included in Args).
type Request struct {
	Command string
	Args    [][]byte
	SetOpts SetOptions
}

// ResponseKind discriminates which RESP wire form ComposeResponse renders.
type ResponseKind int

const (
	KindSimpleString ResponseKind = iota
	KindError
	KindInteger
	KindBulkString
	KindNullBulkString
	KindNullArray
	KindBulkArray // array of bulk strings, from Values
)

// Response is what Execute produces; ComposeResponse renders exactly one
// of its fields depending on Kind.
type Response struct {
	Kind   ResponseKind
	Str    string // KindSimpleString / KindError
	Int    int64  // KindInteger
	Bulk   []byte // KindBulkString
	Values [][]byte
}

// ParseRequest consumes one RESP command from buf: the multi-bulk array
// form if buf starts with '*', otherwise the inline form.
func ParseRequest(buf []byte) (Request, int, error) {
	if len(buf) == 0 {
		return Request{}, 0, wouldBlock()
	}
	if buf[0] == '*' {
		return parseMultiBulk(buf)
	}
	return parseInline(buf)
}

func parseMultiBulk(buf []byte) (Request, int, error) {
	pos := 1
	count, n, err := parseLine(buf[pos:])
	if err != nil {
		return Request{}, 0, err
	}
	pos += n

	countN, err := parseCanonicalInt64(count)
	if err != nil || countN < 0 || countN > maxMultiBulkLen {
		return Request{}, 0, parseErr("invalid multibulk length")
	}
	if countN == 0 {
		return Request{}, 0, parseErr("empty command array")
	}

	args := make([][]byte, 0, countN)
	for i := int64(0); i < countN; i++ {
		if pos >= len(buf) || buf[pos] != '$' {
			return Request{}, 0, parseErr("expected bulk string in command array")
		}
		pos++
		lenBytes, n, err := parseLine(buf[pos:])
		if err != nil {
			return Request{}, 0, err
		}
		pos += n
		l, err := parseCanonicalInt64(lenBytes)
		if err != nil || l < 0 || l > maxBulkLen {
			return Request{}, 0, parseErr("invalid bulk string length")
		}
		need := pos + int(l) + 2
		if len(buf) < need {
			return Request{}, 0, wouldBlock()
		}
		if !bytes.Equal(buf[pos+int(l):need], []byte("\r\n")) {
			return Request{}, 0, parseErr("bulk string missing CRLF terminator")
		}
		data := append([]byte(nil), buf[pos:pos+int(l)]...)
		args = append(args, data)
		pos = need
	}

	cmd := strings.ToUpper(string(args[0]))
	req := Request{Command: cmd, Args: args[1:]}
	if cmd == "SET" {
		opts, err := parseSetOptions(req.Args)
		if err != nil {
			return Request{}, 0, err
		}
		req.SetOpts = opts
	}
	return req, pos, nil
}

// parseLine returns the bytes up to (not including) the next CRLF, and
// the number of bytes consumed including that CRLF.
func parseLine(buf []byte) ([]byte, int, error) {
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		if len(buf) > 64 {
			return nil, 0, parseErr("line too long without terminator")
		}
		return nil, 0, wouldBlock()
	}
	return buf[:idx], idx + 2, nil
}

// parseInline handles the space-separated form clients like redis-cli and
// netcat use, with double-quoted segments for embedded whitespace
// (original_source's Parser::parse_command_line).
func parseInline(buf []byte) (Request, int, error) {
	idx := bytes.IndexAny(buf, "\r\n")
	if idx < 0 {
		if len(buf) > 8192 {
			return Request{}, 0, parseErr("inline command too long")
		}
		return Request{}, 0, wouldBlock()
	}
	line := buf[:idx]
	consumed := idx + 1
	if idx+1 < len(buf) && buf[idx] == '\r' && buf[idx+1] == '\n' {
		consumed = idx + 2
	}

	fields, err := splitInline(string(line))
	if err != nil {
		return Request{}, 0, err
	}
	if len(fields) == 0 {
		return Request{}, 0, parseErr("empty inline command")
	}

	args := make([][]byte, len(fields)-1)
	for i, f := range fields[1:] {
		args[i] = []byte(f)
	}
	cmd := strings.ToUpper(fields[0])
	req := Request{Command: cmd, Args: args}
	if cmd == "SET" {
		opts, err := parseSetOptions(req.Args)
		if err != nil {
			return Request{}, 0, err
		}
		req.SetOpts = opts
	}
	return req, consumed, nil
}

func splitInline(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	hasCur := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuotes:
			if c == '\\' && i+1 < len(line) && line[i+1] == '"' {
				cur.WriteByte('"')
				i++
			} else if c == '"' {
				inQuotes = false
			} else {
				cur.WriteByte(c)
			}
		case c == '"':
			inQuotes = true
			hasCur = true
		case c == ' ':
			if hasCur {
				fields = append(fields, cur.String())
				cur.Reset()
				hasCur = false
			}
		default:
			cur.WriteByte(c)
			hasCur = true
		}
	}
	if inQuotes {
		return nil, parseErr("unterminated quoted string")
	}
	if hasCur {
		fields = append(fields, cur.String())
	}
	return fields, nil
}

func parseSetOptions(args [][]byte) (SetOptions, error) {
	var opts SetOptions
	now := time.Now()
	// args[0] and args[1] are the key and value; options follow them.
	i := 2
	for i < len(args) {
		switch strings.ToUpper(string(args[i])) {
		case "NX":
			opts.NX = true
			i++
		case "XX":
			opts.XX = true
			i++
		case "KEEPTTL":
			opts.KeepTTL = true
			i++
		case "GET":
			opts.WithGet = true
			i++
		case "EX":
			secs, n, err := setExpireArg(args, i, func(v int64) time.Time { return now.Add(time.Duration(v) * time.Second) })
			if err != nil {
				return opts, err
			}
			opts.HasExpire = true
			opts.ExpireAt = secs
			i = n
		case "PX":
			ms, n, err := setExpireArg(args, i, func(v int64) time.Time { return now.Add(time.Duration(v) * time.Millisecond) })
			if err != nil {
				return opts, err
			}
			opts.HasExpire = true
			opts.ExpireAt = ms
			i = n
		case "EXAT":
			t, n, err := setExpireArg(args, i, func(v int64) time.Time { return time.Unix(v, 0) })
			if err != nil {
				return opts, err
			}
			opts.HasExpire = true
			opts.ExpireAt = t
			i = n
		case "PXAT":
			t, n, err := setExpireArg(args, i, func(v int64) time.Time { return time.UnixMilli(v) })
			if err != nil {
				return opts, err
			}
			opts.HasExpire = true
			opts.ExpireAt = t
			i = n
		default:
			return opts, parseErr("unsupported SET option: " + string(args[i]))
		}
	}
	if opts.NX && opts.XX {
		return opts, parseErr("NX and XX options are mutually exclusive")
	}
	return opts, nil
}

func setExpireArg(args [][]byte, i int, toTime func(int64) time.Time) (time.Time, int, error) {
	if i+1 >= len(args) {
		return time.Time{}, 0, parseErr("SET option missing value")
	}
	v, err := parseCanonicalInt64(args[i+1])
	if err != nil {
		return time.Time{}, 0, parseErr("invalid SET option value")
	}
	return toTime(v), i + 2, nil
}

// parseCanonicalInt64 rejects leading zeros, negative zero, and overflow
// (spec §4.11's "strict canonical integer" requirement for RESP).
func parseCanonicalInt64(b []byte) (int64, error) {
	s := string(b)
	if s == "" {
		return 0, parseErr("empty integer")
	}
	neg := false
	digits := s
	if s[0] == '-' {
		neg = true
		digits = s[1:]
	}
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return 0, parseErr("malformed integer: " + s)
	}
	if neg && digits == "0" {
		return 0, parseErr("negative zero is not a valid integer")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, parseErr("integer overflow: " + s)
	}
	return v, nil
}

// Execute runs req against eng, dispatching to the operations the engine
// supports directly (GET/SET/DEL/INCR) and answering everything else
// with the "unsupported command" contract spec.md allows.
func Execute(req Request, eng *engine.Engine) Response {
	switch req.Command {
	case "GET":
		return execGet(req, eng)
	case "SET":
		return execSet(req, eng)
	case "DEL":
		return execDel(req, eng)
	case "INCR":
		return execIncr(req, eng)
	default:
		return Response{Kind: KindError, Str: "ERR unsupported command: " + strings.ToLower(req.Command)}
	}
}

func execGet(req Request, eng *engine.Engine) Response {
	if len(req.Args) != 1 {
		return Response{Kind: KindError, Str: "ERR wrong number of arguments for 'get' command"}
	}
	v, err := eng.Get(req.Args[0])
	if err != nil {
		return Response{Kind: KindNullBulkString}
	}
	return Response{Kind: KindBulkString, Bulk: v.Bytes()}
}

func execSet(req Request, eng *engine.Engine) Response {
	if len(req.Args) < 2 {
		return Response{Kind: KindError, Str: "ERR wrong number of arguments for 'set' command"}
	}
	key, value := req.Args[0], req.Args[1]

	var old []byte
	var hadOld bool
	if req.SetOpts.WithGet {
		if v, err := eng.Get(key); err == nil {
			old = v.Bytes()
			hadOld = true
		}
	}

	// persistentTTL stands in for "no expiration": Engine.Set treats any
	// ttlSeconds <= 0 as a delete, and the ttlbucket schedule clamps any
	// TTL past 30 days to its last bucket anyway, so a key with no
	// EX/PX/EXAT/PXAT option gets this instead of a literal 0, which
	// would otherwise delete it (plain SET) or file it into the
	// shortest-lived bucket (NX/XX).
	const persistentTTL = 100 * 365 * 24 * 60 * 60 // 100 years

	ttl := int64(persistentTTL)
	if req.SetOpts.HasExpire {
		ttl = int64(time.Until(req.SetOpts.ExpireAt).Seconds())
		if ttl < 0 {
			ttl = 0
		}
	}

	var err error
	switch {
	case req.SetOpts.NX:
		err = eng.Add(key, value, 0, ttl)
	case req.SetOpts.XX:
		err = eng.Replace(key, value, 0, ttl)
	default:
		err = eng.Set(key, value, 0, ttl)
	}

	if err != nil {
		if req.SetOpts.WithGet {
			if hadOld {
				return Response{Kind: KindBulkString, Bulk: old}
			}
			return Response{Kind: KindNullBulkString}
		}
		return Response{Kind: KindNullBulkString}
	}
	if req.SetOpts.WithGet {
		if hadOld {
			return Response{Kind: KindBulkString, Bulk: old}
		}
		return Response{Kind: KindNullBulkString}
	}
	return Response{Kind: KindSimpleString, Str: "OK"}
}

func execDel(req Request, eng *engine.Engine) Response {
	if len(req.Args) == 0 {
		return Response{Kind: KindError, Str: "ERR wrong number of arguments for 'del' command"}
	}
	var n int64
	for _, key := range req.Args {
		found, err := eng.Delete(key)
		if err == nil && found {
			n++
		}
	}
	return Response{Kind: KindInteger, Int: n}
}

func execIncr(req Request, eng *engine.Engine) Response {
	if len(req.Args) != 1 {
		return Response{Kind: KindError, Str: "ERR wrong number of arguments for 'incr' command"}
	}
	v, err := eng.Incr(req.Args[0], 1)
	if err != nil {
		return Response{Kind: KindError, Str: "ERR value is not an integer or out of range"}
	}
	return Response{Kind: KindInteger, Int: int64(v)}
}

// ComposeResponse renders resp into the session's write buffer per the
// RESP wire format.
func ComposeResponse(_ Request, resp Response, _ []byte) (int, []byte) {
	var b bytes.Buffer
	switch resp.Kind {
	case KindSimpleString:
		b.WriteByte('+')
		b.WriteString(resp.Str)
		b.WriteString("\r\n")
	case KindError:
		b.WriteByte('-')
		b.WriteString(resp.Str)
		b.WriteString("\r\n")
	case KindInteger:
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(resp.Int, 10))
		b.WriteString("\r\n")
	case KindBulkString:
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(len(resp.Bulk)))
		b.WriteString("\r\n")
		b.Write(resp.Bulk)
		b.WriteString("\r\n")
	case KindNullBulkString:
		b.WriteString("$-1\r\n")
	case KindNullArray:
		b.WriteString("*-1\r\n")
	case KindBulkArray:
		b.WriteByte('*')
		b.WriteString(strconv.Itoa(len(resp.Values)))
		b.WriteString("\r\n")
		for _, v := range resp.Values {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(len(v)))
			b.WriteString("\r\n")
			b.Write(v)
			b.WriteString("\r\n")
		}
	}
	return 0, b.Bytes()
}

// Hangup is always false: RESP has no quit-style command in the subset
// this adapter implements; clients close the connection themselves.
func Hangup(Request) bool { return false }
