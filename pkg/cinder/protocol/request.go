// Package protocol implements the incremental HTTP/1.1 request parser and
// response assembler, ported from the original WebServer's HttpRequest and
// HttpResponse classes.
package protocol

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/yourusername/cinder/pkg/cinder/buffer"
)

// State is a parse state in the four-state request state machine.
type State int

const (
	StateRequestLine State = iota
	StateHeaders
	StateBody
	StateFinish
)

// recognizedHTML is the fixed set of extensionless paths that get ".html"
// appended, ported verbatim from HttpRequest::DEFAULT_HTML.
var recognizedHTML = map[string]bool{
	"/index":    true,
	"/register": true,
	"/login":    true,
	"/welcome":  true,
	"/video":    true,
	"/picture":  true,
}

// formTag identifies which recognized POST target a path is, ported from
// HttpRequest::DEFAULT_HTML_TAG.
type formTag int

const (
	tagNone formTag = iota
	tagRegister
	tagLogin
)

var formTags = map[string]formTag{
	"/register.html": tagRegister,
	"/login.html":    tagLogin,
}

// Verifier checks a submitted username/password against the backing store.
// isLogin distinguishes a login attempt from a registration attempt, per
// spec.md §4.5's verify_user contract.
type Verifier func(name, password string, isLogin bool) bool

// Request is an incrementally-parsed HTTP/1.1 request. Header and Post use
// plain Go maps; Header lookups are case-insensitive via
// http.CanonicalHeaderKey.
type Request struct {
	Method  string
	Path    string
	Version string
	Header  map[string]string
	Body    string
	Post    map[string]string

	state State
}

// NewRequest returns a Request ready to parse, in StateRequestLine.
func NewRequest() *Request {
	r := &Request{}
	r.Reset()
	return r
}

// Reset clears all parsed fields and returns the state machine to
// StateRequestLine, so the same Request can be reused across keep-alive
// exchanges on one connection.
func (r *Request) Reset() {
	r.Method = ""
	r.Path = ""
	r.Version = ""
	r.Header = make(map[string]string)
	r.Body = ""
	r.Post = make(map[string]string)
	r.state = StateRequestLine
}

// Done reports whether the request has been fully parsed.
func (r *Request) Done() bool { return r.state == StateFinish }

// ErrMalformedRequestLine is returned when the request line does not
// match "METHOD SP PATH SP HTTP/VERSION".
type ErrMalformedRequestLine struct{ Line string }

func (e *ErrMalformedRequestLine) Error() string {
	return fmt.Sprintf("protocol: malformed request line %q", e.Line)
}

// Parse drives the state machine over the readable region of in,
// consuming one CRLF-terminated line at a time. It returns true once the
// request has reached StateFinish. If the buffer holds no complete line,
// it returns (false, nil): this is "need more data", not an error — the
// caller should read more bytes and call Parse again. verify is consulted
// only for POST bodies targeting the recognized register/login paths; it
// may be nil if no such dispatch is needed (e.g. pure-parser tests).
func (r *Request) Parse(in *buffer.Buffer, verify Verifier) (bool, error) {
	if in.Readable() == 0 {
		return false, nil
	}

	for in.Readable() > 0 && r.state != StateFinish {
		peek := in.Peek()
		idx := indexCRLF(peek)
		if idx < 0 {
			// No complete line yet; wait for more bytes.
			return false, nil
		}
		line := string(peek[:idx])

		switch r.state {
		case StateRequestLine:
			if err := r.parseRequestLine(line); err != nil {
				return false, err
			}
		case StateHeaders:
			if ok := r.parseHeaderLine(line); !ok {
				r.state = StateBody
			}
		case StateBody:
			r.Body = line
			r.parsePost(verify)
			r.state = StateFinish
		}

		in.Retrieve(idx + 2)

		// Headers has no body delimiter of its own: an empty header line
		// (idx==0) is the CRLFCRLF terminator, and when no bytes remain to
		// be read as a body we are finished right away.
		if r.state == StateBody && idx == 0 && in.Readable() == 0 {
			r.state = StateFinish
		}
	}
	return r.state == StateFinish, nil
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// parseRequestLine matches "METHOD SP PATH SP HTTP/VERSION" and applies
// the path-rewrite rules from ParsePath_: "/" becomes "/index.html", and
// any recognized extensionless path gets ".html" appended.
func (r *Request) parseRequestLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return &ErrMalformedRequestLine{Line: line}
	}
	r.Method = parts[0]
	r.Path = parts[1]
	r.Version = strings.TrimPrefix(parts[2], "HTTP/")
	r.state = StateHeaders

	if r.Path == "/" {
		r.Path = "/index.html"
	} else if recognizedHTML[r.Path] {
		r.Path += ".html"
	}
	return nil
}

// parseHeaderLine matches "NAME: VALUE" and inserts into the header map.
// Returns false when the line doesn't match a header (the empty line that
// terminates the header block), signaling the caller to advance state.
func (r *Request) parseHeaderLine(line string) bool {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return false
	}
	name := line[:colon]
	value := strings.TrimPrefix(line[colon+1:], " ")
	r.Header[http.CanonicalHeaderKey(name)] = value
	return true
}

// getHeader looks up a header case-insensitively.
func (r *Request) getHeader(name string) (string, bool) {
	v, ok := r.Header[http.CanonicalHeaderKey(name)]
	return v, ok
}

// IsKeepAlive reports whether the client asked to keep the connection
// open: header Connection is "keep-alive" (case-insensitively) and the
// request is HTTP/1.1, per spec.md §9's case-insensitivity recommendation.
func (r *Request) IsKeepAlive() bool {
	v, ok := r.getHeader("Connection")
	return ok && strings.EqualFold(v, "keep-alive") && r.Version == "1.1"
}

// parsePost decodes an application/x-www-form-urlencoded body and, for the
// recognized register/login targets, dispatches to verify and rewrites
// Path to /welcome.html or /error.html accordingly. Ported from
// HttpRequest::ParsePost_.
func (r *Request) parsePost(verify Verifier) {
	if r.Method != "POST" {
		return
	}
	ct, _ := r.getHeader("Content-Type")
	if ct != "application/x-www-form-urlencoded" {
		return
	}

	r.Post = parseURLEncoded(r.Body)

	tag, ok := formTags[r.Path]
	if !ok || tag == tagNone {
		return
	}
	if verify == nil {
		return
	}

	isLogin := tag == tagLogin
	if verify(r.Post["username"], r.Post["password"], isLogin) {
		r.Path = "/welcome.html"
	} else {
		r.Path = "/error.html"
	}
}

// parseURLEncoded decodes "key=value&key=value" form bodies using correct
// RFC 3986 percent-decoding.
//
// Deviation from original_source: the C++ source's ConverHex/percent-decode
// step writes the decoded byte value back as two *decimal* ASCII digits
// instead of the single decoded byte — almost certainly a bug (spec.md §9
// Open Question). This implementation decodes %HH to the single byte it
// represents, as RFC 3986 requires.
func parseURLEncoded(body string) map[string]string {
	out := make(map[string]string)
	if body == "" {
		return out
	}

	key := ""
	start := 0
	haveKey := false

	flush := func(end int) {
		value := decodeURLComponent(body[start:end])
		if haveKey {
			out[key] = value
		}
	}

	i := 0
	for i < len(body) {
		switch body[i] {
		case '=':
			key = decodeURLComponent(body[start:i])
			haveKey = true
			start = i + 1
		case '&':
			flush(i)
			haveKey = false
			start = i + 1
		}
		i++
	}
	if start < len(body) || haveKey {
		flush(len(body))
	}
	return out
}

// decodeURLComponent decodes '+' to space and %HH to its single byte.
func decodeURLComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '+':
			b.WriteByte(' ')
		case '%':
			if i+2 < len(s) {
				if n, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					b.WriteByte(byte(n))
					i += 2
					continue
				}
			}
			b.WriteByte('%')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
