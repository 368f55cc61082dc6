package protocol

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/yourusername/cinder/pkg/cinder/buffer"
)

// suffixType maps a file extension to its MIME type, ported from
// HttpResponse::SUFFIX_TYPE.
var suffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

// codeStatus maps a status code to its reason phrase, ported from
// HttpResponse::CODE_STATUS.
var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

// codePath maps a status code to the canned error page served in its
// place, ported from HttpResponse::CODE_PATH.
var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// Response assembles an HTTP/1.1 response: a status line and headers
// written into a Buffer, plus a body that is either a small in-memory
// payload (error pages) or a memory-mapped region of a file on disk —
// the Inline/Mapped variant from spec.md §4.6.
type Response struct {
	srcDir      string
	path        string
	isKeepAlive bool
	code        int

	mapped     []byte // non-nil while a file is mmap'd; must be Unmap'd
	mappedSize int64
	inlineBody []byte // non-nil when the body is a canned error page
}

// NewResponse returns an unconfigured Response; call Init before
// MakeResponse.
func NewResponse() *Response { return &Response{code: -1} }

// Init (re)configures the response for a new exchange, unmapping any
// file left mapped from a previous one. code == -1 means "not yet
// decided" and MakeResponse will resolve it to 200/403/404.
func (resp *Response) Init(srcDir, path string, isKeepAlive bool, code int) {
	resp.Unmap()
	resp.srcDir = srcDir
	resp.path = path
	resp.isKeepAlive = isKeepAlive
	resp.code = code
}

// Code returns the final status code chosen by the most recent
// MakeResponse call.
func (resp *Response) Code() int { return resp.code }

// Body returns the response body: inline holds error-page bytes (nil
// when the body is a mapped file), mapped holds the mmap'd file region
// (nil when the body is an error page). Exactly one is non-nil after a
// successful MakeResponse whose body is non-empty.
func (resp *Response) Body() (inline []byte, mapped []byte) {
	return resp.inlineBody, resp.mapped
}

// MakeResponse resolves the final status code by stat'ing
// srcDir+path, appends the status line and headers to buff, and mmaps
// (or substitutes a canned error body for) the response body. Ported
// from HttpResponse::MakeResponse.
func (resp *Response) MakeResponse(buff *buffer.Buffer) error {
	fullPath, safe := resp.resolvePath()

	var info os.FileInfo
	var statErr error
	if safe {
		info, statErr = os.Stat(fullPath)
	}

	switch {
	case !safe:
		// resp.path normalized to somewhere outside srcDir: treat like
		// an unreadable file rather than leaking whether it exists.
		resp.code = 403
	case statErr != nil || info.IsDir():
		resp.code = 404
	case info.Mode().Perm()&0o004 == 0:
		// no other-readable bit: mirrors S_IROTH check.
		resp.code = 403
	case resp.code == -1:
		resp.code = 200
	}

	resp.rewriteErrorPath()
	resp.addStateLine(buff)
	resp.addHeader(buff)
	return resp.addContent(buff)
}

// resolvePath rejects any request path that contains a ".." segment —
// an attempt to walk above srcDir's root — and otherwise normalizes the
// path with path.Clean before joining it under srcDir. Request paths
// arrive un-sanitized from the request line, so this is the one place
// traversal ("/../../etc/passwd") is caught before the path ever
// reaches Stat/Open/Mmap. Returns the absolute path to stat/open and
// whether the request is safe to serve.
func (resp *Response) resolvePath() (string, bool) {
	for _, seg := range strings.Split(resp.path, "/") {
		if seg == ".." {
			return "", false
		}
	}

	cleaned := path.Clean(resp.path)
	resp.path = cleaned

	root, err := filepath.Abs(resp.srcDir)
	if err != nil {
		return "", false
	}
	// Defense in depth: even though the ".." check above already rejects
	// every escape this server can construct, never serve a joined path
	// that isn't actually under root.
	full := filepath.Join(root, cleaned)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// rewriteErrorPath substitutes the canned error page path for a
// non-2xx status, ported from HttpResponse::ErrorHtml_.
func (resp *Response) rewriteErrorPath() {
	if p, ok := codePath[resp.code]; ok {
		resp.path = p
	}
}

func (resp *Response) addStateLine(buff *buffer.Buffer) {
	status, ok := codeStatus[resp.code]
	if !ok {
		resp.code = 400
		status = codeStatus[400]
	}
	buff.AppendString("HTTP/1.1 " + strconv.Itoa(resp.code) + " " + status + "\r\n")
}

func (resp *Response) addHeader(buff *buffer.Buffer) {
	buff.AppendString("Connection: ")
	if resp.isKeepAlive {
		buff.AppendString("keep-alive\r\n")
		buff.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		buff.AppendString("close\r\n")
	}
	buff.AppendString("Content-type: " + resp.fileType() + "\r\n")
}

func (resp *Response) fileType() string {
	idx := strings.LastIndexByte(resp.path, '.')
	if idx < 0 {
		return "text/plain"
	}
	if t, ok := suffixType[resp.path[idx:]]; ok {
		return t
	}
	return "text/plain"
}

// addContent opens and mmaps the resolved file, appending the
// Content-length header and the blank line that separates headers from
// body. On any failure to open/mmap, it falls back to a canned error
// body via ErrorContent.
func (resp *Response) addContent(buff *buffer.Buffer) error {
	f, err := os.Open(resp.srcDir + resp.path)
	if err != nil {
		resp.errorContent(buff, "File NotFound!")
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		resp.errorContent(buff, "File NotFound!")
		return nil
	}
	size := info.Size()

	if size == 0 {
		// unix.Mmap rejects a zero-length mapping; an empty file has an
		// empty body by construction.
		buff.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", size))
		return nil
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		resp.errorContent(buff, "File NotFound!")
		return nil
	}
	resp.mapped = mapped
	resp.mappedSize = size

	buff.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", size))
	return nil
}

// errorContent builds the canned HTML error body inline, ported from
// HttpResponse::ErrorContent.
func (resp *Response) errorContent(buff *buffer.Buffer, message string) {
	status, ok := codeStatus[resp.code]
	if !ok {
		status = "Bad Request"
	}

	var b strings.Builder
	b.WriteString("<html><title>Error</title>")
	b.WriteString("<body bgcolor=\"ffffff\">")
	b.WriteString(strconv.Itoa(resp.code))
	b.WriteString(" : ")
	b.WriteString(status)
	b.WriteByte('\n')
	b.WriteString("<p>" + message + "</p>")
	b.WriteString("<hr><em>cinder</em></body></html>")
	body := b.String()

	buff.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", len(body)))
	resp.inlineBody = []byte(body)
}

// Unmap releases the mmap'd file region, if any. Safe to call multiple
// times and on a Response that never mapped a file.
func (resp *Response) Unmap() {
	if resp.mapped != nil {
		unix.Munmap(resp.mapped)
		resp.mapped = nil
		resp.mappedSize = 0
	}
	resp.inlineBody = nil
}
