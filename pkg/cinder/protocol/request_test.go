package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/cinder/pkg/cinder/buffer"
)

func TestParseSimpleGet(t *testing.T) {
	buf := buffer.New()
	buf.AppendString("GET /index.html HTTP/1.1\r\nHost: localhost\r\nConnection: keep-alive\r\n\r\n")

	req := NewRequest()
	done, err := req.Parse(buf, nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/index.html", req.Path)
	require.Equal(t, "1.1", req.Version)
	require.Equal(t, "localhost", req.Header["Host"])
	require.True(t, req.IsKeepAlive())
}

func TestParseRootRewritesToIndex(t *testing.T) {
	buf := buffer.New()
	buf.AppendString("GET / HTTP/1.1\r\n\r\n")

	req := NewRequest()
	done, err := req.Parse(buf, nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "/index.html", req.Path)
}

func TestParseRecognizedExtensionlessPath(t *testing.T) {
	buf := buffer.New()
	buf.AppendString("GET /welcome HTTP/1.1\r\n\r\n")

	req := NewRequest()
	done, err := req.Parse(buf, nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "/welcome.html", req.Path)
}

func TestParseIncrementalAcrossMultipleFeeds(t *testing.T) {
	full := "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"

	buf := buffer.New()
	req := NewRequest()

	// Feed one byte at a time; Parse must never error on a partial line
	// and must only report done once the terminating blank line arrives.
	for i := 0; i < len(full); i++ {
		buf.AppendString(string(full[i]))
		done, err := req.Parse(buf, nil)
		require.NoError(t, err)
		if i < len(full)-1 {
			require.False(t, done)
		} else {
			require.True(t, done)
		}
	}
	require.Equal(t, "GET", req.Method)
}

func TestParseMalformedRequestLine(t *testing.T) {
	buf := buffer.New()
	buf.AppendString("GARBAGE\r\n\r\n")

	req := NewRequest()
	_, err := req.Parse(buf, nil)
	require.Error(t, err)
	var malformed *ErrMalformedRequestLine
	require.ErrorAs(t, err, &malformed)
}

func TestParseCloseConnectionWhenHeaderAbsent(t *testing.T) {
	buf := buffer.New()
	buf.AppendString("GET /index.html HTTP/1.1\r\n\r\n")

	req := NewRequest()
	done, err := req.Parse(buf, nil)
	require.NoError(t, err)
	require.True(t, done)
	require.False(t, req.IsKeepAlive())
}

func TestParseKeepAliveIsCaseInsensitive(t *testing.T) {
	buf := buffer.New()
	buf.AppendString("GET /index.html HTTP/1.1\r\nConnection: Keep-Alive\r\n\r\n")

	req := NewRequest()
	_, err := req.Parse(buf, nil)
	require.NoError(t, err)
	require.True(t, req.IsKeepAlive())
}

func TestParsePostLoginDispatchesToVerifier(t *testing.T) {
	body := "username=alice&password=secret"
	buf := buffer.New()
	buf.AppendString("POST /login.html HTTP/1.1\r\n")
	buf.AppendString("Content-Type: application/x-www-form-urlencoded\r\n")
	buf.AppendString("\r\n")
	buf.AppendString(body)
	buf.AppendString("\r\n")

	var gotName, gotPass string
	var gotLogin bool
	verify := func(name, password string, isLogin bool) bool {
		gotName, gotPass, gotLogin = name, password, isLogin
		return true
	}

	req := NewRequest()
	done, err := req.Parse(buf, verify)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "alice", gotName)
	require.Equal(t, "secret", gotPass)
	require.True(t, gotLogin)
	require.Equal(t, "/welcome.html", req.Path)
}

func TestParsePostLoginFailureRewritesToError(t *testing.T) {
	buf := buffer.New()
	buf.AppendString("POST /login.html HTTP/1.1\r\n")
	buf.AppendString("Content-Type: application/x-www-form-urlencoded\r\n")
	buf.AppendString("\r\n")
	buf.AppendString("username=bob&password=wrong\r\n")

	verify := func(name, password string, isLogin bool) bool { return false }

	req := NewRequest()
	_, err := req.Parse(buf, verify)
	require.NoError(t, err)
	require.Equal(t, "/error.html", req.Path)
}

func TestParsePostPercentDecodesCorrectly(t *testing.T) {
	// "a b" percent-encoded, plus a literal '+' decoding to space.
	buf := buffer.New()
	buf.AppendString("POST /other.html HTTP/1.1\r\n")
	buf.AppendString("Content-Type: application/x-www-form-urlencoded\r\n")
	buf.AppendString("\r\n")
	buf.AppendString("name=a%20b%2Bc&note=x+y\r\n")

	req := NewRequest()
	_, err := req.Parse(buf, nil)
	require.NoError(t, err)
	require.Equal(t, "a b+c", req.Post["name"])
	require.Equal(t, "x y", req.Post["note"])
}

func TestReset(t *testing.T) {
	buf := buffer.New()
	buf.AppendString("GET /index.html HTTP/1.1\r\n\r\n")

	req := NewRequest()
	done, err := req.Parse(buf, nil)
	require.NoError(t, err)
	require.True(t, done)

	req.Reset()
	require.Empty(t, req.Method)
	require.Empty(t, req.Path)
	require.False(t, req.Done())
}
