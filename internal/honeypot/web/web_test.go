package web

import (
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decoynet/decoyd/internal/classify"
	"github.com/decoynet/decoyd/internal/event"
	"github.com/decoynet/decoyd/internal/metrics"
	"github.com/decoynet/decoyd/internal/session"
)

// ---- request parsing -----------------------------------------------------

func TestParseRequestBasics(t *testing.T) {
	raw := "GET /index.html HTTP/1.1\r\nHost: example.com\r\nUser-Agent: curl/8.0\r\n\r\n"
	req, err := parseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "GET", req.method)
	assert.Equal(t, "/index.html", req.path)
	assert.Equal(t, "example.com", req.headers["Host"])
	assert.Equal(t, "curl/8.0", req.headers["User-Agent"])
	assert.Empty(t, req.body)
}

func TestParseRequestDuplicateHeadersLastWins(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Key: first\r\nX-Key: second\r\n\r\n"
	req, err := parseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "second", req.headers["X-Key"])
}

func TestParseRequestBody(t *testing.T) {
	raw := "POST /login HTTP/1.1\r\nHost: x\r\n\r\nuser=admin&pass=1"
	req, err := parseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "user=admin&pass=1", req.body)
}

func TestParseRequestRejectsShortRequestLine(t *testing.T) {
	_, err := parseRequest("GARBAGE\r\n\r\n")
	assert.ErrorIs(t, err, errMalformedLine)
}

func TestParseRequestSkipsLeadingBlankLines(t *testing.T) {
	req, err := parseRequest("\r\nGET / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "GET", req.method)
}

// ---- page provider -------------------------------------------------------

func TestPageProviderExactMatch(t *testing.T) {
	p := NewPageProvider()

	resp := string(p.Response("/health"))
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, resp, "Content-Type: application/json")
	assert.Contains(t, resp, `{"status": "healthy"}`)
}

func TestPageProviderPrefixMatch(t *testing.T) {
	p := NewPageProvider()

	resp := string(p.Response("/wp-admin/setup-config.php"))
	assert.Contains(t, resp, "WordPress")
}

func TestPageProviderLongestPrefixWins(t *testing.T) {
	p := NewPageProvider()

	// "/phpmyadmin/index.php" matches both "/" (excluded) and "/phpmyadmin".
	resp := string(p.Response("/phpmyadmin/index.php"))
	assert.Contains(t, resp, "phpMyAdmin")
}

func TestPageProviderDefault404(t *testing.T) {
	p := NewPageProvider()

	resp := string(p.Response("/search?q=1"))
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 404 Not Found\r\n"))
	assert.Contains(t, resp, "Content-Type: text/html")
}

func TestPageProviderCommonHeaders(t *testing.T) {
	p := NewPageProvider()

	resp := string(p.Response("/"))
	assert.Contains(t, resp, "Server: Apache/2.4.41 (Ubuntu)\r\n")
	assert.Contains(t, resp, "Connection: close\r\n")
}

func TestBuildResponseContentLength(t *testing.T) {
	resp := string(BuildResponse(200, "OK", "hello"))
	assert.Contains(t, resp, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(resp, "\r\n\r\nhello"))
}

// ---- dialog --------------------------------------------------------------

type capture struct {
	mu   sync.Mutex
	recs []event.Record
}

func (c *capture) tap(r event.Record) {
	c.mu.Lock()
	c.recs = append(c.recs, r)
	c.mu.Unlock()
}

func (c *capture) requests() []*event.HTTPRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*event.HTTPRequest
	for _, r := range c.recs {
		if req, ok := r.(*event.HTTPRequest); ok {
			out = append(out, req)
		}
	}
	return out
}

func serveOne(t *testing.T, d *Dialog, raw string) (string, *capture) {
	t.Helper()
	rec := &capture{}
	d.Sink = event.NewSink(io.Discard, zerolog.Nop())
	d.Sink.Tap(rec.tap)

	server, client := net.Pipe()
	sess := &session.Context{ID: "web0000deadbeef0", SourceIP: "203.0.113.5", SourcePort: 41000}

	go func() {
		_ = d.Serve(nil, server, sess)
		_ = server.Close()
	}()

	_, err := client.Write([]byte(raw))
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := io.ReadAll(client)
	require.NoError(t, err)
	_ = client.Close()
	return string(resp), rec
}

func newTestDialog() *Dialog {
	return &Dialog{
		Counters:   &metrics.Counters{},
		Classifier: classify.NewHTTP(),
		Pages:      NewPageProvider(),
		Log:        zerolog.Nop(),
	}
}

func TestDialogSQLInjectionGets404(t *testing.T) {
	d := newTestDialog()
	resp, rec := serveOne(t, d, "GET /search?q=1%20UNION%20SELECT%201 HTTP/1.1\r\nHost: x\r\n\r\n")

	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 404 Not Found\r\n"))

	reqs := rec.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, classify.AttackSQLInjection, reqs[0].AttackType)
	assert.Equal(t, int64(1), d.Counters.AttacksDetected.Load())
}

func TestDialogReconGetsCannedPage(t *testing.T) {
	d := newTestDialog()
	resp, rec := serveOne(t, d, "GET /phpmyadmin HTTP/1.1\r\nHost: x\r\n\r\n")

	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, resp, "phpMyAdmin")

	reqs := rec.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, classify.AttackRecon, reqs[0].AttackType)
}

func TestDialogCleanRequestHasNoAttackType(t *testing.T) {
	d := newTestDialog()
	resp, rec := serveOne(t, d, "GET / HTTP/1.1\r\nHost: x\r\nUser-Agent: curl/8.0\r\n\r\n")

	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))

	reqs := rec.requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].AttackType)
	assert.Equal(t, "curl/8.0", reqs[0].UserAgent)
	assert.Equal(t, int64(0), d.Counters.AttacksDetected.Load())
}

func TestDialogTruncatesEventBody(t *testing.T) {
	d := newTestDialog()
	body := strings.Repeat("z", 3000)
	_, rec := serveOne(t, d, "POST /upload HTTP/1.1\r\nHost: x\r\n\r\n"+body)

	reqs := rec.requests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Body, eventBodyLimit)
}

func TestDialogDropsUnparsableRequest(t *testing.T) {
	d := newTestDialog()
	resp, rec := serveOne(t, d, "NONSENSE\r\n")

	assert.Empty(t, resp)
	assert.Empty(t, rec.requests())
	assert.Equal(t, int64(0), d.Counters.TotalRequests.Load())
}
