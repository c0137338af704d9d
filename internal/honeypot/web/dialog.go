// Package web is the HTTP honeypot: a single-shot request/response dialog
// that hand-parses whatever bytes arrive. It deliberately avoids net/http —
// the interesting traffic is exactly the kind a real server would reject
// before handlers ever saw it.
package web

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/decoynet/decoyd/internal/classify"
	"github.com/decoynet/decoyd/internal/event"
	"github.com/decoynet/decoyd/internal/metrics"
	"github.com/decoynet/decoyd/internal/session"
)

const (
	readTimeout = 30 * time.Second
	maxRequest  = 8192

	eventBodyLimit = 1000
)

// Dialog handles one connection: read once, classify, respond, close.
type Dialog struct {
	Sink       *event.Sink
	Counters   *metrics.Counters
	Classifier *classify.Classifier
	Pages      *PageProvider
	Log        zerolog.Logger
}

// Serve reads at most one request and answers from the fake-service table.
// There is no keep-alive; the supervisor closes the connection afterwards.
func (d *Dialog) Serve(_ context.Context, conn net.Conn, sess *session.Context) error {
	buf := make([]byte, maxRequest)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return nil
	}

	req, err := parseRequest(string(buf[:n]))
	if err != nil {
		// Malformed buffers are expected peer behavior, not an error worth
		// surfacing; the peer just gets silence.
		return nil
	}

	d.Counters.TotalRequests.Add(1)

	attackType := d.Classifier.Classify(req.path, req.headers, req.body)
	if attackType != "" {
		d.Counters.AttacksDetected.Add(1)
	}

	rec := &event.HTTPRequest{
		Meta:       event.NewMeta(event.TypeHTTPRequest, sess.SourceIP, sess.SourcePort, sess.ID),
		Method:     req.method,
		Path:       req.path,
		Headers:    req.headers,
		Body:       truncate(req.body, eventBodyLimit),
		UserAgent:  req.headers["User-Agent"],
		AttackType: attackType,
	}
	d.Sink.Emit(rec)

	lg := d.Log.Info()
	if attackType != "" {
		lg = d.Log.Warn().Str("attack_type", attackType)
	}
	lg.Str("session_id", sess.ID).
		Str("method", req.method).
		Str("path", req.path).
		Msg("http request")

	_, _ = conn.Write(d.Pages.Response(req.path))
	return nil
}

// request is the parsed form of one raw buffer.
type request struct {
	method  string
	path    string
	headers map[string]string
	body    string
}

var (
	errEmptyRequest  = errors.New("empty request")
	errMalformedLine = errors.New("malformed request line")
)

// parseRequest splits a raw buffer into request line, headers, and body.
// Duplicate header names keep the last value seen.
func parseRequest(data string) (request, error) {
	lines := strings.Split(data, "\r\n")

	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	if start == len(lines) {
		return request{}, errEmptyRequest
	}

	tokens := strings.Split(lines[start], " ")
	if len(tokens) < 2 {
		return request{}, errMalformedLine
	}

	req := request{
		method:  tokens[0],
		path:    tokens[1],
		headers: make(map[string]string),
	}

	bodyStart := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if lines[i] == "" {
			bodyStart = i + 1
			break
		}
		if name, value, ok := strings.Cut(lines[i], ": "); ok {
			req.headers[name] = value
		}
	}

	if bodyStart < len(lines) {
		req.body = strings.Join(lines[bodyStart:], "\r\n")
	}
	return req, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
