// Package mysql impersonates a MySQL 5.7 server through the handshake, an
// auth exchange that accepts anything, and a COM_QUERY loop that answers
// every SELECT with an empty result set. No query ever touches real data.
package mysql

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/decoynet/decoyd/internal/classify"
	"github.com/decoynet/decoyd/internal/event"
	"github.com/decoynet/decoyd/internal/metrics"
	"github.com/decoynet/decoyd/internal/session"
)

const (
	authTimeout  = 30 * time.Second
	queryTimeout = 300 * time.Second

	authBufSize  = 1024
	queryBufSize = 4096

	// Client auth packets put the username at a fixed offset from the
	// packet start: 4 header + 4 capability + 4 max-packet + 1 charset +
	// 23 reserved. The parser is deliberately approximate.
	authUsernameOffset = 36

	protocolName = "mysql"
)

// Dialog is the MySQL honeypot's per-connection state machine.
type Dialog struct {
	Sink      *event.Sink
	Counters  *metrics.Counters
	Injection *classify.PatternSet
	Log       zerolog.Logger

	connID atomic.Uint32
}

// Serve drives greeting, auth, and the query loop for one connection.
func (d *Dialog) Serve(_ context.Context, conn net.Conn, sess *session.Context) error {
	if _, err := conn.Write(buildGreeting(d.connID.Add(1))); err != nil {
		return nil
	}

	buf := make([]byte, authBufSize)
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return nil
	}

	username, database := parseAuth(buf[:n])
	d.Sink.Emit(&event.DBAuth{
		Meta:     event.NewMeta(event.TypeDBAuth, sess.SourceIP, sess.SourcePort, sess.ID),
		Protocol: protocolName,
		Username: username,
		Database: database,
	})
	d.Log.Info().
		Str("session_id", sess.ID).
		Str("username", username).
		Str("database", database).
		Msg("auth attempt")

	if _, err := conn.Write(buildOK()); err != nil {
		return nil
	}

	qbuf := make([]byte, queryBufSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(queryTimeout))
		n, err := conn.Read(qbuf)
		if err != nil || n == 0 {
			return nil
		}

		query, ok := parseQuery(qbuf[:n])
		if !ok {
			continue
		}

		d.Counters.TotalQueries.Add(1)
		isInjection := d.Injection.Match(query)
		if isInjection {
			d.Counters.InjectionsDetected.Add(1)
		}

		d.Sink.Emit(&event.SQLQuery{
			Meta:        event.NewMeta(event.TypeSQLQuery, sess.SourceIP, sess.SourcePort, sess.ID),
			Protocol:    protocolName,
			Query:       query,
			IsInjection: isInjection,
		})

		lg := d.Log.Info()
		if isInjection {
			lg = d.Log.Warn().Str("attack", classify.AttackSQLInjection)
		}
		lg.Str("session_id", sess.ID).Str("query", truncate(query, event.MaxQueryLen)).Msg("sql query")

		var resp []byte
		if strings.HasPrefix(strings.TrimSpace(strings.ToLower(query)), "select") {
			resp = buildEmptyResult()
		} else {
			resp = buildOK()
		}
		if _, err := conn.Write(resp); err != nil {
			return nil
		}
	}
}

// parseAuth recovers username and database from a client auth packet.
// Any decode failure reports ("unknown", "").
func parseAuth(data []byte) (string, string) {
	if len(data) < authUsernameOffset {
		return "unknown", ""
	}

	offset := authUsernameOffset
	end := bytes.IndexByte(data[offset:], 0)
	if end == -1 {
		return "unknown", ""
	}
	username := decode(data[offset : offset+end])

	// Skip the length-prefixed auth response.
	offset += end + 1
	if offset < len(data) {
		authLen := int(data[offset])
		offset += authLen + 1
	}

	database := ""
	if offset < len(data) {
		if dbEnd := bytes.IndexByte(data[offset:], 0); dbEnd != -1 {
			database = decode(data[offset : offset+dbEnd])
		}
	}

	return username, database
}

// parseQuery extracts the query text from a COM_QUERY packet. Packets
// carrying any other command byte are ignored.
func parseQuery(data []byte) (string, bool) {
	if len(data) < 5 || data[4] != comQuery {
		return "", false
	}
	return strings.TrimSpace(decode(data[5:])), true
}

func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
