// Package ssh impersonates an OpenSSH server up to the authentication stage.
// The dialog advertises key exchange and then never completes it: responses
// are sent in cleartext because the peer has no derived session keys, and
// most scanners are tolerant.
package ssh

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/decoynet/decoyd/internal/event"
	"github.com/decoynet/decoyd/internal/metrics"
	"github.com/decoynet/decoyd/internal/session"
)

const (
	serverVersion = "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1\r\n"

	bannerTimeout = 30 * time.Second
	authTimeout   = 60 * time.Second

	maxBannerLen = 255
	authBufSize  = 4096

	// maxAuthReads bounds the reads after KEXINIT within one session;
	// maxFailedLogins is the per-source ban threshold across sessions.
	maxAuthReads    = 3
	maxFailedLogins = 3
)

var errBannerTooLong = errors.New("client banner exceeds 255 bytes")

// Dialog is the SSH honeypot's per-connection state machine.
type Dialog struct {
	Sink     *event.Sink
	Counters *metrics.Counters
	// Attempts tracks failed logins per source IP across sessions.
	Attempts *session.Attempts
	// Ban records a ban for the source IP; wired by the supervisor owner.
	Ban func(ip string)
	Log zerolog.Logger
}

// Serve drives one connection: banner exchange, KEXINIT, then up to three
// auth reads answered with USERAUTH_FAILURE. Peer misbehavior is absorbed.
func (d *Dialog) Serve(_ context.Context, conn net.Conn, sess *session.Context) error {
	if _, err := conn.Write([]byte(serverVersion)); err != nil {
		return nil
	}

	br := bufio.NewReaderSize(conn, authBufSize)

	_ = conn.SetReadDeadline(time.Now().Add(bannerTimeout))
	banner, err := readLine(br, maxBannerLen)
	if err != nil {
		return nil
	}

	d.Sink.Emit(&event.ClientVersion{
		Meta:    event.NewMeta(event.TypeClientVersion, sess.SourceIP, sess.SourcePort, sess.ID),
		Version: strings.TrimRight(banner, "\r\n"),
	})

	if _, err := conn.Write(buildKexInit()); err != nil {
		return nil
	}

	buf := make([]byte, authBufSize)
	for reads := 0; reads < maxAuthReads; reads++ {
		_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
		n, err := br.Read(buf)
		if err != nil || n == 0 {
			return nil
		}

		username, password, ok := extractCredentials(buf[:n])
		if !ok {
			// A garbled buffer after a real attempt means the peer is
			// probing the state machine; cut it off.
			if sess.LoginAttempts >= 1 {
				d.banSource(sess)
				return nil
			}
			continue
		}

		sess.LoginAttempts++
		d.Counters.FailedLogins.Add(1)

		d.Sink.Emit(&event.SSHLogin{
			Meta:     event.NewMeta(event.TypeSSHLogin, sess.SourceIP, sess.SourcePort, sess.ID),
			Username: username,
			Password: password,
			Success:  false,
		})
		d.Log.Warn().
			Str("session_id", sess.ID).
			Str("username", username).
			Int("attempt", sess.LoginAttempts).
			Msg("login attempt")

		if d.Attempts.Add(sess.SourceIP) >= maxFailedLogins {
			_, _ = conn.Write(buildUserauthFailure())
			d.banSource(sess)
			return nil
		}

		if _, err := conn.Write(buildUserauthFailure()); err != nil {
			return nil
		}
	}

	return nil
}

func (d *Dialog) banSource(sess *session.Context) {
	d.Attempts.Clear(sess.SourceIP)
	if d.Ban != nil {
		d.Ban(sess.SourceIP)
	}
}

// readLine reads one LF-terminated line of at most limit bytes. The reader
// may buffer past the line; callers keep using it for subsequent reads.
func readLine(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for sb.Len() < limit {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		sb.WriteByte(b)
		if b == '\n' {
			return sb.String(), nil
		}
	}
	return "", errBannerTooLong
}
