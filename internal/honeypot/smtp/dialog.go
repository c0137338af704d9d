// Package smtp speaks a minimal ESMTP subset, far enough that spam cannons
// and credential stuffers hand over envelopes and AUTH blobs. Messages are
// accepted, counted, and never stored.
package smtp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/decoynet/decoyd/internal/event"
	"github.com/decoynet/decoyd/internal/metrics"
	"github.com/decoynet/decoyd/internal/session"
)

const lineTimeout = 300 * time.Second

// Dialog is the SMTP honeypot's per-connection state machine.
type Dialog struct {
	Sink     *event.Sink
	Counters *metrics.Counters
	// Hostname is used in the greeting and HELO/EHLO replies.
	Hostname string
	// MaxMessageSize caps the DATA accumulator; excess lines are dropped.
	MaxMessageSize int
	Log            zerolog.Logger
}

// Serve runs the command loop until QUIT, timeout, or disconnect.
func (d *Dialog) Serve(_ context.Context, conn net.Conn, sess *session.Context) error {
	br := bufio.NewReader(conn)

	var (
		mailFrom    string
		rcptTo      []string
		inData      bool
		messageData []string
		messageSize int
	)

	if !d.reply(conn, "220 "+d.Hostname+" ESMTP ready") {
		return nil
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(lineTimeout))
		raw, err := br.ReadString('\n')
		if err != nil && raw == "" {
			return nil
		}
		line := strings.TrimRight(raw, "\r\n")

		if inData {
			if line == "." {
				inData = false
				d.Counters.TotalMessages.Add(1)

				message := strings.Join(messageData, "\n")
				size := len(message)
				if size > d.MaxMessageSize {
					size = d.MaxMessageSize
				}

				d.Sink.Emit(&event.SMTPMessage{
					Meta:        event.NewMeta(event.TypeSMTPMessage, sess.SourceIP, sess.SourcePort, sess.ID),
					MailFrom:    mailFrom,
					RcptTo:      append([]string{}, rcptTo...),
					Subject:     extractSubject(message),
					MessageSize: size,
				})
				d.Log.Warn().
					Str("session_id", sess.ID).
					Str("mail_from", mailFrom).
					Strs("rcpt_to", rcptTo).
					Int("size", size).
					Msg("message received")

				messageData = nil
				messageSize = 0
				if !d.reply(conn, "250 OK: Message queued") {
					return nil
				}
			} else if messageSize < d.MaxMessageSize {
				messageData = append(messageData, line)
				messageSize += len(line) + 1
			}
			continue
		}

		command := ""
		if fields := strings.Fields(line); len(fields) > 0 {
			command = strings.ToUpper(fields[0])
		}

		switch command {
		case "HELO", "EHLO":
			if !d.reply(conn, "250 "+d.Hostname) {
				return nil
			}

		case "MAIL":
			mailFrom = extractAddress(line)
			d.Sink.Emit(&event.Notice{
				Meta:   event.NewMeta(event.TypeMailFrom, sess.SourceIP, sess.SourcePort, sess.ID),
				Detail: map[string]any{"address": mailFrom},
			})
			if !d.reply(conn, "250 OK") {
				return nil
			}

		case "RCPT":
			rcpt := extractAddress(line)
			rcptTo = append(rcptTo, rcpt)
			d.Sink.Emit(&event.Notice{
				Meta:   event.NewMeta(event.TypeRcptTo, sess.SourceIP, sess.SourcePort, sess.ID),
				Detail: map[string]any{"address": rcpt},
			})
			if !d.reply(conn, "250 OK") {
				return nil
			}

		case "DATA":
			inData = true
			if !d.reply(conn, "354 Start mail input; end with <CRLF>.<CRLF>") {
				return nil
			}

		case "RSET":
			mailFrom = ""
			rcptTo = nil
			messageData = nil
			messageSize = 0
			if !d.reply(conn, "250 OK") {
				return nil
			}

		case "NOOP":
			if !d.reply(conn, "250 OK") {
				return nil
			}

		case "VRFY":
			if !d.reply(conn, "252 Cannot VRFY user") {
				return nil
			}

		case "AUTH":
			// Claim success without exchanging anything: the longer the
			// peer believes the relay is open, the more it reveals.
			d.Sink.Emit(&event.Notice{
				Meta:   event.NewMeta(event.TypeAuthAttempt, sess.SourceIP, sess.SourcePort, sess.ID),
				Detail: map[string]any{"command": line},
			})
			d.Log.Warn().Str("session_id", sess.ID).Str("command", line).Msg("auth attempt")
			if !d.reply(conn, "235 Authentication successful") {
				return nil
			}

		case "QUIT":
			d.reply(conn, "221 Bye")
			return nil

		default:
			if !d.reply(conn, "500 Command not recognized") {
				return nil
			}
		}
	}
}

func (d *Dialog) reply(conn net.Conn, message string) bool {
	_, err := fmt.Fprintf(conn, "%s\r\n", message)
	return err == nil
}

// extractAddress pulls the address from a MAIL FROM / RCPT TO argument:
// angle brackets win, then whatever follows the first colon.
func extractAddress(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start != -1 && end != -1 && end > start {
		return line[start+1 : end]
	}
	if _, after, ok := strings.Cut(line, ":"); ok {
		return strings.Trim(strings.TrimSpace(after), "<>")
	}
	return ""
}

// extractSubject returns the value of the first Subject header line.
func extractSubject(message string) string {
	for _, line := range strings.Split(message, "\n") {
		if strings.HasPrefix(strings.ToLower(line), "subject:") {
			return strings.TrimSpace(line[8:])
		}
	}
	return ""
}
