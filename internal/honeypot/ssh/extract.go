package ssh

import (
	"strings"
	"unicode"
)

const maxCredentialLen = 64

// extractCredentials recovers a username/password pair from a raw auth
// buffer with a NUL-split heuristic: the first alphanumeric token shorter
// than 64 chars is the username, the next non-empty token the password.
// This is deliberately not an SSH parser; scanners that negotiate real key
// exchange never yield credentials through this path, and that is fine —
// the value is event volume, not protocol fidelity.
func extractCredentials(data []byte) (username, password string, ok bool) {
	text := strings.ToValidUTF8(string(data), "")

	for _, part := range strings.Split(text, "\x00") {
		if part == "" || len([]rune(part)) >= maxCredentialLen {
			continue
		}
		if username == "" {
			if isAlnum(part) {
				username = part
			}
			continue
		}
		if password == "" {
			password = part
			break
		}
	}

	if username == "" {
		return "", "", false
	}
	return username, password, true
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
