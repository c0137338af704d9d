package session

import "sync"

// Attempts counts failed logins per source IP across sessions, so a scanner
// that reconnects for every guess is still banned after the configured
// number of failures.
type Attempts struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewAttempts returns an empty tracker.
func NewAttempts() *Attempts {
	return &Attempts{counts: make(map[string]int)}
}

// Add records one failure for ip and returns the running total.
func (a *Attempts) Add(ip string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[ip]++
	return a.counts[ip]
}

// Clear forgets ip, typically right after it has been banned.
func (a *Attempts) Clear(ip string) {
	a.mu.Lock()
	delete(a.counts, ip)
	a.mu.Unlock()
}
