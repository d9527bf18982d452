package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a completed reply is replayed.
const DefaultTTL = 24 * time.Hour

// Outcome reports what Begin found for a key.
type Outcome int

const (
	// OutcomeFresh means the caller now owns the key and must Finish or Abandon it.
	OutcomeFresh Outcome = iota
	// OutcomeReplay means a stored reply exists and must be sent instead of re-running the request.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// Reply is the HTTP response captured for replay.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Entry is the stored state of one key.
type Entry struct {
	Key         string
	Fingerprint string
	Done        bool
	Reply       Reply
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store persists key reservations and their replies.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, Outcome, error)
	Finish(ctx context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch reports a key reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")

// documentID hashes the scoped key so arbitrary client keys are safe document IDs.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Date":                {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// replayableHeader drops hop-by-hop and per-response headers.
func replayableHeader(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := hopByHop[canonical]; skip {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	return out
}
