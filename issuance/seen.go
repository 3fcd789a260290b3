package issuance

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSeenSize = 100_000
	DefaultSeenTTL  = 24 * time.Hour
)

// SeenLedger remembers which prompt fingerprints each requester was already
// issued. It is advisory only: entries expire, are evicted under pressure and
// vanish on restart.
type SeenLedger struct {
	cache *expirable.LRU[string, struct{}]
}

func NewSeenLedger(size int, ttl time.Duration) *SeenLedger {
	if size <= 0 {
		size = DefaultSeenSize
	}
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &SeenLedger{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func seenKey(requester, fingerprint string) string {
	return requester + "\x00" + fingerprint
}

func (s *SeenLedger) Seen(requester, fingerprint string) bool {
	return s.cache.Contains(seenKey(requester, fingerprint))
}

func (s *SeenLedger) Mark(requester, fingerprint string) {
	s.cache.Add(seenKey(requester, fingerprint), struct{}{})
}

// Len is the number of tracked fingerprints across all requesters.
func (s *SeenLedger) Len() int {
	return s.cache.Len()
}
