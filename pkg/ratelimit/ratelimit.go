// Package ratelimit keeps token buckets per key, usually per client IP.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store stores per-key rate limiters. Keys idle for longer than the
// configured TTL are evicted on the next Prune.
type Store struct {
	mu        sync.Mutex
	limiters  map[string]*entry
	rate      rate.Limit
	burstSize int
	idleTTL   time.Duration
}

func NewStore(r rate.Limit, burst int, idleTTL time.Duration) *Store {
	return &Store{
		limiters:  make(map[string]*entry),
		rate:      r,
		burstSize: burst,
		idleTTL:   idleTTL,
	}
}

// Limiter returns the limiter for key, creating it on first use.
func (s *Store) Limiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.limiters[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(s.rate, s.burstSize)}
		s.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (s *Store) Allow(key string) bool {
	return s.Limiter(key).Allow()
}

// Prune drops limiters that have not been used for the idle TTL and returns
// how many were removed.
func (s *Store) Prune() int {
	if s.idleTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.idleTTL)
	removed := 0
	for key, e := range s.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(s.limiters, key)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// ClientIP extracts the IP part from the request's remote address.
func ClientIP(r *http.Request) string {
	// Try X-Forwarded-For first (behind proxies); the first entry is the client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
