package tgui

import (
	"sync"
	"time"
)

// Sessions keeps per-user dialog state that expires after a TTL of
// inactivity. Expired entries are swept lazily.
type Sessions[T any] struct {
	mu        sync.Mutex
	ttl       time.Duration
	m         map[int64]sessionEntry[T]
	nextSweep time.Time
	now       func() time.Time
}

type sessionEntry[T any] struct {
	v   T
	exp time.Time
}

// NewSessions creates a store; ttl <= 0 means 15 minutes.
func NewSessions[T any](ttl time.Duration) *Sessions[T] {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Sessions[T]{ttl: ttl, m: map[int64]sessionEntry[T]{}, now: time.Now}
}

// Get returns the live state of user and refreshes its expiry.
func (s *Sessions[T]) Get(user int64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	e, ok := s.m[user]
	if !ok || now.After(e.exp) {
		delete(s.m, user)
		var zero T
		return zero, false
	}
	e.exp = now.Add(s.ttl)
	s.m[user] = e
	return e.v, true
}

func (s *Sessions[T]) Put(user int64, v T) {
	s.mu.Lock()
	now := s.now()
	s.sweepLocked(now)
	s.m[user] = sessionEntry[T]{v: v, exp: now.Add(s.ttl)}
	s.mu.Unlock()
}

// Delete drops the state and reports whether a live one existed.
func (s *Sessions[T]) Delete(user int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[user]
	delete(s.m, user)
	return ok && !s.now().After(e.exp)
}

func (s *Sessions[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	return len(s.m)
}

func (s *Sessions[T]) sweepLocked(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
	s.nextSweep = now.Add(time.Minute)
}
