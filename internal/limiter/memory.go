package limiter

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	fails        int
	last         time.Time
	blockedUntil time.Time
}

// Memory is a process-local limiter for deployments without postgres.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

var _ Limiter = (*Memory)(nil)

// NewMemory returns an empty in-memory limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, now: time.Now, entries: map[string]*entry{}}
}

func key(subject string, ipHash []byte) string { return subject + "\x00" + string(ipHash) }

func (m *Memory) Allow(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key(subject, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if left := e.blockedUntil.Sub(m.now()); left > 0 {
		return false, left, nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, subject string, ipHash []byte) error {
	m.mu.Lock()
	delete(m.entries, key(subject, ipHash))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Failure(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := key(subject, ipHash)
	e, ok := m.entries[k]
	if !ok || now.Sub(e.last) > m.policy.Window {
		e = &entry{}
		m.entries[k] = e
	}
	e.fails++
	e.last = now
	if e.fails < m.policy.MaxFails {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(m.policy.BlockFor)
	return true, m.policy.BlockFor, nil
}

// Prune forgets pairs that are neither blocked nor inside the window.
func (m *Memory) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.entries {
		if now.After(e.blockedUntil) && now.Sub(e.last) > m.policy.Window {
			delete(m.entries, k)
			n++
		}
	}
	return n
}
