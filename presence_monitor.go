package main

import (
	"context"
	"sync"
	"time"

	"fiatjaf.com/nostr"
)

const minSweepInterval = time.Second

// PresenceMonitor derives online/offline state from activity. A contact is
// online from its first message until it has been idle for timeout.
type PresenceMonitor struct {
	mu       sync.Mutex
	timeout  time.Duration
	now      func() time.Time
	lastSeen map[nostr.PubKey]time.Time
}

func newPresenceMonitor(timeout time.Duration, now func() time.Time) *PresenceMonitor {
	return &PresenceMonitor{
		timeout:  timeout,
		now:      now,
		lastSeen: make(map[nostr.PubKey]time.Time),
	}
}

// Touch records activity for pk and reports whether pk just came online.
func (m *PresenceMonitor) Touch(pk nostr.PubKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, active := m.lastSeen[pk]
	m.lastSeen[pk] = m.now()
	return !active
}

// Sweep forgets every contact idle for longer than the timeout and calls
// onOffline with its last activity time. onOffline runs under the monitor
// lock, so a Touch racing the sweep is reported after the offline transition.
func (m *PresenceMonitor) Sweep(onOffline func(pk nostr.PubKey, lastSeen time.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for pk, seen := range m.lastSeen {
		if now.Sub(seen) > m.timeout {
			delete(m.lastSeen, pk)
			onOffline(pk, seen)
		}
	}
}

// Run sweeps every interval until ctx is done.
func (m *PresenceMonitor) Run(ctx context.Context, interval time.Duration, onOffline func(nostr.PubKey, time.Time)) {
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(onOffline)
		}
	}
}
