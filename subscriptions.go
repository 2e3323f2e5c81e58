package main

import (
	"sort"
	"time"

	"fiatjaf.com/nostr"
)

// SubscriptionEntry is what the bot remembers about a contact.
type SubscriptionEntry struct {
	Autoinvite  map[string]struct{}
	Autohistory string // "" = none
	LastOnline  time.Time
}

// SubscriptionLedger keeps per-contact autoinvite/autohistory choices and
// last-seen times.
type SubscriptionLedger struct {
	entries map[nostr.PubKey]*SubscriptionEntry
	now     func() time.Time
}

func newSubscriptionLedger(now func() time.Time) *SubscriptionLedger {
	if now == nil {
		now = time.Now
	}
	return &SubscriptionLedger{
		entries: make(map[nostr.PubKey]*SubscriptionEntry),
		now:     now,
	}
}

// Ensure creates an empty entry for id if there is none yet.
func (l *SubscriptionLedger) Ensure(id nostr.PubKey) *SubscriptionEntry {
	e, ok := l.entries[id]
	if !ok {
		e = &SubscriptionEntry{Autoinvite: make(map[string]struct{})}
		l.entries[id] = e
	}
	return e
}

func (l *SubscriptionLedger) AddAutoinvite(id nostr.PubKey, group string) {
	l.Ensure(id).Autoinvite[group] = struct{}{}
}

// RemoveAutoinvite is a no-op when the contact is not subscribed.
func (l *SubscriptionLedger) RemoveAutoinvite(id nostr.PubKey, group string) {
	if e, ok := l.entries[id]; ok {
		delete(e.Autoinvite, group)
	}
}

// ListAutoinvite returns the subscribed group names, sorted.
func (l *SubscriptionLedger) ListAutoinvite(id nostr.PubKey) []string {
	e, ok := l.entries[id]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(e.Autoinvite))
	for n := range e.Autoinvite {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (l *SubscriptionLedger) SetAutohistory(id nostr.PubKey, group string) {
	l.Ensure(id).Autohistory = group
}

func (l *SubscriptionLedger) ClearAutohistory(id nostr.PubKey) {
	if e, ok := l.entries[id]; ok {
		e.Autohistory = ""
	}
}

// Autohistory returns the group whose history is replayed to id, if any.
func (l *SubscriptionLedger) Autohistory(id nostr.PubKey) (string, bool) {
	e, ok := l.entries[id]
	if !ok || e.Autohistory == "" {
		return "", false
	}
	return e.Autohistory, true
}

// RecordOffline stamps the contact's last-seen time with at, or with the
// current time when at is zero.
func (l *SubscriptionLedger) RecordOffline(id nostr.PubKey, at time.Time) {
	if at.IsZero() {
		at = l.now()
	}
	l.Ensure(id).LastOnline = at
}

// LastOnline returns when id was last seen going offline.
func (l *SubscriptionLedger) LastOnline(id nostr.PubKey) (time.Time, bool) {
	e, ok := l.entries[id]
	if !ok || e.LastOnline.IsZero() {
		return time.Time{}, false
	}
	return e.LastOnline, true
}

// Snapshot returns the persisted part of the ledger: the autoinvite map.
// Contacts without subscriptions are left out.
func (l *SubscriptionLedger) Snapshot() map[nostr.PubKey][]string {
	out := make(map[nostr.PubKey][]string)
	for id := range l.entries {
		if names := l.ListAutoinvite(id); len(names) > 0 {
			out[id] = names
		}
	}
	return out
}

// Restore merges a previously saved autoinvite map into the ledger.
func (l *SubscriptionLedger) Restore(saved map[nostr.PubKey][]string) {
	for id, names := range saved {
		for _, n := range names {
			l.AddAutoinvite(id, n)
		}
	}
}
