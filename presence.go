package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fiatjaf.com/nostr"
)

// PresenceCoordinator reacts to contacts coming and going: it replays missed
// history and re-sends autoinvites on return, and stamps last-seen times on
// departure.
type PresenceCoordinator struct {
	groups *GroupStore
	subs   *SubscriptionLedger
	tr     Transport
	logger *slog.Logger

	online      map[nostr.PubKey]bool
	onlineCount int
}

func newPresenceCoordinator(groups *GroupStore, subs *SubscriptionLedger, tr Transport, logger *slog.Logger) *PresenceCoordinator {
	return &PresenceCoordinator{
		groups: groups,
		subs:   subs,
		tr:     tr,
		logger: logger,
		online: make(map[nostr.PubKey]bool),
	}
}

// OnlineCount is the number of contacts whose latest transition was online.
func (p *PresenceCoordinator) OnlineCount() int { return p.onlineCount }

// IsOnline reports the last known state of id.
func (p *PresenceCoordinator) IsOnline(id nostr.PubKey) bool { return p.online[id] }

// OnPresenceChanged applies one transition. Repeated transitions into the
// current state are ignored so the counter cannot drift. For an offline
// transition, at is the contact's last activity; zero means now.
func (p *PresenceCoordinator) OnPresenceChanged(ctx context.Context, id nostr.PubKey, isOnline bool, at time.Time) {
	p.subs.Ensure(id)

	if p.online[id] == isOnline {
		if !isOnline {
			// first event for an unknown contact says offline
			p.subs.RecordOffline(id, at)
		}
		return
	}

	if isOnline {
		p.online[id] = true
		p.onlineCount++
		p.logger.Debug("contact online", "contact", shortPK(id.Hex()), "online", p.onlineCount)
		p.replayHistory(id)
		p.sendAutoinvites(ctx, id)
		return
	}

	delete(p.online, id)
	p.onlineCount--
	p.subs.RecordOffline(id, at)
	p.logger.Debug("contact offline", "contact", shortPK(id.Hex()), "online", p.onlineCount)
}

func (p *PresenceCoordinator) replayHistory(id nostr.PubKey) {
	group, ok := p.subs.Autohistory(id)
	if !ok {
		return
	}
	since, ok := p.subs.LastOnline(id)
	if !ok {
		return
	}
	msgs, err := p.groups.Since(group, since)
	if err != nil {
		p.logger.Warn("replay skipped", "contact", shortPK(id.Hex()), "group", group, "err", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	p.tr.SendDirect(id, fmt.Sprintf("Messages from your last visit to %s:", group))
	for _, m := range msgs {
		p.tr.SendDirect(id, m.String())
	}
	p.logger.Info("history replayed", "contact", shortPK(id.Hex()), "group", group, "count", len(msgs))
}

// sendAutoinvites invites id into every subscribed group. Failures are
// logged and never stop the remaining invites.
func (p *PresenceCoordinator) sendAutoinvites(ctx context.Context, id nostr.PubKey) {
	for _, name := range p.subs.ListAutoinvite(id) {
		g, err := p.groups.Lookup(name)
		if err != nil {
			p.logger.Warn("can't autoinvite", "contact", shortPK(id.Hex()), "group", name, "err", err)
			continue
		}
		if err := p.tr.InviteToConference(ctx, id, g.Handle); err != nil {
			p.logger.Warn("can't autoinvite", "contact", shortPK(id.Hex()), "group", name, "err", err)
		}
	}
}
