package main

import (
	"context"
	"strings"
	"time"

	"fiatjaf.com/nostr"
	"fiatjaf.com/nostr/nip17"
)

// giftWrapSkew covers NIP-59's randomized outer created_at (up to ±2 days).
const giftWrapSkew = 3 * 24 * 60 * 60

const inviteDMPrefix = "You've been invited to"

type outgoingDM struct {
	to   nostr.PubKey
	text string
}

// SendDirect queues a NIP-17 DM. Delivery happens on the outbox worker so
// messages to a contact keep their order and the caller never waits on
// relays.
func (t *NostrTransport) SendDirect(to nostr.PubKey, text string) {
	select {
	case t.outbox <- outgoingDM{to: to, text: text}:
	default:
		t.logger.Warn("outbox full, dropping DM", "to", shortPK(to.Hex()))
	}
}

func (t *NostrTransport) runOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case dm := <-t.outbox:
			if err := t.publishDM(ctx, dm); err != nil {
				t.logger.Warn("send DM failed", "to", shortPK(dm.to.Hex()), "err", err)
			}
		}
	}
}

func (t *NostrTransport) publishDM(parent context.Context, dm outgoingDM) error {
	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()

	theirRelays := nip17.GetDMRelays(ctx, dm.to, t.pool, t.cfg.Relays)
	if len(theirRelays) == 0 {
		theirRelays = t.cfg.Relays // fallback to our relays
	}
	return nip17.PublishMessage(ctx, dm.text, nil, t.pool, t.cfg.Relays, theirRelays, t.kr, dm.to, nil)
}

// listenDMs receives gift-wrapped DMs and turns them into bot events. The
// subscription is reopened after a short delay whenever it ends.
func (t *NostrTransport) listenDMs(ctx context.Context) {
	started := nostr.Now()
	since := started - giftWrapSkew
	if since < 0 {
		since = 0
	}
	seen := make(map[nostr.ID]bool)

	for ctx.Err() == nil {
		t.logger.Debug("listening for DMs", "since", since)
		for rumor := range nip17.ListenForMessages(ctx, t.pool, t.kr, t.cfg.Relays, since) {
			if rumor.PubKey == t.keys.PK || rumor.CreatedAt < started {
				continue
			}
			id := rumor.GetID()
			if seen[id] {
				continue
			}
			seen[id] = true
			t.handleDM(ctx, rumor.PubKey, rumor.Content)
		}
		t.logger.Info("DM subscription ended, reconnecting")
		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
		}
	}
}

// handleDM routes one inbound DM: contact acceptance, presence, then either
// an invite or a command.
func (t *NostrTransport) handleDM(ctx context.Context, from nostr.PubKey, text string) {
	t.acceptContact(ctx, from)
	t.noteActivity(ctx, from)

	if cookie, ok := parseInviteDM(text); ok {
		t.logger.Info("group invite received", "from", shortPK(from.Hex()), "address", cookie)
		t.sink.Post(ctx, groupInviteEvent{From: from, Cookie: cookie})
		return
	}
	t.sink.Post(ctx, directMessageEvent{From: from, Text: strings.TrimSpace(text)})
}

// formatInviteDM is the text sent along with a NIP-29 put-user so clients
// can join; parseInviteDM reads the same format.
func formatInviteDM(groupName, relayURL, groupID string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(relayURL, "wss://"), "ws://")
	return inviteDMPrefix + " ~" + groupName + "\n\n" + host + "'" + groupID
}

// parseInviteDM reports whether text is a group invite and returns the
// group address it carries.
func parseInviteDM(text string) (string, bool) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if !strings.HasPrefix(strings.TrimSpace(lines[0]), inviteDMPrefix) {
		return "", false
	}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "nostr:"))
		if line == "" {
			continue
		}
		if _, _, err := parseGroupInput(line); err == nil {
			return line, true
		}
	}
	return "", false
}
