package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fiatjaf.com/nostr"
	"fiatjaf.com/nostr/keyer"
)

const (
	publishTimeout = 10 * time.Second
	queryTimeout   = 5 * time.Second
	reconnectDelay = 5 * time.Second
	outboxSize     = 1024
	maxRecentIDs   = 50
)

// eventSink receives the events the transport observes.
type eventSink interface {
	Post(ctx context.Context, ev any)
}

// NostrTransport implements Transport with NIP-17 DMs and NIP-29 groups.
type NostrTransport struct {
	cfg      Config
	keys     Keys
	kr       nostr.Keyer
	pool     *nostr.Pool
	logger   *slog.Logger
	presence *PresenceMonitor

	outbox chan outgoingDM
	sink   eventSink
	runCtx context.Context

	mu             sync.Mutex
	contacts       map[nostr.PubKey]string // pubkey -> petname
	profiles       map[nostr.PubKey]string // pubkey -> display name
	profilePending map[nostr.PubKey]bool
	titles         map[string]string   // group key -> title
	recentIDs      map[string][]string // group key -> recent event ids (max 50)
	groupSubs      map[string]context.CancelFunc
}

func newNostrTransport(cfg Config, keys Keys, logger *slog.Logger) *NostrTransport {
	kr := keyer.NewPlainKeySigner(keys.SK)
	pool := nostr.NewPool(nostr.PoolOptions{
		AuthRequiredHandler: func(ctx context.Context, evt *nostr.Event) error {
			return kr.SignEvent(ctx, evt)
		},
	})
	return &NostrTransport{
		cfg:            cfg,
		keys:           keys,
		kr:             &kr,
		pool:           pool,
		logger:         logger,
		presence:       newPresenceMonitor(cfg.PresenceTimeout, time.Now),
		outbox:         make(chan outgoingDM, outboxSize),
		contacts:       make(map[nostr.PubKey]string),
		profiles:       make(map[nostr.PubKey]string),
		profilePending: make(map[nostr.PubKey]bool),
		titles:         make(map[string]string),
		recentIDs:      make(map[string][]string),
		groupSubs:      make(map[string]context.CancelFunc),
	}
}

// Start publishes the bot's profile, restores its contact list and starts
// the DM listener, the outbox worker and the presence sweep. Events go to
// sink until ctx is cancelled.
func (t *NostrTransport) Start(ctx context.Context, sink eventSink) {
	t.runCtx = ctx
	t.sink = sink

	t.restoreContacts(ctx)
	go t.publishProfile(ctx)
	go t.publishDMRelays(ctx)
	go t.runOutbox(ctx)
	go t.listenDMs(ctx)
	go t.presence.Run(ctx, t.cfg.PresenceTimeout/4, func(pk nostr.PubKey, lastSeen time.Time) {
		sink.Post(ctx, presenceEvent{From: pk, Online: false, At: lastSeen})
	})
}

// Close stops the group subscriptions and drops every relay connection.
func (t *NostrTransport) Close() {
	t.mu.Lock()
	for gk, cancel := range t.groupSubs {
		cancel()
		delete(t.groupSubs, gk)
	}
	t.mu.Unlock()
	t.pool.Close("shutdown")
}

func (t *NostrTransport) OwnAddress() string { return t.keys.NPub }

func (t *NostrTransport) FriendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.contacts)
}

// noteActivity marks a known contact as active and posts an online
// transition first when it was idle. Group members who never wrote to the
// bot are not tracked.
func (t *NostrTransport) noteActivity(ctx context.Context, pk nostr.PubKey) {
	t.mu.Lock()
	_, known := t.contacts[pk]
	t.mu.Unlock()
	if !known {
		return
	}
	if t.presence.Touch(pk) {
		t.sink.Post(ctx, presenceEvent{From: pk, Online: true})
	}
}

// ConferencePeerName returns the cached display name of peer and starts a
// profile fetch when the name is unknown. It never blocks on the network.
func (t *NostrTransport) ConferencePeerName(_ context.Context, _ string, peer nostr.PubKey) string {
	t.mu.Lock()
	name, ok := t.profiles[peer]
	pending := t.profilePending[peer]
	if !ok && !pending {
		t.profilePending[peer] = true
	}
	t.mu.Unlock()
	if ok {
		return name
	}
	if !pending {
		go t.fetchProfile(t.runCtx, peer)
	}
	return shortPK(peer.Hex())
}

// fetchProfile fetches a kind-0 event (NIP-01 profile metadata) for a pubkey.
func (t *NostrTransport) fetchProfile(parent context.Context, pk nostr.PubKey) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()

	name := ""
	re := t.pool.QuerySingle(ctx, t.cfg.Relays, nostr.Filter{
		Kinds:   []nostr.Kind{nostr.KindProfileMetadata},
		Authors: []nostr.PubKey{pk},
	}, nostr.SubscriptionOptions{})
	if re != nil {
		name = parseProfileMeta(re.Content)
	}
	if name == "" {
		name = shortPK(pk.Hex())
	}

	t.mu.Lock()
	t.profiles[pk] = name
	delete(t.profilePending, pk)
	t.mu.Unlock()
	t.logger.Debug("profile resolved", "pubkey", shortPK(pk.Hex()), "name", name)
}

// parseProfileMeta extracts the display name from kind-0 content, preferring
// display_name over name. Returns "" when neither is usable.
func parseProfileMeta(content string) string {
	var meta struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal([]byte(content), &meta); err != nil {
		return ""
	}
	if meta.DisplayName != "" {
		return meta.DisplayName
	}
	return meta.Name
}

// buildProfileEvent builds the bot's kind-0 profile.
func buildProfileEvent(profile ProfileConfig, keys Keys) (nostr.Event, error) {
	meta := map[string]string{}
	if profile.Name != "" {
		meta["name"] = profile.Name
		meta["display_name"] = profile.Name
	}
	if profile.About != "" {
		meta["about"] = profile.About
	}
	content, err := json.Marshal(meta)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("profile: marshal: %w", err)
	}
	evt := nostr.Event{
		Kind:      nostr.KindProfileMetadata,
		CreatedAt: nostr.Now(),
		Content:   string(content),
	}
	if err := evt.Sign(keys.SK); err != nil {
		return evt, fmt.Errorf("profile: sign: %w", err)
	}
	return evt, nil
}

func (t *NostrTransport) publishProfile(parent context.Context) {
	evt, err := buildProfileEvent(t.cfg.Profile, t.keys)
	if err != nil {
		t.logger.Warn("publish profile failed", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()
	drainPublish(ctx, t.pool.PublishMany(ctx, t.cfg.Relays, evt))
	t.logger.Info("profile published", "name", t.cfg.Profile.Name)
}

// buildDMRelaysEvent builds a kind-10050 event (NIP-17 DM relay list).
func buildDMRelaysEvent(relays []string, keys Keys) (nostr.Event, error) {
	var tags nostr.Tags
	for _, r := range relays {
		tags = append(tags, nostr.Tag{"relay", r})
	}
	evt := nostr.Event{
		Kind:      nostr.KindDMRelayList,
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
	if err := evt.Sign(keys.SK); err != nil {
		return evt, err
	}
	return evt, nil
}

func (t *NostrTransport) publishDMRelays(parent context.Context) {
	evt, err := buildDMRelaysEvent(t.cfg.Relays, t.keys)
	if err != nil {
		t.logger.Warn("publish DM relays failed", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()
	drainPublish(ctx, t.pool.PublishMany(ctx, t.cfg.Relays, evt))
	t.logger.Debug("DM relay list published", "relays", len(t.cfg.Relays))
}

// drainPublish consumes publish results until the channel closes or ctx ends.
func drainPublish(ctx context.Context, results chan nostr.PublishResult) {
	for {
		select {
		case _, ok := <-results:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// shortPK returns the first 8 characters of a public key for display.
func shortPK(pk string) string {
	if len(pk) > 8 {
		return pk[:8]
	}
	return pk
}
