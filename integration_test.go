package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"fiatjaf.com/nostr"
	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/relay29"
	"github.com/fiatjaf/relay29/khatru29"
	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip29"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultTimeout = 15 * time.Second
	pollInterval   = 200 * time.Millisecond
)

// isNIP29Kind reports whether relay29 manages the kind.
func isNIP29Kind(kind int) bool {
	switch {
	case kind >= 9 && kind <= 12:
		return true
	case kind >= 9000 && kind <= 9022:
		return true
	case kind >= 39000 && kind <= 39003:
		return true
	}
	return false
}

func hasNonNIP29Kind(kinds []int) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if !isNIP29Kind(k) {
			return true
		}
	}
	return false
}

// startTestRelay runs an embedded NIP-29 relay that also stores ordinary
// events (profiles, gift wraps, lists) so the whole transport can run
// against it.
func startTestRelay(t *testing.T) string {
	t.Helper()

	groupsDB := &slicestore.SliceStore{}
	require.NoError(t, groupsDB.Init())
	generalDB := &slicestore.SliceStore{}
	require.NoError(t, generalDB.Init())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	admin := &nip29.Role{Name: "admin", Description: "can do everything"}
	relay, state := khatru29.Init(relay29.Options{
		Domain:                  fmt.Sprintf("127.0.0.1:%d", port),
		DB:                      groupsDB,
		SecretKey:               gonostr.GeneratePrivateKey(),
		DefaultRoles:            []*nip29.Role{admin},
		GroupCreatorDefaultRole: admin,
	})
	state.AllowAction = func(context.Context, nip29.Group, *nip29.Role, relay29.Action) bool {
		return true
	}
	relay.Info.Name = "groupbot-test-relay"

	rejectEvent := relay.RejectEvent
	relay.RejectEvent = nil
	for _, f := range rejectEvent {
		if fmt.Sprintf("%v", []any{f}) == fmt.Sprintf("%v", []any{state.RequireModerationEventsToBeRecent}) {
			continue
		}
		relay.RejectEvent = append(relay.RejectEvent, func(ctx context.Context, evt *gonostr.Event) (bool, string) {
			if !isNIP29Kind(evt.Kind) {
				return false, ""
			}
			return f(ctx, evt)
		})
	}

	rejectFilter := relay.RejectFilter
	relay.RejectFilter = nil
	for _, f := range rejectFilter {
		relay.RejectFilter = append(relay.RejectFilter, func(ctx context.Context, filter gonostr.Filter) (bool, string) {
			if hasNonNIP29Kind(filter.Kinds) {
				return false, ""
			}
			return f(ctx, filter)
		})
	}

	onSaved := relay.OnEventSaved
	relay.OnEventSaved = nil
	for _, f := range onSaved {
		relay.OnEventSaved = append(relay.OnEventSaved, func(ctx context.Context, evt *gonostr.Event) {
			if isNIP29Kind(evt.Kind) {
				f(ctx, evt)
			}
		})
	}

	storeEvent := relay.StoreEvent
	relay.StoreEvent = nil
	for _, f := range storeEvent {
		relay.StoreEvent = append(relay.StoreEvent, func(ctx context.Context, evt *gonostr.Event) error {
			if !isNIP29Kind(evt.Kind) {
				return generalDB.SaveEvent(ctx, evt)
			}
			return f(ctx, evt)
		})
	}
	relay.QueryEvents = append(relay.QueryEvents, func(ctx context.Context, filter gonostr.Filter) (chan *gonostr.Event, error) {
		if hasNonNIP29Kind(filter.Kinds) {
			return generalDB.QueryEvents(ctx, filter)
		}
		ch := make(chan *gonostr.Event)
		close(ch)
		return ch, nil
	})

	server := &http.Server{Handler: relay}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })

	url := fmt.Sprintf("ws://127.0.0.1:%d", port)
	t.Logf("test relay running at %s", url)
	return url
}

func startTestTransport(t *testing.T, relayURL string) (*NostrTransport, *recordingSink, context.Context) {
	t.Helper()
	cfg := defaultConfig()
	cfg.Relays = []string{relayURL}
	cfg.GroupRelay = relayURL
	cfg.PresenceTimeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	tr := newNostrTransport(cfg, testKeys(t), discardLogger())
	sink := &recordingSink{}
	tr.Start(ctx, sink)
	t.Cleanup(func() {
		cancel()
		tr.Close()
	})
	return tr, sink, ctx
}

func TestIntegrationConference(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	relayURL := startTestRelay(t)
	time.Sleep(500 * time.Millisecond)

	tr, sink, ctx := startTestTransport(t, relayURL)

	handle, err := tr.CreateConference(ctx)
	require.NoError(t, err)
	gotRelay, groupID := splitGroupKey(handle)
	assert.Equal(t, relayURL, gotRelay)
	assert.Len(t, groupID, 8)

	require.NoError(t, tr.SetConferenceTitle(ctx, handle, "club"))
	require.Eventually(t, func() bool {
		title, err := tr.ConferenceTitle(ctx, handle)
		return err == nil && title == "club"
	}, defaultTimeout, pollInterval)

	member := testKeys(t)
	require.NoError(t, tr.InviteToConference(ctx, member.PK, handle))
	require.Eventually(t, func() bool {
		n, err := tr.ConferencePeerCount(ctx, handle)
		return err == nil && n >= 2
	}, defaultTimeout, pollInterval)

	require.NoError(t, tr.SendGroup(ctx, handle, "hello from the bot"))

	evt, err := buildGroupMessageEvent(groupID, "hello bot", nil, member)
	require.NoError(t, err)
	memberPool := nostr.NewPool(nostr.PoolOptions{})
	defer memberPool.Close("done")
	r, err := memberPool.EnsureRelay(relayURL)
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, evt))

	want := groupMessageEvent{Handle: handle, From: member.PK, Text: "hello bot"}
	require.Eventually(t, func() bool {
		for _, ev := range sink.all() {
			if ev == any(want) {
				return true
			}
		}
		return false
	}, defaultTimeout, pollInterval)

	events := sink.all()
	assert.NotContains(t, events, any(presenceEvent{From: member.PK, Online: true}), "member is not a contact")
	for _, ev := range events {
		if gm, ok := ev.(groupMessageEvent); ok {
			assert.NotEqual(t, tr.keys.PK, gm.From, "own messages are not echoed back")
		}
	}
}

func TestIntegrationJoinConference(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	relayURL := startTestRelay(t)
	time.Sleep(500 * time.Millisecond)

	owner, _, ctx := startTestTransport(t, relayURL)
	bot, _, _ := startTestTransport(t, relayURL)

	handle, err := owner.CreateConference(ctx)
	require.NoError(t, err)
	require.NoError(t, owner.SetConferenceTitle(ctx, handle, "Book Club"))
	require.NoError(t, owner.InviteToConference(ctx, bot.keys.PK, handle))

	_, groupID := splitGroupKey(handle)
	joined, err := bot.JoinConference(ctx, owner.keys.PK, relayURL+"'"+groupID)
	require.NoError(t, err)
	_, joinedID := splitGroupKey(joined)
	assert.Equal(t, groupID, joinedID)

	require.Eventually(t, func() bool {
		title, err := bot.ConferenceTitle(ctx, joined)
		return err == nil && title == "Book Club"
	}, defaultTimeout, pollInterval)
}
