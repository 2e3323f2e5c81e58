package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"fiatjaf.com/nostr"
)

type sentDM struct {
	To   nostr.PubKey
	Text string
}

type sentInvite struct {
	To     nostr.PubKey
	Handle string
}

// fakeTransport records every call the bot makes.
type fakeTransport struct {
	mu sync.Mutex

	dms        []sentDM
	groupPosts map[string][]string
	invites    []sentInvite
	titles     map[string]string
	peers      map[string]int
	peerNames  map[nostr.PubKey]string
	created    int
	joins      int
	friends    int

	createErr   error
	joinErr     error
	remoteTitle string
	failInvite  map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		groupPosts: make(map[string][]string),
		titles:     make(map[string]string),
		peers:      make(map[string]int),
		peerNames:  make(map[nostr.PubKey]string),
		failInvite: make(map[string]bool),
	}
}

func (f *fakeTransport) SendDirect(to nostr.PubKey, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, sentDM{To: to, Text: text})
}

func (f *fakeTransport) SendGroup(_ context.Context, handle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupPosts[handle] = append(f.groupPosts[handle], text)
	return nil
}

func (f *fakeTransport) CreateConference(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return groupKey("wss://relay.test", fmt.Sprintf("g%d", f.created)), nil
}

func (f *fakeTransport) InviteToConference(_ context.Context, to nostr.PubKey, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInvite[handle] {
		return fmt.Errorf("%w: invite refused", ErrTransport)
	}
	f.invites = append(f.invites, sentInvite{To: to, Handle: handle})
	return nil
}

func (f *fakeTransport) JoinConference(_ context.Context, _ nostr.PubKey, cookie string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return "", f.joinErr
	}
	f.joins++
	return groupKey("wss://remote.test", cookie), nil
}

func (f *fakeTransport) SetConferenceTitle(_ context.Context, handle, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[handle] = title
	return nil
}

func (f *fakeTransport) ConferencePeerCount(_ context.Context, handle string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[handle], nil
}

func (f *fakeTransport) ConferenceTitle(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteTitle == "" {
		return "", ErrNotFound
	}
	return f.remoteTitle, nil
}

func (f *fakeTransport) ConferencePeerName(_ context.Context, _ string, peer nostr.PubKey) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.peerNames[peer]; ok {
		return name
	}
	return shortPK(peer.Hex())
}

func (f *fakeTransport) OwnAddress() string { return "npub1groupbot" }

func (f *fakeTransport) FriendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.friends
}

// textsTo returns the DMs sent to pk, in order.
func (f *fakeTransport) textsTo(pk nostr.PubKey) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, dm := range f.dms {
		if dm.To == pk {
			out = append(out, dm.Text)
		}
	}
	return out
}

// invitesTo returns the handles pk was invited into, in order.
func (f *fakeTransport) invitesTo(pk nostr.PubKey) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, inv := range f.invites {
		if inv.To == pk {
			out = append(out, inv.Handle)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = nil
	f.invites = nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPubKey(t *testing.T) nostr.PubKey {
	t.Helper()
	return nostr.GetPublicKey(nostr.Generate())
}

// newTestBot returns an initialized bot (default group created) on a fake
// transport and clock.
func newTestBot(t *testing.T) (*Bot, *fakeTransport, *fakeClock) {
	t.Helper()
	tr := newFakeTransport()
	clock := newFakeClock()
	cfg := defaultConfig()
	cfg.ArchiveDir = ""
	b := newBot(cfg, tr, discardLogger(), clock.Now)
	b.Init(context.Background())
	tr.reset()
	return b, tr, clock
}

// send delivers a DM from pk to the bot as the event loop would.
func send(b *Bot, from nostr.PubKey, text string) {
	b.handle(context.Background(), directMessageEvent{From: from, Text: text})
}
