package main

import (
	"context"
	"time"

	"fiatjaf.com/nostr"
)

// Transport is everything the bot needs from the messaging network.
// A conference handle names a NIP-29 group together with its relay.
type Transport interface {
	SendDirect(to nostr.PubKey, text string)
	SendGroup(ctx context.Context, handle, text string) error

	CreateConference(ctx context.Context) (string, error)
	InviteToConference(ctx context.Context, to nostr.PubKey, handle string) error
	JoinConference(ctx context.Context, from nostr.PubKey, cookie string) (string, error)
	SetConferenceTitle(ctx context.Context, handle, title string) error
	ConferencePeerCount(ctx context.Context, handle string) (int, error)
	ConferenceTitle(ctx context.Context, handle string) (string, error)
	ConferencePeerName(ctx context.Context, handle string, peer nostr.PubKey) string

	OwnAddress() string
	FriendCount() int
}

// Events delivered into the bot's loop.
// presenceEvent is a presence transition. At is when the contact was last
// active for an offline transition; zero means now.
type presenceEvent struct {
	From   nostr.PubKey
	Online bool
	At     time.Time
}

type directMessageEvent struct {
	From nostr.PubKey
	Text string
}

type groupMessageEvent struct {
	Handle string
	From   nostr.PubKey
	Text   string
}

type groupInviteEvent struct {
	From   nostr.PubKey
	Cookie string
}
