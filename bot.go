package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fiatjaf.com/nostr"
	"github.com/charmbracelet/x/ansi"
)

// Bot owns all group and subscription state. Every mutation happens on the
// goroutine running Run; transport goroutines only Post events.
type Bot struct {
	cfg     Config
	tr      Transport
	logger  *slog.Logger
	now     func() time.Time
	started time.Time

	registry     *CommandRegistry
	groups       *GroupStore
	subs         *SubscriptionLedger
	reservations *ReservationHandshake
	presence     *PresenceCoordinator
	dispatcher   *CommandDispatcher
	archive      *Archive

	events chan any
}

func newBot(cfg Config, tr Transport, logger *slog.Logger, now func() time.Time) *Bot {
	if now == nil {
		now = time.Now
	}
	b := &Bot{
		cfg:     cfg,
		tr:      tr,
		logger:  logger,
		now:     now,
		started: now(),
		events:  make(chan any, 64),
	}
	b.registry = newCommandRegistry()
	b.groups = newGroupStore(tr, cfg.MaxMessages, logger.With("component", "groups"))
	b.subs = newSubscriptionLedger(now)
	b.reservations = newReservationHandshake(b.groups, tr, logger.With("component", "reservations"))
	b.presence = newPresenceCoordinator(b.groups, b.subs, tr, logger.With("component", "presence"))
	b.dispatcher = newCommandDispatcher(b.registry, tr, logger.With("component", "dispatch"))
	b.archive = newArchive(cfg.ArchiveDir, logger.With("component", "archive"))
	b.registerCommands()
	return b
}

const (
	defaultGroupRetryMin = 5 * time.Second
	defaultGroupRetryMax = 5 * time.Minute
)

// defaultGroupRetry asks the loop to try creating the default group again.
type defaultGroupRetry struct {
	next time.Duration
}

// Init creates the default group every bot starts with. A transport failure
// is not fatal: the attempt is repeated from the loop with backoff.
func (b *Bot) Init(ctx context.Context) {
	b.ensureDefaultGroup(ctx, defaultGroupRetryMin)
}

func (b *Bot) ensureDefaultGroup(ctx context.Context, delay time.Duration) {
	if _, err := b.groups.Lookup(defaultGroupName); err == nil {
		return
	}
	_, err := b.groups.CreateGroup(ctx, defaultGroupName, "")
	if err == nil {
		b.logger.Info("default group created")
		return
	}
	b.logger.Warn("can't create default group, retrying", "in", delay, "err", err)
	next := min(delay*2, defaultGroupRetryMax)
	time.AfterFunc(delay, func() { b.Post(ctx, defaultGroupRetry{next: next}) })
}

// Post queues an event for the loop. It gives up when ctx is done.
func (b *Bot) Post(ctx context.Context, ev any) {
	select {
	case b.events <- ev:
	case <-ctx.Done():
	}
}

// Run processes events one at a time until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot running", "address", b.tr.OwnAddress(), "groups", b.groups.Len())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.events:
			b.handle(ctx, ev)
		}
	}
}

func (b *Bot) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case presenceEvent:
		b.presence.OnPresenceChanged(ctx, e.From, e.Online, e.At)
	case directMessageEvent:
		b.dispatcher.Dispatch(ctx, e.From, ansi.Strip(e.Text))
	case groupMessageEvent:
		b.onGroupMessage(ctx, e)
	case groupInviteEvent:
		b.onGroupInvite(ctx, e)
	case defaultGroupRetry:
		b.ensureDefaultGroup(ctx, e.next)
	default:
		b.logger.Warn("unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

func (b *Bot) onGroupMessage(ctx context.Context, e groupMessageEvent) {
	if _, err := b.groups.LookupHandle(e.Handle); err != nil {
		b.logger.Debug("message for untracked conference", "handle", e.Handle, "err", err)
		return
	}
	msg := Message{
		Author: b.tr.ConferencePeerName(ctx, e.Handle, e.From),
		Time:   b.now(),
		Text:   ansi.Strip(e.Text),
	}
	g, err := b.groups.AppendMessage(e.Handle, msg)
	if err != nil {
		b.logger.Warn("append failed", "handle", e.Handle, "err", err)
		return
	}
	b.archive.Append(g.Name, e.From, msg)
}

func (b *Bot) onGroupInvite(ctx context.Context, e groupInviteEvent) {
	g, err := b.reservations.OnGroupInvite(ctx, e.From, e.Cookie)
	if err != nil {
		b.logger.Warn("group invite failed", "from", shortPK(e.From.Hex()), "cookie", e.Cookie, "err", err)
		if errors.Is(err, ErrDuplicateName) {
			b.tr.SendDirect(e.From, fmt.Sprintf("Can't register group (%s)", err))
		}
		return
	}
	if g != nil {
		b.tr.SendDirect(e.From, fmt.Sprintf("Group ~%s registered", g.Name))
	}
}

// Subscriptions exposes the persisted part of the state. Only call it
// when Run is not running.
func (b *Bot) Subscriptions() map[nostr.PubKey][]string {
	return b.subs.Snapshot()
}

// RestoreSubscriptions loads saved autoinvites. Only call it before Run.
func (b *Bot) RestoreSubscriptions(saved map[nostr.PubKey][]string) {
	b.subs.Restore(saved)
}
