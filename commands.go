package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fiatjaf.com/nostr"
)

const (
	defaultLogCount = 10
	maxLogCount     = 100
)

func (b *Bot) registerCommands() {
	r := b.registry
	optName := Arg{Name: "name", Optional: true}
	optPassword := Arg{Name: "password", Optional: true}

	r.Register(Command{Name: "help", Order: 0, Description: "Print this text", Handler: b.cmdHelp})
	r.Register(Command{Name: "id", Order: 10, Description: "Print my address", Handler: b.cmdID})
	r.Register(Command{Name: "list", Order: 20, Description: "Print list of all available groups", Handler: b.cmdList})
	r.Register(Command{Name: "info", Order: 30, Description: "Print my current status", Handler: b.cmdInfo})
	r.Register(Command{
		Name: "invite", Order: 40,
		Args:        []Arg{optName, optPassword},
		Description: "Invite you into a group. Default group is " + defaultGroupName,
		Handler:     b.cmdInvite,
	})
	r.Register(Command{
		Name: "group", Order: 50,
		Args:        []Arg{{Name: "name"}, optPassword},
		Description: "Create new group and invite you into it",
		Handler:     b.cmdGroup,
	})
	r.Register(Command{
		Name: "autoinvite", Order: 60,
		Args:        []Arg{optName, optPassword},
		Description: "Invite you into a group every time you come online",
		Handler:     b.cmdAutoinvite,
	})
	r.Register(Command{
		Name: "deautoinvite", Order: 70,
		Args:        []Arg{optName},
		Description: "Disable autoinvite into a group",
		Handler:     b.cmdDeautoinvite,
	})
	r.Register(Command{
		Name: "autohistory", Order: 80,
		Args:        []Arg{optName, optPassword},
		Description: "Send you the messages of a group you missed while offline",
		Handler:     b.cmdAutohistory,
	})
	r.Register(Command{Name: "deautohistory", Order: 90, Description: "Disable autohistory", Handler: b.cmdDeautohistory})
	r.Register(Command{
		Name: "reserve", Order: 100,
		Args:        []Arg{{Name: "name"}, optPassword},
		Description: "Reserve a group name, then invite me into your group",
		Handler:     b.cmdReserve,
	})
	r.Register(Command{
		Name: "log", Order: 110,
		Args:        []Arg{optName, optPassword, {Name: "count", Optional: true}},
		Description: fmt.Sprintf("Print the last messages of a group (default %d)", defaultLogCount),
		Handler:     b.cmdLog,
	})
}

// argOr returns args[i], or def when the argument was not given.
func argOr(args []string, i int, def string) string {
	if i < len(args) && args[i] != "" {
		return args[i]
	}
	return def
}

func (b *Bot) cmdHelp(_ context.Context, from nostr.PubKey, _ []string) error {
	b.tr.SendDirect(from, b.registry.RenderHelp())
	return nil
}

func (b *Bot) cmdID(_ context.Context, from nostr.PubKey, _ []string) error {
	b.tr.SendDirect(from, b.tr.OwnAddress())
	return nil
}

func (b *Bot) cmdList(ctx context.Context, from nostr.PubKey, _ []string) error {
	b.tr.SendDirect(from, b.groups.RenderList(ctx))
	return nil
}

func (b *Bot) cmdInfo(_ context.Context, from nostr.PubKey, _ []string) error {
	text := fmt.Sprintf("Uptime: %s\nFriends: %d (%d online)\nGroups: %d\n",
		formatUptime(b.now().Sub(b.started)), b.tr.FriendCount(), b.presence.OnlineCount(), b.groups.Len())
	b.tr.SendDirect(from, text)
	return nil
}

func (b *Bot) cmdInvite(ctx context.Context, from nostr.PubKey, args []string) error {
	g, err := b.groups.Authorize(argOr(args, 0, defaultGroupName), argOr(args, 1, ""))
	if err != nil {
		return err
	}
	return b.tr.InviteToConference(ctx, from, g.Handle)
}

func (b *Bot) cmdGroup(ctx context.Context, from nostr.PubKey, args []string) error {
	g, err := b.groups.CreateGroup(ctx, args[0], argOr(args, 1, ""))
	if err != nil {
		return err
	}
	b.tr.SendDirect(from, fmt.Sprintf("Group ~%s created", g.Name))
	return b.tr.InviteToConference(ctx, from, g.Handle)
}

func (b *Bot) cmdAutoinvite(ctx context.Context, from nostr.PubKey, args []string) error {
	g, err := b.groups.Authorize(argOr(args, 0, defaultGroupName), argOr(args, 1, ""))
	if err != nil {
		return err
	}
	b.subs.AddAutoinvite(from, g.Name)
	return b.tr.InviteToConference(ctx, from, g.Handle)
}

func (b *Bot) cmdDeautoinvite(_ context.Context, from nostr.PubKey, args []string) error {
	name := argOr(args, 0, defaultGroupName)
	b.subs.RemoveAutoinvite(from, name)
	b.tr.SendDirect(from, fmt.Sprintf("Autoinvite into ~%s disabled", name))
	return nil
}

func (b *Bot) cmdAutohistory(_ context.Context, from nostr.PubKey, args []string) error {
	g, err := b.groups.Authorize(argOr(args, 0, defaultGroupName), argOr(args, 1, ""))
	if err != nil {
		return err
	}
	b.subs.SetAutohistory(from, g.Name)
	b.tr.SendDirect(from, fmt.Sprintf("You will get the messages of ~%s you missed", g.Name))
	return nil
}

func (b *Bot) cmdDeautohistory(_ context.Context, from nostr.PubKey, _ []string) error {
	b.subs.ClearAutohistory(from)
	b.tr.SendDirect(from, "Autohistory disabled")
	return nil
}

func (b *Bot) cmdReserve(_ context.Context, from nostr.PubKey, args []string) error {
	name := args[0]
	if err := b.reservations.Reserve(from, name, argOr(args, 1, "")); err != nil {
		return err
	}
	b.tr.SendDirect(from, fmt.Sprintf("Name ~%s reserved. Create your group and invite me into it", name))
	return nil
}

func (b *Bot) cmdLog(_ context.Context, from nostr.PubKey, args []string) error {
	g, err := b.groups.Authorize(argOr(args, 0, defaultGroupName), argOr(args, 1, ""))
	if err != nil {
		return err
	}
	count := defaultLogCount
	if raw := argOr(args, 2, ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: count %q is not a positive number", ErrBadArgument, raw)
		}
		count = min(n, maxLogCount)
	}
	msgs, err := b.groups.Recent(g.Name, count)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		b.tr.SendDirect(from, fmt.Sprintf("No messages in ~%s", g.Name))
		return nil
	}
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = m.String()
	}
	b.tr.SendDirect(from, strings.Join(lines, "\n"))
	return nil
}

// formatUptime renders d as "<days>d <hours>h <minutes>m".
func formatUptime(d time.Duration) string {
	total := int(d / time.Minute)
	minutes := total % 60
	hours := (total / 60) % 24
	days := total / (60 * 24)
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}
