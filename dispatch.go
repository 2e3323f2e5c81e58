package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fiatjaf.com/nostr"
	"github.com/google/uuid"
)

// CommandDispatcher routes a contact's direct message to a registered
// command and turns every failure into a reply.
type CommandDispatcher struct {
	registry *CommandRegistry
	tr       Transport
	logger   *slog.Logger
}

func newCommandDispatcher(registry *CommandRegistry, tr Transport, logger *slog.Logger) *CommandDispatcher {
	return &CommandDispatcher{registry: registry, tr: tr, logger: logger}
}

// parseCommand splits text on single spaces into a command name and its
// positional arguments.
func parseCommand(text string) (string, []string) {
	parts := strings.Split(text, " ")
	return parts[0], parts[1:]
}

// Dispatch runs the command in text on behalf of from. It never panics out:
// unknown commands get a reply plus the help text, handler errors and panics
// get an error reply.
func (d *CommandDispatcher) Dispatch(ctx context.Context, from nostr.PubKey, text string) {
	name, args := parseCommand(strings.TrimRight(text, "\r\n"))
	logger := d.logger.With("req", uuid.NewString(), "from", shortPK(from.Hex()), "cmd", name)

	cmd, err := d.registry.Resolve(name)
	if err != nil {
		logger.Info("unsupported command")
		d.tr.SendDirect(from, fmt.Sprintf("%s is unsupported command", name))
		d.tr.SendDirect(from, d.registry.RenderHelp())
		return
	}

	if err := d.invoke(ctx, cmd, from, args); err != nil {
		logger.Info("command failed", "err", err)
		d.tr.SendDirect(from, fmt.Sprintf("Error while handle %s (%s)", name, err))
		return
	}
	logger.Debug("command handled", "args", len(args))
}

func (d *CommandDispatcher) invoke(ctx context.Context, cmd Command, from nostr.PubKey, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	if err := cmd.checkArgs(args); err != nil {
		return err
	}
	return cmd.Handler(ctx, from, args)
}
