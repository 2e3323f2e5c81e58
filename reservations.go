package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fiatjaf.com/nostr"
)

// Reservation is a group name a contact claimed before inviting the bot
// into a conference it created elsewhere.
type Reservation struct {
	Name     string
	Password string
}

// ReservationHandshake turns reservations into stored groups once the
// reserving contact's invite arrives.
type ReservationHandshake struct {
	groups  *GroupStore
	tr      Transport
	logger  *slog.Logger
	pending map[nostr.PubKey]Reservation
}

func newReservationHandshake(groups *GroupStore, tr Transport, logger *slog.Logger) *ReservationHandshake {
	return &ReservationHandshake{
		groups:  groups,
		tr:      tr,
		logger:  logger,
		pending: make(map[nostr.PubKey]Reservation),
	}
}

// Reserve records a claim on name for id, replacing any earlier one.
func (h *ReservationHandshake) Reserve(id nostr.PubKey, name, password string) error {
	if err := validGroupName(name); err != nil {
		return err
	}
	if h.groups.Exists(name) {
		return fmt.Errorf("group %q: %w", name, ErrDuplicateName)
	}
	h.pending[id] = Reservation{Name: name, Password: password}
	h.logger.Info("name reserved", "from", shortPK(id.Hex()), "group", name)
	return nil
}

// Pending returns the outstanding reservation of id.
func (h *ReservationHandshake) Pending(id nostr.PubKey) (Reservation, bool) {
	r, ok := h.pending[id]
	return r, ok
}

// OnGroupInvite joins the conference behind cookie. With a reservation
// pending for id the conference becomes a stored group under the reserved
// name; without one the bot stays in it untracked. The returned group is nil
// in that case.
func (h *ReservationHandshake) OnGroupInvite(ctx context.Context, id nostr.PubKey, cookie string) (*Group, error) {
	handle, err := h.tr.JoinConference(ctx, id, cookie)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", cookie, err)
	}

	res, ok := h.pending[id]
	if !ok {
		h.logger.Info("joined conference without reservation", "from", shortPK(id.Hex()), "handle", handle)
		return nil, nil
	}
	delete(h.pending, id)

	title, err := h.tr.ConferenceTitle(ctx, handle)
	if err != nil {
		h.logger.Debug("no remote title", "handle", handle, "err", err)
		title = ""
	}
	g, err := h.groups.Bind(res.Name, res.Password, handle, title)
	if err != nil {
		if errors.Is(err, ErrDuplicateName) {
			h.logger.Warn("reservation lost its name", "from", shortPK(id.Hex()), "group", res.Name, "err", err)
		}
		return nil, err
	}
	if err := h.tr.SendGroup(ctx, handle, fmt.Sprintf("~%s is now managed by this bot", g.Name)); err != nil {
		h.logger.Warn("announce failed", "group", g.Name, "err", err)
	}
	return g, nil
}
