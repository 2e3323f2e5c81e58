package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/muesli/reflow/truncate"
)

const (
	defaultGroupName   = "default"
	defaultMaxMessages = 500
	maxListTitleWidth  = 64
)

// Group is a named conference managed by the bot.
type Group struct {
	Name     string
	Handle   string // transport conference handle
	Password string
	Title    string

	log []Message
}

// Message is one line of a group's history.
type Message struct {
	Author string
	Time   time.Time
	Text   string
}

func (m Message) String() string {
	return fmt.Sprintf("[%s] %s: %s", m.Time.Format("15:04:05"), m.Author, m.Text)
}

// GroupStore owns the named groups and their bounded message logs.
type GroupStore struct {
	tr          Transport
	logger      *slog.Logger
	maxMessages int

	groups   map[string]*Group
	order    []string          // creation order
	byHandle map[string]string // handle -> name
}

func newGroupStore(tr Transport, maxMessages int, logger *slog.Logger) *GroupStore {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &GroupStore{
		tr:          tr,
		logger:      logger,
		maxMessages: maxMessages,
		groups:      make(map[string]*Group),
		byHandle:    make(map[string]string),
	}
}

// CreateGroup opens a new conference on the transport and stores it under name.
func (s *GroupStore) CreateGroup(ctx context.Context, name, password string) (*Group, error) {
	if err := validGroupName(name); err != nil {
		return nil, err
	}
	if _, ok := s.groups[name]; ok {
		return nil, fmt.Errorf("group %q: %w", name, ErrDuplicateName)
	}
	handle, err := s.tr.CreateConference(ctx)
	if err != nil {
		return nil, fmt.Errorf("create group %q: %w", name, err)
	}
	if err := s.tr.SetConferenceTitle(ctx, handle, name); err != nil {
		s.logger.Warn("set title failed", "group", name, "handle", handle, "err", err)
	}
	return s.Bind(name, password, handle, name)
}

// Bind stores a group for a conference handle the transport already knows,
// e.g. one the bot was invited into.
func (s *GroupStore) Bind(name, password, handle, title string) (*Group, error) {
	if _, ok := s.groups[name]; ok {
		return nil, fmt.Errorf("group %q: %w", name, ErrDuplicateName)
	}
	if other, ok := s.byHandle[handle]; ok {
		return nil, fmt.Errorf("handle %s already bound to %q: %w", handle, other, ErrDuplicateName)
	}
	if title == "" {
		title = name
	}
	g := &Group{Name: name, Handle: handle, Password: password, Title: title}
	s.groups[name] = g
	s.order = append(s.order, name)
	s.byHandle[handle] = name
	s.logger.Info("group stored", "group", name, "handle", handle, "protected", password != "")
	return g, nil
}

// Lookup returns the group called name.
func (s *GroupStore) Lookup(name string) (*Group, error) {
	g, ok := s.groups[name]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", name, ErrNotFound)
	}
	return g, nil
}

// LookupHandle maps a transport handle back to its group.
func (s *GroupStore) LookupHandle(handle string) (*Group, error) {
	name, ok := s.byHandle[handle]
	if !ok {
		return nil, fmt.Errorf("handle %s: %w", handle, ErrNotFound)
	}
	return s.groups[name], nil
}

// Exists reports whether a group called name is stored.
func (s *GroupStore) Exists(name string) bool {
	_, ok := s.groups[name]
	return ok
}

// Len returns the number of stored groups.
func (s *GroupStore) Len() int { return len(s.groups) }

// CheckPassword compares the supplied password with the group's exactly.
func CheckPassword(g *Group, supplied string) bool {
	return g.Password == supplied
}

// Authorize looks up name and checks the password in one step.
func (s *GroupStore) Authorize(name, password string) (*Group, error) {
	g, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !CheckPassword(g, password) {
		return nil, fmt.Errorf("group %q: %w", name, ErrWrongPassword)
	}
	return g, nil
}

// AppendMessage adds msg to the log of the group bound to handle, dropping
// the oldest entries beyond the configured bound.
func (s *GroupStore) AppendMessage(handle string, msg Message) (*Group, error) {
	g, err := s.LookupHandle(handle)
	if err != nil {
		return nil, err
	}
	g.log = append(g.log, msg)
	if over := len(g.log) - s.maxMessages; over > 0 {
		g.log = append([]Message(nil), g.log[over:]...)
	}
	return g, nil
}

// Since returns the messages of a group strictly newer than t, in log order.
func (s *GroupStore) Since(name string, t time.Time) ([]Message, error) {
	g, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	var out []Message
	for _, m := range g.log {
		if m.Time.After(t) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Recent returns at most n of the newest messages of a group.
func (s *GroupStore) Recent(name string, n int) ([]Message, error) {
	g, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > len(g.log) {
		n = len(g.log)
	}
	return append([]Message(nil), g.log[len(g.log)-n:]...), nil
}

// RenderList returns one "name | peers | title" line per group in creation
// order. Peer counts come live from the transport.
func (s *GroupStore) RenderList(ctx context.Context) string {
	lines := make([]string, 0, len(s.order))
	for _, name := range s.order {
		g := s.groups[name]
		peers, err := s.tr.ConferencePeerCount(ctx, g.Handle)
		if err != nil {
			s.logger.Warn("peer count failed", "group", name, "err", err)
		}
		title := truncate.StringWithTail(g.Title, maxListTitleWidth, "…")
		lines = append(lines, fmt.Sprintf("%s | %d | %s", g.Name, peers, title))
	}
	return strings.Join(lines, "\n")
}

func validGroupName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty group name", ErrBadArgument)
	}
	if strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("%w: group name %q contains whitespace", ErrBadArgument, name)
	}
	return nil
}
