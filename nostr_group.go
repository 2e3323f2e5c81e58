package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"fiatjaf.com/nostr"
	"fiatjaf.com/nostr/nip19"
	"fiatjaf.com/nostr/nip29"
)

// --- NIP-29 Relay-Based Groups ---

// kindSimpleGroupMembers is the relay-signed member list (kind 39002).
const kindSimpleGroupMembers nostr.Kind = 39002

// groupKey builds a conference handle from relay URL and group ID.
func groupKey(relayURL, groupID string) string {
	return relayURL + "\t" + groupID
}

// splitGroupKey extracts the relay URL and group ID from a group key.
func splitGroupKey(gk string) (relayURL, groupID string) {
	parts := strings.SplitN(gk, "\t", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", gk
}

// publishToGroupRelay sends a signed event to the relay hosting a group.
func (t *NostrTransport) publishToGroupRelay(parent context.Context, relayURL string, evt nostr.Event) error {
	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()
	r, err := t.pool.EnsureRelay(relayURL)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %v", ErrTransport, relayURL, err)
	}
	if err := r.Publish(ctx, evt); err != nil {
		return fmt.Errorf("%w: publish kind %d to %s: %v", ErrTransport, evt.Kind, relayURL, err)
	}
	return nil
}

// CreateConference creates a group with a random 8-hex-char ID on the
// configured group relay and starts listening to it.
func (t *NostrTransport) CreateConference(ctx context.Context) (string, error) {
	idBytes := make([]byte, 4)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("create group: random: %w", err)
	}
	groupID := hex.EncodeToString(idBytes)

	evt, err := buildCreateGroupEvent(groupID, t.keys)
	if err != nil {
		return "", fmt.Errorf("create group: sign: %w", err)
	}
	relayURL := t.cfg.GroupRelay
	if err := t.publishToGroupRelay(ctx, relayURL, evt); err != nil {
		return "", fmt.Errorf("create group: %w", err)
	}

	gk := groupKey(relayURL, groupID)
	t.subscribeGroup(gk)
	t.logger.Info("group created", "relay", relayURL, "group", groupID)
	return gk, nil
}

// InviteToConference adds the contact to the group (kind 9000) and DMs the
// group address.
func (t *NostrTransport) InviteToConference(ctx context.Context, to nostr.PubKey, handle string) error {
	relayURL, groupID := splitGroupKey(handle)
	if relayURL == "" {
		return fmt.Errorf("%w: invalid conference handle %q", ErrTransport, handle)
	}
	evt, err := buildPutUserEvent(groupID, to.Hex(), t.recent(handle), t.keys)
	if err != nil {
		return fmt.Errorf("put user: sign: %w", err)
	}
	if err := t.publishToGroupRelay(ctx, relayURL, evt); err != nil {
		return fmt.Errorf("put user: %w", err)
	}

	t.mu.Lock()
	title := t.titles[handle]
	t.mu.Unlock()
	if title == "" {
		title = groupID
	}
	t.SendDirect(to, formatInviteDM(title, relayURL, groupID))
	t.logger.Info("invited", "contact", shortPK(to.Hex()), "group", groupID, "relay", relayURL)
	return nil
}

// JoinConference sends a join request (kind 9021) for the group address in
// cookie. "already a member" counts as success.
func (t *NostrTransport) JoinConference(ctx context.Context, from nostr.PubKey, cookie string) (string, error) {
	relayURL, groupID, err := parseGroupInput(cookie)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadArgument, err)
	}
	if !strings.Contains(relayURL, "://") {
		relayURL = "wss://" + relayURL
	}
	gk := groupKey(relayURL, groupID)

	evt, err := buildJoinGroupEvent(groupID, t.recent(gk), t.keys)
	if err != nil {
		return "", fmt.Errorf("group join: sign: %w", err)
	}
	if err := t.publishToGroupRelay(ctx, relayURL, evt); err != nil {
		if !strings.Contains(strings.ToLower(err.Error()), "already") {
			return "", fmt.Errorf("group join: %w", err)
		}
		t.logger.Debug("join: already a member", "group", groupID)
	}

	t.subscribeGroup(gk)
	t.logger.Info("joined group", "relay", relayURL, "group", groupID, "inviter", shortPK(from.Hex()))
	return gk, nil
}

// SendGroup posts a kind-9 chat message into a group.
func (t *NostrTransport) SendGroup(ctx context.Context, handle, text string) error {
	relayURL, groupID := splitGroupKey(handle)
	evt, err := buildGroupMessageEvent(groupID, text, t.recent(handle), t.keys)
	if err != nil {
		return fmt.Errorf("group message: sign: %w", err)
	}
	if err := t.publishToGroupRelay(ctx, relayURL, evt); err != nil {
		return fmt.Errorf("group message: %w", err)
	}
	t.remember(handle, evt.GetID().Hex())
	return nil
}

// SetConferenceTitle edits the group's name metadata (kind 9002).
func (t *NostrTransport) SetConferenceTitle(ctx context.Context, handle, title string) error {
	relayURL, groupID := splitGroupKey(handle)
	evt, err := buildEditGroupMetadataEvent(groupID, map[string]string{"name": title}, t.recent(handle), t.keys)
	if err != nil {
		return fmt.Errorf("edit metadata: sign: %w", err)
	}
	if err := t.publishToGroupRelay(ctx, relayURL, evt); err != nil {
		return fmt.Errorf("edit metadata: %w", err)
	}
	t.mu.Lock()
	t.titles[handle] = title
	t.mu.Unlock()
	return nil
}

// ConferenceTitle fetches the group name from the relay's kind-39000 metadata.
func (t *NostrTransport) ConferenceTitle(parent context.Context, handle string) (string, error) {
	relayURL, groupID := splitGroupKey(handle)
	ctx, cancel := context.WithTimeout(parent, queryTimeout)
	defer cancel()

	re := t.pool.QuerySingle(ctx, []string{relayURL}, nostr.Filter{
		Kinds: []nostr.Kind{nostr.KindSimpleGroupMetadata},
		Tags:  nostr.TagMap{"d": {groupID}},
	}, nostr.SubscriptionOptions{})
	if re == nil {
		return "", fmt.Errorf("%w: no metadata for group %s on %s", ErrNotFound, groupID, relayURL)
	}
	name := groupNameFromMetadata(re.Tags)
	if name != "" {
		t.mu.Lock()
		t.titles[handle] = name
		t.mu.Unlock()
	}
	return name, nil
}

// groupNameFromMetadata extracts the "name" tag of a kind-39000 event.
func groupNameFromMetadata(tags nostr.Tags) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "name" {
			return tag[1]
		}
	}
	return ""
}

// ConferencePeerCount counts the members in the relay's kind-39002 list.
func (t *NostrTransport) ConferencePeerCount(parent context.Context, handle string) (int, error) {
	relayURL, groupID := splitGroupKey(handle)
	ctx, cancel := context.WithTimeout(parent, queryTimeout)
	defer cancel()

	re := t.pool.QuerySingle(ctx, []string{relayURL}, nostr.Filter{
		Kinds: []nostr.Kind{kindSimpleGroupMembers},
		Tags:  nostr.TagMap{"d": {groupID}},
	}, nostr.SubscriptionOptions{})
	if re == nil {
		return 0, fmt.Errorf("%w: no member list for group %s on %s", ErrNotFound, groupID, relayURL)
	}
	return countMembers(re.Tags), nil
}

// countMembers counts the distinct "p" tags of a member list.
func countMembers(tags nostr.Tags) int {
	seen := make(map[string]bool)
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "p" {
			seen[tag[1]] = true
		}
	}
	return len(seen)
}

// subscribeGroup listens to kind-9 messages of a group and posts the ones
// from other members as bot events. Reconnects after a short delay.
func (t *NostrTransport) subscribeGroup(gk string) {
	t.mu.Lock()
	if _, ok := t.groupSubs[gk]; ok {
		t.mu.Unlock()
		return
	}
	parent := t.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	t.groupSubs[gk] = cancel
	t.mu.Unlock()

	relayURL, groupID := splitGroupKey(gk)
	started := nostr.Now()

	go func() {
		for ctx.Err() == nil {
			for re := range t.pool.SubscribeMany(ctx, []string{relayURL}, nostr.Filter{
				Kinds: []nostr.Kind{nostr.KindSimpleGroupChatMessage},
				Tags:  nostr.TagMap{"h": {groupID}},
				Limit: 1,
			}, nostr.SubscriptionOptions{}) {
				id := re.ID.Hex()
				if t.seenRecently(gk, id) {
					continue
				}
				t.remember(gk, id)
				if re.PubKey == t.keys.PK || re.CreatedAt < started {
					continue
				}
				if t.sink == nil {
					continue
				}
				t.noteActivity(ctx, re.PubKey)
				t.sink.Post(ctx, groupMessageEvent{Handle: gk, From: re.PubKey, Text: re.Content})
			}
			t.logger.Debug("group subscription ended, reconnecting", "group", groupID)
			select {
			case <-ctx.Done():
			case <-time.After(reconnectDelay):
			}
		}
	}()
}

// remember appends an event ID to the group's ring of recent IDs, used for
// NIP-29 "previous" tags and for dedup across reconnects.
func (t *NostrTransport) remember(gk, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := append(t.recentIDs[gk], id)
	if len(ids) > maxRecentIDs {
		ids = ids[len(ids)-maxRecentIDs:]
	}
	t.recentIDs[gk] = ids
}

func (t *NostrTransport) seenRecently(gk, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, seen := range t.recentIDs[gk] {
		if seen == id {
			return true
		}
	}
	return false
}

func (t *NostrTransport) recent(gk string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.recentIDs[gk]...)
}

// buildGroupMessageEvent builds a kind-9 message event for a NIP-29 group.
func buildGroupMessageEvent(groupID, content string, previousIDs []string, keys Keys) (nostr.Event, error) {
	tags := nostr.Tags{{"h", groupID}}
	tags = append(tags, pickPreviousTags(previousIDs)...)
	evt := nostr.Event{
		Kind:      nostr.KindSimpleGroupChatMessage,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   content,
	}
	if err := evt.Sign(keys.SK); err != nil {
		return evt, err
	}
	return evt, nil
}

// buildJoinGroupEvent builds a kind-9021 join request event for a NIP-29 group.
func buildJoinGroupEvent(groupID string, previousIDs []string, keys Keys) (nostr.Event, error) {
	tags := nostr.Tags{{"h", groupID}}
	tags = append(tags, pickPreviousTags(previousIDs)...)
	evt := nostr.Event{
		Kind:      nostr.KindSimpleGroupJoinRequest,
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
	if err := evt.Sign(keys.SK); err != nil {
		return evt, err
	}
	return evt, nil
}

// buildCreateGroupEvent builds a kind-9007 event to create a NIP-29 group.
func buildCreateGroupEvent(groupID string, keys Keys) (nostr.Event, error) {
	evt := nostr.Event{
		Kind:      nostr.KindSimpleGroupCreateGroup,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"h", groupID}},
	}
	if err := evt.Sign(keys.SK); err != nil {
		return evt, err
	}
	return evt, nil
}

// buildPutUserEvent builds a kind-9000 event to add a user to a NIP-29 group.
func buildPutUserEvent(groupID, pubkey string, previousIDs []string, keys Keys) (nostr.Event, error) {
	tags := nostr.Tags{{"h", groupID}, {"p", pubkey}}
	tags = append(tags, pickPreviousTags(previousIDs)...)
	evt := nostr.Event{
		Kind:      nostr.KindSimpleGroupPutUser,
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
	if err := evt.Sign(keys.SK); err != nil {
		return evt, err
	}
	return evt, nil
}

// buildEditGroupMetadataEvent builds a kind-9002 event to edit group metadata.
func buildEditGroupMetadataEvent(groupID string, fields map[string]string, previousIDs []string, keys Keys) (nostr.Event, error) {
	tags := nostr.Tags{{"h", groupID}}
	for k, v := range fields {
		if v == "" {
			tags = append(tags, nostr.Tag{k})
		} else {
			tags = append(tags, nostr.Tag{k, v})
		}
	}
	tags = append(tags, pickPreviousTags(previousIDs)...)
	evt := nostr.Event{
		Kind:      nostr.KindSimpleGroupEditMetadata,
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
	if err := evt.Sign(keys.SK); err != nil {
		return evt, err
	}
	return evt, nil
}

// parseGroupInput parses a NIP-29 group address.
// Accepts "naddr1..." or "host'groupid" format.
func parseGroupInput(input string) (string, string, error) {
	if strings.HasPrefix(input, "naddr") {
		prefix, data, err := nip19.Decode(input)
		if err != nil {
			return "", "", fmt.Errorf("invalid naddr: %w", err)
		}
		if prefix != "naddr" {
			return "", "", fmt.Errorf("expected naddr, got %s", prefix)
		}
		ep, ok := data.(nostr.EntityPointer)
		if !ok {
			return "", "", fmt.Errorf("naddr data is not an EntityPointer")
		}
		if len(ep.Relays) == 0 {
			return "", "", fmt.Errorf("naddr has no relay")
		}
		return ep.Relays[0], ep.Identifier, nil
	}

	ga, err := nip29.ParseGroupAddress(input)
	if err != nil {
		return "", "", fmt.Errorf("invalid group address: %w", err)
	}
	return ga.Relay, ga.ID, nil
}

// pickPreviousTags selects up to 3 random IDs from the recent event list
// and returns NIP-29 "previous" tags (first 8 chars of each ID).
func pickPreviousTags(ids []string) nostr.Tags {
	if len(ids) == 0 {
		return nil
	}
	n := min(3, len(ids))
	picked := make([]string, len(ids))
	copy(picked, ids)
	for i := len(picked) - 1; i > 0 && i >= len(picked)-n; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			continue
		}
		j := int(jBig.Int64())
		picked[i], picked[j] = picked[j], picked[i]
	}
	var tags nostr.Tags
	for _, id := range picked[len(picked)-n:] {
		ref := id
		if len(ref) > 8 {
			ref = ref[:8]
		}
		tags = append(tags, nostr.Tag{"previous", ref})
	}
	return tags
}
