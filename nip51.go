package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"fiatjaf.com/nostr"
)

// contactsListTag is the d-tag of the kind-30000 list holding the bot's friends.
const contactsListTag = "Chat-Friends"

// Contact is one entry of the bot's friend list.
type Contact struct {
	PubKey nostr.PubKey
	Name   string
}

// selfEncrypt encrypts plaintext to ourselves using NIP-44 via the Keyer interface.
func selfEncrypt(ctx context.Context, kr nostr.Keyer, plaintext string) (string, error) {
	pk, err := kr.GetPublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("selfEncrypt: get pubkey: %w", err)
	}
	return kr.Encrypt(ctx, plaintext, pk)
}

// selfDecrypt decrypts ciphertext that was encrypted to ourselves.
func selfDecrypt(ctx context.Context, kr nostr.Keyer, ciphertext string) (string, error) {
	pk, err := kr.GetPublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("selfDecrypt: get pubkey: %w", err)
	}
	return kr.Decrypt(ctx, ciphertext, pk)
}

// buildContactsListEvent builds a kind 30000 (categorized people list) event
// with d-tag "Chat-Friends" and NIP-44 self-encrypted content containing
// the contact list in [["p","hexPubkey","relayHint","petname"], ...] format.
func buildContactsListEvent(ctx context.Context, contacts []Contact, keys Keys, kr nostr.Keyer) (nostr.Event, error) {
	inner := nostr.Tags{}
	for _, c := range contacts {
		inner = append(inner, nostr.Tag{"p", c.PubKey.Hex(), "", c.Name})
	}

	plaintext, err := json.Marshal(inner)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("buildContactsListEvent: marshal: %w", err)
	}

	ciphertext, err := selfEncrypt(ctx, kr, string(plaintext))
	if err != nil {
		return nostr.Event{}, fmt.Errorf("buildContactsListEvent: encrypt: %w", err)
	}

	evt := nostr.Event{
		Kind:      nostr.KindCategorizedPeopleList,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"d", contactsListTag}},
		Content:   ciphertext,
	}
	if err := evt.Sign(keys.SK); err != nil {
		return evt, fmt.Errorf("buildContactsListEvent: sign: %w", err)
	}
	return evt, nil
}

// parseContactsListEvent decrypts and parses a kind 30000 "Chat-Friends" event.
// Entries with an invalid pubkey are skipped.
func parseContactsListEvent(ctx context.Context, evt *nostr.Event, kr nostr.Keyer) ([]Contact, error) {
	if evt.Content == "" {
		return nil, nil
	}

	plaintext, err := selfDecrypt(ctx, kr, evt.Content)
	if err != nil {
		return nil, fmt.Errorf("parseContactsListEvent: decrypt: %w", err)
	}

	var tags nostr.Tags
	if err := json.Unmarshal([]byte(plaintext), &tags); err != nil {
		return nil, fmt.Errorf("parseContactsListEvent: unmarshal: %w", err)
	}

	var contacts []Contact
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		pk, err := nostr.PubKeyFromHex(tag[1])
		if err != nil {
			continue
		}
		name := ""
		// tag[2] is relay hint (skip), tag[3] is petname
		if len(tag) >= 4 {
			name = tag[3]
		}
		if name == "" {
			name = shortPK(tag[1])
		}
		contacts = append(contacts, Contact{PubKey: pk, Name: name})
	}
	return contacts, nil
}

// acceptContact adds pk to the friend list on first contact and republishes
// the list in the background.
func (t *NostrTransport) acceptContact(ctx context.Context, pk nostr.PubKey) {
	t.mu.Lock()
	if _, ok := t.contacts[pk]; ok {
		t.mu.Unlock()
		return
	}
	t.contacts[pk] = shortPK(pk.Hex())
	contacts := t.contactListLocked()
	t.mu.Unlock()

	t.logger.Info("friend accepted", "pubkey", shortPK(pk.Hex()), "friends", len(contacts))
	go t.publishContacts(ctx, contacts)
}

func (t *NostrTransport) contactListLocked() []Contact {
	contacts := make([]Contact, 0, len(t.contacts))
	for pk, name := range t.contacts {
		contacts = append(contacts, Contact{PubKey: pk, Name: name})
	}
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].PubKey.Hex() < contacts[j].PubKey.Hex()
	})
	return contacts
}

func (t *NostrTransport) publishContacts(parent context.Context, contacts []Contact) {
	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()
	evt, err := buildContactsListEvent(ctx, contacts, t.keys, t.kr)
	if err != nil {
		t.logger.Warn("publish friend list failed", "err", err)
		return
	}
	drainPublish(ctx, t.pool.PublishMany(ctx, t.cfg.Relays, evt))
}

// restoreContacts loads the friend list published by a previous run.
func (t *NostrTransport) restoreContacts(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, queryTimeout)
	defer cancel()

	re := t.pool.QuerySingle(ctx, t.cfg.Relays, nostr.Filter{
		Kinds:   []nostr.Kind{nostr.KindCategorizedPeopleList},
		Authors: []nostr.PubKey{t.keys.PK},
		Tags:    nostr.TagMap{"d": {contactsListTag}},
	}, nostr.SubscriptionOptions{})
	if re == nil {
		t.logger.Debug("no friend list found")
		return
	}
	contacts, err := parseContactsListEvent(ctx, &re.Event, t.kr)
	if err != nil {
		t.logger.Warn("friend list unreadable", "err", err)
		return
	}

	t.mu.Lock()
	for _, c := range contacts {
		t.contacts[c.PubKey] = c.Name
	}
	t.mu.Unlock()
	t.logger.Info("friend list restored", "friends", len(contacts))
}
