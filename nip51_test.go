package main

import (
	"testing"

	"fiatjaf.com/nostr"
	"fiatjaf.com/nostr/keyer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfEncryptDecryptRoundtrip(t *testing.T) {
	keys := testKeys(t)
	kr := keyer.NewPlainKeySigner(keys.SK)

	plaintext := `[["p","abc123","","alice"]]`
	ciphertext, err := selfEncrypt(t.Context(), &kr, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := selfDecrypt(t.Context(), &kr, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSelfDecryptWrongKey(t *testing.T) {
	ours := keyer.NewPlainKeySigner(testKeys(t).SK)
	theirs := keyer.NewPlainKeySigner(testKeys(t).SK)

	ciphertext, err := selfEncrypt(t.Context(), &ours, "[]")
	require.NoError(t, err)
	_, err = selfDecrypt(t.Context(), &theirs, ciphertext)
	assert.Error(t, err)
}

func TestContactsListRoundtrip(t *testing.T) {
	ctx := t.Context()
	keys := testKeys(t)
	kr := keyer.NewPlainKeySigner(keys.SK)
	alice, bob := testPubKey(t), testPubKey(t)

	evt, err := buildContactsListEvent(ctx, []Contact{
		{PubKey: alice, Name: "alice"},
		{PubKey: bob, Name: ""},
	}, keys, &kr)
	require.NoError(t, err)
	assert.Equal(t, nostr.KindCategorizedPeopleList, evt.Kind)
	assert.True(t, hasTag(evt, "d", contactsListTag))
	assert.NotContains(t, evt.Content, alice.Hex(), "content is encrypted")

	got, err := parseContactsListEvent(ctx, &evt, &kr)
	require.NoError(t, err)
	assert.Equal(t, []Contact{
		{PubKey: alice, Name: "alice"},
		{PubKey: bob, Name: shortPK(bob.Hex())},
	}, got)
}

func TestParseContactsListEmpty(t *testing.T) {
	keys := testKeys(t)
	kr := keyer.NewPlainKeySigner(keys.SK)
	got, err := parseContactsListEvent(t.Context(), &nostr.Event{}, &kr)
	require.NoError(t, err)
	assert.Nil(t, got)
}
