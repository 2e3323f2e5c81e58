package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInviteDMRoundTrip(t *testing.T) {
	text := formatInviteDM("club", "wss://groups.example.com", "abc123")
	assert.Equal(t, "You've been invited to ~club\n\ngroups.example.com'abc123", text)

	cookie, ok := parseInviteDM(text)
	assert.True(t, ok)
	assert.Equal(t, "groups.example.com'abc123", cookie)
}

func TestParseInviteDM(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantCookie string
		wantOK     bool
	}{
		{"plain command", "help", "", false},
		{"address without prefix", "groups.example.com'abc123", "", false},
		{"prefix without address", "You've been invited to ~club", "", false},
		{
			name:       "nostr uri and padding",
			text:       "  You've been invited to ~club\n\n nostr:groups.example.com'abc123 \n",
			wantCookie: "groups.example.com'abc123",
			wantOK:     true,
		},
		{
			name:       "first valid address wins",
			text:       "You've been invited to ~club\nsome words\ngroups.example.com'one\ngroups.example.com'two",
			wantCookie: "groups.example.com'one",
			wantOK:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cookie, ok := parseInviteDM(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCookie, cookie)
		})
	}
}
