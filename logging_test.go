package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeContent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "hello world", "hello world"},
		{"with newline", "hello\nworld", `hello\nworld`},
		{"with literal backslash-n", `hello\nworld`, `hello\\nworld`},
		{"with backslash", `path\to`, `path\\to`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := escapeContent(tt.input)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "\n")
		})
	}
}

func TestArchivePath(t *testing.T) {
	assert.Equal(t, "/tmp/logs/group_default.log", archivePath("/tmp/logs", "default"))

	got := archivePath("/tmp/logs", "../etc/passwd")
	assert.Equal(t, "/tmp/logs", filepath.Dir(got), "name cannot escape the archive dir")
}

func TestArchiveAppend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	a := newArchive(dir, discardLogger())
	bob := testPubKey(t)
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	a.Append("default", bob, Message{Author: "bob", Time: ts, Text: "hello"})
	a.Append("default", bob, Message{Author: "bob", Time: ts.Add(time.Second), Text: "two\nlines"})

	data, err := os.ReadFile(archivePath(dir, "default"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-01-15 10:30:00\t"+bob.Hex()+"\tbob\thello", lines[0])
	assert.Equal(t, "2024-01-15 10:30:01\t"+bob.Hex()+"\tbob\ttwo\\nlines", lines[1])
}

func TestArchiveDisabled(t *testing.T) {
	dir := t.TempDir()
	a := newArchive("", discardLogger())
	a.Append("default", testPubKey(t), Message{Text: "x"})

	var nilArchive *Archive
	nilArchive.Append("default", testPubKey(t), Message{Text: "x"})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBotArchivesGroupMessages(t *testing.T) {
	dir := t.TempDir()
	tr := newFakeTransport()
	cfg := defaultConfig()
	cfg.ArchiveDir = dir
	b := newBot(cfg, tr, discardLogger(), newFakeClock().Now)
	b.Init(t.Context())

	dflt, err := b.groups.Lookup(defaultGroupName)
	require.NoError(t, err)
	bob := testPubKey(t)
	tr.peerNames[bob] = "bob"
	b.handle(t.Context(), groupMessageEvent{Handle: dflt.Handle, From: bob, Text: "\x1b[1mhi\x1b[0m"})
	b.handle(t.Context(), groupMessageEvent{Handle: "unknown", From: bob, Text: "lost"})

	data, err := os.ReadFile(archivePath(dir, "default"))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 12:00:00\t"+bob.Hex()+"\tbob\thi\n", string(data))
}
