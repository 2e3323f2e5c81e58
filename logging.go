package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"fiatjaf.com/nostr"
)

// Archive appends group messages to per-group files for the operator. It is
// write-only: nothing in the bot reads it back.
type Archive struct {
	dir    string
	logger *slog.Logger
}

// newArchive returns an archive writing below dir. An empty dir disables it.
func newArchive(dir string, logger *slog.Logger) *Archive {
	return &Archive{dir: dir, logger: logger}
}

// escapeContent escapes newlines and backslashes for single-line storage.
// Backslash is escaped first to avoid double-escaping.
func escapeContent(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// archivePath returns the archive file of a group, with the name sanitized
// for filesystem safety.
func archivePath(dir, group string) string {
	safe := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"\t", "_",
		":", "_",
		" ", "_",
		"..", "_",
	).Replace(group)
	return filepath.Join(dir, "group_"+safe+".log")
}

// Append writes one tab-separated line: time, author pubkey, author name, text.
func (a *Archive) Append(group string, author nostr.PubKey, msg Message) {
	if a == nil || a.dir == "" {
		return
	}
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		a.logger.Warn("failed to create archive dir", "dir", a.dir, "err", err)
		return
	}

	path := archivePath(a.dir, group)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		a.logger.Warn("failed to open archive", "path", path, "err", err)
		return
	}
	defer f.Close()

	ts := msg.Time.UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("%s\t%s\t%s\t%s\n", ts, author.Hex(), escapeContent(msg.Author), escapeContent(msg.Text))
	if _, err := f.WriteString(line); err != nil {
		a.logger.Warn("failed to write archive", "path", path, "err", err)
	}
}
