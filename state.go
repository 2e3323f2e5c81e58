package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"fiatjaf.com/nostr"
	"github.com/BurntSushi/toml"
)

// savedState is the on-disk layout of the state file. Only autoinvite
// subscriptions survive a restart.
type savedState struct {
	Autoinvite map[string][]string `toml:"autoinvite"`
}

func encodeState(subs map[nostr.PubKey][]string) ([]byte, error) {
	st := savedState{Autoinvite: make(map[string][]string, len(subs))}
	for id, names := range subs {
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		st.Autoinvite[id.Hex()] = sorted
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return nil, fmt.Errorf("state: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeState parses a state file. Entries with an invalid pubkey are
// skipped and logged.
func decodeState(data []byte, logger *slog.Logger) (map[nostr.PubKey][]string, error) {
	var st savedState
	if err := toml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: decode: %w", err)
	}
	out := make(map[nostr.PubKey][]string, len(st.Autoinvite))
	for hex, names := range st.Autoinvite {
		pk, err := nostr.PubKeyFromHex(hex)
		if err != nil {
			logger.Warn("state: skipping invalid pubkey", "pubkey", hex, "err", err)
			continue
		}
		out[pk] = names
	}
	return out, nil
}

// LoadState reads the state file at path. A missing file is an empty state.
func LoadState(path string, logger *slog.Logger) (map[nostr.PubKey][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[nostr.PubKey][]string{}, nil
		}
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}
	return decodeState(data, logger)
}

// SaveState writes the state atomically: temp file, fsync, rename.
func SaveState(path string, subs map[nostr.PubKey][]string) error {
	data, err := encodeState(subs)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("state: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("state: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}
