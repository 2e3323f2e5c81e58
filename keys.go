package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fiatjaf.com/nostr"
	"fiatjaf.com/nostr/nip19"
)

// Keys holds the bot's nostr key pair.
type Keys struct {
	SK   nostr.SecretKey
	PK   nostr.PubKey
	NPub string
}

func keysFromSecret(sk nostr.SecretKey) Keys {
	pk := nostr.GetPublicKey(sk)
	return Keys{SK: sk, PK: pk, NPub: nip19.EncodeNpub(pk)}
}

// parseSecretKey accepts an nsec or a 64-char hex secret key.
func parseSecretKey(raw string) (nostr.SecretKey, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "nsec") {
		prefix, val, err := nip19.Decode(raw)
		if err != nil {
			return nostr.SecretKey{}, fmt.Errorf("failed to decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return nostr.SecretKey{}, fmt.Errorf("expected nsec prefix, got %s", prefix)
		}
		switch sk := val.(type) {
		case nostr.SecretKey:
			return sk, nil
		case [32]byte:
			return nostr.SecretKey(sk), nil
		default:
			return nostr.SecretKey{}, fmt.Errorf("nsec decoded to %T", val)
		}
	}
	sk, err := nostr.SecretKeyFromHex(raw)
	if err != nil {
		return nostr.SecretKey{}, fmt.Errorf("invalid secret key: %w", err)
	}
	return sk, nil
}

// loadOrCreateKeys reads the profile file at path. When the file does not
// exist a fresh key is generated and saved there, so the bot keeps its
// address across restarts.
func loadOrCreateKeys(path string) (Keys, bool, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		sk, err := parseSecretKey(string(data))
		if err != nil {
			return Keys{}, false, fmt.Errorf("profile %s: %w", path, err)
		}
		return keysFromSecret(sk), false, nil
	}
	if !os.IsNotExist(err) {
		return Keys{}, false, fmt.Errorf("profile %s: %w", path, err)
	}

	sk := nostr.Generate()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return Keys{}, false, fmt.Errorf("profile %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, []byte(nip19.EncodeNsec(sk)+"\n"), 0600); err != nil {
		return Keys{}, false, fmt.Errorf("profile %s: %w", path, err)
	}
	return keysFromSecret(sk), true, nil
}
