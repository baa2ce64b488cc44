package ipc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// NewChannelName generates a channel name for a module.
// Format: {module}-{random suffix}
// Example: "echo" → "echo-9f3c1a0b"
func NewChannelName(module string) string {
	return normalizeName(module) + "-" + randomHex(8)
}

// newPeerID generates a peer identity from the module the sub-process hosts.
func newPeerID(module string) string {
	return normalizeName(module) + "-" + randomHex(4)
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "-"))
	if s == "" {
		return "plugin"
	}
	return s
}

// randomHex generates a cryptographically secure random hex string.
func randomHex(length int) string {
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return hex.EncodeToString(b)[:length]
}
