package gophxchannels

import (
	"strings"

	"github.com/google/uuid"
)

// HeartbeatPrefix tags refs of internally generated heartbeat pushes so they
// are distinguishable from user pushes in the pending table.
const HeartbeatPrefix = "hb:"

// RefGenerator produces unique correlation refs. Refs are never reused; no
// two live pushes in the pending table share a ref.
type RefGenerator struct{}

// NewRefGenerator creates a new ref generator
func NewRefGenerator() *RefGenerator {
	return &RefGenerator{}
}

// Ref returns a fresh unique ref.
func (g *RefGenerator) Ref() string {
	return uuid.NewString()
}

// PrefixedRef returns a fresh unique ref tagged with a classification prefix.
func (g *RefGenerator) PrefixedRef(prefix string) string {
	return prefix + uuid.NewString()
}

// IsHeartbeatRef reports whether ref belongs to an internally generated
// heartbeat push.
func IsHeartbeatRef(ref string) bool {
	return strings.HasPrefix(ref, HeartbeatPrefix)
}
