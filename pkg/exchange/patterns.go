// Package exchange implements message exchange patterns for RMC channels.
package exchange

import (
	"fmt"
)

// Pattern represents a message exchange pattern.
type Pattern string

const (
	// OneWay is a fire-and-forget exchange: no acknowledgment expected
	OneWay Pattern = "one-way"

	// RequestReply is a two-way exchange: every sent message expects an
	// acknowledgment carrying the remote handler's response
	RequestReply Pattern = "request-reply"
)

// Default is the pattern assumed when a channel does not specify one.
const Default = RequestReply

// Valid reports whether p is a known pattern.
func (p Pattern) Valid() bool {
	switch p {
	case OneWay, RequestReply:
		return true
	}
	return false
}

// ExpectsAcknowledgment reports whether messages sent on a channel with
// this pattern should be closed out by an acknowledgment. Only such
// messages are candidates for redispatch and timeout supervision.
func (p Pattern) ExpectsAcknowledgment() bool {
	return p == RequestReply
}

// Parse converts a configuration string into a Pattern. An empty string
// yields the default pattern.
func Parse(s string) (Pattern, error) {
	if s == "" {
		return Default, nil
	}
	p := Pattern(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown exchange pattern %q", s)
	}
	return p, nil
}
