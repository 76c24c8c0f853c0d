// Package identity implements deterministic message identity derivation.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Direction indicates which side of a channel a message belongs to.
type Direction string

const (
	// Outbound for messages sent by the local party
	Outbound Direction = "OUTBOUND"
	// Inbound for messages received from the remote party
	Inbound Direction = "INBOUND"
)

// MessageID is a 32-byte content-derived message identifier.
type MessageID [32]byte

// String returns the lowercase hex rendering of the id.
func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the id is the zero value.
func (id MessageID) IsZero() bool {
	return id == MessageID{}
}

// ParseMessageID parses a 64-character hex string into a MessageID.
func ParseMessageID(s string) (MessageID, error) {
	var id MessageID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parsing message id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("parsing message id: expected %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// Derive computes the message id for the given channel, sequence, payload,
// and direction. The derivation is a pure function: identical inputs always
// produce identical ids, and no observer-dependent field (timestamps,
// sender address, randomness) participates.
//
// Each variable-length field is length-prefixed before hashing so that no
// two distinct input tuples can produce the same byte stream.
func Derive(channelID string, sequence uint64, payload []byte, direction Direction) MessageID {
	h := sha256.New()

	var scratch [8]byte
	writeField := func(b []byte) {
		binary.BigEndian.PutUint64(scratch[:], uint64(len(b)))
		h.Write(scratch[:])
		h.Write(b)
	}

	writeField([]byte(channelID))

	binary.BigEndian.PutUint64(scratch[:], sequence)
	h.Write(scratch[:])

	writeField(payload)
	writeField([]byte(direction))

	var id MessageID
	h.Sum(id[:0])
	return id
}
