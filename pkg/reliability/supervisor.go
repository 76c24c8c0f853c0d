package reliability

import (
	"sync"
	"time"

	"github.com/relaymesh/go-rmc/pkg/transport"
)

// Policy controls how often and how long a packet is redispatched.
type Policy struct {
	// MaxAttempts is the total number of dispatch attempts, first try
	// included.
	MaxAttempts int

	// Interval is the delay before the first redispatch.
	Interval time.Duration

	// Multiplier scales the delay after every further attempt.
	Multiplier float64
}

// DefaultPolicy returns the retry policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Interval:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// Entry is one supervised packet.
type Entry struct {
	Packet        transport.Packet
	SubmittedAt   time.Time
	LastAttemptAt time.Time
	AttemptCount  int
	Errors        []string
}

// Supervisor tracks dispatched packets until they are acknowledged or
// exhaust their attempts. All methods are safe for concurrent use.
type Supervisor struct {
	mu      sync.RWMutex
	policy  Policy
	entries map[string]*Entry
}

// NewSupervisor creates a supervisor with the given policy.
func NewSupervisor(policy Policy) *Supervisor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultPolicy().Interval
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = DefaultPolicy().Multiplier
	}
	return &Supervisor{
		policy:  policy,
		entries: make(map[string]*Entry),
	}
}

// Track starts supervising a packet. Tracking the same message id again
// is a no-op; the original entry keeps its attempt history.
func (s *Supervisor) Track(pkt transport.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[pkt.MessageID]; exists {
		return
	}
	s.entries[pkt.MessageID] = &Entry{
		Packet:      pkt,
		SubmittedAt: time.Now(),
	}
}

// RecordAttempt notes one dispatch attempt and its outcome.
func (s *Supervisor) RecordAttempt(messageID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[messageID]
	if !exists {
		return
	}
	entry.AttemptCount++
	entry.LastAttemptAt = time.Now()
	if err != nil {
		entry.Errors = append(entry.Errors, err.Error())
	}
}

// RecordAck stops supervising a message that was acknowledged.
func (s *Supervisor) RecordAck(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, messageID)
}

// delay returns the backoff before attempt n+1 (n = attempts so far).
func (s *Supervisor) delay(attempts int) time.Duration {
	d := s.policy.Interval
	for i := 1; i < attempts; i++ {
		d = time.Duration(float64(d) * s.policy.Multiplier)
	}
	return d
}

// Due returns the packets whose next dispatch attempt is due at the
// given time: attempts remain and the backoff since the last attempt has
// elapsed. Packets never attempted are always due.
func (s *Supervisor) Due(now time.Time) []transport.Packet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []transport.Packet
	for _, entry := range s.entries {
		if entry.AttemptCount >= s.policy.MaxAttempts {
			continue
		}
		if entry.AttemptCount == 0 || now.Sub(entry.LastAttemptAt) >= s.delay(entry.AttemptCount) {
			due = append(due, entry.Packet)
		}
	}
	return due
}

// Exhausted returns and stops supervising the messages that used up all
// attempts without an acknowledgment. The caller signals their timeout
// to the engine.
func (s *Supervisor) Exhausted() []transport.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []transport.Packet
	for id, entry := range s.entries {
		if entry.AttemptCount >= s.policy.MaxAttempts {
			out = append(out, entry.Packet)
			delete(s.entries, id)
		}
	}
	return out
}

// Get returns the supervised entry for a message id.
func (s *Supervisor) Get(messageID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[messageID]
	if !exists {
		return nil, false
	}
	clone := *entry
	clone.Errors = append([]string(nil), entry.Errors...)
	return &clone, true
}

// Len returns the number of supervised packets.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
