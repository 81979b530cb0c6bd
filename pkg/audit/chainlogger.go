package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// GenesisHash is the previous-hash value of the first entry in a chain.
var GenesisHash = strings.Repeat("0", 64)

// ChainHash returns hex(sha256(prev|field1|field2|...)).
func ChainHash(prev string, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(prev))
	for _, f := range fields {
		h.Write([]byte{'|'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LogEntry represents a single audit log entry
type LogEntry struct {
	Seq          uint64 `json:"seq"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Sink receives every entry after it is chained.
type Sink func(*LogEntry)

// ChainLogger provides a tamper-evident log using hash chaining.
type ChainLogger struct {
	mu           sync.Mutex
	seq          uint64
	previousHash string
	now          func() time.Time
	sink         Sink
}

type Option func(*ChainLogger)

// WithSink forwards each appended entry to s.
func WithSink(s Sink) Option {
	return func(c *ChainLogger) { c.sink = s }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *ChainLogger) { c.now = now }
}

// NewChainLogger creates a ChainLogger starting at GenesisHash.
func NewChainLogger(opts ...Option) *ChainLogger {
	c := &ChainLogger{
		previousHash: GenesisHash,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append adds a new log entry to the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	c.seq++
	entry := &LogEntry{
		Seq:          c.seq,
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = ChainHash(entry.PreviousHash, entry.Timestamp, entry.Payload)
	c.previousHash = entry.Hash
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		sink(entry)
	}
	return entry
}

// Head returns the hash of the most recent entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

var ErrTampered = errors.New("audit chain tampered")

// VerifyChain checks that entries are consecutive, linked and unmodified.
// The first entry may start anywhere in a longer chain.
func VerifyChain(entries []*LogEntry) error {
	for i, entry := range entries {
		if i > 0 {
			prev := entries[i-1]
			if entry.Seq != prev.Seq+1 {
				return fmt.Errorf("%w: seq %d follows %d", ErrTampered, entry.Seq, prev.Seq)
			}
			if entry.PreviousHash != prev.Hash {
				return fmt.Errorf("%w: seq %d does not link to seq %d", ErrTampered, entry.Seq, prev.Seq)
			}
		}
		if ChainHash(entry.PreviousHash, entry.Timestamp, entry.Payload) != entry.Hash {
			return fmt.Errorf("%w: seq %d hash mismatch", ErrTampered, entry.Seq)
		}
	}
	return nil
}
