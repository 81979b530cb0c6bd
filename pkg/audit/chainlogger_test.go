package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainLogger(t *testing.T) {
	logger := NewChainLogger()

	e1 := logger.Append("case=c1 action=transition to=approved")
	e2 := logger.Append("case=c2 action=assign assignee=mod-7")
	e3 := logger.Append("case=c1 action=history")

	chain := []*LogEntry{e1, e2, e3}
	require.NoError(t, VerifyChain(chain))
	assert.Equal(t, GenesisHash, e1.PreviousHash)
	assert.Equal(t, e3.Hash, logger.Head())
	assert.Equal(t, uint64(3), e3.Seq)

	originalPayload := e2.Payload
	e2.Payload = "case=c2 action=assign assignee=attacker"
	assert.ErrorIs(t, VerifyChain(chain), ErrTampered, "tampered payload")

	e2.Payload = originalPayload
	originalHash := e2.Hash
	e2.Hash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.ErrorIs(t, VerifyChain(chain), ErrTampered, "tampered hash")

	e2.Hash = originalHash
	e3.PreviousHash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.ErrorIs(t, VerifyChain(chain), ErrTampered, "broken link")

	assert.ErrorIs(t, VerifyChain([]*LogEntry{e1, e3}), ErrTampered, "gap")
	assert.NoError(t, VerifyChain([]*LogEntry{e2}), "suffix")
}

func TestChainLogger_SinkAndClock(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	var got []*LogEntry
	logger := NewChainLogger(
		WithClock(func() time.Time { return fixed }),
		WithSink(func(e *LogEntry) { got = append(got, e) }),
	)

	e := logger.Append("payload")
	require.Len(t, got, 1)
	assert.Same(t, e, got[0])
	assert.Equal(t, fixed.Format(time.RFC3339Nano), e.Timestamp)
	assert.Equal(t, ChainHash(GenesisHash, e.Timestamp, "payload"), e.Hash)
}

func TestChainHash_FieldBoundaries(t *testing.T) {
	assert.NotEqual(t, ChainHash("p", "ab", "c"), ChainHash("p", "a", "bc"))
	assert.Len(t, ChainHash("", "x"), 64)
}
