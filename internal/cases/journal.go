package cases

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/example/modconsole/pkg/audit"
)

// Action names what a journal entry recorded.
type Action string

const (
	ActionOpen       Action = "open"
	ActionTransition Action = "transition"
	ActionAssign     Action = "assign"
)

// TransitionEntry is one immutable journal line. Entries of a case form a
// hash chain: Hash covers every field and PrevHash links to the previous
// entry (audit.GenesisHash for the first).
type TransitionEntry struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"case_id"`
	Kind       Kind      `json:"kind"`
	Action     Action    `json:"action"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorID    string    `json:"actor_id"`
	ActorRole  Role      `json:"actor_role"`
	Reason     string    `json:"reason,omitempty"`
	Assignee   string    `json:"assignee,omitempty"`
	Payload    Payload   `json:"payload,omitempty"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// NewEntry describes the change from before to after. For ActionOpen
// before is the zero Record.
func NewEntry(action Action, before, after Record, actor Actor, payload Payload) TransitionEntry {
	reason := payload.String("reason")
	if reason == "" && after.Kind.IsEvidence() {
		reason = payload.String("notes")
	}
	return TransitionEntry{
		ID:         uuid.New().String(),
		CaseID:     after.ID,
		Kind:       after.Kind,
		Action:     action,
		FromStatus: before.Status,
		ToStatus:   after.Status,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Reason:     reason,
		Assignee:   after.AssignedTo,
		Payload:    plainPayload(payload),
		Version:    after.Version,
		CreatedAt:  after.UpdatedAt,
	}
}

// plainPayload round-trips p through JSON so the stored form hashes the same
// after a database read.
func plainPayload(p Payload) Payload {
	if len(p) == 0 {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return p.Clone()
	}
	var out Payload
	if err := json.Unmarshal(b, &out); err != nil {
		return p.Clone()
	}
	return out
}

// Seal links e to prevHash and computes its hash. An empty prevHash starts
// a new chain.
func (e TransitionEntry) Seal(prevHash string) (TransitionEntry, error) {
	if prevHash == "" {
		prevHash = audit.GenesisHash
	}
	e.PrevHash = prevHash
	h, err := e.computeHash()
	if err != nil {
		return TransitionEntry{}, err
	}
	e.Hash = h
	return e, nil
}

func (e TransitionEntry) computeHash() (string, error) {
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return "", fmt.Errorf("marshal entry payload: %w", err)
		}
		// RFC 8785 form: key order and number spelling do not depend on
		// which store the entry was read back from.
		payload, err = jcs.Transform(b)
		if err != nil {
			return "", fmt.Errorf("canonicalize entry payload: %w", err)
		}
	}
	return audit.ChainHash(e.PrevHash,
		e.ID,
		e.CaseID,
		string(e.Kind),
		string(e.Action),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorID,
		string(e.ActorRole),
		e.Reason,
		e.Assignee,
		string(payload),
		strconv.FormatInt(e.Version, 10),
		strconv.FormatInt(e.CreatedAt.UnixMicro(), 10),
	), nil
}

// VerifyChain checks that entries, oldest first, form an unbroken chain.
func VerifyChain(entries []TransitionEntry) error {
	prev := audit.GenesisHash
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d (%s) links to %s, want %s", ErrChainBroken, i, e.ID, e.PrevHash, prev)
		}
		want, err := e.computeHash()
		if err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("%w: entry %d (%s) hash mismatch", ErrChainBroken, i, e.ID)
		}
		prev = e.Hash
	}
	return nil
}
