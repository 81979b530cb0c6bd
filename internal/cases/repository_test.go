package cases

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// RepositorySuite runs the Repository contract against one implementation.
type RepositorySuite struct {
	suite.Suite
	newRepo func(t *testing.T) Repository
	repo    Repository
	sm      *StateMachine
	ctx     context.Context
}

func (s *RepositorySuite) SetupTest() {
	s.repo = s.newRepo(s.T())
	s.sm = newTestMachine()
	s.ctx = context.Background()
}

func (s *RepositorySuite) open(id string, kind Kind) Record {
	rec, err := s.sm.Open(id, kind, PriorityHigh, Payload{"title": "2014 Audi A4", "mileage": 81000.0}, admin)
	s.Require().NoError(err)
	saved, err := s.repo.Save(s.ctx, rec, NewEntry(ActionOpen, Record{}, rec, admin, nil))
	s.Require().NoError(err)
	return saved
}

func (s *RepositorySuite) step(rec Record, to Status, actor Actor, payload Payload) Record {
	next, err := s.sm.Transition(rec, to, actor, payload)
	s.Require().NoError(err)
	saved, err := s.repo.Save(s.ctx, next, NewEntry(ActionTransition, rec, next, actor, payload))
	s.Require().NoError(err)
	return saved
}

func (s *RepositorySuite) assertSameRecord(want, got Record) {
	s.Equal(want.ID, got.ID)
	s.Equal(want.Kind, got.Kind)
	s.Equal(want.Status, got.Status)
	s.Equal(want.Priority, got.Priority)
	s.Equal(want.AssignedTo, got.AssignedTo)
	s.Equal(want.Version, got.Version)
	s.Equal(want.UpdatedBy, got.UpdatedBy)
	s.True(want.CreatedAt.Equal(got.CreatedAt), "created_at %s != %s", want.CreatedAt, got.CreatedAt)
	s.True(want.UpdatedAt.Equal(got.UpdatedAt), "updated_at %s != %s", want.UpdatedAt, got.UpdatedAt)
	s.Equal(want.Payload, got.Payload)
	if want.Resolution == nil {
		s.Nil(got.Resolution)
		return
	}
	s.Require().NotNil(got.Resolution)
	s.Equal(want.Resolution.Outcome, got.Resolution.Outcome)
	s.Equal(want.Resolution.Decision, got.Resolution.Decision)
	s.Equal(want.Resolution.Reason, got.Resolution.Reason)
	s.Equal(want.Resolution.RefundAmount, got.Resolution.RefundAmount)
	s.Equal(want.Resolution.ResolvedBy, got.Resolution.ResolvedBy)
	s.True(want.Resolution.ResolvedAt.Equal(got.Resolution.ResolvedAt))
}

func (s *RepositorySuite) TestSaveAndGet() {
	saved := s.open("lst-1", KindListing)

	got, err := s.repo.Get(s.ctx, "lst-1")
	s.Require().NoError(err)
	s.assertSameRecord(saved, got)

	_, err = s.repo.Get(s.ctx, "missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *RepositorySuite) TestResolutionRoundTrip() {
	rec := s.open("dsp-1", KindDispute)
	rec = s.step(rec, StatusInvestigating, moderator, nil)
	rec = s.step(rec, StatusResolved, moderator, Payload{
		"decision":     "Refund approved",
		"refundAmount": 500.0,
		"context":      map[string]any{"transactionAmount": 1200.0},
	})

	got, err := s.repo.Get(s.ctx, "dsp-1")
	s.Require().NoError(err)
	s.assertSameRecord(rec, got)
	s.Require().NotNil(got.Resolution.RefundAmount)
	s.Equal(500.0, *got.Resolution.RefundAmount)
}

func (s *RepositorySuite) TestVersionConflicts() {
	rec := s.open("kyc-1", KindKYC)

	dup, err := s.sm.Open("kyc-1", KindKYC, PriorityLow, nil, admin)
	s.Require().NoError(err)
	_, err = s.repo.Save(s.ctx, dup, NewEntry(ActionOpen, Record{}, dup, admin, nil))
	s.ErrorIs(err, ErrConcurrentModification, "second create")

	first, err := s.sm.Transition(rec, StatusNeedsReview, moderator, nil)
	s.Require().NoError(err)
	second, err := s.sm.Transition(rec, StatusApproved, moderator, nil)
	s.Require().NoError(err)

	_, err = s.repo.Save(s.ctx, first, NewEntry(ActionTransition, rec, first, moderator, nil))
	s.Require().NoError(err)
	_, err = s.repo.Save(s.ctx, second, NewEntry(ActionTransition, rec, second, moderator, nil))
	s.ErrorIs(err, ErrConcurrentModification, "stale write")

	got, err := s.repo.Get(s.ctx, "kyc-1")
	s.Require().NoError(err)
	s.Equal(StatusNeedsReview, got.Status)

	ghost := record(KindKYC, StatusApproved)
	ghost.ID = "ghost"
	_, err = s.repo.Save(s.ctx, ghost, NewEntry(ActionTransition, ghost, ghost, moderator, nil))
	s.ErrorIs(err, ErrNotFound)
}

func (s *RepositorySuite) TestConcurrentOpenSameID() {
	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.sm.Open("race-1", KindDispute, PriorityLow, Payload{"orderId": "O-9"}, admin)
			if err != nil {
				return
			}
			_, err = s.repo.Save(s.ctx, rec, NewEntry(ActionOpen, Record{}, rec, admin, nil))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrConcurrentModification):
				conflicts++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, created)
	s.Equal(racers-1, conflicts)

	history, err := s.repo.History(s.ctx, "race-1")
	s.Require().NoError(err)
	s.Len(history, 1, "losers must not append to the winner's journal")
	s.NoError(VerifyChain(history))
}

func (s *RepositorySuite) TestHistoryChain() {
	rec := s.open("rev-1", KindReview)
	rec = s.step(rec, StatusFlagged, moderator, nil)
	s.step(rec, StatusRemoved, moderator, Payload{"reason": "contains phone number"})
	s.open("rev-2", KindReview)

	history, err := s.repo.History(s.ctx, "rev-1")
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	s.Equal([]Status{StatusPending, StatusFlagged, StatusRemoved},
		[]Status{history[0].ToStatus, history[1].ToStatus, history[2].ToStatus})
	s.Equal("contains phone number", history[2].Reason)
	s.Equal(int64(3), history[2].Version)
	s.NoError(VerifyChain(history))

	other, err := s.repo.History(s.ctx, "rev-2")
	s.Require().NoError(err)
	s.Len(other, 1)
	s.NoError(VerifyChain(other))

	empty, err := s.repo.History(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *RepositorySuite) TestList() {
	a := s.open("c-a", KindListing)
	s.open("c-b", KindReview)
	c := s.open("c-c", KindListing)
	s.step(a, StatusActive, moderator, nil)

	assigned, err := s.sm.Assign(c, "mod-3", moderator)
	s.Require().NoError(err)
	_, err = s.repo.Save(s.ctx, assigned, NewEntry(ActionAssign, c, assigned, moderator, nil))
	s.Require().NoError(err)

	all, err := s.repo.List(s.ctx, ListFilter{})
	s.Require().NoError(err)
	s.Equal([]string{"c-a", "c-b", "c-c"}, recordIDs(all))

	listings, err := s.repo.List(s.ctx, ListFilter{Kind: KindListing})
	s.Require().NoError(err)
	s.Equal([]string{"c-a", "c-c"}, recordIDs(listings))

	pending, err := s.repo.List(s.ctx, ListFilter{Kind: KindListing, Statuses: []Status{StatusPending}})
	s.Require().NoError(err)
	s.Equal([]string{"c-c"}, recordIDs(pending))

	mine, err := s.repo.List(s.ctx, ListFilter{AssignedTo: "mod-3"})
	s.Require().NoError(err)
	s.Equal([]string{"c-c"}, recordIDs(mine))

	limited, err := s.repo.List(s.ctx, ListFilter{Limit: 2})
	s.Require().NoError(err)
	s.Equal([]string{"c-a", "c-b"}, recordIDs(limited))
}

func recordIDs(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestMemoryRepository(t *testing.T) {
	suite.Run(t, &RepositorySuite{newRepo: func(*testing.T) Repository { return NewMemoryRepository() }})
}

func setupSQLiteRepository(t *testing.T) Repository {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewSQLRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func TestSQLRepository(t *testing.T) {
	suite.Run(t, &RepositorySuite{newRepo: setupSQLiteRepository})
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	sm := newTestMachine()
	rec, err := sm.Open("c-1", KindKYC, PriorityLow, Payload{"name": "A"}, admin)
	require.NoError(t, err)
	_, err = repo.Save(context.Background(), rec, NewEntry(ActionOpen, Record{}, rec, admin, nil))
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), "c-1")
	require.NoError(t, err)
	got.Payload["name"] = "B"

	again, err := repo.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "A", again.Payload["name"])
}

func TestMemoryRepository_NestedPayloadIsNotShared(t *testing.T) {
	repo := NewMemoryRepository()
	sm := newTestMachine()
	payload := Payload{
		"context":   map[string]any{"transactionAmount": 1200.0},
		"documents": []any{map[string]any{"type": "passport"}},
	}
	rec, err := sm.Open("d-1", KindDispute, PriorityLow, payload, admin)
	require.NoError(t, err)
	saved, err := repo.Save(context.Background(), rec, NewEntry(ActionOpen, Record{}, rec, admin, nil))
	require.NoError(t, err)

	saved.Payload["context"].(map[string]any)["transactionAmount"] = 1.0
	rec.Payload["documents"].([]any)[0].(map[string]any)["type"] = "forged"
	payload["context"].(map[string]any)["transactionAmount"] = 2.0

	got, err := repo.Get(context.Background(), "d-1")
	require.NoError(t, err)
	assert.Equal(t, 1200.0, got.Payload["context"].(map[string]any)["transactionAmount"])
	assert.Equal(t, "passport", got.Payload["documents"].([]any)[0].(map[string]any)["type"])

	got.Payload["context"].(map[string]any)["transactionAmount"] = 3.0
	again, err := repo.Get(context.Background(), "d-1")
	require.NoError(t, err)
	assert.Equal(t, 1200.0, again.Payload["context"].(map[string]any)["transactionAmount"])
}

func TestMemoryRepository_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := NewMemoryRepository().Get(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
