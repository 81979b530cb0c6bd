package cases

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []CaseEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev CaseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func newTestService(pub EventPublisher) (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, newTestMachine(), pub, logger), repo
}

func TestService_DeliveryEvidenceApprovalPublishesEvent(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(pub)
	ctx := context.Background()

	rec, err := svc.Open(ctx, OpenRequest{ID: "dev-1", Kind: KindDeliveryEvidence, Payload: Payload{"orderId": "O-1"}}, admin)
	require.NoError(t, err)

	approved, err := svc.Transition(ctx, TransitionRequest{CaseID: rec.ID, Target: StatusApproved, Actor: moderator, ExpectedVersion: rec.Version})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	require.Len(t, pub.events, 2)
	ev := pub.events[1]
	assert.Equal(t, ActionTransition, ev.Action)
	assert.Equal(t, KindDeliveryEvidence, ev.Kind)
	assert.Equal(t, StatusPending, ev.From)
	assert.Equal(t, StatusApproved, ev.To)
	assert.Equal(t, moderator.ID, ev.ActorID)
	assert.Equal(t, approved.Version, ev.Version)

	history, err := svc.History(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, history[0].ID, pub.events[0].ID)
	assert.Equal(t, history[1].ID, ev.ID)
}

func TestService_PublishFailureDoesNotUndoTransition(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats: no responders available for request")}
	svc, repo := newTestService(pub)
	ctx := context.Background()

	rec, err := svc.Open(ctx, OpenRequest{ID: "kyc-1", Kind: KindKYC}, admin)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, TransitionRequest{CaseID: rec.ID, Target: StatusApproved, Actor: moderator})
	require.NoError(t, err)

	stored, err := repo.Get(ctx, "kyc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
}

func TestService_ExpectedVersionMismatch(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	rec, err := svc.Open(ctx, OpenRequest{ID: "fa-1", Kind: KindFraudAlert, Priority: PriorityUrgent}, admin)
	require.NoError(t, err)

	_, err = svc.Transition(ctx, TransitionRequest{CaseID: rec.ID, Target: StatusInvestigating, Actor: moderator, ExpectedVersion: rec.Version + 4})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	_, err = svc.Assign(ctx, rec.ID, "mod-2", moderator, rec.Version+1)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
	assert.Equal(t, rec.Version, got.Version)
}

func TestService_RejectedTransitionIsNotStored(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(pub)
	ctx := context.Background()

	rec, err := svc.Open(ctx, OpenRequest{ID: "dsp-1", Kind: KindDispute}, admin)
	require.NoError(t, err)
	rec, err = svc.Transition(ctx, TransitionRequest{CaseID: rec.ID, Target: StatusInvestigating, Actor: moderator})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, TransitionRequest{CaseID: rec.ID, Target: StatusEscalated, Actor: moderator, Payload: Payload{"reason": "needs panel"}})
	require.ErrorIs(t, err, ErrUnauthorized)

	history, err := svc.History(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Len(t, pub.events, 2)
}

func TestService_FullDisputeLifecycle(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	rec, err := svc.Open(ctx, OpenRequest{Kind: KindDispute, Payload: Payload{"buyer": "b-1", "seller": "s-9"}}, admin)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	rec, err = svc.Assign(ctx, rec.ID, "mod-1", moderator, 0)
	require.NoError(t, err)
	rec, err = svc.Transition(ctx, TransitionRequest{CaseID: rec.ID, Target: StatusInvestigating, Actor: moderator})
	require.NoError(t, err)
	rec, err = svc.Transition(ctx, TransitionRequest{CaseID: rec.ID, Target: StatusEscalated, Actor: admin, Payload: Payload{"reason": "conflicting evidence"}})
	require.NoError(t, err)

	_, legal, err := svc.LegalTransitions(ctx, rec.ID, moderator)
	require.NoError(t, err)
	assert.Empty(t, legal)
	_, legal, err = svc.LegalTransitions(ctx, rec.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusResolved}, legal)

	rec, err = svc.Transition(ctx, TransitionRequest{CaseID: rec.ID, Target: StatusResolved, Actor: admin, Payload: Payload{
		"decision":     "Refund approved",
		"refundAmount": 500,
		"context":      map[string]any{"transactionAmount": 1200},
	}})
	require.NoError(t, err)
	require.NotNil(t, rec.Resolution)
	assert.Equal(t, 500.0, *rec.Resolution.RefundAmount)
	assert.Equal(t, int64(5), rec.Version)

	history, err := svc.History(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, ActionAssign, history[1].Action)
	assert.Equal(t, "mod-1", history[1].Assignee)
	require.NoError(t, svc.VerifyHistory(ctx, rec.ID))

	_, err = svc.Assign(ctx, rec.ID, "mod-2", admin, 0)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestService_NotFoundAndUnknownKind(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.Transition(ctx, TransitionRequest{CaseID: "nope", Target: StatusApproved, Actor: admin})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.History(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = svc.LegalTransitions(ctx, "nope", admin)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.List(ctx, ListFilter{Kind: "auction"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = svc.Open(ctx, OpenRequest{ID: "dup", Kind: KindReview}, admin)
	require.NoError(t, err)
	_, err = svc.Open(ctx, OpenRequest{ID: "dup", Kind: KindReview}, admin)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}
