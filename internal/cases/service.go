package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CaseEvent is published after every stored mutation. Downstream consumers
// (escrow release, notifications) react to it.
type CaseEvent struct {
	ID         string      `json:"id"`
	CaseID     string      `json:"case_id"`
	Kind       Kind        `json:"kind"`
	Action     Action      `json:"action"`
	From       Status      `json:"from,omitempty"`
	To         Status      `json:"to"`
	ActorID    string      `json:"actor_id"`
	ActorRole  Role        `json:"actor_role"`
	AssignedTo string      `json:"assigned_to,omitempty"`
	Version    int64       `json:"version"`
	Resolution *Resolution `json:"resolution,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// EventPublisher delivers case events.
type EventPublisher interface {
	Publish(ctx context.Context, ev CaseEvent) error
}

// TransitionRequest asks the service to move a case to Target. A non-zero
// ExpectedVersion must match the stored version.
type TransitionRequest struct {
	CaseID          string  `json:"case_id"`
	Target          Status  `json:"target"`
	Actor           Actor   `json:"actor"`
	Payload         Payload `json:"payload,omitempty"`
	ExpectedVersion int64   `json:"expected_version,omitempty"`
}

// OpenRequest registers a new case. An empty ID is replaced by a UUID.
type OpenRequest struct {
	ID       string   `json:"id,omitempty"`
	Kind     Kind     `json:"kind"`
	Priority Priority `json:"priority,omitempty"`
	Payload  Payload  `json:"payload,omitempty"`
}

// Service runs case operations against a Repository.
type Service struct {
	repo      Repository
	machine   *StateMachine
	publisher EventPublisher
	logger    *slog.Logger
}

// NewService wires a Service. publisher and logger may be nil.
func NewService(repo Repository, machine *StateMachine, publisher EventPublisher, logger *slog.Logger) *Service {
	if machine == nil {
		machine = NewStateMachine(nil, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		machine:   machine,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *Service) Machine() *StateMachine { return s.machine }

func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	if filter.Kind != "" {
		if _, err := ParseKind(string(filter.Kind)); err != nil {
			return nil, err
		}
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) Open(ctx context.Context, req OpenRequest, actor Actor) (Record, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	rec, err := s.machine.Open(id, req.Kind, req.Priority, req.Payload, actor)
	if err != nil {
		return Record{}, err
	}

	entry := NewEntry(ActionOpen, Record{}, rec, actor, nil)
	saved, err := s.repo.Save(ctx, rec, entry)
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return Record{}, fmt.Errorf("%w: case %s already exists", ErrConcurrentModification, id)
		}
		return Record{}, fmt.Errorf("save case: %w", err)
	}

	s.logger.Info("case_opened", "case_id", saved.ID, "kind", saved.Kind, "status", saved.Status, "actor", actor.ID)
	s.publish(ctx, entry, Record{}, saved, actor)
	return saved, nil
}

func (s *Service) Transition(ctx context.Context, req TransitionRequest) (Record, error) {
	current, err := s.repo.Get(ctx, req.CaseID)
	if err != nil {
		return Record{}, err
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != current.Version {
		return Record{}, transitionError(current, req.Target, ErrConcurrentModification,
			fmt.Sprintf("expected version %d, stored %d", req.ExpectedVersion, current.Version))
	}

	next, err := s.machine.Transition(current, req.Target, req.Actor, req.Payload)
	if err != nil {
		s.logger.Debug("case_transition_rejected",
			"case_id", current.ID, "kind", current.Kind, "from", current.Status, "to", req.Target,
			"actor", req.Actor.ID, "error", err)
		return Record{}, err
	}

	entry := NewEntry(ActionTransition, current, next, req.Actor, req.Payload)
	saved, err := s.repo.Save(ctx, next, entry)
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return Record{}, transitionError(current, req.Target, ErrConcurrentModification, "")
		}
		return Record{}, fmt.Errorf("save case %s: %w", current.ID, err)
	}

	s.logger.Info("case_transition",
		"case_id", saved.ID,
		"kind", saved.Kind,
		"from", current.Status,
		"to", saved.Status,
		"actor", req.Actor.ID,
		"role", req.Actor.Role,
		"version", saved.Version,
	)
	s.publish(ctx, entry, current, saved, req.Actor)
	return saved, nil
}

// LegalTransitions returns the case and the statuses actor may move it to.
func (s *Service) LegalTransitions(ctx context.Context, id string, actor Actor) (Record, []Status, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, nil, err
	}
	return rec, s.machine.LegalTransitions(rec, actor), nil
}

func (s *Service) Assign(ctx context.Context, id, assignee string, actor Actor, expectedVersion int64) (Record, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if expectedVersion != 0 && expectedVersion != current.Version {
		return Record{}, transitionError(current, current.Status, ErrConcurrentModification,
			fmt.Sprintf("expected version %d, stored %d", expectedVersion, current.Version))
	}

	next, err := s.machine.Assign(current, assignee, actor)
	if err != nil {
		return Record{}, err
	}
	entry := NewEntry(ActionAssign, current, next, actor, nil)
	saved, err := s.repo.Save(ctx, next, entry)
	if err != nil {
		return Record{}, fmt.Errorf("save case %s: %w", current.ID, err)
	}

	s.logger.Info("case_assigned", "case_id", saved.ID, "kind", saved.Kind, "assignee", saved.AssignedTo, "actor", actor.ID)
	s.publish(ctx, entry, current, saved, actor)
	return saved, nil
}

// History returns the journal of a case, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]TransitionEntry, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// VerifyHistory checks the hash chain of a case's journal.
func (s *Service) VerifyHistory(ctx context.Context, id string) error {
	entries, err := s.History(ctx, id)
	if err != nil {
		return err
	}
	return VerifyChain(entries)
}

// publish logs delivery failures instead of returning them. The mutation is
// already stored and the journal holds the same facts. The event id is the
// journal entry id, so a replayed publish is dropped by stream dedup.
func (s *Service) publish(ctx context.Context, entry TransitionEntry, before, after Record, actor Actor) {
	action := entry.Action
	if s.publisher == nil {
		return
	}
	ev := CaseEvent{
		ID:         entry.ID,
		CaseID:     after.ID,
		Kind:       after.Kind,
		Action:     action,
		From:       before.Status,
		To:         after.Status,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		AssignedTo: after.AssignedTo,
		Version:    after.Version,
		Resolution: after.Resolution,
		OccurredAt: after.UpdatedAt,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("case_event_publish_failed", "case_id", after.ID, "action", action, "to", after.Status, "error", err)
	}
}
