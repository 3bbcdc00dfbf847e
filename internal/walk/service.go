package walk

import (
	"context"
	"errors"

	"backend-pawwalk/internal/db"
	"backend-pawwalk/internal/logging"
)

const (
	EventAccepted  = "walk_accepted"
	EventStarted   = "walk_started"
	EventFinished  = "walk_finished"
	EventCancelled = "walk_cancelled"
)

// Notifier delivers out-of-band events to a user's live connection.
type Notifier interface {
	PublishUserEvent(userID, eventType string, data any)
}

// TrackEvicter drops hot tracking state once a walk stops accepting positions.
type TrackEvicter interface {
	Evict(walkID string)
}

type Service struct {
	repo     *Repository
	notifier Notifier
	tracks   TrackEvicter
}

func NewService(db db.Querier, notifier Notifier, tracks TrackEvicter) *Service {
	return &Service{repo: NewRepository(db), notifier: notifier, tracks: tracks}
}

func (s *Service) Repository() *Repository {
	return s.repo
}

// Get returns the walk if userID is one of its parties.
func (s *Service) Get(ctx context.Context, walkID, userID string) (Walk, error) {
	w, err := s.repo.FindWalk(ctx, walkID)
	if err != nil {
		return Walk{}, err
	}
	if !CanSubscribe(&w, userID).Allowed {
		return Walk{}, ErrForbidden
	}
	return w, nil
}

func (s *Service) Accept(ctx context.Context, walkID, agentID string) (Walk, error) {
	w, err := s.repo.transition(ctx, `
		UPDATE walks SET state=$3, agent_id=$2, updated_at=now()
		WHERE id=$1 AND state=$4 AND owner_id<>$2
		RETURNING `+walkColumns,
		walkID, agentID, StateAccepted, StatePending)
	if err != nil {
		return Walk{}, s.explain(ctx, walkID, agentID, err, notOwner)
	}
	s.notify(w.OwnerID, EventAccepted, w)
	return w, nil
}

func (s *Service) Start(ctx context.Context, walkID, agentID string) (Walk, error) {
	w, err := s.repo.transition(ctx, `
		UPDATE walks SET state=$3, started_at=now(), updated_at=now()
		WHERE id=$1 AND agent_id=$2 AND state=$4
		RETURNING `+walkColumns,
		walkID, agentID, StateInProgress, StateAccepted)
	if err != nil {
		return Walk{}, s.explain(ctx, walkID, agentID, err, isAgent)
	}
	s.notify(w.OwnerID, EventStarted, w)
	return w, nil
}

func (s *Service) Finish(ctx context.Context, walkID, agentID string) (Walk, error) {
	w, err := s.repo.transition(ctx, `
		UPDATE walks SET state=$3, finished_at=now(), updated_at=now()
		WHERE id=$1 AND agent_id=$2 AND state=$4
		RETURNING `+walkColumns,
		walkID, agentID, StateFinished, StateInProgress)
	if err != nil {
		return Walk{}, s.explain(ctx, walkID, agentID, err, isAgent)
	}
	if s.tracks != nil {
		s.tracks.Evict(walkID)
	}
	s.notify(w.OwnerID, EventFinished, w)
	return w, nil
}

// Cancel may be requested by either party before the walk starts.
func (s *Service) Cancel(ctx context.Context, walkID, userID string) (Walk, error) {
	w, err := s.repo.transition(ctx, `
		UPDATE walks SET state=$3, updated_at=now()
		WHERE id=$1 AND (owner_id=$2 OR agent_id=$2) AND state IN ($4, $5)
		RETURNING `+walkColumns,
		walkID, userID, StateCancelled, StatePending, StateAccepted)
	if err != nil {
		return Walk{}, s.explain(ctx, walkID, userID, err, isParty)
	}
	s.notify(w.Counterpart(userID), EventCancelled, w)
	return w, nil
}

// explain turns an unmatched conditional update into the precise cause.
func (s *Service) explain(ctx context.Context, walkID, userID string, err error, mayAct func(Walk, string) bool) error {
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	w, err := s.repo.FindWalk(ctx, walkID)
	if err != nil {
		return err
	}
	if !mayAct(w, userID) {
		return ErrForbidden
	}
	return ErrInvalidTransition
}

func (s *Service) notify(userID, eventType string, w Walk) {
	if s.notifier == nil || userID == "" {
		return
	}
	s.notifier.PublishUserEvent(userID, eventType, w)
	logging.Debug().Str("walk_id", w.ID).Str("user_id", userID).Str("event", eventType).Msg("walk event published")
}

func notOwner(w Walk, userID string) bool { return !w.IsOwner(userID) }

func isAgent(w Walk, userID string) bool { return w.IsAgent(userID) }

func isParty(w Walk, userID string) bool { return w.IsAgent(userID) || w.IsOwner(userID) }
