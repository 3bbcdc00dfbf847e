package walk

import (
	"errors"
	"time"
)

type State string

const (
	StatePending    State = "pending"
	StateAccepted   State = "accepted"
	StateInProgress State = "in_progress"
	StateFinished   State = "finished"
	StateCancelled  State = "cancelled"
)

var (
	ErrNotFound          = errors.New("walk not found")
	ErrForbidden         = errors.New("not a party to this walk")
	ErrInvalidTransition = errors.New("walk state does not allow this transition")
)

// Walk is reference data owned by the marketplace; tracking only reads it
// outside of the lifecycle transitions in Service.
type Walk struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	AgentID    *string    `json:"agent_id,omitempty"`
	State      State      `json:"state"`
	OriginLat  *float64   `json:"origin_lat,omitempty"`
	OriginLng  *float64   `json:"origin_lng,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (w Walk) HasOrigin() bool {
	return w.OriginLat != nil && w.OriginLng != nil
}

func (w Walk) IsAgent(userID string) bool {
	return w.AgentID != nil && userID != "" && *w.AgentID == userID
}

func (w Walk) IsOwner(userID string) bool {
	return userID != "" && w.OwnerID == userID
}

// Counterpart returns the other party of the walk for userID, or "" if none.
func (w Walk) Counterpart(userID string) string {
	if w.IsOwner(userID) {
		if w.AgentID != nil {
			return *w.AgentID
		}
		return ""
	}
	return w.OwnerID
}
