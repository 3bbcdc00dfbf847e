package tracking

import (
	"context"
	"errors"
	"fmt"

	"backend-pawwalk/internal/db"
	"backend-pawwalk/internal/walk"
)

type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonInvalidState      Reason = "invalid_state"
	ReasonForbidden         Reason = "forbidden"
	ReasonInvalidCoordinate Reason = "invalid_coordinate"
	ReasonOutOfGeofence     Reason = "out_of_geofence"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonTimeout           Reason = "timeout"
	ReasonUnavailable       Reason = "unavailable"
)

// Rejection is returned when a sample or query is refused before any write.
type Rejection struct {
	Reason    Reason  `json:"reason"`
	Message   string  `json:"error"`
	DistanceM float64 `json:"distance_m,omitempty"`
}

func (r *Rejection) Error() string {
	return string(r.Reason) + ": " + r.Message
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf reports the rejection reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

func fromDecision(d walk.Decision) *Rejection {
	return &Rejection{Reason: Reason(d.Reason), Message: d.Message}
}

// lookupError converts a walk lookup failure into a rejection where one applies.
func lookupError(err error) error {
	switch {
	case errors.Is(err, walk.ErrNotFound):
		return reject(ReasonNotFound, "walk not found")
	case errors.Is(err, context.DeadlineExceeded):
		return reject(ReasonTimeout, "walk lookup timed out")
	case errors.Is(err, db.ErrUnavailable):
		return reject(ReasonUnavailable, "walk storage unavailable")
	default:
		return fmt.Errorf("find walk: %w", err)
	}
}
