package walk

type Reason string

const (
	ReasonNotFound     Reason = "not_found"
	ReasonInvalidState Reason = "invalid_state"
	ReasonForbidden    Reason = "forbidden"
)

type Decision struct {
	Allowed bool
	Reason  Reason
	Message string
}

func allow() Decision { return Decision{Allowed: true} }

func reject(reason Reason, msg string) Decision {
	return Decision{Reason: reason, Message: msg}
}

// CanIngest decides whether agentID may push a position for w right now.
// A nil walk means the lookup found nothing. State is checked before the
// agent so a finished walk always reports invalid_state.
func CanIngest(w *Walk, agentID string) Decision {
	if w == nil {
		return reject(ReasonNotFound, "walk not found")
	}
	if w.State != StateInProgress {
		return reject(ReasonInvalidState, "walk is "+string(w.State)+", positions require in_progress")
	}
	if !w.IsAgent(agentID) {
		return reject(ReasonForbidden, "only the assigned agent may report positions")
	}
	return allow()
}

// CanSubscribe allows the assigned agent and the owner to observe a walk.
func CanSubscribe(w *Walk, userID string) Decision {
	if w == nil {
		return reject(ReasonNotFound, "walk not found")
	}
	if w.IsAgent(userID) || w.IsOwner(userID) {
		return allow()
	}
	return reject(ReasonForbidden, "not a party to this walk")
}
