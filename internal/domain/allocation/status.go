package allocation

// Status is the canonical lifecycle state of an allocation record. Each kind
// presents its own labels for these states.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// transitions is the full legality table. Anything absent is rejected.
var transitions = map[Status][]Status{
	StatusActive:    {StatusCompleted, StatusCancelled, StatusError},
	StatusCompleted: {StatusError},
	StatusCancelled: {StatusError},
	StatusError:     nil,
}

// Statuses lists every canonical status.
var Statuses = []Status{StatusActive, StatusCompleted, StatusCancelled, StatusError}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Live reports whether the record still holds its unit.
func (s Status) Live() bool {
	return s == StatusActive
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a *TransitionError when from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !to.Valid() || !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
