package allocation

import (
	"github.com/healthcore/healthcore/internal/domain/identity"
)

// Kind describes one allocation context (appointments, admissions,
// equipment reservations). The engine is generic; all per-context policy
// lives here.
type Kind struct {
	Name         string
	UnitName     string
	ResourceType string
	Requester    identity.Role

	// TimeBounded units carry start/end; the rest are binary (beds).
	TimeBounded bool
	// Waitlist allows a record without a unit when the pool is exhausted.
	Waitlist bool
	// OnDemand lets criteria carry start/end, creating the unit if absent.
	OnDemand bool
	// Horizon units are pre-generated by the sweeper for every owner.
	Horizon bool

	// OwnerRole is set when owners are themselves people (practitioners
	// owning slots), so reminders can name them.
	OwnerRole identity.Role
	// ReminderTemplate enables the reminder scan for this kind.
	ReminderTemplate string

	Labels map[Status]string
	Events map[Status]string

	// Present renders the API view of a record; unit may be nil.
	Present func(rec *Record, unit *Unit) any
	// PresentUnit renders the API view of a unit.
	PresentUnit func(unit *Unit) any
}

// Releases reports whether moving a record from -> to frees its unit. Only
// live records hold a unit. Completion frees binary units; time-bounded units
// stay consumed.
func (k Kind) Releases(from, to Status) bool {
	if !from.Live() {
		return false
	}
	switch to {
	case StatusCancelled, StatusError:
		return true
	case StatusCompleted:
		return !k.TimeBounded
	}
	return false
}

func (k Kind) Label(s Status) string {
	if l, ok := k.Labels[s]; ok {
		return l
	}
	return string(s)
}

// ParseStatus accepts a kind label or a canonical status name.
func (k Kind) ParseStatus(v string) (Status, bool) {
	for s, l := range k.Labels {
		if l == v {
			return s, true
		}
	}
	s := Status(v)
	return s, s.Valid()
}

func (k Kind) EventType(s Status) string {
	if e, ok := k.Events[s]; ok {
		return e
	}
	return k.Name + "." + k.Label(s)
}

func (k Kind) View(rec *Record, unit *Unit) any {
	if k.Present == nil {
		return rec
	}
	return k.Present(rec, unit)
}

func (k Kind) UnitView(u *Unit) any {
	if k.PresentUnit == nil {
		return u
	}
	return k.PresentUnit(u)
}
