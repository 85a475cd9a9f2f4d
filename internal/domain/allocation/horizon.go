package allocation

import (
	"time"

	"github.com/google/uuid"
)

// HorizonPlan describes the units kept ahead of time for every owner:
// Days calendar days starting today, business hours [OpenHour, CloseHour)
// in Location, split into SlotMinutes units.
type HorizonPlan struct {
	Days        int
	OpenHour    int
	CloseHour   int
	SlotMinutes int
	Location    *time.Location
}

func DefaultHorizonPlan() HorizonPlan {
	return HorizonPlan{Days: 14, OpenHour: 8, CloseHour: 17, SlotMinutes: 30, Location: time.UTC}
}

// PlanUnits returns the units the plan calls for from now on. Units that
// would start before now are skipped. Times are returned in UTC.
func PlanUnits(owner uuid.UUID, p HorizonPlan, now time.Time) []*Unit {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	if p.SlotMinutes <= 0 || p.CloseHour <= p.OpenHour {
		return nil
	}
	slot := time.Duration(p.SlotMinutes) * time.Minute
	local := now.In(loc)

	var units []*Unit
	for d := 0; d < p.Days; d++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+d, 0, 0, 0, 0, loc)
		open := time.Date(day.Year(), day.Month(), day.Day(), p.OpenHour, 0, 0, 0, loc)
		closing := time.Date(day.Year(), day.Month(), day.Day(), p.CloseHour, 0, 0, 0, loc)

		for start := open; !start.Add(slot).After(closing); start = start.Add(slot) {
			if start.Before(now) {
				continue
			}
			s, e := start.UTC(), start.Add(slot).UTC()
			units = append(units, &Unit{
				OwnerID:   owner,
				StartTime: &s,
				EndTime:   &e,
				Active:    true,
			})
		}
	}
	return units
}
