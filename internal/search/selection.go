package search

import (
	"math/rand"
	"sort"
	"time"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

func defaultShuffle(n int, swap func(i, j int)) {
	rand.Shuffle(n, swap)
}

// selectSchedules applies the period filters, then randomize/limit and the
// sort method. With randomize the limit picks a random subset which is then
// sorted; without it the sorted list is truncated.
func (o *Orchestrator) selectSchedules(slots []scheduling.Appointment, req scheduling.ListAvailableSchedules, loc *time.Location) []scheduling.Appointment {
	out := filterByPeriod(slots, req, loc)

	if req.Randomize {
		o.shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		out = limit(out, req.Limit)
		return sortSchedules(out, req.SortMethod)
	}
	return limit(sortSchedules(out, req.SortMethod), req.Limit)
}

func filterByPeriod(slots []scheduling.Appointment, req scheduling.ListAvailableSchedules, loc *time.Location) []scheduling.Appointment {
	type bounds struct{ start, end int }
	var ranges []bounds
	if req.PeriodOfDay != "" {
		if s, e, ok := req.PeriodOfDay.Bounds(); ok {
			ranges = append(ranges, bounds{s, e})
		}
	}
	if req.Period != nil {
		if s, e, err := req.Period.Bounds(); err == nil {
			ranges = append(ranges, bounds{s, e})
		}
	}
	out := make([]scheduling.Appointment, 0, len(slots))
next:
	for _, slot := range slots {
		local := slot.AppointmentDate.In(loc)
		minute := local.Hour()*60 + local.Minute()
		for _, r := range ranges {
			if minute < r.start || minute >= r.end {
				continue next
			}
		}
		out = append(out, slot)
	}
	return out
}

func limit(slots []scheduling.Appointment, n int) []scheduling.Appointment {
	if n > 0 && len(slots) > n {
		return slots[:n]
	}
	return slots
}

func sortSchedules(slots []scheduling.Appointment, method scheduling.SortMethod) []scheduling.Appointment {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].AppointmentDate.Before(slots[j].AppointmentDate)
	})
	if method != scheduling.SortDoctorDistribution {
		return slots
	}

	// Round-robin across doctors ordered by their earliest slot.
	var order []string
	byDoctor := make(map[string][]scheduling.Appointment)
	for _, s := range slots {
		code := s.DoctorCode()
		if _, ok := byDoctor[code]; !ok {
			order = append(order, code)
		}
		byDoctor[code] = append(byDoctor[code], s)
	}
	out := make([]scheduling.Appointment, 0, len(slots))
	for len(out) < len(slots) {
		for _, code := range order {
			queue := byDoctor[code]
			if len(queue) == 0 {
				continue
			}
			out = append(out, queue[0])
			byDoctor[code] = queue[1:]
		}
	}
	return out
}
