package scheduling

import (
	"fmt"
	"time"
)

// PeriodOfDay restricts slots to part of the day.
type PeriodOfDay string

const (
	PeriodMorning   PeriodOfDay = "morning"
	PeriodAfternoon PeriodOfDay = "afternoon"
	PeriodNight     PeriodOfDay = "night"
)

// Bounds returns the [start,end) minute-of-day bounds of the period.
func (p PeriodOfDay) Bounds() (int, int, bool) {
	switch p {
	case PeriodMorning:
		return 0, 12 * 60, true
	case PeriodAfternoon:
		return 12 * 60, 18 * 60, true
	case PeriodNight:
		return 18 * 60, 24 * 60, true
	}
	return 0, 0, false
}

// Period is an explicit "HH:MM" range, start inclusive and end exclusive.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Bounds parses the period into minutes of day.
func (p Period) Bounds() (int, int, error) {
	start, err := parseClock(p.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(p.End)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("scheduling: invalid clock %q: %w", raw, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// SortMethod orders search results.
type SortMethod string

const (
	SortDefault            SortMethod = "default"
	SortDoctorDistribution SortMethod = "doctorDistribution"
)

// SearchPatient carries the demographics used during a search.
type SearchPatient struct {
	Code     string `json:"code,omitempty"`
	BornDate string `json:"bornDate,omitempty"`
	Sex      string `json:"sex,omitempty"`
	Cpf      string `json:"cpf,omitempty"`
}

// ListAvailableSchedules is a schedule search request.
type ListAvailableSchedules struct {
	Filter                  CorrelationFilterByKey `json:"filter"`
	FromDay                 int                    `json:"fromDay"`
	UntilDay                int                    `json:"untilDay"`
	DateLimit               *time.Time             `json:"dateLimit,omitempty"`
	Period                  *Period                `json:"period,omitempty"`
	PeriodOfDay             PeriodOfDay            `json:"periodOfDay,omitempty"`
	SortMethod              SortMethod             `json:"sortMethod,omitempty"`
	Randomize               bool                   `json:"randomize,omitempty"`
	Limit                   int                    `json:"limit,omitempty"`
	Patient                 *SearchPatient         `json:"patient,omitempty"`
	AppointmentCodeToCancel string                 `json:"appointmentCodeToCancel,omitempty"`
}

// ScheduleMetadata accompanies search results.
type ScheduleMetadata struct {
	InterAppointmentPeriod int               `json:"interAppointmentPeriod,omitempty"`
	RemovedBySameDayRules  int               `json:"removedBySameDayRules,omitempty"`
	FailedChunks           int               `json:"failedChunks,omitempty"`
	Extra                  map[string]string `json:"extra,omitempty"`
}

// Merge folds other into m; non-zero values in other win.
func (m *ScheduleMetadata) Merge(other ScheduleMetadata) {
	if other.InterAppointmentPeriod != 0 {
		m.InterAppointmentPeriod = other.InterAppointmentPeriod
	}
	if other.RemovedBySameDayRules != 0 {
		m.RemovedBySameDayRules = other.RemovedBySameDayRules
	}
	if other.FailedChunks != 0 {
		m.FailedChunks = other.FailedChunks
	}
	for k, v := range other.Extra {
		if m.Extra == nil {
			m.Extra = make(map[string]string, len(other.Extra))
		}
		m.Extra[k] = v
	}
}

// AvailableSchedules is a search result. An empty list is a valid answer.
type AvailableSchedules struct {
	Schedules []Appointment    `json:"schedules"`
	Metadata  ScheduleMetadata `json:"metadata"`
}
