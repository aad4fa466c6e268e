// Package sameday removes slots that would give a patient two appointments of
// the same class on one day.
package sameday

import (
	"context"
	"fmt"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// Request is the input of a same-day evaluation.
type Request struct {
	Schedules   []scheduling.Appointment
	Filter      scheduling.CorrelationFilter
	PatientCode string
	// IgnoreAppointmentCode is the appointment being rescheduled; it never blocks its own day.
	IgnoreAppointmentCode string
	Metadata              scheduling.ScheduleMetadata
}

// Result is the filtered schedule list.
type Result struct {
	Schedules []scheduling.Appointment
	Metadata  scheduling.ScheduleMetadata
}

// Handler applies same-day business rules.
type Handler interface {
	RemoveFilteredBySameDayRules(ctx context.Context, integration scheduling.Integration, req Request) (Result, error)
}

// HistorySource lists a patient's current appointments.
type HistorySource interface {
	PatientAppointments(ctx context.Context, integration scheduling.Integration, patientCode string) ([]scheduling.Appointment, error)
}

// Policy blocks slots on days where the patient already holds an active
// appointment of the same schedule type. It only runs for integrations with
// Rules.BlockSameDaySchedules and requests that identify the patient.
type Policy struct {
	History HistorySource
}

var _ Handler = (*Policy)(nil)

func (p *Policy) RemoveFilteredBySameDayRules(ctx context.Context, integration scheduling.Integration, req Request) (Result, error) {
	unchanged := Result{Schedules: req.Schedules, Metadata: req.Metadata}
	if !integration.Rules.BlockSameDaySchedules || req.PatientCode == "" || len(req.Schedules) == 0 {
		return unchanged, nil
	}
	if p.History == nil {
		return unchanged, fmt.Errorf("sameday: history source not configured")
	}
	history, err := p.History.PatientAppointments(ctx, integration, req.PatientCode)
	if err != nil {
		return unchanged, fmt.Errorf("sameday: load patient appointments: %w", err)
	}

	loc := integration.Location()
	class := scheduleType(req.Filter)
	blocked := make(map[string]struct{})
	for _, appt := range history {
		if appt.AppointmentCode == req.IgnoreAppointmentCode && appt.AppointmentCode != "" {
			continue
		}
		if !appt.Status.Active() || scheduleType(appt.Entities) != class {
			continue
		}
		blocked[appt.AppointmentDate.In(loc).Format(scheduling.DateLayout)] = struct{}{}
	}
	if len(blocked) == 0 {
		return unchanged, nil
	}

	kept := make([]scheduling.Appointment, 0, len(req.Schedules))
	for _, slot := range req.Schedules {
		if _, ok := blocked[slot.AppointmentDate.In(loc).Format(scheduling.DateLayout)]; ok {
			continue
		}
		kept = append(kept, slot)
	}
	meta := req.Metadata
	meta.RemovedBySameDayRules = len(req.Schedules) - len(kept)
	return Result{Schedules: kept, Metadata: meta}, nil
}

func scheduleType(f scheduling.CorrelationFilter) scheduling.ScheduleType {
	if at, ok := f.Get(scheduling.EntityAppointmentType); ok {
		return at.Params.ReferenceScheduleType
	}
	return ""
}
