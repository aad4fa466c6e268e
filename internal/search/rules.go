package search

import (
	"context"
	"time"

	"github.com/wolfman30/scheduling-integrator/internal/sameday"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

// adjustForInterAppointment raises fromDay so a consultation covered by an
// insurance with a minimum gap cannot be booked too soon after the patient's
// latest consultation on that insurance.
func (o *Orchestrator) adjustForInterAppointment(ctx context.Context, integration scheduling.Integration, filter scheduling.CorrelationFilter, req scheduling.ListAvailableSchedules, now time.Time, meta *scheduling.ScheduleMetadata) (int, error) {
	fromDay := req.FromDay
	if !filter.IsConsultation() || req.Patient == nil || req.Patient.Code == "" || o.history == nil {
		return fromDay, nil
	}
	insurance, ok := filter.Get(scheduling.EntityInsurance)
	if !ok || insurance.Params.InterAppointmentPeriod <= 0 {
		return fromDay, nil
	}

	history, err := o.history.PatientAppointments(ctx, integration, req.Patient.Code)
	if err != nil {
		return 0, scheduling.IntegrationError(opSearch, err, "load patient history for inter-appointment period")
	}

	var latest time.Time
	for _, appt := range history {
		if !appt.Status.Active() || (appt.AppointmentCode != "" && appt.AppointmentCode == req.AppointmentCodeToCancel) {
			continue
		}
		if !appt.Entities.IsConsultation() {
			continue
		}
		if ins, ok := appt.Entities.Get(scheduling.EntityInsurance); !ok || ins.Code != insurance.Code {
			continue
		}
		if appt.AppointmentDate.After(latest) {
			latest = appt.AppointmentDate
		}
	}
	if latest.IsZero() {
		return fromDay, nil
	}

	elapsed := daysBetween(latest.In(now.Location()), now)
	gap := insurance.Params.InterAppointmentPeriod - elapsed
	if gap > fromDay {
		meta.InterAppointmentPeriod = gap
		return gap, nil
	}
	return fromDay, nil
}

// daysBetween counts calendar days from a to b; negative when a is after b.
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// filterByDoctorValidity drops slots whose doctor is not schedulable, not
// routed to this flow, or not suitable for the patient's age. Slots without a
// doctor survive only for appointment types that have no doctor.
func (o *Orchestrator) filterByDoctorValidity(ctx context.Context, integration scheduling.Integration, filter scheduling.CorrelationFilter, req scheduling.ListAvailableSchedules, slots []scheduling.Appointment, now time.Time) ([]scheduling.Appointment, error) {
	if len(slots) == 0 {
		return slots, nil
	}
	seen := make(map[string]struct{})
	var codes []string
	for _, s := range slots {
		code := s.DoctorCode()
		if code == "" {
			continue
		}
		if _, ok := seen[code]; !ok {
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}

	allowed := make(map[string]scheduling.Entity)
	if len(codes) > 0 {
		valid, err := o.entities.GetValidEntitiesByCode(ctx, integration.ID, scheduling.EntityDoctor, codes)
		if err != nil {
			return nil, scheduling.Wrap(opSearch, err)
		}
		valid, err = o.flows.MatchEntitiesFlows(ctx, integration, valid, scheduling.EntityDoctor, filter)
		if err != nil {
			return nil, scheduling.Wrap(opSearch, err)
		}
		var bornDate time.Time
		if req.Patient != nil {
			bornDate = scheduling.ParseBornDate(req.Patient.BornDate)
		}
		for _, doctor := range valid {
			if doctor.AcceptsAge(bornDate, now) {
				allowed[doctor.Code] = doctor
			}
		}
	}

	withoutDoctor := false
	if at, ok := filter.Get(scheduling.EntityAppointmentType); ok {
		withoutDoctor = at.Params.WithoutDoctor
	}

	out := make([]scheduling.Appointment, 0, len(slots))
	for _, s := range slots {
		code := s.DoctorCode()
		if code == "" {
			if withoutDoctor {
				out = append(out, s)
			}
			continue
		}
		doctor, ok := allowed[code]
		if !ok {
			continue
		}
		s.Entities = s.Entities.Clone()
		s.Entities[scheduling.EntityDoctor] = doctor
		out = append(out, s)
	}
	return out, nil
}

// applySameDayRules delegates to the same-day handler; a handler failure keeps
// the unfiltered slots.
func (o *Orchestrator) applySameDayRules(ctx context.Context, integration scheduling.Integration, filter scheduling.CorrelationFilter, req scheduling.ListAvailableSchedules, slots []scheduling.Appointment, meta scheduling.ScheduleMetadata, logger *logging.Logger) ([]scheduling.Appointment, scheduling.ScheduleMetadata) {
	if o.sameDay == nil {
		return slots, meta
	}
	patientCode := ""
	if req.Patient != nil {
		patientCode = req.Patient.Code
	}
	res, err := o.sameDay.RemoveFilteredBySameDayRules(ctx, integration, sameday.Request{
		Schedules:             slots,
		Filter:                filter,
		PatientCode:           patientCode,
		IgnoreAppointmentCode: req.AppointmentCodeToCancel,
		Metadata:              meta,
	})
	if err != nil {
		logger.Warn("same-day rules failed; keeping unfiltered schedules", "error", err)
		return slots, meta
	}
	return res.Schedules, res.Metadata
}
