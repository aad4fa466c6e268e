// Package bookingtest provides a programmable booking.Adapter for tests.
package bookingtest

import (
	"context"
	"sync"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// Adapter is a booking.Adapter whose behaviour is set per method. Unset
// methods return zero values. Calls are recorded and safe for concurrent use.
type Adapter struct {
	Provider string
	MaxDays  int

	GetPatientFunc              func(ctx context.Context, filter scheduling.PatientFilter) (*scheduling.Patient, error)
	CreatePatientFunc           func(ctx context.Context, req booking.CreatePatientRequest) (*scheduling.Patient, error)
	UpdatePatientFunc           func(ctx context.Context, code string, patient scheduling.Patient) (*scheduling.Patient, error)
	ExtractEntityFunc           func(ctx context.Context, entityType scheduling.EntityType, filter scheduling.CorrelationFilter) ([]scheduling.Entity, error)
	GetAvailableSchedulesFunc   func(ctx context.Context, req booking.AvailabilityRequest) (*booking.AvailabilityResult, error)
	CreateScheduleFunc          func(ctx context.Context, req booking.CreateScheduleRequest) (*scheduling.Appointment, error)
	CancelScheduleFunc          func(ctx context.Context, req booking.CancelScheduleRequest) (booking.Result, error)
	ConfirmScheduleFunc         func(ctx context.Context, req booking.ConfirmScheduleRequest) (booking.Result, error)
	ListPatientAppointmentsFunc func(ctx context.Context, req booking.PatientSchedulesRequest) ([]scheduling.RawAppointment, error)
	GetScheduleValueFunc        func(ctx context.Context, filter scheduling.CorrelationFilter) (*scheduling.AppointmentValue, error)
	GetStatusFunc               func(ctx context.Context) (booking.Status, error)

	mu    sync.Mutex
	calls []Call
}

// Call records one adapter invocation.
type Call struct {
	Method string
	Arg    any
}

var (
	_ booking.Adapter       = (*Adapter)(nil)
	_ booking.SearchLimiter = (*Adapter)(nil)
)

// Calls returns a copy of the recorded calls in order.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallsTo returns the recorded arguments for method.
func (a *Adapter) CallsTo(method string) []any {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []any
	for _, c := range a.calls {
		if c.Method == method {
			out = append(out, c.Arg)
		}
	}
	return out
}

func (a *Adapter) record(method string, arg any) {
	a.mu.Lock()
	a.calls = append(a.calls, Call{Method: method, Arg: arg})
	a.mu.Unlock()
}

func (a *Adapter) Name() string {
	if a.Provider == "" {
		return "fake"
	}
	return a.Provider
}

func (a *Adapter) MaxDaysPerSearch() int { return a.MaxDays }

func (a *Adapter) GetPatient(ctx context.Context, filter scheduling.PatientFilter) (*scheduling.Patient, error) {
	a.record("GetPatient", filter)
	if a.GetPatientFunc == nil {
		return nil, scheduling.NotFound("GetPatient", "patient not found")
	}
	return a.GetPatientFunc(ctx, filter)
}

func (a *Adapter) CreatePatient(ctx context.Context, req booking.CreatePatientRequest) (*scheduling.Patient, error) {
	a.record("CreatePatient", req)
	if a.CreatePatientFunc == nil {
		p := req.Patient
		return &p, nil
	}
	return a.CreatePatientFunc(ctx, req)
}

func (a *Adapter) UpdatePatient(ctx context.Context, code string, patient scheduling.Patient) (*scheduling.Patient, error) {
	a.record("UpdatePatient", patient)
	if a.UpdatePatientFunc == nil {
		patient.Code = code
		return &patient, nil
	}
	return a.UpdatePatientFunc(ctx, code, patient)
}

func (a *Adapter) ExtractEntity(ctx context.Context, entityType scheduling.EntityType, filter scheduling.CorrelationFilter) ([]scheduling.Entity, error) {
	a.record("ExtractEntity", entityType)
	if a.ExtractEntityFunc == nil {
		return nil, nil
	}
	return a.ExtractEntityFunc(ctx, entityType, filter)
}

func (a *Adapter) GetAvailableSchedules(ctx context.Context, req booking.AvailabilityRequest) (*booking.AvailabilityResult, error) {
	a.record("GetAvailableSchedules", req)
	if a.GetAvailableSchedulesFunc == nil {
		return &booking.AvailabilityResult{}, nil
	}
	return a.GetAvailableSchedulesFunc(ctx, req)
}

func (a *Adapter) CreateSchedule(ctx context.Context, req booking.CreateScheduleRequest) (*scheduling.Appointment, error) {
	a.record("CreateSchedule", req)
	if a.CreateScheduleFunc == nil {
		return nil, scheduling.IntegrationError("CreateSchedule", nil, "not configured")
	}
	return a.CreateScheduleFunc(ctx, req)
}

func (a *Adapter) CancelSchedule(ctx context.Context, req booking.CancelScheduleRequest) (booking.Result, error) {
	a.record("CancelSchedule", req)
	if a.CancelScheduleFunc == nil {
		return booking.Result{OK: true}, nil
	}
	return a.CancelScheduleFunc(ctx, req)
}

func (a *Adapter) ConfirmSchedule(ctx context.Context, req booking.ConfirmScheduleRequest) (booking.Result, error) {
	a.record("ConfirmSchedule", req)
	if a.ConfirmScheduleFunc == nil {
		return booking.Result{OK: true}, nil
	}
	return a.ConfirmScheduleFunc(ctx, req)
}

func (a *Adapter) ListPatientAppointments(ctx context.Context, req booking.PatientSchedulesRequest) ([]scheduling.RawAppointment, error) {
	a.record("ListPatientAppointments", req)
	if a.ListPatientAppointmentsFunc == nil {
		return nil, nil
	}
	return a.ListPatientAppointmentsFunc(ctx, req)
}

func (a *Adapter) GetScheduleValue(ctx context.Context, filter scheduling.CorrelationFilter) (*scheduling.AppointmentValue, error) {
	a.record("GetScheduleValue", filter)
	if a.GetScheduleValueFunc == nil {
		return nil, nil
	}
	return a.GetScheduleValueFunc(ctx, filter)
}

func (a *Adapter) GetStatus(ctx context.Context) (booking.Status, error) {
	a.record("GetStatus", nil)
	if a.GetStatusFunc == nil {
		return booking.Status{OK: true}, nil
	}
	return a.GetStatusFunc(ctx)
}

// Rescheduler adds a native Reschedule to Adapter.
type Rescheduler struct {
	*Adapter
	RescheduleFunc func(ctx context.Context, req booking.RescheduleRequest) (*scheduling.Appointment, error)
}

var _ booking.NativeRescheduler = (*Rescheduler)(nil)

func (r *Rescheduler) Reschedule(ctx context.Context, req booking.RescheduleRequest) (*scheduling.Appointment, error) {
	r.record("Reschedule", req)
	return r.RescheduleFunc(ctx, req)
}
