// Package booking defines the capability interface every scheduling back end
// implements, plus the registry that resolves one adapter per integration.
package booking

import (
	"context"
	"time"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// CreatePatientRequest creates a patient, optionally scoped to an organization unit.
type CreatePatientRequest struct {
	Patient          scheduling.Patient
	OrganizationUnit *scheduling.Entity
}

// AvailabilityRequest is the provider-facing search for one date window.
// The window is already clamped and split by the caller.
type AvailabilityRequest struct {
	Filter      scheduling.CorrelationFilter
	Start       time.Time
	End         time.Time
	Patient     *scheduling.SearchPatient
	PeriodOfDay scheduling.PeriodOfDay
}

// AvailabilityResult carries the slots for one window.
type AvailabilityResult struct {
	Schedules []scheduling.Appointment
	Metadata  scheduling.ScheduleMetadata
}

// CreateScheduleRequest books a slot previously returned by a search.
type CreateScheduleRequest struct {
	Filter          scheduling.CorrelationFilter
	AppointmentDate time.Time
	Duration        int
	PatientCode     string
	Guidance        string
	Data            map[string]string
}

// CancelScheduleRequest cancels an appointment.
type CancelScheduleRequest struct {
	AppointmentCode string
	PatientCode     string
	Procedure       *scheduling.Entity
}

// ConfirmScheduleRequest confirms an appointment.
type ConfirmScheduleRequest struct {
	AppointmentCode string
	PatientCode     string
	AppointmentDate *time.Time
}

// RescheduleRequest moves a patient from one appointment to a new slot.
type RescheduleRequest struct {
	ScheduleToCancelCode string
	PatientCode          string
	Schedule             CreateScheduleRequest
}

// PatientSchedulesRequest lists a patient's appointments, optionally within a window.
type PatientSchedulesRequest struct {
	PatientCode string
	StartDate   *time.Time
	EndDate     *time.Time
}

// Result reports the outcome of cancel/confirm calls.
type Result struct {
	OK bool `json:"ok"`
}

// Status is the upstream liveness probe result.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Adapter is the interface that all scheduling back ends implement. All
// upstream network I/O happens behind it.
type Adapter interface {
	// Name returns the provider identifier (e.g. "nextech", "shadow").
	Name() string

	// GetPatient finds a patient by cpf or code. When several records share a
	// cpf the one whose birth date matches the filter wins, else the first.
	// Returns a NotFound error when absent.
	GetPatient(ctx context.Context, filter scheduling.PatientFilter) (*scheduling.Patient, error)
	// CreatePatient fails with a Conflict error when the patient already exists.
	CreatePatient(ctx context.Context, req CreatePatientRequest) (*scheduling.Patient, error)
	UpdatePatient(ctx context.Context, code string, patient scheduling.Patient) (*scheduling.Patient, error)

	// ExtractEntity lists provider entities without validation or caching.
	ExtractEntity(ctx context.Context, entityType scheduling.EntityType, filter scheduling.CorrelationFilter) ([]scheduling.Entity, error)

	GetAvailableSchedules(ctx context.Context, req AvailabilityRequest) (*AvailabilityResult, error)
	// CreateSchedule fails with an Integration error on an empty or degenerate result.
	CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*scheduling.Appointment, error)
	CancelSchedule(ctx context.Context, req CancelScheduleRequest) (Result, error)
	// ConfirmSchedule maps "already confirmed" responses to OK.
	ConfirmSchedule(ctx context.Context, req ConfirmScheduleRequest) (Result, error)

	ListPatientAppointments(ctx context.Context, req PatientSchedulesRequest) ([]scheduling.RawAppointment, error)
	// GetScheduleValue returns nil when the provider has no price for the filter.
	GetScheduleValue(ctx context.Context, filter scheduling.CorrelationFilter) (*scheduling.AppointmentValue, error)
	GetStatus(ctx context.Context) (Status, error)
}

// NativeRescheduler is implemented by adapters whose upstream moves an
// appointment atomically. Others go through the compensating coordinator.
type NativeRescheduler interface {
	Reschedule(ctx context.Context, req RescheduleRequest) (*scheduling.Appointment, error)
}

// SearchLimiter is implemented by adapters with a provider-specific maximum
// number of days per availability call.
type SearchLimiter interface {
	MaxDaysPerSearch() int
}
