// Package shadow is a booking adapter backed by a local "shadow schedule".
// Availability is served from seeded or periodically synced slots rather than
// a live provider, which makes it suitable for sandbox tenants and local runs.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// ProviderName is the registry key for this adapter.
const ProviderName = "shadow"

const defaultDuration = 30

// AvailabilitySource provides upstream availability for syncing into the shadow schedule.
type AvailabilitySource interface {
	GetAvailableSchedules(ctx context.Context, req booking.AvailabilityRequest) (*booking.AvailabilityResult, error)
}

// Config configures the shadow adapter.
type Config struct {
	Upstream AvailabilitySource
	// UpstreamFor builds a per-integration upstream and overrides Upstream
	// when it returns a non-nil source.
	UpstreamFor func(integration scheduling.Integration) (AvailabilitySource, error)
	// Entities seeds ExtractEntity results per type.
	Entities map[scheduling.EntityType][]scheduling.Entity
	// Prices maps appointment type codes to their value.
	Prices map[string]scheduling.AppointmentValue
	Now    func() time.Time
}

// Adapter implements booking.Adapter and booking.NativeRescheduler in memory.
type Adapter struct {
	upstream AvailabilitySource
	store    *memoryStore
	prices   map[string]scheduling.AppointmentValue
	now      func() time.Time
}

var (
	_ booking.Adapter           = (*Adapter)(nil)
	_ booking.NativeRescheduler = (*Adapter)(nil)
)

// New creates a shadow adapter with an empty schedule.
func New(cfg Config) *Adapter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	a := &Adapter{
		upstream: cfg.Upstream,
		store:    newMemoryStore(),
		prices:   cfg.Prices,
		now:      now,
	}
	for t, entities := range cfg.Entities {
		a.store.setEntities(t, entities)
	}
	return a
}

// NewFactory builds one independent shadow schedule per integration.
func NewFactory(cfg Config) booking.Factory {
	return func(integration scheduling.Integration) (booking.Adapter, error) {
		c := cfg
		if cfg.UpstreamFor != nil {
			upstream, err := cfg.UpstreamFor(integration)
			if err != nil {
				return nil, fmt.Errorf("shadow: build upstream: %w", err)
			}
			if upstream != nil {
				c.Upstream = upstream
			}
		}
		return New(c), nil
	}
}

func (a *Adapter) Name() string { return ProviderName }

// AddSlots seeds free slots. Slots without a code get a generated one.
func (a *Adapter) AddSlots(slots ...scheduling.Appointment) {
	a.store.addSlots(slots)
}

// SetEntities replaces the entities extracted for entityType.
func (a *Adapter) SetEntities(entityType scheduling.EntityType, entities []scheduling.Entity) {
	a.store.setEntities(entityType, entities)
}

// SyncAvailabilityOptions bounds one upstream sync.
type SyncAvailabilityOptions struct {
	Filter     scheduling.CorrelationFilter
	WindowDays int
}

// SyncAvailability refreshes the shadow schedule from the upstream source.
func (a *Adapter) SyncAvailability(ctx context.Context, opts SyncAvailabilityOptions) error {
	if a.upstream == nil {
		return errors.New("shadow: upstream not configured")
	}

	windowDays := opts.WindowDays
	if windowDays <= 0 {
		windowDays = 7
	}
	if windowDays > 60 {
		windowDays = 60
	}

	start := a.now().UTC()
	end := start.AddDate(0, 0, windowDays)
	result, err := a.upstream.GetAvailableSchedules(ctx, booking.AvailabilityRequest{
		Filter: opts.Filter,
		Start:  start,
		End:    end,
	})
	if err != nil {
		return fmt.Errorf("shadow: sync availability: %w", err)
	}
	var slots []scheduling.Appointment
	if result != nil {
		slots = result.Schedules
	}
	a.store.replaceSlots(start, slots)
	return nil
}

func (a *Adapter) GetPatient(_ context.Context, filter scheduling.PatientFilter) (*scheduling.Patient, error) {
	const op = "shadow.GetPatient"
	if code := strings.TrimSpace(filter.Code); code != "" {
		p, err := a.store.getPatient(code)
		if err != nil {
			return nil, scheduling.NotFound(op, "patient %s", code)
		}
		return p, nil
	}
	p := scheduling.PickPatient(a.store.patientsByCpf(filter.Cpf), filter.BornDate)
	if p == nil {
		return nil, scheduling.NotFound(op, "no patient with cpf %s", filter.Cpf)
	}
	return p, nil
}

func (a *Adapter) CreatePatient(_ context.Context, req booking.CreatePatientRequest) (*scheduling.Patient, error) {
	p, err := a.store.createPatient(req.Patient)
	if errors.Is(err, errPatientExists) {
		return nil, scheduling.Conflict("shadow.CreatePatient", "patient already exists")
	}
	return p, err
}

func (a *Adapter) UpdatePatient(_ context.Context, code string, patient scheduling.Patient) (*scheduling.Patient, error) {
	p, err := a.store.updatePatient(code, patient)
	if errors.Is(err, errPatientNotFound) {
		return nil, scheduling.NotFound("shadow.UpdatePatient", "patient %s", code)
	}
	return p, err
}

func (a *Adapter) ExtractEntity(_ context.Context, entityType scheduling.EntityType, _ scheduling.CorrelationFilter) ([]scheduling.Entity, error) {
	return a.store.listEntities(entityType), nil
}

// GetAvailableSchedules returns free slots in the window whose entities agree
// with every resolved filter entry they carry.
func (a *Adapter) GetAvailableSchedules(_ context.Context, req booking.AvailabilityRequest) (*booking.AvailabilityResult, error) {
	slots := a.store.listSlots(req.Start, req.End)
	out := &booking.AvailabilityResult{Schedules: make([]scheduling.Appointment, 0, len(slots))}
	for _, slot := range slots {
		if !matchesFilter(slot, req.Filter) {
			continue
		}
		for t, e := range req.Filter {
			if _, ok := slot.Entities[t]; !ok {
				if slot.Entities == nil {
					slot.Entities = scheduling.CorrelationFilter{}
				}
				slot.Entities[t] = e
			}
		}
		out.Schedules = append(out.Schedules, slot)
	}
	return out, nil
}

func matchesFilter(slot scheduling.Appointment, filter scheduling.CorrelationFilter) bool {
	for t, want := range filter {
		have, ok := slot.Entities.Get(t)
		if ok && have.Code != want.Code {
			return false
		}
	}
	return true
}

func (a *Adapter) CreateSchedule(_ context.Context, req booking.CreateScheduleRequest) (*scheduling.Appointment, error) {
	const op = "shadow.CreateSchedule"
	raw, slot, err := a.store.book(req.Data["slotId"], req.AppointmentDate, doctorCode(req.Filter), a.rawFor(req))
	if err != nil {
		return nil, scheduling.IntegrationError(op, err, "slot at %s is not available", req.AppointmentDate.Format(time.RFC3339))
	}
	return toAppointment(*raw, slot, req.Filter), nil
}

// Reschedule books the new slot and cancels the old appointment atomically.
func (a *Adapter) Reschedule(_ context.Context, req booking.RescheduleRequest) (*scheduling.Appointment, error) {
	const op = "shadow.Reschedule"
	next := req.Schedule
	if next.PatientCode == "" {
		next.PatientCode = req.PatientCode
	}
	raw, slot, err := a.store.reschedule(req.ScheduleToCancelCode, next.Data["slotId"], next.AppointmentDate, doctorCode(next.Filter), a.rawFor(next))
	switch {
	case errors.Is(err, errAppointmentNotFound):
		return nil, scheduling.NotFound(op, "appointment %s", req.ScheduleToCancelCode)
	case err != nil:
		return nil, scheduling.IntegrationError(op, err, "reschedule failed")
	}
	return toAppointment(*raw, slot, next.Filter), nil
}

func (a *Adapter) rawFor(req booking.CreateScheduleRequest) scheduling.RawAppointment {
	duration := req.Duration
	if duration <= 0 {
		duration = defaultDuration
	}
	return scheduling.RawAppointment{
		Duration:    duration,
		Status:      scheduling.StatusScheduled,
		PatientCode: req.PatientCode,
		EntityCodes: req.Filter.Codes(),
		Guidance:    req.Guidance,
	}
}

func toAppointment(raw scheduling.RawAppointment, slot scheduling.Appointment, filter scheduling.CorrelationFilter) *scheduling.Appointment {
	entities := slot.Entities.Clone()
	for t, e := range filter {
		entities[t] = e
	}
	return &scheduling.Appointment{
		AppointmentCode: raw.AppointmentCode,
		AppointmentDate: raw.AppointmentDate,
		Duration:        raw.Duration,
		Status:          raw.Status,
		Entities:        entities,
		Guidance:        raw.Guidance,
	}
}

func doctorCode(filter scheduling.CorrelationFilter) string {
	if d, ok := filter.Get(scheduling.EntityDoctor); ok {
		return d.Code
	}
	return ""
}

func (a *Adapter) CancelSchedule(_ context.Context, req booking.CancelScheduleRequest) (booking.Result, error) {
	return a.transition("shadow.CancelSchedule", req.AppointmentCode, scheduling.StatusCancelled)
}

func (a *Adapter) ConfirmSchedule(_ context.Context, req booking.ConfirmScheduleRequest) (booking.Result, error) {
	return a.transition("shadow.ConfirmSchedule", req.AppointmentCode, scheduling.StatusConfirmed)
}

func (a *Adapter) transition(op, code string, status scheduling.AppointmentStatus) (booking.Result, error) {
	ok, err := a.store.setStatus(strings.TrimSpace(code), status)
	if errors.Is(err, errAppointmentNotFound) {
		return booking.Result{}, scheduling.NotFound(op, "appointment %s", code)
	}
	if err != nil {
		return booking.Result{}, err
	}
	return booking.Result{OK: ok}, nil
}

func (a *Adapter) ListPatientAppointments(_ context.Context, req booking.PatientSchedulesRequest) ([]scheduling.RawAppointment, error) {
	return a.store.patientAppointments(req.PatientCode, req.StartDate, req.EndDate), nil
}

func (a *Adapter) GetScheduleValue(_ context.Context, filter scheduling.CorrelationFilter) (*scheduling.AppointmentValue, error) {
	at, ok := filter.Get(scheduling.EntityAppointmentType)
	if !ok {
		return nil, nil
	}
	value, ok := a.prices[at.Code]
	if !ok {
		return nil, nil
	}
	return &value, nil
}

// GetStatus is always healthy; the message carries the last sync time.
func (a *Adapter) GetStatus(context.Context) (booking.Status, error) {
	last := a.store.lastSyncAt()
	if last.IsZero() {
		return booking.Status{OK: true, Message: "never synced"}, nil
	}
	return booking.Status{OK: true, Message: "synced at " + last.Format(time.RFC3339)}, nil
}
