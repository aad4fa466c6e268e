// Package integrator is the scheduling facade used by the rest of the
// platform. Every call names an integration; the facade resolves that
// integration's adapter once and runs the use case against it.
package integrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/cachestore"
	"github.com/wolfman30/scheduling-integrator/internal/correlation"
	"github.com/wolfman30/scheduling-integrator/internal/entitycache"
	"github.com/wolfman30/scheduling-integrator/internal/entitystore"
	"github.com/wolfman30/scheduling-integrator/internal/flow"
	"github.com/wolfman30/scheduling-integrator/internal/patientschedule"
	"github.com/wolfman30/scheduling-integrator/internal/reschedule"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/internal/search"
	"github.com/wolfman30/scheduling-integrator/internal/tenancy"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

var tracer = otel.Tracer("scheduling.internal.integrator")

// DefaultPatientTTL applies when Config.PatientTTL is not set.
const DefaultPatientTTL = 30 * time.Minute

// Adapters resolves the adapter of an integration.
type Adapters interface {
	Resolve(integration scheduling.Integration) (booking.Adapter, error)
}

// CreateSchedule books a slot. Filter holds provider codes.
type CreateSchedule struct {
	Filter          scheduling.CorrelationFilterByKey `json:"filter"`
	AppointmentDate time.Time                         `json:"appointmentDate"`
	Duration        int                               `json:"duration,omitempty"`
	PatientCode     string                            `json:"patientCode"`
	Guidance        string                            `json:"guidance,omitempty"`
	Data            map[string]string                 `json:"data,omitempty"`
}

// Reschedule moves a patient from ScheduleToCancelCode to Schedule.
type Reschedule struct {
	ScheduleToCancelCode string         `json:"scheduleToCancelCode"`
	PatientCode          string         `json:"patientCode"`
	Schedule             CreateSchedule `json:"schedule"`
}

// CancelSchedule cancels an appointment. ProcedureCode is optional.
type CancelSchedule struct {
	AppointmentCode string `json:"appointmentCode"`
	PatientCode     string `json:"patientCode"`
	ProcedureCode   string `json:"procedureCode,omitempty"`
}

// ConfirmSchedule confirms an appointment.
type ConfirmSchedule struct {
	AppointmentCode string     `json:"appointmentCode"`
	PatientCode     string     `json:"patientCode"`
	AppointmentDate *time.Time `json:"appointmentDate,omitempty"`
}

// Config wires the facade.
type Config struct {
	Adapters    Adapters
	Resolver    *correlation.Resolver
	Entities    entitystore.Repository
	EntityCache *entitycache.Cache
	Flows       flow.Matcher
	Search      *search.Orchestrator
	Rescheduler *reschedule.Coordinator
	Schedules   *patientschedule.Aggregator
	Cache       cachestore.Store
	PatientTTL  time.Duration
	Logger      *logging.Logger
}

// Service implements the scheduling facade.
type Service struct {
	adapters    Adapters
	resolver    *correlation.Resolver
	entities    entitystore.Repository
	entityCache *entitycache.Cache
	flows       flow.Matcher
	search      *search.Orchestrator
	rescheduler *reschedule.Coordinator
	schedules   *patientschedule.Aggregator
	cache       cachestore.Store
	patientTTL  time.Duration
	logger      *logging.Logger
}

// New builds a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Adapters == nil:
		return nil, errors.New("integrator: adapters are required")
	case cfg.Resolver == nil:
		return nil, errors.New("integrator: resolver is required")
	case cfg.Entities == nil:
		return nil, errors.New("integrator: entity repository is required")
	case cfg.EntityCache == nil:
		return nil, errors.New("integrator: entity cache is required")
	case cfg.Search == nil:
		return nil, errors.New("integrator: search orchestrator is required")
	case cfg.Schedules == nil:
		return nil, errors.New("integrator: patient schedule aggregator is required")
	case cfg.Cache == nil:
		return nil, errors.New("integrator: cache store is required")
	}
	if cfg.Flows == nil {
		cfg.Flows = flow.PassThrough{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Rescheduler == nil {
		cfg.Rescheduler = reschedule.New(nil, cfg.Logger)
	}
	if cfg.PatientTTL <= 0 {
		cfg.PatientTTL = DefaultPatientTTL
	}
	return &Service{
		adapters:    cfg.Adapters,
		resolver:    cfg.Resolver,
		entities:    cfg.Entities,
		entityCache: cfg.EntityCache,
		flows:       cfg.Flows,
		search:      cfg.Search,
		rescheduler: cfg.Rescheduler,
		schedules:   cfg.Schedules,
		cache:       cfg.Cache,
		patientTTL:  cfg.PatientTTL,
		logger:      cfg.Logger,
	}, nil
}

func (s *Service) adapter(ctx context.Context, integration scheduling.Integration) (context.Context, booking.Adapter, error) {
	adapter, err := s.adapters.Resolve(integration)
	if err != nil {
		return ctx, nil, err
	}
	return tenancy.WithIntegrationID(ctx, integration.ID), adapter, nil
}

func patientKey(integrationID, field, value string) string {
	return cachestore.CreateCustomKey("patients", map[string]string{
		"integration": integrationID,
		field:         value,
	})
}

// cpfKey scopes cpf entries by birth date: several provider records may share
// a cpf and the birth date picks between them.
func cpfKey(integrationID, cpf, bornDate string) string {
	day := ""
	if t := scheduling.ParseBornDate(bornDate); !t.IsZero() {
		day = t.Format(scheduling.DateLayout)
	}
	return cachestore.CreateCustomKey("patients", map[string]string{
		"integration": integrationID,
		"cpf":         cpf,
		"bornDate":    day,
	})
}

// GetPatient returns the patient identified by code or cpf. With
// filter.Cache a previously fetched patient may be returned.
func (s *Service) GetPatient(ctx context.Context, integration scheduling.Integration, filter scheduling.PatientFilter) (*scheduling.Patient, error) {
	const op = "integrator.GetPatient"
	if filter.Code == "" && filter.Cpf == "" {
		return nil, scheduling.NotFound(op, "patient code or cpf is required")
	}
	key := patientKey(integration.ID, "code", filter.Code)
	if filter.Code == "" {
		key = cpfKey(integration.ID, filter.Cpf, filter.BornDate)
	}
	if filter.Cache {
		var cached scheduling.Patient
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, cachestore.ErrCacheMiss) {
			s.logger.Warn("patient cache read failed", "integration_id", integration.ID, "error", err)
		}
	}

	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return nil, err
	}
	patient, err := adapter.GetPatient(ctx, filter)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return nil, scheduling.NotFound(op, "patient not found")
	}
	s.cachePatient(ctx, integration, *patient)
	if filter.Code == "" {
		// The pick for this exact cpf/bornDate pair, which may differ from
		// the patient's own birth date when nothing matched.
		s.cacheKey(ctx, integration, key, *patient)
	}
	return patient, nil
}

func (s *Service) cacheKey(ctx context.Context, integration scheduling.Integration, key string, patient scheduling.Patient) {
	if err := s.cache.Set(ctx, key, patient, s.patientTTL); err != nil {
		s.logger.Warn("patient cache write failed", "integration_id", integration.ID, "error", err)
	}
}

func (s *Service) cachePatient(ctx context.Context, integration scheduling.Integration, patient scheduling.Patient) {
	keys := []string{}
	if patient.Code != "" {
		keys = append(keys, patientKey(integration.ID, "code", patient.Code))
	}
	if patient.Cpf != "" {
		keys = append(keys, cpfKey(integration.ID, patient.Cpf, patient.BornDate))
	}
	for _, key := range keys {
		s.cacheKey(ctx, integration, key, patient)
	}
}

// CreatePatient creates a patient and primes the patient cache.
func (s *Service) CreatePatient(ctx context.Context, integration scheduling.Integration, req booking.CreatePatientRequest) (*scheduling.Patient, error) {
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return nil, err
	}
	patient, err := adapter.CreatePatient(ctx, req)
	if err != nil {
		return nil, err
	}
	if patient == nil || patient.Code == "" {
		return nil, scheduling.IntegrationError("integrator.CreatePatient", nil, "provider returned no patient code")
	}
	s.cachePatient(ctx, integration, *patient)
	return patient, nil
}

// UpdatePatient updates a patient and refreshes the patient cache.
func (s *Service) UpdatePatient(ctx context.Context, integration scheduling.Integration, code string, patient scheduling.Patient) (*scheduling.Patient, error) {
	if code == "" {
		return nil, scheduling.NotFound("integrator.UpdatePatient", "patient code is required")
	}
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return nil, err
	}
	updated, err := adapter.UpdatePatient(ctx, code, patient)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, scheduling.IntegrationError("integrator.UpdatePatient", nil, "provider returned no patient")
	}
	s.cachePatient(ctx, integration, *updated)
	return updated, nil
}

// GetAvailableSchedules resolves req.Filter and runs the schedule search.
func (s *Service) GetAvailableSchedules(ctx context.Context, integration scheduling.Integration, req scheduling.ListAvailableSchedules) (*scheduling.AvailableSchedules, error) {
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return nil, err
	}
	filter, err := s.resolver.Resolve(ctx, integration, req.Filter, correlation.Options{})
	if err != nil {
		return nil, err
	}
	return s.search.Search(ctx, adapter, integration, filter, req)
}

func (s *Service) createRequest(ctx context.Context, integration scheduling.Integration, in CreateSchedule) (booking.CreateScheduleRequest, error) {
	filter, err := s.resolver.Resolve(ctx, integration, in.Filter, correlation.Options{})
	if err != nil {
		return booking.CreateScheduleRequest{}, err
	}
	return booking.CreateScheduleRequest{
		Filter:          filter,
		AppointmentDate: in.AppointmentDate,
		Duration:        in.Duration,
		PatientCode:     in.PatientCode,
		Guidance:        in.Guidance,
		Data:            in.Data,
	}, nil
}

// CreateSchedule books a slot for a patient.
func (s *Service) CreateSchedule(ctx context.Context, integration scheduling.Integration, in CreateSchedule) (*scheduling.Appointment, error) {
	const op = "integrator.CreateSchedule"
	if in.PatientCode == "" {
		return nil, scheduling.NotFound(op, "patient code is required")
	}
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return nil, err
	}
	req, err := s.createRequest(ctx, integration, in)
	if err != nil {
		return nil, err
	}
	appt, err := adapter.CreateSchedule(ctx, req)
	if err != nil {
		return nil, err
	}
	if appt == nil || appt.AppointmentCode == "" {
		return nil, scheduling.IntegrationError(op, nil, "provider returned no appointment code")
	}
	s.invalidateSchedules(ctx, integration, in.PatientCode)
	return appt, nil
}

// CancelSchedule cancels an appointment.
func (s *Service) CancelSchedule(ctx context.Context, integration scheduling.Integration, in CancelSchedule) (booking.Result, error) {
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return booking.Result{}, err
	}
	req := booking.CancelScheduleRequest{AppointmentCode: in.AppointmentCode, PatientCode: in.PatientCode}
	if in.ProcedureCode != "" {
		procedure, err := s.resolver.Resolve(ctx, integration, scheduling.CorrelationFilterByKey{scheduling.EntityProcedure: in.ProcedureCode}, correlation.Options{ForceSingleEntity: true})
		if err != nil {
			return booking.Result{}, err
		}
		p, ok := procedure.Get(scheduling.EntityProcedure)
		if !ok {
			p = scheduling.Entity{Code: in.ProcedureCode, EntityType: scheduling.EntityProcedure}
		}
		req.Procedure = &p
	}
	res, err := adapter.CancelSchedule(ctx, req)
	if err != nil {
		return booking.Result{}, err
	}
	s.invalidateSchedules(ctx, integration, in.PatientCode)
	return res, nil
}

// ConfirmSchedule confirms an appointment. Confirming an already confirmed
// appointment succeeds.
func (s *Service) ConfirmSchedule(ctx context.Context, integration scheduling.Integration, in ConfirmSchedule) (booking.Result, error) {
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return booking.Result{}, err
	}
	res, err := adapter.ConfirmSchedule(ctx, booking.ConfirmScheduleRequest{
		AppointmentCode: in.AppointmentCode,
		PatientCode:     in.PatientCode,
		AppointmentDate: in.AppointmentDate,
	})
	if scheduling.IsConflict(err) {
		return booking.Result{OK: true}, nil
	}
	if err != nil {
		return booking.Result{}, err
	}
	s.invalidateSchedules(ctx, integration, in.PatientCode)
	return res, nil
}

// Reschedule moves an appointment, natively when the adapter supports it and
// through the compensating coordinator otherwise.
func (s *Service) Reschedule(ctx context.Context, integration scheduling.Integration, in Reschedule) (*scheduling.Appointment, error) {
	ctx, span := tracer.Start(ctx, "integrator.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("scheduling.integration_id", integration.ID))

	if in.Schedule.PatientCode == "" {
		in.Schedule.PatientCode = in.PatientCode
	}
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return nil, err
	}
	schedule, err := s.createRequest(ctx, integration, in.Schedule)
	if err != nil {
		return nil, err
	}
	req := booking.RescheduleRequest{
		ScheduleToCancelCode: in.ScheduleToCancelCode,
		PatientCode:          in.PatientCode,
		Schedule:             schedule,
	}

	var appt *scheduling.Appointment
	if native, ok := adapter.(booking.NativeRescheduler); ok {
		span.SetAttributes(attribute.Bool("scheduling.native_reschedule", true))
		appt, err = native.Reschedule(ctx, req)
	} else {
		appt, err = s.rescheduler.Reschedule(ctx, adapter, integration, req)
	}
	s.invalidateSchedules(ctx, integration, in.PatientCode)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return appt, nil
}

// GetMultipleEntitiesByFilter resolves every key of filter.
func (s *Service) GetMultipleEntitiesByFilter(ctx context.Context, integration scheduling.Integration, filter scheduling.CorrelationFilterByKey) (scheduling.CorrelationFilter, error) {
	return s.resolver.Resolve(tenancy.WithIntegrationID(ctx, integration.ID), integration, filter, correlation.Options{})
}

// GetMinifiedPatientSchedules returns the patient's summary history.
func (s *Service) GetMinifiedPatientSchedules(ctx context.Context, integration scheduling.Integration, req patientschedule.Request) (*scheduling.MinifiedAppointments, error) {
	return s.schedules.GetMinifiedPatientSchedules(tenancy.WithIntegrationID(ctx, integration.ID), integration, req)
}

// GetPatientFollowUpSchedules returns the patient's follow-up windows.
func (s *Service) GetPatientFollowUpSchedules(ctx context.Context, integration scheduling.Integration, req patientschedule.Request) ([]scheduling.FollowUpAppointment, error) {
	return s.schedules.GetPatientFollowUpSchedules(tenancy.WithIntegrationID(ctx, integration.ID), integration, req)
}

// GetScheduleValue prices an appointment described by filter. It returns a nil
// value and no error when the provider has no price.
func (s *Service) GetScheduleValue(ctx context.Context, integration scheduling.Integration, filter scheduling.CorrelationFilterByKey) (*scheduling.AppointmentValue, error) {
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolver.Resolve(ctx, integration, filter, correlation.Options{})
	if err != nil {
		return nil, err
	}
	return adapter.GetScheduleValue(ctx, resolved)
}

// GetStatus probes the provider. A failing probe is reported as ok=false.
func (s *Service) GetStatus(ctx context.Context, integration scheduling.Integration) booking.Status {
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return booking.Status{OK: false, Message: err.Error()}
	}
	status, err := adapter.GetStatus(ctx)
	if err != nil {
		s.logger.Warn("integration status probe failed", "integration_id", integration.ID, "error", err)
		return booking.Status{OK: false, Message: err.Error()}
	}
	return status
}

// InvalidatePatient drops the cached patient and schedule views.
func (s *Service) InvalidatePatient(ctx context.Context, integration scheduling.Integration, patient scheduling.Patient) error {
	var keys []string
	if patient.Code != "" {
		keys = append(keys, patientKey(integration.ID, "code", patient.Code))
	}
	if patient.Cpf != "" {
		keys = append(keys,
			cpfKey(integration.ID, patient.Cpf, patient.BornDate),
			cpfKey(integration.ID, patient.Cpf, ""),
		)
	}
	if len(keys) > 0 {
		if err := s.cache.Delete(ctx, keys...); err != nil {
			return err
		}
	}
	if patient.Code == "" {
		return nil
	}
	return s.schedules.Invalidate(ctx, integration.ID, patient.Code)
}

func (s *Service) invalidateSchedules(ctx context.Context, integration scheduling.Integration, patientCode string) {
	if patientCode == "" {
		return
	}
	if err := s.schedules.Invalidate(ctx, integration.ID, patientCode); err != nil {
		s.logger.Warn("patient schedules invalidation failed", "integration_id", integration.ID, "error", err)
	}
}
