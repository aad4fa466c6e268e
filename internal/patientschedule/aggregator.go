// Package patientschedule builds patient appointment histories: the minified
// summary with last/next appointments, the full transformed list used by the
// search rules, and follow-up windows.
package patientschedule

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/cachestore"
	"github.com/wolfman30/scheduling-integrator/internal/correlation"
	"github.com/wolfman30/scheduling-integrator/internal/entitystore"
	"github.com/wolfman30/scheduling-integrator/internal/flow"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

// DefaultTTL applies when Config.TTL is not set.
const DefaultTTL = 10 * time.Minute

const (
	opMinified  = "patientschedule.GetMinifiedPatientSchedules"
	opFollowUps = "patientschedule.GetPatientFollowUpSchedules"
	opHistory   = "patientschedule.PatientAppointments"
)

var actionFlows = []scheduling.FlowType{
	scheduling.FlowTypeConfirmation,
	scheduling.FlowTypeCancellation,
	scheduling.FlowTypeReschedule,
}

// AdapterResolver returns the adapter serving an integration.
type AdapterResolver interface {
	Resolve(integration scheduling.Integration) (booking.Adapter, error)
}

// Request selects a patient history.
type Request struct {
	PatientCode string
	// StartDate and EndDate are exclusive bounds; nil leaves the side open.
	StartDate *time.Time
	EndDate   *time.Time
	// Cache allows answering from a previous fetch.
	Cache bool
}

// Config wires the aggregator.
type Config struct {
	Adapters AdapterResolver
	Resolver *correlation.Resolver
	Entities entitystore.Repository
	Flows    flow.Matcher
	Cache    cachestore.Store
	TTL      time.Duration
	Logger   *logging.Logger
	Now      func() time.Time
}

// Aggregator implements the patient schedule views.
type Aggregator struct {
	adapters AdapterResolver
	resolver *correlation.Resolver
	entities entitystore.Repository
	flows    flow.Matcher
	cache    cachestore.Store
	ttl      time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

// New builds an Aggregator.
func New(cfg Config) *Aggregator {
	if cfg.Adapters == nil || cfg.Resolver == nil || cfg.Cache == nil {
		panic("patientschedule: adapters, resolver and cache are required")
	}
	if cfg.Flows == nil {
		cfg.Flows = flow.PassThrough{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{
		adapters: cfg.Adapters,
		resolver: cfg.Resolver,
		entities: cfg.Entities,
		flows:    cfg.Flows,
		cache:    cfg.Cache,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

func cacheKey(view, integrationID, patientCode string) string {
	return cachestore.CreateCustomKey("patient-schedules", map[string]string{
		"view":        view,
		"integration": integrationID,
		"patient":     patientCode,
	})
}

// MinifiedKey and FullKey are the cache keys of a patient's history views.
func MinifiedKey(integrationID, patientCode string) string {
	return cacheKey("minified", integrationID, patientCode)
}

func FullKey(integrationID, patientCode string) string {
	return cacheKey("full", integrationID, patientCode)
}

// Invalidate drops the cached views of a patient after a booking change.
func (a *Aggregator) Invalidate(ctx context.Context, integrationID, patientCode string) error {
	return a.cache.Delete(ctx, MinifiedKey(integrationID, patientCode), FullKey(integrationID, patientCode))
}

// GetMinifiedPatientSchedules returns the patient's active appointments with
// their next-step actions plus the last and next appointment relative to now.
// Unwindowed results are cached, including empty ones.
func (a *Aggregator) GetMinifiedPatientSchedules(ctx context.Context, integration scheduling.Integration, req Request) (*scheduling.MinifiedAppointments, error) {
	if req.PatientCode == "" {
		return nil, scheduling.NotFound(opMinified, "patient code is required")
	}
	windowed := req.StartDate != nil || req.EndDate != nil
	minKey := MinifiedKey(integration.ID, req.PatientCode)
	if req.Cache && !windowed {
		var cached scheduling.MinifiedAppointments
		if err := a.cache.Get(ctx, minKey, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, cachestore.ErrCacheMiss) {
			a.logger.Warn("patient schedules cache read failed", "error", err)
		}
	}

	appointments, err := a.appointments(ctx, integration, req.PatientCode, req.Cache)
	if err != nil {
		return nil, scheduling.Wrap(opMinified, err)
	}
	appointments = inWindow(appointments, req.StartDate, req.EndDate)

	minified := make([]scheduling.MinifiedAppointment, 0, len(appointments))
	for _, appt := range appointments {
		actions, err := a.flows.MatchFlowsAndGetActions(ctx, integration, actionFlows, appt.Entities)
		if err != nil {
			return nil, scheduling.Wrap(opMinified, err)
		}
		minified = append(minified, scheduling.MinifiedAppointment{
			AppointmentCode: appt.AppointmentCode,
			AppointmentDate: appt.FormattedDate(),
			Actions:         actions,
		})
	}

	result := &scheduling.MinifiedAppointments{AppointmentList: minified}
	last, next := Partition(appointments, a.now())
	if last >= 0 {
		result.LastAppointment = &minified[last]
	}
	if next >= 0 {
		result.NextAppointment = &minified[next]
	}

	if !windowed {
		if err := a.cache.Set(ctx, minKey, result, a.ttl); err != nil {
			a.logger.Warn("patient schedules cache write failed", "error", err)
		}
	}
	return result, nil
}

// Partition returns the index of the most recent appointment at or before now
// and of the first one after now in a date-ascending list; -1 when absent.
func Partition(sorted []scheduling.Appointment, now time.Time) (last, next int) {
	last, next = -1, -1
	for i, appt := range sorted {
		if !appt.AppointmentDate.After(now) {
			last = i
			continue
		}
		next = i
		break
	}
	return last, next
}

// PatientAppointments returns the patient's active appointments, resolved
// and ascending by date. Cached results are reused.
func (a *Aggregator) PatientAppointments(ctx context.Context, integration scheduling.Integration, patientCode string) ([]scheduling.Appointment, error) {
	appts, err := a.appointments(ctx, integration, patientCode, true)
	if err != nil {
		return nil, scheduling.Wrap(opHistory, err)
	}
	return appts, nil
}

// GetPatientFollowUpSchedules returns past consultations with their follow-up
// deadline, newest first. Appointments without a follow-up period are skipped.
func (a *Aggregator) GetPatientFollowUpSchedules(ctx context.Context, integration scheduling.Integration, req Request) ([]scheduling.FollowUpAppointment, error) {
	if req.PatientCode == "" {
		return nil, scheduling.NotFound(opFollowUps, "patient code is required")
	}
	appointments, err := a.appointments(ctx, integration, req.PatientCode, req.Cache)
	if err != nil {
		return nil, scheduling.Wrap(opFollowUps, err)
	}
	appointments = inWindow(appointments, req.StartDate, req.EndDate)

	now := a.now()
	out := []scheduling.FollowUpAppointment{}
	for i := len(appointments) - 1; i >= 0; i-- {
		appt := appointments[i]
		if appt.AppointmentDate.After(now) || !appt.Entities.IsConsultation() {
			continue
		}
		days := followUpDays(appt, integration.Rules)
		if days <= 0 {
			continue
		}
		limit := appt.AppointmentDate.AddDate(0, 0, days)
		out = append(out, scheduling.FollowUpAppointment{
			Appointment:      appt,
			FollowUpLimit:    limit,
			InFollowUpPeriod: !now.After(limit),
		})
	}
	return out, nil
}

// followUpDays prefers the procedure, then the speciality, then the integration rule.
func followUpDays(appt scheduling.Appointment, rules scheduling.Rules) int {
	for _, t := range []scheduling.EntityType{scheduling.EntityProcedure, scheduling.EntitySpeciality} {
		if e, ok := appt.Entity(t); ok && e.Params.FollowUpPeriodDays > 0 {
			return e.Params.FollowUpPeriodDays
		}
	}
	return rules.FollowUpPeriodDays
}

// appointments loads, filters and transforms the patient's appointments and
// writes the full list to the cache.
func (a *Aggregator) appointments(ctx context.Context, integration scheduling.Integration, patientCode string, useCache bool) ([]scheduling.Appointment, error) {
	key := FullKey(integration.ID, patientCode)
	if useCache {
		var cached []scheduling.Appointment
		if err := a.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, cachestore.ErrCacheMiss) {
			a.logger.Warn("patient schedules cache read failed", "error", err)
		}
	}

	adapter, err := a.adapters.Resolve(integration)
	if err != nil {
		return nil, err
	}
	raws, err := adapter.ListPatientAppointments(ctx, booking.PatientSchedulesRequest{PatientCode: patientCode})
	if err != nil {
		return nil, err
	}
	active := raws[:0:0]
	for _, raw := range raws {
		if raw.Status == "" || raw.Status.Active() {
			active = append(active, raw)
		}
	}

	resolver := a.resolver
	if a.entities != nil {
		resolver = resolver.WithFinder(entitystore.NewBatchFinder(a.entities))
	}
	appointments, err := resolver.TransformAll(ctx, integration, active)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(appointments, func(i, j int) bool {
		return appointments[i].AppointmentDate.Before(appointments[j].AppointmentDate)
	})
	if appointments == nil {
		appointments = []scheduling.Appointment{}
	}

	if err := a.cache.Set(ctx, key, appointments, a.ttl); err != nil {
		a.logger.Warn("patient schedules cache write failed", "error", err)
	}
	return appointments, nil
}

// inWindow keeps appointments strictly between start and end.
func inWindow(appointments []scheduling.Appointment, start, end *time.Time) []scheduling.Appointment {
	if start == nil && end == nil {
		return appointments
	}
	out := make([]scheduling.Appointment, 0, len(appointments))
	for _, appt := range appointments {
		if start != nil && !appt.AppointmentDate.After(*start) {
			continue
		}
		if end != nil && !appt.AppointmentDate.Before(*end) {
			continue
		}
		out = append(out, appt)
	}
	return out
}
