// Package reschedule moves a patient to a new slot with create-then-cancel
// ordering and compensates the new booking when the old one cannot be
// cancelled.
package reschedule

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/observability/metrics"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

var tracer = otel.Tracer("scheduling.internal.reschedule")

const opReschedule = "reschedule.Reschedule"

// State is a step of the reschedule state machine.
type State string

const (
	StateStart      State = "start"
	StateCreated    State = "created"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolledBack"
)

// Coordinator runs reschedules for adapters without a native implementation.
type Coordinator struct {
	metrics *metrics.IntegrationMetrics
	logger  *logging.Logger
}

// New builds a Coordinator.
func New(m *metrics.IntegrationMetrics, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{metrics: m, logger: logger}
}

// Reschedule books req.Schedule and then cancels req.ScheduleToCancelCode.
// Steps run strictly in order; the new appointment is returned only after the
// old one is cancelled.
func (c *Coordinator) Reschedule(ctx context.Context, adapter booking.Adapter, integration scheduling.Integration, req booking.RescheduleRequest) (*scheduling.Appointment, error) {
	ctx, span := tracer.Start(ctx, "reschedule.coordinate")
	defer span.End()
	span.SetAttributes(
		attribute.String("scheduling.integration_id", integration.ID),
		attribute.String("scheduling.appointment_to_cancel", req.ScheduleToCancelCode),
	)
	logger := c.logger.WithIntegration(integration.ID, adapter.Name())

	state := StateStart
	fail := func(err error) (*scheduling.Appointment, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(state))
		return nil, err
	}

	if strings.TrimSpace(req.ScheduleToCancelCode) == "" {
		return fail(scheduling.NotFound(opReschedule, "no appointment to cancel given"))
	}
	patientCode := req.PatientCode
	if patientCode == "" {
		patientCode = req.Schedule.PatientCode
	}

	current, err := adapter.ListPatientAppointments(ctx, booking.PatientSchedulesRequest{PatientCode: patientCode})
	if err != nil {
		return fail(scheduling.Wrap(opReschedule, err))
	}
	old, ok := findAppointment(current, req.ScheduleToCancelCode)
	if !ok {
		return fail(scheduling.NotFound(opReschedule, "appointment %s not found for patient %s", req.ScheduleToCancelCode, patientCode))
	}

	schedule := req.Schedule
	if schedule.PatientCode == "" {
		schedule.PatientCode = patientCode
	}
	created, err := adapter.CreateSchedule(ctx, schedule)
	if err != nil {
		return fail(scheduling.Wrap(opReschedule, err))
	}
	if created == nil || created.AppointmentCode == "" {
		return fail(scheduling.IntegrationError(opReschedule, nil, "create returned no appointment code"))
	}
	state = StateCreated
	span.SetAttributes(attribute.String("scheduling.appointment_created", created.AppointmentCode))

	res, cancelErr := adapter.CancelSchedule(ctx, booking.CancelScheduleRequest{
		AppointmentCode: old.AppointmentCode,
		PatientCode:     patientCode,
		Procedure:       codeEntity(old.EntityCodes, scheduling.EntityProcedure),
	})
	if cancelErr == nil && res.OK {
		state = StateCommitted
		logger.Info("appointment rescheduled", "from", old.AppointmentCode, "to", created.AppointmentCode)
		return created, nil
	}
	if cancelErr == nil {
		cancelErr = errors.New("cancel returned ok=false")
	}

	c.compensate(ctx, adapter, created, patientCode, schedule, logger)
	state = StateRolledBack
	return fail(scheduling.IntegrationError(opReschedule, cancelErr,
		"cancel of %s failed; new appointment %s was rolled back", old.AppointmentCode, created.AppointmentCode))
}

// compensate cancels the appointment created by this reschedule. It is best
// effort: failures are logged and counted, never returned.
func (c *Coordinator) compensate(ctx context.Context, adapter booking.Adapter, created *scheduling.Appointment, patientCode string, schedule booking.CreateScheduleRequest, logger *logging.Logger) {
	procedure, _ := schedule.Filter.Get(scheduling.EntityProcedure)
	req := booking.CancelScheduleRequest{AppointmentCode: created.AppointmentCode, PatientCode: patientCode}
	if procedure.Code != "" {
		req.Procedure = &procedure
	}
	res, err := adapter.CancelSchedule(context.WithoutCancel(ctx), req)
	switch {
	case err != nil:
		c.metrics.ObserveCompensation("failed")
		logger.Error("reschedule compensation failed; patient may hold two bookings",
			"appointment_code", created.AppointmentCode, "error", err)
	case !res.OK:
		c.metrics.ObserveCompensation("failed")
		logger.Error("reschedule compensation rejected; patient may hold two bookings",
			"appointment_code", created.AppointmentCode)
	default:
		c.metrics.ObserveCompensation("ok")
		logger.Warn("reschedule rolled back", "appointment_code", created.AppointmentCode)
	}
}

// findAppointment returns the active appointment with code. An empty status
// counts as active.
func findAppointment(appointments []scheduling.RawAppointment, code string) (scheduling.RawAppointment, bool) {
	for _, a := range appointments {
		if a.Status != "" && !a.Status.Active() {
			continue
		}
		if a.AppointmentCode == code {
			return a, true
		}
	}
	return scheduling.RawAppointment{}, false
}

func codeEntity(entityCodes scheduling.CorrelationFilterByKey, t scheduling.EntityType) *scheduling.Entity {
	code, ok := entityCodes[t]
	if !ok || code == "" {
		return nil
	}
	return &scheduling.Entity{Code: code, EntityType: t}
}
