package booking

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/scheduling-integrator/internal/observability/metrics"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

var adapterTracer = otel.Tracer("scheduling.internal.booking")

// InstrumentConfig configures the instrumented adapter decorator.
type InstrumentConfig struct {
	Metrics *metrics.IntegrationMetrics
	Logger  *logging.Logger
	// Timeout bounds every upstream call unless the integration overrides it.
	Timeout time.Duration
}

// Instrumented returns a Middleware applying Instrument with cfg.
func Instrumented(cfg InstrumentConfig) Middleware {
	return func(adapter Adapter, integration scheduling.Integration) Adapter {
		c := cfg
		if integration.Rules.AdapterTimeout > 0 {
			c.Timeout = integration.Rules.AdapterTimeout
		}
		c.Logger = c.Logger.WithIntegration(integration.ID, adapter.Name())
		return Instrument(adapter, c)
	}
}

// Instrument wraps adapter so every call gets a deadline, a span, metrics and
// errors tagged "<provider>.<operation>". NativeRescheduler is preserved.
func Instrument(adapter Adapter, cfg InstrumentConfig) Adapter {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	base := &instrumentedAdapter{next: adapter, cfg: cfg}
	if _, ok := adapter.(NativeRescheduler); ok {
		return &instrumentedRescheduler{base}
	}
	return base
}

type instrumentedAdapter struct {
	next Adapter
	cfg  InstrumentConfig
}

type instrumentedRescheduler struct {
	*instrumentedAdapter
}

var (
	_ Adapter           = (*instrumentedAdapter)(nil)
	_ SearchLimiter     = (*instrumentedAdapter)(nil)
	_ NativeRescheduler = (*instrumentedRescheduler)(nil)
)

// Unwrap returns the decorated adapter.
func (a *instrumentedAdapter) Unwrap() Adapter { return a.next }

func (a *instrumentedAdapter) Name() string { return a.next.Name() }

// MaxDaysPerSearch forwards the provider limit; zero when the provider has none.
func (a *instrumentedAdapter) MaxDaysPerSearch() int {
	if l, ok := a.next.(SearchLimiter); ok {
		return l.MaxDaysPerSearch()
	}
	return 0
}

func (a *instrumentedAdapter) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	op := a.next.Name() + "." + operation
	ctx, span := adapterTracer.Start(ctx, "booking."+operation)
	defer span.End()
	span.SetAttributes(attribute.String("scheduling.provider", a.next.Name()))

	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
			err = scheduling.IntegrationError(op, err, "upstream call timed out")
		} else {
			err = scheduling.Wrap(op, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.cfg.Logger.Debug("adapter call failed", "operation", op, "error", err)
	}
	a.cfg.Metrics.ObserveAdapterCall(a.next.Name(), operation, status, time.Since(start).Seconds())
	return err
}

func (a *instrumentedAdapter) GetPatient(ctx context.Context, filter scheduling.PatientFilter) (*scheduling.Patient, error) {
	var out *scheduling.Patient
	err := a.call(ctx, "GetPatient", func(ctx context.Context) error {
		var err error
		out, err = a.next.GetPatient(ctx, filter)
		return err
	})
	return out, err
}

func (a *instrumentedAdapter) CreatePatient(ctx context.Context, req CreatePatientRequest) (*scheduling.Patient, error) {
	var out *scheduling.Patient
	err := a.call(ctx, "CreatePatient", func(ctx context.Context) error {
		var err error
		out, err = a.next.CreatePatient(ctx, req)
		return err
	})
	return out, err
}

func (a *instrumentedAdapter) UpdatePatient(ctx context.Context, code string, patient scheduling.Patient) (*scheduling.Patient, error) {
	var out *scheduling.Patient
	err := a.call(ctx, "UpdatePatient", func(ctx context.Context) error {
		var err error
		out, err = a.next.UpdatePatient(ctx, code, patient)
		return err
	})
	return out, err
}

func (a *instrumentedAdapter) ExtractEntity(ctx context.Context, entityType scheduling.EntityType, filter scheduling.CorrelationFilter) ([]scheduling.Entity, error) {
	var out []scheduling.Entity
	err := a.call(ctx, "ExtractEntity", func(ctx context.Context) error {
		var err error
		out, err = a.next.ExtractEntity(ctx, entityType, filter)
		return err
	})
	return out, err
}

func (a *instrumentedAdapter) GetAvailableSchedules(ctx context.Context, req AvailabilityRequest) (*AvailabilityResult, error) {
	var out *AvailabilityResult
	err := a.call(ctx, "GetAvailableSchedules", func(ctx context.Context) error {
		var err error
		out, err = a.next.GetAvailableSchedules(ctx, req)
		return err
	})
	return out, err
}

func (a *instrumentedAdapter) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*scheduling.Appointment, error) {
	var out *scheduling.Appointment
	err := a.call(ctx, "CreateSchedule", func(ctx context.Context) error {
		var err error
		out, err = a.next.CreateSchedule(ctx, req)
		return err
	})
	return out, err
}

func (a *instrumentedAdapter) CancelSchedule(ctx context.Context, req CancelScheduleRequest) (Result, error) {
	var out Result
	err := a.call(ctx, "CancelSchedule", func(ctx context.Context) error {
		var err error
		out, err = a.next.CancelSchedule(ctx, req)
		return err
	})
	return out, err
}

func (a *instrumentedAdapter) ConfirmSchedule(ctx context.Context, req ConfirmScheduleRequest) (Result, error) {
	var out Result
	err := a.call(ctx, "ConfirmSchedule", func(ctx context.Context) error {
		var err error
		out, err = a.next.ConfirmSchedule(ctx, req)
		return err
	})
	return out, err
}

func (a *instrumentedAdapter) ListPatientAppointments(ctx context.Context, req PatientSchedulesRequest) ([]scheduling.RawAppointment, error) {
	var out []scheduling.RawAppointment
	err := a.call(ctx, "ListPatientAppointments", func(ctx context.Context) error {
		var err error
		out, err = a.next.ListPatientAppointments(ctx, req)
		return err
	})
	return out, err
}

func (a *instrumentedAdapter) GetScheduleValue(ctx context.Context, filter scheduling.CorrelationFilter) (*scheduling.AppointmentValue, error) {
	var out *scheduling.AppointmentValue
	err := a.call(ctx, "GetScheduleValue", func(ctx context.Context) error {
		var err error
		out, err = a.next.GetScheduleValue(ctx, filter)
		return err
	})
	return out, err
}

func (a *instrumentedAdapter) GetStatus(ctx context.Context) (Status, error) {
	var out Status
	err := a.call(ctx, "GetStatus", func(ctx context.Context) error {
		var err error
		out, err = a.next.GetStatus(ctx)
		return err
	})
	return out, err
}

func (a *instrumentedRescheduler) Reschedule(ctx context.Context, req RescheduleRequest) (*scheduling.Appointment, error) {
	var out *scheduling.Appointment
	err := a.call(ctx, "Reschedule", func(ctx context.Context) error {
		var err error
		out, err = a.next.(NativeRescheduler).Reschedule(ctx, req)
		return err
	})
	return out, err
}
