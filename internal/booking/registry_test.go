package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/booking/bookingtest"
	"github.com/wolfman30/scheduling-integrator/internal/observability/metrics"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

func TestRegistryResolve_MemoizesPerIntegrationVersion(t *testing.T) {
	builds := 0
	reg := booking.NewRegistry()
	reg.Register("Fake", func(integration scheduling.Integration) (booking.Adapter, error) {
		builds++
		return &bookingtest.Adapter{Provider: "fake"}, nil
	})

	integration := scheduling.Integration{ID: "int-1", Provider: "fake", Version: 1}
	first, err := reg.Resolve(integration)
	require.NoError(t, err)
	second, err := reg.Resolve(integration)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)

	integration.Version = 2
	_, err = reg.Resolve(integration)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)

	reg.Evict("int-1")
	_, err = reg.Resolve(integration)
	require.NoError(t, err)
	assert.Equal(t, 3, builds)
	assert.Equal(t, []string{"fake"}, reg.Providers())
}

func TestRegistryResolve_UnknownProvider(t *testing.T) {
	reg := booking.NewRegistry()
	_, err := reg.Resolve(scheduling.Integration{ID: "int-1", Provider: "missing"})
	require.Error(t, err)
	assert.Equal(t, scheduling.KindInternal, scheduling.KindOf(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestRegistryResolve_FactoryError(t *testing.T) {
	reg := booking.NewRegistry()
	reg.Register("fake", func(scheduling.Integration) (booking.Adapter, error) {
		return nil, errors.New("bad credentials")
	})
	_, err := reg.Resolve(scheduling.Integration{ID: "int-1", Provider: "fake"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestInstrument_WrapsErrorsWithProviderOperation(t *testing.T) {
	fake := &bookingtest.Adapter{
		Provider: "nextech",
		GetPatientFunc: func(context.Context, scheduling.PatientFilter) (*scheduling.Patient, error) {
			return nil, scheduling.NotFound("", "patient 1")
		},
	}
	adapter := booking.Instrument(fake, booking.InstrumentConfig{Metrics: metrics.NewIntegrationMetrics(prometheus.NewRegistry())})

	_, err := adapter.GetPatient(context.Background(), scheduling.PatientFilter{Code: "1"})
	require.Error(t, err)
	assert.True(t, scheduling.IsNotFound(err))

	var typed *scheduling.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "nextech.GetPatient", typed.Op)
}

func TestInstrument_TimeoutBecomesIntegrationError(t *testing.T) {
	fake := &bookingtest.Adapter{
		GetStatusFunc: func(ctx context.Context) (booking.Status, error) {
			<-ctx.Done()
			return booking.Status{}, ctx.Err()
		},
	}
	adapter := booking.Instrument(fake, booking.InstrumentConfig{Timeout: 10 * time.Millisecond})

	_, err := adapter.GetStatus(context.Background())
	require.Error(t, err)
	assert.True(t, scheduling.IsIntegration(err))
}

func TestInstrument_PreservesOptionalInterfaces(t *testing.T) {
	plain := booking.Instrument(&bookingtest.Adapter{MaxDays: 14}, booking.InstrumentConfig{})
	_, native := plain.(booking.NativeRescheduler)
	assert.False(t, native)
	limiter, ok := plain.(booking.SearchLimiter)
	require.True(t, ok)
	assert.Equal(t, 14, limiter.MaxDaysPerSearch())

	moved := &scheduling.Appointment{AppointmentCode: "new"}
	rescheduler := &bookingtest.Rescheduler{
		Adapter: &bookingtest.Adapter{},
		RescheduleFunc: func(context.Context, booking.RescheduleRequest) (*scheduling.Appointment, error) {
			return moved, nil
		},
	}
	wrapped := booking.Instrument(rescheduler, booking.InstrumentConfig{})
	nr, ok := wrapped.(booking.NativeRescheduler)
	require.True(t, ok)
	got, err := nr.Reschedule(context.Background(), booking.RescheduleRequest{})
	require.NoError(t, err)
	assert.Equal(t, "new", got.AppointmentCode)
}

func TestInstrumentedMiddleware_UsesIntegrationTimeout(t *testing.T) {
	reg := booking.NewRegistry(booking.Instrumented(booking.InstrumentConfig{Timeout: time.Hour}))
	reg.Register("fake", func(scheduling.Integration) (booking.Adapter, error) {
		return &bookingtest.Adapter{
			GetStatusFunc: func(ctx context.Context) (booking.Status, error) {
				<-ctx.Done()
				return booking.Status{}, ctx.Err()
			},
		}, nil
	})
	adapter, err := reg.Resolve(scheduling.Integration{
		ID:       "int-1",
		Provider: "fake",
		Rules:    scheduling.Rules{AdapterTimeout: 5 * time.Millisecond},
	})
	require.NoError(t, err)

	_, err = adapter.GetStatus(context.Background())
	assert.True(t, scheduling.IsIntegration(err))
}
