package patientschedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/booking/bookingtest"
	"github.com/wolfman30/scheduling-integrator/internal/cachestore"
	"github.com/wolfman30/scheduling-integrator/internal/correlation"
	"github.com/wolfman30/scheduling-integrator/internal/entitystore"
	"github.com/wolfman30/scheduling-integrator/internal/flow"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

var (
	now         = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	integration = scheduling.Integration{ID: "int-1", Provider: "fake", Rules: scheduling.Rules{FollowUpPeriodDays: 30}}
)

type staticAdapters struct{ adapter booking.Adapter }

func (s staticAdapters) Resolve(scheduling.Integration) (booking.Adapter, error) { return s.adapter, nil }

func catalog() *entitystore.MemoryStore {
	return entitystore.NewMemoryStore(
		scheduling.Entity{Code: "d1", Name: "Dr One", EntityType: scheduling.EntityDoctor, IntegrationID: "int-1", ActiveErp: true, CanSchedule: true},
		scheduling.Entity{
			Code: "C1", Name: "Consultation", EntityType: scheduling.EntityAppointmentType, IntegrationID: "int-1", ActiveErp: true,
			Params: scheduling.EntityParams{ReferenceScheduleType: scheduling.ScheduleTypeConsultation},
		},
		scheduling.Entity{Code: "E1", Name: "Exam", EntityType: scheduling.EntityAppointmentType, IntegrationID: "int-1", ActiveErp: true},
	)
}

func raw(code string, at time.Time, status scheduling.AppointmentStatus, appointmentType string) scheduling.RawAppointment {
	return scheduling.RawAppointment{
		AppointmentCode: code,
		AppointmentDate: at,
		Status:          status,
		EntityCodes: scheduling.CorrelationFilterByKey{
			scheduling.EntityDoctor:          "d1",
			scheduling.EntityAppointmentType: appointmentType,
		},
	}
}

func newAggregator(adapter booking.Adapter, store cachestore.Store, flows flow.Matcher) *Aggregator {
	entities := catalog()
	return New(Config{
		Adapters: staticAdapters{adapter: adapter},
		Resolver: correlation.NewResolver(entitystore.RepositoryFinder{Repo: entities}, nil),
		Entities: entities,
		Flows:    flows,
		Cache:    store,
		TTL:      time.Minute,
		Now:      func() time.Time { return now },
	})
}

func historyAdapter(raws ...scheduling.RawAppointment) *bookingtest.Adapter {
	return &bookingtest.Adapter{
		ListPatientAppointmentsFunc: func(context.Context, booking.PatientSchedulesRequest) ([]scheduling.RawAppointment, error) {
			return raws, nil
		},
	}
}

func TestGetMinified_PartitionsLastAndNext(t *testing.T) {
	day := 24 * time.Hour
	adapter := historyAdapter(
		raw("t+3", now.Add(3*day), scheduling.StatusScheduled, "C1"),
		raw("t-2", now.Add(-2*day), scheduling.StatusFinished, "C1"),
		raw("t+1", now.Add(day), scheduling.StatusConfirmed, "C1"),
		raw("t-1", now.Add(-day), scheduling.StatusFinished, "C1"),
		raw("cancelled", now.Add(2*day), scheduling.StatusCancelled, "C1"),
	)
	agg := newAggregator(adapter, cachestore.NewMemoryStore(), nil)

	res, err := agg.GetMinifiedPatientSchedules(context.Background(), integration, Request{PatientCode: "p1"})
	require.NoError(t, err)
	require.Len(t, res.AppointmentList, 4)
	assert.Equal(t, "t-2", res.AppointmentList[0].AppointmentCode)
	require.NotNil(t, res.LastAppointment)
	require.NotNil(t, res.NextAppointment)
	assert.Equal(t, "t-1", res.LastAppointment.AppointmentCode)
	assert.Equal(t, "t+1", res.NextAppointment.AppointmentCode)
	assert.Equal(t, now.Add(day).Format(scheduling.AppointmentDateLayout), res.NextAppointment.AppointmentDate)
}

func TestGetMinified_WindowBoundsAreExclusive(t *testing.T) {
	start := now.Add(-48 * time.Hour)
	end := now.Add(72 * time.Hour)
	adapter := historyAdapter(
		raw("at-start", start, scheduling.StatusScheduled, "C1"),
		raw("inside", now.Add(time.Hour), scheduling.StatusScheduled, "C1"),
		raw("at-end", end, scheduling.StatusScheduled, "C1"),
	)
	agg := newAggregator(adapter, cachestore.NewMemoryStore(), nil)

	res, err := agg.GetMinifiedPatientSchedules(context.Background(), integration, Request{PatientCode: "p1", StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	require.Len(t, res.AppointmentList, 1)
	assert.Equal(t, "inside", res.AppointmentList[0].AppointmentCode)
	assert.Nil(t, res.LastAppointment)
}

func TestGetMinified_EmptyResultIsCached(t *testing.T) {
	adapter := historyAdapter()
	store := cachestore.NewMemoryStore()
	agg := newAggregator(adapter, store, nil)
	ctx := context.Background()

	res, err := agg.GetMinifiedPatientSchedules(ctx, integration, Request{PatientCode: "p1", Cache: true})
	require.NoError(t, err)
	assert.Empty(t, res.AppointmentList)
	assert.Nil(t, res.NextAppointment)

	_, err = agg.GetMinifiedPatientSchedules(ctx, integration, Request{PatientCode: "p1", Cache: true})
	require.NoError(t, err)
	assert.Len(t, adapter.CallsTo("ListPatientAppointments"), 1)
	assert.Equal(t, 2, store.Len())

	require.NoError(t, agg.Invalidate(ctx, integration.ID, "p1"))
	assert.Equal(t, 0, store.Len())
}

func TestGetMinified_AttachesFlowActions(t *testing.T) {
	adapter := historyAdapter(raw("a1", now.Add(time.Hour), scheduling.StatusScheduled, "C1"))
	flows := &flow.RuleMatcher{Rules: []flow.Rule{{
		FlowType: scheduling.FlowTypeConfirmation,
		Requires: scheduling.CorrelationFilterByKey{scheduling.EntityDoctor: "d1"},
		Action:   scheduling.FlowAction{Type: "send-confirmation"},
	}}}
	agg := newAggregator(adapter, cachestore.NewMemoryStore(), flows)

	res, err := agg.GetMinifiedPatientSchedules(context.Background(), integration, Request{PatientCode: "p1"})
	require.NoError(t, err)
	require.Len(t, res.AppointmentList, 1)
	assert.Equal(t, []scheduling.FlowAction{{Type: "send-confirmation"}}, res.AppointmentList[0].Actions)
}

func TestPatientAppointments_ResolvesEntities(t *testing.T) {
	adapter := historyAdapter(raw("a1", now.Add(time.Hour), "", "C1"))
	agg := newAggregator(adapter, cachestore.NewMemoryStore(), nil)

	appts, err := agg.PatientAppointments(context.Background(), integration, "p1")
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, scheduling.StatusScheduled, appts[0].Status)
	assert.Equal(t, "Dr One", appts[0].Entities[scheduling.EntityDoctor].Name)
	assert.True(t, appts[0].Entities.IsConsultation())
}

func TestGetPatientFollowUpSchedules(t *testing.T) {
	day := 24 * time.Hour
	adapter := historyAdapter(
		raw("old", now.Add(-40*day), scheduling.StatusFinished, "C1"),
		raw("recent", now.Add(-5*day), scheduling.StatusFinished, "C1"),
		raw("exam", now.Add(-3*day), scheduling.StatusFinished, "E1"),
		raw("future", now.Add(3*day), scheduling.StatusScheduled, "C1"),
	)
	agg := newAggregator(adapter, cachestore.NewMemoryStore(), nil)

	out, err := agg.GetPatientFollowUpSchedules(context.Background(), integration, Request{PatientCode: "p1"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "recent", out[0].AppointmentCode)
	assert.True(t, out[0].InFollowUpPeriod)
	assert.Equal(t, now.Add(-5*day).AddDate(0, 0, 30), out[0].FollowUpLimit)
	assert.Equal(t, "old", out[1].AppointmentCode)
	assert.False(t, out[1].InFollowUpPeriod)
}

func TestPartition(t *testing.T) {
	last, next := Partition(nil, now)
	assert.Equal(t, -1, last)
	assert.Equal(t, -1, next)
}
