package integrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/booking/bookingtest"
	"github.com/wolfman30/scheduling-integrator/internal/cachestore"
	"github.com/wolfman30/scheduling-integrator/internal/correlation"
	"github.com/wolfman30/scheduling-integrator/internal/entitycache"
	"github.com/wolfman30/scheduling-integrator/internal/entitystore"
	"github.com/wolfman30/scheduling-integrator/internal/patientschedule"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/internal/search"
)

var integration = scheduling.Integration{ID: "int-1", Provider: "fake", Timezone: "UTC"}

type fixture struct {
	svc      *Service
	entities *entitystore.MemoryStore
	cache    *cachestore.MemoryStore
}

func doctor(code string, canSchedule bool) scheduling.Entity {
	return scheduling.Entity{
		Code: code, Name: "Dr " + code, EntityType: scheduling.EntityDoctor, IntegrationID: integration.ID,
		Source: scheduling.SourceERP, ActiveErp: true, CanSchedule: canSchedule,
	}
}

func newFixture(t *testing.T, adapter booking.Adapter, seed ...scheduling.Entity) fixture {
	t.Helper()
	registry := booking.NewRegistry()
	registry.Register("fake", func(scheduling.Integration) (booking.Adapter, error) { return adapter, nil })

	entities := entitystore.NewMemoryStore(seed...)
	store := cachestore.NewMemoryStore()
	resolver := correlation.NewResolver(entitystore.RepositoryFinder{Repo: entities}, nil)
	aggregator := patientschedule.New(patientschedule.Config{
		Adapters: registry,
		Resolver: resolver,
		Entities: entities,
		Cache:    store,
	})
	svc, err := New(Config{
		Adapters:    registry,
		Resolver:    resolver,
		Entities:    entities,
		EntityCache: entitycache.New(store, entitycache.Options{}),
		Search:      search.New(search.Config{Entities: entities, History: aggregator}),
		Schedules:   aggregator,
		Cache:       store,
	})
	require.NoError(t, err)
	return fixture{svc: svc, entities: entities, cache: store}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestGetPatient_UsesCacheOnlyWhenAsked(t *testing.T) {
	adapter := &bookingtest.Adapter{
		GetPatientFunc: func(_ context.Context, f scheduling.PatientFilter) (*scheduling.Patient, error) {
			return &scheduling.Patient{Code: f.Code, Cpf: "123", Name: "Ana"}, nil
		},
	}
	f := newFixture(t, adapter)
	ctx := context.Background()

	p, err := f.svc.GetPatient(ctx, integration, scheduling.PatientFilter{Code: "p1", Cache: true})
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Name)

	_, err = f.svc.GetPatient(ctx, integration, scheduling.PatientFilter{Code: "p1", Cache: true})
	require.NoError(t, err)
	_, err = f.svc.GetPatient(ctx, integration, scheduling.PatientFilter{Cpf: "123", Cache: true})
	require.NoError(t, err)
	assert.Len(t, adapter.CallsTo("GetPatient"), 1)

	_, err = f.svc.GetPatient(ctx, integration, scheduling.PatientFilter{Code: "p1"})
	require.NoError(t, err)
	assert.Len(t, adapter.CallsTo("GetPatient"), 2)
}

func TestGetPatient_CpfCacheRespectsBornDate(t *testing.T) {
	family := []scheduling.Patient{
		{Code: "parent", Cpf: "111", BornDate: "1980-01-01"},
		{Code: "child", Cpf: "111", BornDate: "2015-05-05"},
	}
	adapter := &bookingtest.Adapter{
		GetPatientFunc: func(_ context.Context, f scheduling.PatientFilter) (*scheduling.Patient, error) {
			return scheduling.PickPatient(family, f.BornDate), nil
		},
	}
	f := newFixture(t, adapter)
	ctx := context.Background()

	p, err := f.svc.GetPatient(ctx, integration, scheduling.PatientFilter{Cpf: "111", BornDate: "1980-01-01", Cache: true})
	require.NoError(t, err)
	assert.Equal(t, "parent", p.Code)

	p, err = f.svc.GetPatient(ctx, integration, scheduling.PatientFilter{Cpf: "111", BornDate: "2015-05-05", Cache: true})
	require.NoError(t, err)
	assert.Equal(t, "child", p.Code)
	assert.Len(t, adapter.CallsTo("GetPatient"), 2)

	p, err = f.svc.GetPatient(ctx, integration, scheduling.PatientFilter{Cpf: "111", BornDate: "2015-05-05T00:00:00Z", Cache: true})
	require.NoError(t, err)
	assert.Equal(t, "child", p.Code)
	assert.Len(t, adapter.CallsTo("GetPatient"), 2)

	p, err = f.svc.GetPatient(ctx, integration, scheduling.PatientFilter{Cpf: "111", Cache: true})
	require.NoError(t, err)
	assert.Equal(t, "parent", p.Code)
	assert.Len(t, adapter.CallsTo("GetPatient"), 3)
}

func TestGetPatient_RequiresIdentifier(t *testing.T) {
	f := newFixture(t, &bookingtest.Adapter{})
	_, err := f.svc.GetPatient(context.Background(), integration, scheduling.PatientFilter{})
	assert.True(t, scheduling.IsNotFound(err))
}

func TestGetPatient_NotFoundPropagates(t *testing.T) {
	f := newFixture(t, &bookingtest.Adapter{})
	_, err := f.svc.GetPatient(context.Background(), integration, scheduling.PatientFilter{Code: "nobody"})
	assert.True(t, scheduling.IsNotFound(err))
}

func TestCreatePatient_PrimesCache(t *testing.T) {
	adapter := &bookingtest.Adapter{
		CreatePatientFunc: func(_ context.Context, req booking.CreatePatientRequest) (*scheduling.Patient, error) {
			p := req.Patient
			p.Code = "new-p"
			return &p, nil
		},
	}
	f := newFixture(t, adapter)
	ctx := context.Background()

	created, err := f.svc.CreatePatient(ctx, integration, booking.CreatePatientRequest{Patient: scheduling.Patient{Name: "Bia", Cpf: "999"}})
	require.NoError(t, err)
	assert.Equal(t, "new-p", created.Code)

	p, err := f.svc.GetPatient(ctx, integration, scheduling.PatientFilter{Cpf: "999", Cache: true})
	require.NoError(t, err)
	assert.Equal(t, "new-p", p.Code)
	assert.Empty(t, adapter.CallsTo("GetPatient"))

	require.NoError(t, f.svc.InvalidatePatient(ctx, integration, *created))
	_, err = f.svc.GetPatient(ctx, integration, scheduling.PatientFilter{Cpf: "999", Cache: true})
	assert.True(t, scheduling.IsNotFound(err))
}

func TestGetAvailableSchedules_ResolvesFilterBeforeSearch(t *testing.T) {
	adapter := &bookingtest.Adapter{}
	f := newFixture(t, adapter, doctor("d1", true))

	res, err := f.svc.GetAvailableSchedules(context.Background(), integration, scheduling.ListAvailableSchedules{
		Filter:   scheduling.CorrelationFilterByKey{scheduling.EntityDoctor: "d1"},
		FromDay:  1,
		UntilDay: 3,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Schedules)

	calls := adapter.CallsTo("GetAvailableSchedules")
	require.Len(t, calls, 1)
	req := calls[0].(booking.AvailabilityRequest)
	assert.Equal(t, "Dr d1", req.Filter[scheduling.EntityDoctor].Name)
}

func TestGetAvailableSchedules_UnknownProvider(t *testing.T) {
	f := newFixture(t, &bookingtest.Adapter{})
	other := integration
	other.ID = "int-2"
	other.Provider = "unknown"

	_, err := f.svc.GetAvailableSchedules(context.Background(), other, scheduling.ListAvailableSchedules{UntilDay: 1})
	require.Error(t, err)
	assert.Equal(t, scheduling.KindInternal, scheduling.KindOf(err))
}

func TestCreateSchedule_RejectsMissingCode(t *testing.T) {
	adapter := &bookingtest.Adapter{
		CreateScheduleFunc: func(context.Context, booking.CreateScheduleRequest) (*scheduling.Appointment, error) {
			return &scheduling.Appointment{}, nil
		},
	}
	f := newFixture(t, adapter)

	_, err := f.svc.CreateSchedule(context.Background(), integration, CreateSchedule{PatientCode: "p1", AppointmentDate: time.Now().Add(time.Hour)})
	assert.True(t, scheduling.IsIntegration(err))
}

func TestCreateSchedule_InvalidatesPatientSchedules(t *testing.T) {
	adapter := &bookingtest.Adapter{
		CreateScheduleFunc: func(context.Context, booking.CreateScheduleRequest) (*scheduling.Appointment, error) {
			return &scheduling.Appointment{AppointmentCode: "a1"}, nil
		},
	}
	f := newFixture(t, adapter)
	ctx := context.Background()

	_, err := f.svc.GetMinifiedPatientSchedules(ctx, integration, patientschedule.Request{PatientCode: "p1", Cache: true})
	require.NoError(t, err)
	require.Equal(t, 2, f.cache.Len())

	_, err = f.svc.CreateSchedule(ctx, integration, CreateSchedule{PatientCode: "p1", AppointmentDate: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 0, f.cache.Len())
}

func TestConfirmSchedule_AlreadyConfirmedIsOK(t *testing.T) {
	adapter := &bookingtest.Adapter{
		ConfirmScheduleFunc: func(context.Context, booking.ConfirmScheduleRequest) (booking.Result, error) {
			return booking.Result{}, scheduling.Conflict("ConfirmSchedule", "already confirmed")
		},
	}
	f := newFixture(t, adapter)

	res, err := f.svc.ConfirmSchedule(context.Background(), integration, ConfirmSchedule{AppointmentCode: "a1", PatientCode: "p1"})
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestCancelSchedule_ResolvesProcedure(t *testing.T) {
	adapter := &bookingtest.Adapter{}
	procedure := scheduling.Entity{Code: "10", Name: "ecg", EntityType: scheduling.EntityProcedure, IntegrationID: integration.ID, ActiveErp: true}
	f := newFixture(t, adapter, procedure)

	res, err := f.svc.CancelSchedule(context.Background(), integration, CancelSchedule{AppointmentCode: "a1", PatientCode: "p1", ProcedureCode: "10"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	req := adapter.CallsTo("CancelSchedule")[0].(booking.CancelScheduleRequest)
	require.NotNil(t, req.Procedure)
	assert.Equal(t, "ecg", req.Procedure.Name)
}

func TestReschedule_PrefersNativeImplementation(t *testing.T) {
	native := &bookingtest.Rescheduler{
		Adapter: &bookingtest.Adapter{},
		RescheduleFunc: func(_ context.Context, req booking.RescheduleRequest) (*scheduling.Appointment, error) {
			return &scheduling.Appointment{AppointmentCode: "native-" + req.ScheduleToCancelCode}, nil
		},
	}
	f := newFixture(t, native)

	appt, err := f.svc.Reschedule(context.Background(), integration, Reschedule{ScheduleToCancelCode: "old", PatientCode: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "native-old", appt.AppointmentCode)
	assert.Empty(t, native.CallsTo("CreateSchedule"))
}

func TestReschedule_FallsBackToCoordinator(t *testing.T) {
	adapter := &bookingtest.Adapter{
		ListPatientAppointmentsFunc: func(context.Context, booking.PatientSchedulesRequest) ([]scheduling.RawAppointment, error) {
			return []scheduling.RawAppointment{{AppointmentCode: "old", Status: scheduling.StatusScheduled}}, nil
		},
		CreateScheduleFunc: func(context.Context, booking.CreateScheduleRequest) (*scheduling.Appointment, error) {
			return &scheduling.Appointment{AppointmentCode: "new"}, nil
		},
	}
	f := newFixture(t, adapter)

	appt, err := f.svc.Reschedule(context.Background(), integration, Reschedule{ScheduleToCancelCode: "old", PatientCode: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "new", appt.AppointmentCode)
	create := adapter.CallsTo("CreateSchedule")[0].(booking.CreateScheduleRequest)
	assert.Equal(t, "p1", create.PatientCode)
	assert.Len(t, adapter.CallsTo("CancelSchedule"), 1)
}

func TestGetEntityList_FiltersAndCaches(t *testing.T) {
	adapter := &bookingtest.Adapter{
		ExtractEntityFunc: func(context.Context, scheduling.EntityType, scheduling.CorrelationFilter) ([]scheduling.Entity, error) {
			return []scheduling.Entity{{Code: "d1"}, {Code: "d2"}, {Code: "d3"}}, nil
		},
	}
	f := newFixture(t, adapter, doctor("d1", true), doctor("d2", false))
	ctx := context.Background()

	list, err := f.svc.GetEntityList(ctx, integration, nil, scheduling.EntityDoctor, EntityListOptions{Cache: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "d1", list[0].Code)

	_, err = f.svc.GetEntityList(ctx, integration, nil, scheduling.EntityDoctor, EntityListOptions{Cache: true})
	require.NoError(t, err)
	assert.Len(t, adapter.CallsTo("ExtractEntity"), 1)

	_, err = f.svc.GetEntityList(ctx, integration, nil, scheduling.EntityDoctor, EntityListOptions{Cache: false})
	require.NoError(t, err)
	assert.Len(t, adapter.CallsTo("ExtractEntity"), 2)
}

func TestGetEntityList_UnknownType(t *testing.T) {
	f := newFixture(t, &bookingtest.Adapter{})
	_, err := f.svc.GetEntityList(context.Background(), integration, nil, scheduling.EntityType("room"), EntityListOptions{})
	assert.True(t, scheduling.IsNotFound(err))
}

func TestSyncEntities_UpsertsAndDeactivates(t *testing.T) {
	adapter := &bookingtest.Adapter{
		ExtractEntityFunc: func(context.Context, scheduling.EntityType, scheduling.CorrelationFilter) ([]scheduling.Entity, error) {
			return []scheduling.Entity{{Code: "a", Name: "A"}, {Code: "b", Name: "B"}}, nil
		},
	}
	operator := doctor("u", true)
	operator.Source = scheduling.SourceUser
	operator.ActiveErp = false
	f := newFixture(t, adapter, doctor("stale", true), operator)
	ctx := context.Background()

	res, err := f.svc.SyncEntities(ctx, integration, scheduling.EntityDoctor)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, int64(1), res.Deactivated)

	active, err := f.entities.GetActiveEntities(ctx, integration.ID, scheduling.EntityDoctor)
	require.NoError(t, err)
	var codes []string
	for _, e := range active {
		codes = append(codes, e.Code)
	}
	assert.ElementsMatch(t, []string{"a", "b", "u"}, codes)
}

func TestSyncEntities_InvalidatesFilteredLists(t *testing.T) {
	adapter := &bookingtest.Adapter{
		ExtractEntityFunc: func(context.Context, scheduling.EntityType, scheduling.CorrelationFilter) ([]scheduling.Entity, error) {
			return []scheduling.Entity{{Code: "d1"}}, nil
		},
	}
	unit := scheduling.Entity{
		Code: "u1", Name: "Unit", EntityType: scheduling.EntityOrganizationUnit, IntegrationID: integration.ID,
		Source: scheduling.SourceERP, ActiveErp: true, CanSchedule: true,
	}
	f := newFixture(t, adapter, doctor("d1", true), unit)
	ctx := context.Background()
	filter := scheduling.CorrelationFilterByKey{scheduling.EntityOrganizationUnit: "u1"}

	_, err := f.svc.GetEntityList(ctx, integration, filter, scheduling.EntityDoctor, EntityListOptions{Cache: true})
	require.NoError(t, err)
	_, err = f.svc.GetEntityList(ctx, integration, filter, scheduling.EntityDoctor, EntityListOptions{Cache: true})
	require.NoError(t, err)
	require.Len(t, adapter.CallsTo("ExtractEntity"), 1)

	_, err = f.svc.SyncEntities(ctx, integration, scheduling.EntityDoctor)
	require.NoError(t, err)
	require.Len(t, adapter.CallsTo("ExtractEntity"), 2)

	_, err = f.svc.GetEntityList(ctx, integration, filter, scheduling.EntityDoctor, EntityListOptions{Cache: true})
	require.NoError(t, err)
	assert.Len(t, adapter.CallsTo("ExtractEntity"), 3)
}

func TestGetStatus_ProbeFailureIsNotAnError(t *testing.T) {
	adapter := &bookingtest.Adapter{
		GetStatusFunc: func(context.Context) (booking.Status, error) {
			return booking.Status{}, errors.New("connection refused")
		},
	}
	f := newFixture(t, adapter)

	status := f.svc.GetStatus(context.Background(), integration)
	assert.False(t, status.OK)
	assert.Contains(t, status.Message, "connection refused")
}

func TestGetScheduleValue_NoPriceIsNilWithoutError(t *testing.T) {
	f := newFixture(t, &bookingtest.Adapter{})
	value, err := f.svc.GetScheduleValue(context.Background(), integration, nil)
	require.NoError(t, err)
	assert.Nil(t, value)
}
