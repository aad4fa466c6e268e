package sameday

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

type historyFunc func(ctx context.Context, integration scheduling.Integration, patientCode string) ([]scheduling.Appointment, error)

func (f historyFunc) PatientAppointments(ctx context.Context, integration scheduling.Integration, patientCode string) ([]scheduling.Appointment, error) {
	return f(ctx, integration, patientCode)
}

var consultation = scheduling.CorrelationFilter{
	scheduling.EntityAppointmentType: {Code: "C1", Params: scheduling.EntityParams{ReferenceScheduleType: scheduling.ScheduleTypeConsultation}},
}

var exam = scheduling.CorrelationFilter{
	scheduling.EntityAppointmentType: {Code: "E1", Params: scheduling.EntityParams{ReferenceScheduleType: scheduling.ScheduleTypeExam}},
}

func slot(day, hour int) scheduling.Appointment {
	return scheduling.Appointment{AppointmentDate: time.Date(2026, 7, day, hour, 0, 0, 0, time.UTC)}
}

func TestPolicy_RemovesSameClassSameDay(t *testing.T) {
	p := &Policy{History: historyFunc(func(context.Context, scheduling.Integration, string) ([]scheduling.Appointment, error) {
		return []scheduling.Appointment{
			{AppointmentDate: time.Date(2026, 7, 2, 8, 0, 0, 0, time.UTC), Status: scheduling.StatusScheduled, Entities: consultation},
			{AppointmentDate: time.Date(2026, 7, 3, 8, 0, 0, 0, time.UTC), Status: scheduling.StatusScheduled, Entities: exam},
			{AppointmentDate: time.Date(2026, 7, 4, 8, 0, 0, 0, time.UTC), Status: scheduling.StatusCancelled, Entities: consultation},
		}, nil
	})}
	integration := scheduling.Integration{ID: "int-1", Rules: scheduling.Rules{BlockSameDaySchedules: true}}

	res, err := p.RemoveFilteredBySameDayRules(context.Background(), integration, Request{
		Schedules:   []scheduling.Appointment{slot(2, 10), slot(2, 14), slot(3, 10), slot(4, 10)},
		Filter:      consultation,
		PatientCode: "p1",
	})
	require.NoError(t, err)
	assert.Len(t, res.Schedules, 2)
	assert.Equal(t, 2, res.Metadata.RemovedBySameDayRules)
}

func TestPolicy_DisabledOrAnonymous(t *testing.T) {
	p := &Policy{History: historyFunc(func(context.Context, scheduling.Integration, string) ([]scheduling.Appointment, error) {
		t.Fatal("history should not be loaded")
		return nil, nil
	})}
	schedules := []scheduling.Appointment{slot(2, 10)}

	res, err := p.RemoveFilteredBySameDayRules(context.Background(), scheduling.Integration{}, Request{Schedules: schedules, PatientCode: "p1"})
	require.NoError(t, err)
	assert.Equal(t, schedules, res.Schedules)

	enabled := scheduling.Integration{Rules: scheduling.Rules{BlockSameDaySchedules: true}}
	res, err = p.RemoveFilteredBySameDayRules(context.Background(), enabled, Request{Schedules: schedules})
	require.NoError(t, err)
	assert.Equal(t, schedules, res.Schedules)
}

func TestPolicy_HistoryErrorReturnsUnchanged(t *testing.T) {
	p := &Policy{History: historyFunc(func(context.Context, scheduling.Integration, string) ([]scheduling.Appointment, error) {
		return nil, errors.New("upstream down")
	})}
	schedules := []scheduling.Appointment{slot(2, 10)}
	res, err := p.RemoveFilteredBySameDayRules(context.Background(),
		scheduling.Integration{Rules: scheduling.Rules{BlockSameDaySchedules: true}},
		Request{Schedules: schedules, PatientCode: "p1"})
	require.Error(t, err)
	assert.Equal(t, schedules, res.Schedules)
}
