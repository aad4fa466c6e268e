package scheduling

import "time"

// AppointmentDateLayout renders appointment dates in ISO form without offset.
const AppointmentDateLayout = "2006-01-02T15:04:05"

// AppointmentStatus is the lifecycle status of an appointment.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusFinished  AppointmentStatus = "finished"
	StatusNoShow    AppointmentStatus = "noShow"
)

// Active reports whether the status still represents a booking.
func (s AppointmentStatus) Active() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// AppointmentValue is the price of an appointment.
type AppointmentValue struct {
	Currency string `json:"currency"`
	Cents    int64  `json:"cents"`
}

// RawAppointment carries only provider-native ids, keyed by entity type.
type RawAppointment struct {
	AppointmentCode string                 `json:"appointmentCode"`
	AppointmentDate time.Time              `json:"appointmentDate"`
	Duration        int                    `json:"duration"`
	Status          AppointmentStatus      `json:"status"`
	PatientCode     string                 `json:"patientCode,omitempty"`
	EntityCodes     CorrelationFilterByKey `json:"entityCodes"`
	Guidance        string                 `json:"guidance,omitempty"`
	Price           *AppointmentValue      `json:"price,omitempty"`
}

// Appointment is an appointment with resolved entities. Availability slots use
// the same shape with entities carrying at least their provider code.
type Appointment struct {
	AppointmentCode string            `json:"appointmentCode"`
	AppointmentDate time.Time         `json:"appointmentDate"`
	Duration        int               `json:"duration"`
	Status          AppointmentStatus `json:"status"`
	Entities        CorrelationFilter `json:"entities"`
	Guidance        string            `json:"guidance,omitempty"`
	Price           *AppointmentValue `json:"price,omitempty"`
}

// Entity returns the resolved entity of type t.
func (a Appointment) Entity(t EntityType) (Entity, bool) {
	return a.Entities.Get(t)
}

// DoctorCode returns the doctor code, or "" when the slot has no doctor.
func (a Appointment) DoctorCode() string {
	if d, ok := a.Entity(EntityDoctor); ok {
		return d.Code
	}
	return ""
}

// FormattedDate renders the appointment date without UTC offset.
func (a Appointment) FormattedDate() string {
	return a.AppointmentDate.Format(AppointmentDateLayout)
}

// FollowUpAppointment is an appointment with its return-visit deadline.
type FollowUpAppointment struct {
	Appointment
	FollowUpLimit    time.Time `json:"followUpLimit"`
	InFollowUpPeriod bool      `json:"inFollowUpPeriod"`
}

// FlowAction is a next-step action produced by the flow matcher.
type FlowAction struct {
	Type    string            `json:"type"`
	Payload map[string]string `json:"payload,omitempty"`
}

// FlowType identifies which flows an action lookup targets.
type FlowType string

const (
	FlowTypeConfirmation FlowType = "confirmation"
	FlowTypeCancellation FlowType = "cancellation"
	FlowTypeReschedule   FlowType = "reschedule"
)

// MinifiedAppointment keeps only the fields needed for quick patient summaries.
type MinifiedAppointment struct {
	AppointmentCode string       `json:"appointmentCode"`
	AppointmentDate string       `json:"appointmentDate"`
	Actions         []FlowAction `json:"actions,omitempty"`
}

// MinifiedAppointments is the patient history summary.
type MinifiedAppointments struct {
	AppointmentList []MinifiedAppointment `json:"appointmentList"`
	LastAppointment *MinifiedAppointment  `json:"lastAppointment,omitempty"`
	NextAppointment *MinifiedAppointment  `json:"nextAppointment,omitempty"`
}
