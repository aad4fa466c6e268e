package nextech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// ProviderName is the registry key for this adapter.
const ProviderName = "nextech"

// maxDaysPerSearch caps the /Slot window Nextech accepts per call.
const maxDaysPerSearch = 14

const defaultDuration = 30

// Adapter maps the booking capabilities onto Nextech FHIR resources.
type Adapter struct {
	client *Client
}

var (
	_ booking.Adapter       = (*Adapter)(nil)
	_ booking.SearchLimiter = (*Adapter)(nil)
)

// NewAdapter wraps an authenticated client.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// NewFactory builds adapters from integration credentials, falling back to
// defaults for anything the integration leaves blank.
func NewFactory(defaults Config) booking.Factory {
	return func(integration scheduling.Integration) (booking.Adapter, error) {
		cfg := defaults
		cfg.BaseURL = integration.Credential("baseUrl", defaults.BaseURL)
		cfg.ClientID = integration.Credential("clientId", defaults.ClientID)
		cfg.ClientSecret = integration.Credential("clientSecret", defaults.ClientSecret)
		if integration.Rules.AdapterTimeout > 0 {
			cfg.Timeout = integration.Rules.AdapterTimeout
		}
		client, err := New(cfg)
		if err != nil {
			return nil, err
		}
		return NewAdapter(client), nil
	}
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) MaxDaysPerSearch() int { return maxDaysPerSearch }

// GetPatient reads /Patient/{id} by code, or searches by cpf identifier.
func (a *Adapter) GetPatient(ctx context.Context, filter scheduling.PatientFilter) (*scheduling.Patient, error) {
	const op = "nextech.GetPatient"
	if filter.Code != "" {
		var p FHIRPatient
		if err := a.client.do(ctx, http.MethodGet, "/Patient/"+url.PathEscape(filter.Code), nil, nil, &p); err != nil {
			return nil, classify(op, err)
		}
		patient := patientFromFHIR(p)
		return &patient, nil
	}
	if filter.Cpf == "" {
		return nil, scheduling.NotFound(op, "patient filter has neither code nor cpf")
	}
	candidates, err := a.searchPatients(ctx, filter.Cpf)
	if err != nil {
		return nil, classify(op, err)
	}
	p := scheduling.PickPatient(candidates, filter.BornDate)
	if p == nil {
		return nil, scheduling.NotFound(op, "no patient with cpf %s", filter.Cpf)
	}
	return p, nil
}

func (a *Adapter) searchPatients(ctx context.Context, cpf string) ([]scheduling.Patient, error) {
	query := url.Values{"identifier": {cpfSystem + "|" + cpf}}
	var bundle FHIRBundle
	if err := a.client.do(ctx, http.MethodGet, "/Patient", query, nil, &bundle); err != nil {
		return nil, err
	}
	found := resources[FHIRPatient](bundle, "Patient")
	out := make([]scheduling.Patient, 0, len(found))
	for _, p := range found {
		out = append(out, patientFromFHIR(p))
	}
	return out, nil
}

// CreatePatient posts a new Patient, rejecting duplicates by cpf.
func (a *Adapter) CreatePatient(ctx context.Context, req booking.CreatePatientRequest) (*scheduling.Patient, error) {
	const op = "nextech.CreatePatient"
	if req.Patient.Cpf != "" {
		existing, err := a.searchPatients(ctx, req.Patient.Cpf)
		if err != nil {
			return nil, classify(op, err)
		}
		if len(existing) > 0 {
			return nil, scheduling.Conflict(op, "patient with cpf %s already exists", req.Patient.Cpf)
		}
	}
	body := patientToFHIR(req.Patient, req.OrganizationUnit)
	body.ID = ""
	var created FHIRPatient
	if err := a.client.do(ctx, http.MethodPost, "/Patient", nil, body, &created); err != nil {
		return nil, classify(op, err)
	}
	if created.ID == "" {
		return nil, scheduling.IntegrationError(op, nil, "created patient has no id")
	}
	patient := patientFromFHIR(created)
	return &patient, nil
}

func (a *Adapter) UpdatePatient(ctx context.Context, code string, patient scheduling.Patient) (*scheduling.Patient, error) {
	const op = "nextech.UpdatePatient"
	patient.Code = code
	var updated FHIRPatient
	if err := a.client.do(ctx, http.MethodPut, "/Patient/"+url.PathEscape(code), nil, patientToFHIR(patient, nil), &updated); err != nil {
		return nil, classify(op, err)
	}
	out := patientFromFHIR(updated)
	return &out, nil
}

// entityResources maps entity types onto the FHIR directory resource that lists them.
var entityResources = map[scheduling.EntityType]struct {
	path  string
	kind  string
	query url.Values
}{
	scheduling.EntityDoctor:           {path: "/Practitioner", kind: "Practitioner"},
	scheduling.EntityOrganizationUnit: {path: "/Location", kind: "Location"},
	scheduling.EntityInsurance:        {path: "/Organization", kind: "Organization", query: url.Values{"type": {"ins"}}},
	scheduling.EntityAppointmentType:  {path: "/HealthcareService", kind: "HealthcareService"},
}

// ExtractEntity lists directory resources. Types Nextech has no resource for
// return an empty list.
func (a *Adapter) ExtractEntity(ctx context.Context, entityType scheduling.EntityType, _ scheduling.CorrelationFilter) ([]scheduling.Entity, error) {
	const op = "nextech.ExtractEntity"
	res, ok := entityResources[entityType]
	if !ok {
		return []scheduling.Entity{}, nil
	}
	var bundle FHIRBundle
	if err := a.client.do(ctx, http.MethodGet, res.path, res.query, nil, &bundle); err != nil {
		return nil, classify(op, err)
	}
	named := resources[FHIRNamed](bundle, res.kind)
	out := make([]scheduling.Entity, 0, len(named))
	for _, n := range named {
		active := n.Active == nil || *n.Active
		out = append(out, scheduling.Entity{
			Code:        n.ID,
			Name:        n.DisplayName(),
			EntityType:  entityType,
			Source:      scheduling.SourceERP,
			ActiveErp:   active,
			CanSchedule: active,
		})
	}
	return out, nil
}

// GetAvailableSchedules retrieves free slots
// Nextech FHIR: GET /Slot?schedule={doctor}&start=ge{start}&start=le{end}&status=free
func (a *Adapter) GetAvailableSchedules(ctx context.Context, req booking.AvailabilityRequest) (*booking.AvailabilityResult, error) {
	const op = "nextech.GetAvailableSchedules"
	query := url.Values{}
	query.Add("start", "ge"+req.Start.Format(time.RFC3339))
	query.Add("start", "le"+req.End.Format(time.RFC3339))
	query.Set("status", "free")
	if doctor, ok := req.Filter.Get(scheduling.EntityDoctor); ok {
		query.Set("schedule", "Schedule/"+doctor.Code)
	}
	if unit, ok := req.Filter.Get(scheduling.EntityOrganizationUnit); ok {
		query.Set("schedule.actor", "Location/"+unit.Code)
	}
	if at, ok := req.Filter.Get(scheduling.EntityAppointmentType); ok {
		query.Set("service-type", at.Code)
	}

	var bundle FHIRBundle
	if err := a.client.do(ctx, http.MethodGet, "/Slot", query, nil, &bundle); err != nil {
		return nil, classify(op, err)
	}
	slots := resources[FHIRSlot](bundle, "Slot")
	out := &booking.AvailabilityResult{Schedules: make([]scheduling.Appointment, 0, len(slots))}
	for _, s := range slots {
		if s.Status != "" && s.Status != "free" {
			continue
		}
		if appt, ok := slotToAppointment(s, req.Filter); ok {
			out.Schedules = append(out.Schedules, appt)
		}
	}
	return out, nil
}

// CreateSchedule books an appointment
// Nextech FHIR: POST /Appointment
func (a *Adapter) CreateSchedule(ctx context.Context, req booking.CreateScheduleRequest) (*scheduling.Appointment, error) {
	const op = "nextech.CreateSchedule"
	duration := req.Duration
	if duration <= 0 {
		duration = defaultDuration
	}
	body := FHIRAppointment{
		ResourceType: "Appointment",
		Status:       "booked",
		Start:        req.AppointmentDate.Format(time.RFC3339),
		End:          req.AppointmentDate.Add(time.Duration(duration) * time.Minute).Format(time.RFC3339),
		MinutesDur:   duration,
		Comment:      req.Guidance,
		Participant: []FHIRParticipant{
			{Actor: FHIRReference{Reference: "Patient/" + req.PatientCode}, Status: "accepted"},
		},
	}
	if doctor, ok := req.Filter.Get(scheduling.EntityDoctor); ok {
		body.Participant = append(body.Participant, FHIRParticipant{Actor: FHIRReference{Reference: "Practitioner/" + doctor.Code}, Status: "accepted"})
	}
	if unit, ok := req.Filter.Get(scheduling.EntityOrganizationUnit); ok {
		body.Participant = append(body.Participant, FHIRParticipant{Actor: FHIRReference{Reference: "Location/" + unit.Code}, Status: "accepted"})
	}
	if at, ok := req.Filter.Get(scheduling.EntityAppointmentType); ok {
		body.ServiceType = []FHIRCodeableConcept{{Coding: []FHIRCoding{{Code: at.Code, Display: at.Name}}}}
	}
	if speciality, ok := req.Filter.Get(scheduling.EntitySpeciality); ok {
		body.Specialty = []FHIRCodeableConcept{{Coding: []FHIRCoding{{Code: speciality.Code, Display: speciality.Name}}}}
	}
	if slotID := req.Data["slotId"]; slotID != "" {
		body.Slot = []FHIRReference{{Reference: "Slot/" + slotID}}
	}

	var created FHIRAppointment
	if err := a.client.do(ctx, http.MethodPost, "/Appointment", nil, body, &created); err != nil {
		return nil, classify(op, err)
	}
	if created.ID == "" {
		return nil, scheduling.IntegrationError(op, nil, "created appointment has no id")
	}
	return &scheduling.Appointment{
		AppointmentCode: created.ID,
		AppointmentDate: req.AppointmentDate,
		Duration:        duration,
		Status:          statusFromFHIR(created.Status),
		Entities:        req.Filter.Clone(),
		Guidance:        req.Guidance,
	}, nil
}

// CancelSchedule fetches the appointment and writes it back as cancelled.
// Validation rejections are reported as ok:false.
func (a *Adapter) CancelSchedule(ctx context.Context, req booking.CancelScheduleRequest) (booking.Result, error) {
	return a.setStatus(ctx, "nextech.CancelSchedule", req.AppointmentCode, "cancelled")
}

// ConfirmSchedule marks the appointment booked; already-booked counts as ok.
func (a *Adapter) ConfirmSchedule(ctx context.Context, req booking.ConfirmScheduleRequest) (booking.Result, error) {
	return a.setStatus(ctx, "nextech.ConfirmSchedule", req.AppointmentCode, "booked")
}

func (a *Adapter) setStatus(ctx context.Context, op, code, status string) (booking.Result, error) {
	path := "/Appointment/" + url.PathEscape(code)
	var appt FHIRAppointment
	if err := a.client.do(ctx, http.MethodGet, path, nil, nil, &appt); err != nil {
		return booking.Result{}, classify(op, err)
	}
	if appt.Status == status {
		return booking.Result{OK: true}, nil
	}
	appt.Status = status
	if err := a.client.do(ctx, http.MethodPut, path, nil, appt, nil); err != nil {
		if rejected(err) {
			return booking.Result{OK: false}, nil
		}
		return booking.Result{}, classify(op, err)
	}
	return booking.Result{OK: true}, nil
}

func rejected(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnprocessableEntity)
}

// ListPatientAppointments searches /Appointment?patient={code}.
func (a *Adapter) ListPatientAppointments(ctx context.Context, req booking.PatientSchedulesRequest) ([]scheduling.RawAppointment, error) {
	const op = "nextech.ListPatientAppointments"
	query := url.Values{"patient": {req.PatientCode}}
	if req.StartDate != nil {
		query.Add("date", "ge"+req.StartDate.Format(time.RFC3339))
	}
	if req.EndDate != nil {
		query.Add("date", "le"+req.EndDate.Format(time.RFC3339))
	}
	var bundle FHIRBundle
	if err := a.client.do(ctx, http.MethodGet, "/Appointment", query, nil, &bundle); err != nil {
		return nil, classify(op, err)
	}
	appts := resources[FHIRAppointment](bundle, "Appointment")
	out := make([]scheduling.RawAppointment, 0, len(appts))
	for _, appt := range appts {
		raw, ok := rawFromFHIR(appt)
		if !ok {
			continue
		}
		if raw.PatientCode == "" {
			raw.PatientCode = req.PatientCode
		}
		out = append(out, raw)
	}
	return out, nil
}

// GetScheduleValue is not exposed by the Nextech FHIR API, so there is never a
// price.
func (a *Adapter) GetScheduleValue(_ context.Context, _ scheduling.CorrelationFilter) (*scheduling.AppointmentValue, error) {
	return nil, nil
}

// GetStatus probes the capability statement.
func (a *Adapter) GetStatus(ctx context.Context) (booking.Status, error) {
	var capability struct {
		FHIRVersion string `json:"fhirVersion"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/metadata", nil, nil, &capability); err != nil {
		return booking.Status{OK: false, Message: err.Error()}, nil
	}
	return booking.Status{OK: true, Message: fmt.Sprintf("fhir %s", capability.FHIRVersion)}, nil
}
