package nextech

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// FHIR resource models for the Nextech API (FHIR STU 3 / 3.0.1)

// cpfSystem is the identifier system carrying the patient national id.
const cpfSystem = "http://www.saude.gov.br/fhir/r4/NamingSystem/cpf"

// FHIRBundle represents a FHIR Bundle resource (search results container)
type FHIRBundle struct {
	ResourceType string `json:"resourceType"`
	Type         string `json:"type"` // "searchset", "collection", etc.
	Total        int    `json:"total"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// resources decodes every entry of the given resource type.
func resources[T any](bundle FHIRBundle, resourceType string) []T {
	out := make([]T, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var head struct {
			ResourceType string `json:"resourceType"`
		}
		if err := json.Unmarshal(entry.Resource, &head); err != nil || head.ResourceType != resourceType {
			continue
		}
		var r T
		if err := json.Unmarshal(entry.Resource, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FHIRAppointment represents a FHIR Appointment resource
type FHIRAppointment struct {
	ResourceType string                `json:"resourceType"`
	ID           string                `json:"id,omitempty"`
	Status       string                `json:"status"` // proposed, pending, booked, arrived, fulfilled, cancelled, noshow
	ServiceType  []FHIRCodeableConcept `json:"serviceType,omitempty"`
	Specialty    []FHIRCodeableConcept `json:"specialty,omitempty"`
	Description  string                `json:"description,omitempty"`
	Comment      string                `json:"comment,omitempty"`
	Start        string                `json:"start"`
	End          string                `json:"end"`
	MinutesDur   int                   `json:"minutesDuration,omitempty"`
	Participant  []FHIRParticipant     `json:"participant"`
	Slot         []FHIRReference       `json:"slot,omitempty"`
	Meta         *FHIRMeta             `json:"meta,omitempty"`
}

// FHIRSlot represents a FHIR Slot resource
type FHIRSlot struct {
	ResourceType string                `json:"resourceType"`
	ID           string                `json:"id"`
	Schedule     FHIRReference         `json:"schedule"`
	Status       string                `json:"status"` // free, busy, busy-unavailable, busy-tentative
	Start        string                `json:"start"`
	End          string                `json:"end"`
	ServiceType  []FHIRCodeableConcept `json:"serviceType,omitempty"`
}

// FHIRPatient represents a FHIR Patient resource
type FHIRPatient struct {
	ResourceType         string             `json:"resourceType"`
	ID                   string             `json:"id,omitempty"`
	Identifier           []FHIRIdentifier   `json:"identifier,omitempty"`
	Name                 []FHIRHumanName    `json:"name"`
	Gender               string             `json:"gender,omitempty"`
	BirthDate            string             `json:"birthDate,omitempty"`
	Telecom              []FHIRContactPoint `json:"telecom,omitempty"`
	ManagingOrganization *FHIRReference     `json:"managingOrganization,omitempty"`
}

// FHIRNamed covers the directory resources extracted as entities
// (Practitioner, Location, Organization, HealthcareService).
type FHIRNamed struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id"`
	Active       *bool           `json:"active,omitempty"`
	Name         json.RawMessage `json:"name,omitempty"`
}

// DisplayName handles both plain-string names and HumanName arrays.
func (n FHIRNamed) DisplayName() string {
	var plain string
	if err := json.Unmarshal(n.Name, &plain); err == nil {
		return plain
	}
	var human []FHIRHumanName
	if err := json.Unmarshal(n.Name, &human); err == nil && len(human) > 0 {
		return human[0].Full()
	}
	return n.ID
}

// FHIRParticipant represents a participant in an appointment
type FHIRParticipant struct {
	Actor  FHIRReference `json:"actor"`
	Status string        `json:"status"` // accepted, declined, tentative, needs-action
}

// FHIRReference represents a reference to another FHIR resource
type FHIRReference struct {
	Reference string `json:"reference"` // e.g., "Patient/123"
	Display   string `json:"display,omitempty"`
}

// FHIRIdentifier is a business identifier.
type FHIRIdentifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// FHIRCodeableConcept represents a coded value with optional text
type FHIRCodeableConcept struct {
	Coding []FHIRCoding `json:"coding,omitempty"`
	Text   string       `json:"text,omitempty"`
}

func (c FHIRCodeableConcept) code() string {
	if len(c.Coding) > 0 {
		return c.Coding[0].Code
	}
	return ""
}

// FHIRCoding represents a specific code from a code system
type FHIRCoding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// FHIRHumanName represents a person's name
type FHIRHumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

// Full renders the name as "given family".
func (n FHIRHumanName) Full() string {
	if n.Text != "" {
		return n.Text
	}
	return strings.TrimSpace(strings.Join(append(append([]string{}, n.Given...), n.Family), " "))
}

// FHIRContactPoint represents a contact detail (phone, email, etc.)
type FHIRContactPoint struct {
	System string `json:"system,omitempty"` // phone, email, sms, other
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"` // home, work, mobile
}

// FHIRMeta contains metadata about the resource
type FHIRMeta struct {
	LastUpdated string `json:"lastUpdated,omitempty"`
	VersionID   string `json:"versionId,omitempty"`
}

// statusFromFHIR maps FHIR appointment statuses to the platform lifecycle.
func statusFromFHIR(status string) scheduling.AppointmentStatus {
	switch status {
	case "booked":
		return scheduling.StatusConfirmed
	case "arrived", "fulfilled", "checked-in":
		return scheduling.StatusFinished
	case "cancelled", "entered-in-error":
		return scheduling.StatusCancelled
	case "noshow":
		return scheduling.StatusNoShow
	default:
		return scheduling.StatusScheduled
	}
}

func patientFromFHIR(p FHIRPatient) scheduling.Patient {
	out := scheduling.Patient{
		Code:     p.ID,
		Sex:      p.Gender,
		BornDate: p.BirthDate,
	}
	if len(p.Name) > 0 {
		out.Name = p.Name[0].Full()
	}
	for _, id := range p.Identifier {
		if id.System == cpfSystem {
			out.Cpf = id.Value
		}
	}
	for _, t := range p.Telecom {
		switch {
		case t.System == "email":
			out.Email = t.Value
		case t.System == "phone" && t.Use == "mobile":
			out.CellPhone = t.Value
		case t.System == "phone":
			out.Phone = t.Value
		}
	}
	return out
}

func patientToFHIR(p scheduling.Patient, organization *scheduling.Entity) FHIRPatient {
	given, family := splitName(p.Name)
	out := FHIRPatient{
		ResourceType: "Patient",
		ID:           p.Code,
		Name:         []FHIRHumanName{{Use: "official", Family: family, Given: given}},
		Gender:       p.Sex,
		BirthDate:    p.BornDate,
	}
	if p.Cpf != "" {
		out.Identifier = []FHIRIdentifier{{System: cpfSystem, Value: p.Cpf}}
	}
	if p.Phone != "" {
		out.Telecom = append(out.Telecom, FHIRContactPoint{System: "phone", Value: p.Phone, Use: "home"})
	}
	if p.CellPhone != "" {
		out.Telecom = append(out.Telecom, FHIRContactPoint{System: "phone", Value: p.CellPhone, Use: "mobile"})
	}
	if p.Email != "" {
		out.Telecom = append(out.Telecom, FHIRContactPoint{System: "email", Value: p.Email})
	}
	if organization != nil && organization.Code != "" {
		out.ManagingOrganization = &FHIRReference{Reference: "Organization/" + organization.Code, Display: organization.Name}
	}
	return out
}

func splitName(name string) ([]string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return nil, ""
	case 1:
		return parts, ""
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// slotToAppointment maps a free slot into an availability entry. The slot id
// is kept as the appointment code so a booking can claim it.
func slotToAppointment(s FHIRSlot, filter scheduling.CorrelationFilter) (scheduling.Appointment, bool) {
	start, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return scheduling.Appointment{}, false
	}
	end, err := time.Parse(time.RFC3339, s.End)
	if err != nil {
		return scheduling.Appointment{}, false
	}
	entities := filter.Clone()
	if entities == nil {
		entities = scheduling.CorrelationFilter{}
	}
	if s.Schedule.Reference != "" {
		entities[scheduling.EntityDoctor] = scheduling.Entity{
			Code:       extractIDFromReference(s.Schedule.Reference),
			Name:       s.Schedule.Display,
			EntityType: scheduling.EntityDoctor,
		}
	}
	return scheduling.Appointment{
		AppointmentCode: s.ID,
		AppointmentDate: start,
		Duration:        int(end.Sub(start) / time.Minute),
		Status:          scheduling.StatusScheduled,
		Entities:        entities,
	}, true
}

func rawFromFHIR(a FHIRAppointment) (scheduling.RawAppointment, bool) {
	start, err := time.Parse(time.RFC3339, a.Start)
	if err != nil {
		return scheduling.RawAppointment{}, false
	}
	raw := scheduling.RawAppointment{
		AppointmentCode: a.ID,
		AppointmentDate: start,
		Duration:        a.MinutesDur,
		Status:          statusFromFHIR(a.Status),
		Guidance:        a.Comment,
		EntityCodes:     scheduling.CorrelationFilterByKey{},
	}
	if raw.Duration == 0 {
		if end, err := time.Parse(time.RFC3339, a.End); err == nil {
			raw.Duration = int(end.Sub(start) / time.Minute)
		}
	}
	for _, p := range a.Participant {
		id := extractIDFromReference(p.Actor.Reference)
		switch {
		case strings.HasPrefix(p.Actor.Reference, "Patient/"):
			raw.PatientCode = id
		case strings.HasPrefix(p.Actor.Reference, "Practitioner/"):
			raw.EntityCodes[scheduling.EntityDoctor] = id
		case strings.HasPrefix(p.Actor.Reference, "Location/"):
			raw.EntityCodes[scheduling.EntityOrganizationUnit] = id
		}
	}
	if len(a.ServiceType) > 0 {
		if code := a.ServiceType[0].code(); code != "" {
			raw.EntityCodes[scheduling.EntityAppointmentType] = code
		}
	}
	if len(a.Specialty) > 0 {
		if code := a.Specialty[0].code(); code != "" {
			raw.EntityCodes[scheduling.EntitySpeciality] = code
		}
	}
	return raw, true
}

func extractIDFromReference(reference string) string {
	if i := strings.LastIndex(reference, "/"); i >= 0 {
		return reference[i+1:]
	}
	return reference
}
