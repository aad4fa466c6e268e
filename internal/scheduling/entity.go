// Package scheduling holds the provider-neutral scheduling model shared by the
// correlation, search, rescheduling and patient-schedule components.
package scheduling

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EntityType is the closed set of correlated scheduling entities.
type EntityType string

const (
	EntityOrganizationUnit         EntityType = "organizationUnit"
	EntityInsurance                EntityType = "insurance"
	EntityInsurancePlan            EntityType = "insurancePlan"
	EntityInsuranceSubPlan         EntityType = "insuranceSubPlan"
	EntityPlanCategory             EntityType = "planCategory"
	EntityDoctor                   EntityType = "doctor"
	EntitySpeciality               EntityType = "speciality"
	EntityProcedure                EntityType = "procedure"
	EntityAppointmentType          EntityType = "appointmentType"
	EntityTypeOfService            EntityType = "typeOfService"
	EntityOccupationArea           EntityType = "occupationArea"
	EntityOrganizationUnitLocation EntityType = "organizationUnitLocation"
)

// EntityTypes lists every entity type in canonical order.
var EntityTypes = []EntityType{
	EntityOrganizationUnit,
	EntityInsurance,
	EntityInsurancePlan,
	EntityInsuranceSubPlan,
	EntityPlanCategory,
	EntityDoctor,
	EntitySpeciality,
	EntityProcedure,
	EntityAppointmentType,
	EntityTypeOfService,
	EntityOccupationArea,
	EntityOrganizationUnitLocation,
}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEntityType validates a raw entity type name.
func ParseEntityType(raw string) (EntityType, error) {
	t := EntityType(strings.TrimSpace(raw))
	if !t.Valid() {
		return "", fmt.Errorf("scheduling: unknown entity type %q", raw)
	}
	return t, nil
}

// EntitySource records who created an entity.
type EntitySource string

const (
	SourceERP  EntitySource = "erp"
	SourceUser EntitySource = "user"
)

// ScheduleType classifies appointment types and specialities.
type ScheduleType string

const (
	ScheduleTypeConsultation ScheduleType = "C"
	ScheduleTypeExam         ScheduleType = "E"
)

// EntityParams carries business parameters attached to an entity by operators
// or by extraction.
type EntityParams struct {
	// ReferenceScheduleType marks appointment types as consultation or exam.
	ReferenceScheduleType ScheduleType `json:"referenceScheduleType,omitempty"`
	// MinimumAge and MaximumAge are inclusive, in years.
	MinimumAge *int `json:"minimumAge,omitempty"`
	MaximumAge *int `json:"maximumAge,omitempty"`
	// InterAppointmentPeriod is the minimum gap in days between two
	// consultations covered by an insurance.
	InterAppointmentPeriod int `json:"interAppointmentPeriod,omitempty"`
	// FollowUpPeriodDays overrides the integration follow-up window.
	FollowUpPeriodDays int `json:"followUpPeriodDays,omitempty"`
	// WithoutDoctor marks appointment types whose slots carry no doctor.
	WithoutDoctor bool              `json:"withoutDoctor,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Entity is a provider entity correlated into the platform.
// Codes are only unique within (EntityType, disambiguating parent).
type Entity struct {
	Code              string       `json:"code"`
	Name              string       `json:"name"`
	EntityType        EntityType   `json:"entityType"`
	IntegrationID     string       `json:"integrationId"`
	Source            EntitySource `json:"source"`
	ActiveErp         bool         `json:"activeErp"`
	CanSchedule       bool         `json:"canSchedule"`
	Version           string       `json:"version,omitempty"`
	Params            EntityParams `json:"params,omitempty"`
	SpecialityCode    string       `json:"specialityCode,omitempty"`
	SpecialityType    string       `json:"specialityType,omitempty"`
	InsuranceCode     string       `json:"insuranceCode,omitempty"`
	InsurancePlanCode string       `json:"insurancePlanCode,omitempty"`
}

// AcceptsAge reports whether a patient born at bornDate fits the entity age range.
// Entities without limits, or an unknown birth date, always pass.
func (e Entity) AcceptsAge(bornDate, now time.Time) bool {
	if bornDate.IsZero() || (e.Params.MinimumAge == nil && e.Params.MaximumAge == nil) {
		return true
	}
	age := AgeAt(bornDate, now)
	if e.Params.MinimumAge != nil && age < *e.Params.MinimumAge {
		return false
	}
	if e.Params.MaximumAge != nil && age > *e.Params.MaximumAge {
		return false
	}
	return true
}

// AgeAt returns the completed years between bornDate and now.
func AgeAt(bornDate, now time.Time) int {
	age := now.Year() - bornDate.Year()
	if now.Month() < bornDate.Month() || (now.Month() == bornDate.Month() && now.Day() < bornDate.Day()) {
		age--
	}
	return age
}

// EntityLookup identifies an entity by code plus the disambiguators its type needs.
type EntityLookup struct {
	IntegrationID     string
	EntityType        EntityType
	Code              string
	SpecialityCode    string
	SpecialityType    string
	InsuranceCode     string
	InsurancePlanCode string
}

// Matches reports whether e satisfies every non-empty field of the lookup.
func (l EntityLookup) Matches(e Entity) bool {
	if e.IntegrationID != l.IntegrationID || e.EntityType != l.EntityType || e.Code != l.Code {
		return false
	}
	if l.SpecialityCode != "" && e.SpecialityCode != l.SpecialityCode {
		return false
	}
	if l.SpecialityType != "" && e.SpecialityType != l.SpecialityType {
		return false
	}
	if l.InsuranceCode != "" && e.InsuranceCode != l.InsuranceCode {
		return false
	}
	if l.InsurancePlanCode != "" && e.InsurancePlanCode != l.InsurancePlanCode {
		return false
	}
	return true
}

// SortEntities orders entities by name then code, in place.
func SortEntities(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Name != entities[j].Name {
			return entities[i].Name < entities[j].Name
		}
		return entities[i].Code < entities[j].Code
	})
}
