package scheduling

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date layout used for birth dates.
const DateLayout = "2006-01-02"

// Patient is a provider-side patient record. Code is provider-assigned; Cpf is
// the national id usable as an alternate lookup key.
type Patient struct {
	Code      string            `json:"code"`
	Cpf       string            `json:"cpf,omitempty"`
	Name      string            `json:"name"`
	Sex       string            `json:"sex,omitempty"`
	BornDate  string            `json:"bornDate,omitempty"` // YYYY-MM-DD
	Phone     string            `json:"phone,omitempty"`
	CellPhone string            `json:"cellPhone,omitempty"`
	Email     string            `json:"email,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// PatientFilter selects a patient by cpf or code.
type PatientFilter struct {
	Cpf      string
	Code     string
	BornDate string
	// Cache allows a cached patient to be returned.
	Cache bool
}

// ParseBornDate parses a YYYY-MM-DD (or RFC3339) birth date; zero on failure.
func ParseBornDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if len(raw) >= len(DateLayout) {
		if t, err := time.Parse(DateLayout, raw[:len(DateLayout)]); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SameBornDate compares two birth dates by calendar day.
func SameBornDate(a, b string) bool {
	ta, tb := ParseBornDate(a), ParseBornDate(b)
	if ta.IsZero() || tb.IsZero() {
		return false
	}
	return ta.Format(DateLayout) == tb.Format(DateLayout)
}

// PickPatient applies the identity merge rule for cpf lookups: the candidate
// whose birth date matches wins, otherwise the first one. Nil when empty.
func PickPatient(candidates []Patient, bornDate string) *Patient {
	if len(candidates) == 0 {
		return nil
	}
	if strings.TrimSpace(bornDate) != "" {
		for i := range candidates {
			if SameBornDate(candidates[i].BornDate, bornDate) {
				p := candidates[i]
				return &p
			}
		}
	}
	p := candidates[0]
	return &p
}
