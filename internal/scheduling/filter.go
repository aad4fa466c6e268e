package scheduling

import (
	"sort"
	"strings"
)

// CorrelationFilterByKey is the raw, sparse EntityType→code filter.
// An absent key means unconstrained.
type CorrelationFilterByKey map[EntityType]string

// Has reports whether t carries a non-empty code.
func (f CorrelationFilterByKey) Has(t EntityType) bool {
	return strings.TrimSpace(f[t]) != ""
}

// Normalize drops unknown types and blank codes, and trims the remaining codes.
func (f CorrelationFilterByKey) Normalize() CorrelationFilterByKey {
	out := make(CorrelationFilterByKey, len(f))
	for t, code := range f {
		code = strings.TrimSpace(code)
		if code == "" || !t.Valid() {
			continue
		}
		out[t] = code
	}
	return out
}

// Keys returns the filter's entity types sorted by name.
func (f CorrelationFilterByKey) Keys() []EntityType {
	keys := make([]EntityType, 0, len(f))
	for t := range f {
		keys = append(keys, t)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// StringMap converts the filter to a plain string map, e.g. for cache keys.
func (f CorrelationFilterByKey) StringMap() map[string]string {
	out := make(map[string]string, len(f))
	for t, code := range f {
		out[string(t)] = code
	}
	return out
}

// CorrelationFilter is the resolved EntityType→Entity filter.
// Every present key was resolvable.
type CorrelationFilter map[EntityType]Entity

// Get returns the entity for t when present.
func (f CorrelationFilter) Get(t EntityType) (Entity, bool) {
	if f == nil {
		return Entity{}, false
	}
	e, ok := f[t]
	return e, ok
}

// Codes projects the resolved filter back to codes.
func (f CorrelationFilter) Codes() CorrelationFilterByKey {
	out := make(CorrelationFilterByKey, len(f))
	for t, e := range f {
		out[t] = e.Code
	}
	return out
}

// Clone returns a shallow copy.
func (f CorrelationFilter) Clone() CorrelationFilter {
	out := make(CorrelationFilter, len(f))
	for t, e := range f {
		out[t] = e
	}
	return out
}

// IsConsultation reports whether the filter selects a consultation-class appointment type.
func (f CorrelationFilter) IsConsultation() bool {
	at, ok := f.Get(EntityAppointmentType)
	return ok && at.Params.ReferenceScheduleType == ScheduleTypeConsultation
}
