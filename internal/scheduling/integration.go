package scheduling

import (
	"strings"
	"time"
)

// DefaultSplitDays is used when neither the integration nor the provider sets a chunk size.
const DefaultSplitDays = 30

// Rules is the per-integration bag of business parameters and feature flags.
type Rules struct {
	// LimitOfDaysToSplitRequestInScheduleSearch caps the days requested per upstream call.
	LimitOfDaysToSplitRequestInScheduleSearch int `json:"limitOfDaysToSplitRequestInScheduleSearch,omitempty"`
	// UseProcedureWithoutSpecialityRelation resolves procedures by code only.
	UseProcedureWithoutSpecialityRelation bool `json:"useProcedureWithoutSpecialityRelation,omitempty"`
	// BlockSameDaySchedules enables the same-day rules handler.
	BlockSameDaySchedules bool `json:"blockSameDaySchedules,omitempty"`
	// FollowUpPeriodDays is the default return-visit window.
	FollowUpPeriodDays int `json:"followUpPeriodDays,omitempty"`
	// AdapterTimeout bounds each upstream call; zero keeps the process default.
	AdapterTimeout time.Duration `json:"adapterTimeout,omitempty"`
}

// SplitDays returns the chunk size for schedule searches.
func (r Rules) SplitDays(providerDefault int) int {
	if r.LimitOfDaysToSplitRequestInScheduleSearch > 0 {
		return r.LimitOfDaysToSplitRequestInScheduleSearch
	}
	if providerDefault > 0 {
		return providerDefault
	}
	return DefaultSplitDays
}

// Integration identifies a tenant+provider pairing. It is immutable per request.
type Integration struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspaceId"`
	Name        string            `json:"name"`
	Provider    string            `json:"provider"`
	Version     int               `json:"version"`
	Timezone    string            `json:"timezone,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
	Rules       Rules             `json:"rules"`
}

// Location returns the integration time zone, UTC when unset or invalid.
func (i Integration) Location() *time.Location {
	if tz := strings.TrimSpace(i.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.UTC
}

// Credential returns a credential value or the fallback.
func (i Integration) Credential(key, fallback string) string {
	if v := strings.TrimSpace(i.Credentials[key]); v != "" {
		return v
	}
	return fallback
}
