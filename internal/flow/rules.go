package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// Rule attaches an action to a flow type when every required code matches.
type Rule struct {
	IntegrationID string                            `json:"integrationId,omitempty"`
	FlowType      scheduling.FlowType               `json:"flowType"`
	Requires      scheduling.CorrelationFilterByKey `json:"requires,omitempty"`
	Action        scheduling.FlowAction             `json:"action"`
}

// Exclusion hides an entity from flows of an integration.
type Exclusion struct {
	IntegrationID string                `json:"integrationId"`
	EntityType    scheduling.EntityType `json:"entityType"`
	Code          string                `json:"code"`
}

// RuleMatcher is a static, configuration-driven Matcher.
type RuleMatcher struct {
	Rules      []Rule      `json:"rules"`
	Exclusions []Exclusion `json:"exclusions"`
}

var _ Matcher = (*RuleMatcher)(nil)

func (m *RuleMatcher) MatchEntitiesFlows(_ context.Context, integration scheduling.Integration, entities []scheduling.Entity, target scheduling.EntityType, _ scheduling.CorrelationFilter) ([]scheduling.Entity, error) {
	if m == nil || len(m.Exclusions) == 0 {
		return entities, nil
	}
	excluded := make(map[string]struct{})
	for _, ex := range m.Exclusions {
		if ex.IntegrationID == integration.ID && ex.EntityType == target {
			excluded[ex.Code] = struct{}{}
		}
	}
	out := make([]scheduling.Entity, 0, len(entities))
	for _, e := range entities {
		if _, ok := excluded[e.Code]; !ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *RuleMatcher) MatchFlowsAndGetActions(_ context.Context, integration scheduling.Integration, flowTypes []scheduling.FlowType, entities scheduling.CorrelationFilter) ([]scheduling.FlowAction, error) {
	if m == nil {
		return nil, nil
	}
	wanted := make(map[scheduling.FlowType]bool, len(flowTypes))
	for _, ft := range flowTypes {
		wanted[ft] = true
	}
	var actions []scheduling.FlowAction
	for _, rule := range m.Rules {
		if !wanted[rule.FlowType] {
			continue
		}
		if rule.IntegrationID != "" && rule.IntegrationID != integration.ID {
			continue
		}
		if requirementsMet(rule.Requires, entities) {
			actions = append(actions, rule.Action)
		}
	}
	return actions, nil
}

func requirementsMet(requires scheduling.CorrelationFilterByKey, entities scheduling.CorrelationFilter) bool {
	for t, code := range requires {
		e, ok := entities.Get(t)
		if !ok || e.Code != code {
			return false
		}
	}
	return true
}

// ReadRules decodes a RuleMatcher from JSON.
func ReadRules(r io.Reader) (*RuleMatcher, error) {
	var m RuleMatcher
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("flow: decode rules: %w", err)
	}
	for i, rule := range m.Rules {
		if rule.FlowType == "" {
			return nil, fmt.Errorf("flow: rule %d has no flowType", i)
		}
	}
	return &m, nil
}

// LoadRules reads a RuleMatcher from a JSON file.
func LoadRules(path string) (*RuleMatcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("flow: open rules file: %w", err)
	}
	defer f.Close()
	return ReadRules(f)
}
