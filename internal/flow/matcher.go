// Package flow routes entities and appointments to bot flows.
package flow

import (
	"context"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// Matcher decides which entities a flow may offer and which follow-up actions
// an appointment exposes.
type Matcher interface {
	// MatchEntitiesFlows returns the subset of entities valid for target under filter.
	MatchEntitiesFlows(ctx context.Context, integration scheduling.Integration, entities []scheduling.Entity, target scheduling.EntityType, filter scheduling.CorrelationFilter) ([]scheduling.Entity, error)
	// MatchFlowsAndGetActions returns the actions of flowTypes that apply to entities.
	MatchFlowsAndGetActions(ctx context.Context, integration scheduling.Integration, flowTypes []scheduling.FlowType, entities scheduling.CorrelationFilter) ([]scheduling.FlowAction, error)
}

// PassThrough accepts every entity and yields no actions.
type PassThrough struct{}

var _ Matcher = PassThrough{}

func (PassThrough) MatchEntitiesFlows(_ context.Context, _ scheduling.Integration, entities []scheduling.Entity, _ scheduling.EntityType, _ scheduling.CorrelationFilter) ([]scheduling.Entity, error) {
	return entities, nil
}

func (PassThrough) MatchFlowsAndGetActions(context.Context, scheduling.Integration, []scheduling.FlowType, scheduling.CorrelationFilter) ([]scheduling.FlowAction, error) {
	return nil, nil
}
