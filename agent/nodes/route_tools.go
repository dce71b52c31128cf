package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/crewline/agent/agent/contract"
)

// RouteTools plans the turn's tool invocations from the use case's
// allow-listed subset.
func RouteTools(ctx context.Context, in *GraphState, router contractx.ToolRouter) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if in.Resolved {
		return in, nil
	}

	requests, err := router.Route(ctx, contractx.PlanToolsRequest{
		UseCase:     in.Classification.UseCase,
		UserMessage: in.Text,
		Context:     in.TurnContext,
	})
	if err != nil {
		return nil, err
	}
	in.ToolRequests = requests
	return in, nil
}

// ExecuteTools runs the planned invocations. A fatal tool failure aborts the
// turn here, before anything is written to the store; recoverable failures
// ride along on the invocation records.
func ExecuteTools(ctx context.Context, in *GraphState, router contractx.ToolRouter) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Resolved || len(in.ToolRequests) == 0 {
		return in, nil
	}

	invocations, err := router.Execute(ctx, in.ToolRequests)
	if err != nil {
		return nil, err
	}
	in.Invocations = invocations
	return in, nil
}
