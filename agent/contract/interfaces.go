package contract

import (
	"context"

	statex "github.com/crewline/agent/agent/state"
)

// Classifier maps the latest user turn plus a bounded window of recent
// conversation to a use case with a confidence score. Deterministic given
// identical inputs and model outputs; no side effects.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Classification, error)
}

// Extractor turns conversation context and tool results into a field bag for
// one data type. See ExtractRequest for the two entry modes.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (Extraction, error)
}

// ToolPlanner proposes which tools to invoke for a turn. Implementations are
// model-backed; the router still enforces the use case allow-list on whatever
// comes back.
type ToolPlanner interface {
	PlanTools(ctx context.Context, req PlanToolsRequest) ([]ToolRequest, error)
}

// ToolRouter narrows the registry to a use case's allow-list, plans the
// invocations, and executes them.
type ToolRouter interface {
	Route(ctx context.Context, req PlanToolsRequest) ([]ToolRequest, error)
	Execute(ctx context.Context, requests []ToolRequest) ([]statex.ToolInvocation, error)
}

// Registry hands out the model-backed collaborators.
type Registry interface {
	Classifier() Classifier
	Extractor() Extractor
	ToolPlanner() ToolPlanner
}
