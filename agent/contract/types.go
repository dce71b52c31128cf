package contract

import (
	statex "github.com/crewline/agent/agent/state"
)

// Role names one of the model-backed collaborators, for per-role model
// selection.
type Role string

const (
	RoleClassifier  Role = "classifier"
	RoleExtractor   Role = "extractor"
	RoleToolPlanner Role = "tool_planner"
)

// UseCase is the closed set of user intents the assistant can act on.
type UseCase string

const (
	UseCaseSearchTrips    UseCase = "search_sailing_trips"
	UseCaseImproveProfile UseCase = "improve_profile"
	UseCaseRegister       UseCase = "register"
	// UseCasePostDemand is declared but not yet actionable; its tool
	// allow-list is empty and routing it yields a holding reply.
	UseCasePostDemand UseCase = "post_demand_or_alert"
	UseCaseUnknown    UseCase = "unknown"
)

// KnownUseCase reports whether uc is an actionable member of the enum.
func KnownUseCase(uc UseCase) bool {
	switch uc {
	case UseCaseSearchTrips, UseCaseImproveProfile, UseCaseRegister, UseCasePostDemand:
		return true
	}
	return false
}

// Classification is the intent classifier's verdict for one user turn.
type Classification struct {
	UseCase    UseCase `json:"use_case"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// ClassifyRequest bounds what the classifier may look at: the latest turn,
// a window of recent conversation, and which sections already hold data.
// Never the full transcript.
type ClassifyRequest struct {
	UserMessage     string                `json:"user_message"`
	RecentWindow    []statex.Message      `json:"recent_window,omitempty"`
	SectionsPresent []statex.SectionLabel `json:"sections_present,omitempty"`
}

// ExtractMode selects between the extractor's two entry modes.
type ExtractMode string

const (
	ExtractInitial    ExtractMode = "initial"
	ExtractRefinement ExtractMode = "refinement"
)

// ExtractRequest carries everything the extractor may consume. In refinement
// mode PreviousDraft and EditFeedback are set and the result must preserve
// every field the feedback does not reference.
type ExtractRequest struct {
	DataType      statex.DataType         `json:"data_type"`
	Context       string                  `json:"context"` // labelled-context blocks + recent window
	ToolResults   []statex.ToolInvocation `json:"tool_results,omitempty"`
	PreviousDraft *statex.DraftRecord     `json:"previous_draft,omitempty"`
	EditFeedback  string                  `json:"edit_feedback,omitempty"`
}

func (r ExtractRequest) Mode() ExtractMode {
	if r.PreviousDraft != nil {
		return ExtractRefinement
	}
	return ExtractInitial
}

// Extraction is the extractor's output: the resolved field bag plus the
// fields it could not resolve and the question that would resolve them.
type Extraction struct {
	Fields       statex.FieldBag `json:"fields"`
	Missing      []string        `json:"missing,omitempty"`
	NextQuestion string          `json:"next_question,omitempty"`
}

// ToolRequest is one planned tool invocation, not yet executed.
type ToolRequest struct {
	Tool string          `json:"tool"`
	Args statex.FieldBag `json:"args,omitempty"`
}

// PlanToolsRequest asks the tool planner which of the use case's allow-listed
// tools to invoke for the current turn, and with what arguments.
type PlanToolsRequest struct {
	UseCase      UseCase          `json:"use_case"`
	UserMessage  string           `json:"user_message"`
	Context      string           `json:"context"`
	RecentWindow []statex.Message `json:"recent_window,omitempty"`
}
