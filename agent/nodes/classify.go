package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/crewline/agent/agent/contract"
	promptx "github.com/crewline/agent/agent/prompt"
)

// ClassifyIntent resolves the turn's use case. Below-threshold classifications
// come back as unknown; the turn then asks a disambiguating question instead
// of guessing at tools.
func ClassifyIntent(
	ctx context.Context,
	in *GraphState,
	classifier contractx.Classifier,
	windowSize int,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	classification, err := classifier.Classify(ctx, contractx.ClassifyRequest{
		UserMessage:     in.Text,
		RecentWindow:    in.Session.Recent(windowSize),
		SectionsPresent: promptx.SectionsPresent(in.Session),
	})
	if err != nil {
		return nil, err
	}
	in.Classification = classification

	switch classification.UseCase {
	case contractx.UseCaseUnknown:
		in.Resolved = true
		in.Reply = "I can help you search for sailing trips, improve your profile, or register for a journey leg. Which would you like to do?"
	case contractx.UseCasePostDemand:
		// Declared but not yet actionable.
		in.Resolved = true
		in.Reply = "Posting crew demands and trip alerts is not available yet. I can help you search trips, improve your profile, or register for a leg."
	}
	return in, nil
}
