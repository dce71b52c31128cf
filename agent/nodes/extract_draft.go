package turnnode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/crewline/agent/agent/contract"
	promptx "github.com/crewline/agent/agent/prompt"
	statex "github.com/crewline/agent/agent/state"
)

// dataTypeFor maps an actionable use case to the summary it collects.
func dataTypeFor(uc contractx.UseCase) (statex.DataType, bool) {
	switch uc {
	case contractx.UseCaseSearchTrips:
		return statex.DataCrewRequirements, true
	case contractx.UseCaseImproveProfile:
		return statex.DataProfileSummary, true
	case contractx.UseCaseRegister:
		return statex.DataJourneySummary, true
	default:
		return "", false
	}
}

// ExtractDraft turns the turn's context and tool results into the draft's
// extraction. With an open draft already in play, the user's message is
// treated as refinement feedback on it.
func ExtractDraft(
	ctx context.Context,
	in *GraphState,
	extractor contractx.Extractor,
	windowSize int,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if in.Resolved {
		return in, nil
	}

	dataType, ok := dataTypeFor(in.Classification.UseCase)
	if !ok {
		return nil, fmt.Errorf("%w: no data type for use case=%q", contractx.ErrValidation, in.Classification.UseCase)
	}
	in.DataType = dataType

	extractContext, err := extractionContext(in, dataType, windowSize)
	if err != nil {
		return nil, err
	}

	req := contractx.ExtractRequest{
		DataType:    dataType,
		Context:     extractContext,
		ToolResults: in.Invocations,
	}
	if prev, open := in.Session.OpenDraft(dataType); open {
		req.PreviousDraft = prev
		req.EditFeedback = in.Text
	}

	extraction, err := extractor.Extract(ctx, req)
	if err != nil {
		return nil, err
	}

	in.Extraction = extraction
	return in, nil
}

// extractionContext narrows the model context to the block authoritative for
// the data type, the recent transcript, and the current message.
func extractionContext(in *GraphState, dataType statex.DataType, windowSize int) (string, error) {
	block, err := promptx.AuthoritativeBlock(in.Session, dataType)
	if err != nil {
		return "", err
	}
	transcript := promptx.Transcript(in.Session.Recent(windowSize))

	var b strings.Builder
	if block != "" {
		b.WriteString(block)
		b.WriteString("\n\n")
	}
	if transcript != "" {
		b.WriteString(transcript)
		b.WriteByte('\n')
	}
	b.WriteString("user: ")
	b.WriteString(in.Text)
	return b.String(), nil
}
