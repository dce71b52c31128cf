package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

// SaveSession appends the turn's messages to the transcript and persists the
// session in one optimistic save. Nothing earlier in the pipeline writes to
// the store, so an aborted turn leaves no partial state behind.
func SaveSession(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if in.Reply == "" {
		return nil, fmt.Errorf("%w: turn produced no reply", contractx.ErrValidation)
	}

	in.Session.Append(statex.RoleUser, in.Text, nil, in.Now)
	in.Session.Append(statex.RoleAssistant, in.Reply, in.Invocations, in.Now)

	if err := in.Session.Validate(); err != nil {
		return nil, fmt.Errorf("session validation failed: %w", err)
	}

	saved, err := store.Save(ctx, in.Session, in.LoadedVersion)
	if err != nil {
		return nil, err
	}
	in.Session = saved
	if in.Draft != nil {
		if d, ok := saved.Drafts[in.DataType]; ok {
			in.Draft = d
		}
	}
	return in, nil
}

// FinalizeReply shapes the pipeline's output.
func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	return GraphOutput{
		Reply:       in.Reply,
		UseCase:     in.Classification.UseCase,
		Draft:       in.Draft,
		Invocations: in.Invocations,
		Session:     in.Session,
	}, nil
}
