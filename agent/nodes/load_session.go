package turnnode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

// LoadOrCreateSession loads the session or starts a fresh one when the id is
// unseen. The loaded version is kept for the optimistic save at the end of
// the turn.
func LoadOrCreateSession(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	sess, err := store.Load(ctx, in.SessionID)
	if err != nil {
		if !errors.Is(err, statex.ErrSessionNotFound) {
			return nil, err
		}
		sess = statex.NewSession(in.SessionID, in.Now)
	}

	in.Session = sess
	in.LoadedVersion = sess.Version
	return in, nil
}
