package turnnode

import (
	"fmt"

	contractx "github.com/crewline/agent/agent/contract"
	promptx "github.com/crewline/agent/agent/prompt"
)

// BuildContext assembles the bounded model-facing context for the turn: the
// tagged section blocks plus a recent-window transcript. The full transcript
// is never sent anywhere.
func BuildContext(in *GraphState, windowSize int) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	in.TurnContext = promptx.TurnContext(in.Session, in.Session.Recent(windowSize))
	return in, nil
}
