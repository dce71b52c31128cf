package turnnode

import (
	"fmt"
	"sort"
	"strings"

	confirmx "github.com/crewline/agent/agent/confirm"
	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

// ProposeDraft installs the extraction as the session's open draft and
// presents it. A draft with unresolved fields is presented with the question
// that would resolve them instead of a confirmation request.
func ProposeDraft(in *GraphState, controller *confirmx.Controller) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if in.Resolved {
		return in, nil
	}

	if _, err := controller.Propose(in.Session, in.DataType, in.Extraction); err != nil {
		return nil, err
	}
	draft, err := controller.Present(in.Session, in.DataType)
	if err != nil {
		return nil, err
	}

	in.Draft = draft
	in.Reply = renderDraftReply(draft)
	return in, nil
}

func renderDraftReply(draft *statex.DraftRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is your %s so far:\n", draft.DataType)

	keys := make([]string, 0, len(draft.Fields))
	for k := range draft.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, draft.Fields[k])
	}

	if !draft.Complete() {
		if draft.NextQuestion != "" {
			b.WriteString(draft.NextQuestion)
		} else {
			fmt.Fprintf(&b, "I still need: %s.", strings.Join(draft.Missing, ", "))
		}
		return b.String()
	}
	b.WriteString("Does this look right? Confirm, or tell me what to change.")
	return b.String()
}
