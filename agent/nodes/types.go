package turnnode

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = errors.New("session id is empty")
)

type GraphInput struct {
	SessionID string
	Text      string
}

type GraphOutput struct {
	Reply       string
	UseCase     contractx.UseCase
	Draft       *statex.DraftRecord
	Invocations []statex.ToolInvocation
	Session     *statex.Session
}

// GraphState is threaded through the turn pipeline, one node at a time.
type GraphState struct {
	SessionID string
	Text      string
	Now       time.Time

	Session       *statex.Session
	LoadedVersion int64

	TurnContext    string
	Classification contractx.Classification
	// Resolved short-circuits later nodes once the turn's reply is settled
	// (clarifying question, non-actionable use case).
	Resolved bool

	ToolRequests []contractx.ToolRequest
	Invocations  []statex.ToolInvocation

	DataType   statex.DataType
	Extraction contractx.Extraction
	Draft      *statex.DraftRecord

	Reply string
}

func ValidateTurn(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}
	return &GraphState{
		SessionID: sessionID,
		Text:      text,
		Now:       nowFn().UTC(),
	}, nil
}
