package confirm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

// Controller drives a draft record through the confirmation loop:
//
//	proposed -> presented -> confirmed (terminal)
//	                      -> editing -> proposed (revision+1), looping
//	any open state        -> discarded (terminal)
//
// Confirming writes the draft's field bag into the session's labelled section
// in the same in-memory mutation as the status change; the store's
// single-save atomicity makes the pair observable all-or-nothing.
type Controller struct {
	extractor contractx.Extractor
	now       func() time.Time
	newID     func() string
}

type Option func(*Controller)

// WithClock overrides the controller clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDFunc overrides draft id generation, for deterministic tests.
func WithIDFunc(newID func() string) Option {
	return func(c *Controller) {
		if newID != nil {
			c.newID = newID
		}
	}
}

func New(extractor contractx.Extractor, opts ...Option) (*Controller, error) {
	if extractor == nil {
		return nil, fmt.Errorf("%w: extractor is required", contractx.ErrValidation)
	}
	c := &Controller{
		extractor: extractor,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Propose installs an extraction as the session's open draft for the data
// type. With an open draft already present the extraction becomes its
// successor revision, so one logical draft survives the refinement loop.
func (c *Controller) Propose(
	sess *statex.Session,
	dataType statex.DataType,
	extraction contractx.Extraction,
) (*statex.DraftRecord, error) {
	if sess == nil {
		return nil, statex.ErrNilSession
	}
	if !statex.KnownDataType(dataType) {
		return nil, fmt.Errorf("%w: unsupported data type=%q", contractx.ErrValidation, dataType)
	}

	now := c.now()
	var draft *statex.DraftRecord
	if cur, ok := sess.OpenDraft(dataType); ok {
		draft = cur.Successor(extraction.Fields, extraction.Missing, extraction.NextQuestion, now)
	} else {
		draft = statex.NewDraft(c.newID(), dataType, extraction.Fields, now)
		draft.Missing = extraction.Missing
		draft.NextQuestion = extraction.NextQuestion
	}

	if err := sess.PutDraft(draft); err != nil {
		return nil, err
	}
	sess.Touch(now)
	return draft, nil
}

// Present marks the open draft as shown to the user and moves the session to
// awaiting-confirmation. No further mutation happens until a user action.
func (c *Controller) Present(sess *statex.Session, dataType statex.DataType) (*statex.DraftRecord, error) {
	draft, err := c.openDraft(sess, dataType)
	if err != nil {
		return nil, err
	}
	switch draft.Status {
	case statex.DraftProposed, statex.DraftPresented:
	default:
		return nil, fmt.Errorf("%w: cannot present draft in status=%s", statex.ErrInvalidTransition, draft.Status)
	}

	now := c.now()
	draft.Status = statex.DraftPresented
	draft.UpdatedAt = now.UTC()
	sess.Status = statex.SessionAwaitingConfirmation
	sess.Touch(now)
	return draft, nil
}

// Confirm accepts the presented draft: the field bag is written wholesale
// into the corresponding labelled section and the draft becomes confirmed.
// Re-confirming an already-confirmed draft is a no-op.
func (c *Controller) Confirm(sess *statex.Session, dataType statex.DataType) error {
	if sess == nil {
		return statex.ErrNilSession
	}
	draft, ok := sess.Drafts[dataType]
	if !ok || draft == nil {
		return fmt.Errorf("%w: data type=%s", statex.ErrDraftNotFound, dataType)
	}
	if draft.Status == statex.DraftConfirmed {
		return nil
	}
	if draft.Status != statex.DraftPresented {
		return fmt.Errorf("%w: cannot confirm draft in status=%s", statex.ErrInvalidTransition, draft.Status)
	}
	if !draft.Complete() {
		return fmt.Errorf("%w: data type=%s missing=%v", contractx.ErrExtractionIncomplete, dataType, draft.Missing)
	}

	label, err := statex.SectionFor(dataType)
	if err != nil {
		return err
	}

	now := c.now()
	if err := sess.SetSection(label, draft.Fields, now); err != nil {
		return err
	}
	draft.Status = statex.DraftConfirmed
	draft.UpdatedAt = now.UTC()
	sess.Status = statex.SessionActive
	sess.Touch(now)
	return nil
}

// Edit feeds the user's free-text feedback back through the extractor in
// refinement mode and proposes the successor revision. Fields the feedback
// does not reference survive unchanged.
func (c *Controller) Edit(
	ctx context.Context,
	sess *statex.Session,
	dataType statex.DataType,
	feedback string,
	turnContext string,
	toolResults []statex.ToolInvocation,
) (*statex.DraftRecord, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, fmt.Errorf("%w: edit feedback is empty", contractx.ErrValidation)
	}
	draft, err := c.openDraft(sess, dataType)
	if err != nil {
		return nil, err
	}
	if draft.Status != statex.DraftPresented {
		return nil, fmt.Errorf("%w: cannot edit draft in status=%s", statex.ErrInvalidTransition, draft.Status)
	}

	draft.Status = statex.DraftEditing
	draft.UpdatedAt = c.now().UTC()

	extraction, err := c.extractor.Extract(ctx, contractx.ExtractRequest{
		DataType:      dataType,
		Context:       turnContext,
		ToolResults:   toolResults,
		PreviousDraft: draft,
		EditFeedback:  feedback,
	})
	if err != nil {
		// The refinement never happened; put the draft back in front of
		// the user so the action can be retried.
		draft.Status = statex.DraftPresented
		return nil, err
	}

	next := draft.Successor(extraction.Fields, extraction.Missing, extraction.NextQuestion, c.now())
	if err := sess.PutDraft(next); err != nil {
		return nil, err
	}
	sess.Touch(c.now())
	return next, nil
}

// Discard abandons the open draft without touching any labelled section.
func (c *Controller) Discard(sess *statex.Session, dataType statex.DataType) error {
	draft, err := c.openDraft(sess, dataType)
	if err != nil {
		return err
	}
	now := c.now()
	draft.Status = statex.DraftDiscarded
	draft.UpdatedAt = now.UTC()
	sess.Status = statex.SessionActive
	sess.Touch(now)
	return nil
}

func (c *Controller) openDraft(sess *statex.Session, dataType statex.DataType) (*statex.DraftRecord, error) {
	if sess == nil {
		return nil, statex.ErrNilSession
	}
	draft, ok := sess.OpenDraft(dataType)
	if !ok {
		return nil, fmt.Errorf("%w: data type=%s", statex.ErrDraftNotFound, dataType)
	}
	return draft, nil
}
