package confirm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeExtractor struct {
	resp     contractx.Extraction
	err      error
	calls    int
	lastReqs []contractx.ExtractRequest
}

func (f *fakeExtractor) Extract(ctx context.Context, req contractx.ExtractRequest) (contractx.Extraction, error) {
	f.calls++
	f.lastReqs = append(f.lastReqs, req)
	if f.err != nil {
		return contractx.Extraction{}, f.err
	}
	return f.resp, nil
}

func newControllerForTest(t *testing.T, extractor contractx.Extractor) *Controller {
	t.Helper()
	ids := 0
	c, err := New(extractor,
		WithClock(func() time.Time { return testNow }),
		WithIDFunc(func() string {
			ids++
			return fmt.Sprintf("draft-%d", ids)
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestProposePresentConfirmWritesSection(t *testing.T) {
	t.Parallel()

	c := newControllerForTest(t, &fakeExtractor{})
	sess := statex.NewSession("s1", testNow)

	draft, err := c.Propose(sess, statex.DataCrewRequirements, contractx.Extraction{
		Fields: statex.FieldBag{"positions": 2, "route": "baltic"},
	})
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if draft.Revision != 1 || draft.Status != statex.DraftProposed {
		t.Fatalf("unexpected draft: %+v", draft)
	}

	if _, err := c.Present(sess, statex.DataCrewRequirements); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	if sess.Status != statex.SessionAwaitingConfirmation {
		t.Fatalf("expected awaiting-confirmation, got %s", sess.Status)
	}
	// The section must stay untouched until confirmation.
	if len(sess.CrewRequirements) != 0 {
		t.Fatalf("section written before confirm: %v", sess.CrewRequirements)
	}

	if err := c.Confirm(sess, statex.DataCrewRequirements); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if sess.CrewRequirements["route"] != "baltic" {
		t.Fatalf("section not written: %v", sess.CrewRequirements)
	}
	if sess.Status != statex.SessionActive {
		t.Fatalf("expected active after confirm, got %s", sess.Status)
	}
	if draft.Status != statex.DraftConfirmed {
		t.Fatalf("expected confirmed draft, got %s", draft.Status)
	}

	// Re-confirming is a no-op.
	if err := c.Confirm(sess, statex.DataCrewRequirements); err != nil {
		t.Fatalf("re-Confirm() error = %v", err)
	}
}

func TestConfirmRequiresPresentedAndComplete(t *testing.T) {
	t.Parallel()

	c := newControllerForTest(t, &fakeExtractor{})
	sess := statex.NewSession("s1", testNow)

	if err := c.Confirm(sess, statex.DataProfileSummary); !errors.Is(err, statex.ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}

	if _, err := c.Propose(sess, statex.DataProfileSummary, contractx.Extraction{
		Fields:       statex.FieldBag{"experience_level": "coastal"},
		Missing:      []string{"certifications"},
		NextQuestion: "Which certifications do you hold?",
	}); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	// Proposed but not yet presented.
	if err := c.Confirm(sess, statex.DataProfileSummary); !errors.Is(err, statex.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := c.Present(sess, statex.DataProfileSummary); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	if err := c.Confirm(sess, statex.DataProfileSummary); !errors.Is(err, contractx.ErrExtractionIncomplete) {
		t.Fatalf("expected ErrExtractionIncomplete, got %v", err)
	}
	if len(sess.SkipperProfile) != 0 {
		t.Fatal("incomplete confirm must not write the section")
	}
}

func TestEditPreservesUnreferencedFields(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{
		resp: contractx.Extraction{
			Fields: statex.FieldBag{"positions": 2, "route": "biscay"},
		},
	}
	c := newControllerForTest(t, extractor)
	sess := statex.NewSession("s1", testNow)

	if _, err := c.Propose(sess, statex.DataCrewRequirements, contractx.Extraction{
		Fields: statex.FieldBag{"positions": 2, "route": "baltic"},
	}); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if _, err := c.Present(sess, statex.DataCrewRequirements); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	next, err := c.Edit(context.Background(), sess, statex.DataCrewRequirements,
		"make it biscay instead", "ctx", nil)
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if next.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", next.Revision)
	}
	if next.Fields["positions"] != 2 || next.Fields["route"] != "biscay" {
		t.Fatalf("unexpected fields: %v", next.Fields)
	}

	req := extractor.lastReqs[0]
	if req.Mode() != contractx.ExtractRefinement {
		t.Fatalf("expected refinement mode, got %s", req.Mode())
	}
	if req.PreviousDraft == nil || req.EditFeedback == "" {
		t.Fatalf("refinement request missing prior draft or feedback: %+v", req)
	}

	// A second round keeps the same logical draft.
	extractor.resp = contractx.Extraction{Fields: statex.FieldBag{"positions": 3, "route": "biscay"}}
	if _, err := c.Present(sess, statex.DataCrewRequirements); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	third, err := c.Edit(context.Background(), sess, statex.DataCrewRequirements,
		"three positions", "ctx", nil)
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if third.Revision != 3 || third.ID != next.ID {
		t.Fatalf("expected revision 3 of the same draft, got %+v", third)
	}
}

func TestEditFailureRestoresPresented(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{err: fmt.Errorf("model unavailable")}
	c := newControllerForTest(t, extractor)
	sess := statex.NewSession("s1", testNow)

	if _, err := c.Propose(sess, statex.DataJourneySummary, contractx.Extraction{
		Fields: statex.FieldBag{"leg": "leg-1"},
	}); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if _, err := c.Present(sess, statex.DataJourneySummary); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	if _, err := c.Edit(context.Background(), sess, statex.DataJourneySummary,
		"change the leg", "ctx", nil); err == nil {
		t.Fatal("expected extractor error to propagate")
	}

	draft, ok := sess.OpenDraft(statex.DataJourneySummary)
	if !ok {
		t.Fatal("draft must stay open after a failed edit")
	}
	if draft.Status != statex.DraftPresented {
		t.Fatalf("expected presented after failed edit, got %s", draft.Status)
	}
	if draft.Revision != 1 {
		t.Fatalf("failed edit must not advance the revision, got %d", draft.Revision)
	}
}

func TestEditRejectsEmptyFeedback(t *testing.T) {
	t.Parallel()

	c := newControllerForTest(t, &fakeExtractor{})
	sess := statex.NewSession("s1", testNow)
	if _, err := c.Edit(context.Background(), sess, statex.DataJourneySummary, "   ", "", nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDiscardLeavesSectionsAlone(t *testing.T) {
	t.Parallel()

	c := newControllerForTest(t, &fakeExtractor{})
	sess := statex.NewSession("s1", testNow)
	sess.JourneyDetails = statex.FieldBag{"leg": "leg-0"}

	if _, err := c.Propose(sess, statex.DataJourneySummary, contractx.Extraction{
		Fields: statex.FieldBag{"leg": "leg-9"},
	}); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if _, err := c.Present(sess, statex.DataJourneySummary); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	if err := c.Discard(sess, statex.DataJourneySummary); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if sess.JourneyDetails["leg"] != "leg-0" {
		t.Fatalf("discard touched the section: %v", sess.JourneyDetails)
	}
	if sess.Status != statex.SessionActive {
		t.Fatalf("expected active after discard, got %s", sess.Status)
	}
	if _, ok := sess.OpenDraft(statex.DataJourneySummary); ok {
		t.Fatal("discarded draft still reported open")
	}

	// A fresh draft may open after the discard.
	if _, err := c.Propose(sess, statex.DataJourneySummary, contractx.Extraction{
		Fields: statex.FieldBag{"leg": "leg-2"},
	}); err != nil {
		t.Fatalf("Propose() after discard error = %v", err)
	}
}
