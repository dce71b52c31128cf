package sequencer

import (
	"errors"
	"testing"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

func newSequenceForTest(t *testing.T) *Sequence {
	t.Helper()
	seq, err := NewSequence([]ModuleConfig{
		{ID: "profile", Order: 10},
		{ID: "requirements", Order: 20},
		{ID: "journey", Order: 30},
	})
	if err != nil {
		t.Fatalf("NewSequence() error = %v", err)
	}
	return seq
}

func TestNewSequenceValidatesIDs(t *testing.T) {
	t.Parallel()

	if _, err := NewSequence([]ModuleConfig{{ID: "  "}}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty id, got %v", err)
	}
	if _, err := NewSequence([]ModuleConfig{{ID: "a"}, {ID: "a"}}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate id, got %v", err)
	}
}

func TestNewSequenceSortsByOrder(t *testing.T) {
	t.Parallel()

	seq, err := NewSequence([]ModuleConfig{
		{ID: "c", Order: 30},
		{ID: "a", Order: 10},
		{ID: "b", Order: 20},
	})
	if err != nil {
		t.Fatalf("NewSequence() error = %v", err)
	}
	modules := seq.Modules()
	for i, want := range []string{"a", "b", "c"} {
		if modules[i].ID != want {
			t.Fatalf("module %d = %s, want %s", i, modules[i].ID, want)
		}
	}
}

func TestAdvanceNextRequiresAction(t *testing.T) {
	t.Parallel()

	seq := newSequenceForTest(t)
	if err := seq.Advance(StepNext, false); !errors.Is(err, ErrActionNotRun) {
		t.Fatalf("expected ErrActionNotRun, got %v", err)
	}
	cur, ok := seq.Current()
	if !ok || cur.ID != "profile" || cur.Completed {
		t.Fatalf("failed next must not move the pointer: %+v", cur)
	}

	if err := seq.Advance(StepNext, true); err != nil {
		t.Fatalf("Advance(next) error = %v", err)
	}
	cur, _ = seq.Current()
	if cur.ID != "requirements" {
		t.Fatalf("expected requirements, got %s", cur.ID)
	}
	if first := seq.Modules()[0]; !first.Completed || first.Skipped {
		t.Fatalf("unexpected first module state: %+v", first)
	}
}

func TestAdvanceSkipCompletesWithoutAction(t *testing.T) {
	t.Parallel()

	seq := newSequenceForTest(t)
	if err := seq.Advance(StepSkip, false); err != nil {
		t.Fatalf("Advance(skip) error = %v", err)
	}
	first := seq.Modules()[0]
	if !first.Completed || !first.Skipped {
		t.Fatalf("expected completed+skipped, got %+v", first)
	}
}

func TestAdvanceBack(t *testing.T) {
	t.Parallel()

	seq := newSequenceForTest(t)
	if err := seq.Advance(StepBack, false); !errors.Is(err, ErrAtFirstModule) {
		t.Fatalf("expected ErrAtFirstModule, got %v", err)
	}
	if err := seq.Advance(StepNext, true); err != nil {
		t.Fatalf("Advance(next) error = %v", err)
	}
	if err := seq.Advance(StepBack, false); err != nil {
		t.Fatalf("Advance(back) error = %v", err)
	}
	cur, _ := seq.Current()
	if cur.ID != "profile" {
		t.Fatalf("expected profile after back, got %s", cur.ID)
	}
	// Completion earned before going back is kept.
	if !cur.Completed {
		t.Fatal("revisited module lost its completion")
	}
}

func TestAdvanceUnknownStep(t *testing.T) {
	t.Parallel()

	seq := newSequenceForTest(t)
	if err := seq.Advance("sideways", false); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
}

func TestDoneAfterLastModule(t *testing.T) {
	t.Parallel()

	seq := newSequenceForTest(t)
	for i := 0; i < 3; i++ {
		if err := seq.Advance(StepNext, true); err != nil {
			t.Fatalf("Advance(next) %d error = %v", i, err)
		}
	}
	if !seq.Done() {
		t.Fatal("expected Done after completing every module")
	}
	if _, ok := seq.Current(); ok {
		t.Fatal("no module should be current when done")
	}
	if err := seq.Advance(StepNext, true); !errors.Is(err, ErrNoCurrentModule) {
		t.Fatalf("expected ErrNoCurrentModule, got %v", err)
	}
}

func TestReorderFollowsCurrentModule(t *testing.T) {
	t.Parallel()

	seq := newSequenceForTest(t)
	if err := seq.Advance(StepNext, true); err != nil {
		t.Fatalf("Advance(next) error = %v", err)
	}
	// Pointer rests on "requirements"; move "journey" ahead of it.
	if err := seq.Reorder("journey", 15); err != nil {
		t.Fatalf("Reorder() error = %v", err)
	}
	cur, _ := seq.Current()
	if cur.ID != "requirements" {
		t.Fatalf("pointer must follow its module, got %s", cur.ID)
	}
	modules := seq.Modules()
	for i, want := range []string{"profile", "journey", "requirements"} {
		if modules[i].ID != want {
			t.Fatalf("module %d = %s, want %s", i, modules[i].ID, want)
		}
	}

	if err := seq.Reorder("ghost", 1); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	seq := newSequenceForTest(t)
	if err := seq.Advance(StepSkip, false); err != nil {
		t.Fatalf("Advance(skip) error = %v", err)
	}
	if err := seq.Advance(StepNext, true); err != nil {
		t.Fatalf("Advance(next) error = %v", err)
	}

	fs := seq.Snapshot()
	if fs.Current != "journey" || fs.Done {
		t.Fatalf("unexpected snapshot position: %+v", fs)
	}
	if p := fs.Progress["profile"]; !p.Completed || !p.Skipped {
		t.Fatalf("skip not recorded: %+v", fs.Progress)
	}
	if p := fs.Progress["requirements"]; !p.Completed || p.Skipped {
		t.Fatalf("completion not recorded: %+v", fs.Progress)
	}

	restored := newSequenceForTest(t)
	if err := restored.Restore(fs); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	cur, ok := restored.Current()
	if !ok || cur.ID != "journey" {
		t.Fatalf("unexpected current after restore: %+v", cur)
	}
	modules := restored.Modules()
	if !modules[0].Skipped || !modules[1].Completed {
		t.Fatalf("progress lost on restore: %+v", modules)
	}
}

func TestRestoreDoneAndUnknownCurrent(t *testing.T) {
	t.Parallel()

	seq := newSequenceForTest(t)
	if err := seq.Restore(nil); err != nil {
		t.Fatalf("Restore(nil) error = %v", err)
	}
	if _, ok := seq.Current(); !ok {
		t.Fatal("nil flow state must leave the sequence at the start")
	}

	done := newSequenceForTest(t)
	if err := done.Restore(&statex.FlowState{Done: true}); err != nil {
		t.Fatalf("Restore(done) error = %v", err)
	}
	if !done.Done() {
		t.Fatal("expected restored sequence to be done")
	}

	stale := newSequenceForTest(t)
	if err := stale.Restore(&statex.FlowState{Current: "ghost"}); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
}
