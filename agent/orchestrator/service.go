package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"

	confirmx "github.com/crewline/agent/agent/confirm"
	contractx "github.com/crewline/agent/agent/contract"
	turnnode "github.com/crewline/agent/agent/nodes"
	promptx "github.com/crewline/agent/agent/prompt"
	sequencerx "github.com/crewline/agent/agent/sequencer"
	statex "github.com/crewline/agent/agent/state"
	logx "github.com/crewline/agent/pkg/logger"
)

var (
	ErrInvalidMessage = turnnode.ErrInvalidMessage
	ErrInvalidSession = turnnode.ErrInvalidSession

	// ErrTooManyEdits is returned when a draft has been through more
	// refinement rounds than the configured ceiling allows.
	ErrTooManyEdits = errors.New("refinement round limit reached")
)

// Config carries the tunables of a turn pipeline.
type Config struct {
	// WindowSize bounds how many recent conversation messages are fed to
	// the models as context.
	WindowSize int

	// MaxEditRounds caps refinement rounds per draft. Zero means unlimited.
	MaxEditRounds int

	// Modules describes the guided onboarding flow, in order. Empty
	// disables the sequencer endpoints.
	Modules []sequencerx.ModuleConfig
}

// Orchestrator owns a session's turn lifecycle: it runs the turn graph,
// drives draft confirmation, and tracks guided-flow progress. Turns on the
// same session are serialized; turns on different sessions run concurrently.
type Orchestrator struct {
	cfg     Config
	store   statex.Store
	models  contractx.Registry
	router  contractx.ToolRouter
	confirm *confirmx.Controller
	now     func() time.Time

	runner compose.Runnable[turnnode.GraphInput, turnnode.GraphOutput]

	mu        sync.Mutex
	sessionMu map[string]*sync.Mutex
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New compiles the turn graph and returns a ready Orchestrator.
func New(
	ctx context.Context,
	cfg Config,
	store statex.Store,
	models contractx.Registry,
	router contractx.ToolRouter,
	confirm *confirmx.Controller,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", contractx.ErrValidation)
	}
	if models == nil {
		return nil, fmt.Errorf("%w: model registry is nil", contractx.ErrValidation)
	}
	if router == nil {
		return nil, fmt.Errorf("%w: tool router is nil", contractx.ErrValidation)
	}
	if confirm == nil {
		return nil, fmt.Errorf("%w: confirm controller is nil", contractx.ErrValidation)
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 12
	}

	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		models:    models,
		router:    router,
		confirm:   confirm,
		now:       time.Now,
		sessionMu: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}

	runner, err := o.compileTurnGraph(ctx)
	if err != nil {
		return nil, err
	}
	o.runner = runner
	return o, nil
}

func (o *Orchestrator) lockSession(id string) func() {
	o.mu.Lock()
	mu, ok := o.sessionMu[id]
	if !ok {
		mu = &sync.Mutex{}
		o.sessionMu[id] = mu
	}
	o.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// HandleTurn runs one free-text user turn through the pipeline and returns
// the assistant reply together with the persisted session state.
func (o *Orchestrator) HandleTurn(ctx context.Context, in turnnode.GraphInput) (turnnode.GraphOutput, error) {
	unlock := o.lockSession(in.SessionID)
	defer unlock()

	out, err := o.runner.Invoke(ctx, in)
	if err != nil {
		lg := logx.For("orchestrator")
		lg.Error().
			Err(err).
			Str("session_id", in.SessionID).
			Msg("turn failed")
		return turnnode.GraphOutput{}, err
	}
	return out, nil
}

// CreateSession provisions an empty session. The owner reference may be
// empty until the user authenticates; such sessions start in awaiting-auth.
func (o *Orchestrator) CreateSession(ctx context.Context, ownerID string) (*statex.Session, error) {
	sess := statex.NewSession(uuid.NewString(), o.now())
	sess.OwnerID = ownerID
	if ownerID == "" {
		sess.Status = statex.SessionAwaitingAuth
	}

	unlock := o.lockSession(sess.ID)
	defer unlock()

	return o.store.Save(ctx, sess, 0)
}

// GetSession returns the current persisted state of a session.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*statex.Session, error) {
	return o.store.Load(ctx, sessionID)
}

// ArchiveSession retires a session. The record stays loadable; it is not
// deleted.
func (o *Orchestrator) ArchiveSession(ctx context.Context, sessionID string) (*statex.Session, error) {
	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Status = statex.SessionArchived
	return o.store.Save(ctx, sess, sess.Version)
}

// PatchSection merges fields into one of the session's data sections
// directly, bypassing the draft flow. Used by trusted callers that already
// hold validated data.
func (o *Orchestrator) PatchSection(
	ctx context.Context,
	sessionID string,
	label statex.SectionLabel,
	fields statex.FieldBag,
) (*statex.Session, error) {
	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	loaded := sess.Version

	current, err := sess.Section(label)
	if err != nil {
		return nil, err
	}
	merged := current.Clone()
	if merged == nil {
		merged = statex.FieldBag{}
	}
	for k, v := range fields {
		merged[k] = v
	}
	if err := sess.SetSection(label, merged, o.now()); err != nil {
		return nil, err
	}
	return o.store.Save(ctx, sess, loaded)
}

// ConfirmDraft commits the presented draft of the given data type into its
// session section and persists the result.
func (o *Orchestrator) ConfirmDraft(
	ctx context.Context,
	sessionID string,
	dataType statex.DataType,
) (*statex.Session, error) {
	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	loaded := sess.Version

	if err := o.confirm.Confirm(sess, dataType); err != nil {
		return nil, err
	}
	sess.Append(statex.RoleAssistant, fmt.Sprintf("Saved. Your %s is locked in.", dataType), nil, o.now())
	return o.store.Save(ctx, sess, loaded)
}

// EditDraft runs one refinement round on the presented draft of the given
// data type, using the user's feedback, and persists the successor revision.
func (o *Orchestrator) EditDraft(
	ctx context.Context,
	sessionID string,
	dataType statex.DataType,
	feedback string,
) (*statex.Session, *statex.DraftRecord, error) {
	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	loaded := sess.Version

	if open, ok := sess.OpenDraft(dataType); ok &&
		o.cfg.MaxEditRounds > 0 && open.Revision > o.cfg.MaxEditRounds {
		return nil, nil, fmt.Errorf("%w: draft %s at revision %d", ErrTooManyEdits, open.ID, open.Revision)
	}

	turnContext := promptContext(sess, dataType, o.cfg.WindowSize)
	draft, err := o.confirm.Edit(ctx, sess, dataType, feedback, turnContext, nil)
	if err != nil {
		return nil, nil, err
	}
	if _, err := o.confirm.Present(sess, dataType); err != nil {
		return nil, nil, err
	}

	sess.Append(statex.RoleUser, feedback, nil, o.now())
	sess.Append(statex.RoleAssistant, fmt.Sprintf("Updated %s, now at revision %d.", dataType, draft.Revision), nil, o.now())

	saved, err := o.store.Save(ctx, sess, loaded)
	if err != nil {
		return nil, nil, err
	}
	if d, ok := saved.Drafts[dataType]; ok {
		draft = d
	}
	return saved, draft, nil
}

// DiscardDraft abandons the open draft of the given data type without
// touching the session section it targeted.
func (o *Orchestrator) DiscardDraft(
	ctx context.Context,
	sessionID string,
	dataType statex.DataType,
) (*statex.Session, error) {
	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	loaded := sess.Version

	if err := o.confirm.Discard(sess, dataType); err != nil {
		return nil, err
	}
	return o.store.Save(ctx, sess, loaded)
}

// Modules reports the guided-flow progress for a session, rebuilt from the
// flow state persisted on it.
func (o *Orchestrator) Modules(ctx context.Context, sessionID string) ([]sequencerx.Module, error) {
	if len(o.cfg.Modules) == 0 {
		return nil, nil
	}

	seq, err := sequencerx.NewSequence(o.cfg.Modules)
	if err != nil {
		return nil, err
	}
	sess, err := o.store.Load(ctx, sessionID)
	if err != nil && !errors.Is(err, statex.ErrSessionNotFound) {
		return nil, err
	}
	if sess != nil {
		if err := seq.Restore(sess.Flow); err != nil {
			return nil, err
		}
	}
	return seq.Modules(), nil
}

// AdvanceModule moves a session's guided flow one step and persists the new
// position on the session. StepNext runs the current module's bound action
// through the tool router first and only advances when the action succeeds;
// StepSkip and StepBack never run tools. Finishing the flow marks the
// session completed.
func (o *Orchestrator) AdvanceModule(
	ctx context.Context,
	sessionID string,
	step sequencerx.Step,
) (*sequencerx.Module, error) {
	if len(o.cfg.Modules) == 0 {
		return nil, sequencerx.ErrNoCurrentModule
	}

	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, loaded, err := o.loadOrCreateSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	seq, err := sequencerx.NewSequence(o.cfg.Modules)
	if err != nil {
		return nil, err
	}
	if err := seq.Restore(sess.Flow); err != nil {
		return nil, err
	}

	actionSucceeded := false
	if step == sequencerx.StepNext {
		current, ok := seq.Current()
		if !ok {
			return nil, sequencerx.ErrNoCurrentModule
		}
		succeeded, err := o.runModuleAction(ctx, sessionID, current)
		if err != nil {
			return nil, err
		}
		actionSucceeded = succeeded
	}

	if err := seq.Advance(step, actionSucceeded); err != nil {
		return nil, err
	}

	sess.Flow = seq.Snapshot()
	current, ok := seq.Current()
	if !ok {
		sess.Status = statex.SessionCompleted
	}
	sess.Touch(o.now())
	if _, err := o.store.Save(ctx, sess, loaded); err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &current, nil
}

func (o *Orchestrator) loadOrCreateSession(ctx context.Context, sessionID string) (*statex.Session, int64, error) {
	sess, err := o.store.Load(ctx, sessionID)
	if err == nil {
		return sess, sess.Version, nil
	}
	if !errors.Is(err, statex.ErrSessionNotFound) {
		return nil, 0, err
	}
	return statex.NewSession(sessionID, o.now()), 0, nil
}

func (o *Orchestrator) runModuleAction(
	ctx context.Context,
	sessionID string,
	module sequencerx.Module,
) (bool, error) {
	if module.Action.Tool == "" {
		return true, nil
	}

	invocations, err := o.router.Execute(ctx, []contractx.ToolRequest{{
		Tool: module.Action.Tool,
		Args: module.Action.Args.Clone(),
	}})
	if err != nil {
		return false, fmt.Errorf("module %s action: %w", module.ID, err)
	}
	for _, inv := range invocations {
		if inv.Failed() {
			lg := logx.For("orchestrator")
			lg.Warn().
				Str("session_id", sessionID).
				Str("module_id", module.ID).
				Str("tool", inv.Tool).
				Str("error", inv.Error).
				Msg("module action failed")
			return false, nil
		}
	}
	return true, nil
}

func promptContext(sess *statex.Session, dataType statex.DataType, windowSize int) string {
	block, err := promptx.AuthoritativeBlock(sess, dataType)
	if err != nil {
		block = promptx.SectionBlocks(sess)
	}
	transcript := promptx.Transcript(sess.Recent(windowSize))
	if transcript == "" {
		return block
	}
	return block + "\n" + transcript
}
