package sequencer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

// Step is a user action on the current onboarding module.
type Step string

const (
	// StepNext runs the module's bound action and, on success, completes it.
	StepNext Step = "next"
	// StepSkip completes the module without running its action.
	StepSkip Step = "skip"
	// StepBack revisits the previous module without altering recorded data.
	StepBack Step = "back"
)

var (
	ErrNoCurrentModule = errors.New("no current module")
	ErrActionNotRun    = errors.New("module action has not succeeded this turn")
	ErrUnknownModule   = errors.New("unknown module")
	ErrUnknownStep     = errors.New("unknown sequencer step")
	ErrAtFirstModule   = errors.New("already at the first module")
)

// Action is the single tool invocation bound to a module's Next.
type Action struct {
	Tool string          `json:"tool"`
	Args statex.FieldBag `json:"args,omitempty"`
}

// ModuleConfig declares one onboarding module. Order is data, not code:
// reordering the configuration reorders the flow.
type ModuleConfig struct {
	ID     string `json:"id"`
	Order  int    `json:"order"`
	Action Action `json:"action"`
}

// Module is a module's runtime state. Modules are never deleted; they are
// completed, skipped, or revisited.
type Module struct {
	ID        string
	Order     int
	Action    Action
	Completed bool
	Skipped   bool
}

// Sequence walks an ordered list of modules. It references session data
// through the bound actions but owns none of it.
type Sequence struct {
	modules []*Module
	pos     int
}

func NewSequence(configs []ModuleConfig) (*Sequence, error) {
	seen := make(map[string]struct{}, len(configs))
	modules := make([]*Module, 0, len(configs))
	for _, cfg := range configs {
		id := strings.TrimSpace(cfg.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: module id is empty", contractx.ErrValidation)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate module id=%s", contractx.ErrValidation, id)
		}
		seen[id] = struct{}{}
		modules = append(modules, &Module{
			ID:     id,
			Order:  cfg.Order,
			Action: cfg.Action,
		})
	}
	sortModules(modules)
	return &Sequence{modules: modules}, nil
}

// Current returns the module the pointer rests on.
func (s *Sequence) Current() (Module, bool) {
	if s.pos < 0 || s.pos >= len(s.modules) {
		return Module{}, false
	}
	return *s.modules[s.pos], true
}

// Done reports whether the pointer moved past the last module.
func (s *Sequence) Done() bool {
	return s.pos >= len(s.modules)
}

// Advance applies a step to the current module. actionSucceeded reports
// whether the module's bound action ran successfully in the current turn;
// Next requires it, Skip and Back ignore it.
func (s *Sequence) Advance(step Step, actionSucceeded bool) error {
	switch step {
	case StepNext:
		cur, ok := s.current()
		if !ok {
			return ErrNoCurrentModule
		}
		if !actionSucceeded {
			return fmt.Errorf("%w: module=%s", ErrActionNotRun, cur.ID)
		}
		cur.Completed = true
		s.pos++
		return nil
	case StepSkip:
		cur, ok := s.current()
		if !ok {
			return ErrNoCurrentModule
		}
		cur.Completed = true
		cur.Skipped = true
		s.pos++
		return nil
	case StepBack:
		if s.pos == 0 {
			return ErrAtFirstModule
		}
		s.pos--
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
}

// Reorder changes a module's ordering key and re-sorts the sequence. The
// pointer keeps following the module it rested on.
func (s *Sequence) Reorder(id string, order int) error {
	var target *Module
	for _, m := range s.modules {
		if m.ID == id {
			target = m
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: id=%s", ErrUnknownModule, id)
	}

	var currentID string
	if cur, ok := s.current(); ok {
		currentID = cur.ID
	}

	target.Order = order
	sortModules(s.modules)

	if currentID != "" {
		for i, m := range s.modules {
			if m.ID == currentID {
				s.pos = i
				break
			}
		}
	}
	return nil
}

// Snapshot captures the sequence position and recorded outcomes for
// persistence on the session.
func (s *Sequence) Snapshot() *statex.FlowState {
	fs := &statex.FlowState{Progress: make(map[string]statex.ModuleProgress)}
	for _, m := range s.modules {
		if m.Completed || m.Skipped {
			fs.Progress[m.ID] = statex.ModuleProgress{
				Completed: m.Completed,
				Skipped:   m.Skipped,
			}
		}
	}
	if cur, ok := s.current(); ok {
		fs.Current = cur.ID
	} else {
		fs.Done = true
	}
	return fs
}

// Restore applies a persisted flow state to a freshly built sequence.
// Progress recorded for module ids no longer configured is dropped; a
// recorded current module must still exist.
func (s *Sequence) Restore(fs *statex.FlowState) error {
	if fs == nil {
		return nil
	}
	for _, m := range s.modules {
		if p, ok := fs.Progress[m.ID]; ok {
			m.Completed = p.Completed
			m.Skipped = p.Skipped
		}
	}
	if fs.Done {
		s.pos = len(s.modules)
		return nil
	}
	if fs.Current == "" {
		return nil
	}
	for i, m := range s.modules {
		if m.ID == fs.Current {
			s.pos = i
			return nil
		}
	}
	return fmt.Errorf("%w: id=%s", ErrUnknownModule, fs.Current)
}

// Modules returns a snapshot of the sequence in order.
func (s *Sequence) Modules() []Module {
	out := make([]Module, len(s.modules))
	for i, m := range s.modules {
		out[i] = *m
	}
	return out
}

func (s *Sequence) current() (*Module, bool) {
	if s.pos < 0 || s.pos >= len(s.modules) {
		return nil, false
	}
	return s.modules[s.pos], true
}

func sortModules(modules []*Module) {
	sort.SliceStable(modules, func(i, j int) bool {
		return modules[i].Order < modules[j].Order
	})
}
