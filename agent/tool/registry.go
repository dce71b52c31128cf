package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

var (
	ErrToolNotFound   = errors.New("tool not registered")
	ErrToolDuplicate  = errors.New("tool already registered")
	ErrToolNotAllowed = errors.New("tool not allowed for use case")
	ErrBadArguments   = errors.New("tool arguments violate schema")
	ErrBadOutput      = errors.New("tool output violates schema")
)

// Handler executes a tool with schema-validated arguments.
type Handler func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error)

// Definition is one registered tool: schemas, routing metadata, and handler.
type Definition struct {
	Name string
	Desc string

	// Input parameters, also used to bind the tool to the planning model.
	Input map[string]*schema.ParameterInfo
	// Keys a successful result must contain.
	OutputRequired []string

	UseCases       []contractx.UseCase
	ParallelSafe   bool
	FatalOnFailure bool

	Handler Handler
}

// Registry maps tool names to definitions. Read-only at request time: all
// registration happens during wiring.
type Registry struct {
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition, 8)}
}

func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("%w: tool name is empty", contractx.ErrValidation)
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: tool=%s has no handler", contractx.ErrValidation, name)
	}
	if _, ok := r.defs[name]; ok {
		return fmt.Errorf("%w: %s", ErrToolDuplicate, name)
	}
	def.Name = name
	r.defs[name] = def
	return nil
}

func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// ForUseCase narrows the registry to the subset allow-listed for uc,
// in stable name order.
func (r *Registry) ForUseCase(uc contractx.UseCase) []Definition {
	var out []Definition
	for _, def := range r.defs {
		if def.allows(uc) {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Infos returns the eino tool infos for the use case subset, for binding to
// the planning model.
func (r *Registry) Infos(uc contractx.UseCase) []*schema.ToolInfo {
	defs := r.ForUseCase(uc)
	infos := make([]*schema.ToolInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, &schema.ToolInfo{
			Name:        def.Name,
			Desc:        def.Desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(def.Input),
		})
	}
	return infos
}

func (d Definition) allows(uc contractx.UseCase) bool {
	for _, allowed := range d.UseCases {
		if allowed == uc {
			return true
		}
	}
	return false
}

// ValidateArgs checks args against the definition's input parameters:
// required keys present, declared keys type-compatible, no undeclared keys.
func (d Definition) ValidateArgs(args statex.FieldBag) error {
	for name, param := range d.Input {
		val, ok := args[name]
		if !ok {
			if param != nil && param.Required {
				return fmt.Errorf("%w: tool=%s missing required argument %q", ErrBadArguments, d.Name, name)
			}
			continue
		}
		if param == nil {
			continue
		}
		if err := checkType(param.Type, val); err != nil {
			return fmt.Errorf("%w: tool=%s argument %q: %v", ErrBadArguments, d.Name, name, err)
		}
	}
	for name := range args {
		if _, ok := d.Input[name]; !ok {
			return fmt.Errorf("%w: tool=%s unexpected argument %q", ErrBadArguments, d.Name, name)
		}
	}
	return nil
}

// ValidateOutput checks that a successful result carries the required keys.
func (d Definition) ValidateOutput(out statex.FieldBag) error {
	for _, key := range d.OutputRequired {
		if _, ok := out[key]; !ok {
			return fmt.Errorf("%w: tool=%s result missing %q", ErrBadOutput, d.Name, key)
		}
	}
	return nil
}

func checkType(dt schema.DataType, val any) error {
	switch dt {
	case schema.String:
		if _, ok := val.(string); !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
	case schema.Number:
		switch val.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("expected number, got %T", val)
		}
	case schema.Integer:
		switch v := val.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("expected integer, got %v", v)
			}
		default:
			return fmt.Errorf("expected integer, got %T", val)
		}
	case schema.Boolean:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", val)
		}
	case schema.Array:
		if _, ok := val.([]any); !ok {
			return fmt.Errorf("expected array, got %T", val)
		}
	case schema.Object:
		switch val.(type) {
		case map[string]any, statex.FieldBag:
		default:
			return fmt.Errorf("expected object, got %T", val)
		}
	}
	return nil
}
