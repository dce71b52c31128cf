package router

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
	toolx "github.com/crewline/agent/agent/tool"
)

// Router narrows the tool registry to the use case's allow-listed subset,
// asks the planner which of those tools to invoke, and executes the result.
type Router struct {
	registry *toolx.Registry
	planner  contractx.ToolPlanner

	toolTimeout time.Duration
	now         func() time.Time
}

type Option func(*Router)

// WithToolTimeout bounds each tool invocation.
func WithToolTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.toolTimeout = d
		}
	}
}

// WithClock overrides the router clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func New(registry *toolx.Registry, planner contractx.ToolPlanner, opts ...Option) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: tool registry is required", contractx.ErrValidation)
	}
	if planner == nil {
		return nil, fmt.Errorf("%w: tool planner is required", contractx.ErrValidation)
	}
	r := &Router{
		registry:    registry,
		planner:     planner,
		toolTimeout: 30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Route returns the ordered tool requests for the turn. Only tools registered
// under the use case's allow-list may come back from the planner; anything
// else is rejected rather than silently dropped.
func (r *Router) Route(ctx context.Context, req contractx.PlanToolsRequest) ([]contractx.ToolRequest, error) {
	if !contractx.KnownUseCase(req.UseCase) {
		return nil, fmt.Errorf("%w: use case=%q is not routable", contractx.ErrValidation, req.UseCase)
	}

	allowed := r.registry.ForUseCase(req.UseCase)
	if len(allowed) == 0 {
		// Declared but not yet actionable use cases land here.
		return nil, nil
	}

	planned, err := r.planner.PlanTools(ctx, req)
	if err != nil {
		return nil, err
	}

	allowedNames := make(map[string]struct{}, len(allowed))
	for _, def := range allowed {
		allowedNames[def.Name] = struct{}{}
	}

	for _, tr := range planned {
		if _, ok := allowedNames[tr.Tool]; !ok {
			return nil, fmt.Errorf("%w: tool=%s use case=%s", toolx.ErrToolNotAllowed, tr.Tool, req.UseCase)
		}
		def, ok := r.registry.Get(tr.Tool)
		if !ok {
			return nil, fmt.Errorf("%w: %s", toolx.ErrToolNotFound, tr.Tool)
		}
		if err := def.ValidateArgs(tr.Args); err != nil {
			return nil, err
		}
	}
	return planned, nil
}

// Execute runs the requests in the planned order. Maximal runs of consecutive
// parallel-safe requests execute concurrently and are joined all-settled; a
// failure never aborts siblings in the same batch. After each batch, a failed
// invocation of a fatal-on-failure tool aborts the turn with ErrToolFailure;
// recoverable failures stay recorded on the invocation and execution goes on.
func (r *Router) Execute(ctx context.Context, requests []contractx.ToolRequest) ([]statex.ToolInvocation, error) {
	invocations := make([]statex.ToolInvocation, 0, len(requests))

	for i := 0; i < len(requests); {
		if err := ctx.Err(); err != nil {
			return invocations, err
		}

		batch := r.nextBatch(requests[i:])
		results := make([]statex.ToolInvocation, len(batch))

		if len(batch) == 1 {
			results[0] = r.invoke(ctx, batch[0])
		} else {
			g, gctx := errgroup.WithContext(ctx)
			for j, tr := range batch {
				g.Go(func() error {
					results[j] = r.invoke(gctx, tr)
					return nil
				})
			}
			_ = g.Wait()
		}

		invocations = append(invocations, results...)
		for _, inv := range results {
			if !inv.Failed() {
				continue
			}
			def, _ := r.registry.Get(inv.Tool)
			if def.FatalOnFailure {
				return invocations, fmt.Errorf("%w: tool=%s: %s", contractx.ErrToolFailure, inv.Tool, inv.Error)
			}
			log.Warn().Str("tool", inv.Tool).Str("error", inv.Error).Msg("recoverable tool failure")
		}
		i += len(batch)
	}
	return invocations, nil
}

// nextBatch returns the next run of requests that may execute together:
// either one non-parallel-safe request or a maximal run of parallel-safe ones.
func (r *Router) nextBatch(rest []contractx.ToolRequest) []contractx.ToolRequest {
	if len(rest) == 0 {
		return nil
	}
	if !r.parallelSafe(rest[0]) {
		return rest[:1]
	}
	n := 1
	for n < len(rest) && r.parallelSafe(rest[n]) {
		n++
	}
	return rest[:n]
}

func (r *Router) parallelSafe(tr contractx.ToolRequest) bool {
	def, ok := r.registry.Get(tr.Tool)
	return ok && def.ParallelSafe
}

func (r *Router) invoke(ctx context.Context, tr contractx.ToolRequest) statex.ToolInvocation {
	started := r.now()
	inv := statex.ToolInvocation{
		Tool:      tr.Tool,
		Args:      tr.Args.Clone(),
		StartedAt: started.UTC(),
	}

	def, ok := r.registry.Get(tr.Tool)
	if !ok {
		inv.Error = fmt.Sprintf("tool=%s is not registered", tr.Tool)
		return inv
	}

	callCtx, cancel := context.WithTimeout(ctx, r.toolTimeout)
	defer cancel()

	out, err := def.Handler(callCtx, tr.Args)
	inv.Latency = r.now().Sub(started)
	if err != nil {
		inv.Error = err.Error()
		return inv
	}
	if err := def.ValidateOutput(out); err != nil {
		inv.Error = err.Error()
		return inv
	}
	inv.Output = out
	return inv
}
