package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
	toolx "github.com/crewline/agent/agent/tool"
)

type fakePlanner struct {
	resp  []contractx.ToolRequest
	err   error
	calls int
}

func (f *fakePlanner) PlanTools(ctx context.Context, req contractx.PlanToolsRequest) ([]contractx.ToolRequest, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]contractx.ToolRequest(nil), f.resp...), nil
}

type callLog struct {
	mu      sync.Mutex
	order   []string
	running int
	peak    int
}

func (c *callLog) enter(name string) {
	c.mu.Lock()
	c.order = append(c.order, name)
	c.running++
	if c.running > c.peak {
		c.peak = c.running
	}
	c.mu.Unlock()
}

func (c *callLog) leave() {
	c.mu.Lock()
	c.running--
	c.mu.Unlock()
}

func registerTestTool(t *testing.T, r *toolx.Registry, name string, parallelSafe, fatal bool, log *callLog, fail bool) {
	t.Helper()
	err := r.Register(toolx.Definition{
		Name:           name,
		UseCases:       []contractx.UseCase{contractx.UseCaseSearchTrips},
		ParallelSafe:   parallelSafe,
		FatalOnFailure: fatal,
		OutputRequired: []string{"ok"},
		Handler: func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
			if log != nil {
				log.enter(name)
				time.Sleep(5 * time.Millisecond)
				log.leave()
			}
			if fail {
				return nil, fmt.Errorf("%s blew up", name)
			}
			return statex.FieldBag{"ok": true}, nil
		},
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func TestRouteRejectsUnknownUseCase(t *testing.T) {
	t.Parallel()

	r, err := New(toolx.NewRegistry(), &fakePlanner{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := r.Route(context.Background(), contractx.PlanToolsRequest{UseCase: "chitchat"}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := r.Route(context.Background(), contractx.PlanToolsRequest{UseCase: contractx.UseCaseUnknown}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown, got %v", err)
	}
}

func TestRouteEmptyAllowListSkipsPlanner(t *testing.T) {
	t.Parallel()

	planner := &fakePlanner{}
	registry := toolx.NewRegistry()
	registerTestTool(t, registry, "searcher", true, false, nil, false)

	r, err := New(registry, planner)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	reqs, err := r.Route(context.Background(), contractx.PlanToolsRequest{UseCase: contractx.UseCasePostDemand})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if reqs != nil {
		t.Fatalf("expected no requests, got %v", reqs)
	}
	if planner.calls != 0 {
		t.Fatalf("planner must not run for an empty allow-list, got %d calls", planner.calls)
	}
}

func TestRouteRejectsToolOutsideAllowList(t *testing.T) {
	t.Parallel()

	registry := toolx.NewRegistry()
	registerTestTool(t, registry, "searcher", true, false, nil, false)
	if err := registry.Register(toolx.Definition{
		Name:     "registrar",
		UseCases: []contractx.UseCase{contractx.UseCaseRegister},
		Handler: func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
			return statex.FieldBag{}, nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	planner := &fakePlanner{resp: []contractx.ToolRequest{{Tool: "registrar"}}}
	r, err := New(registry, planner)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = r.Route(context.Background(), contractx.PlanToolsRequest{UseCase: contractx.UseCaseSearchTrips})
	if !errors.Is(err, toolx.ErrToolNotAllowed) {
		t.Fatalf("expected ErrToolNotAllowed, got %v", err)
	}
}

func TestExecuteBatchesConsecutiveParallelSafeTools(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	registry := toolx.NewRegistry()

	// a and b rendezvous: each waits for the other, so the test only passes
	// when the batch really runs them concurrently.
	barrier := make(chan struct{})
	registerBarrierTool := func(name string) {
		err := registry.Register(toolx.Definition{
			Name:         name,
			UseCases:     []contractx.UseCase{contractx.UseCaseSearchTrips},
			ParallelSafe: true,
			Handler: func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
				log.enter(name)
				defer log.leave()
				select {
				case barrier <- struct{}{}:
				case <-barrier:
				case <-time.After(200 * time.Millisecond):
					return nil, fmt.Errorf("%s never met its batch sibling", name)
				}
				return statex.FieldBag{"ok": true}, nil
			},
		})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	registerBarrierTool("a")
	registerBarrierTool("b")
	registerTestTool(t, registry, "c", false, false, log, false)
	registerTestTool(t, registry, "d", true, false, log, false)

	r, err := New(registry, &fakePlanner{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	invocations, err := r.Execute(context.Background(), []contractx.ToolRequest{
		{Tool: "a"}, {Tool: "b"}, {Tool: "c"}, {Tool: "d"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(invocations) != 4 {
		t.Fatalf("expected 4 invocations, got %d", len(invocations))
	}
	// Planned order is preserved in the record even when a batch runs
	// concurrently.
	for i, want := range []string{"a", "b", "c", "d"} {
		if invocations[i].Tool != want {
			t.Fatalf("invocation %d = %s, want %s", i, invocations[i].Tool, want)
		}
		if invocations[i].Failed() {
			t.Fatalf("invocation %s failed: %s", want, invocations[i].Error)
		}
	}
	if log.peak < 2 {
		t.Fatalf("expected a+b to overlap, peak concurrency = %d", log.peak)
	}
	// c is not parallel-safe, so nothing may run alongside it.
	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.order) != 4 {
		t.Fatalf("expected 4 handler runs, got %d", len(log.order))
	}
}

func TestExecuteFatalFailureAbortsAfterBatch(t *testing.T) {
	t.Parallel()

	registry := toolx.NewRegistry()
	registerTestTool(t, registry, "a", true, true, nil, true)
	registerTestTool(t, registry, "b", true, false, nil, false)
	registerTestTool(t, registry, "later", false, false, nil, false)

	r, err := New(registry, &fakePlanner{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	invocations, err := r.Execute(context.Background(), []contractx.ToolRequest{
		{Tool: "a"}, {Tool: "b"}, {Tool: "later"},
	})
	if !errors.Is(err, contractx.ErrToolFailure) {
		t.Fatalf("expected ErrToolFailure, got %v", err)
	}
	// The sibling in the same batch still ran and is recorded; the next
	// batch never started.
	if len(invocations) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(invocations))
	}
	if !invocations[0].Failed() || invocations[1].Failed() {
		t.Fatalf("unexpected invocation states: %+v", invocations)
	}
}

func TestExecuteRecoverableFailureContinues(t *testing.T) {
	t.Parallel()

	registry := toolx.NewRegistry()
	registerTestTool(t, registry, "flaky", false, false, nil, true)
	registerTestTool(t, registry, "steady", false, false, nil, false)

	r, err := New(registry, &fakePlanner{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	invocations, err := r.Execute(context.Background(), []contractx.ToolRequest{
		{Tool: "flaky"}, {Tool: "steady"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(invocations) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(invocations))
	}
	if !invocations[0].Failed() {
		t.Fatal("expected flaky to record its failure")
	}
	if invocations[1].Failed() {
		t.Fatalf("steady failed: %s", invocations[1].Error)
	}
}

func TestExecuteRecordsUnknownTool(t *testing.T) {
	t.Parallel()

	r, err := New(toolx.NewRegistry(), &fakePlanner{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	invocations, err := r.Execute(context.Background(), []contractx.ToolRequest{{Tool: "ghost"}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(invocations) != 1 || !invocations[0].Failed() {
		t.Fatalf("expected one failed invocation, got %+v", invocations)
	}
}
