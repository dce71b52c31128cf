package tool

import (
	"context"
	"testing"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

func newCatalogForTest(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := RegisterCatalog(r, StubBackend{}); err != nil {
		t.Fatalf("RegisterCatalog() error = %v", err)
	}
	return r
}

func TestCatalogAllowLists(t *testing.T) {
	t.Parallel()

	r := newCatalogForTest(t)

	names := func(uc contractx.UseCase) []string {
		var out []string
		for _, def := range r.ForUseCase(uc) {
			out = append(out, def.Name)
		}
		return out
	}

	search := names(contractx.UseCaseSearchTrips)
	want := []string{ToolAssessRisk, ToolComputeMatch, ToolGetLegDetails, ToolSearchTrips}
	if len(search) != len(want) {
		t.Fatalf("search allow-list = %v, want %v", search, want)
	}
	for i := range want {
		if search[i] != want[i] {
			t.Fatalf("search allow-list = %v, want %v", search, want)
		}
	}

	for _, name := range names(contractx.UseCaseRegister) {
		if name == ToolSearchTrips {
			t.Fatal("search_trips must not be reachable from register")
		}
	}
	for _, name := range names(contractx.UseCaseImproveProfile) {
		if name != ToolGetProfile {
			t.Fatalf("unexpected tool on improve_profile allow-list: %s", name)
		}
	}
	if got := names(contractx.UseCasePostDemand); len(got) != 0 {
		t.Fatalf("post_demand_or_alert must have an empty allow-list, got %v", got)
	}
}

func TestCatalogFailureFlags(t *testing.T) {
	t.Parallel()

	r := newCatalogForTest(t)

	fatal := map[string]bool{
		ToolGetLegDetails:  true,
		ToolRegisterForLeg: true,
	}
	for name, want := range fatal {
		def, ok := r.Get(name)
		if !ok {
			t.Fatalf("tool %s not registered", name)
		}
		if def.FatalOnFailure != want {
			t.Fatalf("tool %s FatalOnFailure = %v, want %v", name, def.FatalOnFailure, want)
		}
	}
	if def, _ := r.Get(ToolSearchTrips); def.FatalOnFailure {
		t.Fatal("search_trips failures must be recoverable")
	}
}

func TestStubBackendLegDetails(t *testing.T) {
	t.Parallel()

	r := newCatalogForTest(t)
	def, ok := r.Get(ToolGetLegDetails)
	if !ok {
		t.Fatal("get_leg_details not registered")
	}

	out, err := def.Handler(context.Background(), statex.FieldBag{"leg": "Kiel to Stockholm"})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := def.ValidateOutput(out); err != nil {
		t.Fatalf("ValidateOutput() error = %v", err)
	}
	if out["leg_id"] != "leg-kiel-to-stockholm" {
		t.Fatalf("unexpected leg_id: %v", out["leg_id"])
	}

	if _, err := def.Handler(context.Background(), statex.FieldBag{"leg": "  "}); err == nil {
		t.Fatal("expected error for empty leg")
	}
}
