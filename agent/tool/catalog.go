package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

// Built-in tool names.
const (
	ToolSearchTrips     = "search_trips"
	ToolGetLegDetails   = "get_leg_details"
	ToolRegisterForLeg  = "register_for_leg"
	ToolGetProfile      = "get_profile"
	ToolComputeMatch    = "compute_match"
	ToolAssessRisk      = "assess_journey_risk"
	ToolProposeTemplate = "propose_journey_template"
)

// Backend is the platform service the built-in tools delegate to. Match
// percentages and risk levels are opaque here: the backend computes them,
// the assistant only passes them through.
type Backend interface {
	SearchTrips(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error)
	LegDetails(ctx context.Context, leg string) (statex.FieldBag, error)
	RegisterForLeg(ctx context.Context, legID string, crew statex.FieldBag) (statex.FieldBag, error)
	Profile(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error)
	ComputeMatch(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error)
	JourneyRisk(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error)
	ProposeJourneyTemplate(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error)
}

// RegisterCatalog registers the built-in crew/boat tools against the backend.
func RegisterCatalog(r *Registry, backend Backend) error {
	defs := []Definition{
		{
			Name: ToolSearchTrips,
			Desc: "Search published sailing trips and legs by free-text constraints.",
			Input: map[string]*schema.ParameterInfo{
				"query":  {Type: schema.String, Desc: "Natural language search constraints", Required: true},
				"region": {Type: schema.String, Desc: "Sailing region to narrow the search"},
			},
			OutputRequired: []string{"trips"},
			UseCases:       []contractx.UseCase{contractx.UseCaseSearchTrips},
			ParallelSafe:   true,
			Handler: func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
				return backend.SearchTrips(ctx, args)
			},
		},
		{
			Name: ToolGetLegDetails,
			Desc: "Fetch the details of a journey leg by id or name.",
			Input: map[string]*schema.ParameterInfo{
				"leg": {Type: schema.String, Desc: "Leg id or human-readable leg name", Required: true},
			},
			OutputRequired: []string{"leg_id"},
			UseCases: []contractx.UseCase{
				contractx.UseCaseRegister,
				contractx.UseCaseSearchTrips,
			},
			ParallelSafe:   true,
			FatalOnFailure: true,
			Handler: func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
				leg, _ := args["leg"].(string)
				return backend.LegDetails(ctx, strings.TrimSpace(leg))
			},
		},
		{
			Name: ToolRegisterForLeg,
			Desc: "Register the current user as crew for a journey leg.",
			Input: map[string]*schema.ParameterInfo{
				"leg_id": {Type: schema.String, Desc: "Leg identifier", Required: true},
				"crew":   {Type: schema.Object, Desc: "Crew profile fields relevant to the registration"},
			},
			OutputRequired: []string{"registration_id"},
			UseCases:       []contractx.UseCase{contractx.UseCaseRegister},
			FatalOnFailure: true,
			Handler: func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
				legID, _ := args["leg_id"].(string)
				crew, _ := args["crew"].(map[string]any)
				return backend.RegisterForLeg(ctx, strings.TrimSpace(legID), crew)
			},
		},
		{
			Name: ToolGetProfile,
			Desc: "Fetch the user's current sailing profile.",
			Input: map[string]*schema.ParameterInfo{
				"owner_id": {Type: schema.String, Desc: "Owner identifier, empty for the session user"},
			},
			OutputRequired: []string{"profile"},
			UseCases:       []contractx.UseCase{contractx.UseCaseImproveProfile},
			ParallelSafe:   true,
			Handler: func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
				return backend.Profile(ctx, args)
			},
		},
		{
			Name: ToolComputeMatch,
			Desc: "Compute the match percentage between a profile and a trip. The formula is owned by the platform.",
			Input: map[string]*schema.ParameterInfo{
				"trip_id": {Type: schema.String, Desc: "Trip identifier", Required: true},
			},
			OutputRequired: []string{"match_percentage"},
			UseCases: []contractx.UseCase{
				contractx.UseCaseSearchTrips,
				contractx.UseCaseRegister,
			},
			ParallelSafe: true,
			Handler: func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
				return backend.ComputeMatch(ctx, args)
			},
		},
		{
			Name: ToolAssessRisk,
			Desc: "Assess the risk level of a journey. The formula is owned by the platform.",
			Input: map[string]*schema.ParameterInfo{
				"journey": {Type: schema.Object, Desc: "Journey details to assess", Required: true},
			},
			OutputRequired: []string{"risk_level"},
			UseCases: []contractx.UseCase{
				contractx.UseCaseSearchTrips,
				contractx.UseCaseRegister,
			},
			ParallelSafe: true,
			Handler: func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
				return backend.JourneyRisk(ctx, args)
			},
		},
		{
			Name: ToolProposeTemplate,
			Desc: "Propose a journey template from the collected journey details.",
			Input: map[string]*schema.ParameterInfo{
				"journey": {Type: schema.Object, Desc: "Journey details to build the template from", Required: true},
			},
			OutputRequired: []string{"template_id"},
			UseCases:       []contractx.UseCase{contractx.UseCaseRegister},
			Handler: func(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
				return backend.ProposeJourneyTemplate(ctx, args)
			},
		},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// StubBackend serves canned fixtures, for local development and tests.
type StubBackend struct{}

func (StubBackend) SearchTrips(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
	return statex.FieldBag{
		"trips": []any{
			map[string]any{"trip_id": "trip-baltic-01", "name": "Baltic Midsummer", "region": "baltic"},
			map[string]any{"trip_id": "trip-biscay-02", "name": "Biscay Crossing", "region": "biscay"},
		},
	}, nil
}

func (StubBackend) LegDetails(ctx context.Context, leg string) (statex.FieldBag, error) {
	if leg == "" {
		return nil, fmt.Errorf("leg is required")
	}
	return statex.FieldBag{
		"leg_id":    "leg-" + slugify(leg),
		"leg_name":  leg,
		"departure": "Kiel",
		"arrival":   "Stockholm",
	}, nil
}

func (StubBackend) RegisterForLeg(ctx context.Context, legID string, crew statex.FieldBag) (statex.FieldBag, error) {
	if legID == "" {
		return nil, fmt.Errorf("leg_id is required")
	}
	return statex.FieldBag{"registration_id": "reg-" + legID, "status": "pending"}, nil
}

func (StubBackend) Profile(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
	return statex.FieldBag{
		"profile": map[string]any{"experience_level": "coastal", "certifications": []any{"SRC"}},
	}, nil
}

func (StubBackend) ComputeMatch(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
	return statex.FieldBag{"match_percentage": 72}, nil
}

func (StubBackend) JourneyRisk(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
	return statex.FieldBag{"risk_level": "moderate"}, nil
}

func (StubBackend) ProposeJourneyTemplate(ctx context.Context, args statex.FieldBag) (statex.FieldBag, error) {
	return statex.FieldBag{"template_id": "tmpl-1"}, nil
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
}
