package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
	toolx "github.com/crewline/agent/agent/tool"
)

// toolPlannerImpl keeps one tool-bound runner per actionable use case, so the
// model only ever sees the allow-listed subset for the intent at hand.
type toolPlannerImpl struct {
	runners map[contractx.UseCase]compose.Runnable[map[string]any, *schema.Message]
}

func newToolPlanner(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	systemPrompt string,
	registry *toolx.Registry,
) (*toolPlannerImpl, error) {
	useCases := []contractx.UseCase{
		contractx.UseCaseSearchTrips,
		contractx.UseCaseImproveProfile,
		contractx.UseCaseRegister,
		contractx.UseCasePostDemand,
	}

	runners := make(map[contractx.UseCase]compose.Runnable[map[string]any, *schema.Message], len(useCases))
	for _, uc := range useCases {
		infos := registry.Infos(uc)
		if len(infos) == 0 {
			continue
		}
		boundModel, err := chatModel.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for use case=%s: %v", contractx.ErrModelInvoke, uc, err)
		}
		runner, err := compileToolPlanningGraph(ctx, boundModel, systemPrompt, "toolplanner."+string(uc))
		if err != nil {
			return nil, fmt.Errorf("%w: compile tool planner graph for use case=%s: %v", contractx.ErrModelInvoke, uc, err)
		}
		runners[uc] = runner
	}
	return &toolPlannerImpl{runners: runners}, nil
}

func (p *toolPlannerImpl) PlanTools(ctx context.Context, req contractx.PlanToolsRequest) ([]contractx.ToolRequest, error) {
	runner, ok := p.runners[req.UseCase]
	if !ok {
		return nil, nil
	}

	payload := map[string]any{
		"use_case":     string(req.UseCase),
		"user_message": req.UserMessage,
		"context":      req.Context,
	}
	inputBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal tool planning payload: %v", contractx.ErrValidation, err)
	}

	msg, err := runner.Invoke(ctx, map[string]any{
		"input": string(inputBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: tool planning invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: empty tool planning response", contractx.ErrSchemaViolation)
	}

	return toToolRequests(msg.ToolCalls)
}

func toToolRequests(calls []schema.ToolCall) ([]contractx.ToolRequest, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	reqs := make([]contractx.ToolRequest, 0, len(calls))
	for _, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := statex.FieldBag{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}

		reqs = append(reqs, contractx.ToolRequest{
			Tool: tool,
			Args: args,
		})
	}
	return reqs, nil
}
