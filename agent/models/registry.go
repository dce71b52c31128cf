package models

import (
	"context"
	"fmt"

	contractx "github.com/crewline/agent/agent/contract"
	llmx "github.com/crewline/agent/agent/llm"
	promptx "github.com/crewline/agent/agent/prompt"
	toolx "github.com/crewline/agent/agent/tool"
)

type registryImpl struct {
	classifier  contractx.Classifier
	extractor   contractx.Extractor
	toolPlanner contractx.ToolPlanner
}

func (r *registryImpl) Classifier() contractx.Classifier {
	return r.classifier
}

func (r *registryImpl) Extractor() contractx.Extractor {
	return r.extractor
}

func (r *registryImpl) ToolPlanner() contractx.ToolPlanner {
	return r.toolPlanner
}

// NewRegistry wires the model-backed collaborators: one chat model per role
// resolved from the config, prompts from the embedded set, and the tool
// planner bound to the registry's per-use-case allow-lists.
func NewRegistry(
	ctx context.Context,
	cfg llmx.Config,
	tools *toolx.Registry,
	confidenceThreshold float64,
) (contractx.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tools == nil {
		return nil, fmt.Errorf("%w: tool registry is required", contractx.ErrValidation)
	}

	prompts := promptx.LoadPromptSet()

	classifierModelCfg := cfg.OpenRouterFor(contractx.RoleClassifier)
	classifierModel, err := classifierModelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create classifier model: %v", contractx.ErrModelInvoke, err)
	}
	extractorModelCfg := cfg.OpenRouterFor(contractx.RoleExtractor)
	extractorModel, err := extractorModelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create extractor model: %v", contractx.ErrModelInvoke, err)
	}
	plannerModelCfg := cfg.OpenRouterFor(contractx.RoleToolPlanner)
	plannerModel, err := plannerModelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create tool planner model: %v", contractx.ErrModelInvoke, err)
	}

	classifier, err := newClassifier(ctx, classifierModel, prompts.Classifier, confidenceThreshold)
	if err != nil {
		return nil, err
	}
	extractor, err := newExtractor(ctx, extractorModel, prompts.Extractor)
	if err != nil {
		return nil, err
	}
	toolPlanner, err := newToolPlanner(ctx, plannerModel, prompts.ToolPlanner, tools)
	if err != nil {
		return nil, err
	}

	return &registryImpl{
		classifier:  classifier,
		extractor:   extractor,
		toolPlanner: toolPlanner,
	}, nil
}
