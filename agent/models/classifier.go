package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/crewline/agent/agent/contract"
	promptx "github.com/crewline/agent/agent/prompt"
)

type classifierImpl struct {
	runner    compose.Runnable[map[string]any, classifierLLMOutput]
	threshold float64
}

type classifierLLMOutput struct {
	UseCase    string  `json:"use_case"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

func newClassifier(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	threshold float64,
) (*classifierImpl, error) {
	runner, err := compileStructuredLLMGraph[classifierLLMOutput](ctx, chatModel, systemPrompt, "classifier.model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile classifier graph: %v", contractx.ErrModelInvoke, err)
	}
	return &classifierImpl{runner: runner, threshold: threshold}, nil
}

func (c *classifierImpl) Classify(ctx context.Context, req contractx.ClassifyRequest) (contractx.Classification, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return contractx.Classification{}, fmt.Errorf("%w: user message is required", contractx.ErrValidation)
	}

	payload := map[string]any{
		"user_message":     req.UserMessage,
		"recent_window":    promptx.Transcript(req.RecentWindow),
		"sections_present": req.SectionsPresent,
	}
	inputBytes, err := json.Marshal(payload)
	if err != nil {
		return contractx.Classification{}, fmt.Errorf("%w: marshal classifier payload: %v", contractx.ErrValidation, err)
	}

	out, err := c.runner.Invoke(ctx, map[string]any{
		"input": string(inputBytes),
	})
	if err != nil {
		return contractx.Classification{}, fmt.Errorf("%w: classifier invoke: %v", contractx.ErrModelInvoke, err)
	}

	uc := contractx.UseCase(strings.TrimSpace(out.UseCase))
	if uc != contractx.UseCaseUnknown && !contractx.KnownUseCase(uc) {
		return contractx.Classification{}, fmt.Errorf("%w: unsupported use_case=%q", contractx.ErrSchemaViolation, out.UseCase)
	}

	confidence := out.Confidence
	if confidence < 0 || confidence > 1 {
		return contractx.Classification{}, fmt.Errorf("%w: confidence=%v out of range", contractx.ErrSchemaViolation, out.Confidence)
	}

	result := contractx.Classification{
		UseCase:    uc,
		Confidence: confidence,
		Rationale:  strings.TrimSpace(out.Rationale),
	}
	if confidence < c.threshold {
		result.UseCase = contractx.UseCaseUnknown
	}
	return result, nil
}
