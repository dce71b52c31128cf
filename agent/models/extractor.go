package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/crewline/agent/agent/contract"
	statex "github.com/crewline/agent/agent/state"
)

type extractorImpl struct {
	runner compose.Runnable[map[string]any, extractorLLMOutput]
}

type extractorLLMOutput struct {
	Fields       map[string]any `json:"fields"`
	Missing      []string       `json:"missing,omitempty"`
	NextQuestion string         `json:"next_question,omitempty"`
}

func newExtractor(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (*extractorImpl, error) {
	runner, err := compileStructuredLLMGraph[extractorLLMOutput](ctx, chatModel, systemPrompt, "extractor.model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile extractor graph: %v", contractx.ErrModelInvoke, err)
	}
	return &extractorImpl{runner: runner}, nil
}

func (e *extractorImpl) Extract(ctx context.Context, req contractx.ExtractRequest) (contractx.Extraction, error) {
	if !statex.KnownDataType(req.DataType) {
		return contractx.Extraction{}, fmt.Errorf("%w: unsupported data type=%q", contractx.ErrValidation, req.DataType)
	}
	mode := req.Mode()
	if mode == contractx.ExtractRefinement && strings.TrimSpace(req.EditFeedback) == "" {
		return contractx.Extraction{}, fmt.Errorf("%w: refinement requires edit feedback", contractx.ErrValidation)
	}

	payload := map[string]any{
		"mode":         string(mode),
		"data_type":    string(req.DataType),
		"context":      req.Context,
		"tool_results": summarizeInvocations(req.ToolResults),
	}
	if req.PreviousDraft != nil {
		payload["previous_fields"] = req.PreviousDraft.Fields
		payload["edit_feedback"] = req.EditFeedback
	}
	inputBytes, err := json.Marshal(payload)
	if err != nil {
		return contractx.Extraction{}, fmt.Errorf("%w: marshal extractor payload: %v", contractx.ErrValidation, err)
	}

	out, err := e.runner.Invoke(ctx, map[string]any{
		"input": string(inputBytes),
	})
	if err != nil {
		return contractx.Extraction{}, fmt.Errorf("%w: extractor invoke: %v", contractx.ErrModelInvoke, err)
	}

	if len(out.Missing) > 0 && strings.TrimSpace(out.NextQuestion) == "" {
		return contractx.Extraction{}, fmt.Errorf("%w: missing fields require next_question", contractx.ErrSchemaViolation)
	}

	fields := statex.FieldBag(out.Fields)
	if mode == contractx.ExtractRefinement {
		// Preserve-unless-told-to-change: the model output only carries the
		// requested changes, merged over the previous draft's fields here so a
		// terse model response can never silently reset anything.
		merged := req.PreviousDraft.Fields.Clone()
		if merged == nil {
			merged = statex.FieldBag{}
		}
		for k, v := range fields {
			merged[k] = v
		}
		fields = merged
	}
	if fields == nil {
		fields = statex.FieldBag{}
	}

	return contractx.Extraction{
		Fields:       fields,
		Missing:      out.Missing,
		NextQuestion: strings.TrimSpace(out.NextQuestion),
	}, nil
}

func summarizeInvocations(invocations []statex.ToolInvocation) []map[string]any {
	if len(invocations) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(invocations))
	for _, inv := range invocations {
		entry := map[string]any{"tool": inv.Tool}
		if inv.Failed() {
			entry["error"] = inv.Error
		} else {
			entry["result"] = inv.Output
		}
		out = append(out, entry)
	}
	return out
}
