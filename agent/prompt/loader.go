package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/classifier.txt
	classifierRaw string

	//go:embed template/extractor.txt
	extractorRaw string

	//go:embed template/toolplanner.txt
	toolPlannerRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Classifier  string
	Extractor   string
	ToolPlanner string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Classifier:  strings.TrimSpace(classifierRaw),
		Extractor:   strings.TrimSpace(extractorRaw),
		ToolPlanner: strings.TrimSpace(toolPlannerRaw),
	}
}
