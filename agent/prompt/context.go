package prompt

import (
	"fmt"
	"sort"
	"strings"

	statex "github.com/crewline/agent/agent/state"
)

// Tags for the labelled-context protocol. Each non-empty section of the
// session is embedded as its own tagged block in outbound model prompts, so
// the extractor reads only the block authoritative for its data type and
// journey data cannot leak into profile extraction.
const (
	TagSkipperProfile   = "[SKIPPER PROFILE]"
	TagCrewRequirements = "[CREW REQUIREMENTS]"
	TagJourneyDetails   = "[JOURNEY DETAILS]"
)

// TagFor returns the block tag for a section label.
func TagFor(label statex.SectionLabel) string {
	switch label {
	case statex.SectionSkipperProfile:
		return TagSkipperProfile
	case statex.SectionCrewRequirements:
		return TagCrewRequirements
	case statex.SectionJourneyDetails:
		return TagJourneyDetails
	default:
		return ""
	}
}

// SectionBlocks renders every non-empty labelled section as a tagged block.
// Blocks are independently optional; an empty session yields an empty string.
func SectionBlocks(s *statex.Session) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	appendBlock(&b, TagSkipperProfile, s.SkipperProfile)
	appendBlock(&b, TagCrewRequirements, s.CrewRequirements)
	appendBlock(&b, TagJourneyDetails, s.JourneyDetails)
	return strings.TrimSpace(b.String())
}

// AuthoritativeBlock renders only the block the given data type is extracted
// from, so refinements cannot pick up fields from unrelated sections.
func AuthoritativeBlock(s *statex.Session, dataType statex.DataType) (string, error) {
	label, err := statex.SectionFor(dataType)
	if err != nil {
		return "", err
	}
	fields, err := s.Section(label)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	appendBlock(&b, TagFor(label), fields)
	return strings.TrimSpace(b.String()), nil
}

// Transcript renders a bounded window of conversation, oldest first. Tool
// messages keep their invocation summaries so the extractor can read results.
func Transcript(window []statex.Message) string {
	if len(window) == 0 {
		return ""
	}
	var b strings.Builder
	for _, msg := range window {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, strings.TrimSpace(msg.Content))
		for _, inv := range msg.Invocations {
			if inv.Failed() {
				fmt.Fprintf(&b, "  tool %s failed: %s\n", inv.Tool, inv.Error)
				continue
			}
			fmt.Fprintf(&b, "  tool %s: %v\n", inv.Tool, inv.Output)
		}
	}
	return strings.TrimSpace(b.String())
}

// TurnContext assembles the full model-facing context for a turn: the tagged
// section blocks followed by the bounded conversation window.
func TurnContext(s *statex.Session, window []statex.Message) string {
	blocks := SectionBlocks(s)
	transcript := Transcript(window)
	switch {
	case blocks == "":
		return transcript
	case transcript == "":
		return blocks
	default:
		return blocks + "\n\n" + transcript
	}
}

// SectionsPresent lists which labelled sections currently hold data.
func SectionsPresent(s *statex.Session) []statex.SectionLabel {
	if s == nil {
		return nil
	}
	var out []statex.SectionLabel
	if len(s.SkipperProfile) > 0 {
		out = append(out, statex.SectionSkipperProfile)
	}
	if len(s.CrewRequirements) > 0 {
		out = append(out, statex.SectionCrewRequirements)
	}
	if len(s.JourneyDetails) > 0 {
		out = append(out, statex.SectionJourneyDetails)
	}
	return out
}

func appendBlock(b *strings.Builder, tag string, fields statex.FieldBag) {
	if len(fields) == 0 {
		return
	}
	b.WriteString(tag)
	b.WriteByte('\n')
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(b, "%s: %v\n", k, fields[k])
	}
	b.WriteByte('\n')
}

func sortedKeys(fields statex.FieldBag) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
