package state

import (
	"fmt"
	"time"
)

// DataType identifies which structured summary a draft record carries.
type DataType string

const (
	DataProfileSummary   DataType = "profile-summary"
	DataBoatSummary      DataType = "boat-summary"
	DataJourneySummary   DataType = "journey-summary"
	DataSkipperProfile   DataType = "skipper-profile"
	DataCrewRequirements DataType = "crew-requirements"
)

// KnownDataType reports whether dt is one of the five supported summaries.
func KnownDataType(dt DataType) bool {
	switch dt {
	case DataProfileSummary, DataBoatSummary, DataJourneySummary,
		DataSkipperProfile, DataCrewRequirements:
		return true
	}
	return false
}

// SectionFor maps a draft data type to the labelled section it is
// authoritative for once confirmed.
func SectionFor(dt DataType) (SectionLabel, error) {
	switch dt {
	case DataProfileSummary, DataSkipperProfile:
		return SectionSkipperProfile, nil
	case DataCrewRequirements:
		return SectionCrewRequirements, nil
	case DataJourneySummary, DataBoatSummary:
		return SectionJourneyDetails, nil
	default:
		return "", fmt.Errorf("%w: no section for data type %q", ErrUnknownSection, dt)
	}
}

type DraftStatus string

const (
	// DraftProposed: produced by the extractor, not yet shown to the user.
	DraftProposed DraftStatus = "proposed"
	// DraftPresented: shown to the user, waiting for confirm/edit/cancel.
	DraftPresented DraftStatus = "presented"
	// DraftEditing: the user asked for a change; a refinement is in flight.
	DraftEditing DraftStatus = "editing"
	// DraftConfirmed: accepted and written into the labelled section. Terminal.
	DraftConfirmed DraftStatus = "confirmed"
	// DraftDiscarded: abandoned without a session write. Terminal.
	DraftDiscarded DraftStatus = "discarded"
)

// DraftRecord is a provisional typed snapshot of extracted data awaiting user
// confirmation. Missing and NextQuestion carry the fields the extractor could
// not resolve and the question that would resolve them.
type DraftRecord struct {
	ID       string      `json:"id"`
	DataType DataType    `json:"data_type"`
	Fields   FieldBag    `json:"fields,omitempty"`
	Revision int         `json:"revision"`
	Status   DraftStatus `json:"status"`

	Missing      []string `json:"missing,omitempty"`
	NextQuestion string   `json:"next_question,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewDraft(id string, dataType DataType, fields FieldBag, now time.Time) *DraftRecord {
	return &DraftRecord{
		ID:        id,
		DataType:  dataType,
		Fields:    fields.Clone(),
		Revision:  1,
		Status:    DraftProposed,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Closed reports whether the draft reached a terminal status.
func (d *DraftRecord) Closed() bool {
	return d != nil && (d.Status == DraftConfirmed || d.Status == DraftDiscarded)
}

// Complete reports whether the extractor resolved every required field.
func (d *DraftRecord) Complete() bool {
	return d != nil && len(d.Missing) == 0
}

// Successor builds the next revision of the draft with the given fields,
// in proposed status. The identity is preserved so the confirmation loop can
// track one logical draft across refinements.
func (d *DraftRecord) Successor(fields FieldBag, missing []string, nextQuestion string, now time.Time) *DraftRecord {
	return &DraftRecord{
		ID:           d.ID,
		DataType:     d.DataType,
		Fields:       fields.Clone(),
		Revision:     d.Revision + 1,
		Status:       DraftProposed,
		Missing:      missing,
		NextQuestion: nextQuestion,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    now.UTC(),
	}
}
