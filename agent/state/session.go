package state

import (
	"errors"
	"fmt"
	"time"
)

// Session is the persistent source-of-truth for one user's assistant
// interaction: the conversation transcript, the three independently-labelled
// structured sections, and any open draft records awaiting confirmation.
type Session struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id,omitempty"` // empty until authenticated

	Conversation []Message `json:"conversation,omitempty"`

	// Labelled sections. Each is replaced wholesale on update, never merged
	// in place; only a confirmed draft or a direct section patch writes here.
	SkipperProfile   FieldBag `json:"skipper_profile,omitempty"`
	CrewRequirements FieldBag `json:"crew_requirements,omitempty"`
	JourneyDetails   FieldBag `json:"journey_details,omitempty"`

	Drafts map[DataType]*DraftRecord `json:"drafts,omitempty"`

	// Flow is the recorded position of the guided onboarding flow, nil until
	// the session first advances a module.
	Flow *FlowState `json:"flow,omitempty"`

	Status  SessionStatus `json:"status"`
	Version int64         `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldBag is the typed field bag of a labelled section or draft record.
type FieldBag map[string]any

func (f FieldBag) Clone() FieldBag {
	if f == nil {
		return nil
	}
	out := make(FieldBag, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ModuleProgress records one guided-flow module's outcome.
type ModuleProgress struct {
	Completed bool `json:"completed"`
	Skipped   bool `json:"skipped,omitempty"`
}

// FlowState is the persisted guided-flow position. Progress is keyed by
// module id so the flow survives reordering and process restarts.
type FlowState struct {
	Current  string                    `json:"current,omitempty"`
	Done     bool                      `json:"done,omitempty"`
	Progress map[string]ModuleProgress `json:"progress,omitempty"`
}

type SessionStatus string

const (
	SessionActive               SessionStatus = "active"
	SessionAwaitingConfirmation SessionStatus = "awaiting-confirmation"
	SessionAwaitingAuth         SessionStatus = "awaiting-auth"
	SessionCompleted            SessionStatus = "completed"
	SessionArchived             SessionStatus = "archived"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation. Immutable once appended.
type Message struct {
	Role        Role             `json:"role"`
	Content     string           `json:"content"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
	Seq         int              `json:"seq"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ToolInvocation records one tool call made on behalf of a turn.
type ToolInvocation struct {
	Tool      string        `json:"tool"`
	Args      FieldBag      `json:"args,omitempty"`
	Output    FieldBag      `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	StartedAt time.Time     `json:"started_at"`
}

func (inv ToolInvocation) Failed() bool {
	return inv.Error != ""
}

// SectionLabel names one of the three labelled sections.
type SectionLabel string

const (
	SectionSkipperProfile   SectionLabel = "skipper-profile"
	SectionCrewRequirements SectionLabel = "crew-requirements"
	SectionJourneyDetails   SectionLabel = "journey-details"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrVersionConflict   = errors.New("session version conflict")
	ErrNilSession        = errors.New("session is nil")
	ErrInvalidSessionID  = errors.New("session id is empty")
	ErrUnknownSection    = errors.New("unknown section label")
	ErrDraftNotFound     = errors.New("draft record not found")
	ErrDraftAlreadyOpen  = errors.New("another draft is already open for this data type")
	ErrInvalidTransition = errors.New("invalid draft transition")
)

func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Status:    SessionActive,
		Drafts:    make(map[DataType]*DraftRecord, 2),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// Append adds a message to the conversation, assigning the next sequence
// index. The transcript is append-only; nothing else mutates it.
func (s *Session) Append(role Role, content string, invocations []ToolInvocation, now time.Time) Message {
	msg := Message{
		Role:        role,
		Content:     content,
		Invocations: invocations,
		Seq:         len(s.Conversation),
		CreatedAt:   now.UTC(),
	}
	s.Conversation = append(s.Conversation, msg)
	s.Touch(now)
	return msg
}

// Recent returns up to n of the latest messages, oldest first.
func (s *Session) Recent(n int) []Message {
	if n <= 0 || len(s.Conversation) == 0 {
		return nil
	}
	if n > len(s.Conversation) {
		n = len(s.Conversation)
	}
	tail := s.Conversation[len(s.Conversation)-n:]
	out := make([]Message, len(tail))
	copy(out, tail)
	return out
}

// Section returns the field bag stored under the given label.
func (s *Session) Section(label SectionLabel) (FieldBag, error) {
	switch label {
	case SectionSkipperProfile:
		return s.SkipperProfile, nil
	case SectionCrewRequirements:
		return s.CrewRequirements, nil
	case SectionJourneyDetails:
		return s.JourneyDetails, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSection, label)
	}
}

// SetSection replaces a labelled section wholesale.
func (s *Session) SetSection(label SectionLabel, fields FieldBag, now time.Time) error {
	switch label {
	case SectionSkipperProfile:
		s.SkipperProfile = fields.Clone()
	case SectionCrewRequirements:
		s.CrewRequirements = fields.Clone()
	case SectionJourneyDetails:
		s.JourneyDetails = fields.Clone()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSection, label)
	}
	s.Touch(now)
	return nil
}

// OpenDraft returns the open (not yet confirmed or discarded) draft for the
// data type, if any.
func (s *Session) OpenDraft(dataType DataType) (*DraftRecord, bool) {
	d, ok := s.Drafts[dataType]
	if !ok || d == nil || d.Closed() {
		return nil, false
	}
	return d, true
}

// PutDraft installs a draft, enforcing the at-most-one-open invariant: a new
// draft may only replace an open draft of the same data type when it is that
// draft's successor revision.
func (s *Session) PutDraft(d *DraftRecord) error {
	if d == nil {
		return fmt.Errorf("%w: nil draft", ErrInvalidTransition)
	}
	if s.Drafts == nil {
		s.Drafts = make(map[DataType]*DraftRecord, 2)
	}
	if cur, ok := s.OpenDraft(d.DataType); ok {
		if cur.ID != d.ID || d.Revision != cur.Revision+1 {
			return fmt.Errorf("%w: data type=%s", ErrDraftAlreadyOpen, d.DataType)
		}
	}
	s.Drafts[d.DataType] = d
	return nil
}

func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrInvalidSessionID
	}
	for i, msg := range s.Conversation {
		if msg.Seq != i {
			return fmt.Errorf("conversation sequence broken at index %d (seq=%d)", i, msg.Seq)
		}
	}
	for dt, d := range s.Drafts {
		if d == nil {
			continue
		}
		if d.DataType != dt {
			return fmt.Errorf("draft keyed under %s has data type %s", dt, d.DataType)
		}
	}
	return nil
}
