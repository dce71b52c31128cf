package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	contractx "github.com/crewline/agent/agent/contract"
	turnnode "github.com/crewline/agent/agent/nodes"
	"github.com/crewline/agent/agent/orchestrator"
	sequencerx "github.com/crewline/agent/agent/sequencer"
	statex "github.com/crewline/agent/agent/state"
	toolx "github.com/crewline/agent/agent/tool"
	logx "github.com/crewline/agent/pkg/logger"
)

const maxBodySize = 1 << 20 // 1MB

type CreateSessionRequest struct {
	OwnerID string `json:"owner_id"`
}

type TurnRequest struct {
	Text string `json:"text"`
}

type TurnResponse struct {
	Reply       string                  `json:"reply"`
	UseCase     contractx.UseCase       `json:"use_case"`
	Draft       *statex.DraftRecord     `json:"draft,omitempty"`
	Invocations []statex.ToolInvocation `json:"invocations,omitempty"`
	Session     *statex.Session         `json:"session"`
}

type EditDraftRequest struct {
	Feedback string `json:"feedback"`
}

type EditDraftResponse struct {
	Draft   *statex.DraftRecord `json:"draft"`
	Session *statex.Session     `json:"session"`
}

type PatchSectionRequest struct {
	Fields statex.FieldBag `json:"fields"`
}

type AdvanceModuleRequest struct {
	Step sequencerx.Step `json:"step"`
}

type AdvanceModuleResponse struct {
	Done    bool               `json:"done"`
	Current *sequencerx.Module `json:"current,omitempty"`
}

// NewHandler mounts the session, turn, draft, section, and module routes
// on a fresh chi router.
func NewHandler(o *orchestrator.Orchestrator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", handleCreateSession(o))
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", handleGetSession(o))
			r.Delete("/", handleArchiveSession(o))
			r.Post("/turns", handleTurn(o))
			r.Get("/sections/{label}", handleGetSection(o))
			r.Patch("/sections/{label}", handlePatchSection(o))
			r.Post("/drafts/{dataType}/confirm", handleConfirmDraft(o))
			r.Post("/drafts/{dataType}/edit", handleEditDraft(o))
			r.Post("/drafts/{dataType}/discard", handleDiscardDraft(o))
			r.Get("/modules", handleListModules(o))
			r.Post("/modules/advance", handleAdvanceModule(o))
		})
	})

	return r
}

func handleCreateSession(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The owner reference is nullable until the user authenticates, so
		// an empty (or absent) body is a valid pre-auth session request.
		var req CreateSessionRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		sess, err := o.CreateSession(r.Context(), req.OwnerID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func handleGetSession(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := o.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleArchiveSession(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := o.ArchiveSession(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleTurn(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TurnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		out, err := o.HandleTurn(r.Context(), turnnode.GraphInput{
			SessionID: chi.URLParam(r, "sessionID"),
			Text:      req.Text,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, TurnResponse{
			Reply:       out.Reply,
			UseCase:     out.UseCase,
			Draft:       out.Draft,
			Invocations: out.Invocations,
			Session:     out.Session,
		})
	}
}

func handleGetSection(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := o.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		fields, err := sess.Section(statex.SectionLabel(chi.URLParam(r, "label")))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
	}
}

func handlePatchSection(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatchSectionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Fields) == 0 {
			httpError(w, http.StatusBadRequest, "fields must not be empty")
			return
		}
		sess, err := o.PatchSection(
			r.Context(),
			chi.URLParam(r, "sessionID"),
			statex.SectionLabel(chi.URLParam(r, "label")),
			req.Fields,
		)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleConfirmDraft(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := o.ConfirmDraft(
			r.Context(),
			chi.URLParam(r, "sessionID"),
			statex.DataType(chi.URLParam(r, "dataType")),
		)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleEditDraft(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EditDraftRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sess, draft, err := o.EditDraft(
			r.Context(),
			chi.URLParam(r, "sessionID"),
			statex.DataType(chi.URLParam(r, "dataType")),
			req.Feedback,
		)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, EditDraftResponse{Draft: draft, Session: sess})
	}
}

func handleDiscardDraft(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := o.DiscardDraft(
			r.Context(),
			chi.URLParam(r, "sessionID"),
			statex.DataType(chi.URLParam(r, "dataType")),
		)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleListModules(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		modules, err := o.Modules(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"modules": modules})
	}
}

func handleAdvanceModule(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdvanceModuleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		current, err := o.AdvanceModule(r.Context(), chi.URLParam(r, "sessionID"), req.Step)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AdvanceModuleResponse{
			Done:    current == nil,
			Current: current,
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, statex.ErrSessionNotFound),
		errors.Is(err, statex.ErrDraftNotFound),
		errors.Is(err, toolx.ErrToolNotFound),
		errors.Is(err, sequencerx.ErrUnknownModule):
		httpError(w, http.StatusNotFound, "%v", err)
	case errors.Is(err, statex.ErrVersionConflict),
		errors.Is(err, statex.ErrInvalidTransition),
		errors.Is(err, statex.ErrDraftAlreadyOpen),
		errors.Is(err, contractx.ErrExtractionIncomplete),
		errors.Is(err, orchestrator.ErrTooManyEdits),
		errors.Is(err, sequencerx.ErrActionNotRun),
		errors.Is(err, sequencerx.ErrAtFirstModule):
		httpError(w, http.StatusConflict, "%v", err)
	case errors.Is(err, contractx.ErrValidation),
		errors.Is(err, statex.ErrInvalidSessionID),
		errors.Is(err, statex.ErrUnknownSection),
		errors.Is(err, sequencerx.ErrUnknownStep),
		errors.Is(err, sequencerx.ErrNoCurrentModule),
		errors.Is(err, turnnode.ErrInvalidMessage),
		errors.Is(err, turnnode.ErrInvalidSession):
		httpError(w, http.StatusBadRequest, "%v", err)
	default:
		lg := logx.For("api")
		lg.Error().Err(err).Msg("request failed")
		httpError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		lg := logx.For("api")
		lg.Error().Err(err).Msg("encode response")
	}
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg},
	})
}
