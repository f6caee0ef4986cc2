package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// Handler exposes the attempt use cases over JSON. Authentication happens
// upstream; the trusted identity arrives in the X-User-ID header.
type Handler struct {
	service *app.AttemptService
}

func NewHandler(service *app.AttemptService) *Handler {
	return &Handler{service: service}
}

// NewRouter wires the HTTP surface.
func NewRouter(h *Handler, ws *WSHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Post("/quizzes/{quizID}/attempts", h.startAttempt)
	r.Get("/attempts/{attemptID}", h.readAttempt)
	r.Put("/attempts/{attemptID}/answers", h.saveProgress)
	r.Post("/attempts/{attemptID}/submit", h.submit)
	r.Get("/ws/attempts", ws.ServeWS)
	return r
}

type answersPayload struct {
	Answers []app.AnswerInput `json:"answers"`
}

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	result, err := h.service.StartAttempt(r.Context(), chi.URLParam(r, "quizID"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) readAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	view, err := h.service.ReadAttempt(r.Context(), chi.URLParam(r, "attemptID"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) saveProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var payload answersPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, domain.InvalidInput("invalid answers payload: %v", err))
		return
	}
	result, err := h.service.SaveProgress(r.Context(), chi.URLParam(r, "attemptID"), userID, payload.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var payload answersPayload
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, domain.InvalidInput("invalid answers payload: %v", err))
			return
		}
	}
	result, err := h.service.Finalize(r.Context(), chi.URLParam(r, "attemptID"), userID, payload.Answers, app.TriggerUser)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Kind: "unauthenticated", Message: "missing X-User-ID header"})
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusFor(kind), errorBody{Kind: kind, Message: publicMessage(err)})
}

// publicMessage returns only the classified message of a domain error. The
// wrapped cause (driver errors, DSNs, hostnames) stays inside the boundary.
func publicMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
