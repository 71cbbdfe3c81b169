package tasks

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tasknotify/project/internal/platform/auth"
	"github.com/tasknotify/project/internal/platform/httpx"
)

type Handler struct {
	Service  *Service
	Verifier auth.Verifier
	Logger   *slog.Logger
}

func NewHandler(service *Service, verifier auth.Verifier, logger *slog.Logger) *Handler {
	return &Handler{Service: service, Verifier: verifier, Logger: logger}
}

// Routes mounts the task endpoints on r. Every route requires a verified
// bearer token; the gateway's check is not trusted on its own.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(authR chi.Router) {
		authR.Use(auth.Middleware(h.Verifier))
		authR.Post("/tasks", h.handleCreate)
		authR.Get("/tasks", h.handleList)
		authR.Get("/tasks/{taskID}", h.handleGet)
		authR.Put("/tasks/{taskID}", h.handleUpdate)
		authR.Delete("/tasks/{taskID}", h.handleDelete)
	})
}

func callerFrom(r *http.Request) Caller {
	claims, _ := auth.ClaimsFromContext(r.Context())
	return CallerFromClaims(claims)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := h.Service.Create(r.Context(), callerFrom(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusCreated, "Task created successfully", map[string]any{"task": task})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Service.List(r.Context(), callerFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tasks)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	task, err := h.Service.Get(r.Context(), callerFrom(r), chi.URLParam(r, "taskID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, task)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch Patch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := h.Service.Update(r.Context(), callerFrom(r), chi.URLParam(r, "taskID"), patch)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "Task updated successfully", map[string]any{"task": task})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), callerFrom(r), chi.URLParam(r, "taskID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "Task deleted successfully", nil)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, ErrManagerOnly):
		httpx.WriteError(w, http.StatusForbidden, "Only managers can delete tasks")
	case errors.Is(err, ErrCreateForbidden):
		httpx.WriteError(w, http.StatusForbidden, "Only managers can create tasks")
	case errors.Is(err, ErrTitleRequired),
		errors.Is(err, ErrAssigneeRequired),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidPriority),
		errors.Is(err, ErrInvalidDueDate):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.ErrorContext(r.Context(), "task request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
