package notifications

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tasknotify/project/internal/platform/httpx"
)

type Handler struct {
	Service *Service
	Logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

// Routes mounts the notification queries. Callers are authenticated by the
// gateway in front of this service.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Put("/user/{userID}/read-all", h.handleMarkAllRead)
		r.Get("/{userID}/unread-count", h.handleUnreadCount)
		r.Put("/{notificationID}/read", h.handleMarkRead)
		r.Get("/{userID}", h.handleList)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListForUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.Service.UnreadCount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.MarkRead(r.Context(), chi.URLParam(r, "notificationID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "Notification marked as read", map[string]any{"notification": n})
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Service.MarkAllRead(r.Context(), chi.URLParam(r, "userID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "All notifications marked as read", nil)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "Notification not found")
		return
	}
	h.Logger.ErrorContext(r.Context(), "notification request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	httpx.WriteError(w, http.StatusInternalServerError, err.Error())
}
