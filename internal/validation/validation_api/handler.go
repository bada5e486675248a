package validation_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/sse"
	"ms-marketplace/internal/utils"
	"ms-marketplace/internal/validation"
)

type Handler struct {
	Service *validation.ValidationService
	Emitter *sse.EventEmitter
	Limiter *auth.RateLimiter
	Logger  *logger.Logger
}

func NewHandler(svc *validation.ValidationService, emitter *sse.EventEmitter, limiter *auth.RateLimiter, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Emitter: emitter, Limiter: limiter, Logger: log}
}

// RegisterRoutes mounts the door endpoints for validators, organizers and
// admins. Callers must already be authenticated.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Use(auth.RequireRole(h.Logger, models.RoleValidator, models.RoleOrganizer, models.RoleAdmin))

	r.With(h.Limiter.Middleware(h.Logger)).Post("/scan", h.Scan)
	r.Get("/my-events", h.MyEvents)
	r.Get("/event/{eventId}/stats", h.EventStats)
	r.Get("/event/{eventId}/stream", h.CheckInStream)
}

// RegisterAdminRoutes mounts validator assignment under /admin/validators.
// The caller applies the admin role guard.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/{userId}/assign", h.AssignValidator)
}

func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req models.ScanRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "SCAN", err)
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	result, err := h.Service.Scan(r.Context(), req.Code, req.EventID, p.UserID, p.Role)
	switch {
	case err != nil && result != nil:
		utils.WriteJSON(w, apperr.StatusCode(err), result)
	case err != nil:
		utils.WriteError(w, h.Logger, "SCAN", err)
	default:
		utils.WriteJSON(w, http.StatusOK, result)
	}
}

func (h *Handler) MyEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Service.MyEvents(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, h.Logger, "VALIDATION", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Assigned events retrieved", events)
}

func (h *Handler) EventStats(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	stats, err := h.Service.EventStats(r.Context(), chi.URLParam(r, "eventId"), p.UserID, p.Role)
	if err != nil {
		utils.WriteError(w, h.Logger, "VALIDATION", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Event stats retrieved", stats)
}

// CheckInStream follows an event's door activity over SSE.
func (h *Handler) CheckInStream(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	eventID := chi.URLParam(r, "eventId")
	if err := h.Service.CanWatch(r.Context(), eventID, p.UserID, p.Role); err != nil {
		utils.WriteError(w, h.Logger, "SSE", err)
		return
	}

	ch := h.Emitter.SubscribeToEvent(r.Context(), eventID)
	sse.Stream(w, r, ch, map[string]string{"eventId": eventID}, h.Logger)
}

func (h *Handler) AssignValidator(w http.ResponseWriter, r *http.Request) {
	var req models.AssignValidatorRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "VALIDATION", err)
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	a, err := h.Service.AssignValidator(r.Context(), chi.URLParam(r, "userId"), req.EventID, p.UserID, p.Role)
	if err != nil {
		utils.WriteError(w, h.Logger, "VALIDATION", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Validator assigned", a)
}
