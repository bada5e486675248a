package analytics_api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/analytics"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service *analytics.Service, logger *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

type batchRequest struct {
	EventIDs []string `json:"eventIds" validate:"required,min=1,max=100"`
}

// RegisterRoutes mounts the analytics endpoints on the /events router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(h.Logger, models.RoleOrganizer, models.RoleAdmin))
		r.Get("/organizer/analytics", h.GetOrganizerAnalytics)
		r.Post("/analytics/batch", h.GetBatchEventAnalytics)
		r.Get("/{eventId}/analytics", h.GetEventAnalytics)
		r.Get("/{eventId}/orders", h.GetEventOrders)
	})
}

func viewer(r *http.Request) analytics.Viewer {
	p, _ := auth.PrincipalFrom(r.Context())
	return analytics.Viewer{UserID: p.UserID, Role: p.Role}
}

func (h *Handler) GetEventAnalytics(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	result, err := h.Service.GetEventAnalytics(r.Context(), eventID, viewer(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "ANALYTICS", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Analytics retrieved", result)
}

// GetEventOrders lists orders with ?status=, ?sortBy=amount|created_at and ?order=asc|desc.
func (h *Handler) GetEventOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := analytics.EventOrderOptions{
		Status:   q.Get("status"),
		SortBy:   q.Get("sortBy"),
		SortDesc: !strings.EqualFold(q.Get("order"), "asc"),
	}
	page, err := h.Service.GetEventOrders(r.Context(), chi.URLParam(r, "eventId"), viewer(r), opts, utils.ParsePage(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "ANALYTICS", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Orders retrieved", page)
}

func (h *Handler) GetOrganizerAnalytics(w http.ResponseWriter, r *http.Request) {
	organizerID := auth.UserID(r.Context())
	if p, _ := auth.PrincipalFrom(r.Context()); p.Is(models.RoleAdmin) && r.URL.Query().Get("organizerId") != "" {
		organizerID = r.URL.Query().Get("organizerId")
	}
	result, err := h.Service.GetOrganizerAnalytics(r.Context(), organizerID)
	if err != nil {
		utils.WriteError(w, h.Logger, "ANALYTICS", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Organizer analytics retrieved", result)
}

func (h *Handler) GetBatchEventAnalytics(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "ANALYTICS", err)
		return
	}
	result, err := h.Service.GetBatchEventAnalytics(r.Context(), req.EventIDs, viewer(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "ANALYTICS", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Batch analytics retrieved", result)
}
