package organizers_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/organizers"
	"ms-marketplace/internal/utils"
)

type Handler struct {
	Service *organizers.Service
	Logger  *logger.Logger
}

func NewHandler(svc *organizers.Service, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

// RegisterRoutes mounts the organizer self-service endpoints under /organizer.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Use(auth.RequireRole(h.Logger, models.RoleOrganizer, models.RoleAdmin))

	r.Get("/banks", h.Banks)
	r.With(auth.RequireRole(h.Logger, models.RoleOrganizer)).Post("/setup-payout", h.SetupPayout)
	r.Get("/events/{eventId}/validators", h.ListValidators)
	r.Post("/events/{eventId}/validators", h.AddValidator)
	r.Delete("/events/{eventId}/validators/{validatorId}", h.RemoveValidator)
}

// RegisterAdminRoutes mounts organizer review under /admin/organizers. The
// caller applies the admin role guard.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/pending", h.Pending)
	r.Post("/{organizerId}/approve", h.Approve)
	r.Post("/{organizerId}/reject", h.Reject)
	r.Post("/{organizerId}/create-subaccount", h.CreateSubaccount)
}

func (h *Handler) Banks(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, http.StatusOK, "Banks retrieved", h.Service.Banks())
}

func (h *Handler) SetupPayout(w http.ResponseWriter, r *http.Request) {
	var req organizers.PayoutRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	u, err := h.Service.SetupPayout(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Payout account configured", u)
}

func (h *Handler) ListValidators(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	out, err := h.Service.EventValidators(r.Context(), chi.URLParam(r, "eventId"), p.UserID, p.Role)
	if err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Validators retrieved", out)
}

func (h *Handler) AddValidator(w http.ResponseWriter, r *http.Request) {
	var req organizers.CreateValidatorRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	a, err := h.Service.AddValidator(r.Context(), chi.URLParam(r, "eventId"), p.UserID, p.Role, req)
	if err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Validator assigned", a)
}

func (h *Handler) RemoveValidator(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	err := h.Service.RemoveValidator(r.Context(), chi.URLParam(r, "eventId"), chi.URLParam(r, "validatorId"), p.UserID, p.Role)
	if err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Validator removed", nil)
}

func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	page, err := h.Service.Pending(r.Context(), utils.ParsePage(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Pending organizers retrieved", page)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.Approve(r.Context(), chi.URLParam(r, "organizerId"))
	if err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Organizer approved", u)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req organizers.RejectRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	u, err := h.Service.Reject(r.Context(), chi.URLParam(r, "organizerId"), req.Reason)
	if err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Organizer rejected", u)
}

func (h *Handler) CreateSubaccount(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.CreateSubaccount(r.Context(), chi.URLParam(r, "organizerId"))
	if err != nil {
		utils.WriteError(w, h.Logger, "ORGANIZER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Payout subaccount created", u)
}
