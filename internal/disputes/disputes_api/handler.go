package disputes_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/disputes"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

type Handler struct {
	Service *disputes.DisputeService
	Logger  *logger.Logger
}

func NewHandler(svc *disputes.DisputeService, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

// RegisterRoutes mounts the dispute endpoints. Buyers open and read their own
// disputes; handling is admin only.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.ListDisputes)
	r.Post("/", h.CreateDispute)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(h.Logger, models.RoleAdmin))
		r.Get("/stats", h.Stats)
		r.Put("/{disputeId}", h.UpdateDispute)
		r.Post("/{disputeId}/resolve", h.ResolveDispute)
		r.Post("/{disputeId}/reject", h.RejectDispute)
	})

	r.Get("/{disputeId}", h.GetDispute)
}

func viewer(r *http.Request) disputes.Viewer {
	p, _ := auth.PrincipalFrom(r.Context())
	return disputes.Viewer{UserID: p.UserID, Role: p.Role}
}

func (h *Handler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.DisputeFilter{
		Status:   q.Get("status"),
		EventID:  q.Get("eventId"),
		Priority: q.Get("priority"),
	}
	page, err := h.Service.List(r.Context(), f, viewer(r), utils.ParsePage(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Disputes retrieved", page)
}

func (h *Handler) CreateDispute(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDisputeRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	d, err := h.Service.Create(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Dispute opened", d)
}

func (h *Handler) GetDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.Get(r.Context(), chi.URLParam(r, "disputeId"), viewer(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Dispute retrieved", d)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.Stats(r.Context())
	if err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Dispute stats retrieved", st)
}

func (h *Handler) UpdateDispute(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateDisputeRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	d, err := h.Service.UpdateStatus(r.Context(), chi.URLParam(r, "disputeId"), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Dispute updated", d)
}

func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveDisputeRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	d, err := h.Service.Resolve(r.Context(), chi.URLParam(r, "disputeId"), auth.UserID(r.Context()), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Dispute resolved", d)
}

func (h *Handler) RejectDispute(w http.ResponseWriter, r *http.Request) {
	var req models.RejectDisputeRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	d, err := h.Service.Reject(r.Context(), chi.URLParam(r, "disputeId"), auth.UserID(r.Context()), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "DISPUTE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Dispute rejected", d)
}
