package reconciliation_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/reconciliation"
	"ms-marketplace/internal/utils"
)

type Handler struct {
	Service *reconciliation.ReconciliationService
	Logger  *logger.Logger
}

func NewHandler(svc *reconciliation.ReconciliationService, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

// RegisterRoutes mounts the reconciliation endpoints. The caller applies the
// admin role guard.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/summary", h.Summary)
	r.Get("/mismatches", h.Mismatches)
	r.Post("/run", h.Run)
	r.Post("/fix", h.Fix)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.Summary(r.Context())
	if err != nil {
		utils.WriteError(w, h.Logger, "RECONCILE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Reconciliation summary", sum)
}

func (h *Handler) Mismatches(w http.ResponseWriter, r *http.Request) {
	ms, err := h.Service.Mismatches(r.Context())
	if err != nil {
		utils.WriteError(w, h.Logger, "RECONCILE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Mismatches retrieved", map[string]interface{}{
		"mismatches": ms,
		"count":      len(ms),
	})
}

// Run reconciles on demand. An empty body fixes everything it finds.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := utils.DecodeOptional(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "RECONCILE", err)
		return
	}
	autoFix := true
	if req.AutoFix != nil {
		autoFix = *req.AutoFix
	}

	report, err := h.Service.Run(r.Context(), reconciliation.Options{AutoFix: autoFix, EventIDs: req.EventIDs})
	if err != nil {
		utils.WriteError(w, h.Logger, "RECONCILE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Reconciliation complete", report)
}

func (h *Handler) Fix(w http.ResponseWriter, r *http.Request) {
	var req models.FixRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "RECONCILE", err)
		return
	}

	res, err := h.Service.Fix(r.Context(), req.Type, req.EntityID)
	if err != nil {
		utils.WriteError(w, h.Logger, "RECONCILE", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, res.Message, res)
}
