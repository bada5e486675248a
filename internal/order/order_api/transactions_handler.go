package order_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

// RegisterAdminRoutes mounts transaction management. The caller applies the
// admin role guard.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/", h.ListTransactions)
	r.Get("/stats", h.TransactionStats)
	r.Post("/{transactionId}/retry", h.RetryTransaction)
	r.Post("/{transactionId}/refund", h.RefundTransaction)
}

func transactionFilter(r *http.Request) models.TransactionFilter {
	q := r.URL.Query()
	return models.TransactionFilter{
		Status:  q.Get("status"),
		EventID: q.Get("eventId"),
		BuyerID: q.Get("buyerId"),
		Search:  q.Get("search"),
	}
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := h.OrderService.ListTransactions(r.Context(), transactionFilter(r), utils.ParsePage(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "TRANSACTION", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Transactions retrieved", page)
}

func (h *Handler) TransactionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.OrderService.TransactionStats(r.Context(), transactionFilter(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "TRANSACTION", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Transaction stats retrieved", stats)
}

func (h *Handler) RetryTransaction(w http.ResponseWriter, r *http.Request) {
	result, err := h.OrderService.RetryTransaction(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		utils.WriteError(w, h.Logger, "TRANSACTION", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Transaction re-verified", result)
}

func (h *Handler) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	var req models.RefundRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "TRANSACTION", err)
		return
	}

	refund, err := h.OrderService.Refund(r.Context(), chi.URLParam(r, "transactionId"), req.Amount, req.Reason)
	if err != nil {
		utils.WriteError(w, h.Logger, "TRANSACTION", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Refund processed", refund)
}
