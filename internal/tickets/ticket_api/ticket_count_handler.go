package ticket_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/utils"
)

// TicketCountResponse is the response format for the GetTotalTicketsCount endpoint
type TicketCountResponse struct {
	TotalCount int `json:"totalCount"`
}

func (h *Handler) GetTotalTicketsCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.Counts.GetTotalTicketsCount(r.Context())
	if err != nil {
		utils.WriteError(w, h.Logger, "TICKET", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket count retrieved", TicketCountResponse{TotalCount: count})
}

// GetTicketCountsForEvent returns the daily issued-ticket counters for an event.
func (h *Handler) GetTicketCountsForEvent(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Counts.GetTicketCountsForEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		utils.WriteError(w, h.Logger, "TICKET", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket counts retrieved", counts)
}
