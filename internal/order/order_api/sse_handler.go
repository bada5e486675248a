package order_api

import (
	"net/http"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/sse"
	"ms-marketplace/internal/utils"
)

// LiveSales streams paid orders to an organizer dashboard. With ?eventId the
// stream is narrowed to one event the caller organizes.
func (h *Handler) LiveSales(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	eventID := r.URL.Query().Get("eventId")

	var ch <-chan sse.Message
	if eventID != "" {
		ev, err := h.OrderService.DB.GetEvent(r.Context(), eventID)
		if err != nil {
			utils.WriteError(w, h.Logger, "SSE", err)
			return
		}
		if ev.OrganizerID != p.UserID && !p.Is(models.RoleAdmin) {
			h.Logger.LogSecurity("SSE_FORBIDDEN", "user "+p.UserID+" tried to watch event "+eventID)
			utils.WriteError(w, h.Logger, "SSE", apperr.ErrForbidden.WithMessage("not the organizer of this event"))
			return
		}
		ch = h.Emitter.SubscribeToEvent(r.Context(), eventID)
	} else {
		ch = h.Emitter.SubscribeToOrganizer(r.Context(), p.UserID)
	}

	h.Logger.Info("SSE", "Live sales stream opened by "+p.UserID)
	sse.Stream(w, r, ch, map[string]string{"organizerId": p.UserID, "eventId": eventID}, h.Logger)
}
