package ticket_api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	tickets "ms-marketplace/internal/tickets/service"
	"ms-marketplace/internal/utils"
)

type Handler struct {
	TicketService *tickets.TicketService
	Counts        *tickets.TicketCountService
	Logger        *logger.Logger
}

func NewHandler(ticketService *tickets.TicketService, counts *tickets.TicketCountService, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Counts: counts, Logger: log}
}

// RegisterRoutes mounts the ticket endpoints. Callers must already be
// authenticated.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/my", h.MyTickets)
	r.Get("/my-tickets", h.MyTickets)
	r.Get("/{ticketId}", h.GetTicket)
	r.Get("/{ticketId}/qr", h.GetQRCode)
	r.Get("/{ticketId}/pdf", h.DownloadPDF)
	r.Get("/{ticketId}/download", h.DownloadPDF)

	r.With(auth.RequireRole(h.Logger, models.RoleOrganizer, models.RoleAdmin)).Post("/{ticketId}/void", h.VoidTicket)
	r.With(auth.RequireRole(h.Logger, models.RoleAdmin)).Get("/count", h.GetTotalTicketsCount)
	r.With(auth.RequireRole(h.Logger, models.RoleAdmin)).Get("/counts/{eventId}", h.GetTicketCountsForEvent)
}

func (h *Handler) MyTickets(w http.ResponseWriter, r *http.Request) {
	page, err := h.TicketService.MyTickets(r.Context(), auth.UserID(r.Context()), utils.ParsePage(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "TICKET", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tickets retrieved", page)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	ticket, err := h.TicketService.GetTicket(r.Context(), chi.URLParam(r, "ticketId"), p.UserID, p.Role)
	if err != nil {
		utils.WriteError(w, h.Logger, "TICKET", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket retrieved", ticket)
}

func (h *Handler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	png, err := h.TicketService.QRCode(r.Context(), chi.URLParam(r, "ticketId"), p.UserID, p.Role)
	if err != nil {
		utils.WriteError(w, h.Logger, "TICKET", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) DownloadPDF(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	ticketID := chi.URLParam(r, "ticketId")
	doc, err := h.TicketService.PDFTicket(r.Context(), ticketID, p.UserID, p.Role)
	if err != nil {
		utils.WriteError(w, h.Logger, "TICKET", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ticket-%s.pdf"`, ticketID))
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func (h *Handler) VoidTicket(w http.ResponseWriter, r *http.Request) {
	var req models.VoidRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "TICKET", err)
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	ticket, err := h.TicketService.Void(r.Context(), chi.URLParam(r, "ticketId"), p.UserID, p.Role, req.Reason)
	if err != nil {
		utils.WriteError(w, h.Logger, "TICKET", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket voided", ticket)
}
