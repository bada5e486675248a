package order_api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/order"
	"ms-marketplace/internal/sse"
	"ms-marketplace/internal/utils"
)

const maxWebhookBytes = 64 << 10

type Handler struct {
	OrderService *order.OrderService
	Emitter      *sse.EventEmitter
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, emitter *sse.EventEmitter, log *logger.Logger) *Handler {
	return &Handler{OrderService: orderService, Emitter: emitter, Logger: log}
}

// RegisterRoutes mounts the buyer-facing order endpoints. Callers must
// already be authenticated.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Purchase)
	r.Post("/verify", h.VerifyPayment)
	r.Get("/my", h.MyOrders)
	r.With(auth.RequireRole(h.Logger, models.RoleOrganizer, models.RoleAdmin)).Get("/live", h.LiveSales)
	r.Get("/{orderId}", h.GetOrder)
	r.Post("/{orderId}/retry", h.RetryPayment)
}

// RegisterTicketRoutes mounts purchase and verify under /tickets, where the
// web client expects them.
func (h *Handler) RegisterTicketRoutes(r chi.Router) {
	r.Post("/purchase", h.Purchase)
	r.Post("/verify", h.VerifyPayment)
}

// RegisterWebhook mounts the unauthenticated gateway callback.
func (h *Handler) RegisterWebhook(r chi.Router) {
	r.Post("/webhook", h.Webhook)
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req models.PurchaseRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "ORDER", err)
		return
	}

	resp, err := h.OrderService.CreateOrder(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "ORDER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Checkout initialized", resp)
}

// VerifyPayment is called from the gateway redirect page.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "ORDER", err)
		return
	}

	result, err := h.OrderService.ConfirmPayment(r.Context(), req.Reference)
	if err != nil {
		utils.WriteError(w, h.Logger, "ORDER", err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	if result.Order.BuyerID != p.UserID && !p.Is(models.RoleAdmin) {
		utils.WriteError(w, h.Logger, "ORDER", apperr.NotFound("transaction"))
		return
	}

	msg := "Payment verified"
	switch result.Order.Status {
	case models.OrderPending:
		msg = "Payment pending"
	case models.OrderFailed:
		msg = "Payment failed"
	}
	utils.WriteSuccess(w, http.StatusOK, msg, result)
}

func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	resp, err := h.OrderService.RetryPayment(r.Context(), chi.URLParam(r, "orderId"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, h.Logger, "ORDER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Checkout re-initialized", resp)
}

func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	page, err := h.OrderService.ListBuyerOrders(r.Context(), auth.UserID(r.Context()), utils.ParsePage(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "ORDER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Orders retrieved", page)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	p, _ := auth.PrincipalFrom(r.Context())

	var (
		result *models.OrderWithTickets
		err    error
	)
	if p.Is(models.RoleAdmin) {
		result, err = h.OrderService.GetOrder(r.Context(), orderID)
	} else {
		result, err = h.OrderService.GetOrderForBuyer(r.Context(), orderID, p.UserID)
	}
	if err != nil {
		utils.WriteError(w, h.Logger, "ORDER", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Order retrieved", result)
}

// Webhook acknowledges every notification it could authenticate; only a bad
// signature or a processing failure asks the gateway to redeliver.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		utils.WriteError(w, h.Logger, "WEBHOOK", apperr.Validation("webhook body too large"))
		return
	}

	if err := h.OrderService.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if apperr.KindOf(err) == apperr.KindUnauthorized {
			h.Logger.LogSecurity("WEBHOOK_REJECTED", err.Error())
		}
		utils.WriteError(w, h.Logger, "WEBHOOK", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
