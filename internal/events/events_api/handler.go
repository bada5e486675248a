package events_api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/events"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

type Handler struct {
	Service *events.EventService
	Logger  *logger.Logger
}

func NewHandler(svc *events.EventService, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

// RegisterRoutes mounts the catalog. Reads are public; the router is expected
// to run optional authentication so organizers can see their own drafts.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.ListEvents)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(h.Logger, models.RoleOrganizer, models.RoleAdmin))
		r.Post("/", h.CreateEvent)
		r.Get("/organizer/my-events", h.MyEvents)
		r.Put("/{eventId}", h.UpdateEvent)
		r.Post("/{eventId}/publish", h.PublishEvent)
		r.Post("/{eventId}/cancel", h.CancelEvent)
		r.Post("/{eventId}/complete", h.CompleteEvent)
	})

	r.Get("/{eventId}", h.GetEvent)
}

func viewer(r *http.Request) events.Viewer {
	p, _ := auth.PrincipalFrom(r.Context())
	return events.Viewer{UserID: p.UserID, Role: p.Role}
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.EventFilter{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		City:     q.Get("city"),
	}
	page, err := h.Service.ListPublished(r.Context(), f, utils.ParsePage(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "EVENT", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Events retrieved", page)
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.Get(r.Context(), chi.URLParam(r, "eventId"), viewer(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "EVENT", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Event retrieved", e)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEventRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "EVENT", err)
		return
	}
	e, err := h.Service.Create(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "EVENT", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Event created", e)
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateEventRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "EVENT", err)
		return
	}
	e, err := h.Service.Update(r.Context(), chi.URLParam(r, "eventId"), viewer(r), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "EVENT", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Event updated", e)
}

func (h *Handler) MyEvents(w http.ResponseWriter, r *http.Request) {
	page := utils.ParsePage(r)
	list, total, err := h.Service.OrganizerEvents(r.Context(), auth.UserID(r.Context()), page)
	if err != nil {
		utils.WriteError(w, h.Logger, "EVENT", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Events retrieved", map[string]interface{}{
		"events": list,
		"total":  total,
		"page":   page.Page,
		"limit":  page.Limit,
	})
}

func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Service.Publish, "Event published")
}

func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Service.Cancel, "Event cancelled")
}

func (h *Handler) CompleteEvent(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Service.Complete, "Event completed")
}

type lifecycleFunc func(ctx context.Context, id string, v events.Viewer) (*models.Event, error)

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, fn lifecycleFunc, msg string) {
	e, err := fn(r.Context(), chi.URLParam(r, "eventId"), viewer(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "EVENT", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, msg, e)
}
