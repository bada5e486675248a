package admin_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/admin"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/users"
	"ms-marketplace/internal/utils"
)

type Handler struct {
	Service *admin.Service
	Logger  *logger.Logger
}

func NewHandler(svc *admin.Service, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

// RegisterRoutes mounts dashboard and user management under /admin. The
// caller applies the admin role guard.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stats", h.Stats)
	r.Get("/users", h.ListUsers)
	r.Put("/users/{userId}/role", h.ChangeRole)
	r.Put("/users/{userId}/status", h.SetActive)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.Stats(r.Context())
	if err != nil {
		utils.WriteError(w, h.Logger, "ADMIN", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Platform stats retrieved", st)
}

// ListUsers accepts ?role=, ?status= (organizer platform status) and ?search=.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := users.Filter{Role: q.Get("role"), PlatformStatus: q.Get("status"), Search: q.Get("search")}
	page, err := h.Service.ListUsers(r.Context(), f, utils.ParsePage(r))
	if err != nil {
		utils.WriteError(w, h.Logger, "ADMIN", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Users retrieved", page)
}

func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req admin.RoleRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "ADMIN", err)
		return
	}
	u, err := h.Service.ChangeRole(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "userId"), req.Role)
	if err != nil {
		utils.WriteError(w, h.Logger, "ADMIN", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "User role updated", u)
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req admin.ActiveRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "ADMIN", err)
		return
	}
	u, err := h.Service.SetActive(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "userId"), *req.Active)
	if err != nil {
		utils.WriteError(w, h.Logger, "ADMIN", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "User status updated", u)
}
