package auth_api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/utils"
)

type Handler struct {
	Service *auth.Service
	Logger  *logger.Logger
}

func NewHandler(svc *auth.Service, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

// RegisterPublicRoutes mounts the unauthenticated endpoints.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)
}

// RegisterRoutes mounts endpoints that need an authenticated caller.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.Me)
	r.Patch("/me", h.UpdateProfile)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}

	session, err := h.Service.Register(r.Context(), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("Register: user %s created", session.User.ID))
	utils.WriteSuccess(w, http.StatusCreated, "Account created", session)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}

	session, err := h.Service.Login(r.Context(), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Login successful", session)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req auth.RefreshRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}

	session, err := h.Service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Token refreshed", session)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req auth.RefreshRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}
	if err := h.Service.Logout(r.Context(), req.RefreshToken); err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Logged out", nil)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.Me(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Profile retrieved", u)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req auth.UpdateProfileRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}
	u, err := h.Service.UpdateProfile(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "AUTH", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Profile updated", u)
}
