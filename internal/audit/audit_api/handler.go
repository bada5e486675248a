package audit_api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

type Handler struct {
	Recorder *audit.Recorder
	Logger   *logger.Logger
}

func NewHandler(rec *audit.Recorder, log *logger.Logger) *Handler {
	return &Handler{Recorder: rec, Logger: log}
}

// RegisterRoutes mounts the audit endpoints; callers wrap them in admin auth.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/stats", h.Stats)
	r.Get("/entity/{type}/{id}", h.EntityHistory)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		utils.WriteError(w, h.Logger, "AUDIT", err)
		return
	}
	page := utils.ParsePage(r)

	entries, total, err := h.Recorder.List(r.Context(), filter, page.Limit, page.Offset())
	if err != nil {
		utils.WriteError(w, h.Logger, "AUDIT", err)
		return
	}
	h.Logger.Debug("AUDIT", fmt.Sprintf("List: %d of %d entries", len(entries), total))
	utils.WriteSuccess(w, http.StatusOK, "Audit logs retrieved", utils.NewPaginated(entries, total, page))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		utils.WriteError(w, h.Logger, "AUDIT", err)
		return
	}
	stats, err := h.Recorder.Stats(r.Context(), filter)
	if err != nil {
		utils.WriteError(w, h.Logger, "AUDIT", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Audit stats retrieved", map[string]interface{}{
		"summary": map[string]int{
			"total":    stats.Total,
			"errors":   stats.Errors,
			"warnings": stats.Warnings,
			"critical": stats.Critical,
			"failures": stats.Failures,
		},
		"topActions": stats.TopActions,
	})
}

func (h *Handler) EntityHistory(w http.ResponseWriter, r *http.Request) {
	filter := models.AuditFilter{
		EntityType: chi.URLParam(r, "type"),
		EntityID:   chi.URLParam(r, "id"),
	}
	page := utils.ParsePage(r)
	entries, total, err := h.Recorder.List(r.Context(), filter, page.Limit, page.Offset())
	if err != nil {
		utils.WriteError(w, h.Logger, "AUDIT", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Entity history retrieved", utils.NewPaginated(entries, total, page))
}

func parseFilter(r *http.Request) (models.AuditFilter, error) {
	q := r.URL.Query()
	f := models.AuditFilter{
		Action:     q.Get("action"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		ActorID:    q.Get("actorId"),
		Severity:   q.Get("severity"),
	}
	if s := q.Get("success"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return f, apperr.Validation("success must be true or false")
		}
		f.Success = &b
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		s := q.Get(key)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, apperr.Validation("%s must be an RFC3339 timestamp", key)
		}
		t = t.UTC()
		*dst = &t
	}
	return f, nil
}
