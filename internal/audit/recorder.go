package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
)

// Entry describes one audited action. Err marks the action as failed; the
// entry is written either way.
type Entry struct {
	Actor      *Actor
	Action     string
	EntityType string
	EntityID   string
	EntityName string
	Severity   string
	Err        error
	Diff       map[string]interface{}
}

type Recorder struct {
	DB     bun.IDB
	Logger *logger.Logger
	Now    func() time.Time
}

func NewRecorder(db bun.IDB, log *logger.Logger) *Recorder {
	return &Recorder{DB: db, Logger: log, Now: func() time.Time { return time.Now().UTC() }}
}

// Record writes e and logs instead of returning when the insert fails.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if err := r.Write(ctx, e); err != nil {
		r.Logger.Error("AUDIT", fmt.Sprintf("Failed to record %s on %s/%s: %v", e.Action, e.EntityType, e.EntityID, err))
	}
}

// Write inserts one row. It runs detached from ctx cancellation so a request
// aborted by the client still leaves its trail.
func (r *Recorder) Write(ctx context.Context, e Entry) error {
	entry := r.build(ctx, e)
	_, err := r.DB.NewInsert().Model(entry).Exec(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *Recorder) build(ctx context.Context, e Entry) *models.AuditLogEntry {
	entry := &models.AuditLogEntry{
		ID:         uuid.NewString(),
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		EntityName: e.EntityName,
		Severity:   e.Severity,
		Success:    e.Err == nil,
		Diff:       e.Diff,
		CreatedAt:  r.Now(),
	}

	actor, ok := ActorFrom(ctx)
	if e.Actor != nil {
		actor, ok = *e.Actor, true
	}
	if ok {
		entry.ActorID = actor.ID
		entry.ActorEmail = actor.Email
		entry.ActorRole = actor.Role
		entry.IsSystem = actor.System
	}
	if meta, ok := ctx.Value(requestKey).(requestMeta); ok {
		entry.IP = meta.IP
		entry.UserAgent = meta.UserAgent
	}

	if e.Err != nil {
		entry.ErrorMessage = e.Err.Error()
	}
	if entry.Severity == "" {
		entry.Severity = severityFor(e.Err)
	}
	return entry
}

// severityFor grades failures: caller mistakes are warnings, gateway and
// internal failures are errors.
func severityFor(err error) string {
	if err == nil {
		return models.SeverityInfo
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindUnauthorized, apperr.KindForbidden, apperr.KindNotFound, apperr.KindConflict:
		return models.SeverityWarning
	default:
		return models.SeverityError
	}
}

func (r *Recorder) List(ctx context.Context, f models.AuditFilter, limit, offset int) ([]models.AuditLogEntry, int, error) {
	var entries []models.AuditLogEntry
	q := r.DB.NewSelect().Model(&entries)
	applyFilter(q, f)
	total, err := q.Order("created_at DESC").Limit(limit).Offset(offset).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, total, nil
}

func applyFilter(q *bun.SelectQuery, f models.AuditFilter) {
	if f.Action != "" {
		q.Where("action = ?", f.Action)
	}
	if f.EntityType != "" {
		q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q.Where("entity_id = ?", f.EntityID)
	}
	if f.ActorID != "" {
		q.Where("actor_id = ?", f.ActorID)
	}
	if f.Severity != "" {
		q.Where("severity = ?", f.Severity)
	}
	if f.Success != nil {
		q.Where("success = ?", *f.Success)
	}
	if f.From != nil {
		q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q.Where("created_at <= ?", *f.To)
	}
}

func (r *Recorder) Stats(ctx context.Context, f models.AuditFilter) (*models.AuditStats, error) {
	var counts []struct {
		Severity string `bun:"severity"`
		Success  bool   `bun:"success"`
		Count    int    `bun:"count"`
	}
	q := r.DB.NewSelect().
		Model((*models.AuditLogEntry)(nil)).
		Column("severity", "success").
		ColumnExpr("COUNT(*) AS count")
	applyFilter(q, f)
	if err := q.Group("severity", "success").Scan(ctx, &counts); err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}

	stats := &models.AuditStats{TopActions: []models.ActionCount{}}
	for _, c := range counts {
		stats.Total += c.Count
		if !c.Success {
			stats.Failures += c.Count
		}
		switch c.Severity {
		case models.SeverityError:
			stats.Errors += c.Count
		case models.SeverityWarning:
			stats.Warnings += c.Count
		case models.SeverityCritical:
			stats.Critical += c.Count
		}
	}

	tq := r.DB.NewSelect().
		Model((*models.AuditLogEntry)(nil)).
		Column("action").
		ColumnExpr("COUNT(*) AS count")
	applyFilter(tq, f)
	err := tq.Group("action").
		OrderExpr("count DESC").
		Limit(5).
		Scan(ctx, &stats.TopActions)
	if err != nil {
		return nil, fmt.Errorf("top audit actions: %w", err)
	}
	return stats, nil
}
