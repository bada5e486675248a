package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// AuditLogEntry is append-only. No code path updates or deletes rows.
type AuditLogEntry struct {
	bun.BaseModel `bun:"table:audit_logs"`

	ID           string                 `bun:"id,pk" json:"id"`
	ActorID      string                 `bun:"actor_id" json:"actorId,omitempty"`
	ActorEmail   string                 `bun:"actor_email" json:"actorEmail,omitempty"`
	ActorRole    string                 `bun:"actor_role" json:"actorRole,omitempty"`
	IsSystem     bool                   `bun:"is_system,notnull" json:"isSystem"`
	Action       string                 `bun:"action,notnull" json:"action"`
	EntityType   string                 `bun:"entity_type,notnull" json:"entityType"`
	EntityID     string                 `bun:"entity_id" json:"entityId"`
	EntityName   string                 `bun:"entity_name" json:"entityName,omitempty"`
	Severity     string                 `bun:"severity,notnull" json:"severity"`
	Success      bool                   `bun:"success,notnull" json:"success"`
	ErrorMessage string                 `bun:"error_message" json:"errorMessage,omitempty"`
	Diff         map[string]interface{} `bun:"diff,type:jsonb" json:"diff,omitempty"`
	IP           string                 `bun:"ip" json:"ip,omitempty"`
	UserAgent    string                 `bun:"user_agent" json:"userAgent,omitempty"`
	CreatedAt    time.Time              `bun:"created_at,notnull" json:"createdAt"`
}

type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
	ActorID    string
	Severity   string
	Success    *bool
	From       *time.Time
	To         *time.Time
}

type ActionCount struct {
	Action string `bun:"action" json:"action"`
	Count  int    `bun:"count" json:"count"`
}

type AuditStats struct {
	Total      int           `json:"total"`
	Errors     int           `json:"errors"`
	Warnings   int           `json:"warnings"`
	Critical   int           `json:"critical"`
	Failures   int           `json:"failures"`
	TopActions []ActionCount `json:"topActions"`
}
