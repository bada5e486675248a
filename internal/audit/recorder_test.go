package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/testutil"
)

func TestRecordCapturesActorAndFailure(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	rec := audit.NewRecorder(db, logger.NewNop())

	ctx := audit.WithActor(context.Background(), audit.Actor{ID: "u1", Email: "a@b.c", Role: models.RoleAdmin})
	rec.Record(ctx, audit.Entry{
		Action:     "order.create",
		EntityType: "order",
		EntityID:   "o1",
		Err:        apperr.ErrCapacityExceeded,
	})

	entries, total, err := rec.List(context.Background(), models.AuditFilter{EntityID: "o1"}, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	e := entries[0]
	assert.Equal(t, "u1", e.ActorID)
	assert.Equal(t, "a@b.c", e.ActorEmail)
	assert.False(t, e.Success)
	assert.Equal(t, models.SeverityWarning, e.Severity)
	assert.Contains(t, e.ErrorMessage, "CAPACITY_EXCEEDED")
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	rec := audit.NewRecorder(db, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Write(ctx, audit.Entry{Action: "ticket.scan", EntityType: "ticket", EntityID: "t1"}))

	_, total, err := rec.List(context.Background(), models.AuditFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSystemActorAndDiff(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	rec := audit.NewRecorder(db, logger.NewNop())

	sys := audit.System("reconciliation")
	rec.Record(context.Background(), audit.Entry{
		Actor:      &sys,
		Action:     "reconciliation.fix",
		EntityType: "event",
		EntityID:   "e1",
		Diff:       map[string]interface{}{"ticketsIssued": 1},
	})

	entries, _, err := rec.List(context.Background(), models.AuditFilter{Action: "reconciliation.fix"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsSystem)
	assert.EqualValues(t, 1, entries[0].Diff["ticketsIssued"])
}

func TestStats(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	rec := audit.NewRecorder(db, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec.Record(ctx, audit.Entry{Action: "ticket.scan", EntityType: "ticket"})
	}
	rec.Record(ctx, audit.Entry{Action: "order.confirm", EntityType: "order", Err: errors.New("db down")})
	rec.Record(ctx, audit.Entry{Action: "order.refund", EntityType: "transaction", Severity: models.SeverityCritical, Err: errors.New("gateway refund failed")})

	stats, err := rec.Stats(ctx, models.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Critical)
	assert.Equal(t, 2, stats.Failures)
	require.NotEmpty(t, stats.TopActions)
	assert.Equal(t, "ticket.scan", stats.TopActions[0].Action)
	assert.Equal(t, 3, stats.TopActions[0].Count)

	since := time.Now().UTC().Add(time.Hour)
	stats, err = rec.Stats(ctx, models.AuditFilter{From: &since})
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}
