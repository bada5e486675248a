// Package testutil builds throwaway SQLite databases, miniredis instances and
// seed data for package tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-marketplace/internal/database"
	"ms-marketplace/internal/models"
)

// NewSQLiteDB returns an in-memory database with the full schema. The pool is
// capped at one connection so every goroutine sees the same in-memory file.
func NewSQLiteDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), db))

	t.Cleanup(func() { db.Close() })
	return db
}

func NewRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func SeedUser(t *testing.T, db bun.IDB, role string) *models.User {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	u := &models.User{
		ID:           id,
		Email:        fmt.Sprintf("%s@example.com", id[:8]),
		PasswordHash: "x",
		FullName:     "User " + id[:4],
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if role == models.RoleOrganizer {
		u.OrganizerProfile = models.OrganizerProfile{BusinessName: "Acme Live", PlatformStatus: models.PlatformApproved}
	}
	_, err := db.NewInsert().Model(u).Exec(context.Background())
	require.NoError(t, err)
	return u
}

// TierSpec describes one tier to seed.
type TierSpec struct {
	Name       string
	Price      int64
	Quantity   int
	MaxPerUser int
}

// SeedEvent inserts a published event one week out with the given tiers.
func SeedEvent(t *testing.T, db bun.IDB, organizerID string, tiers ...TierSpec) (*models.Event, []*models.TicketTier) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	ev := &models.Event{
		ID:          uuid.NewString(),
		OrganizerID: organizerID,
		Title:       "Afrobeats Night",
		Category:    "music",
		Venue:       models.Venue{Name: "Eko Hall", City: "Lagos", Country: "NG"},
		EventDate:   now.Add(7 * 24 * time.Hour),
		Currency:    "ngn",
		Status:      models.EventPublished,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := db.NewInsert().Model(ev).Exec(ctx)
	require.NoError(t, err)

	var out []*models.TicketTier
	for _, ts := range tiers {
		tier := &models.TicketTier{
			ID:         uuid.NewString(),
			EventID:    ev.ID,
			Name:       ts.Name,
			Price:      ts.Price,
			Quantity:   ts.Quantity,
			MaxPerUser: ts.MaxPerUser,
			CreatedAt:  now,
		}
		_, err := db.NewInsert().Model(tier).Exec(ctx)
		require.NoError(t, err)
		out = append(out, tier)
	}
	ev.Tiers = out
	return ev, out
}

// SeedCompletedOrder inserts a completed order with its settled transaction,
// bumping tier and event counters the way checkout would. No tickets are
// issued.
func SeedCompletedOrder(t *testing.T, db bun.IDB, buyerID string, tier *models.TicketTier, quantity int) (*models.Order, *models.Transaction) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	o := &models.Order{
		ID:                   uuid.NewString(),
		BuyerID:              buyerID,
		EventID:              tier.EventID,
		TierID:               tier.ID,
		Quantity:             quantity,
		UnitPrice:            tier.Price,
		Amount:               tier.Price * int64(quantity),
		Currency:             "ngn",
		Status:               models.OrderCompleted,
		Reference:            "REF-" + uuid.NewString(),
		MaxRetries:           3,
		ReservationState:     models.ReservationCommitted,
		ReservationExpiresAt: now,
		CompletedAt:          &now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	_, err := db.NewInsert().Model(o).Exec(ctx)
	require.NoError(t, err)

	txn := &models.Transaction{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		BuyerID:     buyerID,
		EventID:     o.EventID,
		Reference:   o.Reference,
		Gateway:     "mock",
		Amount:      o.Amount,
		Currency:    "ngn",
		Status:      models.TxCompleted,
		MaxRetries:  3,
		CompletedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = db.NewInsert().Model(txn).Exec(ctx)
	require.NoError(t, err)

	_, err = db.NewUpdate().Model((*models.TicketTier)(nil)).
		Set("sold = sold + ?", quantity).
		Where("id = ?", tier.ID).
		Exec(ctx)
	require.NoError(t, err)

	_, err = db.NewUpdate().Model((*models.Event)(nil)).
		Set("total_revenue = total_revenue + ?", o.Amount).
		Set("tickets_sold = tickets_sold + ?", quantity).
		Where("id = ?", o.EventID).
		Exec(ctx)
	require.NoError(t, err)

	return o, txn
}

// Tier reloads a tier's counters.
func Tier(t *testing.T, db bun.IDB, id string) *models.TicketTier {
	t.Helper()
	tier := new(models.TicketTier)
	require.NoError(t, db.NewSelect().Model(tier).Where("id = ?", id).Scan(context.Background()))
	return tier
}
