package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-marketplace/internal/database"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/order/db"
	"ms-marketplace/internal/testutil"
)

// TestReserveTierPostgres runs the reservation CAS against real Postgres row
// locking with a full connection pool.
func TestReserveTierPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}

	ctx := context.Background()
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "marketplace",
				"POSTGRES_PASSWORD": "marketplace",
				"POSTGRES_DB":       "marketplace",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}
	defer pg.Terminate(ctx)

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://marketplace:marketplace@%s:%s/marketplace?sslmode=disable", host, port.Port())
	sqldb, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(20)
	bdb := bun.NewDB(sqldb, pgdialect.New())
	defer bdb.Close()

	require.NoError(t, database.CreateSchema(ctx, bdb))
	organizer := testutil.SeedUser(t, bdb, models.RoleOrganizer)
	_, tiers := testutil.SeedEvent(t, bdb, organizer.ID, testutil.TierSpec{Name: "GA", Price: 1000, Quantity: 7})

	d := &db.DB{Bun: bdb}
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.RunInTx(ctx, nil, func(ctx context.Context, tx *db.DB) error {
				ok, err := tx.ReserveTier(ctx, tiers[0].ID, 1)
				if err != nil || !ok {
					return err
				}
				mu.Lock()
				won++
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, won)
	got, err := d.GetTier(ctx, tiers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Reserved)
}
