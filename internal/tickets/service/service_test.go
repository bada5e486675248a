package tickets_test

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/testutil"
	"ms-marketplace/internal/tickets/db"
	qr "ms-marketplace/internal/tickets/qr_genrator"
	tickets "ms-marketplace/internal/tickets/service"
	"ms-marketplace/internal/tickets/template"
	"ms-marketplace/internal/utils"
)

type fixture struct {
	db        *bun.DB
	svc       *tickets.TicketService
	organizer *models.User
	buyer     *models.User
	order     *models.Order
}

func setup(t *testing.T, quantity int) *fixture {
	t.Helper()
	bdb := testutil.NewSQLiteDB(t)
	log := logger.NewNop()

	organizer := testutil.SeedUser(t, bdb, models.RoleOrganizer)
	buyer := testutil.SeedUser(t, bdb, models.RoleBuyer)
	_, tiers := testutil.SeedEvent(t, bdb, organizer.ID, testutil.TierSpec{Name: "VIP", Price: 500000, Quantity: 10, MaxPerUser: 5})
	o, _ := testutil.SeedCompletedOrder(t, bdb, buyer.ID, tiers[0], quantity)

	svc := tickets.NewTicketService(&db.DB{Bun: bdb}, qr.NewQRGenerator("test-secret"), template.NewTicketPDFGenerator("missing.ttf"),
		audit.NewRecorder(bdb, log), kafka.NopPublisher{}, "ticketing.tickets.voided", log, 20)
	return &fixture{db: bdb, svc: svc, organizer: organizer, buyer: buyer, order: o}
}

func (f *fixture) issue(t *testing.T) []models.Ticket {
	t.Helper()
	var issued []models.Ticket
	err := f.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		issued, err = f.svc.Issue(ctx, tx, f.order)
		return err
	})
	require.NoError(t, err)
	return issued
}

func TestIssueCreatesOneTicketPerUnit(t *testing.T) {
	f := setup(t, 3)
	issued := f.issue(t)

	require.Len(t, issued, 3)
	codes := map[string]bool{}
	for i, tk := range issued {
		assert.Equal(t, i+1, tk.Seq)
		assert.Equal(t, models.TicketValid, tk.Status)
		assert.Equal(t, "VIP", tk.TierName)
		assert.Equal(t, f.buyer.FullName, tk.HolderName)
		assert.Equal(t, int64(500000), tk.PriceAtPurchase)
		assert.Len(t, tk.Code, 32)
		codes[tk.Code] = true
	}
	assert.Len(t, codes, 3)
	assert.True(t, f.order.Issued)
}

func TestIssueIsIdempotentPerOrder(t *testing.T) {
	f := setup(t, 2)
	first := f.issue(t)
	second := f.issue(t)

	require.Len(t, second, 2)
	assert.Equal(t, first[0].ID, second[0].ID)

	stored, err := f.svc.TicketsForOrder(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestIssueRollsBackWithCallerTransaction(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()

	err := f.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := f.svc.Issue(ctx, tx, f.order)
		require.NoError(t, err)
		return apperr.ErrCapacityExceeded
	})
	require.Error(t, err)

	stored, err := f.svc.TicketsForOrder(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	reloaded := new(models.Order)
	require.NoError(t, f.db.NewSelect().Model(reloaded).Where("id = ?", f.order.ID).Scan(ctx))
	assert.False(t, reloaded.Issued)
}

func TestRepairTopsUpMissingTickets(t *testing.T) {
	f := setup(t, 3)
	ctx := context.Background()
	issued := f.issue(t)

	_, err := f.db.NewDelete().Model((*models.Ticket)(nil)).Where("id = ?", issued[1].ID).Exec(ctx)
	require.NoError(t, err)

	created, err := f.svc.Repair(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	stored, err := f.svc.TicketsForOrder(ctx, f.order.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, issued[0].ID, stored[0].ID)
	assert.Equal(t, 2, stored[1].Seq)

	created, err = f.svc.Repair(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestRepairRejectsIncompleteOrders(t *testing.T) {
	f := setup(t, 1)
	ctx := context.Background()
	_, err := f.db.NewUpdate().Model((*models.Order)(nil)).Set("status = ?", models.OrderFailed).Where("id = ?", f.order.ID).Exec(ctx)
	require.NoError(t, err)

	_, err = f.svc.Repair(ctx, f.order.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestMyTicketsAndOwnership(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()
	issued := f.issue(t)

	page, err := f.svc.MyTickets(ctx, f.buyer.ID, utils.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	views := page.Items.([]models.TicketView)
	assert.Equal(t, "Afrobeats Night", views[0].EventTitle)
	assert.Equal(t, "Eko Hall", views[0].VenueName)
	assert.NotEmpty(t, views[0].QRPayload)

	stranger := testutil.SeedUser(t, f.db, models.RoleBuyer)
	_, err = f.svc.GetTicket(ctx, issued[0].ID, stranger.ID, models.RoleBuyer)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	admin := testutil.SeedUser(t, f.db, models.RoleAdmin)
	v, err := f.svc.GetTicket(ctx, issued[0].ID, admin.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, issued[0].Code, v.Code)

	img, err := f.svc.QRCode(ctx, issued[0].ID, f.buyer.ID, models.RoleBuyer)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(img))
	assert.NoError(t, err)
}

func TestPDFTicketReportsMissingFont(t *testing.T) {
	f := setup(t, 1)
	issued := f.issue(t)

	_, err := f.svc.PDFTicket(context.Background(), issued[0].ID, f.buyer.ID, models.RoleBuyer)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestVoid(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()
	issued := f.issue(t)

	_, err := f.svc.Void(ctx, issued[0].ID, f.buyer.ID, models.RoleBuyer, "resale")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	v, err := f.svc.Void(ctx, issued[0].ID, f.organizer.ID, models.RoleOrganizer, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, models.TicketVoid, v.Status)
	assert.Equal(t, "chargeback", v.VoidReason)

	_, err = f.svc.Void(ctx, issued[0].ID, f.organizer.ID, models.RoleOrganizer, "again")
	assert.ErrorIs(t, err, apperr.ErrVoid)

	_, err = f.db.NewUpdate().Model((*models.Ticket)(nil)).Set("status = ?", models.TicketUsed).Where("id = ?", issued[1].ID).Exec(ctx)
	require.NoError(t, err)
	_, err = f.svc.Void(ctx, issued[1].ID, "admin-1", models.RoleAdmin, "late")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	var entries []models.AuditLogEntry
	require.NoError(t, f.db.NewSelect().Model(&entries).Where("action = ?", "ticket.void").Scan(ctx))
	assert.Len(t, entries, 4)
}
