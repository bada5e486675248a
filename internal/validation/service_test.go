package validation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/testutil"
	ticketdb "ms-marketplace/internal/tickets/db"
	qr "ms-marketplace/internal/tickets/qr_genrator"
	tickets "ms-marketplace/internal/tickets/service"
	"ms-marketplace/internal/tickets/template"
	"ms-marketplace/internal/users"
	"ms-marketplace/internal/validation/db"
)

type recordingNotifier struct {
	mu       sync.Mutex
	checkIns []models.CheckIn
}

func (n *recordingNotifier) EmitCheckIn(_ string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.checkIns = append(n.checkIns, data.(models.CheckIn))
}

type fixture struct {
	db        *bun.DB
	svc       *ValidationService
	tickets   *tickets.TicketService
	qr        *qr.QRGenerator
	notifier  *recordingNotifier
	organizer *models.User
	validator *models.User
	event     *models.Event
	issued    []models.Ticket
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bdb := testutil.NewSQLiteDB(t)
	log := logger.NewNop()
	rec := audit.NewRecorder(bdb, log)
	qrGen := qr.NewQRGenerator("door-secret")

	organizer := testutil.SeedUser(t, bdb, models.RoleOrganizer)
	buyer := testutil.SeedUser(t, bdb, models.RoleBuyer)
	validator := testutil.SeedUser(t, bdb, models.RoleValidator)
	event, tiers := testutil.SeedEvent(t, bdb, organizer.ID, testutil.TierSpec{Name: "VIP", Price: 500000, Quantity: 50, MaxPerUser: 5})
	o, _ := testutil.SeedCompletedOrder(t, bdb, buyer.ID, tiers[0], 3)

	ticketSvc := tickets.NewTicketService(&ticketdb.DB{Bun: bdb}, qrGen, template.NewTicketPDFGenerator(""),
		rec, kafka.NopPublisher{}, "", log, 20)
	var issued []models.Ticket
	require.NoError(t, bdb.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		issued, err = ticketSvc.Issue(ctx, tx, o)
		return err
	}))

	notifier := &recordingNotifier{}
	svc := NewValidationService(&db.DB{Bun: bdb}, qrGen, &users.DB{Bun: bdb}, rec, notifier, log)
	f := &fixture{
		db:        bdb,
		svc:       svc,
		tickets:   ticketSvc,
		qr:        qrGen,
		notifier:  notifier,
		organizer: organizer,
		validator: validator,
		event:     event,
		issued:    issued,
		clock:     time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return f.clock }

	_, err := svc.AssignValidator(context.Background(), validator.ID, event.ID, organizer.ID, models.RoleOrganizer)
	require.NoError(t, err)
	return f
}

func (f *fixture) scan(raw string) (*models.ScanResult, error) {
	return f.svc.Scan(context.Background(), raw, f.event.ID, f.validator.ID, models.RoleValidator)
}

func TestScanThenRescanReportsOriginalTime(t *testing.T) {
	f := newFixture(t)
	tk := f.issued[0]

	first, err := f.scan(f.qr.Payload(tk.Code))
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, models.ScanValid, first.Status)
	assert.Equal(t, "VIP", first.Ticket.TierName)
	assert.NotEmpty(t, first.Ticket.HolderName)

	f.clock = f.clock.Add(10 * time.Minute)
	second, err := f.scan(f.qr.Payload(tk.Code))
	assert.ErrorIs(t, err, apperr.ErrAlreadyUsed)
	require.NotNil(t, second)
	assert.False(t, second.Success)
	assert.Equal(t, models.ScanAlreadyUsed, second.Status)
	require.NotNil(t, second.Ticket.UsedAt)
	assert.True(t, second.Ticket.UsedAt.Equal(time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)), second.Ticket.UsedAt)

	stored := new(models.Ticket)
	require.NoError(t, f.db.NewSelect().Model(stored).Where("id = ?", tk.ID).Scan(context.Background()))
	assert.Equal(t, models.TicketUsed, stored.Status)
	assert.Equal(t, f.validator.ID, stored.ValidatedBy)
}

func TestConcurrentScansAdmitOnce(t *testing.T) {
	f := newFixture(t)
	payload := f.qr.Payload(f.issued[1].Code)

	const scanners = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[string]int{}
	)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.scan(payload)
			if err != nil && !errors.Is(err, apperr.ErrAlreadyUsed) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			statuses[res.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, statuses[models.ScanValid])
	assert.Equal(t, scanners-1, statuses[models.ScanAlreadyUsed])
}

func TestScanWrongEventLeavesTicketValid(t *testing.T) {
	f := newFixture(t)
	other, _ := testutil.SeedEvent(t, f.db, f.organizer.ID, testutil.TierSpec{Name: "GA", Price: 1000, Quantity: 10, MaxPerUser: 2})

	res, err := f.svc.Scan(context.Background(), f.issued[0].Code, other.ID, f.organizer.ID, models.RoleOrganizer)
	assert.ErrorIs(t, err, apperr.ErrWrongEvent)
	assert.Equal(t, models.ScanWrongEvent, res.Status)

	stored := new(models.Ticket)
	require.NoError(t, f.db.NewSelect().Model(stored).Where("id = ?", f.issued[0].ID).Scan(context.Background()))
	assert.Equal(t, models.TicketValid, stored.Status)
	assert.Nil(t, stored.UsedAt)
}

func TestScanRejectsUnknownForgedAndVoid(t *testing.T) {
	f := newFixture(t)

	res, err := f.scan("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, models.ScanNotFound, res.Status)

	forged := qr.NewQRGenerator("someone-else").Payload(f.issued[0].Code)
	res, err = f.scan(forged)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, models.ScanNotFound, res.Status)

	_, err = f.tickets.Void(context.Background(), f.issued[2].ID, f.organizer.ID, models.RoleOrganizer, "chargeback")
	require.NoError(t, err)
	res, err = f.scan(f.issued[2].Code)
	assert.ErrorIs(t, err, apperr.ErrVoid)
	assert.Equal(t, models.ScanVoid, res.Status)

	// A bare code, as typed in by hand, still checks in.
	res, err = f.scan(f.issued[0].Code)
	require.NoError(t, err)
	assert.Equal(t, models.ScanValid, res.Status)
}

func TestScanRequiresAccessToEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stranger := testutil.SeedUser(t, f.db, models.RoleValidator)
	otherOrganizer := testutil.SeedUser(t, f.db, models.RoleOrganizer)

	_, err := f.svc.Scan(ctx, f.issued[0].Code, f.event.ID, stranger.ID, models.RoleValidator)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Scan(ctx, f.issued[0].Code, f.event.ID, otherOrganizer.ID, models.RoleOrganizer)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Scan(ctx, f.issued[0].Code, "missing-event", f.validator.ID, models.RoleValidator)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	res, err := f.svc.Scan(ctx, f.issued[0].Code, f.event.ID, f.organizer.ID, models.RoleOrganizer)
	require.NoError(t, err)
	assert.Equal(t, models.ScanValid, res.Status)
}

func TestEventStatsAndNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scan(f.issued[0].Code)
	require.NoError(t, err)
	_, err = f.tickets.Void(ctx, f.issued[1].ID, f.organizer.ID, models.RoleOrganizer, "duplicate")
	require.NoError(t, err)
	_, _ = f.scan(f.issued[0].Code)

	stats, err := f.svc.EventStats(ctx, f.event.ID, f.validator.ID, models.RoleValidator)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.CheckedIn)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Voided)
	assert.Equal(t, 50.0, stats.CheckInRate)

	require.Len(t, f.notifier.checkIns, 2)
	assert.Equal(t, models.ScanValid, f.notifier.checkIns[0].Status)
	assert.Equal(t, models.ScanAlreadyUsed, f.notifier.checkIns[1].Status)

	var entries []models.AuditLogEntry
	require.NoError(t, f.db.NewSelect().Model(&entries).Where("action = ?", "ticket.scan").Scan(ctx))
	require.Len(t, entries, 2)
	succeeded := 0
	for _, e := range entries {
		if e.Success {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestValidatorAssignments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := testutil.SeedUser(t, f.db, models.RoleBuyer)
	otherOrganizer := testutil.SeedUser(t, f.db, models.RoleOrganizer)

	_, err := f.svc.AssignValidator(ctx, buyer.ID, f.event.ID, f.organizer.ID, models.RoleOrganizer)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.AssignValidator(ctx, f.validator.ID, f.event.ID, otherOrganizer.ID, models.RoleOrganizer)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	// Re-assigning is a no-op.
	_, err = f.svc.AssignValidator(ctx, f.validator.ID, f.event.ID, f.organizer.ID, models.RoleOrganizer)
	require.NoError(t, err)

	list, err := f.svc.EventValidators(ctx, f.event.ID, f.organizer.ID, models.RoleOrganizer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, f.validator.Email, list[0].Email)

	events, err := f.svc.MyEvents(ctx, f.validator.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, f.event.ID, events[0].ID)

	require.NoError(t, f.svc.RemoveValidator(ctx, f.validator.ID, f.event.ID, f.organizer.ID, models.RoleOrganizer))
	err = f.svc.RemoveValidator(ctx, f.validator.ID, f.event.ID, f.organizer.ID, models.RoleOrganizer)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.scan(f.issued[0].Code)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
