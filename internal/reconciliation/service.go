// Package reconciliation cross-checks derived event totals against orders,
// tickets and transactions, and repairs them on request.
package reconciliation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/metrics"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/reconciliation/db"
	"ms-marketplace/internal/utils"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// TicketRepairer issues the tickets a completed order is missing.
type TicketRepairer interface {
	Repair(ctx context.Context, orderID string) (int, error)
}

type Options struct {
	AutoFix  bool
	EventIDs []string
}

type ReconciliationService struct {
	DB          *db.DB
	Tickets     TicketRepairer
	Audit       *audit.Recorder
	Logger      *logger.Logger
	Concurrency int
	now         func() time.Time
}

func NewReconciliationService(d *db.DB, repairer TicketRepairer, rec *audit.Recorder, log *logger.Logger, concurrency int) *ReconciliationService {
	return &ReconciliationService{
		DB:          d,
		Tickets:     repairer,
		Audit:       rec,
		Logger:      log,
		Concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type eventResult struct {
	mismatches    []models.Mismatch
	fixed         bool
	ticketsIssued int
}

// ---------------- RUN ----------------

// Run checks every event, or only opts.EventIDs, with bounded parallelism.
// Each event is read in its own snapshot so the check is safe next to live
// traffic.
func (s *ReconciliationService) Run(ctx context.Context, opts Options) (*models.ReconciliationReport, error) {
	ctx = withSystemActor(ctx)
	started := time.Now()
	report := &models.ReconciliationReport{StartedAt: s.now(), AutoFix: opts.AutoFix, Mismatches: []models.Mismatch{}}

	err := s.run(ctx, opts, report)
	elapsed := time.Since(started)
	report.DurationMs = elapsed.Milliseconds()
	report.Duration = elapsed.Round(time.Millisecond).String()
	metrics.ReconciliationRun(elapsed)

	s.Audit.Record(ctx, audit.Entry{
		Action:     "reconciliation.run",
		EntityType: "system",
		EntityID:   "reconciliation",
		Err:        err,
		Diff: map[string]interface{}{
			"autoFix":       opts.AutoFix,
			"eventsChecked": report.EventsChecked,
			"mismatches":    len(report.Mismatches),
			"eventsFixed":   report.EventsFixed,
			"ticketsIssued": report.TicketsIssued,
		},
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Internal(err)
		}
		return nil, err
	}

	s.Logger.Info("RECONCILE", fmt.Sprintf("Checked %d events in %s: %d mismatches, %d events fixed",
		report.EventsChecked, report.Duration, len(report.Mismatches), report.EventsFixed))
	return report, nil
}

func (s *ReconciliationService) run(ctx context.Context, opts Options, report *models.ReconciliationReport) error {
	ids := opts.EventIDs
	if len(ids) == 0 {
		var err error
		if ids, err = s.DB.EventIDs(ctx); err != nil {
			return err
		}
	}

	results := make([]eventResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.Concurrency))
	for i, id := range ids {
		g.Go(func() error {
			r, err := s.reconcileEvent(gctx, id, opts.AutoFix)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	report.EventsChecked = len(ids)
	for _, r := range results {
		report.Mismatches = append(report.Mismatches, r.mismatches...)
		report.TicketsIssued += r.ticketsIssued
		if r.fixed {
			report.EventsFixed++
		}
	}
	sortMismatches(report.Mismatches)
	return nil
}

func (s *ReconciliationService) reconcileEvent(ctx context.Context, eventID string, autoFix bool) (eventResult, error) {
	snap, err := s.Snapshot(ctx, eventID)
	if err != nil {
		return eventResult{}, err
	}
	res := eventResult{mismatches: Detect(snap)}
	for _, m := range res.mismatches {
		metrics.ReconciliationMismatch(m.Type, false)
	}
	if !autoFix || len(res.mismatches) == 0 {
		return res, nil
	}

	issued, err := s.apply(ctx, snap, res.mismatches)
	if err != nil {
		return res, err
	}
	res.ticketsIssued = issued
	for _, m := range res.mismatches {
		if m.Fixed {
			res.fixed = true
			metrics.ReconciliationMismatch(m.Type, true)
		}
	}
	return res, nil
}

// Snapshot reads one event's stored and recomputed totals in a single
// consistent read.
func (s *ReconciliationService) Snapshot(ctx context.Context, eventID string) (*models.EventSnapshot, error) {
	snap := &models.EventSnapshot{EventID: eventID}
	err := s.DB.InSnapshot(ctx, func(ctx context.Context, tx *db.DB) error {
		snap.TakenAt = s.now()
		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		snap.Title = ev.Title
		snap.StoredRevenue = ev.TotalRevenue
		snap.StoredTicketsSold = ev.TicketsSold
		snap.StatsVersion = ev.StatsVersion

		if snap.ExpectedTickets, err = tx.ExpectedTickets(ctx, eventID); err != nil {
			return err
		}
		if snap.IssuedTickets, err = tx.IssuedTickets(ctx, eventID); err != nil {
			return err
		}
		snap.ExpectedRevenue, err = tx.NetRevenue(ctx, eventID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Detect lists every way snap's stored figures disagree with the recomputed
// ones.
func Detect(snap *models.EventSnapshot) []models.Mismatch {
	var out []models.Mismatch
	add := func(kind, severity, desc string, expected, actual int64) {
		out = append(out, models.Mismatch{
			Type:        kind,
			EntityType:  "event",
			EntityID:    snap.EventID,
			Entity:      snap.Title,
			Description: desc,
			Severity:    severity,
			Expected:    expected,
			Actual:      actual,
			Discrepancy: expected - actual,
		})
	}

	if snap.IssuedTickets != snap.ExpectedTickets {
		severity := SeverityHigh
		desc := fmt.Sprintf("%d tickets paid for but only %d issued", snap.ExpectedTickets, snap.IssuedTickets)
		if snap.IssuedTickets > snap.ExpectedTickets {
			severity = SeverityMedium
			desc = fmt.Sprintf("%d tickets issued for %d paid", snap.IssuedTickets, snap.ExpectedTickets)
		}
		add(models.MismatchTicketCount, severity, desc, snap.ExpectedTickets, snap.IssuedTickets)
	}
	if snap.StoredRevenue != snap.ExpectedRevenue {
		add(models.MismatchRevenue, SeverityHigh,
			fmt.Sprintf("stored revenue %s, settled payments net %s",
				utils.MinorToMajor(snap.StoredRevenue).StringFixed(2), utils.MinorToMajor(snap.ExpectedRevenue).StringFixed(2)),
			snap.ExpectedRevenue, snap.StoredRevenue)
	}
	if snap.StoredTicketsSold != snap.ExpectedTickets {
		add(models.MismatchTicketsSold, SeverityLow,
			fmt.Sprintf("ticketsSold is %d, completed orders hold %d", snap.StoredTicketsSold, snap.ExpectedTickets),
			snap.ExpectedTickets, snap.StoredTicketsSold)
	}
	return out
}

// ---------------- FIX ----------------

// apply corrects mismatches in place and returns the number of tickets
// issued. Every attempted correction is audited.
func (s *ReconciliationService) apply(ctx context.Context, snap *models.EventSnapshot, mismatches []models.Mismatch) (int, error) {
	issued := 0
	statsWritten := false
	for i := range mismatches {
		m := &mismatches[i]
		var err error
		switch m.Type {
		case models.MismatchTicketCount:
			var n int
			n, err = s.repairTickets(ctx, snap, m)
			issued += n
		case models.MismatchRevenue, models.MismatchTicketsSold:
			if !statsWritten {
				statsWritten = true
				err = s.writeStats(ctx, snap, m)
			}
			for j := range mismatches {
				if mismatches[j].Type == models.MismatchRevenue || mismatches[j].Type == models.MismatchTicketsSold {
					mismatches[j].Fixed, mismatches[j].FixNote = m.Fixed, m.FixNote
				}
			}
		}

		s.Audit.Record(ctx, audit.Entry{
			Action:     "reconciliation.fix",
			EntityType: "event",
			EntityID:   snap.EventID,
			EntityName: snap.Title,
			Err:        err,
			Diff: map[string]interface{}{
				"type":     m.Type,
				"expected": m.Expected,
				"actual":   m.Actual,
				"fixed":    m.Fixed,
				"note":     m.FixNote,
			},
		})
		if err != nil {
			return issued, err
		}
		s.Logger.LogReconcile(snap.EventID, fmt.Sprintf("%s: %s (fixed=%t)", m.Type, m.FixNote, m.Fixed))
	}
	return issued, nil
}

func (s *ReconciliationService) repairTickets(ctx context.Context, snap *models.EventSnapshot, m *models.Mismatch) (int, error) {
	if snap.IssuedTickets > snap.ExpectedTickets {
		m.FixNote = "surplus tickets need manual review"
		return 0, nil
	}
	orders, err := s.DB.OrdersMissingTickets(ctx, snap.EventID)
	if err != nil {
		return 0, err
	}
	issued := 0
	for _, orderID := range orders {
		n, err := s.Tickets.Repair(ctx, orderID)
		if err != nil {
			return issued, fmt.Errorf("repair order %s: %w", orderID, err)
		}
		issued += n
	}
	m.Fixed = issued > 0
	m.FixNote = fmt.Sprintf("issued %d missing tickets across %d orders", issued, len(orders))
	return issued, nil
}

func (s *ReconciliationService) writeStats(ctx context.Context, snap *models.EventSnapshot, m *models.Mismatch) error {
	ok, err := s.DB.WriteEventStats(ctx, snap.EventID, snap.ExpectedRevenue, snap.ExpectedTickets, snap.StatsVersion, snap.TakenAt)
	if err != nil {
		return err
	}
	if !ok {
		m.FixNote = "event changed since the snapshot, left for the next run"
		return nil
	}
	m.Fixed = true
	m.FixNote = fmt.Sprintf("stored revenue %d and ticketsSold %d", snap.ExpectedRevenue, snap.ExpectedTickets)
	return nil
}

// Fix corrects one mismatch reported for an event.
func (s *ReconciliationService) Fix(ctx context.Context, kind, eventID string) (*models.FixResult, error) {
	ctx = withSystemActor(ctx)
	snap, err := s.Snapshot(ctx, eventID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Internal(err)
		}
		return nil, err
	}

	var target []models.Mismatch
	for _, m := range Detect(snap) {
		if m.Type == kind {
			target = append(target, m)
		}
	}
	if len(target) == 0 {
		return &models.FixResult{Message: fmt.Sprintf("No %s mismatch on %s, nothing to fix", kind, snap.Title)}, nil
	}

	if _, err := s.apply(ctx, snap, target); err != nil {
		return nil, apperr.Internal(err)
	}
	m := target[0]
	metrics.ReconciliationMismatch(m.Type, m.Fixed)
	msg := fmt.Sprintf("%s on %s: %s", m.Type, snap.Title, m.FixNote)
	return &models.FixResult{Fixed: m.Fixed, Message: msg, Mismatch: &m}, nil
}

// ---------------- READS ----------------

// Mismatches runs a read-only check of every event.
func (s *ReconciliationService) Mismatches(ctx context.Context) ([]models.Mismatch, error) {
	ids, err := s.DB.EventIDs(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	out := []models.Mismatch{}
	for _, id := range ids {
		snap, err := s.Snapshot(ctx, id)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, Detect(snap)...)
	}
	sortMismatches(out)
	return out, nil
}

func (s *ReconciliationService) Summary(ctx context.Context) (*models.ReconciliationSummary, error) {
	var t *db.Totals
	err := s.DB.InSnapshot(ctx, func(ctx context.Context, tx *db.DB) error {
		var err error
		t, err = tx.Totals(ctx)
		return err
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	sum := &models.ReconciliationSummary{GeneratedAt: s.now()}
	sum.Orders.Total = t.CompletedOrders
	sum.Orders.Revenue = t.OrderRevenue
	sum.Orders.TicketsExpected = t.ExpectedTickets

	sum.Tickets.Actual = t.IssuedTickets
	sum.Tickets.Discrepancy = t.IssuedTickets - t.ExpectedTickets
	sum.Tickets.IsHealthy = sum.Tickets.Discrepancy == 0 && t.StoredTicketsSold == t.ExpectedTickets

	sum.Transactions.Total = t.SettledTxns
	sum.Transactions.Net = t.NetRevenue
	sum.Transactions.Orphaned = t.OrphanedTxns
	sum.Transactions.Discrepancy = t.NetRevenue - t.StoredRevenue
	sum.Transactions.IsHealthy = t.OrphanedTxns == 0

	sum.Health.TicketsHealthy = sum.Tickets.IsHealthy
	sum.Health.RevenueHealthy = sum.Transactions.Discrepancy == 0
	sum.Health.TransactionsHealthy = sum.Transactions.IsHealthy
	return sum, nil
}

// ---------------- SCHEDULER ----------------

// RunScheduler reconciles every interval until ctx is cancelled.
func (s *ReconciliationService) RunScheduler(ctx context.Context, interval time.Duration, autoFix bool) {
	if interval <= 0 {
		s.Logger.Info("RECONCILE", "Scheduled reconciliation disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Logger.Info("RECONCILE", fmt.Sprintf("Scheduled reconciliation every %s (autoFix=%t)", interval, autoFix))
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("RECONCILE", "Reconciliation scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx, Options{AutoFix: autoFix}); err != nil {
				s.Logger.Error("RECONCILE", fmt.Sprintf("Scheduled run failed: %v", err))
			}
		}
	}
}

func sortMismatches(ms []models.Mismatch) {
	rank := map[string]int{SeverityHigh: 0, SeverityMedium: 1, SeverityLow: 2}
	sort.SliceStable(ms, func(i, j int) bool {
		if rank[ms[i].Severity] != rank[ms[j].Severity] {
			return rank[ms[i].Severity] < rank[ms[j].Severity]
		}
		if ms[i].EntityID != ms[j].EntityID {
			return ms[i].EntityID < ms[j].EntityID
		}
		return ms[i].Type < ms[j].Type
	})
}

func withSystemActor(ctx context.Context) context.Context {
	if _, ok := audit.ActorFrom(ctx); ok {
		return ctx
	}
	return audit.WithActor(ctx, audit.System("reconciler"))
}
