package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"comissao/internal/amqp"
	"comissao/internal/core"
	"comissao/internal/log"
	"comissao/internal/metrics"
	"comissao/internal/sheets"
	"comissao/internal/store"
)

// Source is the read side of the service store.
type Source interface {
	Select(ctx context.Context, f store.Filter) ([]core.Service, error)
}

const defaultReconcileMonths = 2

// Config tunes an ExportWorker. Months is how many months, counting back
// from the current one, each reconciliation pass covers.
type Config struct {
	Location *time.Location
	Clock    core.Clock
	Months   int
}

// ExportWorker mirrors service events into the spreadsheet ledger and
// periodically repairs rows the event stream missed.
type ExportWorker struct {
	ledger  sheets.ServiceLedger
	source  Source
	metrics *metrics.Metrics
	loc     *time.Location
	clock   core.Clock
	months  int
}

func NewExportWorker(ledger sheets.ServiceLedger, source Source, m *metrics.Metrics, cfg Config) *ExportWorker {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	if cfg.Months <= 0 {
		cfg.Months = defaultReconcileMonths
	}
	return &ExportWorker{ledger: ledger, source: source, metrics: m, loc: cfg.Location, clock: cfg.Clock, months: cfg.Months}
}

// HandleEvent applies one event to the ledger. A returned error makes the
// consumer requeue the message.
func (w *ExportWorker) HandleEvent(ctx context.Context, msg *amqp.ServiceEventMessage) error {
	svc := msg.ToService()

	var err error
	switch msg.Event {
	case amqp.EventCreated, amqp.EventAuthorized, amqp.EventRevoked:
		err = w.ledger.Upsert(ctx, svc)
	case amqp.EventDeleted:
		err = w.ledger.Remove(ctx, svc)
	default:
		err = fmt.Errorf("unknown service event %q", msg.Event)
	}
	w.metrics.SheetExport(string(msg.Event), err)

	if err != nil {
		slog.ErrorContext(ctx, "Failed to export service event",
			log.FieldComponent, log.ComponentWorker,
			log.FieldServiceID, msg.ID,
			log.FieldEvent, string(msg.Event),
			log.FieldError, err)
		return fmt.Errorf("export %s %s: %w", msg.Event, msg.ID, err)
	}

	slog.InfoContext(ctx, "Exported service event",
		log.FieldComponent, log.ComponentWorker,
		log.FieldServiceID, msg.ID,
		log.FieldEvent, string(msg.Event),
		log.FieldVersion, msg.Version)
	return nil
}

// ReconcileReport counts the ledger writes one reconciliation made.
type ReconcileReport struct {
	Month   core.MonthKey
	Added   int
	Updated int
	Removed int
}

// Reconcile makes the ledger rows of month match the store: missing rows
// are appended, older versions rewritten and rows of deleted records cleared.
func (w *ExportWorker) Reconcile(ctx context.Context, month core.MonthKey) (ReconcileReport, error) {
	report := ReconcileReport{Month: month}

	var stored, ledgered []core.Service
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := w.source.Select(gctx, store.Filter{})
		if err != nil {
			return fmt.Errorf("read store: %w", err)
		}
		for _, s := range rows {
			if core.MonthKeyOf(s.CreatedAt, w.loc) == month {
				stored = append(stored, s)
			}
		}
		return nil
	})
	g.Go(func() error {
		rows, err := w.ledger.ListMonth(gctx, month)
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}
		ledgered = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return report, err
	}

	inLedger := make(map[string]int64, len(ledgered))
	for _, s := range ledgered {
		inLedger[s.ID] = s.Version
	}
	inStore := make(map[string]bool, len(stored))

	for _, s := range stored {
		inStore[s.ID] = true
		version, ok := inLedger[s.ID]
		if ok && version >= s.Version {
			continue
		}
		if err := w.ledger.Upsert(ctx, s); err != nil {
			return report, fmt.Errorf("upsert %s: %w", s.ID, err)
		}
		if ok {
			report.Updated++
		} else {
			report.Added++
		}
	}
	for _, s := range ledgered {
		if inStore[s.ID] {
			continue
		}
		if err := w.ledger.Remove(ctx, s); err != nil {
			return report, fmt.Errorf("remove %s: %w", s.ID, err)
		}
		report.Removed++
	}

	slog.InfoContext(ctx, "Ledger reconciled",
		log.FieldComponent, log.ComponentWorker,
		log.FieldOperation, log.OpReconcile,
		log.FieldMonthKey, string(month),
		"added", report.Added,
		"updated", report.Updated,
		"removed", report.Removed)
	return report, nil
}

// RecentMonths lists the months a reconciliation pass covers, newest first.
func (w *ExportWorker) RecentMonths() []core.MonthKey {
	months := make([]core.MonthKey, 0, w.months)
	month := core.MonthKeyOf(w.clock.Now(), w.loc)
	for i := 0; i < w.months; i++ {
		months = append(months, month)
		month = month.Prev()
	}
	return months
}

// ReconcileRecent reconciles every month in RecentMonths. A failed month is
// logged and does not stop the older ones; the first error is returned.
func (w *ExportWorker) ReconcileRecent(ctx context.Context) ([]ReconcileReport, error) {
	var (
		reports  []ReconcileReport
		firstErr error
	)
	for _, month := range w.RecentMonths() {
		report, err := w.Reconcile(ctx, month)
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			slog.ErrorContext(ctx, "Ledger reconciliation failed",
				log.FieldComponent, log.ComponentWorker,
				log.FieldMonthKey, string(month),
				log.FieldError, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("reconcile %s: %w", month, err)
			}
			continue
		}
		reports = append(reports, report)
	}
	return reports, firstErr
}

// RunReconciler reconciles the recent months immediately and then every
// interval until ctx ends. Failures are retried on the next tick.
func (w *ExportWorker) RunReconciler(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, _ = w.ReconcileRecent(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
