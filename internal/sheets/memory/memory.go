package memory

import (
	"context"
	"sync"
	"time"

	"comissao/internal/core"
	"comissao/internal/sheets"
)

// Ledger keeps ledger rows in memory, grouped by year like the sheet layout.
type Ledger struct {
	mu   sync.Mutex
	loc  *time.Location
	rows map[int][]core.Service
}

var _ sheets.ServiceLedger = (*Ledger)(nil)

func New(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{loc: loc, rows: make(map[int][]core.Service)}
}

func (l *Ledger) Upsert(_ context.Context, s core.Service) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	year := sheets.YearOf(s, l.loc)
	rows := l.rows[year]
	for i, r := range rows {
		if r.ID != s.ID {
			continue
		}
		if r.Version > s.Version {
			return nil
		}
		rows[i] = s
		return nil
	}
	l.rows[year] = append(rows, s)
	return nil
}

func (l *Ledger) Remove(_ context.Context, s core.Service) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	year := sheets.YearOf(s, l.loc)
	rows := l.rows[year]
	for i, r := range rows {
		if r.ID == s.ID {
			l.rows[year] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (l *Ledger) ListMonth(_ context.Context, month core.MonthKey) ([]core.Service, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []core.Service
	for _, r := range l.rows[month.Year()] {
		if core.MonthKeyOf(r.CreatedAt, l.loc) == month {
			out = append(out, r)
		}
	}
	return out, nil
}

// Rows returns every row across all years, for assertions.
func (l *Ledger) Rows() []core.Service {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []core.Service
	for _, rows := range l.rows {
		out = append(out, rows...)
	}
	return out
}
