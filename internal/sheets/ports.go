package sheets

import (
	"context"
	"strings"
	"time"

	"comissao/internal/core"
)

// ServiceLedger mirrors service records into a spreadsheet, one row per
// record, one sheet per year of creation.
type ServiceLedger interface {
	// Upsert writes s into its row, appending one when the ID is new. A row
	// already holding a higher version is left as is.
	Upsert(ctx context.Context, s core.Service) error
	// Remove clears the row of s. Missing rows are not an error.
	Remove(ctx context.Context, s core.Service) error
	// ListMonth returns the rows whose month column equals month.
	ListMonth(ctx context.Context, month core.MonthKey) ([]core.Service, error)
}

// DefaultSheetBase is the sheet name used when none is configured; the year
// is prefixed to it.
const DefaultSheetBase = "Serviços"

// Header is the first row of every ledger sheet.
var Header = []string{"ID", "Mês", "Data", "Título", "Tipo", "Valor", "Usuário", "ID Usuário", "Incluído", "Override", "Versão"}

// DateLayout is the layout of the Data column, in the business time zone.
const DateLayout = "02/01/2006 15:04"

// FormatFlag renders booleans the way the ledger stores them.
func FormatFlag(b bool) string {
	if b {
		return "SIM"
	}
	return "NÃO"
}

// ParseFlag reads a flag cell; anything but SIM/TRUE is false.
func ParseFlag(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SIM", "TRUE", "1":
		return true
	}
	return false
}

// YearOf returns the sheet year of s in loc.
func YearOf(s core.Service, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	return s.CreatedAt.In(loc).Year()
}
