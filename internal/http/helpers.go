package http

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"comissao/internal/core"
)

var monthNames = [...]string{
	"Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

// formatBRL formats cents as Brazilian reais (e.g. "R$ 1.234,56").
func formatBRL(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	reais := strconv.FormatInt(cents/100, 10)
	var b strings.Builder
	for i, d := range reais {
		if i > 0 && (len(reais)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	s := "R$ " + b.String() + "," + fmt.Sprintf("%02d", cents%100)
	if neg {
		return "-" + s
	}
	return s
}

// formatDateTime renders t as "15/03/2024 09:30" in loc.
func formatDateTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format("02/01/2006 15:04")
}

// monthLabel renders "2024-03" as "Março de 2024". Malformed keys are returned as is.
func monthLabel(k core.MonthKey) string {
	m := k.Month()
	if m < 1 || m > 12 {
		return string(k)
	}
	return monthNames[m-1] + " de " + strconv.Itoa(k.Year())
}

// sanitizeInput removes control characters except tab and newlines, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// parseFlag reads an HTML checkbox or JSON boolean.
func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes", "sim":
		return true
	}
	return false
}

// parseVersion reads the optimistic concurrency token sent with admin actions.
func parseVersion(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v < 0 {
		return 0, &core.ValidationError{Field: "version", Message: "versão inválida"}
	}
	return v, nil
}
