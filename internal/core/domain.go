package core

import (
	"fmt"
	"strings"
	"time"
)

// ServiceType identifies the kind of lab work a record bills for.
type ServiceType string

const (
	Assembly       ServiceType = "ASSEMBLY"
	Acrylization   ServiceType = "ACRYLIZATION"
	Bar            ServiceType = "BAR"
	WaxPlan        ServiceType = "WAX_PLAN"
	Prep           ServiceType = "PREP"
	SecondAssembly ServiceType = "SECOND_ASSEMBLY"
)

// ServiceTypes lists every known type in display order.
var ServiceTypes = []ServiceType{Assembly, Acrylization, Bar, WaxPlan, Prep, SecondAssembly}

var serviceTypeLabels = map[ServiceType]string{
	Assembly:       "Montagem",
	Acrylization:   "Acrilização",
	Bar:            "Barra",
	WaxPlan:        "Plano de Cera",
	Prep:           "Preparo",
	SecondAssembly: "Segunda Montagem",
}

// Label returns the pt-BR display name of the type.
func (t ServiceType) Label() string {
	if l, ok := serviceTypeLabels[t]; ok {
		return l
	}
	return string(t)
}

// Valid reports whether t is one of the known service types.
func (t ServiceType) Valid() bool {
	_, ok := serviceTypeLabels[t]
	return ok
}

// ParseServiceType normalizes s and returns the matching type.
func ParseServiceType(s string) (ServiceType, error) {
	t := ServiceType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "service_type", Message: fmt.Sprintf("tipo de serviço desconhecido %q", s)}
	}
	return t, nil
}

type (
	Money struct {
		Cents int64
	}

	// Service is a single billable work order.
	Service struct {
		ID             string
		Title          string
		ServiceType    ServiceType
		Price          Money
		UserID         string
		Username       string
		CreatedAt      time.Time
		UpdatedAt      time.Time
		IncludeInTotal bool
		AdminOverride  bool
		// Version increases on every mutation and guards update and delete.
		Version int64
	}

	// PriceTable maps a service type to the unit price charged at creation.
	PriceTable map[ServiceType]Money
)

// DefaultPriceTable returns the standard lab price list.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Assembly:       {Cents: 500},
		Acrylization:   {Cents: 500},
		Bar:            {Cents: 600},
		WaxPlan:        {Cents: 200},
		Prep:           {Cents: 200},
		SecondAssembly: {Cents: 250},
	}
}

// PriceOf returns the configured price for t.
func (p PriceTable) PriceOf(t ServiceType) (Money, error) {
	m, ok := p[t]
	if !ok {
		return Money{}, &ValidationError{Field: "service_type", Message: fmt.Sprintf("sem preço para %s", t)}
	}
	return m, nil
}

// Entries returns the table in ServiceTypes order, for rendering selects.
func (p PriceTable) Entries() []PriceEntry {
	out := make([]PriceEntry, 0, len(p))
	for _, t := range ServiceTypes {
		if m, ok := p[t]; ok {
			out = append(out, PriceEntry{Type: t, Price: m})
		}
	}
	return out
}

// PriceEntry is one row of a PriceTable.
type PriceEntry struct {
	Type  ServiceType
	Price Money
}

// ParsePriceTable parses overrides in the form "PREP=2,00;BAR=6" on top of base.
func ParsePriceTable(s string, base PriceTable) (PriceTable, error) {
	out := make(PriceTable, len(base))
	for k, v := range base {
		out[k] = v
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid price entry %q: expected TYPE=PRICE", pair)
		}
		t, err := ParseServiceType(name)
		if err != nil {
			return nil, fmt.Errorf("invalid price entry %q: %w", pair, err)
		}
		cents, err := ParseDecimalToCents(value)
		if err != nil {
			return nil, fmt.Errorf("invalid price entry %q: %w", pair, err)
		}
		out[t] = Money{Cents: cents}
	}
	return out, nil
}

// NormalizeTitle trims a title the way the duplicate check compares it.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(title)
}

// ValidateSubmission checks a new record's inputs in order: title, then price.
func ValidateSubmission(title string, price Money) error {
	if NormalizeTitle(title) == "" {
		return &ValidationError{Field: "title", Message: "o título é obrigatório"}
	}
	if price.Cents < 0 {
		return &ValidationError{Field: "price", Message: "o preço não pode ser negativo"}
	}
	return nil
}
