package core

import "testing"

func TestDefaultPriceTable(t *testing.T) {
	want := map[ServiceType]int64{
		Assembly:       500,
		Acrylization:   500,
		Bar:            600,
		WaxPlan:        200,
		Prep:           200,
		SecondAssembly: 250,
	}
	table := DefaultPriceTable()
	for st, cents := range want {
		got, err := table.PriceOf(st)
		if err != nil {
			t.Fatalf("PriceOf(%s): %v", st, err)
		}
		if got.Cents != cents {
			t.Errorf("PriceOf(%s) = %d, want %d", st, got.Cents, cents)
		}
	}
	if len(table.Entries()) != len(ServiceTypes) {
		t.Errorf("Entries() has %d rows, want %d", len(table.Entries()), len(ServiceTypes))
	}
}

func TestParsePriceTable(t *testing.T) {
	table, err := ParsePriceTable("prep=2,50; BAR=7", DefaultPriceTable())
	if err != nil {
		t.Fatalf("ParsePriceTable: %v", err)
	}
	if table[Prep].Cents != 250 || table[Bar].Cents != 700 || table[Assembly].Cents != 500 {
		t.Fatalf("unexpected table %+v", table)
	}

	base := DefaultPriceTable()
	if _, err := ParsePriceTable("PREP=2", base); err != nil {
		t.Fatal(err)
	}
	if base[Prep].Cents != 200 {
		t.Fatal("ParsePriceTable mutated its base table")
	}

	for _, bad := range []string{"PREP", "NOPE=1", "PREP=-1", "PREP=x"} {
		if _, err := ParsePriceTable(bad, base); err == nil {
			t.Errorf("ParsePriceTable(%q) expected error", bad)
		}
	}
}

func TestParseServiceType(t *testing.T) {
	got, err := ParseServiceType(" wax_plan ")
	if err != nil || got != WaxPlan {
		t.Fatalf("ParseServiceType = %v, %v", got, err)
	}
	if _, err := ParseServiceType("CROWN"); !IsValidation(err) {
		t.Fatalf("unknown type err = %v, want validation error", err)
	}
	if Bar.Label() != "Barra" {
		t.Fatalf("Bar.Label() = %q", Bar.Label())
	}
}
