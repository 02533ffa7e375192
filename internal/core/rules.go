package core

import "time"

// Inclusion is the outcome of the creation rule for a new record.
type Inclusion struct {
	IncludeInTotal bool
	AdminOverride  bool
}

// DecideInclusion applies the creation rule. A duplicate title is excluded
// from the total unless the requester may override and asked to; an override
// requested without that permission is ignored.
func DecideInclusion(isDuplicate, overrideRequested, mayOverride bool) Inclusion {
	override := overrideRequested && mayOverride
	return Inclusion{
		IncludeInTotal: !isDuplicate || override,
		AdminOverride:  override,
	}
}

// InSameMonth reports whether t falls in the calendar month of now, both
// read in loc.
func InSameMonth(t, now time.Time, loc *time.Location) bool {
	return MonthKeyOf(t, loc) == MonthKeyOf(now, loc)
}
