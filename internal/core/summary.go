package core

import (
	"fmt"
	"sort"
	"time"
)

// MonthKey identifies a calendar month as "YYYY-MM".
type MonthKey string

// MonthKeyOf returns the month key of t in loc.
func MonthKeyOf(t time.Time, loc *time.Location) MonthKey {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return MonthKey(fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month())))
}

// Year and Month split the key; both return 0 for a malformed key.
func (k MonthKey) Year() int {
	t, err := time.Parse("2006-01", string(k))
	if err != nil {
		return 0
	}
	return t.Year()
}

func (k MonthKey) Month() int {
	t, err := time.Parse("2006-01", string(k))
	if err != nil {
		return 0
	}
	return int(t.Month())
}

// Prev returns the month before k, or "" for a malformed key.
func (k MonthKey) Prev() MonthKey {
	t, err := time.Parse("2006-01", string(k))
	if err != nil {
		return ""
	}
	return MonthKey(t.AddDate(0, -1, 0).Format("2006-01"))
}

// MonthGroup holds one month of records with totals split by inclusion.
type MonthGroup struct {
	Key      MonthKey
	Services []Service
	Included Money
	Pending  Money
}

// Count returns the number of records in the month.
func (g MonthGroup) Count() int { return len(g.Services) }

// GroupByMonth buckets records by creation month in loc and returns the
// groups most recent first. Records excluded from the total count towards
// Pending. Within a group, records keep their input order.
func GroupByMonth(services []Service, loc *time.Location) []MonthGroup {
	if len(services) == 0 {
		return []MonthGroup{}
	}
	index := make(map[MonthKey]int)
	groups := make([]MonthGroup, 0)
	for _, s := range services {
		key := MonthKeyOf(s.CreatedAt, loc)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, MonthGroup{Key: key})
		}
		g := &groups[i]
		g.Services = append(g.Services, s)
		if s.IncludeInTotal {
			g.Included = g.Included.Add(s.Price)
		} else {
			g.Pending = g.Pending.Add(s.Price)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key > groups[j].Key })
	return groups
}

// TypeAmount aggregates one service type inside a month.
type TypeAmount struct {
	Type     ServiceType
	Count    int
	Included Money
	Pending  Money
}

// MonthBreakdown is the analytics view of one month.
type MonthBreakdown struct {
	Key      MonthKey
	ByType   []TypeAmount
	Included Money
	Pending  Money
}

// BreakdownByType splits each month group per service type, ordered as ServiceTypes.
func BreakdownByType(groups []MonthGroup) []MonthBreakdown {
	out := make([]MonthBreakdown, 0, len(groups))
	for _, g := range groups {
		byType := make(map[ServiceType]*TypeAmount)
		for _, s := range g.Services {
			ta, ok := byType[s.ServiceType]
			if !ok {
				ta = &TypeAmount{Type: s.ServiceType}
				byType[s.ServiceType] = ta
			}
			ta.Count++
			if s.IncludeInTotal {
				ta.Included = ta.Included.Add(s.Price)
			} else {
				ta.Pending = ta.Pending.Add(s.Price)
			}
		}
		mb := MonthBreakdown{Key: g.Key, Included: g.Included, Pending: g.Pending}
		for _, t := range ServiceTypes {
			if ta, ok := byType[t]; ok {
				mb.ByType = append(mb.ByType, *ta)
				delete(byType, t)
			}
		}
		// unknown types (legacy rows) go last, sorted by name
		rest := make([]TypeAmount, 0, len(byType))
		for _, ta := range byType {
			rest = append(rest, *ta)
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i].Type < rest[j].Type })
		mb.ByType = append(mb.ByType, rest...)
		out = append(out, mb)
	}
	return out
}
