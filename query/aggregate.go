package query

import (
	"sort"

	"github.com/shopspring/decimal"

	"lead_viewer/dataset"
)

// StatusSubmitted marks a converted lead.
const StatusSubmitted = "Submitted"

// DayCount is one bucket of a date series.
type DayCount struct {
	Day   string `json:"day"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Stats summarises a filtered view against the full dataset.
type Stats struct {
	Total          int     `json:"total"`
	Filtered       int     `json:"filtered"`
	Converted      int     `json:"converted"`
	ConversionRate float64 `json:"conversion_rate"`
}

// RateText formats the conversion rate with one decimal place.
func (s Stats) RateText() string {
	return decimal.NewFromFloat(s.ConversionRate).StringFixed(1) + "%"
}

// AggregateByDay buckets ds by the UTC calendar day of Created.
func AggregateByDay(ds dataset.Dataset) []DayCount {
	return defaultEngine.AggregateByDay(ds)
}

// AggregateByDay counts records per calendar day of Created, ascending by
// day. Records without a parseable Created value are left out and days
// without records are not emitted.
func (e *Engine) AggregateByDay(ds dataset.Dataset) []DayCount {
	counts := make(map[string]int)
	labels := make(map[string]string)
	for _, rec := range ds.Records {
		created, ok := e.Created(rec)
		if !ok {
			continue
		}
		key := dataset.DayKey(created)
		if _, seen := labels[key]; !seen {
			labels[key] = created.Format("Jan 2")
		}
		counts[key]++
	}

	out := make([]DayCount, 0, len(counts))
	for day, n := range counts {
		out = append(out, DayCount{Day: day, Label: labels[day], Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// ComputeStats counts conversions in filtered. A record is converted when
// its Status is Submitted or it has a Lead Converted date. The rate is a
// percentage rounded half away from zero to one decimal, 0 when filtered
// is empty.
func ComputeStats(all, filtered dataset.Dataset) Stats {
	st := Stats{Total: all.Len(), Filtered: filtered.Len()}
	for _, rec := range filtered.Records {
		if Converted(rec) {
			st.Converted++
		}
	}
	if st.Filtered > 0 {
		rate := decimal.NewFromInt(int64(st.Converted)*100).
			DivRound(decimal.NewFromInt(int64(st.Filtered)), 1)
		st.ConversionRate = rate.InexactFloat64()
	}
	return st
}

// Converted reports whether rec signals a completed conversion.
func Converted(rec dataset.Record) bool {
	return rec.Get(ColumnStatus) == StatusSubmitted || rec.Get(ColumnLeadConverted) != ""
}
