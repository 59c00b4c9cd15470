package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lead_viewer/dataset"
)

func TestAggregateByDay(t *testing.T) {
	ds := loadLeads(t)

	got := AggregateByDay(ds)

	assert.Equal(t, []DayCount{
		{Day: "2025-12-29", Label: "Dec 29", Count: 1},
		{Day: "2025-12-30", Label: "Dec 30", Count: 2},
		{Day: "2026-01-01", Label: "Jan 1", Count: 1},
	}, got)
}

func TestAggregateByDayEmpty(t *testing.T) {
	assert.Empty(t, AggregateByDay(dataset.Dataset{}))
}

func TestComputeStats(t *testing.T) {
	ds := loadLeads(t)

	st := ComputeStats(ds, ds)

	assert.Equal(t, Stats{Total: 5, Filtered: 5, Converted: 2, ConversionRate: 40}, st)
	assert.Equal(t, "40.0%", st.RateText())
}

func TestComputeStatsHalfConverted(t *testing.T) {
	ds := dataset.Dataset{
		Columns: []string{"Status", "Lead Converted date"},
		Records: []dataset.Record{
			{"Status": "Submitted", "Lead Converted date": ""},
			{"Status": "New", "Lead Converted date": ""},
		},
	}

	st := ComputeStats(ds, ds)

	assert.Equal(t, 50.0, st.ConversionRate)
	assert.Equal(t, "50.0%", st.RateText())
}

func TestComputeStatsRounding(t *testing.T) {
	ds := loadLeads(t)
	filtered := Filter(ds, FilterSpec{Sources: []string{"Web", "Event"}})

	st := ComputeStats(ds, filtered)

	assert.Equal(t, 3, st.Filtered)
	assert.Equal(t, 1, st.Converted)
	assert.Equal(t, 33.3, st.ConversionRate)
}

func TestComputeStatsEmptyFiltered(t *testing.T) {
	ds := loadLeads(t)

	st := ComputeStats(ds, dataset.Dataset{})

	assert.Equal(t, 5, st.Total)
	assert.Zero(t, st.Filtered)
	assert.Zero(t, st.ConversionRate)
	assert.Equal(t, "0.0%", st.RateText())
}
