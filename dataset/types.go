// Package dataset turns delimited lead exports into ordered records and back.
//
// A Dataset is immutable once parsed: filtering and serialization never
// mutate it, they build new values that share the underlying records.
package dataset

import "errors"

// ErrEmptyDataset is returned when a dataset with no records is serialized.
var ErrEmptyDataset = errors.New("dataset has no records")

// Record is one data row keyed by column name.
type Record map[string]string

// Get returns the value of col, or "" when the column is absent.
func (r Record) Get(col string) string {
	return r[col]
}

// Dataset is an ordered sequence of records sharing one column set.
type Dataset struct {
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
}

// Len reports the number of records.
func (d Dataset) Len() int { return len(d.Records) }

// Empty reports whether d has no records.
func (d Dataset) Empty() bool { return len(d.Records) == 0 }

// WithRecords returns a dataset with d's columns and the given records.
func (d Dataset) WithRecords(records []Record) Dataset {
	return Dataset{Columns: d.Columns, Records: records}
}

// Report summarises a parse run.
type Report struct {
	Lines   int `json:"lines"`
	Records int `json:"records"`
	Skipped int `json:"skipped"`
}
