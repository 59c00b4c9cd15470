// Package query filters parsed lead datasets and summarises the result.
package query

import (
	"strings"
	"time"

	"lead_viewer/dataset"
)

// Column names the engine reads.
const (
	ColumnSource        = "Source"
	ColumnStatus        = "Status"
	ColumnTags          = "Tags"
	ColumnCreated       = "Created"
	ColumnLeadConverted = "Lead Converted date"
)

// FilterSpec is the set of predicates for one query. Empty selections and
// nil bounds impose no constraint.
type FilterSpec struct {
	Sources   []string   `json:"sources,omitempty"`
	Statuses  []string   `json:"statuses,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	DateStart *time.Time `json:"date_start,omitempty"`
	DateEnd   *time.Time `json:"date_end,omitempty"`
	Search    string     `json:"search,omitempty"`
}

// Active reports whether any predicate constrains the result.
func (s FilterSpec) Active() bool {
	return len(nonEmpty(s.Sources)) > 0 ||
		len(nonEmpty(s.Statuses)) > 0 ||
		len(nonEmpty(s.Tags)) > 0 ||
		s.DateStart != nil || s.DateEnd != nil ||
		s.Search != ""
}

// Engine evaluates queries, reading Created values as wall-clock time in
// Location.
type Engine struct {
	Location *time.Location
}

// NewEngine returns an engine for loc; nil means UTC.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{Location: loc}
}

var defaultEngine = NewEngine(time.UTC)

// Filter applies spec with Created values read as UTC.
func Filter(ds dataset.Dataset, spec FilterSpec) dataset.Dataset {
	return defaultEngine.Filter(ds, spec)
}

// Filter returns the records of ds that satisfy every active predicate of
// spec, in their original order. With no active predicate ds is returned
// as is.
func (e *Engine) Filter(ds dataset.Dataset, spec FilterSpec) dataset.Dataset {
	if !spec.Active() {
		return ds
	}
	m := e.compile(spec)
	out := make([]dataset.Record, 0, len(ds.Records))
	for _, rec := range ds.Records {
		if m.match(rec) {
			out = append(out, rec)
		}
	}
	return ds.WithRecords(out)
}

// Created parses the Created column of rec in the engine's location.
func (e *Engine) Created(rec dataset.Record) (time.Time, bool) {
	return dataset.ParseDateIn(rec.Get(ColumnCreated), e.location())
}

func (e *Engine) location() *time.Location {
	if e == nil || e.Location == nil {
		return time.UTC
	}
	return e.Location
}

type matcher struct {
	engine   *Engine
	sources  map[string]struct{}
	statuses map[string]struct{}
	tags     map[string]struct{}
	start    *time.Time
	end      *time.Time
	search   string
}

func (e *Engine) compile(spec FilterSpec) matcher {
	m := matcher{
		engine:   e,
		sources:  toSet(spec.Sources),
		statuses: toSet(spec.Statuses),
		tags:     toSet(spec.Tags),
		start:    spec.DateStart,
		search:   strings.ToLower(spec.Search),
	}
	if spec.DateEnd != nil {
		end := EndOfDay(*spec.DateEnd)
		m.end = &end
	}
	return m
}

func (m matcher) match(rec dataset.Record) bool {
	if len(m.sources) > 0 && !contains(m.sources, rec.Get(ColumnSource)) {
		return false
	}
	if len(m.statuses) > 0 && !contains(m.statuses, rec.Get(ColumnStatus)) {
		return false
	}
	if len(m.tags) > 0 && !m.matchTags(rec.Get(ColumnTags)) {
		return false
	}
	if m.start != nil || m.end != nil {
		created, ok := m.engine.Created(rec)
		if !ok {
			return false
		}
		if m.start != nil && created.Before(*m.start) {
			return false
		}
		if m.end != nil && created.After(*m.end) {
			return false
		}
	}
	if m.search != "" && !matchSearch(rec, m.search) {
		return false
	}
	return true
}

func (m matcher) matchTags(raw string) bool {
	if raw == "" {
		return false
	}
	for _, tag := range SplitTags(raw) {
		if _, ok := m.tags[tag]; ok {
			return true
		}
	}
	return false
}

func matchSearch(rec dataset.Record, term string) bool {
	for _, v := range rec {
		if v != "" && strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

// SplitTags splits a comma-joined Tags value and trims each entry.
func SplitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// EndOfDay returns 23:59:59 on t's calendar date in t's location.
func EndOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 23, 59, 59, 0, t.Location())
}

func toSet(values []string) map[string]struct{} {
	vals := nonEmpty(values)
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}

func contains(set map[string]struct{}, v string) bool {
	_, ok := set[v]
	return ok
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
