package query

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"lead_viewer/dataset"
)

// ErrInvalidDay is returned for a date bound that is not YYYY-MM-DD.
var ErrInvalidDay = errors.New("invalid day, want YYYY-MM-DD")

// Params is the string form of a FilterSpec as it arrives from query
// strings, command-line flags and saved views.
type Params struct {
	Sources  []string `json:"sources,omitempty"`
	Statuses []string `json:"statuses,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Start    string   `json:"start,omitempty"`
	End      string   `json:"end,omitempty"`
	Search   string   `json:"search,omitempty"`
}

// ParamsFromValues reads source, status, tag, start, end and q.
func ParamsFromValues(v url.Values) Params {
	return Params{
		Sources:  v["source"],
		Statuses: v["status"],
		Tags:     v["tag"],
		Start:    strings.TrimSpace(v.Get("start")),
		End:      strings.TrimSpace(v.Get("end")),
		Search:   v.Get("q"),
	}
}

// Merge overlays the non-empty fields of o onto p.
func (p Params) Merge(o Params) Params {
	if len(o.Sources) > 0 {
		p.Sources = o.Sources
	}
	if len(o.Statuses) > 0 {
		p.Statuses = o.Statuses
	}
	if len(o.Tags) > 0 {
		p.Tags = o.Tags
	}
	if o.Start != "" {
		p.Start = o.Start
	}
	if o.End != "" {
		p.End = o.End
	}
	if o.Search != "" {
		p.Search = o.Search
	}
	return p
}

// Spec converts p into a FilterSpec with day bounds at midnight in loc.
func (p Params) Spec(loc *time.Location) (FilterSpec, error) {
	spec := FilterSpec{
		Sources:  nonEmpty(p.Sources),
		Statuses: nonEmpty(p.Statuses),
		Tags:     nonEmpty(p.Tags),
		Search:   p.Search,
	}
	var err error
	if spec.DateStart, err = ParseDay(p.Start, loc); err != nil {
		return FilterSpec{}, fmt.Errorf("start: %w", err)
	}
	if spec.DateEnd, err = ParseDay(p.End, loc); err != nil {
		return FilterSpec{}, fmt.Errorf("end: %w", err)
	}
	return spec, nil
}

// ParseDay parses a YYYY-MM-DD bound. An empty string yields nil.
func ParseDay(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dataset.DayLayout, s, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDay, s)
	}
	return &t, nil
}
