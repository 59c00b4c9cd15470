package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Dialect selects the tokenizer used for data lines.
type Dialect int

const (
	// DialectLegacy splits on line feeds and toggles a quote flag per '"'.
	// Doubled quotes are not unescaped and quoted fields cannot span lines.
	DialectLegacy Dialect = iota
	// DialectRFC4180 honours doubled-quote escapes and multi-line quoted fields.
	DialectRFC4180
)

func (d Dialect) String() string {
	switch d {
	case DialectLegacy:
		return "legacy"
	case DialectRFC4180:
		return "rfc4180"
	default:
		return "unknown"
	}
}

// ParseDialect resolves a dialect name as used in configuration.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "legacy", "toggle":
		return DialectLegacy, nil
	case "rfc4180", "rfc", "":
		return DialectRFC4180, nil
	default:
		return DialectLegacy, fmt.Errorf("unknown csv dialect %q", name)
	}
}

// Options controls parsing.
type Options struct {
	Dialect Dialect
}

// Parse tokenizes text with the legacy dialect.
func Parse(text string) Dataset {
	ds, _ := Scan(text, Options{Dialect: DialectLegacy})
	return ds
}

// ParseWith tokenizes text with the given options.
func ParseWith(text string, opts Options) Dataset {
	ds, _ := Scan(text, opts)
	return ds
}

// Scan parses text and reports how many rows were kept and dropped.
// Rows whose field count differs from the header are dropped silently.
func Scan(text string, opts Options) (Dataset, Report) {
	if opts.Dialect == DialectRFC4180 {
		return scanRFC4180(text)
	}
	return scanLegacy(text)
}

func scanLegacy(text string) (Dataset, Report) {
	var rep Report
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	rep.Lines = len(lines)
	if len(lines) == 0 {
		return Dataset{}, rep
	}

	raw := strings.Split(lines[0], ",")
	for i, h := range raw {
		raw[i] = unquoteHeader(h)
	}
	h := newHeader(raw)

	records := make([]Record, 0, len(lines)-1)
	for _, line := range lines[1:] {
		fields := splitLine(line)
		if len(fields) != h.width {
			rep.Skipped++
			continue
		}
		records = append(records, h.record(fields))
	}
	rep.Records = len(records)
	return Dataset{Columns: h.columns, Records: records}, rep
}

// splitLine is the quote-toggle state machine: '"' flips the in-quotes
// flag and is consumed, ',' outside quotes ends a field.
func splitLine(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	for _, c := range line {
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	return append(fields, strings.TrimSpace(cur.String()))
}

func scanRFC4180(text string) (Dataset, Report) {
	var rep Report
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var h *header
	var records []Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// malformed rows are dropped like ragged ones
			rep.Lines++
			if h != nil {
				rep.Skipped++
			}
			continue
		}
		if blankRow(row) {
			continue
		}
		rep.Lines++
		if h == nil {
			for i, v := range row {
				row[i] = unquoteHeader(v)
			}
			h = newHeader(row)
			continue
		}
		if len(row) != h.width {
			rep.Skipped++
			continue
		}
		for i, v := range row {
			row[i] = strings.TrimSpace(v)
		}
		records = append(records, h.record(row))
	}
	if h == nil {
		return Dataset{}, rep
	}
	rep.Records = len(records)
	if records == nil {
		records = []Record{}
	}
	return Dataset{Columns: h.columns, Records: records}, rep
}

// blankRow matches a whitespace-only line. Rows of empty fields such as
// ",," are data.
func blankRow(row []string) bool {
	return len(row) == 1 && strings.TrimSpace(row[0]) == ""
}

func unquoteHeader(h string) string {
	h = strings.TrimSpace(h)
	h = strings.TrimPrefix(h, `"`)
	return strings.TrimSuffix(h, `"`)
}

// header maps raw header positions to unique column names. A repeated
// name keeps its first position and takes the value of its last occurrence.
type header struct {
	names   []string
	columns []string
	width   int
}

func newHeader(raw []string) *header {
	h := &header{names: append([]string(nil), raw...), width: len(raw)}
	seen := make(map[string]struct{}, len(raw))
	for _, name := range raw {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		h.columns = append(h.columns, name)
	}
	return h
}

func (h *header) record(fields []string) Record {
	rec := make(Record, len(h.columns))
	for i, name := range h.names {
		rec[name] = fields[i]
	}
	return rec
}
