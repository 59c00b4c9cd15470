package dataset

import (
	"bufio"
	"io"
	"sort"
	"strings"
)

// Serialize renders d as CSV text: a header line from d's columns, then one
// line per record, joined by '\n' with no trailing newline.
func Serialize(d Dataset) (string, error) {
	var b strings.Builder
	if err := WriteCSV(&b, d); err != nil {
		return "", err
	}
	return b.String(), nil
}

// WriteCSV streams the same output as Serialize to w.
func WriteCSV(w io.Writer, d Dataset) error {
	if d.Empty() {
		return ErrEmptyDataset
	}
	cols := d.Columns
	if len(cols) == 0 {
		cols = columnsOf(d.Records[0])
	}

	bw := bufio.NewWriter(w)
	writeLine(bw, cols, func(i int) string { return cols[i] })
	for _, rec := range d.Records {
		bw.WriteByte('\n')
		writeLine(bw, cols, func(i int) string { return rec[cols[i]] })
	}
	return bw.Flush()
}

func writeLine(bw *bufio.Writer, cols []string, value func(int) string) {
	for i := range cols {
		if i > 0 {
			bw.WriteByte(',')
		}
		bw.WriteString(EscapeField(value(i)))
	}
}

// EscapeField quotes v when it contains a comma, a double quote or a
// newline, doubling embedded quotes. Other values are returned verbatim.
func EscapeField(v string) string {
	if !strings.ContainsAny(v, ",\"\n") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// columnsOf is used for datasets built by hand without Columns; map
// iteration order is not stable, so the names are sorted.
func columnsOf(rec Record) []string {
	cols := make([]string, 0, len(rec))
	for k := range rec {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
