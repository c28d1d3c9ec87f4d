package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Table renders aligned tabular CLI output.
type Table struct {
	headers []string
	rows    [][]string
	writer  *tabwriter.Writer
}

// NewTable creates a table writing to stdout.
func NewTable(headers ...string) *Table {
	return NewTableTo(os.Stdout, headers...)
}

// NewTableTo creates a table writing to w.
func NewTableTo(w io.Writer, headers ...string) *Table {
	return &Table{
		headers: headers,
		writer:  tabwriter.NewWriter(w, 0, 0, 2, ' ', 0),
	}
}

// AddRow appends a row, padding missing cells with "-".
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
		} else {
			row[i] = "-"
		}
	}
	t.rows = append(t.rows, row)
}

// Render writes the table with a separator under the headers.
func (t *Table) Render() {
	fmt.Fprintf(t.writer, "%s\n", strings.Join(t.headers, "\t"))

	separators := make([]string, len(t.headers))
	for i, header := range t.headers {
		separators[i] = strings.Repeat("-", len(header))
	}
	fmt.Fprintf(t.writer, "%s\n", strings.Join(separators, "\t"))

	for _, row := range t.rows {
		fmt.Fprintf(t.writer, "%s\n", strings.Join(row, "\t"))
	}
	t.writer.Flush()
}

// Count returns the number of data rows.
func (t *Table) Count() int {
	return len(t.rows)
}
