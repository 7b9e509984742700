package page

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderText writes t as a bordered text table followed by a page footer.
// A nil table writes nothing.
func RenderText(w io.Writer, t *Table) error {
	if t == nil {
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)

	header := make(table.Row, len(t.Columns))
	for i, c := range t.Columns {
		name := c.Name
		if c.Name == t.SortBy {
			if t.Desc {
				name += " ▼"
			} else {
				name += " ▲"
			}
		}
		header[i] = name
	}
	tw.AppendHeader(header)

	for _, r := range t.Rows {
		row := make(table.Row, len(r))
		for i, cell := range r {
			row[i] = cell
		}
		tw.AppendRow(row)
	}

	tw.Render()
	_, err := fmt.Fprintf(w, "page %d/%d (%d rows)\n", t.Page, t.Pages, t.Total)
	return err
}
