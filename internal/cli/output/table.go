package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by result types that know their own columns.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes data as borderless left-aligned columns, kubectl style.
func PrintTable(w io.Writer, data TableRenderer) error {
	t := tablewriter.NewWriter(w)
	t.SetHeader(data.Headers())
	t.SetAutoFormatHeaders(true)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetAutoWrapText(false)
	t.SetHeaderLine(false)
	t.SetBorder(false)
	t.SetCenterSeparator("")
	t.SetColumnSeparator("")
	t.SetRowSeparator("")
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	t.AppendBulk(data.Rows())
	t.Render()
	return nil
}

// TableData is an ad-hoc TableRenderer built row by row, for commands whose
// output shape is decided inline.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData creates a TableData with the given column headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers}
}

// AddRow appends one row.
func (t *TableData) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *TableData) Headers() []string { return t.headers }
func (t *TableData) Rows() [][]string  { return t.rows }
