// Package report renders providers as tables and writes them as CSV or
// XLSX.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/provider-verify/internal/model"
)

// Table is a header and rows of rendered cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// queueColumns are the review-queue export columns.
var queueColumns = []string{
	"Name",
	"Specialty",
	"Location",
	"Phone",
	"Email",
	"NPI",
	"Confidence Score",
}

var directoryColumns = []string{
	"Name",
	"NPI",
	"Specialty",
	"Address",
	"Phone",
	"Email",
	"Status",
	"Confidence Score",
	"Last Verified",
	"Sources",
}

// Percent renders a confidence score as "NN%".
func Percent(score int) string {
	return fmt.Sprintf("%d%%", score)
}

// QueueTable renders the review queue export, one row per provider in the
// given order.
func QueueTable(queue []model.Provider) Table {
	t := Table{Header: queueColumns, Rows: make([][]string, 0, len(queue))}
	for _, p := range queue {
		t.Rows = append(t.Rows, []string{
			p.Name,
			p.Specialty,
			p.Location,
			p.Phone,
			p.Email,
			p.NPI,
			Percent(p.ConfidenceScore),
		})
	}
	return t
}

// DirectoryTable renders the provider directory with per-source results.
func DirectoryTable(providers []model.Provider) Table {
	t := Table{Header: directoryColumns, Rows: make([][]string, 0, len(providers))}
	for _, p := range providers {
		last := ""
		if !p.LastVerified.IsZero() {
			last = p.LastVerified.UTC().Format("2006-01-02")
		}
		t.Rows = append(t.Rows, []string{
			p.Name,
			p.NPI,
			p.Specialty,
			p.Address,
			p.Phone,
			p.Email,
			string(p.Status),
			Percent(p.ConfidenceScore),
			last,
			SourcesCell(p.DataSources),
		})
	}
	return t
}

// SourcesCell summarizes source results as "Name (status NN%)" joined by
// "; ".
func SourcesCell(results []model.DataSourceResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		s := fmt.Sprintf("%s (%s %s)", r.Name, r.Status, Percent(r.Confidence))
		if r.Reason != "" {
			s = fmt.Sprintf("%s (%s: %s)", r.Name, r.Status, r.Reason)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

// WriteCSV writes t as CSV. Cells containing commas, quotes or newlines
// are quoted.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// WriteXLSX writes t as a single-sheet workbook.
func WriteXLSX(w io.Writer, sheetName string, t Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "report: add sheet %s", sheetName)
	}
	addRow(sheet, t.Header)
	for _, row := range t.Rows {
		addRow(sheet, row)
	}
	return eris.Wrap(f.Write(w), "report: write xlsx")
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
