/*
export.go - CSV and XLSX export handlers

PURPOSE:
  Renders the payout rollup and driver statements as downloadable files.
  Both endpoints take ?format=csv|xlsx (default csv). CSV goes through
  encoding/csv; the spreadsheet export uses excelize so money columns keep
  numeric typing instead of strings.

LAYOUTS:
  Payouts:
    Driver, Loads, Gross, Fuel, Misc, Dispatch, Net (pre-lease), Lease, Final Owed
    ... one row per driver, a blank spacer row, then a Totals row.

  Statement:
    Date, Load #, Origin, Destination, Revenue, Fuel, Misc, Dispatch %, Dispatch $, Net
    ... one row per counted load, a blank spacer, a Totals row, and a
    final row carrying the lease deduction and final pay.

SEE ALSO:
  - handlers.go: the JSON views these exports mirror
*/
package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// =============================================================================
// PAYOUT EXPORT
// =============================================================================

var payoutHeader = []string{
	"Driver", "Loads", "Gross", "Fuel", "Misc", "Dispatch",
	"Net (pre-lease)", "Lease", "Final Owed",
}

// ExportPayouts streams the payout rollup as CSV or XLSX.
func (h *Handler) ExportPayouts(w http.ResponseWriter, r *http.Request) {
	resp, c, err := h.buildPayouts(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute payouts", err)
		return
	}

	filename := "payouts_" + c.End.Format("2006-01-02")
	rows := append(resp.Rows, resp.Totals)

	if r.URL.Query().Get("format") == "xlsx" {
		f := newSheet(payoutHeader)
		defer f.Close()
		for i, row := range resp.Rows {
			writeSheetRow(f, i+2, payoutSheetRow(row))
		}
		writeSheetRow(f, len(resp.Rows)+3, payoutSheetRow(resp.Totals))
		sendXLSX(w, f, filename)
		return
	}

	sendCSVHeader(w, filename)
	cw := csv.NewWriter(w)
	cw.Write(payoutHeader)
	for i, row := range rows {
		if i == len(rows)-1 {
			cw.Write([]string{}) // spacer before the totals row
		}
		cw.Write(payoutCSVRow(row))
	}
	cw.Flush()
}

func payoutCSVRow(row PayoutRowDTO) []string {
	return []string{
		row.DriverName,
		strconv.Itoa(row.Loads),
		money(row.Gross),
		money(row.Fuel),
		money(row.Misc),
		money(row.Dispatch),
		money(row.Net),
		money(row.Lease),
		money(row.Final),
	}
}

func payoutSheetRow(row PayoutRowDTO) []any {
	return []any{
		row.DriverName, row.Loads, row.Gross, row.Fuel, row.Misc,
		row.Dispatch, row.Net, row.Lease, row.Final,
	}
}

// =============================================================================
// STATEMENT EXPORT
// =============================================================================

var statementHeader = []string{
	"Date", "Load #", "Origin", "Destination",
	"Revenue", "Fuel", "Misc", "Dispatch %", "Dispatch $", "Net",
}

// ExportStatement streams one driver's cycle statement as CSV or XLSX.
// Only loads that count toward the totals appear as line items.
func (h *Handler) ExportStatement(w http.ResponseWriter, r *http.Request) {
	resp, c, status, err := h.buildStatement(r)
	if err != nil {
		writeError(w, status, "Failed to build statement", err)
		return
	}
	if status == http.StatusNotFound {
		writeError(w, status, "Driver not found", nil)
		return
	}

	filename := fmt.Sprintf("driver_%s_cycle_%s", resp.Driver.Name, c.End.Format("2006-01-02"))
	var counted []EvaluatedLoadDTO
	for _, l := range resp.Loads {
		if l.Included && l.InWindow {
			counted = append(counted, l)
		}
	}
	t := resp.Totals

	if r.URL.Query().Get("format") == "xlsx" {
		f := newSheet(statementHeader)
		defer f.Close()
		for i, l := range counted {
			writeSheetRow(f, i+2, []any{
				l.DeliveredAt, l.LoadNo, l.Origin, l.Destination,
				l.Revenue, l.Fuel, l.Misc, l.DispatchPct, l.DispatchFee, l.Net,
			})
		}
		writeSheetRow(f, len(counted)+3, []any{"Totals", "", "", "",
			t.Gross, t.Fuel, t.Misc, "", t.Dispatch, t.Net})
		writeSheetRow(f, len(counted)+4, []any{"", "", "", "", "", "", "",
			"Lease", -t.Lease, t.Final})
		sendXLSX(w, f, filename)
		return
	}

	sendCSVHeader(w, filename)
	cw := csv.NewWriter(w)
	cw.Write(statementHeader)
	for _, l := range counted {
		cw.Write([]string{
			l.DeliveredAt,
			l.LoadNo,
			l.Origin,
			l.Destination,
			money(l.Revenue),
			money(l.Fuel),
			money(l.Misc),
			money(l.DispatchPct),
			money(l.DispatchFee),
			money(l.Net),
		})
	}
	cw.Write([]string{})
	cw.Write([]string{"Totals", "", "", "",
		money(t.Gross), money(t.Fuel), money(t.Misc), "", money(t.Dispatch), money(t.Net)})
	cw.Write([]string{"", "", "", "", "", "", "",
		"Lease", money(-t.Lease), money(t.Final)})
	cw.Flush()
}

// =============================================================================
// FORMAT HELPERS
// =============================================================================

func newSheet(header []string) *excelize.File {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for col, name := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, name)
	}
	f.SetColWidth(sheet, "A", "A", 24)
	last, _ := excelize.ColumnNumberToName(len(header))
	f.SetColWidth(sheet, "B", last, 14)
	return f
}

func writeSheetRow(f *excelize.File, rowIdx int, values []any) {
	sheet := f.GetSheetName(0)
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx)
		f.SetCellValue(sheet, cell, v)
	}
}

func sendXLSX(w http.ResponseWriter, f *excelize.File, filename string) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s.xlsx"`, filename))
	f.Write(w)
}

func sendCSVHeader(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s.csv"`, filename))
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
