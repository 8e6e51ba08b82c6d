// Package export projects confirmed selections back onto the consolidated
// parts and writes the flat BOM-order records to CSV or Excel.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/charlesh97/bomhelper/internal/session"
)

// Columns is the export header, in order.
var Columns = []string{
	"REFDES",
	"Quantity",
	"Description",
	"Package",
	"MPN",
	"Vendor Part Number",
	"Manufacturer",
	"Value",
	"Voltage",
	"Stock",
	"Price",
	"Lifecycle",
	"Product URL",
}

// Record is one flat export row: identity fields from the consolidated part
// joined with the confirmed vendor choice.
type Record struct {
	RefDes           string `json:"refdes"`
	Quantity         string `json:"quantity"`
	Description      string `json:"description"`
	Package          string `json:"package"`
	MPN              string `json:"mpn"`
	VendorPartNumber string `json:"vendor_part_number"`
	Manufacturer     string `json:"manufacturer"`
	Value            string `json:"value"`
	Voltage          string `json:"voltage"`
	Stock            string `json:"stock"`
	Price            string `json:"price"`
	Lifecycle        string `json:"lifecycle"`
	ProductURL       string `json:"product_url"`
}

func (r Record) values() []string {
	return []string{
		r.RefDes, r.Quantity, r.Description, r.Package, r.MPN,
		r.VendorPartNumber, r.Manufacturer, r.Value, r.Voltage,
		r.Stock, r.Price, r.Lifecycle, r.ProductURL,
	}
}

// Project builds the export records for every checked part, in consolidated
// order. A checked part without a confirmed choice is impossible through the
// state machine (checking only happens via confirmation) and is reported as
// a defect rather than silently skipped.
func Project(s *session.Session) ([]Record, error) {
	var records []Record
	for i, part := range s.Parts {
		key := session.PartKey(i)
		sel, ok := s.Selections[key]
		if !ok || !sel.Checked {
			continue
		}
		if sel.Confirmed == nil {
			return nil, fmt.Errorf("part %s is checked but has no confirmed choice", key)
		}
		choice := *sel.Confirmed

		rec := Record{
			RefDes:   part.RefDesJoined(),
			Quantity: strconv.Itoa(part.Quantity),
			Value:    part.Field("value"),
			Voltage:  part.Field("voltage"),
			MPN:      choice.MPN,
		}

		if choice.IsNA() {
			// NA sentinel: vendor fields stay blank except the marker
			// manufacturer, so the gap is visible in the output.
			rec.Manufacturer = choice.Manufacturer
			records = append(records, rec)
			continue
		}

		rec.Description = choice.Description
		if rec.Description == "" {
			rec.Description = part.Field("description")
		}
		// Package comes from the vendor candidate; blank when the vendor
		// omits it, never the BOM's own package.
		rec.Package = strings.TrimSpace(choice.Package)
		rec.VendorPartNumber = choice.VendorPartNumber
		rec.Manufacturer = choice.Manufacturer
		rec.Stock = strconv.Itoa(choice.Stock)
		if len(choice.PriceBreaks) > 0 {
			rec.Price = choice.PriceBreaks[0].Price
		}
		rec.Lifecycle = choice.Lifecycle
		rec.ProductURL = choice.ProductURL
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no parts are checked for export")
	}
	return records, nil
}

// WriteCSV writes the records with the standard header.
func WriteCSV(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := writer.Write(rec.values()); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush CSV: %w", err)
	}
	return nil
}

// WriteExcel builds a styled workbook with the records on the first sheet.
func WriteExcel(records []Record) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})

	for i, col := range Columns {
		name, _ := excelize.ColumnNumberToName(i + 1)
		cell := name + "1"
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return nil, fmt.Errorf("write header cell: %w", err)
		}
		f.SetCellStyle(sheet, cell, cell, boldStyle)
		f.SetColWidth(sheet, name, name, 18)
	}

	for rowIdx, rec := range records {
		for colIdx, val := range rec.values() {
			name, _ := excelize.ColumnNumberToName(colIdx + 1)
			cell := fmt.Sprintf("%s%d", name, rowIdx+2)
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}
	return f, nil
}
