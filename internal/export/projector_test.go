package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/charlesh97/bomhelper/internal/bom"
	"github.com/charlesh97/bomhelper/internal/session"
	"github.com/charlesh97/bomhelper/internal/vendor"
)

func exportSession(t *testing.T) *session.Session {
	t.Helper()
	parts := []*bom.ConsolidatedPart{
		{Index: 0, Key: "mpn:RC0603FR-0710KL", Quantity: 4, RefDes: []string{"R1", "R2"},
			Fields: map[string]string{"value": "10k", "voltage": "", "description": "chip resistor", "package": "0603"}},
		{Index: 1, Key: "value:100nF|package:0402", Quantity: 2, RefDes: []string{"C1"},
			Fields: map[string]string{"value": "100nF", "voltage": "16V", "description": "", "package": "0402"}},
		{Index: 2, Key: "value:1uF", Quantity: 1, RefDes: []string{"C9"},
			Fields: map[string]string{"value": "1uF", "voltage": "", "description": "", "package": ""}},
	}
	return session.New(parts, nil, nil)
}

func TestProjectConfirmedAndNA(t *testing.T) {
	s := exportSession(t)
	s.Confirm("part_0", vendor.Part{
		MPN:              "RC0603FR-0710KL",
		Manufacturer:     "Yageo",
		VendorPartNumber: "603-RC0603FR-0710KL",
		Description:      "RES 10K OHM 1% 1/10W 0603",
		Package:          " 0603 ",
		Stock:            15000,
		PriceBreaks:      []vendor.PriceBreak{{Quantity: 1, Price: "0.10", Currency: "USD"}},
		Lifecycle:        "Active",
		ProductURL:       "https://example.com/p/1",
	})
	s.Confirm("part_2", vendor.NASentinel())

	records, err := Project(s)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records (part_1 unchecked), got %d", len(records))
	}

	got := records[0]
	if got.RefDes != "R1, R2" || got.Quantity != "4" {
		t.Errorf("Identity fields wrong: %+v", got)
	}
	if got.Package != "0603" {
		t.Errorf("Vendor package should be trimmed, got %q", got.Package)
	}
	if got.Price != "0.10" || got.Stock != "15000" {
		t.Errorf("Vendor fields wrong: %+v", got)
	}

	na := records[1]
	if na.MPN != "NA" || na.Manufacturer != "N/A" {
		t.Errorf("NA row markers wrong: %+v", na)
	}
	if na.VendorPartNumber != "" || na.Stock != "" || na.Price != "" || na.ProductURL != "" {
		t.Errorf("NA row must leave vendor fields blank: %+v", na)
	}
	if na.Value != "1uF" || na.Quantity != "1" {
		t.Errorf("NA row keeps BOM identity fields: %+v", na)
	}
}

func TestProjectDescriptionFallback(t *testing.T) {
	s := exportSession(t)
	s.Confirm("part_0", vendor.Part{MPN: "X", Manufacturer: "M", Description: ""})

	records, err := Project(s)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if records[0].Description != "chip resistor" {
		t.Errorf("Expected BOM description fallback, got %q", records[0].Description)
	}
}

func TestProjectPackageNeverFromBOM(t *testing.T) {
	s := exportSession(t)
	s.Confirm("part_0", vendor.Part{MPN: "X", Manufacturer: "M", Package: ""})

	records, _ := Project(s)
	if records[0].Package != "" {
		t.Errorf("Vendor-less package must stay blank, got %q", records[0].Package)
	}
}

func TestProjectNothingChecked(t *testing.T) {
	s := exportSession(t)
	if _, err := Project(s); err == nil {
		t.Error("Expected error when nothing is checked")
	}
}

func TestProjectCheckedWithoutChoiceIsDefect(t *testing.T) {
	s := exportSession(t)
	s.Selections["part_0"] = &session.Selection{Checked: true}
	if _, err := Project(s); err == nil {
		t.Error("Checked part without a confirmed choice must be reported")
	}
}

func TestWriteCSV(t *testing.T) {
	s := exportSession(t)
	s.Confirm("part_0", vendor.Part{MPN: "X1", Manufacturer: "M", Stock: 5})
	records, err := Project(s)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	parsed, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Output is not valid CSV: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("Expected header + 1 row, got %d", len(parsed))
	}
	if strings.Join(parsed[0], ",") != strings.Join(Columns, ",") {
		t.Errorf("Header mismatch: %v", parsed[0])
	}
	if len(parsed[1]) != len(Columns) {
		t.Errorf("Row width %d does not match %d columns", len(parsed[1]), len(Columns))
	}
}

func TestWriteExcel(t *testing.T) {
	s := exportSession(t)
	s.Confirm("part_0", vendor.Part{MPN: "X1", Manufacturer: "M", Stock: 5})
	records, _ := Project(s)

	f, err := WriteExcel(records)
	if err != nil {
		t.Fatalf("WriteExcel failed: %v", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	header, err := f.GetCellValue(sheet, "A1")
	if err != nil || header != "REFDES" {
		t.Errorf("Expected REFDES header, got %q (%v)", header, err)
	}
	mpn, _ := f.GetCellValue(sheet, "E2")
	if mpn != "X1" {
		t.Errorf("Expected MPN X1 in E2, got %q", mpn)
	}
}
