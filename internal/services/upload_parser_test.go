package services

import (
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"Cost Per Unit":       colCostPerUnit,
		"cost_per_unit":       colCostPerUnit,
		"COST-PER-UNIT":       colCostPerUnit,
		" Branch Name ":       colBranchName,
		"Inventory Item Name": colItemName,
		"UOM":                 colUom,
		"expiry_date (YYYY)":  "expirydateyyyy",
	}
	for in, want := range cases {
		if got := normalizeHeader(in); got != want {
			t.Errorf("normalizeHeader(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseDelimitedUploadDetectsDelimiter(t *testing.T) {
	cases := map[string]string{
		"tab":   "Branch Name\tInventory Item Name\tUOM\tQuantity\tCost Per Unit\nMain\tFlour\tkg\t2\t50\n",
		"pipe":  "Branch Name|Inventory Item Name|UOM|Quantity|Cost Per Unit\nMain|Flour|kg|2|50\n",
		"comma": "Branch Name,Inventory Item Name,UOM,Quantity,Cost Per Unit\nMain,Flour,kg,2,50\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			table, err := parseDelimitedUpload([]byte(text))
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if len(table.Records) != 1 {
				t.Fatalf("expected 1 record, got %d", len(table.Records))
			}
			rec := table.Records[0]
			if rec.Line != 2 || rec.Cells[colItemName] != "Flour" || rec.Cells[colCostPerUnit] != "50" {
				t.Errorf("unexpected record: %+v", rec)
			}
		})
	}
}

func TestParseDelimitedUploadSkipsBlankLinesAndKeepsLineNumbers(t *testing.T) {
	text := "\xef\xbb\xbfBranch Name,Inventory Item Name,UOM,Quantity,Cost Per Unit\n" +
		"Main,Flour,kg,1,10\n" +
		",,,,\n" +
		"Main,Sugar,kg,2,20\n"
	table, err := parseDelimitedUpload([]byte(text))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(table.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(table.Records))
	}
	if table.Headers[0] != "Branch Name" {
		t.Errorf("BOM must be stripped from header, got %q", table.Headers[0])
	}
	if table.Records[1].Line != 4 {
		t.Errorf("second record line = %d, want 4", table.Records[1].Line)
	}
}

func TestParseDelimitedUploadDecodesWindows1251(t *testing.T) {
	text := "Branch Name|Inventory Item Name|UOM|Quantity|Cost Per Unit\nГлавный|Мука|кг|1|10\n"
	encoded, err := charmap.Windows1251.NewEncoder().String(text)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	table, err := parseDelimitedUpload([]byte(encoded))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	rec := table.Records[0]
	if rec.Cells[colBranchName] != "Главный" || rec.Cells[colItemName] != "Мука" || rec.Cells[colUom] != "кг" {
		t.Errorf("cp1251 not decoded: %+v", rec.Cells)
	}
}

func TestParseDelimitedUploadRejectsEmptyFile(t *testing.T) {
	if _, err := parseDelimitedUpload([]byte("  \n ")); !errors.Is(err, ErrBadRequest) {
		t.Errorf("expected bad request for empty file, got %v", err)
	}
}

func TestParseUploadFileXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Branch Name", "Inventory Item Name", "UOM", "Quantity", "Cost Per Unit", "Batch Number"},
		{"Main", "Flour", "kg", "2", "50", "B1"},
		{},
		{"Second", "Sugar", "g", "500", "0.1", ""},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow failed: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer failed: %v", err)
	}

	table, err := parseUploadFile("inflows.XLSX", buf.Bytes())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(table.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(table.Records))
	}
	if table.Records[0].Cells[colBatchNumber] != "B1" || table.Records[0].Line != 2 {
		t.Errorf("unexpected first record: %+v", table.Records[0])
	}
	if table.Records[1].Line != 4 || table.Records[1].Cells[colQuantity] != "500" {
		t.Errorf("unexpected second record: %+v", table.Records[1])
	}
}

func TestParseUploadFileXLSXMissingColumns(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	header := []interface{}{"Branch Name", "UOM"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		t.Fatalf("SetSheetRow failed: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer failed: %v", err)
	}
	if _, err := parseUploadFile("inflows.xlsx", buf.Bytes()); !errors.Is(err, ErrBadRequest) {
		t.Errorf("expected bad request, got %v", err)
	}
}
