package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Нормализованные названия колонок файла поступлений
const (
	colBranchName    = "branchname"
	colItemName      = "inventoryitemname"
	colUom           = "uom"
	colQuantity      = "quantity"
	colCostPerUnit   = "costperunit"
	colSupplierName  = "suppliername"
	colReceivedAt    = "receivedat"
	colInvoiceNumber = "invoicenumber"
	colBatchNumber   = "batchnumber"
	colExpiryDate    = "expirydate"
	colNotes         = "notes"
)

var requiredUploadColumns = []string{colBranchName, colItemName, colUom, colQuantity, colCostPerUnit}

// Порядок перебора разделителей
var uploadDelimiters = []rune{'\t', '|', ','}

// uploadRecord - строка файла с номером строки в файле (заголовок = 1)
type uploadRecord struct {
	Line  int
	Cells map[string]string // нормализованная колонка -> значение
	Raw   map[string]string // исходный заголовок -> значение
	Err   string            // ошибка разбора строки
}

type uploadTable struct {
	Headers []string
	Records []uploadRecord
}

// normalizeHeader убирает все кроме букв и цифр и приводит к нижнему регистру:
// "Cost Per Unit", "cost_per_unit" и "COST-PER-UNIT" дают "costperunit"
func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range h {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func missingColumns(headers []string) []string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[normalizeHeader(h)] = true
	}
	var missing []string
	for _, col := range requiredUploadColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing
}

// decodeUploadText приводит файл к UTF-8: выгрузки из 1С приходят в Windows-1251
func decodeUploadText(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data
	}
	decoded, _, err := transform.Bytes(charmap.Windows1251.NewDecoder(), data)
	if err != nil {
		return data
	}
	return decoded
}

// parseUploadFile выбирает парсер по расширению файла
func parseUploadFile(filename string, data []byte) (*uploadTable, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return parseXLSXUpload(data)
	default:
		return parseDelimitedUpload(data)
	}
}

// parseDelimitedUpload пробует табуляцию, вертикальную черту и запятую
// и берет первый разделитель, при котором в заголовке есть все обязательные колонки
func parseDelimitedUpload(data []byte) (*uploadTable, error) {
	text := decodeUploadText(data)
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, badRequest("файл пуст")
	}

	var bestMissing []string
	for _, delim := range uploadDelimiters {
		header, err := newUploadReader(text, delim).Read()
		if err != nil {
			continue
		}
		missing := missingColumns(header)
		if len(missing) == 0 {
			return readDelimitedTable(text, delim)
		}
		if bestMissing == nil || len(missing) < len(bestMissing) {
			bestMissing = missing
		}
	}
	if bestMissing == nil {
		bestMissing = requiredUploadColumns
	}
	return nil, badRequest("отсутствуют обязательные колонки: %s", strings.Join(bestMissing, ", "))
}

func newUploadReader(text []byte, delim rune) *csv.Reader {
	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return reader
}

func readDelimitedTable(text []byte, delim rune) (*uploadTable, error) {
	reader := newUploadReader(text, delim)
	header, err := reader.Read()
	if err != nil {
		return nil, badRequest("ошибка чтения заголовка: %v", err)
	}
	table := &uploadTable{Headers: cleanHeaders(header)}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				table.Records = append(table.Records, uploadRecord{
					Line:  parseErr.Line,
					Cells: map[string]string{},
					Raw:   map[string]string{},
					Err:   fmt.Sprintf("ошибка разбора строки: %v", parseErr.Err),
				})
				continue
			}
			return nil, fmt.Errorf("ошибка чтения файла: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if rec, ok := buildRecord(table.Headers, record, line); ok {
			table.Records = append(table.Records, rec)
		}
	}
	return table, nil
}

// parseXLSXUpload читает первый лист книги, первая строка - заголовок
func parseXLSXUpload(data []byte) (*uploadTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, badRequest("ошибка открытия XLSX файла: %v", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, badRequest("файл не содержит листов")
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, badRequest("ошибка чтения листа: %v", err)
	}
	if len(rows) == 0 {
		return nil, badRequest("файл пуст")
	}

	if missing := missingColumns(rows[0]); len(missing) > 0 {
		return nil, badRequest("отсутствуют обязательные колонки: %s", strings.Join(missing, ", "))
	}

	table := &uploadTable{Headers: cleanHeaders(rows[0])}
	for i, row := range rows[1:] {
		if rec, ok := buildRecord(table.Headers, row, i+2); ok {
			table.Records = append(table.Records, rec)
		}
	}
	return table, nil
}

func cleanHeaders(header []string) []string {
	cleaned := make([]string, len(header))
	for i, h := range header {
		cleaned[i] = strings.TrimSpace(strings.Trim(h, "\"'\t"))
	}
	return cleaned
}

// buildRecord раскладывает ячейки по колонкам; полностью пустые строки пропускаются
func buildRecord(headers, values []string, line int) (uploadRecord, bool) {
	rec := uploadRecord{
		Line:  line,
		Cells: make(map[string]string, len(headers)),
		Raw:   make(map[string]string, len(headers)),
	}
	hasData := false
	for i, h := range headers {
		if h == "" {
			continue
		}
		value := ""
		if i < len(values) {
			value = strings.TrimSpace(strings.Trim(values[i], "\"'"))
		}
		rec.Raw[h] = value
		rec.Cells[normalizeHeader(h)] = value
		if value != "" {
			hasData = true
		}
	}
	return rec, hasData
}
