package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"restoerp/server/internal/models"
)

const (
	// Безопасный размер чанка для параметров PostgreSQL
	insertChunkSize = 1500
	logChunkSize    = 500

	noBatchKey = "no-batch"
)

// FailedUploadRow - строка загрузки, которая не была оприходована
type FailedUploadRow struct {
	LineNumber int                    `json:"line_number"`
	RowData    map[string]string      `json:"row_data"`
	Errors     []string               `json:"errors"`
	Status     models.UploadRowStatus `json:"status"`
	InflowID   *string                `json:"inflow_id,omitempty"`

	branchID string
}

// BulkUploadResult - итог массовой загрузки.
// Success - число оприходованных строк, DocumentsCreated - число документов (по одному на филиал)
type BulkUploadResult struct {
	UploadTag        string            `json:"upload_tag"`
	Success          int               `json:"success"`
	DocumentsCreated int               `json:"documents_created"`
	InflowIDs        []string          `json:"inflow_ids"`
	Errors           []string          `json:"errors"`
	FailedUploads    []FailedUploadRow `json:"failed_uploads"`
	DuplicateSkipped int               `json:"duplicate_skipped"`
}

// BulkUploadService разбирает файл поступлений и оприходует его по филиалам.
// Ошибки строк собираются в результат и не прерывают загрузку
type BulkUploadService struct {
	db        *gorm.DB
	inflows   *InflowService
	uom       *UoMConversionService
	publisher EventPublisher
	logger    *zap.SugaredLogger
}

// NewBulkUploadService создает новый экземпляр BulkUploadService
func NewBulkUploadService(db *gorm.DB, inflows *InflowService) *BulkUploadService {
	return &BulkUploadService{
		db:        db,
		inflows:   inflows,
		uom:       inflows.uom,
		publisher: NoopPublisher{},
		logger:    zap.S(),
	}
}

// SetEventPublisher устанавливает публикатор событий
func (s *BulkUploadService) SetEventPublisher(p EventPublisher) {
	s.publisher = p
}

// SetLogger устанавливает логгер сервиса
func (s *BulkUploadService) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

// BulkUploadInflows оприходует текстовую таблицу с разделителем tab, | или ,
func (s *BulkUploadService) BulkUploadInflows(ctx context.Context, tenantID, performedBy string, data []byte) (*BulkUploadResult, error) {
	table, err := parseDelimitedUpload(data)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, tenantID, performedBy, table)
}

// BulkUploadFile оприходует загруженный файл: XLSX или текстовую таблицу
func (s *BulkUploadService) BulkUploadFile(ctx context.Context, tenantID, performedBy, filename string, data []byte) (*BulkUploadResult, error) {
	table, err := parseUploadFile(filename, data)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, tenantID, performedBy, table)
}

// ListUploadLogs возвращает журнал неоприходованных строк загрузки
func (s *BulkUploadService) ListUploadLogs(ctx context.Context, tenantID, uploadTag string) ([]models.BulkUploadLog, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if uploadTag != "" {
		query = query.Where("upload_tag = ?", uploadTag)
	}
	var logs []models.BulkUploadLog
	if err := query.Order("created_at DESC, line_number ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения журнала загрузки: %w", err)
	}
	return logs, nil
}

// candidateRow - строка, прошедшая проверку формата
type candidateRow struct {
	rec uploadRecord

	branchName    string
	itemName      string
	uomName       string
	supplierName  string
	quantity      float64
	unitCost      float64
	receivedAt    *time.Time
	expiryDate    *time.Time
	invoiceNumber string
	batchNumber   string
	notes         string

	branch     *models.Branch
	item       *models.InventoryItem
	unit       *models.UnitOfMeasure
	supplierID *string
}

type uploadRun struct {
	result *BulkUploadResult
}

func (r *uploadRun) fail(rec uploadRecord, status models.UploadRowStatus, branchID string, errs ...string) {
	r.result.FailedUploads = append(r.result.FailedUploads, FailedUploadRow{
		LineNumber: rec.Line,
		RowData:    rec.Raw,
		Errors:     errs,
		Status:     status,
		branchID:   branchID,
	})
	for _, e := range errs {
		r.result.Errors = append(r.result.Errors, fmt.Sprintf("Строка %d: %s", rec.Line, e))
	}
	if status == models.UploadRowSkipped {
		r.result.DuplicateSkipped++
	}
}

func (s *BulkUploadService) process(ctx context.Context, tenantID, performedBy string, table *uploadTable) (*BulkUploadResult, error) {
	run := &uploadRun{result: &BulkUploadResult{
		UploadTag:     uuid.New().String(),
		InflowIDs:     []string{},
		Errors:        []string{},
		FailedUploads: []FailedUploadRow{},
	}}
	tag := run.result.UploadTag
	s.logger.Infof("📦 Массовая загрузка %s: %d строк (тенант %s)", tag, len(table.Records), tenantID)

	// Шаг 1: проверка формата строк
	candidates := make([]*candidateRow, 0, len(table.Records))
	for _, rec := range table.Records {
		if rec.Err != "" {
			run.fail(rec, models.UploadRowFailed, "", rec.Err)
			continue
		}
		row, errs := parseCandidate(rec)
		if len(errs) > 0 {
			run.fail(rec, models.UploadRowFailed, "", errs...)
			continue
		}
		candidates = append(candidates, row)
	}

	// Шаг 2: разрешение справочников по имени без учета регистра
	resolved, err := s.resolveReferences(ctx, tenantID, candidates, run)
	if err != nil {
		return nil, err
	}

	// Шаг 3: дубликаты внутри загрузки и конвертация в базовую единицу
	seen := make(map[string]int)
	var ready []*candidateRow
	var lines []InflowLineRequest
	for _, row := range resolved {
		batchKey := strings.ToLower(row.batchNumber)
		if batchKey == "" {
			batchKey = noBatchKey
		}
		key := row.branch.ID + "|" + row.item.ID + "|" + batchKey
		if first, dup := seen[key]; dup {
			run.fail(row.rec, models.UploadRowSkipped, row.branch.ID,
				fmt.Sprintf("дубликат строки %d (филиал, товар, партия)", first))
			continue
		}
		seen[key] = row.rec.Line

		if _, err := s.uom.Convert(ctx, tenantID, row.unit.ID, row.item.BaseUomID, row.quantity); err != nil {
			run.fail(row.rec, models.UploadRowFailed, row.branch.ID, err.Error())
			continue
		}

		ready = append(ready, row)
		lines = append(lines, InflowLineRequest{
			InventoryItemID: row.item.ID,
			UomID:           row.unit.ID,
			Quantity:        row.quantity,
			UnitCost:        row.unitCost,
			BatchNumber:     row.batchNumber,
			ExpiryDate:      row.expiryDate,
			SupplierID:      row.supplierID,
			ReceivedAt:      row.receivedAt,
		})
	}

	// Шаг 4: один документ на филиал, каждый в своей транзакции
	branchInflows := make(map[string]string)
	for _, group := range groupByBranch(ready, lines) {
		req := buildBranchRequest(group, performedBy, tag)
		inflow, err := s.commitBranchDocument(ctx, tenantID, req)
		if err != nil {
			s.logger.Errorf("❌ Загрузка %s: документ филиала %s не создан: %v", tag, group.branch.Name, err)
			for _, row := range group.rows {
				run.fail(row.rec, models.UploadRowFailed, row.branch.ID, fmt.Sprintf("ошибка создания документа: %v", err))
			}
			continue
		}
		branchInflows[group.branch.ID] = inflow.ID
		run.result.Success += len(group.rows)
		run.result.DocumentsCreated++
		run.result.InflowIDs = append(run.result.InflowIDs, inflow.ID)
		s.publisher.Publish(ctx, NewInventoryEvent(EventInflowCreated, tenantID, inflow))
	}

	// Шаг 5: журнал неоприходованных строк со ссылкой на документ филиала
	sort.SliceStable(run.result.FailedUploads, func(i, j int) bool {
		return run.result.FailedUploads[i].LineNumber < run.result.FailedUploads[j].LineNumber
	})
	for i := range run.result.FailedUploads {
		f := &run.result.FailedUploads[i]
		if id, ok := branchInflows[f.branchID]; ok {
			inflowID := id
			f.InflowID = &inflowID
		}
	}
	if err := s.writeUploadLogs(ctx, tenantID, tag, run.result.FailedUploads); err != nil {
		s.logger.Warnf("⚠️ Загрузка %s: журнал строк не сохранен: %v", tag, err)
		run.result.Errors = append(run.result.Errors, fmt.Sprintf("журнал загрузки не сохранен: %v", err))
	}

	s.logger.Infof("✅ Загрузка %s завершена: оприходовано %d, документов %d, ошибок %d, дубликатов %d",
		tag, run.result.Success, run.result.DocumentsCreated, len(run.result.FailedUploads)-run.result.DuplicateSkipped, run.result.DuplicateSkipped)
	s.publisher.Publish(ctx, NewInventoryEvent(EventBulkUploadCompleted, tenantID, map[string]interface{}{
		"upload_tag":        tag,
		"success":           run.result.Success,
		"documents_created": run.result.DocumentsCreated,
		"failed":            len(run.result.FailedUploads),
		"duplicate_skipped": run.result.DuplicateSkipped,
	}))
	return run.result, nil
}

func parseCandidate(rec uploadRecord) (*candidateRow, []string) {
	var errs []string
	cell := func(col string) string { return rec.Cells[col] }
	required := func(col, label string) string {
		v := cell(col)
		if v == "" {
			errs = append(errs, fmt.Sprintf("не заполнено поле %s", label))
		}
		return v
	}

	row := &candidateRow{
		rec:           rec,
		branchName:    required(colBranchName, "Branch Name"),
		itemName:      required(colItemName, "Inventory Item Name"),
		uomName:       required(colUom, "UOM"),
		supplierName:  cell(colSupplierName),
		invoiceNumber: cell(colInvoiceNumber),
		batchNumber:   cell(colBatchNumber),
		notes:         cell(colNotes),
	}

	if v := required(colQuantity, "Quantity"); v != "" {
		q, err := parseUploadNumber(v)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("некорректное количество: %s", v))
		case q <= 0:
			errs = append(errs, fmt.Sprintf("количество должно быть > 0, получено: %s", v))
		default:
			row.quantity = q
		}
	}
	if v := required(colCostPerUnit, "Cost Per Unit"); v != "" {
		c, err := parseUploadNumber(v)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("некорректная цена: %s", v))
		case c <= 0:
			errs = append(errs, fmt.Sprintf("цена должна быть > 0, получено: %s", v))
		default:
			row.unitCost = c
		}
	}
	if v := cell(colReceivedAt); v != "" {
		t, err := parseUploadDate(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("некорректная дата поступления: %s", v))
		}
		row.receivedAt = t
	}
	if v := cell(colExpiryDate); v != "" {
		t, err := parseUploadDate(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("некорректный срок годности: %s", v))
		}
		row.expiryDate = t
	}
	return row, errs
}

// parseUploadNumber принимает "1 234,5" и "1234.5"
func parseUploadNumber(v string) (float64, error) {
	v = strings.NewReplacer(" ", "", "\u00a0", "").Replace(v)
	if strings.Contains(v, ",") && !strings.Contains(v, ".") {
		v = strings.ReplaceAll(v, ",", ".")
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

var uploadDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02.01.2006",
	"02.01.2006 15:04",
}

func parseUploadDate(v string) (*time.Time, error) {
	for _, layout := range uploadDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("неизвестный формат даты: %s", v)
}

func lowerSet(rows []*candidateRow, pick func(*candidateRow) string) []string {
	set := make(map[string]bool)
	var out []string
	for _, r := range rows {
		name := strings.ToLower(pick(r))
		if name != "" && !set[name] {
			set[name] = true
			out = append(out, name)
		}
	}
	return out
}

// resolveReferences находит филиалы, товары, единицы и поставщиков одним запросом на справочник.
// Неизвестные поставщики создаются автоматически
func (s *BulkUploadService) resolveReferences(ctx context.Context, tenantID string, rows []*candidateRow, run *uploadRun) ([]*candidateRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	db := s.db.WithContext(ctx)

	var branches []models.Branch
	if names := lowerSet(rows, func(r *candidateRow) string { return r.branchName }); len(names) > 0 {
		if err := db.Where("tenant_id = ? AND LOWER(name) IN ?", tenantID, names).Find(&branches).Error; err != nil {
			return nil, fmt.Errorf("ошибка поиска филиалов: %w", err)
		}
	}
	branchByName := make(map[string]*models.Branch)
	for i := range branches {
		key := strings.ToLower(branches[i].Name)
		if _, ok := branchByName[key]; !ok {
			branchByName[key] = &branches[i]
		}
	}

	var items []models.InventoryItem
	if names := lowerSet(rows, func(r *candidateRow) string { return r.itemName }); len(names) > 0 {
		if err := db.Where("tenant_id = ? AND LOWER(name) IN ?", tenantID, names).Order("created_at ASC").Find(&items).Error; err != nil {
			return nil, fmt.Errorf("ошибка поиска товаров: %w", err)
		}
	}
	itemByName := make(map[string]*models.InventoryItem)
	for i := range items {
		key := strings.ToLower(items[i].Name)
		if _, ok := itemByName[key]; !ok {
			itemByName[key] = &items[i]
		}
	}

	var units []models.UnitOfMeasure
	if names := lowerSet(rows, func(r *candidateRow) string { return r.uomName }); len(names) > 0 {
		if err := db.Where("tenant_id = ? AND (LOWER(name) IN ? OR LOWER(abbreviation) IN ?)", tenantID, names, names).Find(&units).Error; err != nil {
			return nil, fmt.Errorf("ошибка поиска единиц измерения: %w", err)
		}
	}
	unitByName := make(map[string]*models.UnitOfMeasure)
	for i := range units {
		unitByName[strings.ToLower(units[i].Name)] = &units[i]
	}
	for i := range units {
		key := strings.ToLower(units[i].Abbreviation)
		if _, ok := unitByName[key]; !ok && key != "" {
			unitByName[key] = &units[i]
		}
	}

	var resolved []*candidateRow
	for _, row := range rows {
		var errs []string
		row.branch = branchByName[strings.ToLower(row.branchName)]
		if row.branch == nil {
			errs = append(errs, fmt.Sprintf("филиал '%s' не найден", row.branchName))
		}
		row.item = itemByName[strings.ToLower(row.itemName)]
		if row.item == nil {
			errs = append(errs, fmt.Sprintf("товар '%s' не найден", row.itemName))
		}
		row.unit = unitByName[strings.ToLower(row.uomName)]
		if row.unit == nil {
			errs = append(errs, fmt.Sprintf("единица измерения '%s' не найдена", row.uomName))
		}
		if len(errs) > 0 {
			branchID := ""
			if row.branch != nil {
				branchID = row.branch.ID
			}
			run.fail(row.rec, models.UploadRowFailed, branchID, errs...)
			continue
		}
		resolved = append(resolved, row)
	}

	suppliers, err := s.resolveSuppliers(ctx, tenantID, resolved)
	if err != nil {
		return nil, err
	}
	for _, row := range resolved {
		if sup, ok := suppliers[strings.ToLower(row.supplierName)]; ok {
			id := sup.ID
			row.supplierID = &id
		}
	}
	return resolved, nil
}

func (s *BulkUploadService) resolveSuppliers(ctx context.Context, tenantID string, rows []*candidateRow) (map[string]*models.Supplier, error) {
	names := lowerSet(rows, func(r *candidateRow) string { return r.supplierName })
	byName := make(map[string]*models.Supplier)
	if len(names) == 0 {
		return byName, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.Supplier
		if err := tx.Where("tenant_id = ? AND LOWER(name) IN ?", tenantID, names).Find(&existing).Error; err != nil {
			return fmt.Errorf("ошибка поиска поставщиков: %w", err)
		}
		for i := range existing {
			key := strings.ToLower(existing[i].Name)
			if _, ok := byName[key]; !ok {
				byName[key] = &existing[i]
			}
		}

		for _, row := range rows {
			key := strings.ToLower(row.supplierName)
			if key == "" {
				continue
			}
			if _, ok := byName[key]; ok {
				continue
			}
			supplier := &models.Supplier{TenantID: tenantID, Name: row.supplierName, AutoCreated: true}
			if err := tx.Create(supplier).Error; err != nil {
				return fmt.Errorf("ошибка автосоздания поставщика '%s': %w", row.supplierName, err)
			}
			byName[key] = supplier
			s.logger.Infof("🆕 Автоматически создан поставщик '%s' (тенант %s)", supplier.Name, tenantID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return byName, nil
}

type branchGroup struct {
	branch *models.Branch
	rows   []*candidateRow
	lines  []InflowLineRequest
}

// groupByBranch сохраняет порядок первого появления филиала в файле
func groupByBranch(rows []*candidateRow, lines []InflowLineRequest) []*branchGroup {
	var groups []*branchGroup
	index := make(map[string]*branchGroup)
	for i, row := range rows {
		g, ok := index[row.branch.ID]
		if !ok {
			g = &branchGroup{branch: row.branch}
			index[row.branch.ID] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, row)
		g.lines = append(g.lines, lines[i])
	}
	return groups
}

// buildBranchRequest собирает шапку документа: общий поставщик, первый номер накладной,
// самая ранняя дата поступления среди строк филиала
func buildBranchRequest(g *branchGroup, performedBy, tag string) CreateInflowRequest {
	req := CreateInflowRequest{
		BranchID:    g.branch.ID,
		PerformedBy: performedBy,
		Lines:       g.lines,
		Notes:       fmt.Sprintf("Массовая загрузка %s", tag),
		source:      models.InflowSourceBulkUpload,
		uploadTag:   &tag,
	}

	sameSupplier := true
	for i, row := range g.rows {
		if req.InvoiceNumber == "" && row.invoiceNumber != "" {
			req.InvoiceNumber = row.invoiceNumber
		}
		if row.receivedAt != nil && (req.ReceivedAt == nil || row.receivedAt.Before(*req.ReceivedAt)) {
			req.ReceivedAt = row.receivedAt
		}
		if i == 0 {
			req.SupplierID = row.supplierID
		} else if !sameID(req.SupplierID, row.supplierID) {
			sameSupplier = false
		}
		if row.notes != "" && !strings.Contains(req.Notes, row.notes) {
			req.Notes += "; " + row.notes
		}
	}
	if !sameSupplier {
		req.SupplierID = nil
	}
	return req
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// commitBranchDocument оприходует документ одного филиала в отдельной транзакции
func (s *BulkUploadService) commitBranchDocument(ctx context.Context, tenantID string, req CreateInflowRequest) (inflow *models.Inflow, err error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			s.logger.Errorf("❌ Транзакция откачена из-за panic: %v", r)
			inflow, err = nil, fmt.Errorf("внутренняя ошибка: %v", r)
		}
	}()

	inflow, err = s.inflows.createInflowTx(ctx, tx, tenantID, req)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("ошибка коммита документа: %w", err)
	}
	return inflow, nil
}

// writeUploadLogs сохраняет журнал чанками, чтобы ограничить размер одной вставки
func (s *BulkUploadService) writeUploadLogs(ctx context.Context, tenantID, tag string, failed []FailedUploadRow) error {
	if len(failed) == 0 {
		return nil
	}

	logs := make([]models.BulkUploadLog, 0, len(failed))
	for _, f := range failed {
		rowData, err := json.Marshal(f.RowData)
		if err != nil {
			return fmt.Errorf("ошибка сериализации строки %d: %w", f.LineNumber, err)
		}
		errs, err := json.Marshal(f.Errors)
		if err != nil {
			return fmt.Errorf("ошибка сериализации ошибок строки %d: %w", f.LineNumber, err)
		}
		logs = append(logs, models.BulkUploadLog{
			TenantID:   tenantID,
			UploadTag:  tag,
			InflowID:   f.InflowID,
			LineNumber: f.LineNumber,
			RowData:    string(rowData),
			Errors:     string(errs),
			Status:     f.Status,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(logs); i += logChunkSize {
			end := i + logChunkSize
			if end > len(logs) {
				end = len(logs)
			}
			if err := tx.CreateInBatches(logs[i:end], logChunkSize).Error; err != nil {
				return fmt.Errorf("ошибка вставки журнала (чанк %d-%d): %w", i, end, err)
			}
		}
		return nil
	})
}
