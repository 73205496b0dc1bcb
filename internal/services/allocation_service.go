package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"restoerp/server/internal/models"
)

// AllocationService списывает партии товара по политике FIFO, LIFO или FEFO
// и считает средневзвешенную себестоимость списания
type AllocationService struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

// NewAllocationService создает новый экземпляр AllocationService
func NewAllocationService(db *gorm.DB) *AllocationService {
	return &AllocationService{
		db:     db,
		logger: zap.S(),
	}
}

// SetLogger устанавливает логгер сервиса
func (s *AllocationService) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

// AllocationRequest - запрос на списание количества в базовой единице
type AllocationRequest struct {
	BranchID        string                  `json:"branch_id" binding:"required"`
	InventoryItemID string                  `json:"inventory_item_id" binding:"required"`
	Quantity        float64                 `json:"quantity"` // В базовой единице товара
	Method          models.AllocationMethod `json:"method"`
	SourceLineID    string                  `json:"source_line_id"` // Строка заказа внешнего документа
	ReferenceID     string                  `json:"reference_id"`
	PerformedBy     string                  `json:"performed_by"`

	// Тип источника задают только продажи и перемещения через AllocateInTx
	SourceType models.AllocationSource `json:"-"`
}

// AllocationLine - часть запроса, покрытая одной партией
type AllocationLine struct {
	InflowBatchID string     `json:"inflow_batch_id"`
	BatchNumber   string     `json:"batch_number,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	ReceivedAt    time.Time  `json:"received_at"`
	QuantityUsed  float64    `json:"quantity_used"`
	CostPerUnit   float64    `json:"cost_per_unit"`
	TotalCost     float64    `json:"total_cost"`
}

// AllocationResult - итог списания. CostPrice - средневзвешенная цена за базовую единицу
type AllocationResult struct {
	InventoryItemID string                  `json:"inventory_item_id"`
	BranchID        string                  `json:"branch_id"`
	Method          models.AllocationMethod `json:"method"`
	Quantity        float64                 `json:"quantity"`
	CostPrice       float64                 `json:"cost_price"`
	CostTotal       float64                 `json:"cost_total"`
	Allocations     []AllocationLine        `json:"allocations"`
}

func (r *AllocationRequest) normalize() error {
	if r.Quantity <= 0 {
		return badRequest("количество списания должно быть > 0, получено: %v", r.Quantity)
	}
	if r.Method == "" {
		r.Method = models.AllocationFIFO
	}
	if !r.Method.Valid() {
		return badRequest("неизвестный метод списания: %s", r.Method)
	}
	if r.SourceType == "" {
		r.SourceType = models.AllocationSourceOrderLine
	}
	if r.SourceLineID == "" {
		r.SourceLineID = uuid.New().String()
	}
	return nil
}

// Allocate списывает партии в отдельной транзакции. Используется внешним
// документом продажи, который сам хранит себестоимость своей строки.
// Списания перемещений и их сторно сюда не принимаются
func (s *AllocationService) Allocate(ctx context.Context, tenantID string, req AllocationRequest) (*AllocationResult, error) {
	if req.SourceType != "" && req.SourceType != models.AllocationSourceOrderLine {
		return nil, badRequest("тип источника %s недоступен для внешнего списания", req.SourceType)
	}
	req.SourceType = models.AllocationSourceOrderLine

	var result *AllocationResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.AllocateInTx(tx, tenantID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infof("✅ Списано %g товара %s в филиале %s (%s), себестоимость %.2f",
		result.Quantity, result.InventoryItemID, result.BranchID, result.Method, result.CostPrice)
	return result, nil
}

// AllocateInTx списывает партии внутри транзакции вызывающего.
// Списание либо покрывает весь запрос, либо возвращает ошибку без изменений
func (s *AllocationService) AllocateInTx(tx *gorm.DB, tenantID string, req AllocationRequest) (*AllocationResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	if _, err := ensureBranch(tx, tenantID, req.BranchID); err != nil {
		return nil, err
	}
	item, err := lockItem(tx, tenantID, req.InventoryItemID)
	if err != nil {
		return nil, err
	}

	result := &AllocationResult{
		InventoryItemID: item.ID,
		BranchID:        req.BranchID,
		Method:          req.Method,
		Quantity:        req.Quantity,
		Allocations:     []AllocationLine{},
	}

	if item.IsTrackable {
		lines, err := planAllocation(tx, tenantID, item, req.BranchID, req.Quantity, req.Method, true)
		if err != nil {
			return nil, err
		}
		result.Allocations = lines
		result.CostTotal, result.CostPrice = weightedCost(lines, req.Quantity)
	} else {
		// Товар без партий списывается по последней закупочной цене
		result.CostPrice = decimal.NewFromFloat(item.LastCost).Round(2).InexactFloat64()
		result.CostTotal = decimal.NewFromFloat(item.LastCost).Mul(decimal.NewFromFloat(req.Quantity)).Round(2).InexactFloat64()
	}

	if err := applyStockChange(tx, stockChange{
		TenantID:    tenantID,
		BranchID:    req.BranchID,
		Item:        item,
		Delta:       -req.Quantity,
		Type:        movementForSource(req.SourceType),
		ReferenceID: req.ReferenceID,
		PerformedBy: req.PerformedBy,
		Notes:       fmt.Sprintf("Списание %s", req.Method),
	}); err != nil {
		return nil, err
	}

	if len(result.Allocations) > 0 {
		rows := make([]models.Allocation, 0, len(result.Allocations))
		for _, line := range result.Allocations {
			rows = append(rows, models.Allocation{
				TenantID:      tenantID,
				InflowBatchID: line.InflowBatchID,
				SourceType:    req.SourceType,
				SourceLineID:  req.SourceLineID,
				QuantityUsed:  line.QuantityUsed,
				CostPerUnit:   line.CostPerUnit,
				TotalCost:     line.TotalCost,
			})
		}
		if err := tx.CreateInBatches(rows, insertChunkSize).Error; err != nil {
			return nil, fmt.Errorf("ошибка записи журнала списаний: %w", err)
		}
	}
	return result, nil
}

// PreviewAllocation показывает, какие партии будут списаны, ничего не меняя
func (s *AllocationService) PreviewAllocation(ctx context.Context, tenantID string, req AllocationRequest) (*AllocationResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if _, err := ensureBranch(db, tenantID, req.BranchID); err != nil {
		return nil, err
	}
	var item models.InventoryItem
	if err := db.Preload("BaseUom").Where("tenant_id = ? AND id = ?", tenantID, req.InventoryItemID).Take(&item).Error; err != nil {
		return nil, lookupErr(err, "товар %s не найден", req.InventoryItemID)
	}

	result := &AllocationResult{
		InventoryItemID: item.ID,
		BranchID:        req.BranchID,
		Method:          req.Method,
		Quantity:        req.Quantity,
		Allocations:     []AllocationLine{},
	}
	if !item.IsTrackable {
		bs, err := lockBranchStock(db, tenantID, req.BranchID, &item, false)
		if err != nil {
			return nil, err
		}
		available := 0.0
		if bs != nil {
			available = bs.CurrentStock
		}
		if available+stockEpsilon < req.Quantity {
			return nil, insufficientStock(&item, available, req.Quantity)
		}
		result.CostPrice = decimal.NewFromFloat(item.LastCost).Round(2).InexactFloat64()
		result.CostTotal = decimal.NewFromFloat(item.LastCost).Mul(decimal.NewFromFloat(req.Quantity)).Round(2).InexactFloat64()
		return result, nil
	}

	lines, err := planAllocation(db, tenantID, &item, req.BranchID, req.Quantity, req.Method, false)
	if err != nil {
		return nil, err
	}
	result.Allocations = lines
	result.CostTotal, result.CostPrice = weightedCost(lines, req.Quantity)
	return result, nil
}

// BatchConsumption возвращает суммарное списание с партии с учетом сторно
func (s *AllocationService) BatchConsumption(ctx context.Context, tenantID, batchID string) (float64, error) {
	var batch models.InflowBatch
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, batchID).Take(&batch).Error; err != nil {
		return 0, lookupErr(err, "партия %s не найдена", batchID)
	}
	usage, err := batchUsage(s.db.WithContext(ctx), []string{batchID})
	if err != nil {
		return 0, err
	}
	return usage[batchID], nil
}

// ListAllocations возвращает журнал списаний строки документа
func (s *AllocationService) ListAllocations(ctx context.Context, tenantID, sourceLineID string) ([]models.Allocation, error) {
	var rows []models.Allocation
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND source_line_id = ?", tenantID, sourceLineID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения журнала списаний: %w", err)
	}
	return rows, nil
}

func movementForSource(source models.AllocationSource) models.MovementType {
	if source == models.AllocationSourceTransferLine {
		return models.MovementTransferOut
	}
	return models.MovementSale
}

// batchOrder - порядок обхода партий для политики списания
func batchOrder(method models.AllocationMethod) string {
	switch method {
	case models.AllocationLIFO:
		return "received_at DESC, created_at DESC, id DESC"
	case models.AllocationFEFO:
		return "expiry_date ASC NULLS LAST, received_at ASC, created_at ASC, id ASC"
	default:
		return "received_at ASC, created_at ASC, id ASC"
	}
}

// batchUsage считает списания по партиям одним сгруппированным запросом
func batchUsage(db *gorm.DB, batchIDs []string) (map[string]float64, error) {
	usage := make(map[string]float64, len(batchIDs))
	if len(batchIDs) == 0 {
		return usage, nil
	}
	var rows []struct {
		InflowBatchID string
		Used          float64
	}
	if err := db.Model(&models.Allocation{}).
		Select("inflow_batch_id, COALESCE(SUM(quantity_used), 0) AS used").
		Where("inflow_batch_id IN ?", batchIDs).
		Group("inflow_batch_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета списаний партий: %w", err)
	}
	for _, r := range rows {
		usage[r.InflowBatchID] = r.Used
	}
	return usage, nil
}

// planAllocation обходит партии филиала в порядке политики. При lock = true
// строки партий блокируются до подсчета доступного количества
func planAllocation(db *gorm.DB, tenantID string, item *models.InventoryItem, branchID string, qty float64, method models.AllocationMethod, lock bool) ([]AllocationLine, error) {
	query := db.Where("tenant_id = ? AND inventory_item_id = ? AND branch_id = ?", tenantID, item.ID, branchID).
		Order(batchOrder(method))
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var batches []models.InflowBatch
	if err := query.Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения партий: %w", err)
	}
	if len(batches) == 0 {
		return nil, badRequest("нет остатков товара %s в этом филиале", item.Name)
	}

	ids := make([]string, len(batches))
	for i := range batches {
		ids[i] = batches[i].ID
	}
	usage, err := batchUsage(db, ids)
	if err != nil {
		return nil, err
	}

	remaining := decimal.NewFromFloat(qty)
	totalAvailable := 0.0
	var lines []AllocationLine
	for _, b := range batches {
		available := b.BaseQuantity - usage[b.ID]
		if available <= stockEpsilon {
			continue
		}
		totalAvailable += available
		if !remaining.IsPositive() {
			continue
		}
		take := decimal.Min(decimal.NewFromFloat(available), remaining)
		cost := take.Mul(decimal.NewFromFloat(b.UnitCost))
		lines = append(lines, AllocationLine{
			InflowBatchID: b.ID,
			BatchNumber:   b.BatchNumber,
			ExpiryDate:    b.ExpiryDate,
			ReceivedAt:    b.ReceivedAt,
			QuantityUsed:  take.InexactFloat64(),
			CostPerUnit:   b.UnitCost,
			TotalCost:     cost.Round(6).InexactFloat64(),
		})
		remaining = remaining.Sub(take)
	}

	if remaining.InexactFloat64() > stockEpsilon {
		return nil, insufficientStock(item, totalAvailable, qty)
	}
	return lines, nil
}

// weightedCost возвращает сумму и средневзвешенную цену, округленные до копеек
func weightedCost(lines []AllocationLine, qty float64) (float64, float64) {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(decimal.NewFromFloat(l.TotalCost))
	}
	if qty <= 0 {
		return total.Round(2).InexactFloat64(), 0
	}
	price := total.Div(decimal.NewFromFloat(qty)).Round(2)
	return total.Round(2).InexactFloat64(), price.InexactFloat64()
}
