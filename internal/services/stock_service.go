package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"restoerp/server/internal/models"
)

// driftTolerance - расхождение меньше этого значения считается погрешностью округления
const driftTolerance = 1e-6

// StockService отдает остатки и партии и сверяет кэшированные счетчики с журналами
type StockService struct {
	db        *gorm.DB
	publisher EventPublisher
	logger    *zap.SugaredLogger
}

// NewStockService создает новый экземпляр StockService
func NewStockService(db *gorm.DB) *StockService {
	return &StockService{
		db:        db,
		publisher: NoopPublisher{},
		logger:    zap.S(),
	}
}

// SetEventPublisher устанавливает публикатор событий
func (s *StockService) SetEventPublisher(p EventPublisher) {
	s.publisher = p
}

// SetLogger устанавливает логгер сервиса
func (s *StockService) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

// BranchStockView - остаток товара в филиале
type BranchStockView struct {
	BranchID        string  `json:"branch_id"`
	BranchName      string  `json:"branch_name"`
	InventoryItemID string  `json:"inventory_item_id"`
	ItemName        string  `json:"item_name"`
	CurrentStock    float64 `json:"current_stock"`
	UnitPrice       float64 `json:"unit_price"`
	MinStock        float64 `json:"min_stock"`
	MaxStock        float64 `json:"max_stock"`
	Status          string  `json:"status"`
}

// ItemStock - агрегированный остаток товара с разбивкой по филиалам
type ItemStock struct {
	Item         models.InventoryItem `json:"item"`
	CurrentStock float64              `json:"current_stock"`
	Branches     []BranchStockView    `json:"branches"`
}

func stockStatus(current, min float64) string {
	switch {
	case current <= stockEpsilon:
		return "out_of_stock"
	case min > 0 && current < min:
		return "low_stock"
	default:
		return "in_stock"
	}
}

// GetItemStock возвращает агрегат товара и остатки по филиалам одним запросом с join
func (s *StockService) GetItemStock(ctx context.Context, tenantID, itemID string) (*ItemStock, error) {
	db := s.db.WithContext(ctx)
	var item models.InventoryItem
	if err := db.Preload("BaseUom").Where("tenant_id = ? AND id = ?", tenantID, itemID).Take(&item).Error; err != nil {
		return nil, lookupErr(err, "товар %s не найден", itemID)
	}

	var rows []BranchStockView
	if err := db.Table("branch_stocks AS bs").
		Select(`bs.branch_id, b.name AS branch_name, bs.inventory_item_id,
			bs.current_stock, bs.unit_price, bs.min_stock, bs.max_stock`).
		Joins("JOIN branches b ON b.id = bs.branch_id").
		Where("bs.tenant_id = ? AND bs.inventory_item_id = ?", tenantID, itemID).
		Order("b.name ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения остатков по филиалам: %w", err)
	}
	for i := range rows {
		rows[i].ItemName = item.Name
		rows[i].Status = stockStatus(rows[i].CurrentStock, rows[i].MinStock)
	}

	return &ItemStock{Item: item, CurrentStock: item.CurrentStock, Branches: rows}, nil
}

// ListBranchStock возвращает все остатки филиала
func (s *StockService) ListBranchStock(ctx context.Context, tenantID, branchID string) ([]BranchStockView, error) {
	db := s.db.WithContext(ctx)
	if _, err := ensureBranch(db, tenantID, branchID); err != nil {
		return nil, err
	}

	var rows []BranchStockView
	if err := db.Table("branch_stocks AS bs").
		Select(`bs.branch_id, b.name AS branch_name, bs.inventory_item_id, i.name AS item_name,
			bs.current_stock, bs.unit_price, bs.min_stock, bs.max_stock`).
		Joins("JOIN branches b ON b.id = bs.branch_id").
		Joins("JOIN inventory_items i ON i.id = bs.inventory_item_id").
		Where("bs.tenant_id = ? AND bs.branch_id = ?", tenantID, branchID).
		Order("i.name ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения остатков филиала: %w", err)
	}
	for i := range rows {
		rows[i].Status = stockStatus(rows[i].CurrentStock, rows[i].MinStock)
	}
	return rows, nil
}

// ListBatches возвращает партии товара с вычисленным доступным остатком.
// При onlyAvailable = true исчерпанные партии не возвращаются
func (s *StockService) ListBatches(ctx context.Context, tenantID, itemID, branchID string, onlyAvailable bool) ([]models.InflowBatch, error) {
	db := s.db.WithContext(ctx)
	query := db.Where("tenant_id = ?", tenantID)
	if itemID != "" {
		query = query.Where("inventory_item_id = ?", itemID)
	}
	if branchID != "" {
		query = query.Where("branch_id = ?", branchID)
	}

	var batches []models.InflowBatch
	if err := query.Order(batchOrder(models.AllocationFIFO)).Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения партий: %w", err)
	}
	return withAvailability(db, batches, onlyAvailable)
}

func withAvailability(db *gorm.DB, batches []models.InflowBatch, onlyAvailable bool) ([]models.InflowBatch, error) {
	ids := make([]string, len(batches))
	for i := range batches {
		ids[i] = batches[i].ID
	}
	usage, err := batchUsage(db, ids)
	if err != nil {
		return nil, err
	}

	result := make([]models.InflowBatch, 0, len(batches))
	for _, b := range batches {
		b.Available = roundQty(b.BaseQuantity - usage[b.ID])
		if onlyAvailable && b.Available <= stockEpsilon {
			continue
		}
		result = append(result, b)
	}
	return result, nil
}

// ExpiringBatch - партия с подходящим к концу сроком годности
type ExpiringBatch struct {
	models.InflowBatch
	HoursUntilExpiry float64 `json:"hours_until_expiry"`
	RiskLevel        string  `json:"risk_level"`
}

// GetExpiringBatches возвращает партии с остатком, срок годности которых истекает в пределах within.
// Просроченные партии тоже попадают в выборку
func (s *StockService) GetExpiringBatches(ctx context.Context, tenantID, branchID string, within time.Duration) ([]ExpiringBatch, error) {
	db := s.db.WithContext(ctx)
	now := time.Now().UTC()
	query := db.Where("tenant_id = ? AND expiry_date IS NOT NULL AND expiry_date <= ?", tenantID, now.Add(within))
	if branchID != "" {
		query = query.Where("branch_id = ?", branchID)
	}

	var batches []models.InflowBatch
	if err := query.Order(batchOrder(models.AllocationFEFO)).Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения партий с истекающим сроком: %w", err)
	}
	batches, err := withAvailability(db, batches, true)
	if err != nil {
		return nil, err
	}

	result := make([]ExpiringBatch, 0, len(batches))
	for _, b := range batches {
		hours := b.ExpiryDate.Sub(now).Hours()
		result = append(result, ExpiringBatch{InflowBatch: b, HoursUntilExpiry: hours, RiskLevel: riskLevel(hours)})
	}
	return result, nil
}

func riskLevel(hoursUntilExpiry float64) string {
	if hoursUntilExpiry <= 3 {
		return "critical"
	}
	if hoursUntilExpiry <= 24 {
		return "warning"
	}
	return "safe"
}

// StockDrift - расхождение кэшированного остатка с остатком, восстановленным по журналам.
// Для агрегата товара BranchID пустой
type StockDrift struct {
	TenantID        string  `json:"tenant_id"`
	BranchID        string  `json:"branch_id,omitempty"`
	InventoryItemID string  `json:"inventory_item_id"`
	ItemName        string  `json:"item_name"`
	Cached          float64 `json:"cached"`
	Derived         float64 `json:"derived"`
	Drift           float64 `json:"drift"`
	Repaired        bool    `json:"repaired"`
}

type stockKey struct {
	BranchID        string
	InventoryItemID string
}

type stockSum struct {
	BranchID        string
	InventoryItemID string
	Total           float64
}

// Reconcile восстанавливает остатки по журналам и сравнивает их со счетчиками.
// Для товаров с партиями: сумма партий филиала минус списания с них.
// Для остальных: сумма движений филиала. При repair счетчики сдвигаются на расхождение
func (s *StockService) Reconcile(ctx context.Context, tenantID string, repair bool) ([]StockDrift, error) {
	var drifts []StockDrift
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		drifts, err = s.reconcileTx(tx, tenantID, repair)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(drifts) > 0 {
		s.logger.Warnf("⚠️ Сверка остатков тенанта %s: найдено расхождений %d (исправлено: %v)", tenantID, len(drifts), repair)
		s.publisher.Publish(ctx, NewInventoryEvent(EventStockDriftDetected, tenantID, drifts))
	}
	return drifts, nil
}

func (s *StockService) reconcileTx(tx *gorm.DB, tenantID string, repair bool) ([]StockDrift, error) {
	// При исправлении счетчики блокируются до подсчета журналов в том же порядке,
	// что и при списании (товар, затем филиал): параллельная продажа ждет сверку
	rows := func() *gorm.DB {
		if repair {
			return tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		return tx
	}

	var items []models.InventoryItem
	if err := rows().Where("tenant_id = ?", tenantID).Order("id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения товаров: %w", err)
	}
	itemByID := make(map[string]*models.InventoryItem, len(items))
	for i := range items {
		itemByID[items[i].ID] = &items[i]
	}

	var cachedRows []models.BranchStock
	if err := rows().Where("tenant_id = ?", tenantID).Order("inventory_item_id, branch_id").Find(&cachedRows).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения остатков филиалов: %w", err)
	}
	cached := make(map[stockKey]float64, len(cachedRows))
	for _, bs := range cachedRows {
		cached[stockKey{bs.BranchID, bs.InventoryItemID}] = bs.CurrentStock
	}

	var batchSums, usedSums, movementSums []stockSum
	if err := tx.Model(&models.InflowBatch{}).
		Select("branch_id, inventory_item_id, SUM(base_quantity) AS total").
		Where("tenant_id = ?", tenantID).
		Group("branch_id, inventory_item_id").
		Scan(&batchSums).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета партий: %w", err)
	}
	if err := tx.Table("inventory_allocations AS a").
		Select("b.branch_id, b.inventory_item_id, SUM(a.quantity_used) AS total").
		Joins("JOIN inflow_batches b ON b.id = a.inflow_batch_id").
		Where("b.tenant_id = ?", tenantID).
		Group("b.branch_id, b.inventory_item_id").
		Scan(&usedSums).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета списаний: %w", err)
	}
	if err := tx.Model(&models.StockMovement{}).
		Select("branch_id, inventory_item_id, SUM(quantity) AS total").
		Where("tenant_id = ?", tenantID).
		Group("branch_id, inventory_item_id").
		Scan(&movementSums).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчета движений: %w", err)
	}

	derived := make(map[stockKey]float64)
	for _, r := range batchSums {
		if item := itemByID[r.InventoryItemID]; item != nil && item.IsTrackable {
			derived[stockKey{r.BranchID, r.InventoryItemID}] += r.Total
		}
	}
	for _, r := range usedSums {
		if item := itemByID[r.InventoryItemID]; item != nil && item.IsTrackable {
			derived[stockKey{r.BranchID, r.InventoryItemID}] -= r.Total
		}
	}
	for _, r := range movementSums {
		if item := itemByID[r.InventoryItemID]; item != nil && !item.IsTrackable {
			derived[stockKey{r.BranchID, r.InventoryItemID}] += r.Total
		}
	}

	keys := make([]stockKey, 0, len(derived)+len(cached))
	seen := make(map[stockKey]bool)
	for _, m := range []map[stockKey]float64{cached, derived} {
		for k := range m {
			if !seen[k] && itemByID[k.InventoryItemID] != nil {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].InventoryItemID != keys[j].InventoryItemID {
			return keys[i].InventoryItemID < keys[j].InventoryItemID
		}
		return keys[i].BranchID < keys[j].BranchID
	})

	var drifts []StockDrift
	itemTotals := make(map[string]float64)
	for _, k := range keys {
		item := itemByID[k.InventoryItemID]
		want := roundQty(derived[k])
		have := cached[k]
		itemTotals[k.InventoryItemID] += want
		if math.Abs(want-have) <= driftTolerance {
			continue
		}

		drift := StockDrift{
			TenantID:        tenantID,
			BranchID:        k.BranchID,
			InventoryItemID: item.ID,
			ItemName:        item.Name,
			Cached:          have,
			Derived:         want,
			Drift:           roundQty(have - want),
		}
		if repair {
			if err := s.repairBranchStock(tx, tenantID, k.BranchID, item, want, have); err != nil {
				return nil, err
			}
			drift.Repaired = true
		}
		drifts = append(drifts, drift)
	}

	for i := range items {
		item := &items[i]
		want := roundQty(itemTotals[item.ID])
		if math.Abs(want-item.CurrentStock) <= driftTolerance {
			continue
		}
		drift := StockDrift{
			TenantID:        tenantID,
			InventoryItemID: item.ID,
			ItemName:        item.Name,
			Cached:          item.CurrentStock,
			Derived:         want,
			Drift:           roundQty(item.CurrentStock - want),
		}
		if repair {
			if err := tx.Model(&models.InventoryItem{}).Where("id = ?", item.ID).
				Update("current_stock", gorm.Expr("current_stock + ?", roundQty(want-item.CurrentStock))).Error; err != nil {
				return nil, fmt.Errorf("ошибка исправления остатка товара: %w", err)
			}
			drift.Repaired = true
		}
		drifts = append(drifts, drift)
	}
	return drifts, nil
}

// repairBranchStock сдвигает остаток филиала к восстановленному значению.
// Для товаров с партиями корректировка фиксируется в журнале движений
func (s *StockService) repairBranchStock(tx *gorm.DB, tenantID, branchID string, item *models.InventoryItem, want, have float64) error {
	bs, err := lockBranchStock(tx, tenantID, branchID, item, true)
	if err != nil {
		return err
	}
	if err := tx.Model(&models.BranchStock{}).Where("id = ?", bs.ID).
		Update("current_stock", gorm.Expr("current_stock + ?", roundQty(want-have))).Error; err != nil {
		return fmt.Errorf("ошибка исправления остатка филиала: %w", err)
	}
	if !item.IsTrackable {
		return nil
	}
	movement := models.StockMovement{
		TenantID:        tenantID,
		BranchID:        branchID,
		InventoryItemID: item.ID,
		Quantity:        roundQty(want - have),
		MovementType:    models.MovementAdjustment,
		PerformedBy:     "reconcile",
		Notes:           "Корректировка по результатам сверки",
	}
	if err := tx.Create(&movement).Error; err != nil {
		return fmt.Errorf("ошибка записи корректировки: %w", err)
	}
	return nil
}

// ReconcileAll сверяет остатки всех тенантов и возвращает общее число расхождений
func (s *StockService) ReconcileAll(ctx context.Context, repair bool) (int, error) {
	var tenants []string
	if err := s.db.WithContext(ctx).Model(&models.InventoryItem{}).
		Distinct("tenant_id").
		Pluck("tenant_id", &tenants).Error; err != nil {
		return 0, fmt.Errorf("ошибка получения тенантов: %w", err)
	}

	total := 0
	for _, tenantID := range tenants {
		drifts, err := s.Reconcile(ctx, tenantID, repair)
		if err != nil {
			s.logger.Errorf("❌ Ошибка сверки остатков тенанта %s: %v", tenantID, err)
			continue
		}
		total += len(drifts)
	}
	return total, nil
}
