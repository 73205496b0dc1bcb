package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"restoerp/server/internal/models"
)

// SaleService проводит продажу вместе со списанием партий
type SaleService struct {
	db         *gorm.DB
	uom        *UoMConversionService
	allocation *AllocationService
	publisher  EventPublisher
	logger     *zap.SugaredLogger
}

// NewSaleService создает новый экземпляр SaleService
func NewSaleService(db *gorm.DB, uom *UoMConversionService, allocation *AllocationService) *SaleService {
	return &SaleService{
		db:         db,
		uom:        uom,
		allocation: allocation,
		publisher:  NoopPublisher{},
		logger:     zap.S(),
	}
}

// SetEventPublisher устанавливает публикатор событий
func (s *SaleService) SetEventPublisher(p EventPublisher) {
	s.publisher = p
}

// SetLogger устанавливает логгер сервиса
func (s *SaleService) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

// SaleLineRequest - строка продажи в выбранной единице
type SaleLineRequest struct {
	InventoryItemID string  `json:"inventory_item_id" binding:"required"`
	UomID           string  `json:"uom_id" binding:"required"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"` // За единицу строки
}

// CreateSaleRequest - продажа в одном филиале
type CreateSaleRequest struct {
	BranchID    string                  `json:"branch_id" binding:"required"`
	Method      models.AllocationMethod `json:"method"`
	TaxPercent  float64                 `json:"tax_percent"`
	PerformedBy string                  `json:"performed_by"`
	Lines       []SaleLineRequest       `json:"lines" binding:"required"`
}

// CreateSale проводит продажу одной транзакцией: шапка, строки, списание партий
// и остатки. Ошибка любой строки откатывает всю продажу
func (s *SaleService) CreateSale(ctx context.Context, tenantID string, req CreateSaleRequest) (*models.SaleOrder, error) {
	if len(req.Lines) == 0 {
		return nil, badRequest("продажа не содержит строк")
	}
	if req.Method == "" {
		req.Method = models.AllocationFIFO
	}
	if !req.Method.Valid() {
		return nil, badRequest("неизвестный метод списания: %s", req.Method)
	}
	if req.TaxPercent < 0 {
		return nil, badRequest("ставка налога не может быть отрицательной")
	}
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, badRequest("строка %d: количество должно быть > 0, получено: %v", i+1, line.Quantity)
		}
		if line.UnitPrice < 0 {
			return nil, badRequest("строка %d: цена не может быть отрицательной", i+1)
		}
	}

	var order *models.SaleOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.createSaleTx(ctx, tx, tenantID, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("✅ Продажа %s проведена: филиал %s, сумма %.2f, себестоимость %.2f, прибыль %.2f",
		order.ID, order.BranchID, order.Total, order.CostTotal, order.Profit)
	s.publisher.Publish(ctx, NewInventoryEvent(EventSaleCreated, tenantID, order))
	return order, nil
}

func (s *SaleService) createSaleTx(ctx context.Context, tx *gorm.DB, tenantID string, req CreateSaleRequest) (*models.SaleOrder, error) {
	order := &models.SaleOrder{
		TenantID:    tenantID,
		BranchID:    req.BranchID,
		Method:      req.Method,
		TaxPercent:  req.TaxPercent,
		PerformedBy: req.PerformedBy,
	}
	if err := tx.Create(order).Error; err != nil {
		return nil, fmt.Errorf("ошибка создания продажи: %w", err)
	}

	subtotal := decimal.Zero
	costTotal := decimal.Zero
	lines := make([]models.SaleOrderLine, 0, len(req.Lines))
	for i, lr := range req.Lines {
		var item models.InventoryItem
		if err := tx.Where("tenant_id = ? AND id = ?", tenantID, lr.InventoryItemID).Take(&item).Error; err != nil {
			return nil, lookupErr(err, "товар %s не найден", lr.InventoryItemID)
		}
		baseQty, err := s.uom.convert(ctx, tx, tenantID, lr.UomID, item.BaseUomID, lr.Quantity)
		if err != nil {
			if KindOf(err) == KindNotFound {
				return nil, badRequest("строка %d (%s): %v", i+1, item.Name, err)
			}
			return nil, err
		}

		line := models.SaleOrderLine{
			ID:              uuid.New().String(),
			SaleOrderID:     order.ID,
			InventoryItemID: item.ID,
			UomID:           lr.UomID,
			Quantity:        lr.Quantity,
			BaseQuantity:    baseQty,
			UnitPrice:       lr.UnitPrice,
		}
		alloc, err := s.allocation.AllocateInTx(tx, tenantID, AllocationRequest{
			BranchID:        req.BranchID,
			InventoryItemID: item.ID,
			Quantity:        baseQty,
			Method:          req.Method,
			SourceType:      models.AllocationSourceOrderLine,
			SourceLineID:    line.ID,
			ReferenceID:     order.ID,
			PerformedBy:     req.PerformedBy,
		})
		if err != nil {
			return nil, err
		}

		lineSubtotal := decimal.NewFromFloat(lr.Quantity).Mul(decimal.NewFromFloat(lr.UnitPrice)).Round(2)
		lineCost := decimal.NewFromFloat(alloc.CostTotal)
		line.Subtotal = lineSubtotal.InexactFloat64()
		line.CostPrice = alloc.CostPrice
		line.CostTotal = alloc.CostTotal
		line.Profit = lineSubtotal.Sub(lineCost).InexactFloat64()

		subtotal = subtotal.Add(lineSubtotal)
		costTotal = costTotal.Add(lineCost)
		lines = append(lines, line)
	}

	if err := tx.CreateInBatches(lines, insertChunkSize).Error; err != nil {
		return nil, fmt.Errorf("ошибка создания строк продажи: %w", err)
	}

	// Налог - плоский процент от суммы продажи
	tax := subtotal.Mul(decimal.NewFromFloat(req.TaxPercent)).Div(decimal.NewFromInt(100)).Round(2)
	order.Subtotal = subtotal.InexactFloat64()
	order.TaxAmount = tax.InexactFloat64()
	order.Total = subtotal.Add(tax).InexactFloat64()
	order.CostTotal = costTotal.Round(2).InexactFloat64()
	order.Profit = subtotal.Sub(costTotal).Round(2).InexactFloat64()
	if err := tx.Model(order).Updates(map[string]interface{}{
		"subtotal":   order.Subtotal,
		"tax_amount": order.TaxAmount,
		"total":      order.Total,
		"cost_total": order.CostTotal,
		"profit":     order.Profit,
	}).Error; err != nil {
		return nil, fmt.Errorf("ошибка обновления итогов продажи: %w", err)
	}
	order.Lines = lines
	return order, nil
}

// GetSale возвращает продажу со строками
func (s *SaleService) GetSale(ctx context.Context, tenantID, saleID string) (*models.SaleOrder, error) {
	var order models.SaleOrder
	if err := s.db.WithContext(ctx).Preload("Lines").
		Where("tenant_id = ? AND id = ?", tenantID, saleID).
		Take(&order).Error; err != nil {
		return nil, lookupErr(err, "продажа %s не найдена", saleID)
	}
	return &order, nil
}

// ListSales возвращает продажи, опционально по филиалу
func (s *SaleService) ListSales(ctx context.Context, tenantID, branchID string) ([]models.SaleOrder, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if branchID != "" {
		query = query.Where("branch_id = ?", branchID)
	}
	var orders []models.SaleOrder
	if err := query.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения продаж: %w", err)
	}
	return orders, nil
}
