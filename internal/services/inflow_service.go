package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"restoerp/server/internal/models"
)

// InflowService оприходует поступления: документ, партии, остатки
type InflowService struct {
	db        *gorm.DB
	uom       *UoMConversionService
	publisher EventPublisher
	logger    *zap.SugaredLogger
}

// NewInflowService создает новый экземпляр InflowService
func NewInflowService(db *gorm.DB, uom *UoMConversionService) *InflowService {
	return &InflowService{
		db:        db,
		uom:       uom,
		publisher: NoopPublisher{},
		logger:    zap.S(),
	}
}

// SetEventPublisher устанавливает публикатор событий
func (s *InflowService) SetEventPublisher(p EventPublisher) {
	s.publisher = p
}

// SetLogger устанавливает логгер сервиса
func (s *InflowService) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

// InflowLineRequest - строка поступления в единице поставщика
type InflowLineRequest struct {
	InventoryItemID string     `json:"inventory_item_id" binding:"required"`
	UomID           string     `json:"uom_id" binding:"required"`
	Quantity        float64    `json:"quantity"`
	UnitCost        float64    `json:"unit_cost"` // За единицу строки
	BatchNumber     string     `json:"batch_number"`
	ExpiryDate      *time.Time `json:"expiry_date"`

	// Переопределения строки (используются массовой загрузкой)
	SupplierID *string    `json:"-"`
	ReceivedAt *time.Time `json:"-"`
}

// CreateInflowRequest - документ поступления в один филиал
type CreateInflowRequest struct {
	BranchID      string              `json:"branch_id" binding:"required"`
	SupplierID    *string             `json:"supplier_id"`
	InvoiceNumber string              `json:"invoice_number"`
	ReceivedAt    *time.Time          `json:"received_at"`
	Notes         string              `json:"notes"`
	PerformedBy   string              `json:"performed_by"`
	Lines         []InflowLineRequest `json:"lines" binding:"required"`

	source    models.InflowSource
	uploadTag *string
}

// CreateInflow оприходует документ целиком в одной транзакции:
// ошибка любой строки откатывает весь документ
func (s *InflowService) CreateInflow(ctx context.Context, tenantID string, req CreateInflowRequest) (*models.Inflow, error) {
	if len(req.Lines) == 0 {
		return nil, badRequest("документ поступления не содержит строк")
	}
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, badRequest("строка %d: количество должно быть > 0, получено: %v", i+1, line.Quantity)
		}
		if line.UnitCost <= 0 {
			return nil, badRequest("строка %d: цена должна быть > 0, получено: %v", i+1, line.UnitCost)
		}
	}

	var inflow *models.Inflow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inflow, err = s.createInflowTx(ctx, tx, tenantID, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("✅ Оприходован документ %s: филиал %s, строк %d, сумма %.2f", inflow.ID, inflow.BranchID, len(req.Lines), inflow.TotalCost)
	s.publisher.Publish(ctx, NewInventoryEvent(EventInflowCreated, tenantID, inflow))
	return inflow, nil
}

// createInflowTx - общий путь ручного и массового оприходования
func (s *InflowService) createInflowTx(ctx context.Context, tx *gorm.DB, tenantID string, req CreateInflowRequest) (*models.Inflow, error) {
	if _, err := ensureBranch(tx, tenantID, req.BranchID); err != nil {
		return nil, err
	}
	if req.SupplierID != nil && *req.SupplierID != "" {
		if _, err := ensureSupplier(tx, tenantID, *req.SupplierID); err != nil {
			return nil, err
		}
	} else {
		req.SupplierID = nil
	}

	receivedAt := time.Now().UTC()
	if req.ReceivedAt != nil && !req.ReceivedAt.IsZero() {
		receivedAt = req.ReceivedAt.UTC()
	}

	inflow := &models.Inflow{
		TenantID:      tenantID,
		BranchID:      req.BranchID,
		SupplierID:    req.SupplierID,
		InvoiceNumber: req.InvoiceNumber,
		ReceivedAt:    receivedAt,
		Source:        req.source,
		UploadTag:     req.uploadTag,
		Notes:         req.Notes,
		PerformedBy:   req.PerformedBy,
	}
	if err := tx.Create(inflow).Error; err != nil {
		return nil, fmt.Errorf("ошибка создания документа поступления: %w", err)
	}

	total := decimal.Zero
	batches := make([]models.InflowBatch, 0, len(req.Lines))
	for i, line := range req.Lines {
		item, err := lockItem(tx, tenantID, line.InventoryItemID)
		if err != nil {
			return nil, err
		}

		baseQty, err := s.uom.convert(ctx, tx, tenantID, line.UomID, item.BaseUomID, line.Quantity)
		if err != nil {
			if KindOf(err) == KindNotFound {
				return nil, badRequest("строка %d (%s): %v", i+1, item.Name, err)
			}
			return nil, err
		}
		if baseQty <= 0 {
			return nil, badRequest("строка %d (%s): количество в базовой единице должно быть > 0", i+1, item.Name)
		}

		lineCost := decimal.NewFromFloat(line.Quantity).Mul(decimal.NewFromFloat(line.UnitCost))
		unitCost := lineCost.Div(decimal.NewFromFloat(baseQty)).InexactFloat64()
		total = total.Add(lineCost)

		if err := applyStockChange(tx, stockChange{
			TenantID:    tenantID,
			BranchID:    req.BranchID,
			Item:        item,
			Delta:       baseQty,
			Type:        models.MovementInflow,
			ReferenceID: inflow.ID,
			PerformedBy: req.PerformedBy,
			Notes:       fmt.Sprintf("Поступление %s", inflow.InvoiceNumber),
		}); err != nil {
			return nil, err
		}

		if err := tx.Model(&models.InventoryItem{}).Where("id = ?", item.ID).
			Update("last_cost", unitCost).Error; err != nil {
			return nil, fmt.Errorf("ошибка обновления последней цены: %w", err)
		}

		if !item.IsTrackable {
			continue
		}

		batchReceivedAt := receivedAt
		if line.ReceivedAt != nil && !line.ReceivedAt.IsZero() {
			batchReceivedAt = line.ReceivedAt.UTC()
		}
		supplierID := req.SupplierID
		if line.SupplierID != nil {
			supplierID = line.SupplierID
		}
		inflowID := inflow.ID
		batches = append(batches, models.InflowBatch{
			TenantID:        tenantID,
			InflowID:        &inflowID,
			InventoryItemID: item.ID,
			BranchID:        req.BranchID,
			SupplierID:      supplierID,
			InputUomID:      line.UomID,
			Quantity:        line.Quantity,
			BaseQuantity:    baseQty,
			UnitCost:        unitCost,
			BatchNumber:     line.BatchNumber,
			ExpiryDate:      line.ExpiryDate,
			ReceivedAt:      batchReceivedAt,
		})
	}

	if len(batches) > 0 {
		if err := tx.CreateInBatches(batches, insertChunkSize).Error; err != nil {
			return nil, fmt.Errorf("ошибка создания партий: %w", err)
		}
	}

	inflow.TotalCost = total.Round(2).InexactFloat64()
	if err := tx.Model(inflow).Update("total_cost", inflow.TotalCost).Error; err != nil {
		return nil, fmt.Errorf("ошибка обновления суммы документа: %w", err)
	}
	inflow.Batches = batches
	return inflow, nil
}

// GetInflow возвращает документ поступления с партиями
func (s *InflowService) GetInflow(ctx context.Context, tenantID, inflowID string) (*models.Inflow, error) {
	var inflow models.Inflow
	if err := s.db.WithContext(ctx).
		Preload("Branch").Preload("Supplier").Preload("Batches").
		Where("tenant_id = ? AND id = ?", tenantID, inflowID).
		Take(&inflow).Error; err != nil {
		return nil, lookupErr(err, "документ поступления %s не найден", inflowID)
	}
	return &inflow, nil
}

// ListInflows возвращает документы поступления, опционально по филиалу или тегу загрузки
func (s *InflowService) ListInflows(ctx context.Context, tenantID, branchID, uploadTag string) ([]models.Inflow, error) {
	query := s.db.WithContext(ctx).Preload("Branch").Preload("Supplier").Where("tenant_id = ?", tenantID)
	if branchID != "" {
		query = query.Where("branch_id = ?", branchID)
	}
	if uploadTag != "" {
		query = query.Where("upload_tag = ?", uploadTag)
	}

	var inflows []models.Inflow
	if err := query.Order("received_at DESC").Find(&inflows).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения документов поступления: %w", err)
	}
	return inflows, nil
}
