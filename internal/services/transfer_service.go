package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"restoerp/server/internal/models"
)

// TransferService ведет перемещения между филиалами:
// pending -> in_transit -> received, отмена из pending или in_transit
type TransferService struct {
	db         *gorm.DB
	uom        *UoMConversionService
	allocation *AllocationService
	publisher  EventPublisher
	logger     *zap.SugaredLogger
}

// NewTransferService создает новый экземпляр TransferService
func NewTransferService(db *gorm.DB, uom *UoMConversionService, allocation *AllocationService) *TransferService {
	return &TransferService{
		db:         db,
		uom:        uom,
		allocation: allocation,
		publisher:  NoopPublisher{},
		logger:     zap.S(),
	}
}

// SetEventPublisher устанавливает публикатор событий
func (s *TransferService) SetEventPublisher(p EventPublisher) {
	s.publisher = p
}

// SetLogger устанавливает логгер сервиса
func (s *TransferService) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

// TransferLineRequest - строка перемещения в выбранной единице
type TransferLineRequest struct {
	InventoryItemID string  `json:"inventory_item_id" binding:"required"`
	UomID           string  `json:"uom_id" binding:"required"`
	Quantity        float64 `json:"quantity"`
}

// CreateTransferRequest - перемещение между двумя филиалами
type CreateTransferRequest struct {
	FromBranchID string                `json:"from_branch_id" binding:"required"`
	ToBranchID   string                `json:"to_branch_id" binding:"required"`
	TransferDate *time.Time            `json:"transfer_date"`
	Notes        string                `json:"notes"`
	Lines        []TransferLineRequest `json:"lines"`
}

// ReceiveLineRequest - количество строки, доставленное в этой приемке (в единице строки)
type ReceiveLineRequest struct {
	LineID   string  `json:"line_id" binding:"required"`
	Quantity float64 `json:"quantity"`
}

// CreateTransfer создает перемещение в статусе pending.
// Остаток отправителя только проверяется, списание происходит при отгрузке
func (s *TransferService) CreateTransfer(ctx context.Context, tenantID, user string, req CreateTransferRequest) (*models.Transfer, error) {
	if req.FromBranchID == req.ToBranchID {
		return nil, badRequest("филиал отправителя и получателя совпадают")
	}
	if len(req.Lines) == 0 {
		return nil, badRequest("перемещение не содержит строк")
	}
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, badRequest("строка %d: количество должно быть > 0, получено: %v", i+1, line.Quantity)
		}
	}

	transfer := &models.Transfer{
		TenantID:     tenantID,
		FromBranchID: req.FromBranchID,
		ToBranchID:   req.ToBranchID,
		Status:       models.TransferStatusPending,
		Notes:        req.Notes,
		InitiatedBy:  user,
	}
	if req.TransferDate != nil && !req.TransferDate.IsZero() {
		transfer.TransferDate = req.TransferDate.UTC()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ensureBranch(tx, tenantID, req.FromBranchID); err != nil {
			return err
		}
		if _, err := ensureBranch(tx, tenantID, req.ToBranchID); err != nil {
			return err
		}

		// Несколько строк одного товара проверяются суммарно
		required := make(map[string]float64)
		items := make(map[string]*models.InventoryItem)
		for i, lr := range req.Lines {
			item, ok := items[lr.InventoryItemID]
			if !ok {
				var loaded models.InventoryItem
				if err := tx.Preload("BaseUom").Where("tenant_id = ? AND id = ?", tenantID, lr.InventoryItemID).Take(&loaded).Error; err != nil {
					return lookupErr(err, "товар %s не найден", lr.InventoryItemID)
				}
				item = &loaded
				items[item.ID] = item
			}

			baseQty, err := s.uom.convert(ctx, tx, tenantID, lr.UomID, item.BaseUomID, lr.Quantity)
			if err != nil {
				if KindOf(err) == KindNotFound {
					return badRequest("строка %d (%s): %v", i+1, item.Name, err)
				}
				return err
			}
			required[item.ID] += baseQty

			transfer.Lines = append(transfer.Lines, models.TransferLine{
				InventoryItemID: item.ID,
				UomID:           lr.UomID,
				Quantity:        lr.Quantity,
				BaseQuantity:    baseQty,
			})
		}

		for itemID, qty := range required {
			var bs models.BranchStock
			available := 0.0
			err := tx.Where("branch_id = ? AND inventory_item_id = ?", req.FromBranchID, itemID).Take(&bs).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("ошибка проверки остатка отправителя: %w", err)
			}
			if err == nil {
				available = bs.CurrentStock
			}
			if available+stockEpsilon < qty {
				return insufficientStock(items[itemID], available, qty)
			}
		}

		if err := tx.Create(transfer).Error; err != nil {
			return fmt.Errorf("ошибка создания перемещения: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("✅ Создано перемещение %s: %s -> %s, строк %d", transfer.ID, transfer.FromBranchID, transfer.ToBranchID, len(transfer.Lines))
	return s.GetTransfer(ctx, tenantID, transfer.ID)
}

// UpdateTransferStatus переводит перемещение в новый статус.
// Для received можно передать принятые строки, иначе принимается весь остаток.
// Перевод в received закрывает перемещение даже при частичной приемке
func (s *TransferService) UpdateTransferStatus(ctx context.Context, tenantID, transferID string, status models.TransferStatus, user string, lines []ReceiveLineRequest) (*models.Transfer, error) {
	var previous models.TransferStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		transfer, err := lockTransfer(tx, tenantID, transferID)
		if err != nil {
			return err
		}
		previous = transfer.Status
		if transfer.IsTerminal() {
			return badRequest("перемещение в статусе %s не может быть изменено", transfer.Status)
		}
		if transfer.Status == status {
			return badRequest("перемещение уже в статусе %s", status)
		}

		switch status {
		case models.TransferStatusInTransit:
			if !transfer.IsPending() {
				return badRequest("отгрузить можно только перемещение в статусе pending")
			}
			return s.ship(ctx, tx, transfer, user)

		case models.TransferStatusReceived:
			if !transfer.IsInTransit() {
				return badRequest("принять можно только перемещение в статусе in_transit (текущий статус: %s)", transfer.Status)
			}
			if len(lines) == 0 {
				lines = outstandingLines(transfer)
			}
			if err := s.receive(tx, transfer, lines, user); err != nil {
				return err
			}
			return closeTransfer(tx, transfer, user)

		case models.TransferStatusCancelled:
			if transfer.IsInTransit() {
				if err := s.cancelShipment(tx, transfer, user); err != nil {
					return err
				}
			}
			now := time.Now().UTC()
			return tx.Model(transfer).Omit(clause.Associations).Updates(map[string]interface{}{
				"status":       models.TransferStatusCancelled,
				"cancelled_at": now,
			}).Error

		case models.TransferStatusPending:
			return badRequest("нельзя вернуть перемещение в статус pending")

		default:
			return badRequest("неизвестный статус перемещения: %s", status)
		}
	})
	if err != nil {
		return nil, err
	}

	transfer, err := s.GetTransfer(ctx, tenantID, transferID)
	if err != nil {
		return nil, err
	}
	s.logger.Infof("🔄 Перемещение %s: %s -> %s", transfer.ID, previous, transfer.Status)
	s.publishStatus(ctx, tenantID, transfer, previous)
	return transfer, nil
}

// ReceiveTransferItems принимает часть строк перемещения. Повторные вызовы
// накапливают принятое количество; перемещение закрывается, когда приняты все строки
func (s *TransferService) ReceiveTransferItems(ctx context.Context, tenantID, transferID, user string, lines []ReceiveLineRequest) (*models.Transfer, error) {
	if len(lines) == 0 {
		return nil, badRequest("не указаны принимаемые строки")
	}

	var previous models.TransferStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		transfer, err := lockTransfer(tx, tenantID, transferID)
		if err != nil {
			return err
		}
		previous = transfer.Status
		if !transfer.IsInTransit() {
			return badRequest("принять можно только перемещение в статусе in_transit (текущий статус: %s)", transfer.Status)
		}
		if err := s.receive(tx, transfer, lines, user); err != nil {
			return err
		}

		for i := range transfer.Lines {
			if transfer.Lines[i].Outstanding() > stockEpsilon {
				return nil
			}
		}
		return closeTransfer(tx, transfer, user)
	})
	if err != nil {
		return nil, err
	}

	transfer, err := s.GetTransfer(ctx, tenantID, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.Status != previous {
		s.logger.Infof("✅ Перемещение %s принято полностью", transfer.ID)
		s.publishStatus(ctx, tenantID, transfer, previous)
	}
	return transfer, nil
}

// DeleteTransfer удаляет перемещение, пока оно не отгружено
func (s *TransferService) DeleteTransfer(ctx context.Context, tenantID, transferID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		transfer, err := lockTransfer(tx, tenantID, transferID)
		if err != nil {
			return err
		}
		if !transfer.IsPending() {
			return badRequest("удалить можно только перемещение в статусе pending (текущий статус: %s)", transfer.Status)
		}
		if err := tx.Where("transfer_id = ?", transfer.ID).Delete(&models.TransferLine{}).Error; err != nil {
			return fmt.Errorf("ошибка удаления строк перемещения: %w", err)
		}
		if err := tx.Delete(transfer).Error; err != nil {
			return fmt.Errorf("ошибка удаления перемещения: %w", err)
		}
		s.logger.Infof("🗑️ Перемещение %s удалено", transfer.ID)
		return nil
	})
}

// GetTransfer возвращает перемещение с филиалами и строками
func (s *TransferService) GetTransfer(ctx context.Context, tenantID, transferID string) (*models.Transfer, error) {
	var transfer models.Transfer
	if err := s.db.WithContext(ctx).
		Preload("FromBranch").Preload("ToBranch").
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Lines.InventoryItem").Preload("Lines.Uom").
		Where("tenant_id = ? AND id = ?", tenantID, transferID).
		Take(&transfer).Error; err != nil {
		return nil, lookupErr(err, "перемещение %s не найдено", transferID)
	}
	return &transfer, nil
}

// ListTransfers возвращает перемещения, опционально по статусу и филиалу (отправитель или получатель)
func (s *TransferService) ListTransfers(ctx context.Context, tenantID string, status models.TransferStatus, branchID string) ([]models.Transfer, error) {
	query := s.db.WithContext(ctx).Preload("FromBranch").Preload("ToBranch").Preload("Lines").
		Where("tenant_id = ?", tenantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if branchID != "" {
		query = query.Where("from_branch_id = ? OR to_branch_id = ?", branchID, branchID)
	}
	var transfers []models.Transfer
	if err := query.Order("created_at DESC").Find(&transfers).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения перемещений: %w", err)
	}
	return transfers, nil
}

func lockTransfer(tx *gorm.DB, tenantID, transferID string) (*models.Transfer, error) {
	var transfer models.Transfer
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, transferID).
		Take(&transfer).Error; err != nil {
		return nil, lookupErr(err, "перемещение %s не найдено", transferID)
	}
	if err := tx.Where("transfer_id = ?", transfer.ID).Order("created_at ASC, id ASC").Find(&transfer.Lines).Error; err != nil {
		return nil, fmt.Errorf("ошибка загрузки строк перемещения: %w", err)
	}
	return &transfer, nil
}

// ship списывает строки с отправителя. Партии товаров с учетом по партиям
// выбираются по FIFO, себестоимость фиксируется в строке
func (s *TransferService) ship(ctx context.Context, tx *gorm.DB, transfer *models.Transfer, user string) error {
	for i := range transfer.Lines {
		line := &transfer.Lines[i]
		var item models.InventoryItem
		if err := tx.Where("tenant_id = ? AND id = ?", transfer.TenantID, line.InventoryItemID).Take(&item).Error; err != nil {
			return lookupErr(err, "товар %s не найден", line.InventoryItemID)
		}
		baseQty, err := s.uom.convert(ctx, tx, transfer.TenantID, line.UomID, item.BaseUomID, line.Quantity)
		if err != nil {
			if KindOf(err) == KindNotFound {
				return badRequest("%s: %v", item.Name, err)
			}
			return err
		}

		alloc, err := s.allocation.AllocateInTx(tx, transfer.TenantID, AllocationRequest{
			BranchID:        transfer.FromBranchID,
			InventoryItemID: item.ID,
			Quantity:        baseQty,
			Method:          models.AllocationFIFO,
			SourceType:      models.AllocationSourceTransferLine,
			SourceLineID:    line.ID,
			ReferenceID:     transfer.ID,
			PerformedBy:     user,
		})
		if err != nil {
			return err
		}

		line.BaseQuantity = baseQty
		line.UnitCost = item.LastCost
		if len(alloc.Allocations) > 0 {
			total := decimal.Zero
			for _, a := range alloc.Allocations {
				total = total.Add(decimal.NewFromFloat(a.TotalCost))
			}
			line.UnitCost = total.Div(decimal.NewFromFloat(baseQty)).Round(6).InexactFloat64()
		}
		if err := tx.Model(line).Updates(map[string]interface{}{
			"base_quantity": line.BaseQuantity,
			"unit_cost":     line.UnitCost,
		}).Error; err != nil {
			return fmt.Errorf("ошибка обновления строки перемещения: %w", err)
		}
	}

	now := time.Now().UTC()
	return tx.Model(transfer).Omit(clause.Associations).Updates(map[string]interface{}{
		"status":     models.TransferStatusInTransit,
		"shipped_at": now,
	}).Error
}

// cancelShipment возвращает отгруженное отправителю и сторнирует списания партий
func (s *TransferService) cancelShipment(tx *gorm.DB, transfer *models.Transfer, user string) error {
	for i := range transfer.Lines {
		if transfer.Lines[i].ReceivedQuantity > stockEpsilon {
			return badRequest("перемещение частично принято получателем, отмена невозможна")
		}
	}

	for i := range transfer.Lines {
		line := &transfer.Lines[i]
		item, err := lockItem(tx, transfer.TenantID, line.InventoryItemID)
		if err != nil {
			return err
		}
		if err := applyStockChange(tx, stockChange{
			TenantID:    transfer.TenantID,
			BranchID:    transfer.FromBranchID,
			Item:        item,
			Delta:       line.BaseQuantity,
			Type:        models.MovementTransferCancel,
			ReferenceID: transfer.ID,
			PerformedBy: user,
			Notes:       "Отмена перемещения",
		}); err != nil {
			return err
		}

		var drawn []models.Allocation
		if err := tx.Where("tenant_id = ? AND source_type = ? AND source_line_id = ?", transfer.TenantID, models.AllocationSourceTransferLine, line.ID).
			Find(&drawn).Error; err != nil {
			return fmt.Errorf("ошибка получения списаний строки: %w", err)
		}
		if len(drawn) == 0 {
			continue
		}
		reversals := make([]models.Allocation, 0, len(drawn))
		for _, a := range drawn {
			reversals = append(reversals, models.Allocation{
				TenantID:      a.TenantID,
				InflowBatchID: a.InflowBatchID,
				SourceType:    models.AllocationSourceTransferReversal,
				SourceLineID:  line.ID,
				QuantityUsed:  -a.QuantityUsed,
				CostPerUnit:   a.CostPerUnit,
				TotalCost:     -a.TotalCost,
			})
		}
		if err := tx.CreateInBatches(reversals, insertChunkSize).Error; err != nil {
			return fmt.Errorf("ошибка сторнирования списаний: %w", err)
		}
	}
	return nil
}

func outstandingLines(transfer *models.Transfer) []ReceiveLineRequest {
	var lines []ReceiveLineRequest
	for _, l := range transfer.Lines {
		if rest := l.Outstanding(); rest > stockEpsilon {
			lines = append(lines, ReceiveLineRequest{LineID: l.ID, Quantity: rest})
		}
	}
	return lines
}

// receive приходует доставленное количество на склад получателя.
// Базовое количество считается пропорционально отгруженному, последняя часть добирает остаток
func (s *TransferService) receive(tx *gorm.DB, transfer *models.Transfer, requests []ReceiveLineRequest, user string) error {
	now := time.Now().UTC()
	for _, r := range requests {
		var line *models.TransferLine
		for i := range transfer.Lines {
			if transfer.Lines[i].ID == r.LineID {
				line = &transfer.Lines[i]
				break
			}
		}
		if line == nil {
			return notFound("строка перемещения %s не найдена", r.LineID)
		}
		if r.Quantity <= 0 {
			return badRequest("принимаемое количество должно быть > 0, получено: %v", r.Quantity)
		}

		item, err := lockItem(tx, transfer.TenantID, line.InventoryItemID)
		if err != nil {
			return err
		}
		received := line.ReceivedQuantity + r.Quantity
		if received > line.Quantity+stockEpsilon {
			return badRequest("принятое количество (%s) превышает отгруженное (%s) для %s",
				formatQty(received), formatQty(line.Quantity), item.Name)
		}

		var baseQty float64
		if line.Quantity-received <= stockEpsilon {
			received = line.Quantity
			baseQty = line.BaseQuantity - line.ReceivedBaseQuantity
		} else {
			baseQty = decimal.NewFromFloat(line.BaseQuantity).
				Mul(decimal.NewFromFloat(r.Quantity)).
				Div(decimal.NewFromFloat(line.Quantity)).
				Round(6).InexactFloat64()
		}

		if err := applyStockChange(tx, stockChange{
			TenantID:    transfer.TenantID,
			BranchID:    transfer.ToBranchID,
			Item:        item,
			Delta:       baseQty,
			Type:        models.MovementTransferIn,
			ReferenceID: transfer.ID,
			PerformedBy: user,
			Notes:       "Приемка перемещения",
		}); err != nil {
			return err
		}

		if item.IsTrackable {
			lineID := line.ID
			batch := models.InflowBatch{
				TenantID:        transfer.TenantID,
				TransferLineID:  &lineID,
				InventoryItemID: item.ID,
				BranchID:        transfer.ToBranchID,
				InputUomID:      line.UomID,
				Quantity:        r.Quantity,
				BaseQuantity:    baseQty,
				UnitCost:        line.UnitCost,
				ReceivedAt:      now,
			}
			if err := tx.Create(&batch).Error; err != nil {
				return fmt.Errorf("ошибка создания партии получателя: %w", err)
			}
		}

		line.ReceivedQuantity = received
		line.ReceivedBaseQuantity = roundQty(line.ReceivedBaseQuantity + baseQty)
		if err := tx.Model(line).Updates(map[string]interface{}{
			"received_quantity":      line.ReceivedQuantity,
			"received_base_quantity": line.ReceivedBaseQuantity,
		}).Error; err != nil {
			return fmt.Errorf("ошибка обновления строки перемещения: %w", err)
		}
	}
	return nil
}

func closeTransfer(tx *gorm.DB, transfer *models.Transfer, user string) error {
	now := time.Now().UTC()
	receivedBy := user
	transfer.Status = models.TransferStatusReceived
	transfer.ReceivedAt = &now
	transfer.ReceivedBy = &receivedBy
	return tx.Model(transfer).Omit(clause.Associations).Updates(map[string]interface{}{
		"status":      models.TransferStatusReceived,
		"received_at": now,
		"received_by": receivedBy,
	}).Error
}

func (s *TransferService) publishStatus(ctx context.Context, tenantID string, transfer *models.Transfer, previous models.TransferStatus) {
	s.publisher.Publish(ctx, NewInventoryEvent(EventTransferStatusChanged, tenantID, map[string]interface{}{
		"transfer_id":     transfer.ID,
		"from_branch_id":  transfer.FromBranchID,
		"to_branch_id":    transfer.ToBranchID,
		"previous_status": previous,
		"status":          transfer.Status,
	}))
}
