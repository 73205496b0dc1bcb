package services

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"restoerp/server/internal/models"
)

// stockEpsilon - допуск сравнения количеств с плавающей точкой
const stockEpsilon = 1e-9

// Все функции ниже работают внутри транзакции вызывающего и берут
// блокировки строк (SELECT ... FOR UPDATE) до чтения остатков

func lockItem(tx *gorm.DB, tenantID, itemID string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("BaseUom").
		Where("tenant_id = ? AND id = ?", tenantID, itemID).
		Take(&item).Error; err != nil {
		return nil, lookupErr(err, "товар %s не найден", itemID)
	}
	return &item, nil
}

func ensureBranch(tx *gorm.DB, tenantID, branchID string) (*models.Branch, error) {
	var branch models.Branch
	if err := tx.Where("tenant_id = ? AND id = ?", tenantID, branchID).Take(&branch).Error; err != nil {
		return nil, lookupErr(err, "филиал %s не найден", branchID)
	}
	return &branch, nil
}

// lockBranchStock блокирует строку остатка филиала. При create = true
// отсутствующая строка создается с ценой и порогами из карточки товара
func lockBranchStock(tx *gorm.DB, tenantID, branchID string, item *models.InventoryItem, create bool) (*models.BranchStock, error) {
	if create {
		seed := models.BranchStock{
			TenantID:        tenantID,
			BranchID:        branchID,
			InventoryItemID: item.ID,
			UnitPrice:       item.UnitPrice,
			MinStock:        item.MinStock,
			MaxStock:        item.MaxStock,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "branch_id"}, {Name: "inventory_item_id"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			return nil, fmt.Errorf("ошибка создания остатка филиала: %w", err)
		}
	}

	var rows []models.BranchStock
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("branch_id = ? AND inventory_item_id = ?", branchID, item.ID).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка блокировки остатка филиала: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// stockChange - одно изменение остатка товара в филиале
type stockChange struct {
	TenantID    string
	BranchID    string
	Item        *models.InventoryItem
	Delta       float64 // В базовой единице: > 0 приход, < 0 расход
	Type        models.MovementType
	ReferenceID string
	PerformedBy string
	Notes       string
}

// applyStockChange меняет остаток филиала и агрегат товара и пишет движение в журнал.
// Расход больше остатка филиала отклоняется целиком
func applyStockChange(tx *gorm.DB, ch stockChange) error {
	bs, err := lockBranchStock(tx, ch.TenantID, ch.BranchID, ch.Item, ch.Delta > 0)
	if err != nil {
		return err
	}

	available := 0.0
	if bs != nil {
		available = bs.CurrentStock
	}
	if ch.Delta < 0 && available+ch.Delta < -stockEpsilon {
		return insufficientStock(ch.Item, available, -ch.Delta)
	}

	if bs != nil {
		if err := tx.Model(&models.BranchStock{}).Where("id = ?", bs.ID).
			Update("current_stock", gorm.Expr("current_stock + ?", ch.Delta)).Error; err != nil {
			return fmt.Errorf("ошибка обновления остатка филиала: %w", err)
		}
		bs.CurrentStock += ch.Delta
	}

	if err := tx.Model(&models.InventoryItem{}).Where("id = ?", ch.Item.ID).
		Update("current_stock", gorm.Expr("current_stock + ?", ch.Delta)).Error; err != nil {
		return fmt.Errorf("ошибка обновления остатка товара: %w", err)
	}
	ch.Item.CurrentStock += ch.Delta

	movement := models.StockMovement{
		TenantID:        ch.TenantID,
		BranchID:        ch.BranchID,
		InventoryItemID: ch.Item.ID,
		Quantity:        ch.Delta,
		MovementType:    ch.Type,
		PerformedBy:     ch.PerformedBy,
		Notes:           ch.Notes,
	}
	if ch.ReferenceID != "" {
		ref := ch.ReferenceID
		movement.ReferenceID = &ref
	}
	if err := tx.Create(&movement).Error; err != nil {
		return fmt.Errorf("ошибка записи движения остатков: %w", err)
	}
	return nil
}

func insufficientStock(item *models.InventoryItem, available, requested float64) error {
	unit := item.BaseUom.Label()
	return badRequest("недостаточно остатка для %s. Доступно: %s%s, Запрошено: %s%s",
		item.Name, formatQty(available), unit, formatQty(requested), unit)
}

func formatQty(q float64) string {
	return fmt.Sprintf("%g", roundQty(q))
}

// roundQty убирает хвосты плавающей точки в сообщениях и суммах
func roundQty(q float64) float64 {
	return decimal.NewFromFloat(q).Round(6).InexactFloat64()
}
