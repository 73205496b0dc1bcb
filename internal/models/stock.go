package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MovementType - тип движения остатков
type MovementType string

const (
	MovementInflow         MovementType = "inflow"          // Оприходование
	MovementSale           MovementType = "sale"            // Продажа
	MovementTransferOut    MovementType = "transfer_out"    // Отгрузка перемещения
	MovementTransferIn     MovementType = "transfer_in"     // Приемка перемещения
	MovementTransferCancel MovementType = "transfer_cancel" // Возврат при отмене перемещения
	MovementAdjustment     MovementType = "adjustment"      // Корректировка сверкой
)

// StockMovement - журнал движений остатков по филиалу.
// Положительное количество = приход, отрицательное = расход (в базовой единице)
type StockMovement struct {
	ID              string       `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID        string       `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	BranchID        string       `json:"branch_id" gorm:"type:uuid;not null;index:idx_movement_branch_item"`
	InventoryItemID string       `json:"inventory_item_id" gorm:"type:uuid;not null;index:idx_movement_branch_item"`
	Quantity        float64      `json:"quantity" gorm:"type:decimal(18,6);not null"`
	MovementType    MovementType `json:"movement_type" gorm:"type:varchar(30);not null;index"`
	ReferenceID     *string      `json:"reference_id" gorm:"type:uuid;index"` // Документ поступления, строка продажи, перемещение
	PerformedBy     string       `json:"performed_by" gorm:"type:varchar(255)"`
	Notes           string       `json:"notes" gorm:"type:text"`
	CreatedAt       time.Time    `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName указывает имя таблицы
func (StockMovement) TableName() string {
	return "stock_movements"
}

// BeforeCreate генерирует UUID
func (sm *StockMovement) BeforeCreate(tx *gorm.DB) error {
	if sm.ID == "" {
		sm.ID = uuid.New().String()
	}
	return nil
}
