package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransferStatus представляет статус перемещения
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"    // Создано, остатки не тронуты
	TransferStatusInTransit TransferStatus = "in_transit" // Отгружено, списано с отправителя
	TransferStatusReceived  TransferStatus = "received"   // Принято получателем
	TransferStatusCancelled TransferStatus = "cancelled"  // Отменено
)

// Transfer - перемещение между филиалами одного тенанта
type Transfer struct {
	ID           string         `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID     string         `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	FromBranchID string         `json:"from_branch_id" gorm:"type:uuid;not null;index"`
	ToBranchID   string         `json:"to_branch_id" gorm:"type:uuid;not null;index"`
	Status       TransferStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	TransferDate time.Time      `json:"transfer_date" gorm:"not null"`
	Notes        string         `json:"notes" gorm:"type:text"`
	InitiatedBy  string         `json:"initiated_by" gorm:"type:varchar(255)"`
	ShippedAt    *time.Time     `json:"shipped_at"`
	ReceivedBy   *string        `json:"received_by" gorm:"type:varchar(255)"`
	ReceivedAt   *time.Time     `json:"received_at"`
	CancelledAt  *time.Time     `json:"cancelled_at"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"autoUpdateTime"`

	FromBranch *Branch        `json:"from_branch,omitempty" gorm:"foreignKey:FromBranchID;references:ID"`
	ToBranch   *Branch        `json:"to_branch,omitempty" gorm:"foreignKey:ToBranchID;references:ID"`
	Lines      []TransferLine `json:"lines,omitempty" gorm:"foreignKey:TransferID"`
}

// TableName указывает имя таблицы
func (Transfer) TableName() string {
	return "transfers"
}

// BeforeCreate генерирует UUID и значения по умолчанию
func (t *Transfer) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = TransferStatusPending
	}
	if t.TransferDate.IsZero() {
		t.TransferDate = time.Now().UTC()
	}
	return nil
}

// IsPending проверяет, что перемещение еще не отгружено
func (t *Transfer) IsPending() bool {
	return t.Status == TransferStatusPending
}

// IsInTransit проверяет, что перемещение в пути
func (t *Transfer) IsInTransit() bool {
	return t.Status == TransferStatusInTransit
}

// IsTerminal проверяет, что перемещение завершено или отменено
func (t *Transfer) IsTerminal() bool {
	return t.Status == TransferStatusReceived || t.Status == TransferStatusCancelled
}

// TransferLine - строка перемещения. Quantity и ReceivedQuantity в единице строки
type TransferLine struct {
	ID                   string    `json:"id" gorm:"type:uuid;primaryKey"`
	TransferID           string    `json:"transfer_id" gorm:"type:uuid;not null;index"`
	InventoryItemID      string    `json:"inventory_item_id" gorm:"type:uuid;not null;index"`
	UomID                string    `json:"uom_id" gorm:"type:uuid;not null"`
	Quantity             float64   `json:"quantity" gorm:"type:decimal(18,6);not null"`
	BaseQuantity         float64   `json:"base_quantity" gorm:"type:decimal(18,6);default:0"`
	ReceivedQuantity     float64   `json:"received_quantity" gorm:"type:decimal(18,6);default:0"`
	ReceivedBaseQuantity float64   `json:"received_base_quantity" gorm:"type:decimal(18,6);default:0"`
	UnitCost             float64   `json:"unit_cost" gorm:"type:decimal(18,6);default:0"` // Себестоимость отгрузки за базовую единицу
	CreatedAt            time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt            time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	InventoryItem *InventoryItem `json:"inventory_item,omitempty" gorm:"foreignKey:InventoryItemID;references:ID"`
	Uom           *UnitOfMeasure `json:"uom,omitempty" gorm:"foreignKey:UomID;references:ID"`
}

// TableName указывает имя таблицы
func (TransferLine) TableName() string {
	return "transfer_lines"
}

// BeforeCreate генерирует UUID
func (l *TransferLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// Outstanding возвращает еще не принятое количество в единице строки
func (l *TransferLine) Outstanding() float64 {
	if rest := l.Quantity - l.ReceivedQuantity; rest > 0 {
		return rest
	}
	return 0
}
