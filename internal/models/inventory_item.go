package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InventoryItem представляет товар склада.
// CurrentStock - кэшированный агрегат по всем филиалам в базовой единице
type InventoryItem struct {
	ID           string         `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID     string         `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	Name         string         `json:"name" gorm:"type:varchar(255);not null"`
	SKU          string         `json:"sku" gorm:"type:varchar(100);index"`
	BaseUomID    string         `json:"base_uom_id" gorm:"type:uuid;not null;index"`
	CurrentStock float64        `json:"current_stock" gorm:"type:decimal(18,6);default:0"`
	MinStock     float64        `json:"min_stock" gorm:"type:decimal(18,6);default:0"`
	MaxStock     float64        `json:"max_stock" gorm:"type:decimal(18,6);default:0"`
	UnitPrice    float64        `json:"unit_price" gorm:"type:decimal(18,4);default:0"` // Цена продажи за базовую единицу
	LastCost     float64        `json:"last_cost" gorm:"type:decimal(18,6);default:0"`  // Последняя закупочная цена за базовую единицу
	IsTrackable  bool           `json:"is_trackable" gorm:"default:false"`             // Учет по партиям
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt    gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	BaseUom *UnitOfMeasure `json:"base_uom,omitempty" gorm:"foreignKey:BaseUomID;references:ID"`
}

// TableName указывает имя таблицы
func (InventoryItem) TableName() string {
	return "inventory_items"
}

// BeforeCreate генерирует UUID
func (i *InventoryItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}

// BranchStock - остаток товара в конкретном филиале с переопределениями цены и порогов.
// Создается лениво при первом поступлении в филиал
type BranchStock struct {
	ID              string    `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID        string    `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	BranchID        string    `json:"branch_id" gorm:"type:uuid;not null;uniqueIndex:idx_branch_item"`
	InventoryItemID string    `json:"inventory_item_id" gorm:"type:uuid;not null;uniqueIndex:idx_branch_item"`
	CurrentStock    float64   `json:"current_stock" gorm:"type:decimal(18,6);default:0"`
	UnitPrice       float64   `json:"unit_price" gorm:"type:decimal(18,4);default:0"`
	MinStock        float64   `json:"min_stock" gorm:"type:decimal(18,6);default:0"`
	MaxStock        float64   `json:"max_stock" gorm:"type:decimal(18,6);default:0"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Branch *Branch `json:"branch,omitempty" gorm:"foreignKey:BranchID;references:ID"`
}

// TableName указывает имя таблицы
func (BranchStock) TableName() string {
	return "branch_stocks"
}

// BeforeCreate генерирует UUID
func (b *BranchStock) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// IsLow возвращает true, если остаток опустился ниже порога филиала
func (b *BranchStock) IsLow() bool {
	return b.MinStock > 0 && b.CurrentStock < b.MinStock
}
