package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SaleOrder - продажа в филиале. Себестоимость строк считается движком списания
type SaleOrder struct {
	ID          string           `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID    string           `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	BranchID    string           `json:"branch_id" gorm:"type:uuid;not null;index"`
	Method      AllocationMethod `json:"method" gorm:"type:varchar(10);not null"`
	TaxPercent  float64          `json:"tax_percent" gorm:"type:decimal(5,2);default:0"`
	Subtotal    float64          `json:"subtotal" gorm:"type:decimal(18,2);default:0"`
	TaxAmount   float64          `json:"tax_amount" gorm:"type:decimal(18,2);default:0"`
	Total       float64          `json:"total" gorm:"type:decimal(18,2);default:0"`
	CostTotal   float64          `json:"cost_total" gorm:"type:decimal(18,2);default:0"`
	Profit      float64          `json:"profit" gorm:"type:decimal(18,2);default:0"`
	PerformedBy string           `json:"performed_by" gorm:"type:varchar(255)"`
	CreatedAt   time.Time        `json:"created_at" gorm:"autoCreateTime;index"`

	Lines []SaleOrderLine `json:"lines,omitempty" gorm:"foreignKey:SaleOrderID"`
}

// TableName указывает имя таблицы
func (SaleOrder) TableName() string {
	return "sale_orders"
}

// BeforeCreate генерирует UUID
func (o *SaleOrder) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// SaleOrderLine - строка продажи с зафиксированной себестоимостью
type SaleOrderLine struct {
	ID              string    `json:"id" gorm:"type:uuid;primaryKey"`
	SaleOrderID     string    `json:"sale_order_id" gorm:"type:uuid;not null;index"`
	InventoryItemID string    `json:"inventory_item_id" gorm:"type:uuid;not null;index"`
	UomID           string    `json:"uom_id" gorm:"type:uuid;not null"`
	Quantity        float64   `json:"quantity" gorm:"type:decimal(18,6);not null"`
	BaseQuantity    float64   `json:"base_quantity" gorm:"type:decimal(18,6);not null"`
	UnitPrice       float64   `json:"unit_price" gorm:"type:decimal(18,4);not null"` // За единицу строки
	Subtotal        float64   `json:"subtotal" gorm:"type:decimal(18,2);not null"`
	CostPrice       float64   `json:"cost_price" gorm:"type:decimal(18,2);not null"` // Средневзвешенная себестоимость за базовую единицу
	CostTotal       float64   `json:"cost_total" gorm:"type:decimal(18,2);not null"`
	Profit          float64   `json:"profit" gorm:"type:decimal(18,2);not null"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName указывает имя таблицы
func (SaleOrderLine) TableName() string {
	return "sale_order_lines"
}

// BeforeCreate генерирует UUID
func (l *SaleOrderLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}
