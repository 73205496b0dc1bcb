package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AllocationSource - какая строка документа списала партию
type AllocationSource string

const (
	AllocationSourceOrderLine        AllocationSource = "order_line"        // Строка продажи
	AllocationSourceTransferLine     AllocationSource = "transfer_line"     // Строка перемещения (отгрузка)
	AllocationSourceTransferReversal AllocationSource = "transfer_reversal" // Сторно отгрузки при отмене перемещения
)

// AllocationMethod - политика выбора партий
type AllocationMethod string

const (
	AllocationFIFO AllocationMethod = "FIFO"
	AllocationLIFO AllocationMethod = "LIFO"
	AllocationFEFO AllocationMethod = "FEFO"
)

// Valid проверяет, что метод поддерживается
func (m AllocationMethod) Valid() bool {
	switch m {
	case AllocationFIFO, AllocationLIFO, AllocationFEFO:
		return true
	}
	return false
}

// Allocation - запись журнала списаний строки документа с конкретной партии.
// Только добавление: записи не изменяются и не удаляются, сторно пишется отрицательным количеством
type Allocation struct {
	ID            string           `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID      string           `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	InflowBatchID string           `json:"inflow_batch_id" gorm:"type:uuid;not null;index"`
	SourceType    AllocationSource `json:"source_type" gorm:"type:varchar(30);not null;index:idx_allocation_source"`
	SourceLineID  string           `json:"source_line_id" gorm:"type:uuid;not null;index:idx_allocation_source"`
	QuantityUsed  float64          `json:"quantity_used" gorm:"type:decimal(18,6);not null"`
	CostPerUnit   float64          `json:"cost_per_unit" gorm:"type:decimal(18,6);not null"`
	TotalCost     float64          `json:"total_cost" gorm:"type:decimal(18,6);not null"`
	CreatedAt     time.Time        `json:"created_at" gorm:"autoCreateTime"`
}

// TableName указывает имя таблицы
func (Allocation) TableName() string {
	return "inventory_allocations"
}

// BeforeCreate генерирует UUID
func (a *Allocation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
