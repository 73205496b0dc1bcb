package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InflowSource - откуда пришел документ поступления
type InflowSource string

const (
	InflowSourceManual     InflowSource = "manual"      // Ручной ввод
	InflowSourceBulkUpload InflowSource = "bulk_upload" // Массовая загрузка файла
	InflowSourceTransfer   InflowSource = "transfer"    // Приемка перемещения
)

// Inflow - документ поступления (приходная накладная) в один филиал.
// UploadTag общий для всех документов одной массовой загрузки
type Inflow struct {
	ID            string       `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID      string       `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	BranchID      string       `json:"branch_id" gorm:"type:uuid;not null;index"`
	SupplierID    *string      `json:"supplier_id" gorm:"type:uuid;index"`
	InvoiceNumber string       `json:"invoice_number" gorm:"type:varchar(100);index"`
	ReceivedAt    time.Time    `json:"received_at" gorm:"not null;index"`
	Source        InflowSource `json:"source" gorm:"type:varchar(20);not null;default:'manual'"`
	UploadTag     *string      `json:"upload_tag" gorm:"type:varchar(64);index"`
	TotalCost     float64      `json:"total_cost" gorm:"type:decimal(18,2);default:0"`
	Notes         string       `json:"notes" gorm:"type:text"`
	PerformedBy   string       `json:"performed_by" gorm:"type:varchar(255)"`
	CreatedAt     time.Time    `json:"created_at" gorm:"autoCreateTime;index"`

	Branch   *Branch       `json:"branch,omitempty" gorm:"foreignKey:BranchID;references:ID"`
	Supplier *Supplier     `json:"supplier,omitempty" gorm:"foreignKey:SupplierID;references:ID"`
	Batches  []InflowBatch `json:"batches,omitempty" gorm:"foreignKey:InflowID"`
}

// TableName указывает имя таблицы
func (Inflow) TableName() string {
	return "inflows"
}

// BeforeCreate генерирует UUID и дату поступления
func (i *Inflow) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.ReceivedAt.IsZero() {
		i.ReceivedAt = time.Now().UTC()
	}
	if i.Source == "" {
		i.Source = InflowSourceManual
	}
	return nil
}

// InflowBatch - неизменяемая партия поступления, единица списания.
// Доступный остаток = BaseQuantity - сумма Allocation.QuantityUsed и нигде не хранится
type InflowBatch struct {
	ID              string     `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID        string     `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	InflowID        *string    `json:"inflow_id" gorm:"type:uuid;index"`
	TransferLineID  *string    `json:"transfer_line_id" gorm:"type:uuid;index"` // Партия получателя при приемке перемещения
	InventoryItemID string     `json:"inventory_item_id" gorm:"type:uuid;not null;index:idx_batch_item_branch"`
	BranchID        string     `json:"branch_id" gorm:"type:uuid;not null;index:idx_batch_item_branch"`
	SupplierID      *string    `json:"supplier_id" gorm:"type:uuid;index"`
	InputUomID      string     `json:"input_uom_id" gorm:"type:uuid;not null"`
	Quantity        float64    `json:"quantity" gorm:"type:decimal(18,6);not null"`      // В единице поступления
	BaseQuantity    float64    `json:"base_quantity" gorm:"type:decimal(18,6);not null"` // В базовой единице товара
	UnitCost        float64    `json:"unit_cost" gorm:"type:decimal(18,6);not null"`     // За базовую единицу
	BatchNumber     string     `json:"batch_number" gorm:"type:varchar(100);index"`
	ExpiryDate      *time.Time `json:"expiry_date" gorm:"index"`
	ReceivedAt      time.Time  `json:"received_at" gorm:"not null;index"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`

	// Вычисляемое поле
	Available float64 `json:"available" gorm:"-"`
}

// TableName указывает имя таблицы
func (InflowBatch) TableName() string {
	return "inflow_batches"
}

// BeforeCreate генерирует UUID
func (b *InflowBatch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.ReceivedAt.IsZero() {
		b.ReceivedAt = time.Now().UTC()
	}
	return nil
}

// UploadRowStatus - статус строки массовой загрузки, не попавшей в документ
type UploadRowStatus string

const (
	UploadRowFailed  UploadRowStatus = "failed"
	UploadRowSkipped UploadRowStatus = "skipped"
)

// BulkUploadLog - запись аудита о строке массовой загрузки, которая не была оприходована
type BulkUploadLog struct {
	ID         string          `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID   string          `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	UploadTag  string          `json:"upload_tag" gorm:"type:varchar(64);not null;index"`
	InflowID   *string         `json:"inflow_id" gorm:"type:uuid;index"`
	LineNumber int             `json:"line_number" gorm:"not null"`
	RowData    string          `json:"row_data" gorm:"type:text"` // JSON исходной строки
	Errors     string          `json:"errors" gorm:"type:text"`   // JSON массив ошибок
	Status     UploadRowStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	CreatedAt  time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// TableName указывает имя таблицы
func (BulkUploadLog) TableName() string {
	return "bulk_upload_logs"
}

// BeforeCreate генерирует UUID
func (l *BulkUploadLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}
