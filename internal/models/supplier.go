package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SupplierStatus представляет статус поставщика
type SupplierStatus string

const (
	SupplierStatusActive   SupplierStatus = "Active"   // Активный
	SupplierStatusArchived SupplierStatus = "Archived" // Архивирован
)

// Supplier представляет поставщика. AutoCreated = true, если поставщик
// был создан автоматически при массовой загрузке поступлений
type Supplier struct {
	ID            string         `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID      string         `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	Name          string         `json:"name" gorm:"type:varchar(255);not null"`
	ContactPerson string         `json:"contact_person" gorm:"type:varchar(255)"`
	Phone         string         `json:"phone" gorm:"type:varchar(50)"`
	Email         string         `json:"email" gorm:"type:varchar(255)"`
	Status        SupplierStatus `json:"status" gorm:"type:varchar(20);default:'Active';index"`
	AutoCreated   bool           `json:"auto_created" gorm:"default:false"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName указывает имя таблицы
func (Supplier) TableName() string {
	return "suppliers"
}

// BeforeCreate генерирует UUID
func (s *Supplier) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = SupplierStatusActive
	}
	return nil
}
