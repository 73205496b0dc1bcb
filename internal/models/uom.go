package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UnitOfMeasure представляет единицу измерения тенанта (кг, шт, упак и т.д.)
// Любая единица может быть базовой для товара
type UnitOfMeasure struct {
	ID           string         `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID     string         `json:"tenant_id" gorm:"type:varchar(64);not null;index;uniqueIndex:idx_uom_tenant_name"`
	Name         string         `json:"name" gorm:"type:varchar(100);not null;uniqueIndex:idx_uom_tenant_name"`
	Abbreviation string         `json:"abbreviation" gorm:"type:varchar(20)"`
	IsDefault    bool           `json:"is_default" gorm:"default:false"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (UnitOfMeasure) TableName() string {
	return "units_of_measure"
}

// BeforeCreate генерирует UUID
func (u *UnitOfMeasure) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// Label возвращает сокращение, если оно задано, иначе название
func (u *UnitOfMeasure) Label() string {
	if u == nil {
		return ""
	}
	if u.Abbreviation != "" {
		return u.Abbreviation
	}
	return u.Name
}

// UnitConversion - направленное ребро графа конвертаций: 1 FromUom = Factor ToUom.
// Для каждой записи A->B хранится зеркальная B->A с коэффициентом 1/Factor
type UnitConversion struct {
	ID            string    `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID      string    `json:"tenant_id" gorm:"type:varchar(64);not null;index;uniqueIndex:idx_conversion_pair"`
	FromUomID     string    `json:"from_uom_id" gorm:"type:uuid;not null;uniqueIndex:idx_conversion_pair"`
	ToUomID       string    `json:"to_uom_id" gorm:"type:uuid;not null;uniqueIndex:idx_conversion_pair"`
	Factor        float64   `json:"factor" gorm:"type:decimal(20,10);not null"`
	EffectiveFrom time.Time `json:"effective_from"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	FromUom *UnitOfMeasure `json:"from_uom,omitempty" gorm:"foreignKey:FromUomID;references:ID"`
	ToUom   *UnitOfMeasure `json:"to_uom,omitempty" gorm:"foreignKey:ToUomID;references:ID"`
}

// TableName указывает имя таблицы
func (UnitConversion) TableName() string {
	return "unit_conversions"
}

// BeforeCreate генерирует UUID
func (c *UnitConversion) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.EffectiveFrom.IsZero() {
		c.EffectiveFrom = time.Now().UTC()
	}
	return nil
}
