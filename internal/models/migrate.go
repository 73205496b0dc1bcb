package models

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoMigrate создает и обновляет таблицы складского учета
func AutoMigrate(db *gorm.DB) error {
	// Справочники мигрируем раньше документов, которые на них ссылаются
	if err := db.AutoMigrate(
		&UnitOfMeasure{},
		&UnitConversion{},
		&Branch{},
		&Supplier{},
		&InventoryItem{},
		&BranchStock{},
	); err != nil {
		return fmt.Errorf("ошибка миграции справочников: %w", err)
	}

	if err := db.AutoMigrate(
		&Inflow{},
		&InflowBatch{},
		&BulkUploadLog{},
		&Allocation{},
		&StockMovement{},
		&SaleOrder{},
		&SaleOrderLine{},
		&Transfer{},
		&TransferLine{},
	); err != nil {
		return fmt.Errorf("ошибка миграции документов: %w", err)
	}

	zap.S().Info("✅ Таблицы складского учета мигрированы")
	return nil
}
