package services

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Inventory связывает сервисы складского ядра на одной базе
type Inventory struct {
	UoM        *UoMConversionService
	Branches   *BranchService
	Suppliers  *SupplierService
	Items      *InventoryItemService
	Stock      *StockService
	Inflows    *InflowService
	Bulk       *BulkUploadService
	Allocation *AllocationService
	Sales      *SaleService
	Transfers  *TransferService
}

// NewInventory создает все сервисы. cache и publisher могут быть nil
func NewInventory(db *gorm.DB, cache ConversionGraphCache, publisher EventPublisher, logger *zap.SugaredLogger) *Inventory {
	if logger == nil {
		logger = zap.S()
	}

	uom := NewUoMConversionService(db)
	if cache != nil {
		uom.SetGraphCache(cache)
	}
	uom.SetLogger(logger)

	allocation := NewAllocationService(db)
	allocation.SetLogger(logger)

	inflows := NewInflowService(db, uom)
	inflows.SetLogger(logger)

	inv := &Inventory{
		UoM:        uom,
		Branches:   NewBranchService(db),
		Suppliers:  NewSupplierService(db),
		Items:      NewInventoryItemService(db),
		Stock:      NewStockService(db),
		Inflows:    inflows,
		Bulk:       NewBulkUploadService(db, inflows),
		Allocation: allocation,
		Sales:      NewSaleService(db, uom, allocation),
		Transfers:  NewTransferService(db, uom, allocation),
	}
	inv.Stock.SetLogger(logger)
	inv.Bulk.SetLogger(logger)
	inv.Sales.SetLogger(logger)
	inv.Transfers.SetLogger(logger)

	if publisher != nil {
		inv.Inflows.SetEventPublisher(publisher)
		inv.Bulk.SetEventPublisher(publisher)
		inv.Sales.SetEventPublisher(publisher)
		inv.Transfers.SetEventPublisher(publisher)
		inv.Stock.SetEventPublisher(publisher)
	}
	return inv
}
