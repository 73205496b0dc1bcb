package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"restoerp/server/internal/services"
)

// RegisterRoutes подключает health, WebSocket и складские endpoints /api/v1
func RegisterRoutes(r *gin.Engine, db *gorm.DB, inv *services.Inventory, hub *Hub) {
	// Health check без тенанта (для Railway и балансировщика)
	r.GET("/health", healthHandler(db))
	r.GET("/api/v1/health", healthHandler(db))
	if hub != nil {
		r.GET("/api/v1/ws", ServeInventoryWS(hub))
	}

	uomController := NewUoMController(inv.UoM)
	branchController := NewBranchController(inv.Branches)
	supplierController := NewSupplierController(inv.Suppliers)
	itemController := NewInventoryItemController(inv.Items)
	stockController := NewStockController(inv.Stock)
	inflowController := NewInflowController(inv.Inflows, inv.Bulk)
	allocationController := NewAllocationController(inv.Allocation)
	saleController := NewSaleController(inv.Sales)
	transferController := NewTransferController(inv.Transfers)

	apiGroup := r.Group("/api/v1")
	apiGroup.Use(TenantMiddleware())

	uoms := apiGroup.Group("/uoms")
	{
		uoms.GET("", uomController.ListUnits)
		uoms.POST("", uomController.CreateUnit)
		uoms.GET("/:id", uomController.GetUnit)
		uoms.GET("/:id/conversions", uomController.GetReachable)
	}

	conversions := apiGroup.Group("/conversions")
	{
		conversions.GET("", uomController.ListConversions)
		conversions.POST("", uomController.CreateConversion)
		conversions.DELETE("/:id", uomController.DeleteConversion)
		conversions.GET("/multiplier", uomController.GetMultiplier)
		conversions.POST("/convert", uomController.Convert)
	}

	branches := apiGroup.Group("/branches")
	{
		branches.GET("", branchController.GetBranches)
		branches.POST("", branchController.CreateBranch)
		branches.GET("/:id", branchController.GetBranch)
		branches.PUT("/:id", branchController.UpdateBranch)
		branches.DELETE("/:id", branchController.DeleteBranch)
		branches.GET("/:id/stock", stockController.GetBranchStock)
	}

	suppliers := apiGroup.Group("/suppliers")
	{
		suppliers.GET("", supplierController.GetSuppliers)
		suppliers.POST("", supplierController.CreateSupplier)
		suppliers.GET("/:id", supplierController.GetSupplier)
		suppliers.PUT("/:id", supplierController.UpdateSupplier)
		suppliers.DELETE("/:id", supplierController.ArchiveSupplier)
	}

	items := apiGroup.Group("/items")
	{
		items.GET("", itemController.GetItems)
		items.POST("", itemController.CreateItem)
		items.GET("/:id", itemController.GetItem)
		items.PUT("/:id", itemController.UpdateItem)
		items.DELETE("/:id", itemController.DeleteItem)
		items.GET("/:id/stock", stockController.GetItemStock)
		items.GET("/:id/batches", stockController.GetItemBatches)
	}

	stock := apiGroup.Group("/stock")
	{
		stock.GET("/expiring", stockController.GetExpiringBatches)
		stock.POST("/reconcile", stockController.Reconcile)
	}

	inflows := apiGroup.Group("/inflows")
	{
		inflows.GET("", inflowController.ListInflows)
		inflows.POST("", inflowController.CreateInflow)
		inflows.POST("/bulk-upload", inflowController.BulkUpload)
		inflows.GET("/upload-logs", inflowController.ListUploadLogs)
		inflows.GET("/:id", inflowController.GetInflow)
	}

	allocations := apiGroup.Group("/allocations")
	{
		allocations.GET("", allocationController.List)
		allocations.POST("", allocationController.Commit)
		allocations.POST("/preview", allocationController.Preview)
	}
	apiGroup.GET("/batches/:id/consumption", allocationController.BatchConsumption)

	sales := apiGroup.Group("/sales")
	{
		sales.GET("", saleController.ListSales)
		sales.POST("", saleController.CreateSale)
		sales.GET("/:id", saleController.GetSale)
	}

	transfers := apiGroup.Group("/transfers")
	{
		transfers.GET("", transferController.ListTransfers)
		transfers.POST("", transferController.CreateTransfer)
		transfers.GET("/:id", transferController.GetTransfer)
		transfers.PUT("/:id/status", transferController.UpdateStatus)
		transfers.POST("/:id/receive", transferController.Receive)
		transfers.DELETE("/:id", transferController.DeleteTransfer)
	}
}

func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, database := http.StatusOK, "ok"
		if err := pingDB(c.Request.Context(), db); err != nil {
			status, database = http.StatusServiceUnavailable, err.Error()
		}
		c.JSON(status, gin.H{
			"status":   http.StatusText(status),
			"service":  "Inventory Ledger",
			"database": database,
		})
	}
}
