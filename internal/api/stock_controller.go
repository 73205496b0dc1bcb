package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"restoerp/server/internal/services"
)

// StockController управляет API endpoints для остатков и сверки
type StockController struct {
	stockService *services.StockService
}

// NewStockController создает новый контроллер остатков
func NewStockController(stockService *services.StockService) *StockController {
	return &StockController{
		stockService: stockService,
	}
}

// GetItemStock возвращает агрегированный остаток товара с разбивкой по филиалам
// GET /api/v1/items/:id/stock
func (sc *StockController) GetItemStock(c *gin.Context) {
	stock, err := sc.stockService.GetItemStock(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Ошибка получения остатков товара", err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

// GetBranchStock возвращает все остатки филиала
// GET /api/v1/branches/:id/stock
func (sc *StockController) GetBranchStock(c *gin.Context) {
	rows, err := sc.stockService.ListBranchStock(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Ошибка получения остатков филиала", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": rows,
		"count": len(rows),
	})
}

// GetItemBatches возвращает партии товара с доступным остатком
// GET /api/v1/items/:id/batches?branch_id=xxx&available=true
func (sc *StockController) GetItemBatches(c *gin.Context) {
	onlyAvailable, _ := strconv.ParseBool(c.DefaultQuery("available", "false"))

	batches, err := sc.stockService.ListBatches(c.Request.Context(), tenantID(c), c.Param("id"), c.Query("branch_id"), onlyAvailable)
	if err != nil {
		respondError(c, "Ошибка получения партий", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"batches": batches,
		"count":   len(batches),
	})
}

// GetExpiringBatches возвращает партии с истекающим сроком годности
// GET /api/v1/stock/expiring?branch_id=xxx&hours=48
func (sc *StockController) GetExpiringBatches(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "48"))
	if err != nil || hours <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Неверный параметр hours",
			"details": "ожидается положительное целое число часов",
		})
		return
	}

	batches, err := sc.stockService.GetExpiringBatches(c.Request.Context(), tenantID(c), c.Query("branch_id"), time.Duration(hours)*time.Hour)
	if err != nil {
		respondError(c, "Ошибка получения партий с истекающим сроком", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"batches": batches,
		"count":   len(batches),
	})
}

// Reconcile сверяет кэшированные остатки с журналом партий и движений
// POST /api/v1/stock/reconcile?repair=true
func (sc *StockController) Reconcile(c *gin.Context) {
	repair, _ := strconv.ParseBool(c.DefaultQuery("repair", "false"))

	drifts, err := sc.stockService.Reconcile(c.Request.Context(), tenantID(c), repair)
	if err != nil {
		respondError(c, "Ошибка сверки остатков", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"drifts":   drifts,
		"count":    len(drifts),
		"repaired": repair,
	})
}
