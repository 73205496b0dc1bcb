package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"restoerp/server/internal/services"
)

// SaleController управляет продажами
type SaleController struct {
	saleService *services.SaleService
}

func NewSaleController(saleService *services.SaleService) *SaleController {
	return &SaleController{saleService: saleService}
}

// CreateSale проводит продажу со списанием партий
// POST /api/v1/sales
func (sc *SaleController) CreateSale(c *gin.Context) {
	var req services.CreateSaleRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := sc.saleService.CreateSale(c.Request.Context(), tenantID(c), req)
	if err != nil {
		respondError(c, "Ошибка проведения продажи", err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// GET /api/v1/sales/:id
func (sc *SaleController) GetSale(c *gin.Context) {
	order, err := sc.saleService.GetSale(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Продажа не найдена", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GET /api/v1/sales?branch_id=xxx
func (sc *SaleController) ListSales(c *gin.Context) {
	orders, err := sc.saleService.ListSales(c.Request.Context(), tenantID(c), c.Query("branch_id"))
	if err != nil {
		respondError(c, "Ошибка получения продаж", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": orders, "count": len(orders)})
}
