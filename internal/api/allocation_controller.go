package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"restoerp/server/internal/services"
)

// AllocationController дает доступ к списанию партий для внешних документов
type AllocationController struct {
	allocationService *services.AllocationService
}

func NewAllocationController(allocationService *services.AllocationService) *AllocationController {
	return &AllocationController{allocationService: allocationService}
}

// Preview показывает план списания без изменений
// POST /api/v1/allocations/preview
func (ac *AllocationController) Preview(c *gin.Context) {
	var req services.AllocationRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := ac.allocationService.PreviewAllocation(c.Request.Context(), tenantID(c), req)
	if err != nil {
		respondError(c, "Ошибка расчета списания", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Commit списывает партии и возвращает себестоимость
// POST /api/v1/allocations
func (ac *AllocationController) Commit(c *gin.Context) {
	var req services.AllocationRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := ac.allocationService.Allocate(c.Request.Context(), tenantID(c), req)
	if err != nil {
		respondError(c, "Ошибка списания", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GET /api/v1/allocations?source_line_id=xxx
func (ac *AllocationController) List(c *gin.Context) {
	sourceLineID := c.Query("source_line_id")
	if sourceLineID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Не указана строка документа",
			"details": "параметр source_line_id обязателен",
		})
		return
	}

	rows, err := ac.allocationService.ListAllocations(c.Request.Context(), tenantID(c), sourceLineID)
	if err != nil {
		respondError(c, "Ошибка получения журнала списаний", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": rows, "count": len(rows)})
}

// GET /api/v1/batches/:id/consumption
func (ac *AllocationController) BatchConsumption(c *gin.Context) {
	used, err := ac.allocationService.BatchConsumption(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Ошибка получения списания партии", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inflow_batch_id": c.Param("id"), "quantity_used": used})
}
