package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"restoerp/server/internal/models"
	"restoerp/server/internal/services"
)

// InventoryItemController управляет справочником товаров
type InventoryItemController struct {
	itemService *services.InventoryItemService
}

func NewInventoryItemController(itemService *services.InventoryItemService) *InventoryItemController {
	return &InventoryItemController{itemService: itemService}
}

type itemRequest struct {
	Name        string  `json:"name"`
	SKU         string  `json:"sku"`
	BaseUomID   string  `json:"base_uom_id"`
	MinStock    float64 `json:"min_stock"`
	MaxStock    float64 `json:"max_stock"`
	UnitPrice   float64 `json:"unit_price"`
	IsTrackable bool    `json:"is_trackable"`
}

func (r itemRequest) toModel() *models.InventoryItem {
	return &models.InventoryItem{
		Name:        r.Name,
		SKU:         r.SKU,
		BaseUomID:   r.BaseUomID,
		MinStock:    r.MinStock,
		MaxStock:    r.MaxStock,
		UnitPrice:   r.UnitPrice,
		IsTrackable: r.IsTrackable,
	}
}

// GET /api/v1/items
func (ic *InventoryItemController) GetItems(c *gin.Context) {
	items, err := ic.itemService.GetAllItems(c.Request.Context(), tenantID(c))
	if err != nil {
		respondError(c, "Ошибка получения товаров", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// GET /api/v1/items/:id
func (ic *InventoryItemController) GetItem(c *gin.Context) {
	item, err := ic.itemService.GetItemByID(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Товар не найден", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// POST /api/v1/items
func (ic *InventoryItemController) CreateItem(c *gin.Context) {
	var req itemRequest
	if !bindJSON(c, &req) {
		return
	}

	item := req.toModel()
	if err := ic.itemService.CreateItem(c.Request.Context(), tenantID(c), item); err != nil {
		respondError(c, "Ошибка создания товара", err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// PUT /api/v1/items/:id
func (ic *InventoryItemController) UpdateItem(c *gin.Context) {
	var req itemRequest
	if !bindJSON(c, &req) {
		return
	}

	item, err := ic.itemService.UpdateItem(c.Request.Context(), tenantID(c), c.Param("id"), req.toModel())
	if err != nil {
		respondError(c, "Ошибка обновления товара", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// DELETE /api/v1/items/:id
func (ic *InventoryItemController) DeleteItem(c *gin.Context) {
	if err := ic.itemService.DeleteItem(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		respondError(c, "Ошибка удаления товара", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Товар удален"})
}
