package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"restoerp/server/internal/models"
	"restoerp/server/internal/services"
)

// UoMController управляет единицами измерения и конвертациями
type UoMController struct {
	uomService *services.UoMConversionService
}

func NewUoMController(uomService *services.UoMConversionService) *UoMController {
	return &UoMController{uomService: uomService}
}

type createUnitRequest struct {
	Name         string `json:"name" binding:"required"`
	Abbreviation string `json:"abbreviation"`
	IsDefault    bool   `json:"is_default"`
}

type createConversionRequest struct {
	FromUomID string  `json:"from_uom_id" binding:"required"`
	ToUomID   string  `json:"to_uom_id" binding:"required"`
	Factor    float64 `json:"factor"`
}

type convertRequest struct {
	FromUomID string  `json:"from_uom_id" binding:"required"`
	ToUomID   string  `json:"to_uom_id" binding:"required"`
	Quantity  float64 `json:"quantity"`
}

// GET /api/v1/uoms
func (uc *UoMController) ListUnits(c *gin.Context) {
	units, err := uc.uomService.ListUnits(c.Request.Context(), tenantID(c))
	if err != nil {
		respondError(c, "Ошибка получения единиц измерения", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"units": units, "count": len(units)})
}

// POST /api/v1/uoms
func (uc *UoMController) CreateUnit(c *gin.Context) {
	var req createUnitRequest
	if !bindJSON(c, &req) {
		return
	}

	unit := &models.UnitOfMeasure{Name: req.Name, Abbreviation: req.Abbreviation, IsDefault: req.IsDefault}
	if err := uc.uomService.CreateUnit(c.Request.Context(), tenantID(c), unit); err != nil {
		respondError(c, "Ошибка создания единицы измерения", err)
		return
	}
	c.JSON(http.StatusCreated, unit)
}

// GET /api/v1/uoms/:id
func (uc *UoMController) GetUnit(c *gin.Context) {
	unit, err := uc.uomService.GetUnit(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Единица измерения не найдена", err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

// GET /api/v1/uoms/:id/conversions - все достижимые единицы с составными коэффициентами
func (uc *UoMController) GetReachable(c *gin.Context) {
	conversions, err := uc.uomService.GetConversionsForUom(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Ошибка получения конвертаций", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversions": conversions, "count": len(conversions)})
}

// GET /api/v1/conversions
func (uc *UoMController) ListConversions(c *gin.Context) {
	conversions, err := uc.uomService.ListConversions(c.Request.Context(), tenantID(c))
	if err != nil {
		respondError(c, "Ошибка получения конвертаций", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversions": conversions, "count": len(conversions)})
}

// POST /api/v1/conversions
func (uc *UoMController) CreateConversion(c *gin.Context) {
	var req createConversionRequest
	if !bindJSON(c, &req) {
		return
	}

	conversion, err := uc.uomService.CreateConversion(c.Request.Context(), tenantID(c), req.FromUomID, req.ToUomID, req.Factor)
	if err != nil {
		respondError(c, "Ошибка создания конвертации", err)
		return
	}
	c.JSON(http.StatusCreated, conversion)
}

// DELETE /api/v1/conversions/:id - удаляет конвертацию вместе с зеркальной
func (uc *UoMController) DeleteConversion(c *gin.Context) {
	if err := uc.uomService.RemoveConversion(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		respondError(c, "Ошибка удаления конвертации", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Конвертация удалена"})
}

// GET /api/v1/conversions/multiplier?from=xxx&to=yyy
func (uc *UoMController) GetMultiplier(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Не указаны единицы",
			"details": "параметры from и to обязательны",
		})
		return
	}

	multiplier, ok, err := uc.uomService.GetMultiplier(c.Request.Context(), tenantID(c), from, to)
	if err != nil {
		respondError(c, "Ошибка расчета множителя", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Конвертация не найдена",
			"details": "единицы " + from + " и " + to + " не связаны",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"from_uom_id": from, "to_uom_id": to, "multiplier": multiplier})
}

// POST /api/v1/conversions/convert
func (uc *UoMController) Convert(c *gin.Context) {
	var req convertRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := uc.uomService.Convert(c.Request.Context(), tenantID(c), req.FromUomID, req.ToUomID, req.Quantity)
	if err != nil {
		respondError(c, "Ошибка конвертации", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"quantity":  req.Quantity,
		"converted": result,
		"formatted": strconv.FormatFloat(result, 'f', -1, 64),
	})
}
