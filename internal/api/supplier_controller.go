package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"restoerp/server/internal/models"
	"restoerp/server/internal/services"
)

// SupplierController управляет справочником поставщиков
type SupplierController struct {
	supplierService *services.SupplierService
}

func NewSupplierController(supplierService *services.SupplierService) *SupplierController {
	return &SupplierController{supplierService: supplierService}
}

type supplierRequest struct {
	Name          string `json:"name"`
	ContactPerson string `json:"contact_person"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
}

// GET /api/v1/suppliers
func (sc *SupplierController) GetSuppliers(c *gin.Context) {
	suppliers, err := sc.supplierService.GetAllSuppliers(c.Request.Context(), tenantID(c))
	if err != nil {
		respondError(c, "Ошибка получения поставщиков", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suppliers": suppliers, "count": len(suppliers)})
}

// GET /api/v1/suppliers/:id
func (sc *SupplierController) GetSupplier(c *gin.Context) {
	supplier, err := sc.supplierService.GetSupplierByID(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Поставщик не найден", err)
		return
	}
	c.JSON(http.StatusOK, supplier)
}

// POST /api/v1/suppliers
func (sc *SupplierController) CreateSupplier(c *gin.Context) {
	var req supplierRequest
	if !bindJSON(c, &req) {
		return
	}

	supplier := &models.Supplier{
		Name:          req.Name,
		ContactPerson: req.ContactPerson,
		Phone:         req.Phone,
		Email:         req.Email,
	}
	if err := sc.supplierService.CreateSupplier(c.Request.Context(), tenantID(c), supplier); err != nil {
		respondError(c, "Ошибка создания поставщика", err)
		return
	}
	c.JSON(http.StatusCreated, supplier)
}

// PUT /api/v1/suppliers/:id
func (sc *SupplierController) UpdateSupplier(c *gin.Context) {
	var req supplierRequest
	if !bindJSON(c, &req) {
		return
	}

	supplier, err := sc.supplierService.UpdateSupplier(c.Request.Context(), tenantID(c), c.Param("id"), &models.Supplier{
		Name:          req.Name,
		ContactPerson: req.ContactPerson,
		Phone:         req.Phone,
		Email:         req.Email,
	})
	if err != nil {
		respondError(c, "Ошибка обновления поставщика", err)
		return
	}
	c.JSON(http.StatusOK, supplier)
}

// DELETE /api/v1/suppliers/:id - переводит поставщика в архив
func (sc *SupplierController) ArchiveSupplier(c *gin.Context) {
	if err := sc.supplierService.ArchiveSupplier(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		respondError(c, "Ошибка архивации поставщика", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Поставщик перенесен в архив"})
}
