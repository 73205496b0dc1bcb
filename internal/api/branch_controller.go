package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"restoerp/server/internal/models"
	"restoerp/server/internal/services"
)

// BranchController управляет API endpoints для филиалов
type BranchController struct {
	branchService *services.BranchService
}

// NewBranchController создает новый контроллер филиалов
func NewBranchController(branchService *services.BranchService) *BranchController {
	return &BranchController{
		branchService: branchService,
	}
}

type branchRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	IsActive *bool  `json:"is_active"`
}

// GetBranches возвращает список филиалов
// GET /api/v1/branches?active=true
func (bc *BranchController) GetBranches(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	branches, err := bc.branchService.GetAllBranches(c.Request.Context(), tenantID(c), activeOnly)
	if err != nil {
		respondError(c, "Ошибка получения филиалов", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"branches": branches,
		"count":    len(branches),
	})
}

// GetBranch возвращает филиал по ID
// GET /api/v1/branches/:id
func (bc *BranchController) GetBranch(c *gin.Context) {
	branch, err := bc.branchService.GetBranchByID(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Филиал не найден", err)
		return
	}
	c.JSON(http.StatusOK, branch)
}

// CreateBranch создает новый филиал
// POST /api/v1/branches
func (bc *BranchController) CreateBranch(c *gin.Context) {
	var req branchRequest
	if !bindJSON(c, &req) {
		return
	}

	branch := &models.Branch{Name: req.Name, Address: req.Address, Phone: req.Phone}
	if err := bc.branchService.CreateBranch(c.Request.Context(), tenantID(c), branch); err != nil {
		respondError(c, "Ошибка создания филиала", err)
		return
	}
	c.JSON(http.StatusCreated, branch)
}

// UpdateBranch обновляет филиал. Без is_active признак активности не меняется
// PUT /api/v1/branches/:id
func (bc *BranchController) UpdateBranch(c *gin.Context) {
	var req branchRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx, tenant, id := c.Request.Context(), tenantID(c), c.Param("id")
	update := &models.Branch{Name: req.Name, Address: req.Address, Phone: req.Phone}
	if req.IsActive != nil {
		update.IsActive = *req.IsActive
	} else {
		current, err := bc.branchService.GetBranchByID(ctx, tenant, id)
		if err != nil {
			respondError(c, "Филиал не найден", err)
			return
		}
		update.IsActive = current.IsActive
	}

	branch, err := bc.branchService.UpdateBranch(ctx, tenant, id, update)
	if err != nil {
		respondError(c, "Ошибка обновления филиала", err)
		return
	}
	c.JSON(http.StatusOK, branch)
}

// DeleteBranch удаляет филиал
// DELETE /api/v1/branches/:id
func (bc *BranchController) DeleteBranch(c *gin.Context) {
	if err := bc.branchService.DeleteBranch(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		respondError(c, "Ошибка удаления филиала", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Филиал удален"})
}
