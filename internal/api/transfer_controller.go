package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"restoerp/server/internal/models"
	"restoerp/server/internal/services"
)

// TransferController управляет перемещениями между филиалами
type TransferController struct {
	transferService *services.TransferService
}

func NewTransferController(transferService *services.TransferService) *TransferController {
	return &TransferController{transferService: transferService}
}

type createTransferBody struct {
	services.CreateTransferRequest
	CreatedBy string `json:"created_by"`
}

type updateTransferStatusRequest struct {
	Status    models.TransferStatus         `json:"status" binding:"required"`
	UpdatedBy string                        `json:"updated_by"`
	Lines     []services.ReceiveLineRequest `json:"lines"`
}

type receiveTransferRequest struct {
	ReceivedBy string                        `json:"received_by"`
	Lines      []services.ReceiveLineRequest `json:"lines" binding:"required"`
}

// CreateTransfer создает перемещение в статусе pending
// POST /api/v1/transfers
func (tc *TransferController) CreateTransfer(c *gin.Context) {
	var req createTransferBody
	if !bindJSON(c, &req) {
		return
	}

	transfer, err := tc.transferService.CreateTransfer(c.Request.Context(), tenantID(c), req.CreatedBy, req.CreateTransferRequest)
	if err != nil {
		respondError(c, "Ошибка создания перемещения", err)
		return
	}
	c.JSON(http.StatusCreated, transfer)
}

// UpdateStatus переводит перемещение в новый статус
// PUT /api/v1/transfers/:id/status
func (tc *TransferController) UpdateStatus(c *gin.Context) {
	var req updateTransferStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	transfer, err := tc.transferService.UpdateTransferStatus(c.Request.Context(), tenantID(c), c.Param("id"), req.Status, req.UpdatedBy, req.Lines)
	if err != nil {
		respondError(c, "Ошибка смены статуса перемещения", err)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

// Receive принимает часть строк перемещения
// POST /api/v1/transfers/:id/receive
func (tc *TransferController) Receive(c *gin.Context) {
	var req receiveTransferRequest
	if !bindJSON(c, &req) {
		return
	}

	transfer, err := tc.transferService.ReceiveTransferItems(c.Request.Context(), tenantID(c), c.Param("id"), req.ReceivedBy, req.Lines)
	if err != nil {
		respondError(c, "Ошибка приемки перемещения", err)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

// DELETE /api/v1/transfers/:id
func (tc *TransferController) DeleteTransfer(c *gin.Context) {
	if err := tc.transferService.DeleteTransfer(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		respondError(c, "Ошибка удаления перемещения", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Перемещение удалено"})
}

// GET /api/v1/transfers/:id
func (tc *TransferController) GetTransfer(c *gin.Context) {
	transfer, err := tc.transferService.GetTransfer(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Перемещение не найдено", err)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

// GET /api/v1/transfers?status=in_transit&branch_id=xxx
func (tc *TransferController) ListTransfers(c *gin.Context) {
	transfers, err := tc.transferService.ListTransfers(c.Request.Context(), tenantID(c), models.TransferStatus(c.Query("status")), c.Query("branch_id"))
	if err != nil {
		respondError(c, "Ошибка получения перемещений", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers, "count": len(transfers)})
}
