package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"restoerp/server/internal/services"
)

// Максимальный размер файла массовой загрузки
const maxUploadSize = 10 << 20

// InflowController управляет поступлениями и массовой загрузкой
type InflowController struct {
	inflowService *services.InflowService
	bulkService   *services.BulkUploadService
}

func NewInflowController(inflowService *services.InflowService, bulkService *services.BulkUploadService) *InflowController {
	return &InflowController{
		inflowService: inflowService,
		bulkService:   bulkService,
	}
}

// CreateInflow оприходует документ поступления целиком
// POST /api/v1/inflows
func (ic *InflowController) CreateInflow(c *gin.Context) {
	var req services.CreateInflowRequest
	if !bindJSON(c, &req) {
		return
	}

	inflow, err := ic.inflowService.CreateInflow(c.Request.Context(), tenantID(c), req)
	if err != nil {
		respondError(c, "Ошибка оприходования поступления", err)
		return
	}
	c.JSON(http.StatusCreated, inflow)
}

// GET /api/v1/inflows/:id
func (ic *InflowController) GetInflow(c *gin.Context) {
	inflow, err := ic.inflowService.GetInflow(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Документ поступления не найден", err)
		return
	}
	c.JSON(http.StatusOK, inflow)
}

// GET /api/v1/inflows?branch_id=xxx&upload_tag=yyy
func (ic *InflowController) ListInflows(c *gin.Context) {
	inflows, err := ic.inflowService.ListInflows(c.Request.Context(), tenantID(c), c.Query("branch_id"), c.Query("upload_tag"))
	if err != nil {
		respondError(c, "Ошибка получения поступлений", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inflows": inflows, "count": len(inflows)})
}

// BulkUpload принимает файл поступлений: multipart поле file (CSV, TSV или XLSX)
// либо текстовую таблицу в теле запроса
// POST /api/v1/inflows/bulk-upload?performed_by=xxx
func (ic *InflowController) BulkUpload(c *gin.Context) {
	ctx, tenant := c.Request.Context(), tenantID(c)
	performedBy := c.Query("performed_by")

	var (
		result *services.BulkUploadResult
		err    error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Файл не найден в запросе",
				"details": ferr.Error(),
			})
			return
		}
		defer file.Close()

		data, rerr := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
		if !ic.checkUploadRead(c, data, rerr) {
			return
		}
		if v := c.PostForm("performed_by"); v != "" {
			performedBy = v
		}
		result, err = ic.bulkService.BulkUploadFile(ctx, tenant, performedBy, header.Filename, data)
	} else {
		data, rerr := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadSize+1))
		if !ic.checkUploadRead(c, data, rerr) {
			return
		}
		result, err = ic.bulkService.BulkUploadInflows(ctx, tenant, performedBy, data)
	}
	if err != nil {
		respondError(c, "Ошибка массовой загрузки", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (ic *InflowController) checkUploadRead(c *gin.Context, data []byte, err error) bool {
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Ошибка чтения файла",
			"details": err.Error(),
		})
		return false
	}
	if len(data) > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "Файл слишком большой",
			"details": "максимальный размер 10 МБ",
		})
		return false
	}
	return true
}

// GET /api/v1/inflows/upload-logs?upload_tag=xxx
func (ic *InflowController) ListUploadLogs(c *gin.Context) {
	logs, err := ic.bulkService.ListUploadLogs(c.Request.Context(), tenantID(c), c.Query("upload_tag"))
	if err != nil {
		respondError(c, "Ошибка получения журнала загрузки", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}
