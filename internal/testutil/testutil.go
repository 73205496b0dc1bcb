package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"restoerp/server/internal/models"
)

const TestTenant = "tenant-test"

// SetupTestDB создает изолированную in-memory SQLite базу для одного теста.
// Одно соединение в пуле: все запросы теста идут через одну и ту же базу
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRouter создает gin роутер для тестов
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// DoRequest выполняет JSON запрос к тестовому роутеру от имени тенанта
func DoRequest(r *gin.Engine, method, path string, body interface{}, tenantID string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// DoRawRequest отправляет тело как есть с указанным Content-Type
func DoRawRequest(r *gin.Engine, method, path, contentType string, body []byte, tenantID string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse разбирает JSON ответ в map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedUnit создает единицу измерения
func SeedUnit(t *testing.T, db *gorm.DB, tenantID, name, abbreviation string) *models.UnitOfMeasure {
	t.Helper()
	unit := &models.UnitOfMeasure{TenantID: tenantID, Name: name, Abbreviation: abbreviation}
	if err := db.Create(unit).Error; err != nil {
		t.Fatalf("Failed to seed unit %s: %v", name, err)
	}
	return unit
}

// SeedConversion создает пару зеркальных конвертаций напрямую в базе
func SeedConversion(t *testing.T, db *gorm.DB, tenantID, fromUomID, toUomID string, factor float64) {
	t.Helper()
	rows := []models.UnitConversion{
		{TenantID: tenantID, FromUomID: fromUomID, ToUomID: toUomID, Factor: factor},
		{TenantID: tenantID, FromUomID: toUomID, ToUomID: fromUomID, Factor: 1 / factor},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("Failed to seed conversion: %v", err)
	}
}

// SeedBranch создает филиал
func SeedBranch(t *testing.T, db *gorm.DB, tenantID, name string) *models.Branch {
	t.Helper()
	branch := &models.Branch{TenantID: tenantID, Name: name, IsActive: true}
	if err := db.Create(branch).Error; err != nil {
		t.Fatalf("Failed to seed branch %s: %v", name, err)
	}
	return branch
}

// SeedSupplier создает поставщика
func SeedSupplier(t *testing.T, db *gorm.DB, tenantID, name string) *models.Supplier {
	t.Helper()
	supplier := &models.Supplier{TenantID: tenantID, Name: name}
	if err := db.Create(supplier).Error; err != nil {
		t.Fatalf("Failed to seed supplier %s: %v", name, err)
	}
	return supplier
}

// SeedItem создает товар с базовой единицей
func SeedItem(t *testing.T, db *gorm.DB, tenantID, name, baseUomID string, trackable bool) *models.InventoryItem {
	t.Helper()
	item := &models.InventoryItem{
		TenantID:    tenantID,
		Name:        name,
		BaseUomID:   baseUomID,
		IsTrackable: trackable,
		UnitPrice:   10,
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("Failed to seed item %s: %v", name, err)
	}
	return item
}

// ReloadItem перечитывает товар из базы
func ReloadItem(t *testing.T, db *gorm.DB, id string) *models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := db.First(&item, "id = ?", id).Error; err != nil {
		t.Fatalf("Failed to reload item %s: %v", id, err)
	}
	return &item
}

// BranchStock возвращает остаток филиала или 0, если строки нет
func BranchStock(t *testing.T, db *gorm.DB, branchID, itemID string) float64 {
	t.Helper()
	var rows []models.BranchStock
	if err := db.Where("branch_id = ? AND inventory_item_id = ?", branchID, itemID).Find(&rows).Error; err != nil {
		t.Fatalf("Failed to load branch stock: %v", err)
	}
	if len(rows) == 0 {
		return 0
	}
	return rows[0].CurrentStock
}

// Count возвращает количество строк модели
func Count(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return n
}

// AlmostEqual сравнивает числа с плавающей точкой
func AlmostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-6
}
