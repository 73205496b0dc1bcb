package services

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"gorm.io/gorm"
	"restoerp/server/internal/models"
)

// InventoryItemService управляет карточками складских товаров
type InventoryItemService struct {
	db *gorm.DB
}

// NewInventoryItemService создает новый экземпляр InventoryItemService
func NewInventoryItemService(db *gorm.DB) *InventoryItemService {
	return &InventoryItemService{db: db}
}

// GetAllItems возвращает товары тенанта
func (s *InventoryItemService) GetAllItems(ctx context.Context, tenantID string) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	if err := s.db.WithContext(ctx).Preload("BaseUom").
		Where("tenant_id = ?", tenantID).
		Order("name ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения товаров: %w", err)
	}
	return items, nil
}

// GetItemByID возвращает товар по ID
func (s *InventoryItemService) GetItemByID(ctx context.Context, tenantID, id string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := s.db.WithContext(ctx).Preload("BaseUom").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&item).Error; err != nil {
		return nil, lookupErr(err, "товар %s не найден", id)
	}
	return &item, nil
}

// CreateItem создает товар. Остаток всегда начинается с нуля и меняется только движениями
func (s *InventoryItemService) CreateItem(ctx context.Context, tenantID string, item *models.InventoryItem) error {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return badRequest("название товара обязательно")
	}
	if item.BaseUomID == "" {
		return badRequest("базовая единица измерения обязательна")
	}
	if item.MinStock < 0 || item.MaxStock < 0 || item.UnitPrice < 0 {
		return badRequest("цена и пороги остатка не могут быть отрицательными")
	}
	item.TenantID = tenantID
	item.CurrentStock = 0
	item.LastCost = 0

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getUnit(tx, tenantID, item.BaseUomID); err != nil {
			return err
		}
		if item.SKU != "" {
			var count int64
			if err := tx.Model(&models.InventoryItem{}).
				Where("tenant_id = ? AND sku = ?", tenantID, item.SKU).
				Count(&count).Error; err != nil {
				return fmt.Errorf("ошибка проверки SKU: %w", err)
			}
			if count > 0 {
				return conflict("товар с SKU '%s' уже существует", item.SKU)
			}
		} else {
			sku, err := generateSKU(tx, tenantID, item.Name)
			if err != nil {
				return err
			}
			item.SKU = sku
		}
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("ошибка создания товара: %w", err)
		}
		return nil
	})
}

// UpdateItem обновляет справочные поля товара. Остаток и базовая единица не меняются:
// партии и движения уже записаны в базовой единице
func (s *InventoryItemService) UpdateItem(ctx context.Context, tenantID, id string, updated *models.InventoryItem) (*models.InventoryItem, error) {
	item, err := s.GetItemByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if updated.BaseUomID != "" && updated.BaseUomID != item.BaseUomID && item.CurrentStock != 0 {
		return nil, badRequest("нельзя сменить базовую единицу товара с ненулевым остатком")
	}

	updates := map[string]interface{}{
		"min_stock":    updated.MinStock,
		"max_stock":    updated.MaxStock,
		"unit_price":   updated.UnitPrice,
		"is_trackable": updated.IsTrackable,
	}
	if name := strings.TrimSpace(updated.Name); name != "" {
		updates["name"] = name
	}
	if updated.BaseUomID != "" {
		updates["base_uom_id"] = updated.BaseUomID
	}
	if err := s.db.WithContext(ctx).Model(item).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("ошибка обновления товара: %w", err)
	}
	return s.GetItemByID(ctx, tenantID, id)
}

// DeleteItem удаляет товар (soft delete), если на складах нет остатка
func (s *InventoryItemService) DeleteItem(ctx context.Context, tenantID, id string) error {
	item, err := s.GetItemByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if item.CurrentStock > stockEpsilon {
		return badRequest("нельзя удалить товар %s с остатком %s", item.Name, formatQty(item.CurrentStock))
	}
	if err := s.db.WithContext(ctx).Delete(item).Error; err != nil {
		return fmt.Errorf("ошибка удаления товара: %w", err)
	}
	return nil
}

// generateSKU строит SKU из первых букв слов названия и добавляет счетчик при совпадении
func generateSKU(tx *gorm.DB, tenantID, name string) (string, error) {
	var prefix []rune
	for _, word := range strings.Fields(strings.ToUpper(name)) {
		r := []rune(word)[0]
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			prefix = append(prefix, r)
		}
		if len(prefix) >= 6 {
			break
		}
	}
	base := string(prefix)
	if base == "" {
		base = "ITEM"
	}

	sku := base
	for counter := 1; counter < 1000; counter++ {
		var count int64
		if err := tx.Model(&models.InventoryItem{}).
			Where("tenant_id = ? AND sku = ?", tenantID, sku).
			Count(&count).Error; err != nil {
			return "", fmt.Errorf("ошибка генерации SKU: %w", err)
		}
		if count == 0 {
			return sku, nil
		}
		sku = fmt.Sprintf("%s-%d", base, counter)
	}
	return "", conflict("не удалось подобрать свободный SKU для '%s'", name)
}
