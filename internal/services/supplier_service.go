package services

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"restoerp/server/internal/models"
)

// SupplierService управляет поставщиками
type SupplierService struct {
	db *gorm.DB
}

// NewSupplierService создает новый экземпляр SupplierService
func NewSupplierService(db *gorm.DB) *SupplierService {
	return &SupplierService{db: db}
}

// GetAllSuppliers получает список активных поставщиков тенанта
func (s *SupplierService) GetAllSuppliers(ctx context.Context, tenantID string) ([]models.Supplier, error) {
	var suppliers []models.Supplier
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, models.SupplierStatusActive).
		Order("name ASC").
		Find(&suppliers).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения поставщиков: %w", err)
	}
	return suppliers, nil
}

// GetSupplierByID получает поставщика по ID
func (s *SupplierService) GetSupplierByID(ctx context.Context, tenantID, id string) (*models.Supplier, error) {
	return ensureSupplier(s.db.WithContext(ctx), tenantID, id)
}

// CreateSupplier создает нового поставщика
func (s *SupplierService) CreateSupplier(ctx context.Context, tenantID string, supplier *models.Supplier) error {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return badRequest("название поставщика обязательно")
	}
	supplier.TenantID = tenantID

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.Supplier{}).
		Where("tenant_id = ? AND LOWER(name) = ?", tenantID, strings.ToLower(supplier.Name)).
		Count(&count).Error; err != nil {
		return fmt.Errorf("ошибка проверки поставщика: %w", err)
	}
	if count > 0 {
		return conflict("поставщик '%s' уже существует", supplier.Name)
	}

	if err := db.Create(supplier).Error; err != nil {
		return fmt.Errorf("ошибка создания поставщика: %w", err)
	}
	return nil
}

// UpdateSupplier обновляет данные поставщика. Подтвержденный вручную поставщик
// перестает считаться автосозданным
func (s *SupplierService) UpdateSupplier(ctx context.Context, tenantID, id string, updated *models.Supplier) (*models.Supplier, error) {
	supplier, err := s.GetSupplierByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(updated.Name); name != "" {
		supplier.Name = name
	}
	if updated.ContactPerson != "" {
		supplier.ContactPerson = updated.ContactPerson
	}
	if updated.Phone != "" {
		supplier.Phone = updated.Phone
	}
	if updated.Email != "" {
		supplier.Email = updated.Email
	}
	if updated.Status != "" {
		supplier.Status = updated.Status
	}
	supplier.AutoCreated = false

	if err := s.db.WithContext(ctx).Save(supplier).Error; err != nil {
		return nil, fmt.Errorf("ошибка обновления поставщика: %w", err)
	}
	return supplier, nil
}

// ArchiveSupplier переводит поставщика в архив. Партии сохраняют ссылку на него
func (s *SupplierService) ArchiveSupplier(ctx context.Context, tenantID, id string) error {
	result := s.db.WithContext(ctx).Model(&models.Supplier{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("status", models.SupplierStatusArchived)
	if result.Error != nil {
		return fmt.Errorf("ошибка архивации поставщика: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound("поставщик %s не найден", id)
	}
	return nil
}

func ensureSupplier(db *gorm.DB, tenantID, id string) (*models.Supplier, error) {
	var supplier models.Supplier
	if err := db.Where("tenant_id = ? AND id = ?", tenantID, id).Take(&supplier).Error; err != nil {
		return nil, lookupErr(err, "поставщик %s не найден", id)
	}
	return &supplier, nil
}
