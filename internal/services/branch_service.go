package services

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"restoerp/server/internal/models"
)

// BranchService управляет филиалами тенанта
type BranchService struct {
	db *gorm.DB
}

// NewBranchService создает новый экземпляр BranchService
func NewBranchService(db *gorm.DB) *BranchService {
	return &BranchService{db: db}
}

// GetAllBranches возвращает филиалы тенанта. При activeOnly = true только активные
func (s *BranchService) GetAllBranches(ctx context.Context, tenantID string, activeOnly bool) ([]models.Branch, error) {
	var branches []models.Branch
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Order("name ASC").Find(&branches).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения филиалов: %w", err)
	}
	return branches, nil
}

// GetBranchByID возвращает филиал по ID
func (s *BranchService) GetBranchByID(ctx context.Context, tenantID, id string) (*models.Branch, error) {
	return ensureBranch(s.db.WithContext(ctx), tenantID, id)
}

// CreateBranch создает новый филиал. Имя уникально в пределах тенанта без учета регистра
func (s *BranchService) CreateBranch(ctx context.Context, tenantID string, branch *models.Branch) error {
	branch.Name = strings.TrimSpace(branch.Name)
	if branch.Name == "" {
		return badRequest("название филиала обязательно")
	}
	branch.TenantID = tenantID

	db := s.db.WithContext(ctx)
	if err := s.checkNameUnique(db, tenantID, branch.Name, ""); err != nil {
		return err
	}
	if err := db.Create(branch).Error; err != nil {
		return fmt.Errorf("ошибка создания филиала: %w", err)
	}
	return nil
}

// UpdateBranch обновляет данные филиала
func (s *BranchService) UpdateBranch(ctx context.Context, tenantID, id string, updated *models.Branch) (*models.Branch, error) {
	db := s.db.WithContext(ctx)
	branch, err := ensureBranch(db, tenantID, id)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(updated.Name); name != "" && name != branch.Name {
		if err := s.checkNameUnique(db, tenantID, name, id); err != nil {
			return nil, err
		}
		branch.Name = name
	}
	if updated.Address != "" {
		branch.Address = updated.Address
	}
	if updated.Phone != "" {
		branch.Phone = updated.Phone
	}
	branch.IsActive = updated.IsActive

	if err := db.Save(branch).Error; err != nil {
		return nil, fmt.Errorf("ошибка обновления филиала: %w", err)
	}
	return branch, nil
}

// DeleteBranch удаляет филиал (soft delete)
func (s *BranchService) DeleteBranch(ctx context.Context, tenantID, id string) error {
	result := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&models.Branch{})
	if result.Error != nil {
		return fmt.Errorf("ошибка удаления филиала: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound("филиал %s не найден", id)
	}
	return nil
}

func (s *BranchService) checkNameUnique(db *gorm.DB, tenantID, name, exceptID string) error {
	query := db.Model(&models.Branch{}).Where("tenant_id = ? AND LOWER(name) = ?", tenantID, strings.ToLower(name))
	if exceptID != "" {
		query = query.Where("id <> ?", exceptID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("ошибка проверки названия филиала: %w", err)
	}
	if count > 0 {
		return conflict("филиал с названием '%s' уже существует", name)
	}
	return nil
}
