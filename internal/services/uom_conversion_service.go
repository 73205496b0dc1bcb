package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"restoerp/server/internal/models"
)

// UoMConversionService управляет единицами измерения и графом конвертаций тенанта
type UoMConversionService struct {
	db     *gorm.DB
	cache  ConversionGraphCache
	logger *zap.SugaredLogger

	// Поколение графа тенанта растет при каждом изменении конвертаций
	genMu       sync.Mutex
	generations map[string]uint64
}

// NewUoMConversionService создает новый экземпляр UoMConversionService
func NewUoMConversionService(db *gorm.DB) *UoMConversionService {
	return &UoMConversionService{
		db:          db,
		cache:       NewMemoryGraphCache(),
		logger:      zap.S(),
		generations: make(map[string]uint64),
	}
}

// SetGraphCache подменяет кэш графов (например, на Redis)
func (s *UoMConversionService) SetGraphCache(cache ConversionGraphCache) {
	s.cache = cache
}

// SetLogger устанавливает логгер сервиса
func (s *UoMConversionService) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

// ReachableConversion - единица, достижимая из исходной, с составным коэффициентом
type ReachableConversion struct {
	FromUomID string                `json:"from_uom_id"`
	ToUomID   string                `json:"to_uom_id"`
	FromUom   *models.UnitOfMeasure `json:"from_uom,omitempty"`
	ToUom     *models.UnitOfMeasure `json:"to_uom,omitempty"`
	Factor    float64               `json:"factor"`
	IsDirect  bool                  `json:"is_direct"`
}

// CreateUnit регистрирует новую единицу измерения
func (s *UoMConversionService) CreateUnit(ctx context.Context, tenantID string, unit *models.UnitOfMeasure) error {
	unit.Name = strings.TrimSpace(unit.Name)
	unit.Abbreviation = strings.TrimSpace(unit.Abbreviation)
	if unit.Name == "" {
		return badRequest("название единицы измерения обязательно")
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.UnitOfMeasure{}).
		Where("tenant_id = ? AND LOWER(name) = ?", tenantID, strings.ToLower(unit.Name)).
		Count(&count).Error; err != nil {
		return fmt.Errorf("ошибка проверки единицы измерения: %w", err)
	}
	if count > 0 {
		return conflict("единица измерения '%s' уже существует", unit.Name)
	}

	unit.TenantID = tenantID
	if err := db.Create(unit).Error; err != nil {
		return fmt.Errorf("ошибка создания единицы измерения: %w", err)
	}
	return nil
}

// ListUnits возвращает все единицы тенанта
func (s *UoMConversionService) ListUnits(ctx context.Context, tenantID string) ([]models.UnitOfMeasure, error) {
	var units []models.UnitOfMeasure
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("is_default DESC, name ASC").
		Find(&units).Error; err != nil {
		return nil, fmt.Errorf("ошибка загрузки единиц измерения: %w", err)
	}
	return units, nil
}

// GetUnit возвращает единицу по ID
func (s *UoMConversionService) GetUnit(ctx context.Context, tenantID, uomID string) (*models.UnitOfMeasure, error) {
	return getUnit(s.db.WithContext(ctx), tenantID, uomID)
}

func getUnit(db *gorm.DB, tenantID, uomID string) (*models.UnitOfMeasure, error) {
	var unit models.UnitOfMeasure
	if err := db.Where("tenant_id = ? AND id = ?", tenantID, uomID).Take(&unit).Error; err != nil {
		return nil, lookupErr(err, "единица измерения %s не найдена", uomID)
	}
	return &unit, nil
}

// CreateConversion создает конвертацию 1 from = factor to и зеркальную запись 1/factor.
// Если пара уже есть, обновляет обе записи на месте
func (s *UoMConversionService) CreateConversion(ctx context.Context, tenantID, fromUomID, toUomID string, factor float64) (*models.UnitConversion, error) {
	if factor <= 0 {
		return nil, badRequest("коэффициент конвертации должен быть > 0, получено: %v", factor)
	}
	if fromUomID == toUomID {
		return nil, badRequest("единицы конвертации должны различаться")
	}

	var result models.UnitConversion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getUnit(tx, tenantID, fromUomID); err != nil {
			return err
		}
		if _, err := getUnit(tx, tenantID, toUomID); err != nil {
			return err
		}

		forward, err := upsertConversion(tx, tenantID, fromUomID, toUomID, factor)
		if err != nil {
			return err
		}
		if _, err := upsertConversion(tx, tenantID, toUomID, fromUomID, 1/factor); err != nil {
			return err
		}

		return tx.Preload("FromUom").Preload("ToUom").Take(&result, "id = ?", forward.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.invalidateGraph(ctx, tenantID)
	s.logger.Infof("✅ Конвертация %s -> %s (x%v) сохранена для тенанта %s", result.FromUom.Label(), result.ToUom.Label(), factor, tenantID)
	return &result, nil
}

func upsertConversion(tx *gorm.DB, tenantID, fromUomID, toUomID string, factor float64) (*models.UnitConversion, error) {
	var conv models.UnitConversion
	err := tx.Where("tenant_id = ? AND from_uom_id = ? AND to_uom_id = ?", tenantID, fromUomID, toUomID).Take(&conv).Error
	switch {
	case err == nil:
		if err := tx.Model(&conv).Update("factor", factor).Error; err != nil {
			return nil, fmt.Errorf("ошибка обновления конвертации: %w", err)
		}
		conv.Factor = factor
	case errors.Is(err, gorm.ErrRecordNotFound):
		conv = models.UnitConversion{
			TenantID:  tenantID,
			FromUomID: fromUomID,
			ToUomID:   toUomID,
			Factor:    factor,
		}
		if err := tx.Create(&conv).Error; err != nil {
			return nil, fmt.Errorf("ошибка создания конвертации: %w", err)
		}
	default:
		return nil, fmt.Errorf("ошибка поиска конвертации: %w", err)
	}
	return &conv, nil
}

// RemoveConversion удаляет конвертацию вместе с зеркальной записью
func (s *UoMConversionService) RemoveConversion(ctx context.Context, tenantID, conversionID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.UnitConversion
		if err := tx.Where("tenant_id = ? AND id = ?", tenantID, conversionID).Take(&conv).Error; err != nil {
			return lookupErr(err, "конвертация %s не найдена", conversionID)
		}
		return tx.Where("tenant_id = ? AND ((from_uom_id = ? AND to_uom_id = ?) OR (from_uom_id = ? AND to_uom_id = ?))",
			tenantID, conv.FromUomID, conv.ToUomID, conv.ToUomID, conv.FromUomID).
			Delete(&models.UnitConversion{}).Error
	})
	if err != nil {
		return err
	}

	s.invalidateGraph(ctx, tenantID)
	s.logger.Infof("🗑️ Конвертация %s удалена вместе с зеркальной (тенант %s)", conversionID, tenantID)
	return nil
}

// ListConversions возвращает все записи конвертаций тенанта
func (s *UoMConversionService) ListConversions(ctx context.Context, tenantID string) ([]models.UnitConversion, error) {
	var conversions []models.UnitConversion
	if err := s.db.WithContext(ctx).
		Preload("FromUom").Preload("ToUom").
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&conversions).Error; err != nil {
		return nil, fmt.Errorf("ошибка загрузки конвертаций: %w", err)
	}
	return conversions, nil
}

// GetMultiplier возвращает множитель from -> to: прямая запись, обратная запись
// или составной путь по графу. ok = false, если единицы не связаны
func (s *UoMConversionService) GetMultiplier(ctx context.Context, tenantID, fromUomID, toUomID string) (float64, bool, error) {
	return s.multiplier(ctx, s.db.WithContext(ctx), tenantID, fromUomID, toUomID)
}

// Convert переводит количество из одной единицы в другую
func (s *UoMConversionService) Convert(ctx context.Context, tenantID, fromUomID, toUomID string, qty float64) (float64, error) {
	return s.convert(ctx, s.db.WithContext(ctx), tenantID, fromUomID, toUomID, qty)
}

// convert выполняется на переданном соединении, внутри транзакции вызывающего
func (s *UoMConversionService) convert(ctx context.Context, db *gorm.DB, tenantID, fromUomID, toUomID string, qty float64) (float64, error) {
	m, ok, err := s.multiplier(ctx, db, tenantID, fromUomID, toUomID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, notFound("невозможно конвертировать %s в %s", unitLabel(db, tenantID, fromUomID), unitLabel(db, tenantID, toUomID))
	}
	return qty * m, nil
}

func (s *UoMConversionService) multiplier(ctx context.Context, db *gorm.DB, tenantID, fromUomID, toUomID string) (float64, bool, error) {
	if fromUomID == toUomID {
		return 1, true, nil
	}

	var direct []models.UnitConversion
	if err := db.Where("tenant_id = ? AND ((from_uom_id = ? AND to_uom_id = ?) OR (from_uom_id = ? AND to_uom_id = ?))",
		tenantID, fromUomID, toUomID, toUomID, fromUomID).
		Find(&direct).Error; err != nil {
		return 0, false, fmt.Errorf("ошибка поиска конвертации: %w", err)
	}
	for _, c := range direct {
		if c.FromUomID == fromUomID && c.Factor > 0 {
			return c.Factor, true, nil
		}
	}
	for _, c := range direct {
		if c.FromUomID == toUomID && c.Factor > 0 {
			return 1 / c.Factor, true, nil
		}
	}

	graph, err := s.loadGraph(ctx, db, tenantID)
	if err != nil {
		return 0, false, err
	}
	factor, ok := graph.Factor(fromUomID, toUomID)
	return factor, ok, nil
}

// GetConversionsForUom перечисляет все единицы, достижимые из uomID, с составными коэффициентами
func (s *UoMConversionService) GetConversionsForUom(ctx context.Context, tenantID, uomID string) ([]ReachableConversion, error) {
	db := s.db.WithContext(ctx)
	source, err := getUnit(db, tenantID, uomID)
	if err != nil {
		return nil, err
	}

	graph, err := s.loadGraph(ctx, db, tenantID)
	if err != nil {
		return nil, err
	}

	var units []models.UnitOfMeasure
	if err := db.Where("tenant_id = ?", tenantID).Find(&units).Error; err != nil {
		return nil, fmt.Errorf("ошибка загрузки единиц измерения: %w", err)
	}
	byID := make(map[string]*models.UnitOfMeasure, len(units))
	for i := range units {
		byID[units[i].ID] = &units[i]
	}

	reach := graph.Reachable(uomID)
	result := make([]ReachableConversion, 0, len(reach))
	for target, r := range reach {
		unit, ok := byID[target]
		if !ok {
			continue
		}
		result = append(result, ReachableConversion{
			FromUomID: uomID,
			ToUomID:   target,
			FromUom:   source,
			ToUom:     unit,
			Factor:    r.Factor,
			IsDirect:  r.Depth == 1,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ToUom.Name < result[j].ToUom.Name
	})
	return result, nil
}

func (s *UoMConversionService) loadGraph(ctx context.Context, db *gorm.DB, tenantID string) (*ConversionGraph, error) {
	if graph, ok := s.cache.Get(ctx, tenantID); ok {
		return graph, nil
	}

	gen := s.generation(tenantID)
	var edges []ConversionEdge
	if err := db.Model(&models.UnitConversion{}).
		Select("from_uom_id AS \"from\", to_uom_id AS \"to\", factor").
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Scan(&edges).Error; err != nil {
		return nil, fmt.Errorf("ошибка загрузки графа конвертаций: %w", err)
	}

	graph := NewConversionGraph(edges)
	s.cache.Set(ctx, tenantID, graph)
	// Конвертации изменились, пока граф читался: сохраненная копия могла устареть
	if s.generation(tenantID) != gen {
		s.cache.Invalidate(ctx, tenantID)
	}
	return graph, nil
}

func (s *UoMConversionService) generation(tenantID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[tenantID]
}

// invalidateGraph вызывается после коммита изменения конвертаций
func (s *UoMConversionService) invalidateGraph(ctx context.Context, tenantID string) {
	s.genMu.Lock()
	s.generations[tenantID]++
	s.genMu.Unlock()
	s.cache.Invalidate(ctx, tenantID)
}

func unitLabel(db *gorm.DB, tenantID, uomID string) string {
	unit, err := getUnit(db, tenantID, uomID)
	if err != nil {
		return uomID
	}
	return unit.Label()
}
