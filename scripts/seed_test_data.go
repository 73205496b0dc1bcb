package main

import (
	"context"
	"flag"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"restoerp/server/internal/config"
	"restoerp/server/internal/database"
	"restoerp/server/internal/logger"
	"restoerp/server/internal/models"
	"restoerp/server/internal/services"
)

// Заполняет склад демо-тенанта: единицы, филиалы, поставщик, товары и первое поступление.
// Запуск: go run ./scripts -tenant demo
func main() {
	tenantID := flag.String("tenant", "demo", "тенант для тестовых данных")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.MustInit(cfg.Environment, cfg.LogLevel).Sugar()

	db, err := database.ConnectPostgres(database.PostgresOptions{
		URL:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка подключения к БД: %v", err)
	}
	defer database.ClosePostgres(db)

	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("❌ Ошибка миграции: %v", err)
	}

	ctx := context.Background()
	inv := services.NewInventory(db, nil, nil, log)

	units := map[string]*models.UnitOfMeasure{}
	for _, u := range []models.UnitOfMeasure{
		{Name: "Грамм", Abbreviation: "г"},
		{Name: "Килограмм", Abbreviation: "кг"},
		{Name: "Миллилитр", Abbreviation: "мл"},
		{Name: "Литр", Abbreviation: "л"},
		{Name: "Штука", Abbreviation: "шт"},
		{Name: "Коробка", Abbreviation: "кор"},
	} {
		unit := u
		if err := inv.UoM.CreateUnit(ctx, *tenantID, &unit); err != nil {
			if services.KindOf(err) == services.KindConflict {
				log.Fatalf("⚠️ Тенант %s уже заполнен: %v", *tenantID, err)
			}
			log.Fatalf("❌ Ошибка создания единицы %s: %v", unit.Name, err)
		}
		units[unit.Abbreviation] = &unit
	}

	conversions := []struct {
		from, to string
		factor   float64
	}{
		{"кг", "г", 1000},
		{"л", "мл", 1000},
		{"кор", "шт", 24},
	}
	for _, c := range conversions {
		if _, err := inv.UoM.CreateConversion(ctx, *tenantID, units[c.from].ID, units[c.to].ID, c.factor); err != nil {
			log.Fatalf("❌ Ошибка создания конвертации %s -> %s: %v", c.from, c.to, err)
		}
	}

	var branches []*models.Branch
	for _, name := range []string{"Центральный склад", "Кухня на Лесной"} {
		branch := &models.Branch{Name: name, IsActive: true}
		if err := inv.Branches.CreateBranch(ctx, *tenantID, branch); err != nil {
			log.Fatalf("❌ Ошибка создания филиала %s: %v", name, err)
		}
		branches = append(branches, branch)
	}

	supplier := &models.Supplier{Name: "ООО Продснаб", Phone: "+7 900 000-00-00"}
	if err := inv.Suppliers.CreateSupplier(ctx, *tenantID, supplier); err != nil {
		log.Fatalf("❌ Ошибка создания поставщика: %v", err)
	}

	items := []struct {
		item     models.InventoryItem
		uom      string
		quantity float64
		cost     float64
		shelf    time.Duration
	}{
		{models.InventoryItem{Name: "Мука пшеничная", BaseUomID: units["г"].ID, IsTrackable: true, MinStock: 5000}, "кг", 50, 42, 180 * 24 * time.Hour},
		{models.InventoryItem{Name: "Молоко 3.2%", BaseUomID: units["мл"].ID, IsTrackable: true, MinStock: 2000}, "л", 20, 89, 5 * 24 * time.Hour},
		{models.InventoryItem{Name: "Соль", BaseUomID: units["г"].ID}, "кг", 10, 25, 0},
		{models.InventoryItem{Name: "Стакан бумажный", BaseUomID: units["шт"].ID, UnitPrice: 15}, "кор", 10, 480, 0},
	}

	lines := make([]services.InflowLineRequest, 0, len(items))
	for i := range items {
		entry := &items[i]
		if err := inv.Items.CreateItem(ctx, *tenantID, &entry.item); err != nil {
			log.Fatalf("❌ Ошибка создания товара %s: %v", entry.item.Name, err)
		}
		line := services.InflowLineRequest{
			InventoryItemID: entry.item.ID,
			UomID:           units[entry.uom].ID,
			Quantity:        entry.quantity,
			UnitCost:        entry.cost,
		}
		if entry.shelf > 0 {
			expiry := time.Now().UTC().Add(entry.shelf)
			line.ExpiryDate = &expiry
		}
		lines = append(lines, line)
	}

	inflow, err := inv.Inflows.CreateInflow(ctx, *tenantID, services.CreateInflowRequest{
		BranchID:      branches[0].ID,
		SupplierID:    &supplier.ID,
		InvoiceNumber: "DEMO-0001",
		PerformedBy:   "seed",
		Lines:         lines,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка оприходования: %v", err)
	}

	log.Infow("✅ Тестовые данные созданы",
		zap.String("tenant", *tenantID),
		zap.Int("units", len(units)),
		zap.Int("branches", len(branches)),
		zap.Int("items", len(items)),
		zap.String("inflow", inflow.ID),
	)
}
