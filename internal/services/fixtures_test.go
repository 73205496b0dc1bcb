package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"restoerp/server/internal/models"
	"restoerp/server/internal/testutil"
)

// kitchen - типовой набор данных: граммы и килограммы, штуки, два филиала
type kitchen struct {
	db  *gorm.DB
	ctx context.Context

	gram  *models.UnitOfMeasure
	kilo  *models.UnitOfMeasure
	piece *models.UnitOfMeasure
	box   *models.UnitOfMeasure // без конвертаций

	main   *models.Branch
	second *models.Branch

	uom        *UoMConversionService
	inflows    *InflowService
	bulk       *BulkUploadService
	allocation *AllocationService
	sales      *SaleService
	transfers  *TransferService
	stock      *StockService

	events *recordingPublisher
}

func newKitchen(t *testing.T) *kitchen {
	t.Helper()
	db := testutil.SetupTestDB(t)
	k := &kitchen{db: db, ctx: context.Background(), events: &recordingPublisher{}}

	k.gram = testutil.SeedUnit(t, db, testutil.TestTenant, "Gram", "g")
	k.kilo = testutil.SeedUnit(t, db, testutil.TestTenant, "Kilogram", "kg")
	k.piece = testutil.SeedUnit(t, db, testutil.TestTenant, "Piece", "pcs")
	k.box = testutil.SeedUnit(t, db, testutil.TestTenant, "Box", "box")
	testutil.SeedConversion(t, db, testutil.TestTenant, k.kilo.ID, k.gram.ID, 1000)

	k.main = testutil.SeedBranch(t, db, testutil.TestTenant, "Main")
	k.second = testutil.SeedBranch(t, db, testutil.TestTenant, "Second")

	k.uom = NewUoMConversionService(db)
	k.inflows = NewInflowService(db, k.uom)
	k.bulk = NewBulkUploadService(db, k.inflows)
	k.allocation = NewAllocationService(db)
	k.sales = NewSaleService(db, k.uom, k.allocation)
	k.transfers = NewTransferService(db, k.uom, k.allocation)
	k.stock = NewStockService(db)

	k.inflows.SetEventPublisher(k.events)
	k.bulk.SetEventPublisher(k.events)
	k.sales.SetEventPublisher(k.events)
	k.transfers.SetEventPublisher(k.events)
	k.stock.SetEventPublisher(k.events)
	return k
}

// receive оприходует одну строку в филиал с заданным временем поступления
func (k *kitchen) receive(t *testing.T, branch *models.Branch, item *models.InventoryItem, uom *models.UnitOfMeasure, qty, cost float64, at time.Time, expiry *time.Time) *models.Inflow {
	t.Helper()
	inflow, err := k.inflows.CreateInflow(k.ctx, testutil.TestTenant, CreateInflowRequest{
		BranchID:    branch.ID,
		ReceivedAt:  &at,
		PerformedBy: "tester",
		Lines: []InflowLineRequest{{
			InventoryItemID: item.ID,
			UomID:           uom.ID,
			Quantity:        qty,
			UnitCost:        cost,
			ExpiryDate:      expiry,
		}},
	})
	if err != nil {
		t.Fatalf("CreateInflow failed: %v", err)
	}
	return inflow
}

func baseTime() time.Time {
	return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []InventoryEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event InventoryEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *recordingPublisher) count(eventType string) int {
	n := 0
	for _, t := range p.types() {
		if t == eventType {
			n++
		}
	}
	return n
}
