package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"restoerp/server/internal/models"
	"restoerp/server/internal/testutil"
)

func TestGetItemStockByBranch(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)
	k.receive(t, k.second, flour, k.kilo, 0.5, 100, baseTime(), nil)

	stock, err := k.stock.GetItemStock(k.ctx, testutil.TestTenant, flour.ID)
	if err != nil {
		t.Fatalf("GetItemStock failed: %v", err)
	}
	if !testutil.AlmostEqual(stock.CurrentStock, 515) {
		t.Errorf("aggregate = %v, want 515", stock.CurrentStock)
	}
	if len(stock.Branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(stock.Branches))
	}
	if stock.Branches[0].BranchName != "Main" || !testutil.AlmostEqual(stock.Branches[0].CurrentStock, 15) {
		t.Errorf("unexpected first branch: %+v", stock.Branches[0])
	}
	if stock.Branches[1].Status != "in_stock" || stock.Branches[1].ItemName != "Flour" {
		t.Errorf("unexpected second branch: %+v", stock.Branches[1])
	}

	if _, err := k.stock.GetItemStock(k.ctx, "other-tenant", flour.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign tenant must not see the item, got %v", err)
	}
}

func TestListBranchStockStatus(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)
	if _, err := k.allocation.Allocate(k.ctx, testutil.TestTenant, AllocationRequest{
		BranchID: k.main.ID, InventoryItemID: flour.ID, Quantity: 15,
	}); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	rows, err := k.stock.ListBranchStock(k.ctx, testutil.TestTenant, k.main.ID)
	if err != nil {
		t.Fatalf("ListBranchStock failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != "out_of_stock" || rows[0].ItemName != "Flour" {
		t.Errorf("unexpected rows: %+v", rows)
	}
	if stockStatus(3, 5) != "low_stock" || stockStatus(6, 5) != "in_stock" {
		t.Errorf("unexpected stock status thresholds")
	}
}

func TestListBatchesComputesAvailability(t *testing.T) {
	k := newKitchen(t)
	flour, batches := twoBatches(t, k)
	if _, err := k.allocation.Allocate(k.ctx, testutil.TestTenant, AllocationRequest{
		BranchID: k.main.ID, InventoryItemID: flour.ID, Quantity: 6,
	}); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	all, err := k.stock.ListBatches(k.ctx, testutil.TestTenant, flour.ID, k.main.ID, false)
	if err != nil {
		t.Fatalf("ListBatches failed: %v", err)
	}
	if len(all) != 2 || all[0].Available != 0 || !testutil.AlmostEqual(all[1].Available, 9) {
		t.Errorf("unexpected availability: %+v", all)
	}

	available, _ := k.stock.ListBatches(k.ctx, testutil.TestTenant, flour.ID, "", true)
	if len(available) != 1 || available[0].ID != batches[1].ID {
		t.Errorf("drained batch must be hidden: %+v", available)
	}
}

func TestGetExpiringBatches(t *testing.T) {
	k := newKitchen(t)
	milk := testutil.SeedItem(t, k.db, testutil.TestTenant, "Milk", k.gram.ID, true)
	now := time.Now().UTC()
	critical := now.Add(2 * time.Hour)
	warning := now.Add(10 * time.Hour)
	later := now.Add(72 * time.Hour)

	k.receive(t, k.main, milk, k.gram, 100, 1, baseTime(), &later)
	k.receive(t, k.main, milk, k.gram, 100, 1, baseTime().Add(time.Hour), &warning)
	k.receive(t, k.main, milk, k.gram, 100, 1, baseTime().Add(2*time.Hour), &critical)
	k.receive(t, k.main, milk, k.gram, 100, 1, baseTime().Add(3*time.Hour), nil)

	batches, err := k.stock.GetExpiringBatches(k.ctx, testutil.TestTenant, k.main.ID, 48*time.Hour)
	if err != nil {
		t.Fatalf("GetExpiringBatches failed: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 expiring batches, got %d", len(batches))
	}
	if batches[0].RiskLevel != "critical" || batches[1].RiskLevel != "warning" {
		t.Errorf("unexpected risk levels: %s, %s", batches[0].RiskLevel, batches[1].RiskLevel)
	}
	if !testutil.AlmostEqual(batches[0].Available, 100) {
		t.Errorf("available = %v, want 100", batches[0].Available)
	}
}

func TestReconcileCleanLedgerHasNoDrift(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)
	salt := testutil.SeedItem(t, k.db, testutil.TestTenant, "Salt", k.gram.ID, false)
	k.receive(t, k.main, salt, k.gram, 1000, 0.02, baseTime(), nil)

	moved := k.newTransfer(t, flour, k.gram, 7)
	k.setStatus(t, moved.ID, models.TransferStatusInTransit)
	k.setStatus(t, moved.ID, models.TransferStatusReceived)

	cancelled := k.newTransfer(t, salt, k.gram, 300)
	k.setStatus(t, cancelled.ID, models.TransferStatusInTransit)
	k.setStatus(t, cancelled.ID, models.TransferStatusCancelled)

	if _, err := k.sales.CreateSale(k.ctx, testutil.TestTenant, CreateSaleRequest{
		BranchID: k.second.ID,
		Lines:    []SaleLineRequest{{InventoryItemID: flour.ID, UomID: k.gram.ID, Quantity: 3, UnitPrice: 5}},
	}); err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}

	drifts, err := k.stock.Reconcile(k.ctx, testutil.TestTenant, false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(drifts) != 0 {
		t.Errorf("expected no drift, got %+v", drifts)
	}
	if k.events.count(EventStockDriftDetected) != 0 {
		t.Errorf("clean ledger must not publish drift events")
	}
}

func TestReconcileDetectsAndRepairsDrift(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)
	salt := testutil.SeedItem(t, k.db, testutil.TestTenant, "Salt", k.gram.ID, false)
	k.receive(t, k.main, salt, k.gram, 1000, 0.02, baseTime(), nil)

	k.db.Model(&models.BranchStock{}).
		Where("branch_id = ? AND inventory_item_id = ?", k.main.ID, flour.ID).
		Update("current_stock", 100)
	k.db.Model(&models.InventoryItem{}).Where("id = ?", salt.ID).Update("current_stock", 1200)

	drifts, err := k.stock.Reconcile(k.ctx, testutil.TestTenant, false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(drifts) != 2 {
		t.Fatalf("expected 2 drifts, got %+v", drifts)
	}
	for _, d := range drifts {
		switch d.InventoryItemID {
		case flour.ID:
			if d.BranchID != k.main.ID || !testutil.AlmostEqual(d.Derived, 15) || !testutil.AlmostEqual(d.Drift, 85) {
				t.Errorf("unexpected flour drift: %+v", d)
			}
		case salt.ID:
			if d.BranchID != "" || !testutil.AlmostEqual(d.Derived, 1000) {
				t.Errorf("unexpected salt drift: %+v", d)
			}
		}
		if d.Repaired {
			t.Errorf("dry run must not repair")
		}
	}
	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); !testutil.AlmostEqual(got, 100) {
		t.Errorf("dry run changed stock: %v", got)
	}

	repaired, err := k.stock.Reconcile(k.ctx, testutil.TestTenant, true)
	if err != nil {
		t.Fatalf("Reconcile(repair) failed: %v", err)
	}
	if len(repaired) != 2 || !repaired[0].Repaired {
		t.Errorf("expected repaired drifts, got %+v", repaired)
	}
	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); !testutil.AlmostEqual(got, 15) {
		t.Errorf("branch stock after repair = %v, want 15", got)
	}
	if got := testutil.ReloadItem(t, k.db, salt.ID).CurrentStock; !testutil.AlmostEqual(got, 1000) {
		t.Errorf("salt aggregate after repair = %v, want 1000", got)
	}

	var adjustments int64
	k.db.Model(&models.StockMovement{}).Where("movement_type = ?", models.MovementAdjustment).Count(&adjustments)
	if adjustments != 1 {
		t.Errorf("expected 1 adjustment movement, got %d", adjustments)
	}

	again, _ := k.stock.Reconcile(k.ctx, testutil.TestTenant, false)
	if len(again) != 0 {
		t.Errorf("repaired ledger must be clean, got %+v", again)
	}
	if k.events.count(EventStockDriftDetected) != 2 {
		t.Errorf("expected 2 drift events, got %v", k.events.types())
	}
}

func TestReconcileAllCoversEveryTenant(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)

	otherUnit := testutil.SeedUnit(t, k.db, "tenant-other", "Gram", "g")
	otherItem := testutil.SeedItem(t, k.db, "tenant-other", "Rice", otherUnit.ID, false)
	k.db.Model(&models.InventoryItem{}).Where("id = ?", otherItem.ID).Update("current_stock", 5)
	k.db.Model(&models.BranchStock{}).
		Where("branch_id = ? AND inventory_item_id = ?", k.main.ID, flour.ID).
		Update("current_stock", 14)

	total, err := k.stock.ReconcileAll(k.ctx, true)
	if err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}
	if total != 2 {
		t.Errorf("total drifts = %d, want 2", total)
	}
	if got := testutil.ReloadItem(t, k.db, otherItem.ID).CurrentStock; got != 0 {
		t.Errorf("other tenant aggregate = %v, want 0", got)
	}
}

type statementTrace struct {
	mu      sync.Mutex
	entries []tracedStatement
}

type tracedStatement struct {
	table  string
	locked bool
}

func (tr *statementTrace) record(db *gorm.DB) {
	_, locked := db.Statement.Clauses["FOR"]
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.entries = append(tr.entries, tracedStatement{table: db.Statement.Table, locked: locked})
}

func (tr *statementTrace) reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.entries = nil
}

// firstIndex возвращает позицию первого запроса к таблице или -1
func (tr *statementTrace) firstIndex(table string, locked bool) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i, e := range tr.entries {
		if e.table == table && (!locked || e.locked) {
			return i
		}
	}
	return -1
}

func TestReconcileRepairLocksCountersBeforeSummingLedger(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)
	k.db.Model(&models.BranchStock{}).
		Where("branch_id = ? AND inventory_item_id = ?", k.main.ID, flour.ID).
		Update("current_stock", 20)

	trace := &statementTrace{}
	if err := k.db.Callback().Query().After("gorm:query").Register("trace:query", trace.record); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := k.db.Callback().Row().After("gorm:row").Register("trace:row", trace.record); err != nil {
		t.Fatalf("register row callback: %v", err)
	}

	if _, err := k.stock.Reconcile(k.ctx, testutil.TestTenant, false); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if trace.firstIndex("inventory_items", true) != -1 || trace.firstIndex("branch_stocks", true) != -1 {
		t.Errorf("dry run must not lock counters: %+v", trace.entries)
	}

	trace.reset()
	drifts, err := k.stock.Reconcile(k.ctx, testutil.TestTenant, true)
	if err != nil {
		t.Fatalf("Reconcile(repair) failed: %v", err)
	}
	if len(drifts) != 1 || !testutil.AlmostEqual(drifts[0].Drift, 5) {
		t.Fatalf("unexpected drifts: %+v", drifts)
	}

	batches := trace.firstIndex("inflow_batches", false)
	items := trace.firstIndex("inventory_items", true)
	stocks := trace.firstIndex("branch_stocks", true)
	if batches == -1 || items == -1 || stocks == -1 {
		t.Fatalf("unexpected statement trace: %+v", trace.entries)
	}
	if items > batches || stocks > batches {
		t.Errorf("counters must be locked before batch sums: items=%d stocks=%d batches=%d", items, stocks, batches)
	}

	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); !testutil.AlmostEqual(got, 15) {
		t.Errorf("branch stock after repair = %v, want 15", got)
	}
	var adjustment models.StockMovement
	if err := k.db.Where("movement_type = ?", models.MovementAdjustment).First(&adjustment).Error; err != nil {
		t.Fatalf("adjustment movement missing: %v", err)
	}
	if !testutil.AlmostEqual(adjustment.Quantity, -5) {
		t.Errorf("adjustment = %v, want -5", adjustment.Quantity)
	}
}

func TestReconcileRepairAppliesDeltaAfterSale(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)
	k.db.Model(&models.BranchStock{}).
		Where("branch_id = ? AND inventory_item_id = ?", k.main.ID, flour.ID).
		Update("current_stock", 11)

	if _, err := k.stock.Reconcile(k.ctx, testutil.TestTenant, true); err != nil {
		t.Fatalf("Reconcile(repair) failed: %v", err)
	}
	if _, err := k.allocation.Allocate(k.ctx, testutil.TestTenant, AllocationRequest{
		BranchID: k.main.ID, InventoryItemID: flour.ID, Quantity: 4,
	}); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); !testutil.AlmostEqual(got, 11) {
		t.Errorf("branch stock = %v, want 11", got)
	}
	drifts, err := k.stock.Reconcile(k.ctx, testutil.TestTenant, false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(drifts) != 0 {
		t.Errorf("sale after repair must keep the ledger clean, got %+v", drifts)
	}
}
