package services

import (
	"errors"
	"testing"

	"restoerp/server/internal/models"
	"restoerp/server/internal/testutil"
)

func TestCreateInflowConvertsToBaseAndCreatesBatch(t *testing.T) {
	k := newKitchen(t)
	flour := testutil.SeedItem(t, k.db, testutil.TestTenant, "Flour", k.gram.ID, true)
	supplier := testutil.SeedSupplier(t, k.db, testutil.TestTenant, "Acme")

	at := baseTime()
	inflow, err := k.inflows.CreateInflow(k.ctx, testutil.TestTenant, CreateInflowRequest{
		BranchID:      k.main.ID,
		SupplierID:    &supplier.ID,
		InvoiceNumber: "INV-1",
		ReceivedAt:    &at,
		Lines: []InflowLineRequest{
			{InventoryItemID: flour.ID, UomID: k.kilo.ID, Quantity: 2, UnitCost: 500, BatchNumber: "B-1"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInflow failed: %v", err)
	}
	if inflow.Source != models.InflowSourceManual {
		t.Errorf("source = %s, want manual", inflow.Source)
	}
	if !testutil.AlmostEqual(inflow.TotalCost, 1000) {
		t.Errorf("total cost = %v, want 1000", inflow.TotalCost)
	}

	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); !testutil.AlmostEqual(got, 2000) {
		t.Errorf("branch stock = %v, want 2000", got)
	}
	reloaded := testutil.ReloadItem(t, k.db, flour.ID)
	if !testutil.AlmostEqual(reloaded.CurrentStock, 2000) {
		t.Errorf("item stock = %v, want 2000", reloaded.CurrentStock)
	}
	if !testutil.AlmostEqual(reloaded.LastCost, 0.5) {
		t.Errorf("last cost = %v, want 0.5 per gram", reloaded.LastCost)
	}

	var batches []models.InflowBatch
	k.db.Where("inflow_id = ?", inflow.ID).Find(&batches)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	b := batches[0]
	if !testutil.AlmostEqual(b.Quantity, 2) || !testutil.AlmostEqual(b.BaseQuantity, 2000) {
		t.Errorf("batch quantities = %v/%v, want 2/2000", b.Quantity, b.BaseQuantity)
	}
	if !testutil.AlmostEqual(b.UnitCost, 0.5) {
		t.Errorf("batch unit cost = %v, want 0.5", b.UnitCost)
	}
	if b.SupplierID == nil || *b.SupplierID != supplier.ID {
		t.Errorf("batch supplier not set")
	}
	if b.BatchNumber != "B-1" {
		t.Errorf("batch number = %q", b.BatchNumber)
	}

	if n := testutil.Count(t, k.db, &models.StockMovement{}); n != 1 {
		t.Errorf("expected 1 stock movement, got %d", n)
	}
	if k.events.count(EventInflowCreated) != 1 {
		t.Errorf("expected inflow.created event, got %v", k.events.types())
	}
}

func TestCreateInflowNonTrackableSkipsBatches(t *testing.T) {
	k := newKitchen(t)
	salt := testutil.SeedItem(t, k.db, testutil.TestTenant, "Salt", k.gram.ID, false)

	k.receive(t, k.main, salt, k.kilo, 1.5, 20, baseTime(), nil)

	if n := testutil.Count(t, k.db, &models.InflowBatch{}); n != 0 {
		t.Errorf("non-trackable item must not create batches, got %d", n)
	}
	if got := testutil.BranchStock(t, k.db, k.main.ID, salt.ID); !testutil.AlmostEqual(got, 1500) {
		t.Errorf("branch stock = %v, want 1500", got)
	}
	if got := testutil.ReloadItem(t, k.db, salt.ID).LastCost; !testutil.AlmostEqual(got, 0.02) {
		t.Errorf("last cost = %v, want 0.02", got)
	}
}

func TestCreateInflowRejectsUnconvertibleLine(t *testing.T) {
	k := newKitchen(t)
	flour := testutil.SeedItem(t, k.db, testutil.TestTenant, "Flour", k.gram.ID, true)

	_, err := k.inflows.CreateInflow(k.ctx, testutil.TestTenant, CreateInflowRequest{
		BranchID: k.main.ID,
		Lines: []InflowLineRequest{
			{InventoryItemID: flour.ID, UomID: k.kilo.ID, Quantity: 1, UnitCost: 10},
			{InventoryItemID: flour.ID, UomID: k.box.ID, Quantity: 3, UnitCost: 10},
		},
	})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for unconvertible line, got %v", err)
	}

	// Первая строка тоже откатывается
	if n := testutil.Count(t, k.db, &models.Inflow{}); n != 0 {
		t.Errorf("expected no inflow documents, got %d", n)
	}
	if n := testutil.Count(t, k.db, &models.InflowBatch{}); n != 0 {
		t.Errorf("expected no batches, got %d", n)
	}
	if got := testutil.ReloadItem(t, k.db, flour.ID).CurrentStock; got != 0 {
		t.Errorf("item stock = %v, want 0", got)
	}
	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); got != 0 {
		t.Errorf("branch stock = %v, want 0", got)
	}
}

func TestCreateInflowValidation(t *testing.T) {
	k := newKitchen(t)
	flour := testutil.SeedItem(t, k.db, testutil.TestTenant, "Flour", k.gram.ID, true)

	cases := []struct {
		name string
		req  CreateInflowRequest
		want error
	}{
		{"no lines", CreateInflowRequest{BranchID: k.main.ID}, ErrBadRequest},
		{"zero quantity", CreateInflowRequest{BranchID: k.main.ID, Lines: []InflowLineRequest{
			{InventoryItemID: flour.ID, UomID: k.gram.ID, Quantity: 0, UnitCost: 1},
		}}, ErrBadRequest},
		{"negative cost", CreateInflowRequest{BranchID: k.main.ID, Lines: []InflowLineRequest{
			{InventoryItemID: flour.ID, UomID: k.gram.ID, Quantity: 1, UnitCost: -1},
		}}, ErrBadRequest},
		{"unknown branch", CreateInflowRequest{BranchID: "00000000-0000-0000-0000-000000000000", Lines: []InflowLineRequest{
			{InventoryItemID: flour.ID, UomID: k.gram.ID, Quantity: 1, UnitCost: 1},
		}}, ErrNotFound},
		{"unknown item", CreateInflowRequest{BranchID: k.main.ID, Lines: []InflowLineRequest{
			{InventoryItemID: "00000000-0000-0000-0000-000000000000", UomID: k.gram.ID, Quantity: 1, UnitCost: 1},
		}}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := k.inflows.CreateInflow(k.ctx, testutil.TestTenant, tc.req); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestInflowIsTenantScoped(t *testing.T) {
	k := newKitchen(t)
	flour := testutil.SeedItem(t, k.db, testutil.TestTenant, "Flour", k.gram.ID, true)

	_, err := k.inflows.CreateInflow(k.ctx, "other-tenant", CreateInflowRequest{
		BranchID: k.main.ID,
		Lines: []InflowLineRequest{
			{InventoryItemID: flour.ID, UomID: k.gram.ID, Quantity: 1, UnitCost: 1},
		},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign tenant must not see the branch, got %v", err)
	}
}

func TestGetAndListInflows(t *testing.T) {
	k := newKitchen(t)
	flour := testutil.SeedItem(t, k.db, testutil.TestTenant, "Flour", k.gram.ID, true)
	first := k.receive(t, k.main, flour, k.gram, 100, 1, baseTime(), nil)
	k.receive(t, k.second, flour, k.gram, 50, 1, baseTime(), nil)

	got, err := k.inflows.GetInflow(k.ctx, testutil.TestTenant, first.ID)
	if err != nil {
		t.Fatalf("GetInflow failed: %v", err)
	}
	if len(got.Batches) != 1 || got.Branch == nil || got.Branch.Name != "Main" {
		t.Errorf("unexpected inflow: %+v", got)
	}

	list, err := k.inflows.ListInflows(k.ctx, testutil.TestTenant, k.second.ID, "")
	if err != nil {
		t.Fatalf("ListInflows failed: %v", err)
	}
	if len(list) != 1 || list[0].BranchID != k.second.ID {
		t.Errorf("expected one inflow for second branch, got %d", len(list))
	}

	if _, err := k.inflows.GetInflow(k.ctx, testutil.TestTenant, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
