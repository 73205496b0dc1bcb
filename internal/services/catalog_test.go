package services

import (
	"context"
	"errors"
	"testing"

	"restoerp/server/internal/models"
	"restoerp/server/internal/testutil"
)

func TestBranchServiceLifecycle(t *testing.T) {
	k := newKitchen(t)
	svc := NewBranchService(k.db)

	if err := svc.CreateBranch(k.ctx, testutil.TestTenant, &models.Branch{Name: "  main "}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate name must conflict, got %v", err)
	}
	if err := svc.CreateBranch(k.ctx, testutil.TestTenant, &models.Branch{Name: " "}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("empty name must be rejected, got %v", err)
	}

	airport := &models.Branch{Name: "Airport", Address: "Terminal B"}
	if err := svc.CreateBranch(k.ctx, testutil.TestTenant, airport); err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}
	if err := svc.CreateBranch(k.ctx, "other-tenant", &models.Branch{Name: "Airport"}); err != nil {
		t.Errorf("names are unique per tenant only: %v", err)
	}

	if _, err := svc.UpdateBranch(k.ctx, testutil.TestTenant, airport.ID, &models.Branch{Name: "Second", IsActive: true}); !errors.Is(err, ErrConflict) {
		t.Errorf("rename to existing name must conflict, got %v", err)
	}
	updated, err := svc.UpdateBranch(k.ctx, testutil.TestTenant, airport.ID, &models.Branch{Phone: "+7 900", IsActive: false})
	if err != nil {
		t.Fatalf("UpdateBranch failed: %v", err)
	}
	if updated.IsActive || updated.Phone != "+7 900" || updated.Address != "Terminal B" {
		t.Errorf("unexpected update result: %+v", updated)
	}

	active, _ := svc.GetAllBranches(k.ctx, testutil.TestTenant, true)
	all, _ := svc.GetAllBranches(k.ctx, testutil.TestTenant, false)
	if len(active) != 2 || len(all) != 3 {
		t.Errorf("active %d / all %d, want 2 / 3", len(active), len(all))
	}

	if err := svc.DeleteBranch(k.ctx, testutil.TestTenant, airport.ID); err != nil {
		t.Fatalf("DeleteBranch failed: %v", err)
	}
	if _, err := svc.GetBranchByID(k.ctx, testutil.TestTenant, airport.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted branch must not be found, got %v", err)
	}
	if err := svc.DeleteBranch(k.ctx, testutil.TestTenant, airport.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete must report not found, got %v", err)
	}
}

func TestSupplierServiceLifecycle(t *testing.T) {
	k := newKitchen(t)
	svc := NewSupplierService(k.db)

	acme := &models.Supplier{Name: "Acme"}
	if err := svc.CreateSupplier(k.ctx, testutil.TestTenant, acme); err != nil {
		t.Fatalf("CreateSupplier failed: %v", err)
	}
	if err := svc.CreateSupplier(k.ctx, testutil.TestTenant, &models.Supplier{Name: "ACME"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate supplier must conflict, got %v", err)
	}

	k.db.Model(acme).Update("auto_created", true)
	updated, err := svc.UpdateSupplier(k.ctx, testutil.TestTenant, acme.ID, &models.Supplier{Email: "sales@acme.test"})
	if err != nil {
		t.Fatalf("UpdateSupplier failed: %v", err)
	}
	if updated.AutoCreated || updated.Email != "sales@acme.test" {
		t.Errorf("confirmed supplier must lose the auto-created flag: %+v", updated)
	}

	if err := svc.ArchiveSupplier(k.ctx, testutil.TestTenant, acme.ID); err != nil {
		t.Fatalf("ArchiveSupplier failed: %v", err)
	}
	list, _ := svc.GetAllSuppliers(k.ctx, testutil.TestTenant)
	if len(list) != 0 {
		t.Errorf("archived supplier must not be listed, got %d", len(list))
	}
	if _, err := svc.GetSupplierByID(k.ctx, testutil.TestTenant, acme.ID); err != nil {
		t.Errorf("archived supplier stays readable: %v", err)
	}
	if err := svc.ArchiveSupplier(k.ctx, testutil.TestTenant, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestInventoryItemServiceLifecycle(t *testing.T) {
	k := newKitchen(t)
	svc := NewInventoryItemService(k.db)

	cheese := &models.InventoryItem{Name: "Mozzarella Cheese", BaseUomID: k.gram.ID, IsTrackable: true, CurrentStock: 999}
	if err := svc.CreateItem(k.ctx, testutil.TestTenant, cheese); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	if cheese.SKU != "MC" || cheese.CurrentStock != 0 {
		t.Errorf("unexpected new item: sku %q, stock %v", cheese.SKU, cheese.CurrentStock)
	}
	cream := &models.InventoryItem{Name: "Milk Cream", BaseUomID: k.gram.ID}
	if err := svc.CreateItem(k.ctx, testutil.TestTenant, cream); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	if cream.SKU != "MC-1" {
		t.Errorf("colliding SKU must get a counter, got %q", cream.SKU)
	}
	if err := svc.CreateItem(k.ctx, testutil.TestTenant, &models.InventoryItem{Name: "Other", SKU: "MC", BaseUomID: k.gram.ID}); !errors.Is(err, ErrConflict) {
		t.Errorf("explicit duplicate SKU must conflict, got %v", err)
	}
	if err := svc.CreateItem(k.ctx, testutil.TestTenant, &models.InventoryItem{Name: "Ghost", BaseUomID: "00000000-0000-0000-0000-000000000000"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown base unit must be rejected, got %v", err)
	}

	k.receive(t, k.main, cheese, k.kilo, 1, 800, baseTime(), nil)
	if _, err := svc.UpdateItem(k.ctx, testutil.TestTenant, cheese.ID, &models.InventoryItem{BaseUomID: k.piece.ID}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("base unit change with stock must be rejected, got %v", err)
	}
	updated, err := svc.UpdateItem(k.ctx, testutil.TestTenant, cheese.ID, &models.InventoryItem{Name: "Mozzarella", MinStock: 200, UnitPrice: 1.5, IsTrackable: true})
	if err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}
	if updated.Name != "Mozzarella" || updated.MinStock != 200 || !testutil.AlmostEqual(updated.CurrentStock, 1000) {
		t.Errorf("unexpected updated item: %+v", updated)
	}

	if err := svc.DeleteItem(k.ctx, testutil.TestTenant, cheese.ID); !errors.Is(err, ErrBadRequest) {
		t.Errorf("item with stock must not be deleted, got %v", err)
	}
	if err := svc.DeleteItem(k.ctx, testutil.TestTenant, cream.ID); err != nil {
		t.Errorf("DeleteItem failed: %v", err)
	}
	items, _ := svc.GetAllItems(k.ctx, testutil.TestTenant)
	if len(items) != 1 {
		t.Errorf("expected 1 remaining item, got %d", len(items))
	}
}

func TestMultiPublisherFansOut(t *testing.T) {
	first, second := &recordingPublisher{}, &recordingPublisher{}
	multi := MultiPublisher{first, nil, second}
	multi.Publish(context.Background(), NewInventoryEvent(EventSaleCreated, testutil.TestTenant, nil))

	if first.count(EventSaleCreated) != 1 || second.count(EventSaleCreated) != 1 {
		t.Errorf("event must reach every publisher")
	}
}
