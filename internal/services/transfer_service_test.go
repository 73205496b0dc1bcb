package services

import (
	"errors"
	"testing"

	"restoerp/server/internal/models"
	"restoerp/server/internal/testutil"
)

func (k *kitchen) newTransfer(t *testing.T, item *models.InventoryItem, uom *models.UnitOfMeasure, qty float64) *models.Transfer {
	t.Helper()
	transfer, err := k.transfers.CreateTransfer(k.ctx, testutil.TestTenant, "manager", CreateTransferRequest{
		FromBranchID: k.main.ID,
		ToBranchID:   k.second.ID,
		Lines:        []TransferLineRequest{{InventoryItemID: item.ID, UomID: uom.ID, Quantity: qty}},
	})
	if err != nil {
		t.Fatalf("CreateTransfer failed: %v", err)
	}
	return transfer
}

func (k *kitchen) setStatus(t *testing.T, id string, status models.TransferStatus) *models.Transfer {
	t.Helper()
	transfer, err := k.transfers.UpdateTransferStatus(k.ctx, testutil.TestTenant, id, status, "manager", nil)
	if err != nil {
		t.Fatalf("UpdateTransferStatus(%s) failed: %v", status, err)
	}
	return transfer
}

func TestCreateTransferValidation(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)

	cases := []struct {
		name string
		req  CreateTransferRequest
		want error
	}{
		{"same branch", CreateTransferRequest{FromBranchID: k.main.ID, ToBranchID: k.main.ID,
			Lines: []TransferLineRequest{{InventoryItemID: flour.ID, UomID: k.gram.ID, Quantity: 1}}}, ErrBadRequest},
		{"no lines", CreateTransferRequest{FromBranchID: k.main.ID, ToBranchID: k.second.ID}, ErrBadRequest},
		{"zero quantity", CreateTransferRequest{FromBranchID: k.main.ID, ToBranchID: k.second.ID,
			Lines: []TransferLineRequest{{InventoryItemID: flour.ID, UomID: k.gram.ID, Quantity: 0}}}, ErrBadRequest},
		{"insufficient across lines", CreateTransferRequest{FromBranchID: k.main.ID, ToBranchID: k.second.ID,
			Lines: []TransferLineRequest{
				{InventoryItemID: flour.ID, UomID: k.gram.ID, Quantity: 10},
				{InventoryItemID: flour.ID, UomID: k.gram.ID, Quantity: 10},
			}}, ErrBadRequest},
		{"unknown destination", CreateTransferRequest{FromBranchID: k.main.ID, ToBranchID: "00000000-0000-0000-0000-000000000000",
			Lines: []TransferLineRequest{{InventoryItemID: flour.ID, UomID: k.gram.ID, Quantity: 1}}}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := k.transfers.CreateTransfer(k.ctx, testutil.TestTenant, "manager", tc.req); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if n := testutil.Count(t, k.db, &models.Transfer{}); n != 0 {
		t.Errorf("no transfers expected, got %d", n)
	}
}

func TestTransferFullFlowCarriesCost(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)

	transfer := k.newTransfer(t, flour, k.gram, 7)
	if transfer.Status != models.TransferStatusPending || len(transfer.Lines) != 1 {
		t.Fatalf("unexpected transfer: %+v", transfer)
	}
	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); !testutil.AlmostEqual(got, 15) {
		t.Errorf("pending transfer must not touch stock, got %v", got)
	}

	shipped := k.setStatus(t, transfer.ID, models.TransferStatusInTransit)
	if shipped.ShippedAt == nil {
		t.Errorf("shipped_at must be set")
	}
	line := shipped.Lines[0]
	if !testutil.AlmostEqual(line.UnitCost, 2.285714) {
		t.Errorf("line unit cost = %v, want 2.285714", line.UnitCost)
	}
	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); !testutil.AlmostEqual(got, 8) {
		t.Errorf("source stock after ship = %v, want 8", got)
	}
	if got := testutil.BranchStock(t, k.db, k.second.ID, flour.ID); got != 0 {
		t.Errorf("destination stock in transit = %v, want 0", got)
	}

	received := k.setStatus(t, transfer.ID, models.TransferStatusReceived)
	if received.Status != models.TransferStatusReceived || received.ReceivedAt == nil {
		t.Errorf("transfer must be received: %+v", received)
	}
	if got := testutil.BranchStock(t, k.db, k.second.ID, flour.ID); !testutil.AlmostEqual(got, 7) {
		t.Errorf("destination stock = %v, want 7", got)
	}
	if got := testutil.ReloadItem(t, k.db, flour.ID).CurrentStock; !testutil.AlmostEqual(got, 15) {
		t.Errorf("item aggregate = %v, want 15", got)
	}

	var batches []models.InflowBatch
	k.db.Where("branch_id = ? AND inventory_item_id = ?", k.second.ID, flour.ID).Find(&batches)
	if len(batches) != 1 {
		t.Fatalf("expected one destination batch, got %d", len(batches))
	}
	if batches[0].TransferLineID == nil || *batches[0].TransferLineID != line.ID {
		t.Errorf("destination batch must reference the transfer line")
	}
	if !testutil.AlmostEqual(batches[0].BaseQuantity, 7) || !testutil.AlmostEqual(batches[0].UnitCost, 2.285714) {
		t.Errorf("destination batch = %v @ %v", batches[0].BaseQuantity, batches[0].UnitCost)
	}

	// Партия получателя доступна для продажи в своем филиале
	result, err := k.allocation.Allocate(k.ctx, testutil.TestTenant, AllocationRequest{
		BranchID:        k.second.ID,
		InventoryItemID: flour.ID,
		Quantity:        7,
	})
	if err != nil {
		t.Fatalf("Allocate at destination failed: %v", err)
	}
	if !testutil.AlmostEqual(result.CostTotal, 16) {
		t.Errorf("destination cost total = %v, want 16", result.CostTotal)
	}

	if k.events.count(EventTransferStatusChanged) != 2 {
		t.Errorf("expected 2 status events, got %v", k.events.types())
	}
}

func TestCancelShippedTransferRestoresStock(t *testing.T) {
	k := newKitchen(t)
	flour, batches := twoBatches(t, k)

	transfer := k.newTransfer(t, flour, k.gram, 7)
	k.setStatus(t, transfer.ID, models.TransferStatusInTransit)
	cancelled := k.setStatus(t, transfer.ID, models.TransferStatusCancelled)

	if cancelled.Status != models.TransferStatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("transfer must be cancelled: %+v", cancelled)
	}
	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); !testutil.AlmostEqual(got, 15) {
		t.Errorf("source stock = %v, want 15", got)
	}
	for _, b := range batches {
		used, err := k.allocation.BatchConsumption(k.ctx, testutil.TestTenant, b.ID)
		if err != nil {
			t.Fatalf("BatchConsumption failed: %v", err)
		}
		if !testutil.AlmostEqual(used, 0) {
			t.Errorf("batch %s consumption = %v, want 0 after reversal", b.ID, used)
		}
	}

	var reversals int64
	k.db.Model(&models.Allocation{}).Where("source_type = ?", models.AllocationSourceTransferReversal).Count(&reversals)
	if reversals != 2 {
		t.Errorf("expected 2 reversal rows, got %d", reversals)
	}

	// Сторно возвращает партии в FIFO
	result, err := k.allocation.Allocate(k.ctx, testutil.TestTenant, AllocationRequest{
		BranchID:        k.main.ID,
		InventoryItemID: flour.ID,
		Quantity:        15,
	})
	if err != nil {
		t.Fatalf("Allocate after cancel failed: %v", err)
	}
	if !testutil.AlmostEqual(result.CostTotal, 40) {
		t.Errorf("cost total = %v, want 40", result.CostTotal)
	}
}

func TestCancelPendingTransferLeavesStock(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)

	transfer := k.newTransfer(t, flour, k.gram, 7)
	movements := testutil.Count(t, k.db, &models.StockMovement{})
	k.setStatus(t, transfer.ID, models.TransferStatusCancelled)

	if n := testutil.Count(t, k.db, &models.StockMovement{}); n != movements {
		t.Errorf("cancel of pending transfer must not move stock: %d -> %d", movements, n)
	}
	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); !testutil.AlmostEqual(got, 15) {
		t.Errorf("source stock = %v, want 15", got)
	}
}

func TestTransferStatusGuards(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)
	transfer := k.newTransfer(t, flour, k.gram, 3)

	steps := []struct {
		name   string
		status models.TransferStatus
	}{
		{"receive pending", models.TransferStatusReceived},
		{"same status", models.TransferStatusPending},
		{"unknown status", "lost"},
	}
	for _, s := range steps {
		if _, err := k.transfers.UpdateTransferStatus(k.ctx, testutil.TestTenant, transfer.ID, s.status, "manager", nil); !errors.Is(err, ErrBadRequest) {
			t.Errorf("%s: expected bad request, got %v", s.name, err)
		}
	}

	k.setStatus(t, transfer.ID, models.TransferStatusInTransit)
	if _, err := k.transfers.UpdateTransferStatus(k.ctx, testutil.TestTenant, transfer.ID, models.TransferStatusPending, "manager", nil); !errors.Is(err, ErrBadRequest) {
		t.Errorf("return to pending must be rejected, got %v", err)
	}
	k.setStatus(t, transfer.ID, models.TransferStatusReceived)

	for _, status := range []models.TransferStatus{models.TransferStatusCancelled, models.TransferStatusInTransit} {
		if _, err := k.transfers.UpdateTransferStatus(k.ctx, testutil.TestTenant, transfer.ID, status, "manager", nil); !errors.Is(err, ErrBadRequest) {
			t.Errorf("terminal transfer must reject %s, got %v", status, err)
		}
	}

	if _, err := k.transfers.UpdateTransferStatus(k.ctx, testutil.TestTenant, "00000000-0000-0000-0000-000000000000", models.TransferStatusInTransit, "manager", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestPartialReceiptClosesWhenComplete(t *testing.T) {
	k := newKitchen(t)
	flour := testutil.SeedItem(t, k.db, testutil.TestTenant, "Flour", k.gram.ID, true)
	k.receive(t, k.main, flour, k.kilo, 2, 1000, baseTime(), nil)

	transfer := k.newTransfer(t, flour, k.kilo, 2)
	shipped := k.setStatus(t, transfer.ID, models.TransferStatusInTransit)
	lineID := shipped.Lines[0].ID

	partial, err := k.transfers.ReceiveTransferItems(k.ctx, testutil.TestTenant, transfer.ID, "cook", []ReceiveLineRequest{{LineID: lineID, Quantity: 0.5}})
	if err != nil {
		t.Fatalf("ReceiveTransferItems failed: %v", err)
	}
	if partial.Status != models.TransferStatusInTransit {
		t.Errorf("partial receipt must keep transfer in transit, got %s", partial.Status)
	}
	if got := testutil.BranchStock(t, k.db, k.second.ID, flour.ID); !testutil.AlmostEqual(got, 500) {
		t.Errorf("destination stock = %v, want 500", got)
	}

	if _, err := k.transfers.ReceiveTransferItems(k.ctx, testutil.TestTenant, transfer.ID, "cook", []ReceiveLineRequest{{LineID: lineID, Quantity: 2}}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("over-receipt must be rejected, got %v", err)
	}
	if _, err := k.transfers.UpdateTransferStatus(k.ctx, testutil.TestTenant, transfer.ID, models.TransferStatusCancelled, "manager", nil); !errors.Is(err, ErrBadRequest) {
		t.Errorf("cancel after partial receipt must be rejected, got %v", err)
	}

	done, err := k.transfers.ReceiveTransferItems(k.ctx, testutil.TestTenant, transfer.ID, "cook", []ReceiveLineRequest{{LineID: lineID, Quantity: 1.5}})
	if err != nil {
		t.Fatalf("ReceiveTransferItems failed: %v", err)
	}
	if done.Status != models.TransferStatusReceived {
		t.Errorf("transfer must close after full receipt, got %s", done.Status)
	}
	if !testutil.AlmostEqual(done.Lines[0].ReceivedBaseQuantity, 2000) {
		t.Errorf("received base quantity = %v, want 2000", done.Lines[0].ReceivedBaseQuantity)
	}
	if got := testutil.BranchStock(t, k.db, k.second.ID, flour.ID); !testutil.AlmostEqual(got, 2000) {
		t.Errorf("destination stock = %v, want 2000", got)
	}
	if n := testutil.Count(t, k.db, &models.InflowBatch{}); n != 3 {
		t.Errorf("expected source batch plus two destination batches, got %d", n)
	}
}

func TestReceiveToReceivedClosesPartialTransfer(t *testing.T) {
	k := newKitchen(t)
	salt := testutil.SeedItem(t, k.db, testutil.TestTenant, "Salt", k.gram.ID, false)
	k.receive(t, k.main, salt, k.gram, 1000, 0.02, baseTime(), nil)

	transfer := k.newTransfer(t, salt, k.gram, 600)
	shipped := k.setStatus(t, transfer.ID, models.TransferStatusInTransit)

	closed, err := k.transfers.UpdateTransferStatus(k.ctx, testutil.TestTenant, transfer.ID, models.TransferStatusReceived, "cook",
		[]ReceiveLineRequest{{LineID: shipped.Lines[0].ID, Quantity: 400}})
	if err != nil {
		t.Fatalf("UpdateTransferStatus failed: %v", err)
	}
	if closed.Status != models.TransferStatusReceived {
		t.Errorf("status = %s, want received", closed.Status)
	}
	if got := testutil.BranchStock(t, k.db, k.second.ID, salt.ID); !testutil.AlmostEqual(got, 400) {
		t.Errorf("destination stock = %v, want 400", got)
	}
	if got := testutil.BranchStock(t, k.db, k.main.ID, salt.ID); !testutil.AlmostEqual(got, 400) {
		t.Errorf("source stock = %v, want 400", got)
	}
	if n := testutil.Count(t, k.db, &models.InflowBatch{}); n != 0 {
		t.Errorf("non-trackable transfer must not create batches, got %d", n)
	}
}

func TestDeleteTransferOnlyWhilePending(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)

	pending := k.newTransfer(t, flour, k.gram, 1)
	if err := k.transfers.DeleteTransfer(k.ctx, testutil.TestTenant, pending.ID); err != nil {
		t.Fatalf("DeleteTransfer failed: %v", err)
	}
	if _, err := k.transfers.GetTransfer(k.ctx, testutil.TestTenant, pending.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted transfer must not be found, got %v", err)
	}
	if n := testutil.Count(t, k.db, &models.TransferLine{}); n != 0 {
		t.Errorf("lines must be deleted, got %d", n)
	}

	shipped := k.newTransfer(t, flour, k.gram, 1)
	k.setStatus(t, shipped.ID, models.TransferStatusInTransit)
	if err := k.transfers.DeleteTransfer(k.ctx, testutil.TestTenant, shipped.ID); !errors.Is(err, ErrBadRequest) {
		t.Errorf("shipped transfer must not be deleted, got %v", err)
	}
}

func TestListTransfersFilters(t *testing.T) {
	k := newKitchen(t)
	flour, _ := twoBatches(t, k)
	first := k.newTransfer(t, flour, k.gram, 1)
	k.newTransfer(t, flour, k.gram, 2)
	k.setStatus(t, first.ID, models.TransferStatusInTransit)

	inTransit, err := k.transfers.ListTransfers(k.ctx, testutil.TestTenant, models.TransferStatusInTransit, "")
	if err != nil {
		t.Fatalf("ListTransfers failed: %v", err)
	}
	if len(inTransit) != 1 || inTransit[0].ID != first.ID {
		t.Errorf("unexpected in-transit list: %d", len(inTransit))
	}
	byDestination, _ := k.transfers.ListTransfers(k.ctx, testutil.TestTenant, "", k.second.ID)
	if len(byDestination) != 2 {
		t.Errorf("branch filter must match destination, got %d", len(byDestination))
	}
}

func TestCancelTransferKeepsSalesSharingLineID(t *testing.T) {
	k := newKitchen(t)
	flour, batches := twoBatches(t, k)

	transfer := k.newTransfer(t, flour, k.gram, 7)
	k.setStatus(t, transfer.ID, models.TransferStatusInTransit)

	// Внешняя продажа ссылается на тот же идентификатор строки
	if _, err := k.allocation.Allocate(k.ctx, testutil.TestTenant, AllocationRequest{
		BranchID:        k.main.ID,
		InventoryItemID: flour.ID,
		Quantity:        3,
		SourceLineID:    transfer.Lines[0].ID,
	}); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	k.setStatus(t, transfer.ID, models.TransferStatusCancelled)

	if got := testutil.BranchStock(t, k.db, k.main.ID, flour.ID); !testutil.AlmostEqual(got, 12) {
		t.Errorf("source stock = %v, want 12", got)
	}
	total := 0.0
	for _, b := range batches {
		used, err := k.allocation.BatchConsumption(k.ctx, testutil.TestTenant, b.ID)
		if err != nil {
			t.Fatalf("BatchConsumption failed: %v", err)
		}
		total += used
	}
	if !testutil.AlmostEqual(total, 3) {
		t.Errorf("sale consumption = %v, want 3 after cancel", total)
	}

	drifts, err := k.stock.Reconcile(k.ctx, testutil.TestTenant, false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(drifts) != 0 {
		t.Errorf("expected no drift, got %+v", drifts)
	}
}
