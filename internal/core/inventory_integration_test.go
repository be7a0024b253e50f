package core_test

import (
	"context"
	"errors"
	"testing"

	"inventory-service/internal/core"
)

func TestProcessOutboundFEFO_ShipsImmediately(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")
	receive(t, svc, "LOT-B", "2030-06-01", "10")

	plan, err := svc.inventory.ProcessOutboundFEFO(ctx, core.OutboundRequest{
		ProductUnitID: 1, WarehouseID: 1, StockLocationID: 1,
		Quantity: dec(t, "8"), Note: "immediate shipment",
	})
	if err != nil {
		t.Fatalf("Outbound failed: %v", err)
	}
	if len(plan) != 2 || plan[0].LotNumber != "LOT-A" {
		t.Fatalf("Unexpected plan: %+v", plan)
	}

	b := mustBalance(t, svc, 1)
	assertDecimal(t, b.Quantity, "7", "balance quantity")
	assertDecimal(t, b.Reserved, "0", "balance reserved")
	if mustLot(t, svc, "LOT-A").Status != core.LotDepleted {
		t.Error("LOT-A should be DEPLETED")
	}
}

func TestProcessBulkOutboundFEFO_AllOrNothing(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")

	_, err := svc.inventory.ProcessBulkOutboundFEFO(ctx, []core.OutboundRequest{
		{ProductUnitID: 1, WarehouseID: 1, StockLocationID: 1, Quantity: dec(t, "2")},
		{ProductUnitID: 1, WarehouseID: 1, StockLocationID: 1, Quantity: dec(t, "100")},
	})
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("Expected ErrInsufficientStock, got %v", err)
	}

	// The first request must have rolled back with the second.
	assertDecimal(t, mustBalance(t, svc, 1).Quantity, "5", "balance quantity after failed batch")
	assertDecimal(t, mustLot(t, svc, "LOT-A").Current, "5", "LOT-A current after failed batch")
}

func TestProcessTransfer_PreservesExpiry(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "10")

	err := svc.inventory.ProcessTransfer(ctx, 1, 1, 1, 2, 3, dec(t, "4"), "rebalance")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	src := mustBalance(t, svc, 1)
	assertDecimal(t, src.Quantity, "6", "source balance")

	dest, err := svc.balances.GetBalance(ctx, 1, 2, 3)
	if err != nil {
		t.Fatalf("Destination balance missing: %v", err)
	}
	assertDecimal(t, dest.Quantity, "4", "destination balance")

	destLots, err := svc.lots.GetLots(ctx, 1, 2, 3)
	if err != nil {
		t.Fatalf("Failed to list destination lots: %v", err)
	}
	if len(destLots) != 1 {
		t.Fatalf("Expected 1 destination lot, got %d", len(destLots))
	}
	if destLots[0].ExpiryDate == nil || destLots[0].ExpiryDate.Format("2006-01-02") != "2030-03-01" {
		t.Errorf("Transfer should carry the expiry date, got %v", destLots[0].ExpiryDate)
	}
	assertDecimal(t, destLots[0].Current, "4", "destination lot current")

	// A second transfer of the same source lot merges into the same
	// destination lot.
	if err := svc.inventory.ProcessTransfer(ctx, 1, 1, 1, 2, 3, dec(t, "2"), "rebalance"); err != nil {
		t.Fatalf("Second transfer failed: %v", err)
	}
	destLots, err = svc.lots.GetLots(ctx, 1, 2, 3)
	if err != nil {
		t.Fatalf("Failed to list destination lots: %v", err)
	}
	if len(destLots) != 1 {
		t.Fatalf("Repeated transfers should merge, got %d lots", len(destLots))
	}
	assertDecimal(t, destLots[0].Current, "6", "destination lot after merge")
}

func TestProcessAdjustment_SetsAbsoluteQuantity(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")
	receive(t, svc, "LOT-B", "2030-06-01", "10")

	// Shrink: the difference is written off the soonest-expiring lot first.
	if _, err := svc.inventory.ProcessAdjustment(ctx, 1, 1, 1, dec(t, "12"), "count correction"); err != nil {
		t.Fatalf("Adjustment failed: %v", err)
	}
	assertDecimal(t, mustBalance(t, svc, 1).Quantity, "12", "balance after shrink")
	assertDecimal(t, mustLot(t, svc, "LOT-A").Current, "2", "LOT-A after shrink")
	assertDecimal(t, mustLot(t, svc, "LOT-B").Current, "10", "LOT-B after shrink")

	// Grow: the difference lands in a correction lot.
	if _, err := svc.inventory.ProcessAdjustment(ctx, 1, 1, 1, dec(t, "15"), "found stock"); err != nil {
		t.Fatalf("Adjustment failed: %v", err)
	}
	assertDecimal(t, mustBalance(t, svc, 1).Quantity, "15", "balance after grow")
	lots, err := svc.lots.GetLots(ctx, 1, 1, 1)
	if err != nil {
		t.Fatalf("Failed to list lots: %v", err)
	}
	if len(lots) != 3 {
		t.Errorf("Growth should create a correction lot, got %d lots", len(lots))
	}
}

func TestProcessAdjustment_RejectsBelowReserved(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "10")
	if _, err := svc.reservations.ReserveStock(ctx, 1, 1, 1, dec(t, "6")); err != nil {
		t.Fatalf("Reservation failed: %v", err)
	}

	_, err := svc.inventory.ProcessAdjustment(ctx, 1, 1, 1, dec(t, "4"), "")
	if !errors.Is(err, core.ErrInvalidQuantity) {
		t.Fatalf("Adjusting below reserved should fail with ErrInvalidQuantity, got %v", err)
	}
	assertDecimal(t, mustBalance(t, svc, 1).Quantity, "10", "balance unchanged")
}

func TestCreateAndDeleteTransaction_ReversesBalance(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	txn, err := svc.inventory.CreateTransaction(ctx, core.TransactionInput{
		Type: core.TransactionImport, ProductUnitID: 5, WarehouseID: 1, StockLocationID: 1,
		Quantity: dec(t, "20"), ReferenceNumber: "PO-1",
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	assertDecimal(t, mustBalance(t, svc, 5).Quantity, "20", "balance after import")

	out, err := svc.inventory.CreateTransaction(ctx, core.TransactionInput{
		Type: core.TransactionExport, ProductUnitID: 5, WarehouseID: 1, StockLocationID: 1,
		Quantity: dec(t, "8"),
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	assertDecimal(t, mustBalance(t, svc, 5).Quantity, "12", "balance after export")

	if err := svc.inventory.DeleteTransaction(ctx, out.ID); err != nil {
		t.Fatalf("Delete export failed: %v", err)
	}
	assertDecimal(t, mustBalance(t, svc, 5).Quantity, "20", "balance after export reversal")

	if err := svc.inventory.DeleteTransaction(ctx, txn.ID); err != nil {
		t.Fatalf("Delete import failed: %v", err)
	}
	assertDecimal(t, mustBalance(t, svc, 5).Quantity, "0", "balance after import reversal")

	if _, err := svc.inventory.GetTransaction(ctx, txn.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Deleted transaction should be gone, got %v", err)
	}
}

func TestExportTransaction_FailsWithoutBalance(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)

	_, err := svc.inventory.CreateTransaction(context.Background(), core.TransactionInput{
		Type: core.TransactionExport, ProductUnitID: 9, WarehouseID: 1, StockLocationID: 1,
		Quantity: dec(t, "1"),
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Export against missing balance should fail with ErrNotFound, got %v", err)
	}
}

func TestLotNumberBoundToTriple(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")

	// Same lot number at a different location is a conflict.
	_, err := svc.inventory.ProcessInbound(ctx, core.LotInboundInput{
		LotNumber: "LOT-A", ProductUnitID: 1, WarehouseID: 1, StockLocationID: 2,
		Quantity: dec(t, "3"),
	})
	var conflict *core.LotConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected LotConflictError, got %v", err)
	}
	if !errors.Is(err, core.ErrConflict) {
		t.Error("LotConflictError should unwrap to ErrConflict")
	}

	// Same lot number at the same triple merges.
	lot, err := svc.inventory.ProcessInbound(ctx, core.LotInboundInput{
		LotNumber: "LOT-A", ProductUnitID: 1, WarehouseID: 1, StockLocationID: 1,
		Quantity: dec(t, "3"),
	})
	if err != nil {
		t.Fatalf("Merging inbound failed: %v", err)
	}
	assertDecimal(t, lot.Current, "8", "merged lot current")
	assertDecimal(t, lot.Initial, "8", "merged lot initial")
}

func TestCancelLot_RequiresEmptyLot(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	lot := receive(t, svc, "LOT-A", "2030-03-01", "5")

	if _, err := svc.lots.CancelLot(ctx, lot.ID, "damaged"); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("Cancelling a lot with stock should fail, got %v", err)
	}

	if _, err := svc.inventory.ProcessAdjustment(ctx, 1, 1, 1, dec(t, "0"), "write-off"); err != nil {
		t.Fatalf("Write-off failed: %v", err)
	}
	cancelled, err := svc.lots.CancelLot(ctx, lot.ID, "damaged")
	if err != nil {
		t.Fatalf("Cancelling an empty lot failed: %v", err)
	}
	if cancelled.Status != core.LotCancelled {
		t.Errorf("Lot should be CANCELLED, got %s", cancelled.Status)
	}
}

func TestCheckConsistency_CleanAfterMixedOperations(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")
	receive(t, svc, "LOT-B", "2030-06-01", "10")
	receipt, err := svc.reservations.ReserveStock(ctx, 1, 1, 1, dec(t, "8"))
	if err != nil {
		t.Fatalf("Reservation failed: %v", err)
	}
	if err := svc.inventory.AcceptOutbound(ctx, core.AcceptRequest{
		ProductUnitID: 1, WarehouseID: 1, StockLocationID: 1, Receipt: receipt,
	}); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if err := svc.inventory.ProcessTransfer(ctx, 1, 1, 1, 2, 3, dec(t, "3"), ""); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	drifts, err := svc.balances.CheckConsistency(ctx)
	if err != nil {
		t.Fatalf("Consistency check failed: %v", err)
	}
	if len(drifts) != 0 {
		t.Errorf("Expected no drift, got %+v", drifts)
	}
}

func TestWarehouseMasters(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	w, err := svc.warehouses.CreateWarehouse(ctx, "WH3", "Overflow", "3 Spill St")
	if err != nil {
		t.Fatalf("Failed to create warehouse: %v", err)
	}
	if _, err := svc.warehouses.CreateWarehouse(ctx, "WH3", "Duplicate", ""); !errors.Is(err, core.ErrConflict) {
		t.Errorf("Duplicate warehouse code should fail with ErrConflict, got %v", err)
	}

	loc, err := svc.warehouses.CreateLocation(ctx, w.ID, "Z-01", "Zone Z")
	if err != nil {
		t.Fatalf("Failed to create location: %v", err)
	}
	if _, err := svc.warehouses.CreateLocation(ctx, w.ID, "Z-01", "Duplicate"); !errors.Is(err, core.ErrConflict) {
		t.Errorf("Duplicate location code should fail with ErrConflict, got %v", err)
	}

	if err := svc.warehouses.DeactivateLocation(ctx, loc.ID); err != nil {
		t.Fatalf("Failed to deactivate location: %v", err)
	}
	locations, err := svc.warehouses.GetLocations(ctx, w.ID)
	if err != nil {
		t.Fatalf("Failed to list locations: %v", err)
	}
	if len(locations) != 0 {
		t.Errorf("Deactivated locations should not be listed, got %d", len(locations))
	}
}
