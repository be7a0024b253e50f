package core_test

import (
	"context"
	"errors"
	"testing"

	"inventory-service/internal/core"
)

func TestStocktaking_CompleteBooksDifferences(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-P1", "2030-03-01", "10")
	if _, err := svc.inventory.ProcessInbound(ctx, core.LotInboundInput{
		LotNumber: "LOT-P2", ProductUnitID: 2, WarehouseID: 1, StockLocationID: 1,
		Quantity: dec(t, "5"),
	}); err != nil {
		t.Fatalf("Failed to receive product 2: %v", err)
	}

	st, err := svc.stocktakings.CreateStocktaking(ctx, 1, 1, "monthly count")
	if err != nil {
		t.Fatalf("Failed to create stocktaking: %v", err)
	}
	if st.Status != core.StocktakingInProgress {
		t.Fatalf("New stocktaking should be IN_PROGRESS, got %s", st.Status)
	}
	if len(st.Details) != 2 {
		t.Fatalf("Snapshot should cover both products, got %d details", len(st.Details))
	}

	// Product 1 counted over, product 2 counted short.
	if _, err := svc.stocktakings.RecordCount(ctx, st.ID, 1, dec(t, "12")); err != nil {
		t.Fatalf("Failed to record count: %v", err)
	}
	if _, err := svc.stocktakings.RecordCount(ctx, st.ID, 2, dec(t, "3")); err != nil {
		t.Fatalf("Failed to record count: %v", err)
	}

	completed, err := svc.stocktakings.CompleteStocktaking(ctx, st.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Status != core.StocktakingCompleted || completed.CompletedAt == nil {
		t.Errorf("Stocktaking state wrong: %s, completed_at %v", completed.Status, completed.CompletedAt)
	}

	assertDecimal(t, mustBalance(t, svc, 1).Quantity, "12", "product 1 balance after count")
	assertDecimal(t, mustBalance(t, svc, 2).Quantity, "3", "product 2 balance after count")

	// The corrections went through approved documents, one per direction.
	docs, err := svc.documents.GetDocuments(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to list documents: %v", err)
	}
	var inbound, outbound int
	for _, d := range docs {
		if d.Status != core.DocumentApproved {
			t.Errorf("Correction document %d should be APPROVED, got %s", d.ID, d.Status)
		}
		switch d.Type {
		case core.DocumentInbound:
			inbound++
		case core.DocumentOutbound:
			outbound++
		}
	}
	if inbound != 1 || outbound != 1 {
		t.Errorf("Expected 1 inbound and 1 outbound correction, got %d and %d", inbound, outbound)
	}

	// Completed sessions are frozen.
	if _, err := svc.stocktakings.RecordCount(ctx, st.ID, 1, dec(t, "99")); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("Counting on a completed session should fail, got %v", err)
	}
	if _, err := svc.stocktakings.CompleteStocktaking(ctx, st.ID); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("Re-completing should fail, got %v", err)
	}

	drifts, err := svc.balances.CheckConsistency(ctx)
	if err != nil {
		t.Fatalf("Consistency check failed: %v", err)
	}
	if len(drifts) != 0 {
		t.Errorf("Corrections should keep lots and balances aligned, got %+v", drifts)
	}
}

func TestStocktaking_NoDifferencesBooksNothing(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-P1", "2030-03-01", "10")

	st, err := svc.stocktakings.CreateStocktaking(ctx, 1, 1, "")
	if err != nil {
		t.Fatalf("Failed to create stocktaking: %v", err)
	}
	if _, err := svc.stocktakings.RecordCount(ctx, st.ID, 1, dec(t, "10")); err != nil {
		t.Fatalf("Failed to record count: %v", err)
	}
	if _, err := svc.stocktakings.CompleteStocktaking(ctx, st.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	docs, err := svc.documents.GetDocuments(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to list documents: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Exact count should create no documents, got %d", len(docs))
	}
	assertDecimal(t, mustBalance(t, svc, 1).Quantity, "10", "balance unchanged")
}

func TestStocktaking_CountsUnknownProduct(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	st, err := svc.stocktakings.CreateStocktaking(ctx, 1, 1, "")
	if err != nil {
		t.Fatalf("Failed to create stocktaking: %v", err)
	}

	// Product found on the shelf that the system did not know about.
	d, err := svc.stocktakings.RecordCount(ctx, st.ID, 7, dec(t, "6"))
	if err != nil {
		t.Fatalf("Failed to record count: %v", err)
	}
	assertDecimal(t, d.SystemQty, "0", "unknown product system quantity")
	assertDecimal(t, d.Difference(), "6", "unknown product difference")

	if _, err := svc.stocktakings.CompleteStocktaking(ctx, st.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	assertDecimal(t, mustBalance(t, svc, 7).Quantity, "6", "surplus booked for unknown product")
}

func TestStocktaking_Cancel(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-P1", "2030-03-01", "10")

	st, err := svc.stocktakings.CreateStocktaking(ctx, 1, 1, "")
	if err != nil {
		t.Fatalf("Failed to create stocktaking: %v", err)
	}
	if _, err := svc.stocktakings.RecordCount(ctx, st.ID, 1, dec(t, "2")); err != nil {
		t.Fatalf("Failed to record count: %v", err)
	}

	cancelled, err := svc.stocktakings.CancelStocktaking(ctx, st.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != core.StocktakingCancelled {
		t.Errorf("Stocktaking should be CANCELLED, got %s", cancelled.Status)
	}
	assertDecimal(t, mustBalance(t, svc, 1).Quantity, "10", "cancelled count must not move stock")
}

func TestCompleteStocktaking_RetryDoesNotRebookSurplus(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-P1", "", "10")
	if _, err := svc.inventory.ProcessInbound(ctx, core.LotInboundInput{
		LotNumber: "LOT-P2", ProductUnitID: 2, WarehouseID: 1, StockLocationID: 1,
		Quantity: dec(t, "10"),
	}); err != nil {
		t.Fatalf("Failed to receive product 2: %v", err)
	}

	// A pending order holds most of product 2, so the shortage correction
	// cannot ship until it is released.
	receipt, err := svc.reservations.ReserveStock(ctx, 2, 1, 1, dec(t, "8"))
	if err != nil {
		t.Fatalf("Failed to reserve: %v", err)
	}

	st, err := svc.stocktakings.CreateStocktaking(ctx, 1, 1, "audit")
	if err != nil {
		t.Fatalf("Failed to create stocktaking: %v", err)
	}
	if _, err := svc.stocktakings.RecordCount(ctx, st.ID, 1, dec(t, "15")); err != nil {
		t.Fatalf("Failed to record count: %v", err)
	}
	if _, err := svc.stocktakings.RecordCount(ctx, st.ID, 2, dec(t, "3")); err != nil {
		t.Fatalf("Failed to record count: %v", err)
	}

	// Surplus books, shortage fails: 7 needed, 2 available.
	if _, err := svc.stocktakings.CompleteStocktaking(ctx, st.ID); !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("Complete should fail on the shortage, got %v", err)
	}

	cur, err := svc.stocktakings.GetStocktaking(ctx, st.ID)
	if err != nil {
		t.Fatalf("Failed to fetch stocktaking: %v", err)
	}
	if cur.Status != core.StocktakingCompleting {
		t.Errorf("Interrupted completion should leave COMPLETING, got %s", cur.Status)
	}
	if cur.InboundDocumentID == nil {
		t.Error("Booked surplus document should be recorded on the session")
	}
	if cur.OutboundDocumentID != nil {
		t.Error("Failed shortage direction should not be recorded")
	}
	assertDecimal(t, mustBalance(t, svc, 1).Quantity, "15", "product 1 balance after first attempt")

	// Counts are frozen once completion starts.
	if _, err := svc.stocktakings.RecordCount(ctx, st.ID, 1, dec(t, "99")); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("Counting a COMPLETING session should fail, got %v", err)
	}

	if err := svc.reservations.ReleaseReservation(ctx, 2, 1, 1, receipt); err != nil {
		t.Fatalf("Failed to release reservation: %v", err)
	}
	completed, err := svc.stocktakings.CompleteStocktaking(ctx, st.ID)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if completed.Status != core.StocktakingCompleted || completed.OutboundDocumentID == nil {
		t.Errorf("Retry should finish the session: %s, outbound doc %v", completed.Status, completed.OutboundDocumentID)
	}

	// The surplus was not applied twice.
	assertDecimal(t, mustBalance(t, svc, 1).Quantity, "15", "product 1 balance after retry")
	assertDecimal(t, mustBalance(t, svc, 2).Quantity, "3", "product 2 balance after retry")
}
