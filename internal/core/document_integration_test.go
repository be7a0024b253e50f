package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"inventory-service/internal/core"
)

func TestInboundDocument_ApproveCreatesLots(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	doc, err := svc.documents.CreateDocument(ctx, core.DocumentInbound, 1, 1, "weekly delivery")
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	if doc.Status != core.DocumentDraft {
		t.Fatalf("New document should be DRAFT, got %s", doc.Status)
	}
	if doc.ReferenceNumber == "" {
		t.Error("New document should get a reference number")
	}

	lines := []core.DocumentLineInput{
		{ProductUnitID: 1, Quantity: dec(t, "10"), LotNumber: "LOT-IN-A", ExpiryDate: datePtr(t, "2030-03-01")},
		{ProductUnitID: 2, Quantity: dec(t, "4"), LotNumber: "LOT-IN-B"},
	}
	if _, err := svc.documents.AddLines(ctx, doc.ID, lines); err != nil {
		t.Fatalf("Failed to add lines: %v", err)
	}

	// Drafts are inert: nothing moves until approval.
	if _, err := svc.balances.GetBalance(ctx, 1, 1, 1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Draft inbound should not create balances, got %v", err)
	}

	approved, err := svc.documents.ApproveDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Approval failed: %v", err)
	}
	if approved.Status != core.DocumentApproved || approved.ApprovedAt == nil {
		t.Errorf("Approved document state wrong: %s, approved_at %v", approved.Status, approved.ApprovedAt)
	}

	lotA := mustLot(t, svc, "LOT-IN-A")
	assertDecimal(t, lotA.Current, "10", "LOT-IN-A current")
	if lotA.ExpiryDate == nil || lotA.ExpiryDate.Format("2006-01-02") != "2030-03-01" {
		t.Errorf("LOT-IN-A expiry not persisted: %v", lotA.ExpiryDate)
	}
	assertDecimal(t, mustBalance(t, svc, 1).Quantity, "10", "product 1 balance")
	assertDecimal(t, mustBalance(t, svc, 2).Quantity, "4", "product 2 balance")

	txns, err := svc.inventory.GetTransactions(ctx, 0, 1, 1)
	if err != nil {
		t.Fatalf("Failed to list transactions: %v", err)
	}
	if len(txns) != 2 {
		t.Errorf("Expected 2 import transactions, got %d", len(txns))
	}
	for _, txn := range txns {
		if txn.ReferenceNumber != doc.ReferenceNumber {
			t.Errorf("Transaction should carry the document reference, got %q", txn.ReferenceNumber)
		}
	}

	// Terminal states refuse further transitions.
	if _, err := svc.documents.ApproveDocument(ctx, doc.ID); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("Re-approving should fail with ErrInvalidState, got %v", err)
	}
	if _, err := svc.documents.CancelDocument(ctx, doc.ID); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("Cancelling an approved document should fail, got %v", err)
	}
}

func TestOutboundDocument_LineCarriesReservationReceipt(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")
	receive(t, svc, "LOT-B", "2030-06-01", "10")

	doc, err := svc.documents.CreateDocument(ctx, core.DocumentOutbound, 1, 1, "order 42")
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	line, err := svc.documents.AddLine(ctx, doc.ID, core.DocumentLineInput{
		ProductUnitID: 1, Quantity: dec(t, "8"),
	})
	if err != nil {
		t.Fatalf("Failed to add line: %v", err)
	}

	receipt, err := core.DecodeReceipt(line.ReservedLotInfo)
	if err != nil {
		t.Fatalf("Line should carry a decodable receipt: %v", err)
	}
	if len(receipt) != 2 || receipt[0].LotNumber != "LOT-A" {
		t.Fatalf("Unexpected receipt: %+v", receipt)
	}
	assertDecimal(t, receipt[0].ReservedQty, "5", "receipt LOT-A")
	assertDecimal(t, receipt[1].ReservedQty, "3", "receipt LOT-B")
	assertDecimal(t, mustBalance(t, svc, 1).Reserved, "8", "balance reserved while draft")

	approved, err := svc.documents.ApproveDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Approval failed: %v", err)
	}
	if approved.Status != core.DocumentApproved {
		t.Errorf("Document should be APPROVED, got %s", approved.Status)
	}

	lotA := mustLot(t, svc, "LOT-A")
	if lotA.Status != core.LotDepleted {
		t.Errorf("LOT-A should be DEPLETED after shipping, got %s", lotA.Status)
	}
	assertDecimal(t, mustLot(t, svc, "LOT-B").Current, "7", "LOT-B current")

	b := mustBalance(t, svc, 1)
	assertDecimal(t, b.Quantity, "7", "balance quantity")
	assertDecimal(t, b.Reserved, "0", "balance reserved")
}

func TestOutboundDocument_CancelReleasesReservations(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")
	receive(t, svc, "LOT-B", "2030-06-01", "10")

	doc, err := svc.documents.CreateDocument(ctx, core.DocumentOutbound, 1, 1, "")
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	if _, err := svc.documents.AddLine(ctx, doc.ID, core.DocumentLineInput{
		ProductUnitID: 1, Quantity: dec(t, "8"),
	}); err != nil {
		t.Fatalf("Failed to add line: %v", err)
	}

	cancelled, err := svc.documents.CancelDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != core.DocumentCancelled {
		t.Errorf("Document should be CANCELLED, got %s", cancelled.Status)
	}

	b := mustBalance(t, svc, 1)
	assertDecimal(t, b.Quantity, "15", "balance quantity")
	assertDecimal(t, b.Reserved, "0", "balance reserved")
	assertDecimal(t, mustLot(t, svc, "LOT-A").Available, "5", "LOT-A available")
	assertDecimal(t, mustLot(t, svc, "LOT-B").Available, "10", "LOT-B available")
}

func TestOutboundDocument_InsufficientStockRejectsLine(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")

	doc, err := svc.documents.CreateDocument(ctx, core.DocumentOutbound, 1, 1, "")
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	_, err = svc.documents.AddLine(ctx, doc.ID, core.DocumentLineInput{
		ProductUnitID: 1, Quantity: dec(t, "100"),
	})
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("Expected ErrInsufficientStock, got %v", err)
	}

	got, err := svc.documents.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Failed to fetch document: %v", err)
	}
	if len(got.Lines) != 0 {
		t.Errorf("Failed line should not be persisted, found %d lines", len(got.Lines))
	}
	if got := mustBalance(t, svc, 1).Reserved; !got.IsZero() {
		t.Errorf("Nothing should stay reserved, got %s", got)
	}
}

func TestOutboundDocument_UpdateLineRebooksReservation(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")
	receive(t, svc, "LOT-B", "2030-06-01", "10")

	doc, err := svc.documents.CreateDocument(ctx, core.DocumentOutbound, 1, 1, "")
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	line, err := svc.documents.AddLine(ctx, doc.ID, core.DocumentLineInput{
		ProductUnitID: 1, Quantity: dec(t, "8"),
	})
	if err != nil {
		t.Fatalf("Failed to add line: %v", err)
	}

	updated, err := svc.documents.UpdateLine(ctx, doc.ID, line.ID, core.DocumentLineInput{
		ProductUnitID: 1, Quantity: dec(t, "3"),
	})
	if err != nil {
		t.Fatalf("Failed to update line: %v", err)
	}
	receipt, err := core.DecodeReceipt(updated.ReservedLotInfo)
	if err != nil {
		t.Fatalf("Updated line receipt undecodable: %v", err)
	}
	if len(receipt) != 1 || receipt[0].LotNumber != "LOT-A" {
		t.Fatalf("3 units should fit in LOT-A alone, got %+v", receipt)
	}
	assertDecimal(t, mustBalance(t, svc, 1).Reserved, "3", "balance reserved after update")

	if err := svc.documents.DeleteLine(ctx, doc.ID, line.ID); err != nil {
		t.Fatalf("Failed to delete line: %v", err)
	}
	assertDecimal(t, mustBalance(t, svc, 1).Reserved, "0", "balance reserved after delete")
}

func TestRejectDocument_RecordsReason(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	doc, err := svc.documents.CreateDocument(ctx, core.DocumentInbound, 1, 1, "supplier X")
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	rejected, err := svc.documents.RejectDocument(ctx, doc.ID, "wrong supplier")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != core.DocumentCancelled {
		t.Errorf("Rejected document should be CANCELLED, got %s", rejected.Status)
	}
	if !strings.Contains(rejected.Note, "wrong supplier") {
		t.Errorf("Rejection reason should be recorded in note, got %q", rejected.Note)
	}
}

func TestApproveDocument_EmptyDraftFails(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	doc, err := svc.documents.CreateDocument(ctx, core.DocumentInbound, 1, 1, "")
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	if _, err := svc.documents.ApproveDocument(ctx, doc.ID); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("Approving an empty draft should fail with ErrInvalidState, got %v", err)
	}
}

func TestInboundDocument_RejectsForeignLotNumber(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	// "LOT-TAKEN" already holds product 1 stock at warehouse 1, location 1.
	receive(t, svc, "LOT-TAKEN", "", "5")

	doc, err := svc.documents.CreateDocument(ctx, core.DocumentInbound, 1, 2, "restock")
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	_, err = svc.documents.AddLine(ctx, doc.ID, core.DocumentLineInput{
		ProductUnitID: 1, Quantity: dec(t, "4"), LotNumber: "LOT-TAKEN",
	})
	var conflict *core.LotConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Adding a line with a lot number bound elsewhere should conflict, got %v", err)
	}
	if conflict.StockLocationID != 1 {
		t.Errorf("Conflict should cite where the lot lives, got location %d", conflict.StockLocationID)
	}

	// The rejected line must not be persisted.
	got, err := svc.documents.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Failed to fetch document: %v", err)
	}
	if len(got.Lines) != 0 {
		t.Errorf("Rejected line should not persist, got %d lines", len(got.Lines))
	}

	// Rebooking an existing line onto the foreign lot number is refused too.
	line, err := svc.documents.AddLine(ctx, doc.ID, core.DocumentLineInput{
		ProductUnitID: 1, Quantity: dec(t, "4"), LotNumber: "LOT-FRESH",
	})
	if err != nil {
		t.Fatalf("Failed to add line: %v", err)
	}
	_, err = svc.documents.UpdateLine(ctx, doc.ID, line.ID, core.DocumentLineInput{
		ProductUnitID: 1, Quantity: dec(t, "4"), LotNumber: "LOT-TAKEN",
	})
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("Updating a line onto a foreign lot number should conflict, got %v", err)
	}

	// At the lot's own triple the same number is accepted.
	sameTriple, err := svc.documents.CreateDocument(ctx, core.DocumentInbound, 1, 1, "top-up")
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	if _, err := svc.documents.AddLine(ctx, sameTriple.ID, core.DocumentLineInput{
		ProductUnitID: 1, Quantity: dec(t, "2"), LotNumber: "LOT-TAKEN",
	}); err != nil {
		t.Errorf("Lot number at its own triple should be accepted, got %v", err)
	}
}
