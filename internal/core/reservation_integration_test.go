package core_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"inventory-service/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE stocktaking_details, stocktakings, stock_document_lines, stock_documents,
			inventory_transactions, stock_lots, stock_balances, stock_locations, warehouses CASCADE;

		INSERT INTO warehouses (id, code, name) VALUES (1, 'WH1', 'Warehouse One'), (2, 'WH2', 'Warehouse Two');
		INSERT INTO stock_locations (id, warehouse_id, code, name) VALUES
			(1, 1, 'A-01', 'Shelf A1'),
			(2, 1, 'A-02', 'Shelf A2'),
			(3, 2, 'B-01', 'Shelf B1');

		SELECT setval('warehouses_id_seq', 100);
		SELECT setval('stock_locations_id_seq', 100);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

type services struct {
	warehouses   core.WarehouseService
	lots         core.LotService
	balances     core.BalanceService
	reservations core.ReservationService
	inventory    core.InventoryService
	documents    core.DocumentService
	stocktakings core.StocktakingService
}

func newServices(pool *pgxpool.Pool) *services {
	numbers := core.NewNumberGenerator()
	log := zerolog.Nop()
	lots := core.NewLotService(pool, numbers)
	balances := core.NewBalanceService(pool)
	reservations := core.NewReservationService(pool, balances, log)
	documents := core.NewDocumentService(pool, lots, balances, reservations, numbers, log)
	return &services{
		warehouses:   core.NewWarehouseService(pool),
		lots:         lots,
		balances:     balances,
		reservations: reservations,
		inventory:    core.NewInventoryService(pool, lots, balances, reservations, numbers),
		documents:    documents,
		stocktakings: core.NewStocktakingService(pool, documents, numbers, log),
	}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func datePtr(t *testing.T, s string) *time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return &d
}

// receive puts quantity into a named lot at warehouse 1, location 1.
func receive(t *testing.T, svc *services, lotNumber, expiry, quantity string) *core.StockLot {
	t.Helper()
	in := core.LotInboundInput{
		LotNumber:       lotNumber,
		ProductUnitID:   1,
		WarehouseID:     1,
		StockLocationID: 1,
		Quantity:        dec(t, quantity),
	}
	if expiry != "" {
		in.ExpiryDate = datePtr(t, expiry)
	}
	lot, err := svc.inventory.ProcessInbound(context.Background(), in)
	if err != nil {
		t.Fatalf("Failed to receive %s into %s: %v", quantity, lotNumber, err)
	}
	return lot
}

func mustBalance(t *testing.T, svc *services, productUnitID int) *core.StockBalance {
	t.Helper()
	b, err := svc.balances.GetBalance(context.Background(), productUnitID, 1, 1)
	if err != nil {
		t.Fatalf("Failed to fetch balance: %v", err)
	}
	return b
}

func mustLot(t *testing.T, svc *services, lotNumber string) *core.StockLot {
	t.Helper()
	l, err := svc.lots.GetLotByNumber(context.Background(), lotNumber)
	if err != nil {
		t.Fatalf("Failed to fetch lot %s: %v", lotNumber, err)
	}
	return l
}

func assertDecimal(t *testing.T, got decimal.Decimal, want string, what string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s: got %s, want %s", what, got, want)
	}
}

func TestReserveStock_FEFOAcrossLots(t *testing.T) {
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

	if len(receipt) != 2 {
		t.Fatalf("Expected 2 receipt entries, got %d", len(receipt))
	}
	if receipt[0].LotNumber != "LOT-A" {
		t.Errorf("First entry should be the soonest-expiring lot, got %s", receipt[0].LotNumber)
	}
	assertDecimal(t, receipt[0].ReservedQty, "5", "LOT-A reserved")
	assertDecimal(t, receipt[1].ReservedQty, "3", "LOT-B reserved")

	lotA := mustLot(t, svc, "LOT-A")
	assertDecimal(t, lotA.Reserved, "5", "LOT-A lot reserved")
	assertDecimal(t, lotA.Available, "0", "LOT-A lot available")

	lotB := mustLot(t, svc, "LOT-B")
	assertDecimal(t, lotB.Reserved, "3", "LOT-B lot reserved")
	assertDecimal(t, lotB.Available, "7", "LOT-B lot available")

	b := mustBalance(t, svc, 1)
	assertDecimal(t, b.Quantity, "15", "balance quantity")
	assertDecimal(t, b.Reserved, "8", "balance reserved")
	assertDecimal(t, b.Available, "7", "balance available")
}

func TestReserveStock_ShortageChangesNothing(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")
	receive(t, svc, "LOT-B", "2030-06-01", "10")

	_, err := svc.reservations.ReserveStock(ctx, 1, 1, 1, dec(t, "20"))
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
	assertDecimal(t, insufficient.Requested, "20", "error requested")
	assertDecimal(t, insufficient.Available, "15", "error available")

	for _, lot := range []string{"LOT-A", "LOT-B"} {
		if got := mustLot(t, svc, lot).Reserved; !got.IsZero() {
			t.Errorf("%s should have nothing reserved after failed reservation, got %s", lot, got)
		}
	}
	if got := mustBalance(t, svc, 1).Reserved; !got.IsZero() {
		t.Errorf("Balance should have nothing reserved after failed reservation, got %s", got)
	}
}

func TestReserveStock_UnknownTripleIsShortage(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)

	_, err := svc.reservations.ReserveStock(context.Background(), 99, 1, 1, dec(t, "1"))
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("Expected ErrInsufficientStock for unknown product, got %v", err)
	}
}

func TestReleaseReservation_RestoresAvailability(t *testing.T) {
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
	if err := svc.reservations.ReleaseReservation(ctx, 1, 1, 1, receipt); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	b := mustBalance(t, svc, 1)
	assertDecimal(t, b.Quantity, "15", "balance quantity")
	assertDecimal(t, b.Reserved, "0", "balance reserved")
	assertDecimal(t, b.Available, "15", "balance available")
	assertDecimal(t, mustLot(t, svc, "LOT-A").Available, "5", "LOT-A available")
	assertDecimal(t, mustLot(t, svc, "LOT-B").Available, "10", "LOT-B available")
}

func TestAcceptOutbound_ConsumesExactReservedLots(t *testing.T) {
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
	err = svc.inventory.AcceptOutbound(ctx, core.AcceptRequest{
		ProductUnitID: 1, WarehouseID: 1, StockLocationID: 1,
		Receipt: receipt, Note: "shipment",
	})
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	lotA := mustLot(t, svc, "LOT-A")
	if lotA.Status != core.LotDepleted {
		t.Errorf("LOT-A should be DEPLETED, got %s", lotA.Status)
	}
	assertDecimal(t, lotA.Current, "0", "LOT-A current")

	lotB := mustLot(t, svc, "LOT-B")
	assertDecimal(t, lotB.Current, "7", "LOT-B current")
	assertDecimal(t, lotB.Reserved, "0", "LOT-B reserved")

	b := mustBalance(t, svc, 1)
	assertDecimal(t, b.Quantity, "7", "balance quantity")
	assertDecimal(t, b.Reserved, "0", "balance reserved")
	assertDecimal(t, b.Available, "7", "balance available")

	// The consumption is recorded per lot in the audit trail.
	txns, err := svc.inventory.GetTransactions(ctx, 1, 1, 1)
	if err != nil {
		t.Fatalf("Failed to list transactions: %v", err)
	}
	exports := 0
	for _, txn := range txns {
		if txn.Type == core.TransactionExport {
			exports++
			if txn.StockLotID == nil {
				t.Error("Export transaction should reference its lot")
			}
		}
	}
	if exports != 2 {
		t.Errorf("Expected 2 export transactions, got %d", exports)
	}
}

func TestGetAvailableQuantityInfo(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newServices(pool)
	ctx := context.Background()

	receive(t, svc, "LOT-A", "2030-03-01", "5")
	receive(t, svc, "LOT-B", "2030-06-01", "10")
	if _, err := svc.reservations.ReserveStock(ctx, 1, 1, 1, dec(t, "4")); err != nil {
		t.Fatalf("Reservation failed: %v", err)
	}

	info, err := svc.reservations.GetAvailableQuantityInfo(ctx, 1, 1, 1)
	if err != nil {
		t.Fatalf("Availability query failed: %v", err)
	}
	assertDecimal(t, info.FromBalance, "11", "available from balance")
	assertDecimal(t, info.FromLots, "11", "available from lots")
	if info.NumberOfLots != 2 {
		t.Errorf("Expected 2 allocatable lots, got %d", info.NumberOfLots)
	}

	ok, err := svc.reservations.CheckAvailableQuantity(ctx, 1, 1, 1, dec(t, "11"))
	if err != nil || !ok {
		t.Errorf("11 should be available: ok=%v err=%v", ok, err)
	}
	ok, err = svc.reservations.CheckAvailableQuantity(ctx, 1, 1, 1, dec(t, "12"))
	if err != nil || ok {
		t.Errorf("12 should not be available: ok=%v err=%v", ok, err)
	}
}
