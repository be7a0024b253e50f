package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TransactionInput describes a balance-level movement.
type TransactionInput struct {
	Type            TransactionType
	ProductUnitID   int
	WarehouseID     int
	StockLocationID int
	Quantity        decimal.Decimal
	ReferenceNumber string
	Note            string
}

// OutboundRequest is one FEFO shipment request.
type OutboundRequest struct {
	ProductUnitID   int
	WarehouseID     int
	StockLocationID int
	Quantity        decimal.Decimal
	Note            string
}

// AcceptRequest asks to ship a previously taken reservation.
type AcceptRequest struct {
	ProductUnitID   int
	WarehouseID     int
	StockLocationID int
	Receipt         []LotReservation
	Note            string
}

// AcceptResult is the per-request outcome of a best-effort bulk accept.
type AcceptResult struct {
	ProductUnitID int
	Err           error
}

// InventoryService is the movement API: direct imports and exports, FEFO
// shipments, transfers, and adjustments, each recorded as inventory
// transactions. The transaction rows are the audit trail; deleting one
// reverses its balance impact.
type InventoryService interface {
	// CreateTransaction applies a balance-level movement without lot
	// bookkeeping. Lot-tracked stock should move through ProcessInbound and
	// ProcessOutboundFEFO instead.
	CreateTransaction(ctx context.Context, in TransactionInput) (*InventoryTransaction, error)
	GetTransaction(ctx context.Context, id int) (*InventoryTransaction, error)
	// GetTransactions lists movements newest first, scoped by the non-zero
	// filter dimensions.
	GetTransactions(ctx context.Context, productUnitID, warehouseID, stockLocationID int) ([]InventoryTransaction, error)
	// DeleteTransaction removes a movement and reverses its balance impact.
	DeleteTransaction(ctx context.Context, id int) error

	// ProcessInbound receives stock into a lot and updates balance and audit
	// trail in one transaction.
	ProcessInbound(ctx context.Context, in LotInboundInput) (*StockLot, error)
	// ProcessOutboundFEFO ships stock immediately: reserve FEFO and consume in
	// the same transaction. Returns the per-lot breakdown.
	ProcessOutboundFEFO(ctx context.Context, req OutboundRequest) ([]LotReservation, error)
	// ProcessBulkInbound receives several lots atomically.
	ProcessBulkInbound(ctx context.Context, ins []LotInboundInput) ([]StockLot, error)
	// ProcessBulkOutboundFEFO ships several requests atomically: one shortage
	// fails the whole batch.
	ProcessBulkOutboundFEFO(ctx context.Context, reqs []OutboundRequest) ([][]LotReservation, error)

	// AcceptOutbound consumes a standalone reservation receipt.
	AcceptOutbound(ctx context.Context, req AcceptRequest) error
	// AcceptBulkOutbound consumes several receipts best-effort: each request
	// commits or fails on its own and the per-request outcomes are returned.
	AcceptBulkOutbound(ctx context.Context, reqs []AcceptRequest) []AcceptResult

	// ProcessTransfer moves stock between locations as an export at the source
	// and an import at the destination, preserving lot expiry data.
	ProcessTransfer(ctx context.Context, productUnitID, fromWarehouseID, fromLocationID, toWarehouseID, toLocationID int, qty decimal.Decimal, note string) error
	// ProcessAdjustment sets the absolute quantity for a triple, spreading the
	// lot-level difference FEFO on shrinkage and into a correction lot on
	// growth.
	ProcessAdjustment(ctx context.Context, productUnitID, warehouseID, stockLocationID int, newQty decimal.Decimal, note string) (*InventoryTransaction, error)
}

type inventoryService struct {
	pool         *pgxpool.Pool
	lots         LotService
	balances     BalanceService
	reservations ReservationService
	numbers      NumberGenerator
}

func NewInventoryService(pool *pgxpool.Pool, lots LotService, balances BalanceService,
	reservations ReservationService, numbers NumberGenerator) InventoryService {
	return &inventoryService{
		pool:         pool,
		lots:         lots,
		balances:     balances,
		reservations: reservations,
		numbers:      numbers,
	}
}

const transactionColumns = `id, type, product_unit_id, warehouse_id, stock_location_id,
	       quantity, transaction_date, reference_number, note, stock_lot_id, created_at, updated_at`

func scanTransaction(row pgx.Row) (*InventoryTransaction, error) {
	var t InventoryTransaction
	err := row.Scan(&t.ID, &t.Type, &t.ProductUnitID, &t.WarehouseID, &t.StockLocationID,
		&t.Quantity, &t.TransactionDate, &t.ReferenceNumber, &t.Note, &t.StockLotID,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// insertTransactionTx records one movement row; the balance change is the
// caller's responsibility. Fills in the generated fields.
func insertTransactionTx(ctx context.Context, tx pgx.Tx, t *InventoryTransaction) error {
	if t.TransactionDate.IsZero() {
		t.TransactionDate = time.Now()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO inventory_transactions (type, product_unit_id, warehouse_id, stock_location_id,
		                                    quantity, transaction_date, reference_number, note, stock_lot_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, t.Type, t.ProductUnitID, t.WarehouseID, t.StockLocationID,
		t.Quantity, t.TransactionDate, t.ReferenceNumber, t.Note, t.StockLotID).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ── Transaction API ───────────────────────────────────────────────────────────

func (s *inventoryService) CreateTransaction(ctx context.Context, in TransactionInput) (*InventoryTransaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t := &InventoryTransaction{
		Type:            in.Type,
		ProductUnitID:   in.ProductUnitID,
		WarehouseID:     in.WarehouseID,
		StockLocationID: in.StockLocationID,
		Quantity:        in.Quantity,
		ReferenceNumber: in.ReferenceNumber,
		Note:            in.Note,
	}
	if err := s.balances.ApplyTransactionTx(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := insertTransactionTx(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return t, nil
}

func (s *inventoryService) GetTransaction(ctx context.Context, id int) (*InventoryTransaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM inventory_transactions WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	return t, nil
}

func (s *inventoryService) GetTransactions(ctx context.Context, productUnitID, warehouseID, stockLocationID int) ([]InventoryTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM inventory_transactions
		WHERE ($1 = 0 OR product_unit_id = $1)
		  AND ($2 = 0 OR warehouse_id = $2)
		  AND ($3 = 0 OR stock_location_id = $3)
		ORDER BY transaction_date DESC, id DESC
	`, productUnitID, warehouseID, stockLocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []InventoryTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func (s *inventoryService) DeleteTransaction(ctx context.Context, id int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanTransaction(tx.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM inventory_transactions WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("transaction %d: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to lock transaction: %w", err)
	}
	if t.StockLotID != nil {
		return fmt.Errorf("transaction %d is lot-tracked and cannot be deleted: %w", id, ErrInvalidState)
	}
	if err := s.balances.ReverseTransactionTx(ctx, tx, t); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM inventory_transactions WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// ── Lot-tracked movements ─────────────────────────────────────────────────────

func (s *inventoryService) ProcessInbound(ctx context.Context, in LotInboundInput) (*StockLot, error) {
	lots, err := s.ProcessBulkInbound(ctx, []LotInboundInput{in})
	if err != nil {
		return nil, err
	}
	return &lots[0], nil
}

func (s *inventoryService) ProcessBulkInbound(ctx context.Context, ins []LotInboundInput) ([]StockLot, error) {
	if len(ins) == 0 {
		return nil, fmt.Errorf("at least one inbound is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	results := make([]StockLot, 0, len(ins))
	for _, in := range ins {
		lot, err := s.inboundTx(ctx, tx, in)
		if err != nil {
			return nil, err
		}
		results = append(results, *lot)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return results, nil
}

func (s *inventoryService) inboundTx(ctx context.Context, tx pgx.Tx, in LotInboundInput) (*StockLot, error) {
	t := &InventoryTransaction{
		Type:            TransactionImport,
		ProductUnitID:   in.ProductUnitID,
		WarehouseID:     in.WarehouseID,
		StockLocationID: in.StockLocationID,
		Quantity:        in.Quantity,
		Note:            in.Note,
	}
	// Balance row first, lot second: same lock order as reservation.
	if err := s.balances.ApplyTransactionTx(ctx, tx, t); err != nil {
		return nil, err
	}
	lot, err := s.lots.UpsertOnInboundTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	t.StockLotID = &lot.ID
	if err := insertTransactionTx(ctx, tx, t); err != nil {
		return nil, err
	}
	return lot, nil
}

func (s *inventoryService) ProcessOutboundFEFO(ctx context.Context, req OutboundRequest) ([]LotReservation, error) {
	plans, err := s.ProcessBulkOutboundFEFO(ctx, []OutboundRequest{req})
	if err != nil {
		return nil, err
	}
	return plans[0], nil
}

func (s *inventoryService) ProcessBulkOutboundFEFO(ctx context.Context, reqs []OutboundRequest) ([][]LotReservation, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("at least one outbound is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	plans := make([][]LotReservation, 0, len(reqs))
	for _, req := range reqs {
		// Reserve-then-consume inside one transaction gives immediate shipment
		// the same FEFO and bookkeeping path as the document flow.
		receipt, err := s.reservations.ReserveStockTx(ctx, tx, req.ProductUnitID, req.WarehouseID, req.StockLocationID, req.Quantity)
		if err != nil {
			return nil, err
		}
		if err := s.consumeReceiptTx(ctx, tx, req.ProductUnitID, req.WarehouseID, req.StockLocationID, receipt, req.Note); err != nil {
			return nil, err
		}
		plans = append(plans, receipt)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return plans, nil
}

func (s *inventoryService) consumeReceiptTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, receipt []LotReservation, note string) error {
	if err := s.reservations.ConsumeReservedStockTx(ctx, tx, productUnitID, warehouseID, stockLocationID, receipt); err != nil {
		return err
	}
	for _, r := range receipt {
		lotID := r.LotID
		t := &InventoryTransaction{
			Type:            TransactionExport,
			ProductUnitID:   productUnitID,
			WarehouseID:     warehouseID,
			StockLocationID: stockLocationID,
			Quantity:        r.ReservedQty,
			Note:            note,
			StockLotID:      &lotID,
		}
		if err := insertTransactionTx(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *inventoryService) AcceptOutbound(ctx context.Context, req AcceptRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.consumeReceiptTx(ctx, tx, req.ProductUnitID, req.WarehouseID, req.StockLocationID, req.Receipt, req.Note); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *inventoryService) AcceptBulkOutbound(ctx context.Context, reqs []AcceptRequest) []AcceptResult {
	results := make([]AcceptResult, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, AcceptResult{
			ProductUnitID: req.ProductUnitID,
			Err:           s.AcceptOutbound(ctx, req),
		})
	}
	return results
}

// ── Transfers and adjustments ─────────────────────────────────────────────────

func (s *inventoryService) ProcessTransfer(ctx context.Context, productUnitID, fromWarehouseID, fromLocationID, toWarehouseID, toLocationID int, qty decimal.Decimal, note string) error {
	if fromWarehouseID == toWarehouseID && fromLocationID == toLocationID {
		return fmt.Errorf("transfer source and destination are the same")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	receipt, err := s.reservations.ReserveStockTx(ctx, tx, productUnitID, fromWarehouseID, fromLocationID, qty)
	if err != nil {
		return err
	}
	if err := s.consumeReceiptTx(ctx, tx, productUnitID, fromWarehouseID, fromLocationID, receipt, note); err != nil {
		return err
	}

	// Each consumed source lot lands in a destination lot whose number is
	// derived from the source, so repeated transfers of the same lot merge and
	// expiry data survives the move.
	for _, r := range receipt {
		src, err := lockLotTx(ctx, tx, r.LotID)
		if err != nil {
			return err
		}
		if _, err := s.inboundTx(ctx, tx, LotInboundInput{
			LotNumber:           fmt.Sprintf("%s-T%d.%d", src.LotNumber, toWarehouseID, toLocationID),
			ProductUnitID:       productUnitID,
			WarehouseID:         toWarehouseID,
			StockLocationID:     toLocationID,
			Quantity:            r.ReservedQty,
			ExpiryDate:          src.ExpiryDate,
			ManufacturingDate:   src.ManufacturingDate,
			SupplierName:        src.SupplierName,
			SupplierBatchNumber: src.SupplierBatchNumber,
			Note:                note,
		}); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *inventoryService) ProcessAdjustment(ctx context.Context, productUnitID, warehouseID, stockLocationID int, newQty decimal.Decimal, note string) (*InventoryTransaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t := &InventoryTransaction{
		Type:            TransactionAdjust,
		ProductUnitID:   productUnitID,
		WarehouseID:     warehouseID,
		StockLocationID: stockLocationID,
		Quantity:        newQty,
		Note:            note,
	}
	if err := s.balances.ApplyTransactionTx(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := s.adjustLotsTx(ctx, tx, productUnitID, warehouseID, stockLocationID, newQty, note); err != nil {
		return nil, err
	}
	if err := insertTransactionTx(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return t, nil
}

// adjustLotsTx reconciles lot quantities with an absolute balance adjustment.
// Shrinkage comes out of unreserved stock FEFO so the soonest-expiring excess
// is written off first; growth goes into a correction lot without expiry.
func (s *inventoryService) adjustLotsTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, newQty decimal.Decimal, note string) error {
	var lotSum decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(sum(current_quantity), 0)
		FROM stock_lots
		WHERE product_unit_id = $1 AND warehouse_id = $2 AND stock_location_id = $3
	`, productUnitID, warehouseID, stockLocationID).Scan(&lotSum)
	if err != nil {
		return fmt.Errorf("failed to sum lots: %w", err)
	}

	diff := newQty.Sub(lotSum)
	switch {
	case diff.IsZero():
		return nil
	case diff.Sign() > 0:
		_, err := s.lots.UpsertOnInboundTx(ctx, tx, LotInboundInput{
			LotNumber:       s.numbers.LotNumber(),
			ProductUnitID:   productUnitID,
			WarehouseID:     warehouseID,
			StockLocationID: stockLocationID,
			Quantity:        diff,
			Note:            "adjustment: " + note,
		})
		return err
	default:
		toRemove := diff.Neg()
		candidates, err := fefoCandidatesTx(ctx, tx, productUnitID, warehouseID, stockLocationID)
		if err != nil {
			return err
		}
		for i := range candidates {
			if toRemove.Sign() <= 0 {
				break
			}
			take := decimal.Min(toRemove, candidates[i].Available)
			if take.Sign() <= 0 {
				continue
			}
			l := &candidates[i]
			l.Current = l.Current.Sub(take)
			l.Available = l.Current.Sub(l.Reserved)
			if l.Current.IsZero() {
				l.Status = LotDepleted
			}
			if err := saveLotQuantitiesTx(ctx, tx, l); err != nil {
				return err
			}
			toRemove = toRemove.Sub(take)
		}
		if toRemove.Sign() > 0 {
			return fmt.Errorf("cannot remove %s from unreserved lot stock: %w", toRemove.String(), ErrInvalidQuantity)
		}
		return nil
	}
}
