package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ReservationService implements the two-phase outbound flow: reserve stock
// FEFO against a (product, warehouse, location) triple, then later consume or
// release the reservation by replaying the receipt it produced. Consumption
// never re-runs allocation, so the lots that ship are exactly the lots that
// were promised.
type ReservationService interface {
	// ReserveStockTx allocates the quantity FEFO and earmarks it on lots and
	// balance. All-or-nothing: on any shortage no state changes and the error
	// carries the exact numbers. The returned receipt must be kept by the
	// caller; it is the only input consume and release accept.
	ReserveStockTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) ([]LotReservation, error)
	// ConsumeReservedStockTx removes the receipt's quantities from physical
	// stock on the exact lots reserved.
	ConsumeReservedStockTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, receipt []LotReservation) error
	// ReleaseReservationTx gives the receipt's quantities back to available
	// stock.
	ReleaseReservationTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, receipt []LotReservation) error

	// ReserveStock runs ReserveStockTx in its own transaction.
	ReserveStock(ctx context.Context, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) ([]LotReservation, error)
	// ReleaseReservation runs ReleaseReservationTx in its own transaction.
	ReleaseReservation(ctx context.Context, productUnitID, warehouseID, stockLocationID int, receipt []LotReservation) error

	// CheckAvailableQuantity reports whether the triple can currently satisfy
	// the quantity from both bookkeeping sides. Advisory only.
	CheckAvailableQuantity(ctx context.Context, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) (bool, error)
	// GetAvailableQuantityInfo returns availability as seen by the balance row
	// and by the lot sum, so shortage messages can cite both.
	GetAvailableQuantityInfo(ctx context.Context, productUnitID, warehouseID, stockLocationID int) (*AvailableQuantityInfo, error)
}

type reservationService struct {
	pool     *pgxpool.Pool
	balances BalanceService
	log      zerolog.Logger
}

func NewReservationService(pool *pgxpool.Pool, balances BalanceService, log zerolog.Logger) ReservationService {
	return &reservationService{
		pool:     pool,
		balances: balances,
		log:      log.With().Str("component", "reservation").Logger(),
	}
}

func (s *reservationService) ReserveStockTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) ([]LotReservation, error) {
	if qty.Sign() <= 0 {
		return nil, fmt.Errorf("reservation quantity must be positive: %w", ErrInvalidQuantity)
	}

	// The balance row is locked first and acts as the serialization point for
	// the triple; lot locks always follow it.
	balance, err := s.balances.LockBalanceTx(ctx, tx, productUnitID, warehouseID, stockLocationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &InsufficientStockError{ProductUnitID: productUnitID, Requested: qty, Available: decimal.Zero}
		}
		return nil, err
	}
	if balance.Available.LessThan(qty) {
		return nil, &InsufficientStockError{ProductUnitID: productUnitID, Requested: qty, Available: balance.Available}
	}

	// The lot sum is checked independently of the balance: allocateFEFO fails
	// on shortage even though the balance said yes, surfacing drift instead of
	// overpromising.
	candidates, err := fefoCandidatesTx(ctx, tx, productUnitID, warehouseID, stockLocationID)
	if err != nil {
		return nil, err
	}
	receipt, err := allocateFEFO(productUnitID, candidates, qty)
	if err != nil {
		return nil, err
	}

	byID := make(map[int]*StockLot, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
	}
	for _, r := range receipt {
		lot := byID[r.LotID]
		if err := lot.reserve(r.ReservedQty); err != nil {
			return nil, err
		}
		if err := saveLotQuantitiesTx(ctx, tx, lot); err != nil {
			return nil, err
		}
	}

	if err := s.balances.ReserveTx(ctx, tx, productUnitID, warehouseID, stockLocationID, qty); err != nil {
		return nil, err
	}
	s.log.Info().
		Int("product_unit_id", productUnitID).
		Int("warehouse_id", warehouseID).
		Int("stock_location_id", stockLocationID).
		Str("quantity", qty.String()).
		Int("lots", len(receipt)).
		Msg("stock reserved")
	return receipt, nil
}

func (s *reservationService) ConsumeReservedStockTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, receipt []LotReservation) error {
	err := s.replayReceiptTx(ctx, tx, productUnitID, warehouseID, stockLocationID, receipt,
		(*StockLot).consume, s.balances.ConsumeTx)
	if err != nil {
		return err
	}
	s.log.Info().
		Int("product_unit_id", productUnitID).
		Int("warehouse_id", warehouseID).
		Int("stock_location_id", stockLocationID).
		Int("lots", len(receipt)).
		Msg("reserved stock consumed")
	return nil
}

func (s *reservationService) ReleaseReservationTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, receipt []LotReservation) error {
	err := s.replayReceiptTx(ctx, tx, productUnitID, warehouseID, stockLocationID, receipt,
		(*StockLot).release, s.balances.ReleaseTx)
	if err != nil {
		return err
	}
	s.log.Info().
		Int("product_unit_id", productUnitID).
		Int("warehouse_id", warehouseID).
		Int("stock_location_id", stockLocationID).
		Int("lots", len(receipt)).
		Msg("reservation released")
	return nil
}

// replayReceiptTx applies a per-lot mutation for every receipt entry, then the
// matching balance mutation for the receipt total. Lock order matches
// ReserveStockTx: balance row first, then lots.
func (s *reservationService) replayReceiptTx(ctx context.Context, tx pgx.Tx,
	productUnitID, warehouseID, stockLocationID int, receipt []LotReservation,
	lotOp func(*StockLot, decimal.Decimal) error,
	balanceOp func(context.Context, pgx.Tx, int, int, int, decimal.Decimal) error,
) error {
	if len(receipt) == 0 {
		return nil
	}
	if _, err := s.balances.LockBalanceTx(ctx, tx, productUnitID, warehouseID, stockLocationID); err != nil {
		return err
	}

	total := decimal.Zero
	for _, r := range receipt {
		lot, err := lockLotTx(ctx, tx, r.LotID)
		if err != nil {
			return err
		}
		if err := lotOp(lot, r.ReservedQty); err != nil {
			return err
		}
		if err := saveLotQuantitiesTx(ctx, tx, lot); err != nil {
			return err
		}
		total = total.Add(r.ReservedQty)
	}
	return balanceOp(ctx, tx, productUnitID, warehouseID, stockLocationID, total)
}

func (s *reservationService) ReserveStock(ctx context.Context, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) ([]LotReservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	receipt, err := s.ReserveStockTx(ctx, tx, productUnitID, warehouseID, stockLocationID, qty)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return receipt, nil
}

func (s *reservationService) ReleaseReservation(ctx context.Context, productUnitID, warehouseID, stockLocationID int, receipt []LotReservation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ReleaseReservationTx(ctx, tx, productUnitID, warehouseID, stockLocationID, receipt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *reservationService) CheckAvailableQuantity(ctx context.Context, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) (bool, error) {
	info, err := s.GetAvailableQuantityInfo(ctx, productUnitID, warehouseID, stockLocationID)
	if err != nil {
		return false, err
	}
	return !info.FromBalance.LessThan(qty) && !info.FromLots.LessThan(qty), nil
}

func (s *reservationService) GetAvailableQuantityInfo(ctx context.Context, productUnitID, warehouseID, stockLocationID int) (*AvailableQuantityInfo, error) {
	var info AvailableQuantityInfo
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT available_quantity FROM stock_balances
		                 WHERE product_unit_id = $1 AND warehouse_id = $2 AND stock_location_id = $3), 0),
		       COALESCE(sum(available_quantity), 0),
		       count(*)
		FROM stock_lots
		WHERE product_unit_id = $1 AND warehouse_id = $2 AND stock_location_id = $3
		  AND status = 'ACTIVE' AND available_quantity > 0
	`, productUnitID, warehouseID, stockLocationID).Scan(&info.FromBalance, &info.FromLots, &info.NumberOfLots)
	if err != nil {
		return nil, fmt.Errorf("failed to compute availability: %w", err)
	}
	return &info, nil
}
