package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// BalanceService maintains the per-(product, warehouse, location) stock
// aggregate. All mutating methods are Tx-scoped: the callers own the
// transaction so balance updates commit atomically with the lot and
// transaction rows they belong to.
type BalanceService interface {
	GetBalance(ctx context.Context, productUnitID, warehouseID, stockLocationID int) (*StockBalance, error)
	GetBalances(ctx context.Context, warehouseID int) ([]StockBalance, error)
	GetBalancesForProduct(ctx context.Context, productUnitID int) ([]StockBalance, error)
	// CheckConsistency reports every balance row whose quantity or reserved
	// quantity disagrees with the sum over its lots.
	CheckConsistency(ctx context.Context) ([]BalanceDrift, error)

	// LockBalanceTx loads the balance row FOR UPDATE. It is the serialization
	// point for concurrent operations on a triple and must be taken before any
	// lot row of that triple.
	LockBalanceTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int) (*StockBalance, error)

	// ApplyTransactionTx applies a movement to the balance: IMPORT adds
	// (creating the row on first receipt), EXPORT subtracts from available
	// stock, ADJUST sets the absolute quantity.
	ApplyTransactionTx(ctx context.Context, tx pgx.Tx, t *InventoryTransaction) error
	// ReverseTransactionTx undoes a movement's balance impact. ADJUST cannot
	// be reversed because the prior quantity is not recorded.
	ReverseTransactionTx(ctx context.Context, tx pgx.Tx, t *InventoryTransaction) error

	ReserveTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) error
	ReleaseTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) error
	// ConsumeTx removes reserved quantity from physical stock when a
	// reservation ships.
	ConsumeTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) error
}

type balanceService struct {
	pool *pgxpool.Pool
}

func NewBalanceService(pool *pgxpool.Pool) BalanceService {
	return &balanceService{pool: pool}
}

const balanceColumns = `id, product_unit_id, warehouse_id, stock_location_id,
	       quantity, reserved_quantity, available_quantity, last_updated_at, created_at`

func scanBalance(row pgx.Row) (*StockBalance, error) {
	var b StockBalance
	err := row.Scan(&b.ID, &b.ProductUnitID, &b.WarehouseID, &b.StockLocationID,
		&b.Quantity, &b.Reserved, &b.Available, &b.LastUpdatedAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *balanceService) GetBalance(ctx context.Context, productUnitID, warehouseID, stockLocationID int) (*StockBalance, error) {
	b, err := scanBalance(s.pool.QueryRow(ctx, `
		SELECT `+balanceColumns+`
		FROM stock_balances
		WHERE product_unit_id = $1 AND warehouse_id = $2 AND stock_location_id = $3
	`, productUnitID, warehouseID, stockLocationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no balance for product unit %d at warehouse %d location %d: %w",
				productUnitID, warehouseID, stockLocationID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return b, nil
}

func (s *balanceService) GetBalances(ctx context.Context, warehouseID int) ([]StockBalance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+balanceColumns+`
		FROM stock_balances
		WHERE ($1 = 0 OR warehouse_id = $1)
		ORDER BY warehouse_id, stock_location_id, product_unit_id
	`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	return collectBalances(rows)
}

func (s *balanceService) GetBalancesForProduct(ctx context.Context, productUnitID int) ([]StockBalance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+balanceColumns+`
		FROM stock_balances
		WHERE product_unit_id = $1
		ORDER BY warehouse_id, stock_location_id
	`, productUnitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	return collectBalances(rows)
}

func collectBalances(rows pgx.Rows) ([]StockBalance, error) {
	defer rows.Close()
	var balances []StockBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, *b)
	}
	return balances, rows.Err()
}

func (s *balanceService) CheckConsistency(ctx context.Context) ([]BalanceDrift, error) {
	// Lot sums count stock that still physically exists: CANCELLED lots are
	// emptied before cancellation, so summing all rows is safe.
	rows, err := s.pool.Query(ctx, `
		SELECT b.product_unit_id, b.warehouse_id, b.stock_location_id,
		       b.quantity, COALESCE(l.current_sum, 0),
		       b.reserved_quantity, COALESCE(l.reserved_sum, 0)
		FROM stock_balances b
		LEFT JOIN (
			SELECT product_unit_id, warehouse_id, stock_location_id,
			       sum(current_quantity) AS current_sum,
			       sum(reserved_quantity) AS reserved_sum
			FROM stock_lots
			GROUP BY product_unit_id, warehouse_id, stock_location_id
		) l USING (product_unit_id, warehouse_id, stock_location_id)
		WHERE b.quantity <> COALESCE(l.current_sum, 0)
		   OR b.reserved_quantity <> COALESCE(l.reserved_sum, 0)
		ORDER BY b.warehouse_id, b.stock_location_id, b.product_unit_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to run consistency check: %w", err)
	}
	defer rows.Close()

	var drifts []BalanceDrift
	for rows.Next() {
		var d BalanceDrift
		if err := rows.Scan(&d.ProductUnitID, &d.WarehouseID, &d.StockLocationID,
			&d.BalanceQty, &d.LotQty, &d.BalanceReserved, &d.LotReserved); err != nil {
			return nil, fmt.Errorf("failed to scan drift row: %w", err)
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

// ── Tx-scoped mutations ───────────────────────────────────────────────────────

func (s *balanceService) LockBalanceTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int) (*StockBalance, error) {
	b, err := scanBalance(tx.QueryRow(ctx, `
		SELECT `+balanceColumns+`
		FROM stock_balances
		WHERE product_unit_id = $1 AND warehouse_id = $2 AND stock_location_id = $3
		FOR UPDATE
	`, productUnitID, warehouseID, stockLocationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no balance for product unit %d at warehouse %d location %d: %w",
				productUnitID, warehouseID, stockLocationID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return b, nil
}

// lockOrCreateBalanceTx is LockBalanceTx with find-or-create semantics, used
// by IMPORT and ADJUST which may touch a triple for the first time.
func (s *balanceService) lockOrCreateBalanceTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int) (*StockBalance, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_balances (product_unit_id, warehouse_id, stock_location_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_unit_id, warehouse_id, stock_location_id) DO NOTHING
	`, productUnitID, warehouseID, stockLocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}
	return s.LockBalanceTx(ctx, tx, productUnitID, warehouseID, stockLocationID)
}

func (s *balanceService) ApplyTransactionTx(ctx context.Context, tx pgx.Tx, t *InventoryTransaction) error {
	switch t.Type {
	case TransactionImport:
		if t.Quantity.Sign() <= 0 {
			return fmt.Errorf("import quantity must be positive: %w", ErrInvalidQuantity)
		}
		b, err := s.lockOrCreateBalanceTx(ctx, tx, t.ProductUnitID, t.WarehouseID, t.StockLocationID)
		if err != nil {
			return err
		}
		return s.writeQuantityTx(ctx, tx, b, b.Quantity.Add(t.Quantity))

	case TransactionExport:
		if t.Quantity.Sign() <= 0 {
			return fmt.Errorf("export quantity must be positive: %w", ErrInvalidQuantity)
		}
		b, err := s.LockBalanceTx(ctx, tx, t.ProductUnitID, t.WarehouseID, t.StockLocationID)
		if err != nil {
			return err
		}
		if b.Available.LessThan(t.Quantity) {
			return &InsufficientStockError{ProductUnitID: t.ProductUnitID, Requested: t.Quantity, Available: b.Available}
		}
		return s.writeQuantityTx(ctx, tx, b, b.Quantity.Sub(t.Quantity))

	case TransactionAdjust:
		if t.Quantity.Sign() < 0 {
			return fmt.Errorf("adjusted quantity cannot be negative: %w", ErrInvalidQuantity)
		}
		b, err := s.lockOrCreateBalanceTx(ctx, tx, t.ProductUnitID, t.WarehouseID, t.StockLocationID)
		if err != nil {
			return err
		}
		if t.Quantity.LessThan(b.Reserved) {
			return fmt.Errorf("cannot adjust quantity to %s below reserved %s: %w",
				t.Quantity.String(), b.Reserved.String(), ErrInvalidQuantity)
		}
		return s.writeQuantityTx(ctx, tx, b, t.Quantity)

	default:
		return fmt.Errorf("unknown transaction type %q", t.Type)
	}
}

func (s *balanceService) ReverseTransactionTx(ctx context.Context, tx pgx.Tx, t *InventoryTransaction) error {
	switch t.Type {
	case TransactionImport:
		b, err := s.LockBalanceTx(ctx, tx, t.ProductUnitID, t.WarehouseID, t.StockLocationID)
		if err != nil {
			return err
		}
		if b.Available.LessThan(t.Quantity) {
			return fmt.Errorf("reversing import of %s would leave %s available: %w",
				t.Quantity.String(), b.Available.String(), ErrInsufficientStock)
		}
		return s.writeQuantityTx(ctx, tx, b, b.Quantity.Sub(t.Quantity))

	case TransactionExport:
		b, err := s.LockBalanceTx(ctx, tx, t.ProductUnitID, t.WarehouseID, t.StockLocationID)
		if err != nil {
			return err
		}
		return s.writeQuantityTx(ctx, tx, b, b.Quantity.Add(t.Quantity))

	case TransactionAdjust:
		return fmt.Errorf("adjustments cannot be reversed, record a new adjustment instead: %w", ErrInvalidState)

	default:
		return fmt.Errorf("unknown transaction type %q", t.Type)
	}
}

// writeQuantityTx persists a new physical quantity, keeping available
// derived. The row is already locked by the caller.
func (s *balanceService) writeQuantityTx(ctx context.Context, tx pgx.Tx, b *StockBalance, newQty decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE stock_balances
		SET quantity = $2, available_quantity = $2 - reserved_quantity, last_updated_at = now()
		WHERE id = $1
	`, b.ID, newQty)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	b.Available = newQty.Sub(b.Reserved)
	b.Quantity = newQty
	return nil
}

func (s *balanceService) ReserveTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE stock_balances
		SET reserved_quantity = reserved_quantity + $4,
		    available_quantity = quantity - (reserved_quantity + $4),
		    last_updated_at = now()
		WHERE product_unit_id = $1 AND warehouse_id = $2 AND stock_location_id = $3
		  AND quantity - reserved_quantity >= $4
	`, productUnitID, warehouseID, stockLocationID, qty)
	if err != nil {
		return fmt.Errorf("failed to reserve on balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		b, err := s.GetBalance(ctx, productUnitID, warehouseID, stockLocationID)
		if err != nil {
			return err
		}
		return &InsufficientStockError{ProductUnitID: productUnitID, Requested: qty, Available: b.Available}
	}
	return nil
}

func (s *balanceService) ReleaseTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE stock_balances
		SET reserved_quantity = reserved_quantity - $4,
		    available_quantity = quantity - (reserved_quantity - $4),
		    last_updated_at = now()
		WHERE product_unit_id = $1 AND warehouse_id = $2 AND stock_location_id = $3
		  AND reserved_quantity >= $4
	`, productUnitID, warehouseID, stockLocationID, qty)
	if err != nil {
		return fmt.Errorf("failed to release on balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("balance for product unit %d has less than %s reserved: %w",
			productUnitID, qty.String(), ErrInvalidQuantity)
	}
	return nil
}

func (s *balanceService) ConsumeTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int, qty decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE stock_balances
		SET quantity = quantity - $4,
		    reserved_quantity = reserved_quantity - $4,
		    available_quantity = (quantity - $4) - (reserved_quantity - $4),
		    last_updated_at = now()
		WHERE product_unit_id = $1 AND warehouse_id = $2 AND stock_location_id = $3
		  AND reserved_quantity >= $4 AND quantity >= $4
	`, productUnitID, warehouseID, stockLocationID, qty)
	if err != nil {
		return fmt.Errorf("failed to consume on balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("balance for product unit %d cannot consume %s: %w",
			productUnitID, qty.String(), ErrInvalidQuantity)
	}
	return nil
}
