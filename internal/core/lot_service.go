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

// LotInboundInput describes a goods receipt into a lot. An empty LotNumber
// asks the service to generate one.
type LotInboundInput struct {
	LotNumber           string
	ProductUnitID       int
	WarehouseID         int
	StockLocationID     int
	Quantity            decimal.Decimal
	ExpiryDate          *time.Time
	ManufacturingDate   *time.Time
	SupplierName        string
	SupplierBatchNumber string
	Note                string
}

// LotStatistics summarizes the lot population of a warehouse.
type LotStatistics struct {
	TotalLots      int             `json:"total_lots"`
	ActiveLots     int             `json:"active_lots"`
	ExpiredLots    int             `json:"expired_lots"`
	DepletedLots   int             `json:"depleted_lots"`
	NearExpiryLots int             `json:"near_expiry_lots"`
	TotalQuantity  decimal.Decimal `json:"total_quantity"`
	TotalReserved  decimal.Decimal `json:"total_reserved"`
}

// LotService manages stock lots: receiving stock into lots, lifecycle status
// changes, and the read side used for expiry monitoring.
type LotService interface {
	// UpsertOnInboundTx adds received quantity to the lot identified by
	// LotNumber, creating it on first receipt. A lot number already bound to a
	// different (product, warehouse, location) triple is a conflict.
	UpsertOnInboundTx(ctx context.Context, tx pgx.Tx, in LotInboundInput) (*StockLot, error)

	// ValidateInboundLotNumberTx checks that a lot number can receive stock at
	// the given triple without mutating anything, so drafts can reject a
	// conflicting lot number when the line is entered rather than at approval.
	// Advisory: UpsertOnInboundTx re-checks under lock.
	ValidateInboundLotNumberTx(ctx context.Context, tx pgx.Tx, lotNumber string, productUnitID, warehouseID, stockLocationID int) error

	GetLot(ctx context.Context, id int) (*StockLot, error)
	GetLotByNumber(ctx context.Context, lotNumber string) (*StockLot, error)
	// GetLots returns lots scoped by the non-zero dimensions: productUnitID is
	// required, warehouseID and stockLocationID each narrow the scope when set.
	GetLots(ctx context.Context, productUnitID, warehouseID, stockLocationID int) ([]StockLot, error)
	// GetAvailableLotsFEFO returns ACTIVE lots with available quantity in
	// FEFO order, scoped like GetLots. Advisory: allocation re-reads candidates
	// under lock.
	GetAvailableLotsFEFO(ctx context.Context, productUnitID, warehouseID, stockLocationID int) ([]StockLot, error)
	GetNearExpiryLots(ctx context.Context, warehouseID, days int) ([]StockLot, error)
	GetExpiredLots(ctx context.Context, warehouseID int) ([]StockLot, error)
	GetReservedLots(ctx context.Context, warehouseID int) ([]StockLot, error)
	GetLotStatistics(ctx context.Context, warehouseID, nearExpiryDays int) (*LotStatistics, error)

	// UpdateLotStatus moves a lot between ACTIVE and QUARANTINE/EXPIRED. Lots
	// with outstanding reservations cannot leave ACTIVE.
	UpdateLotStatus(ctx context.Context, id int, status LotStatus) (*StockLot, error)
	// CancelLot retires an emptied lot. Lots with remaining quantity must be
	// adjusted out first.
	CancelLot(ctx context.Context, id int, reason string) (*StockLot, error)
	// MarkExpiredLots flips every ACTIVE lot whose expiry date has passed to
	// EXPIRED and returns how many changed.
	MarkExpiredLots(ctx context.Context) (int, error)
}

type lotService struct {
	pool    *pgxpool.Pool
	numbers NumberGenerator
}

func NewLotService(pool *pgxpool.Pool, numbers NumberGenerator) LotService {
	return &lotService{pool: pool, numbers: numbers}
}

// ── Row plumbing shared across services ───────────────────────────────────────

const lotColumns = `id, lot_number, product_unit_id, warehouse_id, stock_location_id,
	       expiry_date, manufacturing_date, supplier_name, supplier_batch_number,
	       initial_quantity, current_quantity, reserved_quantity, available_quantity,
	       status, note, created_at, updated_at`

func scanLot(row pgx.Row) (*StockLot, error) {
	var l StockLot
	err := row.Scan(&l.ID, &l.LotNumber, &l.ProductUnitID, &l.WarehouseID, &l.StockLocationID,
		&l.ExpiryDate, &l.ManufacturingDate, &l.SupplierName, &l.SupplierBatchNumber,
		&l.Initial, &l.Current, &l.Reserved, &l.Available,
		&l.Status, &l.Note, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLots(rows pgx.Rows) ([]StockLot, error) {
	defer rows.Close()
	var lots []StockLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, *l)
	}
	return lots, rows.Err()
}

// lockLotTx loads one lot FOR UPDATE inside the caller's transaction.
func lockLotTx(ctx context.Context, tx pgx.Tx, id int) (*StockLot, error) {
	l, err := scanLot(tx.QueryRow(ctx, "SELECT "+lotColumns+" FROM stock_lots WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stock lot %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock lot %d: %w", id, err)
	}
	return l, nil
}

// saveLotQuantitiesTx writes back the mutable part of a lot after an
// in-memory reserve/release/consume.
func saveLotQuantitiesTx(ctx context.Context, tx pgx.Tx, l *StockLot) error {
	_, err := tx.Exec(ctx, `
		UPDATE stock_lots
		SET current_quantity = $2, reserved_quantity = $3, available_quantity = $4,
		    status = $5, updated_at = now()
		WHERE id = $1
	`, l.ID, l.Current, l.Reserved, l.Available, l.Status)
	if err != nil {
		return fmt.Errorf("failed to update lot %q: %w", l.LotNumber, err)
	}
	return nil
}

// fefoCandidatesTx loads and locks the allocatable lots for a triple, in FEFO
// order. Locking follows the balance row lock, so lock order is consistent
// across concurrent reservations.
func fefoCandidatesTx(ctx context.Context, tx pgx.Tx, productUnitID, warehouseID, stockLocationID int) ([]StockLot, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+lotColumns+`
		FROM stock_lots
		WHERE product_unit_id = $1 AND warehouse_id = $2 AND stock_location_id = $3
		  AND status = 'ACTIVE' AND available_quantity > 0
		ORDER BY expiry_date ASC NULLS LAST, created_at ASC
		FOR UPDATE
	`, productUnitID, warehouseID, stockLocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocatable lots: %w", err)
	}
	return collectLots(rows)
}

// ── Inbound ───────────────────────────────────────────────────────────────────

func (s *lotService) UpsertOnInboundTx(ctx context.Context, tx pgx.Tx, in LotInboundInput) (*StockLot, error) {
	if in.Quantity.Sign() <= 0 {
		return nil, fmt.Errorf("inbound quantity must be positive: %w", ErrInvalidQuantity)
	}
	lotNumber := in.LotNumber
	if lotNumber == "" {
		lotNumber = s.numbers.LotNumber()
	}

	existing, err := scanLot(tx.QueryRow(ctx,
		"SELECT "+lotColumns+" FROM stock_lots WHERE lot_number = $1 FOR UPDATE", lotNumber))
	switch {
	case err == nil:
		if existing.ProductUnitID != in.ProductUnitID ||
			existing.WarehouseID != in.WarehouseID ||
			existing.StockLocationID != in.StockLocationID {
			return nil, &LotConflictError{
				LotNumber:       lotNumber,
				ProductUnitID:   existing.ProductUnitID,
				WarehouseID:     existing.WarehouseID,
				StockLocationID: existing.StockLocationID,
			}
		}
		if existing.Status != LotActive {
			return nil, &InvalidLotStateError{LotNumber: lotNumber, Status: existing.Status, Op: "receive into"}
		}
		existing.Initial = existing.Initial.Add(in.Quantity)
		existing.Current = existing.Current.Add(in.Quantity)
		existing.Available = existing.Current.Sub(existing.Reserved)
		_, err = tx.Exec(ctx, `
			UPDATE stock_lots
			SET initial_quantity = $2, current_quantity = $3, available_quantity = $4, updated_at = now()
			WHERE id = $1
		`, existing.ID, existing.Initial, existing.Current, existing.Available)
		if err != nil {
			return nil, fmt.Errorf("failed to add stock to lot %q: %w", lotNumber, err)
		}
		return existing, nil
	case errors.Is(err, pgx.ErrNoRows):
		l, err := scanLot(tx.QueryRow(ctx, `
			INSERT INTO stock_lots (lot_number, product_unit_id, warehouse_id, stock_location_id,
			                        expiry_date, manufacturing_date, supplier_name, supplier_batch_number,
			                        initial_quantity, current_quantity, reserved_quantity, available_quantity,
			                        status, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 0, $9, 'ACTIVE', $10)
			RETURNING `+lotColumns,
			lotNumber, in.ProductUnitID, in.WarehouseID, in.StockLocationID,
			in.ExpiryDate, in.ManufacturingDate, in.SupplierName, in.SupplierBatchNumber,
			in.Quantity, in.Note))
		if err != nil {
			return nil, fmt.Errorf("failed to create lot %q: %w", lotNumber, err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("failed to look up lot %q: %w", lotNumber, err)
	}
}

func (s *lotService) ValidateInboundLotNumberTx(ctx context.Context, tx pgx.Tx, lotNumber string, productUnitID, warehouseID, stockLocationID int) error {
	existing, err := scanLot(tx.QueryRow(ctx,
		"SELECT "+lotColumns+" FROM stock_lots WHERE lot_number = $1", lotNumber))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up lot %q: %w", lotNumber, err)
	}
	if existing.ProductUnitID != productUnitID ||
		existing.WarehouseID != warehouseID ||
		existing.StockLocationID != stockLocationID {
		return &LotConflictError{
			LotNumber:       lotNumber,
			ProductUnitID:   existing.ProductUnitID,
			WarehouseID:     existing.WarehouseID,
			StockLocationID: existing.StockLocationID,
		}
	}
	if existing.Status != LotActive {
		return &InvalidLotStateError{LotNumber: lotNumber, Status: existing.Status, Op: "receive into"}
	}
	return nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *lotService) GetLot(ctx context.Context, id int) (*StockLot, error) {
	l, err := scanLot(s.pool.QueryRow(ctx, "SELECT "+lotColumns+" FROM stock_lots WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stock lot %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch lot: %w", err)
	}
	return l, nil
}

func (s *lotService) GetLotByNumber(ctx context.Context, lotNumber string) (*StockLot, error) {
	l, err := scanLot(s.pool.QueryRow(ctx, "SELECT "+lotColumns+" FROM stock_lots WHERE lot_number = $1", lotNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stock lot %q: %w", lotNumber, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch lot: %w", err)
	}
	return l, nil
}

func (s *lotService) GetLots(ctx context.Context, productUnitID, warehouseID, stockLocationID int) ([]StockLot, error) {
	return s.queryScoped(ctx, "", productUnitID, warehouseID, stockLocationID)
}

func (s *lotService) GetAvailableLotsFEFO(ctx context.Context, productUnitID, warehouseID, stockLocationID int) ([]StockLot, error) {
	return s.queryScoped(ctx, "AND status = 'ACTIVE' AND available_quantity > 0",
		productUnitID, warehouseID, stockLocationID)
}

// queryScoped narrows by warehouse and location only when they are set, so
// the same query serves lookups at triple, warehouse, and product scope.
func (s *lotService) queryScoped(ctx context.Context, extra string, productUnitID, warehouseID, stockLocationID int) ([]StockLot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lotColumns+`
		FROM stock_lots
		WHERE product_unit_id = $1
		  AND ($2 = 0 OR warehouse_id = $2)
		  AND ($3 = 0 OR stock_location_id = $3)
		  `+extra+`
		ORDER BY expiry_date ASC NULLS LAST, created_at ASC
	`, productUnitID, warehouseID, stockLocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	return collectLots(rows)
}

func (s *lotService) GetNearExpiryLots(ctx context.Context, warehouseID, days int) ([]StockLot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lotColumns+`
		FROM stock_lots
		WHERE ($1 = 0 OR warehouse_id = $1)
		  AND status = 'ACTIVE'
		  AND available_quantity > 0
		  AND expiry_date IS NOT NULL
		  AND expiry_date >= CURRENT_DATE
		  AND expiry_date <= CURRENT_DATE + $2::int
		ORDER BY expiry_date ASC
	`, warehouseID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query near-expiry lots: %w", err)
	}
	return collectLots(rows)
}

func (s *lotService) GetExpiredLots(ctx context.Context, warehouseID int) ([]StockLot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lotColumns+`
		FROM stock_lots
		WHERE ($1 = 0 OR warehouse_id = $1)
		  AND expiry_date IS NOT NULL AND expiry_date < CURRENT_DATE
		  AND status IN ('ACTIVE', 'EXPIRED')
		  AND current_quantity > 0
		ORDER BY expiry_date ASC
	`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired lots: %w", err)
	}
	return collectLots(rows)
}

func (s *lotService) GetReservedLots(ctx context.Context, warehouseID int) ([]StockLot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lotColumns+`
		FROM stock_lots
		WHERE ($1 = 0 OR warehouse_id = $1)
		  AND reserved_quantity > 0
		ORDER BY lot_number
	`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reserved lots: %w", err)
	}
	return collectLots(rows)
}

func (s *lotService) GetLotStatistics(ctx context.Context, warehouseID, nearExpiryDays int) (*LotStatistics, error) {
	var st LotStatistics
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'ACTIVE'),
		       count(*) FILTER (WHERE status = 'EXPIRED'),
		       count(*) FILTER (WHERE status = 'DEPLETED'),
		       count(*) FILTER (WHERE status = 'ACTIVE'
		                          AND expiry_date IS NOT NULL
		                          AND expiry_date >= CURRENT_DATE
		                          AND expiry_date < CURRENT_DATE + $2::int),
		       COALESCE(sum(current_quantity), 0),
		       COALESCE(sum(reserved_quantity), 0)
		FROM stock_lots
		WHERE ($1 = 0 OR warehouse_id = $1)
	`, warehouseID, nearExpiryDays).Scan(
		&st.TotalLots, &st.ActiveLots, &st.ExpiredLots, &st.DepletedLots,
		&st.NearExpiryLots, &st.TotalQuantity, &st.TotalReserved)
	if err != nil {
		return nil, fmt.Errorf("failed to compute lot statistics: %w", err)
	}
	return &st, nil
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func (s *lotService) UpdateLotStatus(ctx context.Context, id int, status LotStatus) (*StockLot, error) {
	switch status {
	case LotActive, LotExpired, LotQuarantine:
	default:
		return nil, fmt.Errorf("status %q cannot be set directly: %w", status, ErrInvalidState)
	}
	return s.mutate(ctx, id, func(l *StockLot) error {
		if l.Status == LotDepleted || l.Status == LotCancelled {
			return &InvalidLotStateError{LotNumber: l.LotNumber, Status: l.Status, Op: "change status of"}
		}
		if status != LotActive && l.Reserved.Sign() > 0 {
			return fmt.Errorf("lot %q has %s reserved, release reservations first: %w",
				l.LotNumber, l.Reserved.String(), ErrInvalidState)
		}
		l.Status = status
		return nil
	})
}

func (s *lotService) CancelLot(ctx context.Context, id int, reason string) (*StockLot, error) {
	return s.mutate(ctx, id, func(l *StockLot) error {
		if l.Status == LotCancelled {
			return &InvalidLotStateError{LotNumber: l.LotNumber, Status: l.Status, Op: "cancel"}
		}
		if !l.Current.IsZero() {
			return fmt.Errorf("lot %q still holds %s, adjust it out before cancelling: %w",
				l.LotNumber, l.Current.String(), ErrInvalidState)
		}
		l.Status = LotCancelled
		if reason != "" {
			if l.Note != "" {
				l.Note += "; "
			}
			l.Note += "cancelled: " + reason
		}
		return nil
	})
}

func (s *lotService) mutate(ctx context.Context, id int, fn func(*StockLot) error) (*StockLot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := lockLotTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(l); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, "UPDATE stock_lots SET status = $2, note = $3, updated_at = now() WHERE id = $1",
		l.ID, l.Status, l.Note)
	if err != nil {
		return nil, fmt.Errorf("failed to update lot %q: %w", l.LotNumber, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return l, nil
}

func (s *lotService) MarkExpiredLots(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stock_lots
		SET status = 'EXPIRED', updated_at = now()
		WHERE status = 'ACTIVE'
		  AND expiry_date IS NOT NULL AND expiry_date < CURRENT_DATE
		  AND reserved_quantity = 0
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired lots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
