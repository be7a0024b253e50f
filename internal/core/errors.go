package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Domain error categories. Service methods wrap these so callers can branch
// with errors.Is regardless of the specific message.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidQuantity   = errors.New("invalid quantity")
)

// InsufficientStockError reports a shortage with the exact numbers so the
// caller can present actionable feedback instead of a generic failure.
type InsufficientStockError struct {
	ProductUnitID int
	Requested     decimal.Decimal
	Available     decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product unit %d: requested %s, available %s",
		e.ProductUnitID, e.Requested.String(), e.Available.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// LotConflictError reports a lot number already bound to a different
// (product, warehouse, location) triple. Lot numbers are global identifiers.
type LotConflictError struct {
	LotNumber       string
	ProductUnitID   int
	WarehouseID     int
	StockLocationID int
}

func (e *LotConflictError) Error() string {
	return fmt.Sprintf("lot number %q is already used by product unit %d at warehouse %d location %d",
		e.LotNumber, e.ProductUnitID, e.WarehouseID, e.StockLocationID)
}

func (e *LotConflictError) Unwrap() error { return ErrConflict }

// InvalidLotStateError reports an operation attempted on a lot that is not
// ACTIVE.
type InvalidLotStateError struct {
	LotNumber string
	Status    LotStatus
	Op        string
}

func (e *InvalidLotStateError) Error() string {
	return fmt.Sprintf("cannot %s lot %q: status is %s, not ACTIVE", e.Op, e.LotNumber, e.Status)
}

func (e *InvalidLotStateError) Unwrap() error { return ErrInvalidState }

// QuantityUnderflowError reports a release or consume that would drive a lot
// counter negative.
type QuantityUnderflowError struct {
	LotNumber string
	Field     string // "current" or "reserved"
	Have      decimal.Decimal
	Want      decimal.Decimal
}

func (e *QuantityUnderflowError) Error() string {
	return fmt.Sprintf("lot %q has %s quantity %s, cannot remove %s",
		e.LotNumber, e.Field, e.Have.String(), e.Want.String())
}

func (e *QuantityUnderflowError) Unwrap() error { return ErrInvalidQuantity }
