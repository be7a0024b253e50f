package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotStatus is the lifecycle state of a stock lot.
type LotStatus string

const (
	LotActive     LotStatus = "ACTIVE"
	LotExpired    LotStatus = "EXPIRED"
	LotDepleted   LotStatus = "DEPLETED"
	LotQuarantine LotStatus = "QUARANTINE"
	LotCancelled  LotStatus = "CANCELLED"
)

// StockLot is a traceable batch of a product at one (warehouse, location),
// with its own expiry date and quantity ledger. Lot numbers are unique
// system-wide and bound permanently to one (product, warehouse, location)
// triple.
type StockLot struct {
	ID                  int             `json:"id"`
	LotNumber           string          `json:"lot_number"`
	ProductUnitID       int             `json:"product_unit_id"`
	WarehouseID         int             `json:"warehouse_id"`
	StockLocationID     int             `json:"stock_location_id"`
	ExpiryDate          *time.Time      `json:"expiry_date,omitempty"`
	ManufacturingDate   *time.Time      `json:"manufacturing_date,omitempty"`
	SupplierName        string          `json:"supplier_name,omitempty"`
	SupplierBatchNumber string          `json:"supplier_batch_number,omitempty"`
	Initial             decimal.Decimal `json:"initial_quantity"`
	Current             decimal.Decimal `json:"current_quantity"`
	Reserved            decimal.Decimal `json:"reserved_quantity"`
	Available           decimal.Decimal `json:"available_quantity"` // = Current - Reserved
	Status              LotStatus       `json:"status"`
	Note                string          `json:"note,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           *time.Time      `json:"updated_at,omitempty"`
}

// IsExpired reports whether the lot's expiry date has passed. Lots without an
// expiry date never expire.
func (l *StockLot) IsExpired(now time.Time) bool {
	return l.ExpiryDate != nil && l.ExpiryDate.Before(now)
}

// IsNearExpiry reports whether the lot expires within the given window and is
// not already expired.
func (l *StockLot) IsNearExpiry(now time.Time, days int) bool {
	if l.ExpiryDate == nil || l.IsExpired(now) {
		return false
	}
	return l.ExpiryDate.Before(now.AddDate(0, 0, days))
}

// reserve earmarks quantity for an unapproved outbound. Fails when the lot is
// not ACTIVE or the request exceeds what is available.
func (l *StockLot) reserve(qty decimal.Decimal) error {
	if l.Status != LotActive {
		return &InvalidLotStateError{LotNumber: l.LotNumber, Status: l.Status, Op: "reserve"}
	}
	if l.Available.LessThan(qty) {
		return &InsufficientStockError{ProductUnitID: l.ProductUnitID, Requested: qty, Available: l.Available}
	}
	l.Reserved = l.Reserved.Add(qty)
	l.Available = l.Current.Sub(l.Reserved)
	return nil
}

// release gives back previously reserved quantity.
func (l *StockLot) release(qty decimal.Decimal) error {
	if l.Reserved.LessThan(qty) {
		return &QuantityUnderflowError{LotNumber: l.LotNumber, Field: "reserved", Have: l.Reserved, Want: qty}
	}
	l.Reserved = l.Reserved.Sub(qty)
	l.Available = l.Current.Sub(l.Reserved)
	return nil
}

// consume removes reserved quantity from physical stock. The lot flips to
// DEPLETED when current reaches zero.
func (l *StockLot) consume(qty decimal.Decimal) error {
	if l.Status != LotActive {
		return &InvalidLotStateError{LotNumber: l.LotNumber, Status: l.Status, Op: "consume"}
	}
	if l.Current.LessThan(qty) {
		return &QuantityUnderflowError{LotNumber: l.LotNumber, Field: "current", Have: l.Current, Want: qty}
	}
	if l.Reserved.LessThan(qty) {
		return &QuantityUnderflowError{LotNumber: l.LotNumber, Field: "reserved", Have: l.Reserved, Want: qty}
	}
	l.Current = l.Current.Sub(qty)
	l.Reserved = l.Reserved.Sub(qty)
	l.Available = l.Current.Sub(l.Reserved)
	if l.Current.IsZero() {
		l.Status = LotDepleted
	}
	return nil
}
