package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Warehouse represents a physical storage site.
type Warehouse struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// StockLocation is a named position inside a warehouse (zone, shelf, bin).
type StockLocation struct {
	ID          int       `json:"id"`
	WarehouseID int       `json:"warehouse_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// TransactionType classifies an inventory transaction.
type TransactionType string

const (
	TransactionImport TransactionType = "IMPORT"
	TransactionExport TransactionType = "EXPORT"
	TransactionAdjust TransactionType = "ADJUST"
)

// InventoryTransaction is one quantity movement against a
// (product, warehouse, location) triple. It is the audit trail: deleting a
// transaction reverses its balance impact rather than re-deriving from lots.
type InventoryTransaction struct {
	ID              int             `json:"id"`
	Type            TransactionType `json:"type"`
	ProductUnitID   int             `json:"product_unit_id"`
	WarehouseID     int             `json:"warehouse_id"`
	StockLocationID int             `json:"stock_location_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	TransactionDate time.Time       `json:"transaction_date"`
	ReferenceNumber string          `json:"reference_number"`
	Note            string          `json:"note"`
	StockLotID      *int            `json:"stock_lot_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
}

// StockBalance is the materialized aggregate per (product, warehouse,
// location). Lots remain the source of truth for FEFO; the balance exists for
// cheap reads and is cross-checked against lot sums during reservation.
type StockBalance struct {
	ID              int             `json:"id"`
	ProductUnitID   int             `json:"product_unit_id"`
	WarehouseID     int             `json:"warehouse_id"`
	StockLocationID int             `json:"stock_location_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Reserved        decimal.Decimal `json:"reserved_quantity"`
	Available       decimal.Decimal `json:"available_quantity"` // = Quantity - Reserved
	LastUpdatedAt   time.Time       `json:"last_updated_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

// DocumentType is the direction of a stock document.
type DocumentType string

const (
	DocumentInbound  DocumentType = "INBOUND"
	DocumentOutbound DocumentType = "OUTBOUND"
)

// DocumentStatus is the workflow state of a stock document.
//
//	DRAFT → APPROVED (terminal)
//	DRAFT → CANCELLED (terminal)
type DocumentStatus string

const (
	DocumentDraft     DocumentStatus = "DRAFT"
	DocumentApproved  DocumentStatus = "APPROVED"
	DocumentCancelled DocumentStatus = "CANCELLED"
)

// StockDocument is a draft-then-approve container for stock movements of one
// direction at one (warehouse, location).
type StockDocument struct {
	ID              int                 `json:"id"`
	Type            DocumentType        `json:"type"`
	Status          DocumentStatus      `json:"status"`
	WarehouseID     int                 `json:"warehouse_id"`
	StockLocationID int                 `json:"stock_location_id"`
	ReferenceNumber string              `json:"reference_number"`
	Note            string              `json:"note"`
	Lines           []StockDocumentLine `json:"lines,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	ApprovedAt      *time.Time          `json:"approved_at,omitempty"`
}

// StockDocumentLine is one product movement on a document. For OUTBOUND lines
// ReservedLotInfo carries the JSON-encoded reservation receipt captured at
// reservation time; approval and cancellation replay it verbatim instead of
// re-running allocation against stock state that may have moved on.
type StockDocumentLine struct {
	ID                  int             `json:"id"`
	DocumentID          int             `json:"document_id"`
	ProductUnitID       int             `json:"product_unit_id"`
	Quantity            decimal.Decimal `json:"quantity"`
	LotNumber           string          `json:"lot_number,omitempty"`
	ExpiryDate          *time.Time      `json:"expiry_date,omitempty"`
	ManufacturingDate   *time.Time      `json:"manufacturing_date,omitempty"`
	SupplierName        string          `json:"supplier_name,omitempty"`
	SupplierBatchNumber string          `json:"supplier_batch_number,omitempty"`
	ReservedLotInfo     string          `json:"reserved_lot_info,omitempty"`
}

// DocumentLineInput is the caller-facing shape for adding a line.
type DocumentLineInput struct {
	ProductUnitID       int
	Quantity            decimal.Decimal
	LotNumber           string
	ExpiryDate          *time.Time
	ManufacturingDate   *time.Time
	SupplierName        string
	SupplierBatchNumber string
}

// AvailableQuantityInfo reports availability from both bookkeeping sides so a
// shortage message can cite exact numbers. Advisory only: the authoritative
// check repeats inside the locked reservation transaction.
type AvailableQuantityInfo struct {
	FromBalance  decimal.Decimal `json:"available_from_balance"`
	FromLots     decimal.Decimal `json:"available_from_lots"`
	NumberOfLots int             `json:"number_of_lots"`
}

// StocktakingStatus is the workflow state of a physical count.
type StocktakingStatus string

const (
	StocktakingInProgress StocktakingStatus = "IN_PROGRESS"
	// StocktakingCompleting marks a session whose correction documents are
	// being booked. Counts are frozen; completion can be retried.
	StocktakingCompleting StocktakingStatus = "COMPLETING"
	StocktakingCompleted  StocktakingStatus = "COMPLETED"
	StocktakingCancelled  StocktakingStatus = "CANCELLED"
)

// Stocktaking is a physical count session at one (warehouse, location).
// Completing it turns counted differences into approved stock documents so the
// corrections flow through the same audit trail as any other movement.
type Stocktaking struct {
	ID                int               `json:"id"`
	StocktakingNumber string            `json:"stocktaking_number"`
	WarehouseID       int               `json:"warehouse_id"`
	StockLocationID   int               `json:"stock_location_id"`
	Status            StocktakingStatus `json:"status"`
	Note              string            `json:"note"`
	// Correction documents booked so far; set as each one commits so a
	// retried completion skips directions already booked.
	InboundDocumentID  *int                `json:"inbound_document_id,omitempty"`
	OutboundDocumentID *int                `json:"outbound_document_id,omitempty"`
	Details            []StocktakingDetail `json:"details,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

// StocktakingDetail is one product's counted quantity against the system
// quantity snapshotted when the session was created.
type StocktakingDetail struct {
	ID            int             `json:"id"`
	StocktakingID int             `json:"stocktaking_id"`
	ProductUnitID int             `json:"product_unit_id"`
	SystemQty     decimal.Decimal `json:"system_quantity"`
	ActualQty     decimal.Decimal `json:"actual_quantity"`
}

// Difference is the signed correction the count implies: positive means
// surplus, negative means shortage.
func (d *StocktakingDetail) Difference() decimal.Decimal {
	return d.ActualQty.Sub(d.SystemQty)
}

// BalanceDrift is one balance row whose quantities disagree with the sum of
// its lots. Produced by the consistency check.
type BalanceDrift struct {
	ProductUnitID   int             `json:"product_unit_id"`
	WarehouseID     int             `json:"warehouse_id"`
	StockLocationID int             `json:"stock_location_id"`
	BalanceQty      decimal.Decimal `json:"balance_quantity"`
	LotQty          decimal.Decimal `json:"lot_quantity"`
	BalanceReserved decimal.Decimal `json:"balance_reserved"`
	LotReserved     decimal.Decimal `json:"lot_reserved"`
}
