package core

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// LotReservation is one entry of a reservation receipt: how much was taken
// from which lot. The receipt is persisted on the document line and replayed
// verbatim at consume/release time.
type LotReservation struct {
	LotID       int             `json:"lot_id"`
	LotNumber   string          `json:"lot_number"`
	ReservedQty decimal.Decimal `json:"reserved_quantity"`
}

// EncodeReceipt serializes a reservation receipt for storage on a document
// line.
func EncodeReceipt(receipt []LotReservation) (string, error) {
	b, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to encode reservation receipt: %w", err)
	}
	return string(b), nil
}

// DecodeReceipt parses a stored reservation receipt. An empty string decodes
// to an empty receipt.
func DecodeReceipt(s string) ([]LotReservation, error) {
	if s == "" {
		return nil, nil
	}
	var receipt []LotReservation
	if err := json.Unmarshal([]byte(s), &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode reservation receipt: %w", err)
	}
	return receipt, nil
}

// sortLotsFEFO orders lots for First-Expire-First-Out allocation: expiry date
// ascending with undated lots after all dated ones, ties broken by creation
// time ascending so the oldest stock moves first.
func sortLotsFEFO(lots []StockLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.ExpiryDate == nil:
			return false
		case b.ExpiryDate == nil:
			return true
		case a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
	})
}

// allocateFEFO produces a per-lot allocation plan for the required quantity.
// Candidates must already be filtered to ACTIVE lots with available > 0; the
// function re-sorts them FEFO and walks greedily, taking
// min(remaining, available) from each lot.
//
// The plan is all-or-nothing: when total availability falls short nothing is
// allocated and an InsufficientStockError carries the exact numbers.
// A non-positive required quantity yields an empty plan.
func allocateFEFO(productUnitID int, lots []StockLot, required decimal.Decimal) ([]LotReservation, error) {
	if required.Sign() <= 0 {
		return nil, nil
	}

	total := decimal.Zero
	for i := range lots {
		total = total.Add(lots[i].Available)
	}
	if total.LessThan(required) {
		return nil, &InsufficientStockError{ProductUnitID: productUnitID, Requested: required, Available: total}
	}

	sortLotsFEFO(lots)

	var plan []LotReservation
	remaining := required
	for i := range lots {
		if remaining.Sign() <= 0 {
			break
		}
		take := decimal.Min(remaining, lots[i].Available)
		if take.Sign() <= 0 {
			continue
		}
		plan = append(plan, LotReservation{
			LotID:       lots[i].ID,
			LotNumber:   lots[i].LotNumber,
			ReservedQty: take,
		})
		remaining = remaining.Sub(take)
	}
	return plan, nil
}
