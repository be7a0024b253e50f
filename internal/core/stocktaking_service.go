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

// StocktakingService runs physical count sessions. Creating a session
// snapshots the system quantities at one (warehouse, location); counts are
// recorded against the snapshot; completing the session turns the differences
// into stock documents that are approved on the spot, so corrections reach
// lots, balances, and the audit trail through the normal movement path.
type StocktakingService interface {
	// CreateStocktaking opens a session and snapshots a detail row for every
	// product with a balance at the location.
	CreateStocktaking(ctx context.Context, warehouseID, stockLocationID int, note string) (*Stocktaking, error)
	GetStocktaking(ctx context.Context, id int) (*Stocktaking, error)
	GetStocktakings(ctx context.Context, warehouseID int) ([]Stocktaking, error)

	// RecordCount stores the counted quantity for a product, adding a detail
	// row for products found that were not in the snapshot.
	RecordCount(ctx context.Context, stocktakingID, productUnitID int, actualQty decimal.Decimal) (*StocktakingDetail, error)

	// CompleteStocktaking books the differences: surpluses as an approved
	// inbound document, shortages as an approved outbound document. The
	// session moves to COMPLETING while documents book and the id of each
	// booked document is recorded immediately, so a completion that fails
	// halfway can be called again and only books what is still missing.
	CompleteStocktaking(ctx context.Context, id int) (*Stocktaking, error)
	CancelStocktaking(ctx context.Context, id int) (*Stocktaking, error)
}

type stocktakingService struct {
	pool      *pgxpool.Pool
	documents DocumentService
	numbers   NumberGenerator
	log       zerolog.Logger
}

func NewStocktakingService(pool *pgxpool.Pool, documents DocumentService, numbers NumberGenerator, log zerolog.Logger) StocktakingService {
	return &stocktakingService{
		pool:      pool,
		documents: documents,
		numbers:   numbers,
		log:       log.With().Str("component", "stocktaking").Logger(),
	}
}

const stocktakingColumns = `id, stocktaking_number, warehouse_id, stock_location_id,
	       status, note, inbound_document_id, outbound_document_id, created_at, completed_at`

func scanStocktaking(row pgx.Row) (*Stocktaking, error) {
	var st Stocktaking
	err := row.Scan(&st.ID, &st.StocktakingNumber, &st.WarehouseID, &st.StockLocationID,
		&st.Status, &st.Note, &st.InboundDocumentID, &st.OutboundDocumentID,
		&st.CreatedAt, &st.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *stocktakingService) CreateStocktaking(ctx context.Context, warehouseID, stockLocationID int, note string) (*Stocktaking, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	number := "ST-" + s.numbers.ReferenceNumber()
	st, err := scanStocktaking(tx.QueryRow(ctx, `
		INSERT INTO stocktakings (stocktaking_number, warehouse_id, stock_location_id, status, note)
		VALUES ($1, $2, $3, 'IN_PROGRESS', $4)
		RETURNING `+stocktakingColumns, number, warehouseID, stockLocationID, note))
	if err != nil {
		return nil, fmt.Errorf("failed to create stocktaking: %w", err)
	}

	// Snapshot system quantities now: counts are judged against stock as it
	// stood when the session opened.
	_, err = tx.Exec(ctx, `
		INSERT INTO stocktaking_details (stocktaking_id, product_unit_id, system_quantity, actual_quantity)
		SELECT $1, product_unit_id, quantity, 0
		FROM stock_balances
		WHERE warehouse_id = $2 AND stock_location_id = $3 AND quantity > 0
	`, st.ID, warehouseID, stockLocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot balances: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetStocktaking(ctx, st.ID)
}

func (s *stocktakingService) GetStocktaking(ctx context.Context, id int) (*Stocktaking, error) {
	st, err := scanStocktaking(s.pool.QueryRow(ctx,
		"SELECT "+stocktakingColumns+" FROM stocktakings WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stocktaking %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch stocktaking: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, stocktaking_id, product_unit_id, system_quantity, actual_quantity
		FROM stocktaking_details
		WHERE stocktaking_id = $1
		ORDER BY product_unit_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query stocktaking details: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d StocktakingDetail
		if err := rows.Scan(&d.ID, &d.StocktakingID, &d.ProductUnitID, &d.SystemQty, &d.ActualQty); err != nil {
			return nil, fmt.Errorf("failed to scan stocktaking detail: %w", err)
		}
		st.Details = append(st.Details, d)
	}
	return st, rows.Err()
}

func (s *stocktakingService) GetStocktakings(ctx context.Context, warehouseID int) ([]Stocktaking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+stocktakingColumns+`
		FROM stocktakings
		WHERE ($1 = 0 OR warehouse_id = $1)
		ORDER BY created_at DESC, id DESC
	`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stocktakings: %w", err)
	}
	defer rows.Close()

	var sessions []Stocktaking
	for rows.Next() {
		st, err := scanStocktaking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stocktaking: %w", err)
		}
		sessions = append(sessions, *st)
	}
	return sessions, rows.Err()
}

func (s *stocktakingService) RecordCount(ctx context.Context, stocktakingID, productUnitID int, actualQty decimal.Decimal) (*StocktakingDetail, error) {
	if actualQty.Sign() < 0 {
		return nil, fmt.Errorf("counted quantity cannot be negative: %w", ErrInvalidQuantity)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockInProgressTx(ctx, tx, stocktakingID); err != nil {
		return nil, err
	}

	var d StocktakingDetail
	err = tx.QueryRow(ctx, `
		INSERT INTO stocktaking_details (stocktaking_id, product_unit_id, system_quantity, actual_quantity)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT DO NOTHING
		RETURNING id, stocktaking_id, product_unit_id, system_quantity, actual_quantity
	`, stocktakingID, productUnitID, actualQty).
		Scan(&d.ID, &d.StocktakingID, &d.ProductUnitID, &d.SystemQty, &d.ActualQty)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, `
			UPDATE stocktaking_details SET actual_quantity = $3
			WHERE stocktaking_id = $1 AND product_unit_id = $2
			RETURNING id, stocktaking_id, product_unit_id, system_quantity, actual_quantity
		`, stocktakingID, productUnitID, actualQty).
			Scan(&d.ID, &d.StocktakingID, &d.ProductUnitID, &d.SystemQty, &d.ActualQty)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record count: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &d, nil
}

func (s *stocktakingService) lockInProgressTx(ctx context.Context, tx pgx.Tx, id int) (*Stocktaking, error) {
	st, err := scanStocktaking(tx.QueryRow(ctx,
		"SELECT "+stocktakingColumns+" FROM stocktakings WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stocktaking %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock stocktaking: %w", err)
	}
	if st.Status != StocktakingInProgress {
		return nil, fmt.Errorf("stocktaking %d is %s: %w", id, st.Status, ErrInvalidState)
	}
	return st, nil
}

// completionLockClass namespaces the advisory lock completion takes per
// session id. The booking sequence spans several transactions, which a row
// lock cannot cover.
const completionLockClass = 7453201

// CompleteStocktaking books corrections through the document workflow. The
// session flips to COMPLETING before anything books and each booked document
// id is recorded as soon as its transaction commits, so a failed shortage
// booking leaves the session retryable without re-booking the surplus.
// Concurrent completions of the same session serialize on an advisory lock.
func (s *stocktakingService) CompleteStocktaking(ctx context.Context, id int) (*Stocktaking, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1, $2)", completionLockClass, id); err != nil {
		return nil, fmt.Errorf("failed to take completion lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1, $2)", completionLockClass, id); err != nil {
			s.log.Warn().Err(err).Int("stocktaking_id", id).Msg("failed to release completion lock")
		}
	}()

	if err := s.claimCompletion(ctx, conn, id); err != nil {
		return nil, err
	}

	// Counts are frozen now: RecordCount requires IN_PROGRESS.
	st, err := s.GetStocktaking(ctx, id)
	if err != nil {
		return nil, err
	}

	var surplus, shortage []DocumentLineInput
	for i := range st.Details {
		diff := st.Details[i].Difference()
		switch {
		case diff.Sign() > 0:
			surplus = append(surplus, DocumentLineInput{
				ProductUnitID: st.Details[i].ProductUnitID,
				Quantity:      diff,
			})
		case diff.Sign() < 0:
			shortage = append(shortage, DocumentLineInput{
				ProductUnitID: st.Details[i].ProductUnitID,
				Quantity:      diff.Neg(),
			})
		}
	}

	note := "stocktaking " + st.StocktakingNumber
	if len(surplus) > 0 && st.InboundDocumentID == nil {
		doc, err := s.bookCorrection(ctx, DocumentInbound, st, surplus, note+" surplus")
		if err != nil {
			return nil, err
		}
		if _, err := conn.Exec(ctx,
			"UPDATE stocktakings SET inbound_document_id = $2 WHERE id = $1", id, doc.ID); err != nil {
			return nil, fmt.Errorf("failed to record surplus document: %w", err)
		}
	}
	if len(shortage) > 0 && st.OutboundDocumentID == nil {
		doc, err := s.bookCorrection(ctx, DocumentOutbound, st, shortage, note+" shortage")
		if err != nil {
			return nil, err
		}
		if _, err := conn.Exec(ctx,
			"UPDATE stocktakings SET outbound_document_id = $2 WHERE id = $1", id, doc.ID); err != nil {
			return nil, fmt.Errorf("failed to record shortage document: %w", err)
		}
	}

	if _, err := conn.Exec(ctx,
		"UPDATE stocktakings SET status = 'COMPLETED', completed_at = now() WHERE id = $1", id); err != nil {
		return nil, fmt.Errorf("failed to complete stocktaking: %w", err)
	}
	s.log.Info().
		Int("stocktaking_id", id).
		Str("stocktaking_number", st.StocktakingNumber).
		Int("surplus_lines", len(surplus)).
		Int("shortage_lines", len(shortage)).
		Msg("stocktaking completed")
	return s.GetStocktaking(ctx, id)
}

// claimCompletion moves the session from IN_PROGRESS to COMPLETING, or lets a
// COMPLETING session through so an interrupted completion can resume.
func (s *stocktakingService) claimCompletion(ctx context.Context, conn *pgxpool.Conn, id int) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := scanStocktaking(tx.QueryRow(ctx,
		"SELECT "+stocktakingColumns+" FROM stocktakings WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("stocktaking %d: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to lock stocktaking: %w", err)
	}
	switch st.Status {
	case StocktakingInProgress:
		if _, err := tx.Exec(ctx,
			"UPDATE stocktakings SET status = 'COMPLETING' WHERE id = $1", id); err != nil {
			return fmt.Errorf("failed to mark stocktaking completing: %w", err)
		}
	case StocktakingCompleting:
		// Resuming a completion that failed partway through.
	default:
		return fmt.Errorf("stocktaking %d is %s: %w", id, st.Status, ErrInvalidState)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *stocktakingService) bookCorrection(ctx context.Context, docType DocumentType, st *Stocktaking, lines []DocumentLineInput, note string) (*StockDocument, error) {
	doc, err := s.documents.CreateDocument(ctx, docType, st.WarehouseID, st.StockLocationID, note)
	if err != nil {
		return nil, err
	}
	if _, err := s.documents.AddLines(ctx, doc.ID, lines); err != nil {
		// Leave the empty draft cancelled rather than dangling.
		s.cancelDraft(ctx, doc.ID)
		return nil, err
	}
	if _, err := s.documents.ApproveDocument(ctx, doc.ID); err != nil {
		s.cancelDraft(ctx, doc.ID)
		return nil, err
	}
	return doc, nil
}

func (s *stocktakingService) cancelDraft(ctx context.Context, docID int) {
	if _, err := s.documents.CancelDocument(ctx, docID); err != nil {
		s.log.Warn().Err(err).Int("document_id", docID).Msg("failed to cancel correction draft")
	}
}

func (s *stocktakingService) CancelStocktaking(ctx context.Context, id int) (*Stocktaking, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockInProgressTx(ctx, tx, id); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, "UPDATE stocktakings SET status = 'CANCELLED' WHERE id = $1", id); err != nil {
		return nil, fmt.Errorf("failed to cancel stocktaking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetStocktaking(ctx, id)
}
