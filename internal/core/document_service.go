package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DocumentService manages the draft-then-approve workflow for stock
// documents. Outbound drafts hold real reservations from the moment a line is
// added: approval ships exactly the reserved lots, cancellation gives them
// back. Inbound drafts stay inert until approval creates the lots.
type DocumentService interface {
	CreateDocument(ctx context.Context, docType DocumentType, warehouseID, stockLocationID int, note string) (*StockDocument, error)
	GetDocument(ctx context.Context, id int) (*StockDocument, error)
	// GetDocuments lists documents newest first; warehouseID 0 means all
	// warehouses.
	GetDocuments(ctx context.Context, warehouseID int) ([]StockDocument, error)

	AddLine(ctx context.Context, documentID int, in DocumentLineInput) (*StockDocumentLine, error)
	// AddLines adds several lines atomically: one failed reservation rolls
	// back every line of the batch.
	AddLines(ctx context.Context, documentID int, ins []DocumentLineInput) ([]StockDocumentLine, error)
	UpdateLine(ctx context.Context, documentID, lineID int, in DocumentLineInput) (*StockDocumentLine, error)
	DeleteLine(ctx context.Context, documentID, lineID int) error

	// ApproveDocument executes the movement: inbound lines become lot receipts,
	// outbound lines consume their reservation receipts. All-or-nothing.
	ApproveDocument(ctx context.Context, id int) (*StockDocument, error)
	// CancelDocument voids a draft, releasing any outbound reservations.
	CancelDocument(ctx context.Context, id int) (*StockDocument, error)
	// RejectDocument is a cancel that records why.
	RejectDocument(ctx context.Context, id int, reason string) (*StockDocument, error)
}

type documentService struct {
	pool         *pgxpool.Pool
	lots         LotService
	balances     BalanceService
	reservations ReservationService
	numbers      NumberGenerator
	log          zerolog.Logger
}

func NewDocumentService(pool *pgxpool.Pool, lots LotService, balances BalanceService,
	reservations ReservationService, numbers NumberGenerator, log zerolog.Logger) DocumentService {
	return &documentService{
		pool:         pool,
		lots:         lots,
		balances:     balances,
		reservations: reservations,
		numbers:      numbers,
		log:          log.With().Str("component", "documents").Logger(),
	}
}

const documentColumns = `id, type, status, warehouse_id, stock_location_id,
	       reference_number, note, created_at, approved_at`

func scanDocument(row pgx.Row) (*StockDocument, error) {
	var d StockDocument
	err := row.Scan(&d.ID, &d.Type, &d.Status, &d.WarehouseID, &d.StockLocationID,
		&d.ReferenceNumber, &d.Note, &d.CreatedAt, &d.ApprovedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

const lineColumns = `id, document_id, product_unit_id, quantity, lot_number,
	       expiry_date, manufacturing_date, supplier_name, supplier_batch_number, reserved_lot_info`

func scanLine(row pgx.Row) (*StockDocumentLine, error) {
	var l StockDocumentLine
	err := row.Scan(&l.ID, &l.DocumentID, &l.ProductUnitID, &l.Quantity, &l.LotNumber,
		&l.ExpiryDate, &l.ManufacturingDate, &l.SupplierName, &l.SupplierBatchNumber, &l.ReservedLotInfo)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ── Creation and reads ────────────────────────────────────────────────────────

func (s *documentService) CreateDocument(ctx context.Context, docType DocumentType, warehouseID, stockLocationID int, note string) (*StockDocument, error) {
	if docType != DocumentInbound && docType != DocumentOutbound {
		return nil, fmt.Errorf("unknown document type %q", docType)
	}
	d, err := scanDocument(s.pool.QueryRow(ctx, `
		INSERT INTO stock_documents (type, status, warehouse_id, stock_location_id, reference_number, note)
		VALUES ($1, 'DRAFT', $2, $3, $4, $5)
		RETURNING `+documentColumns,
		docType, warehouseID, stockLocationID, s.numbers.ReferenceNumber(), note))
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return d, nil
}

func (s *documentService) GetDocument(ctx context.Context, id int) (*StockDocument, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx,
		"SELECT "+documentColumns+" FROM stock_documents WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stock document %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	d.Lines, err = s.loadLines(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *documentService) GetDocuments(ctx context.Context, warehouseID int) ([]StockDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM stock_documents
		WHERE ($1 = 0 OR warehouse_id = $1)
		ORDER BY created_at DESC, id DESC
	`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []StockDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// querier is the subset of pgxpool.Pool and pgx.Tx the read helpers need.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *documentService) loadLines(ctx context.Context, q querier, documentID int) ([]StockDocumentLine, error) {
	rows, err := q.Query(ctx,
		"SELECT "+lineColumns+" FROM stock_document_lines WHERE document_id = $1 ORDER BY id", documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document lines: %w", err)
	}
	defer rows.Close()

	var lines []StockDocumentLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document line: %w", err)
		}
		lines = append(lines, *l)
	}
	return lines, rows.Err()
}

// lockDraftTx locks the document row and verifies it is still editable.
func (s *documentService) lockDraftTx(ctx context.Context, tx pgx.Tx, id int) (*StockDocument, error) {
	d, err := scanDocument(tx.QueryRow(ctx,
		"SELECT "+documentColumns+" FROM stock_documents WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stock document %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock document: %w", err)
	}
	if d.Status != DocumentDraft {
		return nil, fmt.Errorf("document %d is %s, only DRAFT documents can change: %w", id, d.Status, ErrInvalidState)
	}
	return d, nil
}

// ── Line editing ──────────────────────────────────────────────────────────────

func (s *documentService) AddLine(ctx context.Context, documentID int, in DocumentLineInput) (*StockDocumentLine, error) {
	lines, err := s.AddLines(ctx, documentID, []DocumentLineInput{in})
	if err != nil {
		return nil, err
	}
	return &lines[0], nil
}

func (s *documentService) AddLines(ctx context.Context, documentID int, ins []DocumentLineInput) ([]StockDocumentLine, error) {
	if len(ins) == 0 {
		return nil, fmt.Errorf("at least one line is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.lockDraftTx(ctx, tx, documentID)
	if err != nil {
		return nil, err
	}

	lines := make([]StockDocumentLine, 0, len(ins))
	for _, in := range ins {
		line, err := s.insertLineTx(ctx, tx, d, in)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *line)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return lines, nil
}

func (s *documentService) insertLineTx(ctx context.Context, tx pgx.Tx, d *StockDocument, in DocumentLineInput) (*StockDocumentLine, error) {
	if in.Quantity.Sign() <= 0 {
		return nil, fmt.Errorf("line quantity must be positive: %w", ErrInvalidQuantity)
	}

	// Inbound lot numbers are checked on entry so a clash with stock held
	// elsewhere surfaces while the draft is still editable, not at approval.
	if d.Type == DocumentInbound && in.LotNumber != "" {
		err := s.lots.ValidateInboundLotNumberTx(ctx, tx, in.LotNumber,
			in.ProductUnitID, d.WarehouseID, d.StockLocationID)
		if err != nil {
			return nil, err
		}
	}

	reservedLotInfo := ""
	if d.Type == DocumentOutbound {
		receipt, err := s.reservations.ReserveStockTx(ctx, tx, in.ProductUnitID, d.WarehouseID, d.StockLocationID, in.Quantity)
		if err != nil {
			return nil, err
		}
		reservedLotInfo, err = EncodeReceipt(receipt)
		if err != nil {
			return nil, err
		}
	}

	line, err := scanLine(tx.QueryRow(ctx, `
		INSERT INTO stock_document_lines (document_id, product_unit_id, quantity, lot_number,
		                                  expiry_date, manufacturing_date, supplier_name,
		                                  supplier_batch_number, reserved_lot_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+lineColumns,
		d.ID, in.ProductUnitID, in.Quantity, in.LotNumber,
		in.ExpiryDate, in.ManufacturingDate, in.SupplierName,
		in.SupplierBatchNumber, reservedLotInfo))
	if err != nil {
		return nil, fmt.Errorf("failed to insert document line: %w", err)
	}
	return line, nil
}

func (s *documentService) UpdateLine(ctx context.Context, documentID, lineID int, in DocumentLineInput) (*StockDocumentLine, error) {
	if in.Quantity.Sign() <= 0 {
		return nil, fmt.Errorf("line quantity must be positive: %w", ErrInvalidQuantity)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.lockDraftTx(ctx, tx, documentID)
	if err != nil {
		return nil, err
	}
	old, err := s.lockLineTx(ctx, tx, documentID, lineID)
	if err != nil {
		return nil, err
	}

	if d.Type == DocumentInbound && in.LotNumber != "" {
		err := s.lots.ValidateInboundLotNumberTx(ctx, tx, in.LotNumber,
			in.ProductUnitID, d.WarehouseID, d.StockLocationID)
		if err != nil {
			return nil, err
		}
	}

	reservedLotInfo := ""
	if d.Type == DocumentOutbound {
		// Rebook the reservation: give back the old receipt, then reserve the
		// new quantity fresh so FEFO order reflects current stock.
		oldReceipt, err := DecodeReceipt(old.ReservedLotInfo)
		if err != nil {
			return nil, err
		}
		if err := s.reservations.ReleaseReservationTx(ctx, tx, old.ProductUnitID, d.WarehouseID, d.StockLocationID, oldReceipt); err != nil {
			return nil, err
		}
		receipt, err := s.reservations.ReserveStockTx(ctx, tx, in.ProductUnitID, d.WarehouseID, d.StockLocationID, in.Quantity)
		if err != nil {
			return nil, err
		}
		reservedLotInfo, err = EncodeReceipt(receipt)
		if err != nil {
			return nil, err
		}
	}

	line, err := scanLine(tx.QueryRow(ctx, `
		UPDATE stock_document_lines
		SET product_unit_id = $3, quantity = $4, lot_number = $5, expiry_date = $6,
		    manufacturing_date = $7, supplier_name = $8, supplier_batch_number = $9,
		    reserved_lot_info = $10
		WHERE id = $2 AND document_id = $1
		RETURNING `+lineColumns,
		documentID, lineID, in.ProductUnitID, in.Quantity, in.LotNumber, in.ExpiryDate,
		in.ManufacturingDate, in.SupplierName, in.SupplierBatchNumber, reservedLotInfo))
	if err != nil {
		return nil, fmt.Errorf("failed to update document line: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return line, nil
}

func (s *documentService) DeleteLine(ctx context.Context, documentID, lineID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.lockDraftTx(ctx, tx, documentID)
	if err != nil {
		return err
	}
	line, err := s.lockLineTx(ctx, tx, documentID, lineID)
	if err != nil {
		return err
	}

	if d.Type == DocumentOutbound {
		receipt, err := DecodeReceipt(line.ReservedLotInfo)
		if err != nil {
			return err
		}
		if err := s.reservations.ReleaseReservationTx(ctx, tx, line.ProductUnitID, d.WarehouseID, d.StockLocationID, receipt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, "DELETE FROM stock_document_lines WHERE id = $1", lineID); err != nil {
		return fmt.Errorf("failed to delete document line: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *documentService) lockLineTx(ctx context.Context, tx pgx.Tx, documentID, lineID int) (*StockDocumentLine, error) {
	l, err := scanLine(tx.QueryRow(ctx,
		"SELECT "+lineColumns+" FROM stock_document_lines WHERE id = $1 AND document_id = $2 FOR UPDATE",
		lineID, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("line %d of document %d: %w", lineID, documentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock document line: %w", err)
	}
	return l, nil
}

// ── Workflow transitions ──────────────────────────────────────────────────────

func (s *documentService) ApproveDocument(ctx context.Context, id int) (*StockDocument, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.lockDraftTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	lines, err := s.loadLines(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("document %d has no lines: %w", id, ErrInvalidState)
	}

	for i := range lines {
		switch d.Type {
		case DocumentInbound:
			err = s.approveInboundLineTx(ctx, tx, d, &lines[i])
		case DocumentOutbound:
			err = s.approveOutboundLineTx(ctx, tx, d, &lines[i])
		}
		if err != nil {
			return nil, err
		}
	}

	d, err = scanDocument(tx.QueryRow(ctx, `
		UPDATE stock_documents SET status = 'APPROVED', approved_at = now()
		WHERE id = $1
		RETURNING `+documentColumns, id))
	if err != nil {
		return nil, fmt.Errorf("failed to mark document approved: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	d.Lines = lines
	s.log.Info().
		Int("document_id", d.ID).
		Str("type", string(d.Type)).
		Str("reference_number", d.ReferenceNumber).
		Int("lines", len(lines)).
		Msg("document approved")
	return d, nil
}

func (s *documentService) approveInboundLineTx(ctx context.Context, tx pgx.Tx, d *StockDocument, line *StockDocumentLine) error {
	t := &InventoryTransaction{
		Type:            TransactionImport,
		ProductUnitID:   line.ProductUnitID,
		WarehouseID:     d.WarehouseID,
		StockLocationID: d.StockLocationID,
		Quantity:        line.Quantity,
		ReferenceNumber: d.ReferenceNumber,
		Note:            d.Note,
	}
	// Balance row first, lot second: same lock order as reservation.
	if err := s.balances.ApplyTransactionTx(ctx, tx, t); err != nil {
		return err
	}

	lot, err := s.lots.UpsertOnInboundTx(ctx, tx, LotInboundInput{
		LotNumber:           line.LotNumber,
		ProductUnitID:       line.ProductUnitID,
		WarehouseID:         d.WarehouseID,
		StockLocationID:     d.StockLocationID,
		Quantity:            line.Quantity,
		ExpiryDate:          line.ExpiryDate,
		ManufacturingDate:   line.ManufacturingDate,
		SupplierName:        line.SupplierName,
		SupplierBatchNumber: line.SupplierBatchNumber,
	})
	if err != nil {
		return err
	}
	t.StockLotID = &lot.ID
	return insertTransactionTx(ctx, tx, t)
}

func (s *documentService) approveOutboundLineTx(ctx context.Context, tx pgx.Tx, d *StockDocument, line *StockDocumentLine) error {
	receipt, err := DecodeReceipt(line.ReservedLotInfo)
	if err != nil {
		return err
	}
	if len(receipt) == 0 {
		return fmt.Errorf("outbound line %d carries no reservation: %w", line.ID, ErrInvalidState)
	}
	if err := s.reservations.ConsumeReservedStockTx(ctx, tx, line.ProductUnitID, d.WarehouseID, d.StockLocationID, receipt); err != nil {
		return err
	}
	for _, r := range receipt {
		lotID := r.LotID
		t := &InventoryTransaction{
			Type:            TransactionExport,
			ProductUnitID:   line.ProductUnitID,
			WarehouseID:     d.WarehouseID,
			StockLocationID: d.StockLocationID,
			Quantity:        r.ReservedQty,
			ReferenceNumber: d.ReferenceNumber,
			Note:            d.Note,
			StockLotID:      &lotID,
		}
		if err := insertTransactionTx(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *documentService) CancelDocument(ctx context.Context, id int) (*StockDocument, error) {
	return s.cancel(ctx, id, "")
}

func (s *documentService) RejectDocument(ctx context.Context, id int, reason string) (*StockDocument, error) {
	return s.cancel(ctx, id, reason)
}

func (s *documentService) cancel(ctx context.Context, id int, reason string) (*StockDocument, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.lockDraftTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	lines, err := s.loadLines(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if d.Type == DocumentOutbound {
		for i := range lines {
			receipt, err := DecodeReceipt(lines[i].ReservedLotInfo)
			if err != nil {
				return nil, err
			}
			if err := s.reservations.ReleaseReservationTx(ctx, tx, lines[i].ProductUnitID, d.WarehouseID, d.StockLocationID, receipt); err != nil {
				return nil, err
			}
		}
	}

	note := d.Note
	if reason != "" {
		if note != "" {
			note += "; "
		}
		note += "rejected: " + reason
	}
	d, err = scanDocument(tx.QueryRow(ctx, `
		UPDATE stock_documents SET status = 'CANCELLED', note = $2
		WHERE id = $1
		RETURNING `+documentColumns, id, note))
	if err != nil {
		return nil, fmt.Errorf("failed to mark document cancelled: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	d.Lines = lines
	s.log.Info().
		Int("document_id", d.ID).
		Str("type", string(d.Type)).
		Str("reference_number", d.ReferenceNumber).
		Str("reason", reason).
		Msg("document cancelled")
	return d, nil
}
