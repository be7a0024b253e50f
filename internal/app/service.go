package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"inventory-service/internal/core"
)

// ApplicationService is the single interface UI adapters call. It decouples
// presentation from business logic. Implementations must contain no
// fmt.Println, no ANSI codes, and no display logic of any kind.
type ApplicationService interface {
	// Masters.
	CreateWarehouse(ctx context.Context, code, name, address string) (*core.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]core.Warehouse, error)
	CreateLocation(ctx context.Context, warehouseID int, code, name string) (*core.StockLocation, error)
	ListLocations(ctx context.Context, warehouseID int) ([]core.StockLocation, error)

	// Stock state.
	GetBalances(ctx context.Context, warehouseID int) ([]core.StockBalance, error)
	GetLots(ctx context.Context, productUnitID, warehouseID, stockLocationID int) ([]core.StockLot, error)
	GetAvailability(ctx context.Context, productUnitID, warehouseID, stockLocationID int) (*core.AvailableQuantityInfo, error)
	GetNearExpiryLots(ctx context.Context, warehouseID int) ([]core.StockLot, error)
	GetExpiredLots(ctx context.Context, warehouseID int) ([]core.StockLot, error)
	GetLotStatistics(ctx context.Context, warehouseID int) (*core.LotStatistics, error)
	CheckConsistency(ctx context.Context) ([]core.BalanceDrift, error)

	// Movements.
	ReceiveStock(ctx context.Context, in core.LotInboundInput) (*core.StockLot, error)
	ShipStockFEFO(ctx context.Context, req core.OutboundRequest) ([]core.LotReservation, error)
	TransferStock(ctx context.Context, productUnitID, fromWarehouseID, fromLocationID, toWarehouseID, toLocationID int, qty decimal.Decimal, note string) error
	AdjustStock(ctx context.Context, productUnitID, warehouseID, stockLocationID int, newQty decimal.Decimal, note string) (*core.InventoryTransaction, error)
	ListTransactions(ctx context.Context, productUnitID, warehouseID, stockLocationID int) ([]core.InventoryTransaction, error)

	// Documents.
	CreateDocument(ctx context.Context, docType core.DocumentType, warehouseID, stockLocationID int, note string) (*core.StockDocument, error)
	GetDocument(ctx context.Context, id int) (*core.StockDocument, error)
	ListDocuments(ctx context.Context, warehouseID int) ([]core.StockDocument, error)
	AddDocumentLine(ctx context.Context, documentID int, in core.DocumentLineInput) (*core.StockDocumentLine, error)
	UpdateDocumentLine(ctx context.Context, documentID, lineID int, in core.DocumentLineInput) (*core.StockDocumentLine, error)
	DeleteDocumentLine(ctx context.Context, documentID, lineID int) error
	ApproveDocument(ctx context.Context, id int) (*core.StockDocument, error)
	CancelDocument(ctx context.Context, id int) (*core.StockDocument, error)
	RejectDocument(ctx context.Context, id int, reason string) (*core.StockDocument, error)

	// Stocktaking.
	CreateStocktaking(ctx context.Context, warehouseID, stockLocationID int, note string) (*core.Stocktaking, error)
	GetStocktaking(ctx context.Context, id int) (*core.Stocktaking, error)
	RecordCount(ctx context.Context, stocktakingID, productUnitID int, actualQty decimal.Decimal) (*core.StocktakingDetail, error)
	CompleteStocktaking(ctx context.Context, id int) (*core.Stocktaking, error)
	CancelStocktaking(ctx context.Context, id int) (*core.Stocktaking, error)
}

type service struct {
	warehouses     core.WarehouseService
	lots           core.LotService
	balances       core.BalanceService
	reservations   core.ReservationService
	inventory      core.InventoryService
	documents      core.DocumentService
	stocktakings   core.StocktakingService
	nearExpiryDays int
}

// New wires the core services over one pool and returns the facade.
func New(pool *pgxpool.Pool, log zerolog.Logger, nearExpiryDays int) ApplicationService {
	numbers := core.NewNumberGenerator()
	warehouses := core.NewWarehouseService(pool)
	lots := core.NewLotService(pool, numbers)
	balances := core.NewBalanceService(pool)
	reservations := core.NewReservationService(pool, balances, log)
	inventory := core.NewInventoryService(pool, lots, balances, reservations, numbers)
	documents := core.NewDocumentService(pool, lots, balances, reservations, numbers, log)
	stocktakings := core.NewStocktakingService(pool, documents, numbers, log)

	return &service{
		warehouses:     warehouses,
		lots:           lots,
		balances:       balances,
		reservations:   reservations,
		inventory:      inventory,
		documents:      documents,
		stocktakings:   stocktakings,
		nearExpiryDays: nearExpiryDays,
	}
}

func (s *service) CreateWarehouse(ctx context.Context, code, name, address string) (*core.Warehouse, error) {
	return s.warehouses.CreateWarehouse(ctx, code, name, address)
}

func (s *service) ListWarehouses(ctx context.Context) ([]core.Warehouse, error) {
	return s.warehouses.GetWarehouses(ctx)
}

func (s *service) CreateLocation(ctx context.Context, warehouseID int, code, name string) (*core.StockLocation, error) {
	return s.warehouses.CreateLocation(ctx, warehouseID, code, name)
}

func (s *service) ListLocations(ctx context.Context, warehouseID int) ([]core.StockLocation, error) {
	return s.warehouses.GetLocations(ctx, warehouseID)
}

func (s *service) GetBalances(ctx context.Context, warehouseID int) ([]core.StockBalance, error) {
	return s.balances.GetBalances(ctx, warehouseID)
}

func (s *service) GetLots(ctx context.Context, productUnitID, warehouseID, stockLocationID int) ([]core.StockLot, error) {
	return s.lots.GetLots(ctx, productUnitID, warehouseID, stockLocationID)
}

func (s *service) GetAvailability(ctx context.Context, productUnitID, warehouseID, stockLocationID int) (*core.AvailableQuantityInfo, error) {
	return s.reservations.GetAvailableQuantityInfo(ctx, productUnitID, warehouseID, stockLocationID)
}

func (s *service) GetNearExpiryLots(ctx context.Context, warehouseID int) ([]core.StockLot, error) {
	return s.lots.GetNearExpiryLots(ctx, warehouseID, s.nearExpiryDays)
}

func (s *service) GetExpiredLots(ctx context.Context, warehouseID int) ([]core.StockLot, error) {
	return s.lots.GetExpiredLots(ctx, warehouseID)
}

func (s *service) GetLotStatistics(ctx context.Context, warehouseID int) (*core.LotStatistics, error) {
	return s.lots.GetLotStatistics(ctx, warehouseID, s.nearExpiryDays)
}

func (s *service) CheckConsistency(ctx context.Context) ([]core.BalanceDrift, error) {
	return s.balances.CheckConsistency(ctx)
}

func (s *service) ReceiveStock(ctx context.Context, in core.LotInboundInput) (*core.StockLot, error) {
	return s.inventory.ProcessInbound(ctx, in)
}

func (s *service) ShipStockFEFO(ctx context.Context, req core.OutboundRequest) ([]core.LotReservation, error) {
	return s.inventory.ProcessOutboundFEFO(ctx, req)
}

func (s *service) TransferStock(ctx context.Context, productUnitID, fromWarehouseID, fromLocationID, toWarehouseID, toLocationID int, qty decimal.Decimal, note string) error {
	return s.inventory.ProcessTransfer(ctx, productUnitID, fromWarehouseID, fromLocationID, toWarehouseID, toLocationID, qty, note)
}

func (s *service) AdjustStock(ctx context.Context, productUnitID, warehouseID, stockLocationID int, newQty decimal.Decimal, note string) (*core.InventoryTransaction, error) {
	return s.inventory.ProcessAdjustment(ctx, productUnitID, warehouseID, stockLocationID, newQty, note)
}

func (s *service) ListTransactions(ctx context.Context, productUnitID, warehouseID, stockLocationID int) ([]core.InventoryTransaction, error) {
	return s.inventory.GetTransactions(ctx, productUnitID, warehouseID, stockLocationID)
}

func (s *service) CreateDocument(ctx context.Context, docType core.DocumentType, warehouseID, stockLocationID int, note string) (*core.StockDocument, error) {
	return s.documents.CreateDocument(ctx, docType, warehouseID, stockLocationID, note)
}

func (s *service) GetDocument(ctx context.Context, id int) (*core.StockDocument, error) {
	return s.documents.GetDocument(ctx, id)
}

func (s *service) ListDocuments(ctx context.Context, warehouseID int) ([]core.StockDocument, error) {
	return s.documents.GetDocuments(ctx, warehouseID)
}

func (s *service) AddDocumentLine(ctx context.Context, documentID int, in core.DocumentLineInput) (*core.StockDocumentLine, error) {
	return s.documents.AddLine(ctx, documentID, in)
}

func (s *service) UpdateDocumentLine(ctx context.Context, documentID, lineID int, in core.DocumentLineInput) (*core.StockDocumentLine, error) {
	return s.documents.UpdateLine(ctx, documentID, lineID, in)
}

func (s *service) DeleteDocumentLine(ctx context.Context, documentID, lineID int) error {
	return s.documents.DeleteLine(ctx, documentID, lineID)
}

func (s *service) ApproveDocument(ctx context.Context, id int) (*core.StockDocument, error) {
	return s.documents.ApproveDocument(ctx, id)
}

func (s *service) CancelDocument(ctx context.Context, id int) (*core.StockDocument, error) {
	return s.documents.CancelDocument(ctx, id)
}

func (s *service) RejectDocument(ctx context.Context, id int, reason string) (*core.StockDocument, error) {
	return s.documents.RejectDocument(ctx, id, reason)
}

func (s *service) CreateStocktaking(ctx context.Context, warehouseID, stockLocationID int, note string) (*core.Stocktaking, error) {
	return s.stocktakings.CreateStocktaking(ctx, warehouseID, stockLocationID, note)
}

func (s *service) GetStocktaking(ctx context.Context, id int) (*core.Stocktaking, error) {
	return s.stocktakings.GetStocktaking(ctx, id)
}

func (s *service) RecordCount(ctx context.Context, stocktakingID, productUnitID int, actualQty decimal.Decimal) (*core.StocktakingDetail, error) {
	return s.stocktakings.RecordCount(ctx, stocktakingID, productUnitID, actualQty)
}

func (s *service) CompleteStocktaking(ctx context.Context, id int) (*core.Stocktaking, error) {
	return s.stocktakings.CompleteStocktaking(ctx, id)
}

func (s *service) CancelStocktaking(ctx context.Context, id int) (*core.Stocktaking, error) {
	return s.stocktakings.CancelStocktaking(ctx, id)
}
