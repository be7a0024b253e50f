package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WarehouseService manages warehouse and stock location master data.
type WarehouseService interface {
	CreateWarehouse(ctx context.Context, code, name, address string) (*Warehouse, error)
	GetWarehouse(ctx context.Context, id int) (*Warehouse, error)
	GetWarehouseByCode(ctx context.Context, code string) (*Warehouse, error)
	GetWarehouses(ctx context.Context) ([]Warehouse, error)
	DeactivateWarehouse(ctx context.Context, id int) error

	CreateLocation(ctx context.Context, warehouseID int, code, name string) (*StockLocation, error)
	GetLocation(ctx context.Context, id int) (*StockLocation, error)
	GetLocations(ctx context.Context, warehouseID int) ([]StockLocation, error)
	DeactivateLocation(ctx context.Context, id int) error
}

type warehouseService struct {
	pool *pgxpool.Pool
}

func NewWarehouseService(pool *pgxpool.Pool) WarehouseService {
	return &warehouseService{pool: pool}
}

func (s *warehouseService) CreateWarehouse(ctx context.Context, code, name, address string) (*Warehouse, error) {
	if code == "" || name == "" {
		return nil, fmt.Errorf("warehouse code and name are required")
	}
	var w Warehouse
	err := s.pool.QueryRow(ctx, `
		INSERT INTO warehouses (code, name, address)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO NOTHING
		RETURNING id, code, name, address, is_active, created_at
	`, code, name, address).Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.IsActive, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("warehouse code %q already exists: %w", code, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create warehouse: %w", err)
	}
	return &w, nil
}

func (s *warehouseService) GetWarehouse(ctx context.Context, id int) (*Warehouse, error) {
	var w Warehouse
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, address, is_active, created_at
		FROM warehouses WHERE id = $1
	`, id).Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.IsActive, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("warehouse %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch warehouse: %w", err)
	}
	return &w, nil
}

func (s *warehouseService) GetWarehouseByCode(ctx context.Context, code string) (*Warehouse, error) {
	var w Warehouse
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, address, is_active, created_at
		FROM warehouses WHERE code = $1
	`, code).Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.IsActive, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("warehouse code %q: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch warehouse: %w", err)
	}
	return &w, nil
}

func (s *warehouseService) GetWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, address, is_active, created_at
		FROM warehouses
		WHERE is_active = true
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (s *warehouseService) DeactivateWarehouse(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx, "UPDATE warehouses SET is_active = false WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate warehouse: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("warehouse %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *warehouseService) CreateLocation(ctx context.Context, warehouseID int, code, name string) (*StockLocation, error) {
	if code == "" || name == "" {
		return nil, fmt.Errorf("location code and name are required")
	}
	var loc StockLocation
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stock_locations (warehouse_id, code, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (warehouse_id, code) DO NOTHING
		RETURNING id, warehouse_id, code, name, is_active, created_at
	`, warehouseID, code, name).Scan(&loc.ID, &loc.WarehouseID, &loc.Code, &loc.Name, &loc.IsActive, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("location code %q already exists in warehouse %d: %w", code, warehouseID, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create location: %w", err)
	}
	return &loc, nil
}

func (s *warehouseService) GetLocation(ctx context.Context, id int) (*StockLocation, error) {
	var loc StockLocation
	err := s.pool.QueryRow(ctx, `
		SELECT id, warehouse_id, code, name, is_active, created_at
		FROM stock_locations WHERE id = $1
	`, id).Scan(&loc.ID, &loc.WarehouseID, &loc.Code, &loc.Name, &loc.IsActive, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stock location %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch location: %w", err)
	}
	return &loc, nil
}

func (s *warehouseService) GetLocations(ctx context.Context, warehouseID int) ([]StockLocation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, warehouse_id, code, name, is_active, created_at
		FROM stock_locations
		WHERE warehouse_id = $1 AND is_active = true
		ORDER BY code
	`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locations []StockLocation
	for rows.Next() {
		var loc StockLocation
		if err := rows.Scan(&loc.ID, &loc.WarehouseID, &loc.Code, &loc.Name, &loc.IsActive, &loc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

func (s *warehouseService) DeactivateLocation(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx, "UPDATE stock_locations SET is_active = false WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock location %d: %w", id, ErrNotFound)
	}
	return nil
}
