package main

import (
	"context"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// Seeds master data for local development: two warehouses with a couple of
// locations each. Safe to re-run, every insert is an upsert.

func main() {
	_ = godotenv.Load()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		url = "postgres://postgres@localhost:5432/inventory?sslmode=disable"
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	warehouses := []struct{ code, name, address string }{
		{"WH-MAIN", "Main Warehouse", "1 Distribution Way"},
		{"WH-COLD", "Cold Storage", "2 Refrigeration Rd"},
	}
	for _, w := range warehouses {
		_, err := tx.Exec(ctx, `
			INSERT INTO warehouses (code, name, address)
			VALUES ($1, $2, $3)
			ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address
		`, w.code, w.name, w.address)
		if err != nil {
			log.Fatalf("failed to seed warehouse %s: %v", w.code, err)
		}
	}

	locations := []struct{ warehouse, code, name string }{
		{"WH-MAIN", "A-01", "Aisle A shelf 1"},
		{"WH-MAIN", "A-02", "Aisle A shelf 2"},
		{"WH-MAIN", "DOCK", "Receiving dock"},
		{"WH-COLD", "C-01", "Chiller 1"},
		{"WH-COLD", "F-01", "Freezer 1"},
	}
	for _, l := range locations {
		_, err := tx.Exec(ctx, `
			INSERT INTO stock_locations (warehouse_id, code, name)
			SELECT id, $2, $3 FROM warehouses WHERE code = $1
			ON CONFLICT (warehouse_id, code) DO UPDATE SET name = EXCLUDED.name
		`, l.warehouse, l.code, l.name)
		if err != nil {
			log.Fatalf("failed to seed location %s/%s: %v", l.warehouse, l.code, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("failed to commit: %v", err)
	}
	log.Printf("Seeded %d warehouses and %d locations.", len(warehouses), len(locations))
}
