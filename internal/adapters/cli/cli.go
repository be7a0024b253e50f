package cli

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"inventory-service/internal/app"
	"inventory-service/internal/core"
)

// Run executes a one-shot CLI command and exits.
// args is os.Args[1:] — the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string) {
	if len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "warehouses", "wh":
		warehouses, err := svc.ListWarehouses(ctx)
		if err != nil {
			log.Fatalf("Failed to list warehouses: %v", err)
		}
		printWarehouses(warehouses)

	case "warehouse-add":
		requireArgs(args, 3, "warehouse-add CODE NAME [ADDRESS]")
		address := ""
		if len(args) > 3 {
			address = args[3]
		}
		w, err := svc.CreateWarehouse(ctx, args[1], args[2], address)
		if err != nil {
			log.Fatalf("Failed to create warehouse: %v", err)
		}
		fmt.Printf("Created warehouse %d (%s)\n", w.ID, w.Code)

	case "locations", "loc":
		requireArgs(args, 2, "locations WAREHOUSE_ID")
		locations, err := svc.ListLocations(ctx, mustInt(args[1], "WAREHOUSE_ID"))
		if err != nil {
			log.Fatalf("Failed to list locations: %v", err)
		}
		printLocations(locations)

	case "location-add":
		requireArgs(args, 4, "location-add WAREHOUSE_ID CODE NAME")
		l, err := svc.CreateLocation(ctx, mustInt(args[1], "WAREHOUSE_ID"), args[2], args[3])
		if err != nil {
			log.Fatalf("Failed to create location: %v", err)
		}
		fmt.Printf("Created location %d (%s)\n", l.ID, l.Code)

	case "balances", "bal":
		warehouseID := 0
		if len(args) > 1 {
			warehouseID = mustInt(args[1], "WAREHOUSE_ID")
		}
		balances, err := svc.GetBalances(ctx, warehouseID)
		if err != nil {
			log.Fatalf("Failed to list balances: %v", err)
		}
		printBalances(balances)

	case "lots":
		requireArgs(args, 2, "lots PRODUCT_UNIT_ID [WAREHOUSE_ID] [LOCATION_ID]")
		lots, err := svc.GetLots(ctx, mustInt(args[1], "PRODUCT_UNIT_ID"),
			optInt(args, 2), optInt(args, 3))
		if err != nil {
			log.Fatalf("Failed to list lots: %v", err)
		}
		printLots(lots)

	case "availability", "avail":
		requireArgs(args, 4, "availability PRODUCT_UNIT_ID WAREHOUSE_ID LOCATION_ID")
		info, err := svc.GetAvailability(ctx, mustInt(args[1], "PRODUCT_UNIT_ID"),
			mustInt(args[2], "WAREHOUSE_ID"), mustInt(args[3], "LOCATION_ID"))
		if err != nil {
			log.Fatalf("Failed to check availability: %v", err)
		}
		fmt.Printf("Available (balance): %s\n", info.FromBalance)
		fmt.Printf("Available (lots):    %s across %d lot(s)\n", info.FromLots, info.NumberOfLots)

	case "near-expiry":
		lots, err := svc.GetNearExpiryLots(ctx, optInt(args, 1))
		if err != nil {
			log.Fatalf("Failed to list near-expiry lots: %v", err)
		}
		printLots(lots)

	case "expired":
		lots, err := svc.GetExpiredLots(ctx, optInt(args, 1))
		if err != nil {
			log.Fatalf("Failed to list expired lots: %v", err)
		}
		printLots(lots)

	case "lot-stats":
		st, err := svc.GetLotStatistics(ctx, optInt(args, 1))
		if err != nil {
			log.Fatalf("Failed to compute lot statistics: %v", err)
		}
		printLotStatistics(st)

	case "receive", "in":
		requireArgs(args, 5, "receive PRODUCT_UNIT_ID WAREHOUSE_ID LOCATION_ID QTY [LOT_NUMBER] [EXPIRY yyyy-mm-dd]")
		in := core.LotInboundInput{
			ProductUnitID:   mustInt(args[1], "PRODUCT_UNIT_ID"),
			WarehouseID:     mustInt(args[2], "WAREHOUSE_ID"),
			StockLocationID: mustInt(args[3], "LOCATION_ID"),
			Quantity:        mustDecimal(args[4], "QTY"),
		}
		if len(args) > 5 {
			in.LotNumber = args[5]
		}
		if len(args) > 6 {
			in.ExpiryDate = mustDate(args[6], "EXPIRY")
		}
		lot, err := svc.ReceiveStock(ctx, in)
		if err != nil {
			log.Fatalf("Failed to receive stock: %v", err)
		}
		fmt.Printf("Received %s into lot %s (current %s)\n", in.Quantity, lot.LotNumber, lot.Current)

	case "ship", "out":
		requireArgs(args, 5, "ship PRODUCT_UNIT_ID WAREHOUSE_ID LOCATION_ID QTY")
		plan, err := svc.ShipStockFEFO(ctx, core.OutboundRequest{
			ProductUnitID:   mustInt(args[1], "PRODUCT_UNIT_ID"),
			WarehouseID:     mustInt(args[2], "WAREHOUSE_ID"),
			StockLocationID: mustInt(args[3], "LOCATION_ID"),
			Quantity:        mustDecimal(args[4], "QTY"),
		})
		if err != nil {
			log.Fatalf("Failed to ship stock: %v", err)
		}
		for _, r := range plan {
			fmt.Printf("Shipped %s from lot %s\n", r.ReservedQty, r.LotNumber)
		}

	case "transfer":
		requireArgs(args, 7, "transfer PRODUCT_UNIT_ID FROM_WH FROM_LOC TO_WH TO_LOC QTY")
		err := svc.TransferStock(ctx, mustInt(args[1], "PRODUCT_UNIT_ID"),
			mustInt(args[2], "FROM_WH"), mustInt(args[3], "FROM_LOC"),
			mustInt(args[4], "TO_WH"), mustInt(args[5], "TO_LOC"),
			mustDecimal(args[6], "QTY"), "cli transfer")
		if err != nil {
			log.Fatalf("Failed to transfer stock: %v", err)
		}
		fmt.Println("Transfer complete.")

	case "adjust":
		requireArgs(args, 5, "adjust PRODUCT_UNIT_ID WAREHOUSE_ID LOCATION_ID NEW_QTY [NOTE]")
		note := ""
		if len(args) > 5 {
			note = args[5]
		}
		t, err := svc.AdjustStock(ctx, mustInt(args[1], "PRODUCT_UNIT_ID"),
			mustInt(args[2], "WAREHOUSE_ID"), mustInt(args[3], "LOCATION_ID"),
			mustDecimal(args[4], "NEW_QTY"), note)
		if err != nil {
			log.Fatalf("Failed to adjust stock: %v", err)
		}
		fmt.Printf("Adjusted to %s (transaction %d)\n", t.Quantity, t.ID)

	case "transactions", "txns":
		txns, err := svc.ListTransactions(ctx, optInt(args, 1), optInt(args, 2), optInt(args, 3))
		if err != nil {
			log.Fatalf("Failed to list transactions: %v", err)
		}
		printTransactions(txns)

	case "doc-create":
		requireArgs(args, 4, "doc-create INBOUND|OUTBOUND WAREHOUSE_ID LOCATION_ID [NOTE]")
		note := ""
		if len(args) > 4 {
			note = args[4]
		}
		d, err := svc.CreateDocument(ctx, core.DocumentType(args[1]),
			mustInt(args[2], "WAREHOUSE_ID"), mustInt(args[3], "LOCATION_ID"), note)
		if err != nil {
			log.Fatalf("Failed to create document: %v", err)
		}
		fmt.Printf("Created %s document %d (%s)\n", d.Type, d.ID, d.ReferenceNumber)

	case "doc-add":
		requireArgs(args, 4, "doc-add DOCUMENT_ID PRODUCT_UNIT_ID QTY [LOT_NUMBER] [EXPIRY yyyy-mm-dd]")
		in := core.DocumentLineInput{
			ProductUnitID: mustInt(args[2], "PRODUCT_UNIT_ID"),
			Quantity:      mustDecimal(args[3], "QTY"),
		}
		if len(args) > 4 {
			in.LotNumber = args[4]
		}
		if len(args) > 5 {
			in.ExpiryDate = mustDate(args[5], "EXPIRY")
		}
		line, err := svc.AddDocumentLine(ctx, mustInt(args[1], "DOCUMENT_ID"), in)
		if err != nil {
			log.Fatalf("Failed to add line: %v", err)
		}
		fmt.Printf("Added line %d\n", line.ID)

	case "doc-update":
		requireArgs(args, 5, "doc-update DOCUMENT_ID LINE_ID PRODUCT_UNIT_ID QTY")
		in := core.DocumentLineInput{
			ProductUnitID: mustInt(args[3], "PRODUCT_UNIT_ID"),
			Quantity:      mustDecimal(args[4], "QTY"),
		}
		line, err := svc.UpdateDocumentLine(ctx, mustInt(args[1], "DOCUMENT_ID"), mustInt(args[2], "LINE_ID"), in)
		if err != nil {
			log.Fatalf("Failed to update line: %v", err)
		}
		fmt.Printf("Updated line %d\n", line.ID)

	case "doc-del":
		requireArgs(args, 3, "doc-del DOCUMENT_ID LINE_ID")
		if err := svc.DeleteDocumentLine(ctx, mustInt(args[1], "DOCUMENT_ID"), mustInt(args[2], "LINE_ID")); err != nil {
			log.Fatalf("Failed to delete line: %v", err)
		}
		fmt.Println("Line deleted.")

	case "doc-approve":
		requireArgs(args, 2, "doc-approve DOCUMENT_ID")
		d, err := svc.ApproveDocument(ctx, mustInt(args[1], "DOCUMENT_ID"))
		if err != nil {
			log.Fatalf("Failed to approve document: %v", err)
		}
		fmt.Printf("Document %d approved.\n", d.ID)

	case "doc-cancel":
		requireArgs(args, 2, "doc-cancel DOCUMENT_ID")
		d, err := svc.CancelDocument(ctx, mustInt(args[1], "DOCUMENT_ID"))
		if err != nil {
			log.Fatalf("Failed to cancel document: %v", err)
		}
		fmt.Printf("Document %d cancelled.\n", d.ID)

	case "doc-reject":
		requireArgs(args, 3, "doc-reject DOCUMENT_ID REASON")
		d, err := svc.RejectDocument(ctx, mustInt(args[1], "DOCUMENT_ID"), args[2])
		if err != nil {
			log.Fatalf("Failed to reject document: %v", err)
		}
		fmt.Printf("Document %d rejected.\n", d.ID)

	case "docs":
		docs, err := svc.ListDocuments(ctx, optInt(args, 1))
		if err != nil {
			log.Fatalf("Failed to list documents: %v", err)
		}
		printDocuments(docs)

	case "doc":
		requireArgs(args, 2, "doc DOCUMENT_ID")
		d, err := svc.GetDocument(ctx, mustInt(args[1], "DOCUMENT_ID"))
		if err != nil {
			log.Fatalf("Failed to fetch document: %v", err)
		}
		printDocument(d)

	case "stocktake-create":
		requireArgs(args, 3, "stocktake-create WAREHOUSE_ID LOCATION_ID [NOTE]")
		note := ""
		if len(args) > 3 {
			note = args[3]
		}
		st, err := svc.CreateStocktaking(ctx, mustInt(args[1], "WAREHOUSE_ID"), mustInt(args[2], "LOCATION_ID"), note)
		if err != nil {
			log.Fatalf("Failed to create stocktaking: %v", err)
		}
		fmt.Printf("Created stocktaking %d (%s) with %d product(s)\n", st.ID, st.StocktakingNumber, len(st.Details))

	case "stocktake-count":
		requireArgs(args, 4, "stocktake-count STOCKTAKING_ID PRODUCT_UNIT_ID QTY")
		d, err := svc.RecordCount(ctx, mustInt(args[1], "STOCKTAKING_ID"),
			mustInt(args[2], "PRODUCT_UNIT_ID"), mustDecimal(args[3], "QTY"))
		if err != nil {
			log.Fatalf("Failed to record count: %v", err)
		}
		fmt.Printf("Counted %s (system %s, difference %s)\n", d.ActualQty, d.SystemQty, d.Difference())

	case "stocktake-complete":
		requireArgs(args, 2, "stocktake-complete STOCKTAKING_ID")
		st, err := svc.CompleteStocktaking(ctx, mustInt(args[1], "STOCKTAKING_ID"))
		if err != nil {
			log.Fatalf("Failed to complete stocktaking: %v", err)
		}
		fmt.Printf("Stocktaking %d completed.\n", st.ID)

	case "stocktake":
		requireArgs(args, 2, "stocktake STOCKTAKING_ID")
		st, err := svc.GetStocktaking(ctx, mustInt(args[1], "STOCKTAKING_ID"))
		if err != nil {
			log.Fatalf("Failed to fetch stocktaking: %v", err)
		}
		printStocktaking(st)

	case "check":
		drifts, err := svc.CheckConsistency(ctx)
		if err != nil {
			log.Fatalf("Consistency check failed: %v", err)
		}
		printDrifts(drifts)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
	}
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		log.Fatalf("Usage: app %s", usage)
	}
}

func mustInt(s, name string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("%s must be an integer, got %q", name, s)
	}
	return v
}

func optInt(args []string, i int) int {
	if len(args) <= i {
		return 0
	}
	return mustInt(args[i], "argument")
}

func mustDecimal(s, name string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("%s must be a number, got %q", name, s)
	}
	return v
}

func mustDate(s, name string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		log.Fatalf("%s must be yyyy-mm-dd, got %q", name, s)
	}
	return &t
}
