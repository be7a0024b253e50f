package cli

import (
	"fmt"
	"strings"

	"inventory-service/internal/core"
)

func printUsage() {
	fmt.Println(`Usage: app COMMAND [ARGS]

Masters:
  warehouses                                          list warehouses
  warehouse-add CODE NAME [ADDRESS]                   create a warehouse
  locations WAREHOUSE_ID                              list locations
  location-add WAREHOUSE_ID CODE NAME                 create a location

Stock:
  balances [WAREHOUSE_ID]                             list stock balances
  lots PRODUCT [WAREHOUSE_ID] [LOCATION_ID]           list lots for a product
  availability PRODUCT WAREHOUSE_ID LOCATION_ID       show availability
  near-expiry [WAREHOUSE_ID]                          lots expiring soon
  expired [WAREHOUSE_ID]                              expired lots with stock
  lot-stats [WAREHOUSE_ID]                            lot statistics
  check                                               balance/lot consistency check

Movements:
  receive PRODUCT WH LOC QTY [LOT] [EXPIRY]           receive stock into a lot
  ship PRODUCT WH LOC QTY                             ship stock FEFO
  transfer PRODUCT FROM_WH FROM_LOC TO_WH TO_LOC QTY  move stock
  adjust PRODUCT WH LOC NEW_QTY [NOTE]                set absolute quantity
  transactions [PRODUCT] [WH] [LOC]                   movement history

Documents:
  doc-create INBOUND|OUTBOUND WH LOC [NOTE]           open a draft document
  doc-add DOC PRODUCT QTY [LOT] [EXPIRY]              add a line (outbound reserves FEFO)
  doc-update DOC LINE PRODUCT QTY                     rebook a draft line
  doc-del DOC LINE                                    remove a draft line
  doc-approve ID | doc-cancel ID | doc-reject ID WHY  workflow transitions
  docs [WAREHOUSE_ID] | doc ID                        list / show documents

Stocktaking:
  stocktake-create WH LOC [NOTE]                      open a count session
  stocktake-count ID PRODUCT QTY                      record a counted quantity
  stocktake-complete ID | stocktake ID                book differences / show session`)
}

func printWarehouses(warehouses []core.Warehouse) {
	fmt.Println(strings.Repeat("=", 62))
	fmt.Printf("%-4s %-10s %-25s %s\n", "ID", "CODE", "NAME", "ADDRESS")
	fmt.Println(strings.Repeat("-", 62))
	for _, w := range warehouses {
		fmt.Printf("%-4d %-10s %-25s %s\n", w.ID, w.Code, w.Name, w.Address)
	}
	fmt.Println(strings.Repeat("=", 62))
}

func printLocations(locations []core.StockLocation) {
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("%-4s %-6s %-10s %s\n", "ID", "WH", "CODE", "NAME")
	fmt.Println(strings.Repeat("-", 50))
	for _, l := range locations {
		fmt.Printf("%-4d %-6d %-10s %s\n", l.ID, l.WarehouseID, l.Code, l.Name)
	}
	fmt.Println(strings.Repeat("=", 50))
}

func printBalances(balances []core.StockBalance) {
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("%-8s %-4s %-4s %12s %12s %12s\n", "PRODUCT", "WH", "LOC", "QTY", "RESERVED", "AVAILABLE")
	fmt.Println(strings.Repeat("-", 70))
	for _, b := range balances {
		fmt.Printf("%-8d %-4d %-4d %12s %12s %12s\n",
			b.ProductUnitID, b.WarehouseID, b.StockLocationID,
			b.Quantity, b.Reserved, b.Available)
	}
	fmt.Println(strings.Repeat("=", 70))
}

func printLots(lots []core.StockLot) {
	fmt.Println(strings.Repeat("=", 92))
	fmt.Printf("%-20s %-8s %-4s %-4s %-11s %10s %10s %10s %s\n",
		"LOT", "PRODUCT", "WH", "LOC", "EXPIRY", "CURRENT", "RESERVED", "AVAILABLE", "STATUS")
	fmt.Println(strings.Repeat("-", 92))
	for _, l := range lots {
		expiry := "-"
		if l.ExpiryDate != nil {
			expiry = l.ExpiryDate.Format("2006-01-02")
		}
		fmt.Printf("%-20s %-8d %-4d %-4d %-11s %10s %10s %10s %s\n",
			l.LotNumber, l.ProductUnitID, l.WarehouseID, l.StockLocationID,
			expiry, l.Current, l.Reserved, l.Available, l.Status)
	}
	fmt.Println(strings.Repeat("=", 92))
}

func printLotStatistics(st *core.LotStatistics) {
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("%-22s %d\n", "Total lots:", st.TotalLots)
	fmt.Printf("%-22s %d\n", "Active:", st.ActiveLots)
	fmt.Printf("%-22s %d\n", "Expired:", st.ExpiredLots)
	fmt.Printf("%-22s %d\n", "Depleted:", st.DepletedLots)
	fmt.Printf("%-22s %d\n", "Near expiry:", st.NearExpiryLots)
	fmt.Printf("%-22s %s\n", "Total quantity:", st.TotalQuantity)
	fmt.Printf("%-22s %s\n", "Total reserved:", st.TotalReserved)
	fmt.Println(strings.Repeat("=", 40))
}

func printTransactions(txns []core.InventoryTransaction) {
	fmt.Println(strings.Repeat("=", 84))
	fmt.Printf("%-6s %-8s %-8s %-4s %-4s %12s %-12s %s\n",
		"ID", "TYPE", "PRODUCT", "WH", "LOC", "QTY", "DATE", "REFERENCE")
	fmt.Println(strings.Repeat("-", 84))
	for _, t := range txns {
		fmt.Printf("%-6d %-8s %-8d %-4d %-4d %12s %-12s %s\n",
			t.ID, t.Type, t.ProductUnitID, t.WarehouseID, t.StockLocationID,
			t.Quantity, t.TransactionDate.Format("2006-01-02"), t.ReferenceNumber)
	}
	fmt.Println(strings.Repeat("=", 84))
}

func printDocuments(docs []core.StockDocument) {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("%-6s %-9s %-10s %-4s %-4s %-14s %s\n",
		"ID", "TYPE", "STATUS", "WH", "LOC", "REFERENCE", "CREATED")
	fmt.Println(strings.Repeat("-", 72))
	for _, d := range docs {
		fmt.Printf("%-6d %-9s %-10s %-4d %-4d %-14s %s\n",
			d.ID, d.Type, d.Status, d.WarehouseID, d.StockLocationID,
			d.ReferenceNumber, d.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println(strings.Repeat("=", 72))
}

func printDocument(d *core.StockDocument) {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("Document %d  %s  %s  %s\n", d.ID, d.Type, d.Status, d.ReferenceNumber)
	fmt.Printf("Warehouse %d, location %d\n", d.WarehouseID, d.StockLocationID)
	if d.Note != "" {
		fmt.Printf("Note: %s\n", d.Note)
	}
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("%-6s %-8s %12s %-20s %s\n", "LINE", "PRODUCT", "QTY", "LOT", "RESERVED LOTS")
	for _, l := range d.Lines {
		fmt.Printf("%-6d %-8d %12s %-20s %s\n",
			l.ID, l.ProductUnitID, l.Quantity, l.LotNumber, l.ReservedLotInfo)
	}
	fmt.Println(strings.Repeat("=", 72))
}

func printStocktaking(st *core.Stocktaking) {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Stocktaking %d  %s  %s\n", st.ID, st.StocktakingNumber, st.Status)
	fmt.Printf("Warehouse %d, location %d\n", st.WarehouseID, st.StockLocationID)
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("%-8s %12s %12s %12s\n", "PRODUCT", "SYSTEM", "ACTUAL", "DIFFERENCE")
	for _, d := range st.Details {
		fmt.Printf("%-8d %12s %12s %12s\n", d.ProductUnitID, d.SystemQty, d.ActualQty, d.Difference())
	}
	fmt.Println(strings.Repeat("=", 60))
}

func printDrifts(drifts []core.BalanceDrift) {
	if len(drifts) == 0 {
		fmt.Println("Balances and lots are consistent.")
		return
	}
	fmt.Println(strings.Repeat("=", 76))
	fmt.Printf("%-8s %-4s %-4s %12s %12s %12s %12s\n",
		"PRODUCT", "WH", "LOC", "BAL QTY", "LOT QTY", "BAL RSV", "LOT RSV")
	fmt.Println(strings.Repeat("-", 76))
	for _, d := range drifts {
		fmt.Printf("%-8d %-4d %-4d %12s %12s %12s %12s\n",
			d.ProductUnitID, d.WarehouseID, d.StockLocationID,
			d.BalanceQty, d.LotQty, d.BalanceReserved, d.LotReserved)
	}
	fmt.Println(strings.Repeat("=", 76))
}
