package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-ledger/internal/adapter/storage"
	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/core/service"
	"github.com/rl1809/pos-ledger/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
)

func main() {
	mysqlDSN := flag.String("mysql", "", "run against this MySQL DSN instead of an in-memory ledger")
	flag.Parse()

	ctx := context.Background()

	store, err := openStore(ctx, *mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	stock := service.NewStockAdjuster()
	catalog := service.NewCatalogService(store, stock, nil)
	transactions := service.NewTransactionService(store, nil, stock, nil)

	item, err := catalog.CreateItem(ctx, domain.Item{
		Code:     fmt.Sprintf("STRESS-%d", time.Now().UnixNano()),
		Name:     "Stress test item",
		Category: domain.CategoryOther,
		Stock:    initialStock,
		Price:    decimal.NewFromInt(100),
	})
	if err != nil {
		log.Fatalf("failed to create item: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var failCount atomic.Int32
	var mu sync.Mutex
	var created []string

	// Spawn concurrent sales of one unit each
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			id, err := transactions.CreateTransaction(ctx, service.CreateTransactionInput{
				CustomerName: fmt.Sprintf("customer-%d", n),
				InvoiceID:    fmt.Sprintf("STRESS-INV-%d", n),
				Lines:        []service.LineInput{{ItemID: item.ID, Quantity: 1}},
			})
			switch {
			case err == nil:
				successCount.Add(1)
				mu.Lock()
				created = append(created, id)
				mu.Unlock()
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				failCount.Add(1)
				log.Printf("sale %d failed: %v", n, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	after, err := store.GetItem(ctx, item.ID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", successCount.Load())
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Failed:           %d\n", failCount.Load())
	fmt.Printf("Final Stock:      %d\n", after.Stock)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if successCount.Load() == initialStock && after.Stock == 0 {
		fmt.Printf("PASS: exactly %d sales committed, stock depleted to 0\n", initialStock)
	} else {
		fmt.Printf("FAIL: expected %d sales and stock 0, got %d sales and stock %d\n",
			initialStock, successCount.Load(), after.Stock)
	}

	// Deleting every sale must put the stock back where it started.
	for _, id := range created {
		if err := transactions.DeleteTransaction(ctx, id); err != nil {
			log.Printf("delete %s failed: %v", id, err)
		}
	}
	restored, err := store.GetItem(ctx, item.ID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}
	if restored.Stock == initialStock {
		fmt.Printf("PASS: stock restored to %d\n", initialStock)
	} else {
		fmt.Printf("FAIL: expected stock %d after deletes, got %d\n", initialStock, restored.Stock)
	}

	if err := catalog.DeleteItem(ctx, item.ID); err != nil {
		log.Printf("cleanup failed: %v", err)
	}
}

func openStore(ctx context.Context, dsn string) (port.LedgerStore, error) {
	if dsn == "" {
		return storage.NewBadgerAdapter(storage.BadgerOptions{InMemory: true})
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}
