package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"minimercado/backend/internal/allocator"
	"minimercado/backend/internal/domain"
)

func TestSaveSettlementDeductsLotsTransactionally(t *testing.T) {
	databaseURL := os.Getenv("MINIMERCADO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MINIMERCADO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-settle-it-%d", stamp)
	saleID := fmt.Sprintf("sale-settle-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	expiry := time.Now().UTC().AddDate(0, 0, 30).Truncate(24 * time.Hour)
	created, err := s.CreateProduct(ctx, domain.Product{
		ID:         productID,
		MarketID:   "market-it",
		Name:       "Producto Settle IT",
		Unit:       domain.UnitCount,
		PriceCents: 25000,
		CostCents:  20000,
		Lots: []domain.Lot{
			{ID: "lot-settle-a", Quantity: 4, ExpiryDate: &expiry, ReceivedAt: time.Now().UTC()},
			{ID: "lot-settle-b", Quantity: 6, ReceivedAt: time.Now().UTC()},
		},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if created.Stock != 10 {
		t.Fatalf("expected stock 10, got %d", created.Stock)
	}

	remaining, shortfall := allocator.Allocate(created.Lots, 5)
	if shortfall != 0 {
		t.Fatalf("unexpected shortfall %d", shortfall)
	}
	created.Lots = remaining

	sale := domain.Sale{
		ID:            saleID,
		MarketID:      "market-it",
		Date:          time.Now().UTC(),
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItem{
			{ProductID: productID, Name: created.Name, PriceCents: 25000, Quantity: 5, SubtotalCents: 125000, Unit: domain.UnitCount},
		},
		TotalCents:    125000,
		SubtotalCents: 103306,
		TaxCents:      21694,
	}

	if _, err := s.SaveSettlement(ctx, sale, []domain.Product{*created}); err != nil {
		t.Fatalf("save settlement: %v", err)
	}

	after, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 5 {
		t.Fatalf("expected stock 5 after settlement, got %d", after.Stock)
	}
	if after.Stock != allocator.TotalQuantity(after.Lots) {
		t.Fatalf("stock %d diverged from lot total %d", after.Stock, allocator.TotalQuantity(after.Lots))
	}
	// The dated lot drains first, so the undated lot keeps 5 of its 6 units.
	if len(after.Lots) != 1 || after.Lots[0].ID != "lot-settle-b" || after.Lots[0].Quantity != 5 {
		t.Fatalf("expected only lot-settle-b with 5 units, got %+v", after.Lots)
	}

	saved, err := s.GetSale(ctx, saleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if saved.TotalCents != 125000 || len(saved.Items) != 1 {
		t.Fatalf("unexpected persisted sale: %+v", saved)
	}
}
