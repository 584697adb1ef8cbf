package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"minimercado/backend/internal/domain"
	"minimercado/backend/internal/store"
)

func TestCreateProductComputesStockFromLots(t *testing.T) {
	s := NewEmpty()
	created, err := s.CreateProduct(context.Background(), domain.Product{
		MarketID:   "market1",
		Name:       "Azucar 1kg",
		Unit:       domain.UnitCount,
		PriceCents: 95000,
		Lots: []domain.Lot{
			{ID: "lot-1", Quantity: 10, ReceivedAt: time.Now().UTC()},
			{ID: "lot-2", Quantity: 5, ReceivedAt: time.Now().UTC()},
		},
	})
	if err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}
	if created.Stock != 15 {
		t.Fatalf("expected stock 15, got %d", created.Stock)
	}
	if created.ID == "" {
		t.Fatalf("expected a generated id")
	}
}

func TestGetProductReturnsIsolatedCopy(t *testing.T) {
	s := NewSeeded()
	first, err := s.GetProduct(context.Background(), "prod-yerba-01")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}

	first.Lots[0].Quantity = 0
	first.Name = "mutated"

	second, err := s.GetProduct(context.Background(), "prod-yerba-01")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if second.Name == "mutated" || second.Lots[0].Quantity == 0 {
		t.Fatalf("store state leaked through a returned copy: %+v", second)
	}
}

func TestSaveSettlementPersistsProductsAndSale(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	product, err := s.GetProduct(ctx, "prod-leche-01")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	product.Lots[0].Quantity -= 3

	sale := domain.Sale{
		ID:            "sale-test-1",
		MarketID:      "market1",
		Date:          time.Now().UTC(),
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItem{
			{ProductID: product.ID, Name: product.Name, PriceCents: product.PriceCents, Quantity: 3, SubtotalCents: 3 * product.PriceCents, Unit: product.Unit},
		},
		TotalCents: 3 * product.PriceCents,
	}

	saved, err := s.SaveSettlement(ctx, sale, []domain.Product{*product})
	if err != nil {
		t.Fatalf("SaveSettlement failed: %v", err)
	}
	if saved.ID != "sale-test-1" {
		t.Fatalf("unexpected sale id %q", saved.ID)
	}

	after, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if after.Stock != 45 {
		t.Fatalf("expected stock 45 after deducting 3 from 48, got %d", after.Stock)
	}

	if _, err := s.SaveSettlement(ctx, sale, nil); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation on duplicate sale id, got %v", err)
	}
}

func TestMarkSalePaidRequiresCurrentAccount(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	sale := domain.Sale{
		ID:            "sale-cash-1",
		MarketID:      "market1",
		Date:          time.Now().UTC(),
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleItem{{ProductID: "prod-yerba-01", Quantity: 1, PriceCents: 400000, SubtotalCents: 400000}},
		TotalCents:    400000,
	}
	if _, err := s.SaveSettlement(ctx, sale, nil); err != nil {
		t.Fatalf("SaveSettlement failed: %v", err)
	}

	if _, err := s.MarkSalePaid(ctx, "sale-cash-1", time.Now()); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for non current-account sale, got %v", err)
	}

	debt := sale
	debt.ID = "sale-debt-1"
	debt.PaymentMethod = domain.PaymentCurrentAccount
	debt.CustomerName = "Perez"
	if _, err := s.SaveSettlement(ctx, debt, nil); err != nil {
		t.Fatalf("SaveSettlement failed: %v", err)
	}

	paid, err := s.MarkSalePaid(ctx, "sale-debt-1", time.Now())
	if err != nil {
		t.Fatalf("MarkSalePaid failed: %v", err)
	}
	if paid.PaymentMethod != domain.PaymentPaidCurrentAccount || paid.PaidDate == nil {
		t.Fatalf("expected paid_current_account with a paid date, got %+v", paid)
	}
}

func TestFindOpenOpeningMovementReturnsLatestOpen(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	closedOpening := domain.CashMovement{
		ID: "mov-1", Type: domain.MovementOpening, User: "vendedor", MarketID: "market1",
		Date: time.Now().UTC().Add(-2 * time.Hour), Status: domain.MovementStatusClosed,
	}
	activeOpening := domain.CashMovement{
		ID: "mov-2", Type: domain.MovementOpening, User: "vendedor", MarketID: "market1",
		Date: time.Now().UTC().Add(-time.Hour), Status: domain.MovementStatusOpen,
	}
	for _, movement := range []domain.CashMovement{closedOpening, activeOpening} {
		if _, err := s.AppendCashMovement(ctx, movement); err != nil {
			t.Fatalf("AppendCashMovement failed: %v", err)
		}
	}

	found, err := s.FindOpenOpeningMovement(ctx, "vendedor")
	if err != nil {
		t.Fatalf("FindOpenOpeningMovement failed: %v", err)
	}
	if found.ID != "mov-2" {
		t.Fatalf("expected mov-2, got %s", found.ID)
	}

	if _, err := s.FindOpenOpeningMovement(ctx, "otheruser"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for user with no movements, got %v", err)
	}
}

func TestImportSnapshotReplacesCollections(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	snapshot, err := s.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot failed: %v", err)
	}
	seededCount := len(snapshot.Products)
	if seededCount == 0 {
		t.Fatalf("expected seeded products in the export")
	}

	replacement := domain.BackupSnapshot{
		Products: []domain.Product{{
			ID: "prod-only", MarketID: "market1", Name: "Solo", Unit: domain.UnitCount,
			PriceCents: 100, Lots: []domain.Lot{{ID: "lot-only", Quantity: 1, ReceivedAt: time.Now().UTC()}},
		}},
	}
	if err := s.ImportSnapshot(ctx, replacement); err != nil {
		t.Fatalf("ImportSnapshot failed: %v", err)
	}

	products, err := s.ListProducts(ctx, "market1")
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}
	if len(products) != 1 || products[0].ID != "prod-only" {
		t.Fatalf("expected only the imported product, got %+v", products)
	}

	sales, err := s.ListSales(ctx, "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ListSales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected sales cleared by import, got %d", len(sales))
	}
}
