package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"minimercado/backend/internal/allocator"
	"minimercado/backend/internal/cache"
	"minimercado/backend/internal/domain"
	"minimercado/backend/internal/store"
	"minimercado/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopReportCache{}, "market1", time.Minute)
	return svc, repo
}

func adminCtx() context.Context {
	return WithSession(context.Background(), domain.Session{Username: "admin", Role: domain.RoleAdmin})
}

func marketCtx() context.Context {
	return WithSession(context.Background(), domain.Session{Username: "market1", Role: domain.RoleMarket, MarketID: "market1"})
}

func vendedorCtx() context.Context {
	return WithSession(context.Background(), domain.Session{Username: "vendedor", Role: domain.RoleVendedor, MarketID: "market1"})
}

func TestDerivePriceFromCostAndMarkup(t *testing.T) {
	if got := derivePriceCents(10000, 20); got != 12000 {
		t.Fatalf("expected 12000, got %d", got)
	}
	if got := derivePriceCents(33333, 10); got != 36666 {
		t.Fatalf("expected 36666, got %d", got)
	}
}

func TestRecordSaleMaintainsStockInvariant(t *testing.T) {
	svc, _ := newTestService()
	ctx := vendedorCtx()

	before, err := svc.GetProduct(ctx, "prod-leche-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}

	resp, err := svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentDebit,
		Items:         []domain.SaleLineRequest{{ProductID: "prod-leche-01", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	after, err := svc.GetProduct(ctx, "prod-leche-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Stock != before.Stock-3 {
		t.Fatalf("expected stock %d, got %d", before.Stock-3, after.Stock)
	}
	if after.Stock != allocator.TotalQuantity(after.Lots) {
		t.Fatalf("stock %d diverged from lot total %d", after.Stock, allocator.TotalQuantity(after.Lots))
	}

	wantTotal := 3 * before.PriceCents
	if resp.Sale.TotalCents != wantTotal {
		t.Fatalf("expected total %d, got %d", wantTotal, resp.Sale.TotalCents)
	}
	if resp.Sale.SubtotalCents+resp.Sale.TaxCents != resp.Sale.TotalCents {
		t.Fatalf("subtotal %d + tax %d != total %d", resp.Sale.SubtotalCents, resp.Sale.TaxCents, resp.Sale.TotalCents)
	}
}

func TestRecordSaleWeightProductPricedPerGram(t *testing.T) {
	svc, _ := newTestService()
	ctx := vendedorCtx()

	resp, err := svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentDebit,
		Items:         []domain.SaleLineRequest{{ProductID: "prod-queso-01", Quantity: 500}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	// 845000c per kg, 500g.
	if resp.Sale.TotalCents != 422500 {
		t.Fatalf("expected 422500, got %d", resp.Sale.TotalCents)
	}

	after, err := svc.GetProduct(ctx, "prod-queso-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Stock != 4000 {
		t.Fatalf("expected 4000 grams left, got %d", after.Stock)
	}
}

func TestRecordSaleInsufficientStockRejectedBeforeWrites(t *testing.T) {
	svc, _ := newTestService()
	ctx := vendedorCtx()

	before, err := svc.GetProduct(ctx, "prod-gaseosa-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}

	_, err = svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentCash,
		CashReceivedCents: 100000000,
		Items: []domain.SaleLineRequest{
			{ProductID: "prod-gaseosa-01", Quantity: before.Stock + 1},
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	after, err := svc.GetProduct(ctx, "prod-gaseosa-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Stock != before.Stock {
		t.Fatalf("stock changed on a rejected sale: %d -> %d", before.Stock, after.Stock)
	}

	sales, err := svc.ListSales(ctx, "", "")
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale recorded, got %d", len(sales))
	}
}

func TestRecordSaleSkipsUnknownProducts(t *testing.T) {
	svc, _ := newTestService()
	ctx := vendedorCtx()

	resp, err := svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentDebit,
		Items: []domain.SaleLineRequest{
			{ProductID: "prod-leche-01", Quantity: 1},
			{ProductID: "prod-does-not-exist", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if len(resp.Sale.Items) != 1 || resp.Sale.Items[0].ProductID != "prod-leche-01" {
		t.Fatalf("expected the unknown line skipped, got %+v", resp.Sale.Items)
	}
}

func TestRecordSaleCashChange(t *testing.T) {
	svc, _ := newTestService()
	ctx := vendedorCtx()

	resp, err := svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod:     domain.PaymentCash,
		CashReceivedCents: 200000,
		Items:             []domain.SaleLineRequest{{ProductID: "prod-leche-01", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if resp.ChangeCents != 200000-114000 {
		t.Fatalf("expected change %d, got %d", 200000-114000, resp.ChangeCents)
	}

	_, err = svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod:     domain.PaymentCash,
		CashReceivedCents: 100,
		Items:             []domain.SaleLineRequest{{ProductID: "prod-leche-01", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for short cash, got %v", err)
	}
}

func TestCurrentAccountSaleLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := vendedorCtx()

	_, err := svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentCurrentAccount,
		Items:         []domain.SaleLineRequest{{ProductID: "prod-leche-01", Quantity: 2}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation without a customer name, got %v", err)
	}

	resp, err := svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentCurrentAccount,
		CustomerName:  "Gomez",
		CustomerDNI:   "30123456",
		Items:         []domain.SaleLineRequest{{ProductID: "prod-leche-01", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	debtors, err := svc.ListDebtors(marketCtx())
	if err != nil {
		t.Fatalf("list debtors failed: %v", err)
	}
	if len(debtors) != 1 || debtors[0].CustomerName != "Gomez" || debtors[0].TotalOwedCents != resp.Sale.TotalCents {
		t.Fatalf("unexpected debtors projection: %+v", debtors)
	}

	paid, err := svc.MarkCurrentAccountPaid(marketCtx(), resp.Sale.ID)
	if err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	if paid.PaymentMethod != domain.PaymentPaidCurrentAccount || paid.PaidDate == nil {
		t.Fatalf("expected paid_current_account with a date, got %+v", paid)
	}

	debtors, err = svc.ListDebtors(marketCtx())
	if err != nil {
		t.Fatalf("list debtors failed: %v", err)
	}
	if len(debtors) != 0 {
		t.Fatalf("expected no debtors after payment, got %+v", debtors)
	}
}

func TestOpenRegisterTwiceRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := vendedorCtx()

	first, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{Denominations: map[int]int{1000: 1}})
	if err != nil {
		t.Fatalf("open register failed: %v", err)
	}
	if first.TotalCents != 100000 {
		t.Fatalf("expected opening total 100000, got %d", first.TotalCents)
	}

	_, err = svc.OpenRegister(ctx, domain.RegisterOpenRequest{Denominations: map[int]int{500: 2}})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	status, err := svc.RegisterStatus(ctx)
	if err != nil {
		t.Fatalf("register status failed: %v", err)
	}
	if status.State != domain.RegisterOpen {
		t.Fatalf("expected state open, got %q", status.State)
	}
	if len(status.Movements) != 1 {
		t.Fatalf("expected a single movement after rejected re-open, got %d", len(status.Movements))
	}
}

func TestCloseRegisterReconciliation(t *testing.T) {
	svc, _ := newTestService()

	// A product priced at exactly 250 pesos keeps the arithmetic readable.
	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		MarketID:        "market1",
		Name:            "Pan Flauta",
		Unit:            domain.UnitCount,
		CostCents:       25000,
		MarkupPercent:   0,
		InitialQuantity: 10,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if created.PriceCents != 25000 {
		t.Fatalf("expected price 25000, got %d", created.PriceCents)
	}

	ctx := vendedorCtx()
	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{Denominations: map[int]int{1000: 1}}); err != nil {
		t.Fatalf("open register failed: %v", err)
	}

	if _, err := svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod:     domain.PaymentCash,
		CashReceivedCents: 25000,
		Items:             []domain.SaleLineRequest{{ProductID: created.ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	closing, err := svc.CloseRegister(ctx, domain.RegisterCloseRequest{
		Denominations: map[int]int{1000: 1, 100: 3},
	})
	if err != nil {
		t.Fatalf("close register failed: %v", err)
	}
	if closing.ExpectedTotalCents != 125000 {
		t.Fatalf("expected 125000 expected total, got %d", closing.ExpectedTotalCents)
	}
	if closing.TotalCents != 130000 {
		t.Fatalf("expected 130000 counted, got %d", closing.TotalCents)
	}
	if closing.DifferenceCents != 5000 {
		t.Fatalf("expected +5000 difference, got %d", closing.DifferenceCents)
	}

	status, err := svc.RegisterStatus(ctx)
	if err != nil {
		t.Fatalf("register status failed: %v", err)
	}
	if status.State != domain.RegisterClosed {
		t.Fatalf("expected state closed, got %q", status.State)
	}
	for _, movement := range status.Movements {
		if movement.Type == domain.MovementOpening && movement.Status != domain.MovementStatusClosed {
			t.Fatalf("expected opening movement flipped to closed, got %+v", movement)
		}
	}
}

func TestCloseRegisterFromNullStateRejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CloseRegister(vendedorCtx(), domain.RegisterCloseRequest{Denominations: map[int]int{100: 1}})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCloseRegisterWithoutOpeningMovementIsInconsistent(t *testing.T) {
	svc, repo := newTestService()
	ctx := vendedorCtx()

	// Force the state to open without any opening movement behind it.
	if err := repo.PutRegisterState(context.Background(), domain.RegisterState{User: "vendedor", State: domain.RegisterOpen}); err != nil {
		t.Fatalf("put register state failed: %v", err)
	}

	_, err := svc.CloseRegister(ctx, domain.RegisterCloseRequest{Denominations: map[int]int{100: 1}})
	if !errors.Is(err, store.ErrInconsistentState) {
		t.Fatalf("expected ErrInconsistentState, got %v", err)
	}
}

func TestReceiveSupplierOrderAddsLots(t *testing.T) {
	svc, _ := newTestService()
	ctx := marketCtx()

	supplier, err := svc.CreateSupplier(ctx, domain.SupplierCreateRequest{Name: "Distribuidora Sur", CUIT: "30-11222333-4"})
	if err != nil {
		t.Fatalf("create supplier failed: %v", err)
	}

	before, err := svc.GetProduct(ctx, "prod-fideos-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}

	order, err := svc.CreateSupplierOrder(ctx, domain.SupplierOrderCreateRequest{
		SupplierID: supplier.ID,
		Items:      []domain.SupplierOrderItem{{ProductID: "prod-fideos-01", Quantity: 24, CostCents: 75000}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if order.Status != domain.OrderStatusDraft {
		t.Fatalf("expected draft order, got %s", order.Status)
	}

	received, err := svc.ReceiveSupplierOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("receive order failed: %v", err)
	}
	if received.Status != domain.OrderStatusReceived || received.ReceivedAt == nil {
		t.Fatalf("expected received order with timestamp, got %+v", received)
	}

	after, err := svc.GetProduct(ctx, "prod-fideos-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Stock != before.Stock+24 {
		t.Fatalf("expected stock %d, got %d", before.Stock+24, after.Stock)
	}
	if after.CostCents != 75000 {
		t.Fatalf("expected cost updated to 75000, got %d", after.CostCents)
	}
	if after.PriceCents != derivePriceCents(75000, after.MarkupPercent) {
		t.Fatalf("expected repriced product, got %d", after.PriceCents)
	}

	_, err = svc.ReceiveSupplierOrder(ctx, order.ID)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on double receive, got %v", err)
	}
}

func TestSalesSummaryGroupsByPayment(t *testing.T) {
	svc, _ := newTestService()
	ctx := vendedorCtx()

	if _, err := svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod:     domain.PaymentCash,
		CashReceivedCents: 114000,
		Items:             []domain.SaleLineRequest{{ProductID: "prod-leche-01", Quantity: 1}},
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if _, err := svc.RecordSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentDebit,
		Items:         []domain.SaleLineRequest{{ProductID: "prod-leche-01", Quantity: 2}},
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	summary, err := svc.SalesSummary(ctx, "", "")
	if err != nil {
		t.Fatalf("sales summary failed: %v", err)
	}
	if summary.SaleCount != 2 {
		t.Fatalf("expected 2 sales, got %d", summary.SaleCount)
	}
	if summary.TotalCents != 114000+228000 {
		t.Fatalf("expected total %d, got %d", 114000+228000, summary.TotalCents)
	}
	if len(summary.ByPayment) != 2 {
		t.Fatalf("expected two payment buckets, got %+v", summary.ByPayment)
	}
}

func TestStockAlerts(t *testing.T) {
	svc, _ := newTestService()
	ctx := marketCtx()

	alerts, err := svc.StockAlerts(ctx, 7)
	if err != nil {
		t.Fatalf("stock alerts failed: %v", err)
	}

	var sawNearExpiry bool
	for _, alert := range alerts {
		if alert.ProductID == "prod-leche-01" && alert.Code == domain.AlertNearExpiry {
			sawNearExpiry = true
		}
	}
	if !sawNearExpiry {
		t.Fatalf("expected a near-expiry alert for the milk lot, got %+v", alerts)
	}
}

func TestBackupExportImportIdempotent(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.RecordSale(vendedorCtx(), domain.SaleRequest{
		PaymentMethod: domain.PaymentDebit,
		Items:         []domain.SaleLineRequest{{ProductID: "prod-yerba-01", Quantity: 2}},
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	first, err := svc.ExportBackup(adminCtx())
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if err := svc.ImportBackup(adminCtx(), first); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	second, err := svc.ExportBackup(adminCtx())
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if len(first.Products) != len(second.Products) || len(first.Sales) != len(second.Sales) {
		t.Fatalf("export changed after import round-trip: %d/%d products, %d/%d sales",
			len(first.Products), len(second.Products), len(first.Sales), len(second.Sales))
	}

	product, err := svc.GetProduct(vendedorCtx(), "prod-yerba-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != allocator.TotalQuantity(product.Lots) {
		t.Fatalf("stock invariant broken after import: %d vs %d", product.Stock, allocator.TotalQuantity(product.Lots))
	}
}

func TestVendedorCannotManageProducts(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateProduct(vendedorCtx(), domain.ProductCreateRequest{
		Name: "No", Unit: domain.UnitCount, CostCents: 100,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected capability rejection, got %v", err)
	}

	if err := svc.DeleteProduct(vendedorCtx(), "prod-yerba-01"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected capability rejection, got %v", err)
	}
}
