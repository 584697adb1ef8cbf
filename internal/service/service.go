package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"minimercado/backend/internal/allocator"
	"minimercado/backend/internal/cache"
	"minimercado/backend/internal/domain"
	"minimercado/backend/internal/store"
	"minimercado/backend/internal/xid"
)

type sessionContextKey struct{}

func WithSession(ctx context.Context, session domain.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(domain.Session)
	return session, ok
}

const dateLayout = "2006-01-02"

// taxRate is the IVA rate baked into list prices; totals are gross and the
// subtotal is derived by dividing the tax back out.
const taxRate = 1.21

type Service struct {
	repo            store.Repository
	reports         cache.ReportCache
	defaultMarketID string
	reportTTL       time.Duration
}

func New(repo store.Repository, reports cache.ReportCache, defaultMarketID string, reportTTL time.Duration) *Service {
	if defaultMarketID == "" {
		defaultMarketID = "market1"
	}
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if reportTTL <= 0 {
		reportTTL = 5 * time.Minute
	}

	return &Service{
		repo:            repo,
		reports:         reports,
		defaultMarketID: defaultMarketID,
		reportTTL:       reportTTL,
	}
}

func (s *Service) requireCapability(ctx context.Context, capability domain.Capability) (domain.Session, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return domain.Session{}, fmt.Errorf("missing session: %w", store.ErrValidation)
	}
	if !domain.HasCapability(session, capability) {
		return domain.Session{}, fmt.Errorf("role %s lacks %s: %w", session.Role, capability, store.ErrValidation)
	}
	return session, nil
}

// marketFor resolves the market an operation targets: an explicit request
// wins for admins, everyone else is pinned to their session market.
func (s *Service) marketFor(session domain.Session, requested string) string {
	if session.Role == domain.RoleAdmin {
		if requested != "" {
			return requested
		}
		return s.defaultMarketID
	}
	if session.MarketID != "" {
		return session.MarketID
	}
	return s.defaultMarketID
}

// ---- products ----

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("missing session: %w", store.ErrValidation)
	}
	if session.Role == domain.RoleAdmin {
		return s.repo.ListProducts(ctx, "")
	}
	return s.repo.ListProducts(ctx, s.marketFor(session, ""))
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	session, err := s.requireCapability(ctx, domain.CapManageProducts)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.CostCents < 1 || req.MarkupPercent < 0 || req.MinStock < 0 || req.InitialQuantity < 0 {
		return domain.Product{}, store.ErrValidation
	}
	if req.Unit != domain.UnitCount && req.Unit != domain.UnitWeight {
		return domain.Product{}, store.ErrValidation
	}

	product := domain.Product{
		ID:            xid.New("prod"),
		MarketID:      s.marketFor(session, req.MarketID),
		Name:          req.Name,
		Unit:          req.Unit,
		CostCents:     req.CostCents,
		MarkupPercent: req.MarkupPercent,
		PriceCents:    derivePriceCents(req.CostCents, req.MarkupPercent),
		MinStock:      req.MinStock,
	}

	if req.InitialQuantity > 0 {
		expiry, err := parseExpiry(req.ExpiryDate)
		if err != nil {
			return domain.Product{}, err
		}
		product.Lots = []domain.Lot{{
			ID:         xid.New("lot"),
			Quantity:   req.InitialQuantity,
			ExpiryDate: expiry,
			ReceivedAt: time.Now().UTC(),
		}}
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, created.MarketID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,qty=%d", created.Name, created.PriceCents, req.InitialQuantity))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	_, err := s.requireCapability(ctx, domain.CapManageProducts)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.CostCents != nil {
		if *req.CostCents < 1 {
			return domain.Product{}, store.ErrValidation
		}
		updated.CostCents = *req.CostCents
	}
	if req.MarkupPercent != nil {
		if *req.MarkupPercent < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.MarkupPercent = *req.MarkupPercent
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.MinStock = *req.MinStock
	}
	if req.CostCents != nil || req.MarkupPercent != nil {
		updated.PriceCents = derivePriceCents(updated.CostCents, updated.MarkupPercent)
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, saved.MarketID, "product_update", "product", saved.ID, fmt.Sprintf("price=%d,min_stock=%d", saved.PriceCents, saved.MinStock))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.requireCapability(ctx, domain.CapManageProducts)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "", "product_delete", "product", id, "")
	return nil
}

// ReceiveLot adds stock to a product as a new dated lot.
func (s *Service) ReceiveLot(ctx context.Context, req domain.LotReceiveRequest) (domain.Product, error) {
	_, err := s.requireCapability(ctx, domain.CapManageProducts)
	if err != nil {
		return domain.Product{}, err
	}
	if req.ProductID == "" || req.Quantity < 1 {
		return domain.Product{}, store.ErrValidation
	}

	expiry, err := parseExpiry(req.ExpiryDate)
	if err != nil {
		return domain.Product{}, err
	}

	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.Product{}, err
	}

	lot := domain.Lot{
		ID:         xid.New("lot"),
		Quantity:   req.Quantity,
		ExpiryDate: expiry,
		ReceivedAt: time.Now().UTC(),
	}
	product.Lots = append(product.Lots, lot)

	saved, err := s.repo.UpdateProduct(ctx, *product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, saved.MarketID, "lot_receive", "product", saved.ID, fmt.Sprintf("lot=%s,qty=%d,expiry=%s", lot.ID, lot.Quantity, req.ExpiryDate))
	return *saved, nil
}

// ---- sales ----

// RecordSale settles a cart: prices are recomputed server-side, each line is
// deducted from the product's lots earliest-expiry-first, and the sale plus
// the touched products are persisted through one SaveSettlement call. Lines
// naming an unknown product are skipped with a warning; a line the lots
// cannot cover rejects the whole sale before anything is written.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	session, err := s.requireCapability(ctx, domain.CapRecordSales)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	if !validPaymentMethod(req.PaymentMethod) {
		return domain.SaleResponse{}, fmt.Errorf("unknown payment method %q: %w", req.PaymentMethod, store.ErrValidation)
	}
	if req.PaymentMethod == domain.PaymentCurrentAccount && strings.TrimSpace(req.CustomerName) == "" {
		return domain.SaleResponse{}, fmt.Errorf("current account sale needs a customer name: %w", store.ErrValidation)
	}

	lines := normalizeLines(req.Items)
	if len(lines) == 0 {
		return domain.SaleResponse{}, fmt.Errorf("empty sale: %w", store.ErrValidation)
	}

	marketID := s.marketFor(session, req.MarketID)

	items := make([]domain.SaleItem, 0, len(lines))
	updatedProducts := make([]domain.Product, 0, len(lines))
	var totalCents int64

	for _, line := range lines {
		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] WARN: sale line references unknown product id=%s, skipping", line.ProductID)
			continue
		}
		if err != nil {
			return domain.SaleResponse{}, err
		}
		if product.MarketID != marketID {
			log.Printf("[service] WARN: sale line references product id=%s outside market %s, skipping", line.ProductID, marketID)
			continue
		}

		remainingLots, shortfall := allocator.Allocate(product.Lots, line.Quantity)
		if shortfall > 0 {
			return domain.SaleResponse{}, fmt.Errorf("insufficient stock for %s (short %d): %w", product.Name, shortfall, store.ErrValidation)
		}

		product.Lots = remainingLots
		product.Stock = allocator.TotalQuantity(remainingLots)
		updatedProducts = append(updatedProducts, *product)

		subtotal := lineSubtotalCents(*product, line.Quantity)
		items = append(items, domain.SaleItem{
			ProductID:     product.ID,
			Name:          product.Name,
			PriceCents:    product.PriceCents,
			Quantity:      line.Quantity,
			SubtotalCents: subtotal,
			Unit:          product.Unit,
		})
		totalCents += subtotal
	}

	if len(items) == 0 {
		return domain.SaleResponse{}, fmt.Errorf("no valid sale lines: %w", store.ErrValidation)
	}

	var changeCents int64
	if req.PaymentMethod == domain.PaymentCash {
		if req.CashReceivedCents < totalCents {
			return domain.SaleResponse{}, fmt.Errorf("cash received %d below total %d: %w", req.CashReceivedCents, totalCents, store.ErrValidation)
		}
		changeCents = req.CashReceivedCents - totalCents
	}

	subtotalCents := int64(math.Round(float64(totalCents) / taxRate))
	sale := domain.Sale{
		ID:            xid.New("sale"),
		MarketID:      marketID,
		Date:          time.Now().UTC(),
		PaymentMethod: req.PaymentMethod,
		Items:         items,
		TotalCents:    totalCents,
		SubtotalCents: subtotalCents,
		TaxCents:      totalCents - subtotalCents,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerDNI:   strings.TrimSpace(req.CustomerDNI),
	}

	saved, err := s.repo.SaveSettlement(ctx, sale, updatedProducts)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, marketID, "sale_record", "sale", saved.ID, fmt.Sprintf("total=%d,method=%s,items=%d", saved.TotalCents, saved.PaymentMethod, len(saved.Items)))
	s.invalidateReports(ctx, marketID)

	return domain.SaleResponse{Sale: *saved, ChangeCents: changeCents}, nil
}

func (s *Service) ListSales(ctx context.Context, from string, to string) ([]domain.Sale, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("missing session: %w", store.ErrValidation)
	}

	fromTime, toTime, err := parseRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, s.marketFor(session, ""), fromTime, toTime)
}

// MarkCurrentAccountPaid settles a customer's debt sale: current_account
// becomes paid_current_account with the payment date stamped.
func (s *Service) MarkCurrentAccountPaid(ctx context.Context, saleID string) (domain.Sale, error) {
	_, err := s.requireCapability(ctx, domain.CapManageAccounts)
	if err != nil {
		return domain.Sale{}, err
	}

	paid, err := s.repo.MarkSalePaid(ctx, saleID, time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, paid.MarketID, "account_paid", "sale", paid.ID, fmt.Sprintf("total=%d,customer=%s", paid.TotalCents, paid.CustomerName))
	s.invalidateReports(ctx, paid.MarketID)
	return *paid, nil
}

// ListDebtors projects unpaid current-account sales grouped by customer
// identity (name plus DNI).
func (s *Service) ListDebtors(ctx context.Context) ([]domain.DebtorAccount, error) {
	session, err := s.requireCapability(ctx, domain.CapManageAccounts)
	if err != nil {
		return nil, err
	}

	sales, err := s.repo.ListSales(ctx, s.marketFor(session, ""), time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}

	byCustomer := make(map[string]*domain.DebtorAccount)
	order := make([]string, 0)
	for _, sale := range sales {
		if sale.PaymentMethod != domain.PaymentCurrentAccount {
			continue
		}
		key := sale.CustomerName + "|" + sale.CustomerDNI
		account, exists := byCustomer[key]
		if !exists {
			account = &domain.DebtorAccount{CustomerName: sale.CustomerName, CustomerDNI: sale.CustomerDNI}
			byCustomer[key] = account
			order = append(order, key)
		}
		account.SaleCount++
		account.TotalOwedCents += sale.TotalCents
		account.Sales = append(account.Sales, sale)
	}

	debtors := make([]domain.DebtorAccount, 0, len(order))
	for _, key := range order {
		debtors = append(debtors, *byCustomer[key])
	}
	return debtors, nil
}

// ---- cash register ----

func (s *Service) OpenRegister(ctx context.Context, req domain.RegisterOpenRequest) (domain.CashMovement, error) {
	session, err := s.requireCapability(ctx, domain.CapOperateRegister)
	if err != nil {
		return domain.CashMovement{}, err
	}

	state, err := s.repo.GetRegisterState(ctx, session.Username)
	if err != nil {
		return domain.CashMovement{}, err
	}
	if state.State == domain.RegisterOpen {
		return domain.CashMovement{}, fmt.Errorf("register already open for %s: %w", session.Username, store.ErrInvalidTransition)
	}

	movement := domain.CashMovement{
		ID:            xid.New("mov"),
		Type:          domain.MovementOpening,
		Date:          time.Now().UTC(),
		User:          session.Username,
		MarketID:      s.marketFor(session, ""),
		Denominations: req.Denominations,
		TotalCents:    denominationsTotalCents(req.Denominations),
		Status:        domain.MovementStatusOpen,
	}

	saved, err := s.repo.AppendCashMovement(ctx, movement)
	if err != nil {
		return domain.CashMovement{}, err
	}
	if err := s.repo.PutRegisterState(ctx, domain.RegisterState{User: session.Username, State: domain.RegisterOpen}); err != nil {
		return domain.CashMovement{}, err
	}

	s.logAudit(ctx, movement.MarketID, "register_open", "cash_movement", saved.ID, fmt.Sprintf("total=%d", saved.TotalCents))
	return *saved, nil
}

// CloseRegister reconciles the drawer: expected is the opening float plus
// every market sale dated inside the opening-to-now window, difference is
// counted minus expected. The closing movement and the opening status flip
// are written before the register state.
func (s *Service) CloseRegister(ctx context.Context, req domain.RegisterCloseRequest) (domain.CashMovement, error) {
	session, err := s.requireCapability(ctx, domain.CapOperateRegister)
	if err != nil {
		return domain.CashMovement{}, err
	}

	state, err := s.repo.GetRegisterState(ctx, session.Username)
	if err != nil {
		return domain.CashMovement{}, err
	}
	if state.State != domain.RegisterOpen {
		return domain.CashMovement{}, fmt.Errorf("register not open for %s: %w", session.Username, store.ErrInvalidTransition)
	}

	opening, err := s.repo.FindOpenOpeningMovement(ctx, session.Username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.CashMovement{}, fmt.Errorf("register open without an active opening movement for %s: %w", session.Username, store.ErrInconsistentState)
	}
	if err != nil {
		return domain.CashMovement{}, err
	}

	now := time.Now().UTC()
	sales, err := s.repo.ListSales(ctx, opening.MarketID, opening.Date, now)
	if err != nil {
		return domain.CashMovement{}, err
	}

	var salesCents int64
	for _, sale := range sales {
		salesCents += sale.TotalCents
	}

	countedCents := denominationsTotalCents(req.Denominations)
	expectedCents := opening.TotalCents + salesCents

	closing := domain.CashMovement{
		ID:                 xid.New("mov"),
		Type:               domain.MovementClosing,
		Date:               now,
		User:               session.Username,
		MarketID:           opening.MarketID,
		Denominations:      req.Denominations,
		TotalCents:         countedCents,
		ExpectedTotalCents: expectedCents,
		DifferenceCents:    countedCents - expectedCents,
		Status:             domain.MovementStatusClosed,
	}

	saved, err := s.repo.AppendCashMovement(ctx, closing)
	if err != nil {
		return domain.CashMovement{}, err
	}

	opening.Status = domain.MovementStatusClosed
	if err := s.repo.UpdateCashMovement(ctx, *opening); err != nil {
		return domain.CashMovement{}, err
	}
	if err := s.repo.PutRegisterState(ctx, domain.RegisterState{User: session.Username, State: domain.RegisterClosed}); err != nil {
		return domain.CashMovement{}, err
	}

	s.logAudit(ctx, closing.MarketID, "register_close", "cash_movement", saved.ID, fmt.Sprintf("counted=%d,expected=%d,diff=%d", countedCents, expectedCents, saved.DifferenceCents))
	return *saved, nil
}

func (s *Service) RegisterStatus(ctx context.Context) (domain.RegisterStatusResponse, error) {
	session, err := s.requireCapability(ctx, domain.CapOperateRegister)
	if err != nil {
		return domain.RegisterStatusResponse{}, err
	}

	state, err := s.repo.GetRegisterState(ctx, session.Username)
	if err != nil {
		return domain.RegisterStatusResponse{}, err
	}
	movements, err := s.repo.ListCashMovements(ctx, session.Username)
	if err != nil {
		return domain.RegisterStatusResponse{}, err
	}

	return domain.RegisterStatusResponse{State: state.State, Movements: movements}, nil
}

// ---- customers / suppliers / orders ----

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	session, err := s.requireCapability(ctx, domain.CapManageAccounts)
	if err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, store.ErrValidation
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cust"),
		MarketID:  s.marketFor(session, req.MarketID),
		Name:      req.Name,
		LastName:  strings.TrimSpace(req.LastName),
		DNI:       strings.TrimSpace(req.DNI),
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, created.MarketID, "customer_create", "customer", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	session, err := s.requireCapability(ctx, domain.CapManageAccounts)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, s.marketFor(session, ""))
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	session, err := s.requireCapability(ctx, domain.CapManageSuppliers)
	if err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, store.ErrValidation
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		MarketID:  s.marketFor(session, req.MarketID),
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		CUIT:      strings.TrimSpace(req.CUIT),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, created.MarketID, "supplier_create", "supplier", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	session, err := s.requireCapability(ctx, domain.CapManageSuppliers)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSuppliers(ctx, s.marketFor(session, ""))
}

func (s *Service) CreateSupplierOrder(ctx context.Context, req domain.SupplierOrderCreateRequest) (domain.SupplierOrder, error) {
	session, err := s.requireCapability(ctx, domain.CapManageSuppliers)
	if err != nil {
		return domain.SupplierOrder{}, err
	}
	if req.SupplierID == "" || len(req.Items) == 0 {
		return domain.SupplierOrder{}, store.ErrValidation
	}
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity < 1 {
			return domain.SupplierOrder{}, store.ErrValidation
		}
	}

	created, err := s.repo.CreateSupplierOrder(ctx, domain.SupplierOrder{
		ID:         xid.New("order"),
		MarketID:   s.marketFor(session, req.MarketID),
		SupplierID: req.SupplierID,
		Status:     domain.OrderStatusDraft,
		CreatedAt:  time.Now().UTC(),
		Items:      req.Items,
	})
	if err != nil {
		return domain.SupplierOrder{}, err
	}

	s.logAudit(ctx, created.MarketID, "order_create", "supplier_order", created.ID, fmt.Sprintf("supplier=%s,items=%d", created.SupplierID, len(created.Items)))
	return *created, nil
}

func (s *Service) ListSupplierOrders(ctx context.Context, status string) ([]domain.SupplierOrder, error) {
	session, err := s.requireCapability(ctx, domain.CapManageSuppliers)
	if err != nil {
		return nil, err
	}
	if status != "" && status != domain.OrderStatusDraft && status != domain.OrderStatusReceived {
		return nil, store.ErrValidation
	}
	return s.repo.ListSupplierOrders(ctx, s.marketFor(session, ""), status)
}

// ReceiveSupplierOrder transitions a draft order to received and books each
// ordered line as a new lot on its product. Item costs update the product
// cost and reprice it.
func (s *Service) ReceiveSupplierOrder(ctx context.Context, orderID string) (domain.SupplierOrder, error) {
	session, err := s.requireCapability(ctx, domain.CapManageSuppliers)
	if err != nil {
		return domain.SupplierOrder{}, err
	}

	order, err := s.repo.GetSupplierOrder(ctx, orderID)
	if err != nil {
		return domain.SupplierOrder{}, err
	}
	if order.Status != domain.OrderStatusDraft {
		return domain.SupplierOrder{}, fmt.Errorf("order %s already %s: %w", order.ID, order.Status, store.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	for _, item := range order.Items {
		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] WARN: order %s references unknown product id=%s, skipping line", order.ID, item.ProductID)
			continue
		}
		if err != nil {
			return domain.SupplierOrder{}, err
		}

		product.Lots = append(product.Lots, domain.Lot{
			ID:         xid.New("lot"),
			Quantity:   item.Quantity,
			ExpiryDate: item.ExpiryDate,
			ReceivedAt: now,
		})
		if item.CostCents > 0 {
			product.CostCents = item.CostCents
			product.PriceCents = derivePriceCents(product.CostCents, product.MarkupPercent)
		}
		if _, err := s.repo.UpdateProduct(ctx, *product); err != nil {
			return domain.SupplierOrder{}, err
		}
	}

	order.Status = domain.OrderStatusReceived
	order.ReceivedAt = &now
	order.ReceivedBy = session.Username
	saved, err := s.repo.UpdateSupplierOrder(ctx, *order)
	if err != nil {
		return domain.SupplierOrder{}, err
	}

	s.logAudit(ctx, saved.MarketID, "order_receive", "supplier_order", saved.ID, fmt.Sprintf("items=%d", len(saved.Items)))
	return *saved, nil
}

// ---- reports and alerts ----

func (s *Service) SalesSummary(ctx context.Context, from string, to string) (domain.SalesSummary, error) {
	session, err := s.requireCapability(ctx, domain.CapViewReports)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	fromTime, toTime, err := parseRange(from, to)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	marketID := s.marketFor(session, "")
	version, err := s.reports.Version(ctx, marketID)
	if err != nil {
		log.Printf("[service] WARN: report cache version read failed market=%s: %v", marketID, err)
		version = 0
	}
	key := fmt.Sprintf("reports:summary:%s:v%d:%s:%s", marketID, version, from, to)

	if cached, hit, err := s.reports.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: report cache read failed key=%s: %v", key, err)
	} else if hit {
		return *cached, nil
	}

	sales, err := s.repo.ListSales(ctx, marketID, fromTime, toTime)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{MarketID: marketID, From: from, To: to}
	byPayment := make(map[string]*domain.PaymentTotal)
	paymentOrder := make([]string, 0, 6)
	for _, sale := range sales {
		summary.SaleCount++
		summary.TotalCents += sale.TotalCents
		bucket, exists := byPayment[sale.PaymentMethod]
		if !exists {
			bucket = &domain.PaymentTotal{PaymentMethod: sale.PaymentMethod}
			byPayment[sale.PaymentMethod] = bucket
			paymentOrder = append(paymentOrder, sale.PaymentMethod)
		}
		bucket.SaleCount++
		bucket.TotalCents += sale.TotalCents
	}
	for _, method := range paymentOrder {
		summary.ByPayment = append(summary.ByPayment, *byPayment[method])
	}

	if err := s.reports.Set(ctx, key, &summary, s.reportTTL); err != nil {
		log.Printf("[service] WARN: report cache write failed key=%s: %v", key, err)
	}
	return summary, nil
}

// StockAlerts lists products at or below their minimum stock and products
// with a lot expiring within horizonDays.
func (s *Service) StockAlerts(ctx context.Context, horizonDays int) ([]domain.StockAlert, error) {
	session, err := s.requireCapability(ctx, domain.CapViewReports)
	if err != nil {
		return nil, err
	}
	if horizonDays < 1 {
		horizonDays = 7
	}

	products, err := s.repo.ListProducts(ctx, s.marketFor(session, ""))
	if err != nil {
		return nil, err
	}

	horizon := time.Now().UTC().AddDate(0, 0, horizonDays)
	alerts := make([]domain.StockAlert, 0)
	for _, product := range products {
		if product.Stock <= product.MinStock {
			alerts = append(alerts, domain.StockAlert{
				ProductID: product.ID,
				Name:      product.Name,
				Code:      domain.AlertLowStock,
				Stock:     product.Stock,
				MinStock:  product.MinStock,
			})
		}
		if nearest := nearestExpiry(product.Lots); nearest != nil && !nearest.After(horizon) {
			alerts = append(alerts, domain.StockAlert{
				ProductID:     product.ID,
				Name:          product.Name,
				Code:          domain.AlertNearExpiry,
				Stock:         product.Stock,
				MinStock:      product.MinStock,
				NearestExpiry: nearest,
			})
		}
	}
	return alerts, nil
}

// ---- backup / sync ----

func (s *Service) ExportBackup(ctx context.Context) (domain.BackupSnapshot, error) {
	_, err := s.requireCapability(ctx, domain.CapAdminData)
	if err != nil {
		return domain.BackupSnapshot{}, err
	}

	snapshot, err := s.repo.ExportSnapshot(ctx)
	if err != nil {
		return domain.BackupSnapshot{}, err
	}
	s.logAudit(ctx, "", "backup_export", "backup", "", fmt.Sprintf("products=%d,sales=%d", len(snapshot.Products), len(snapshot.Sales)))
	return *snapshot, nil
}

// ImportBackup replaces every collection with the snapshot's records.
func (s *Service) ImportBackup(ctx context.Context, snapshot domain.BackupSnapshot) error {
	_, err := s.requireCapability(ctx, domain.CapAdminData)
	if err != nil {
		return err
	}

	if err := s.repo.ImportSnapshot(ctx, snapshot); err != nil {
		return err
	}

	s.logAudit(ctx, "", "backup_import", "backup", "", fmt.Sprintf("products=%d,sales=%d", len(snapshot.Products), len(snapshot.Sales)))
	markets := make(map[string]struct{})
	for _, product := range snapshot.Products {
		markets[product.MarketID] = struct{}{}
	}
	for marketID := range markets {
		s.invalidateReports(ctx, marketID)
	}
	return nil
}

// SyncWithBackend is a named stub; the deployment has no remote backend yet
// and the local store is authoritative.
func (s *Service) SyncWithBackend(ctx context.Context) (domain.SyncResult, error) {
	_, err := s.requireCapability(ctx, domain.CapAdminData)
	if err != nil {
		return domain.SyncResult{}, err
	}
	log.Printf("[service] WARN: remote sync requested but no backend is configured")
	return domain.SyncResult{Status: "disabled", PendingChanges: 0}, nil
}

// ListAuditLogs reads the append-only action trail, newest first.
func (s *Service) ListAuditLogs(ctx context.Context, from string, to string, limit int) ([]domain.AuditLog, error) {
	session, err := s.requireCapability(ctx, domain.CapAdminData)
	if err != nil {
		return nil, err
	}

	fromTime, toTime, err := parseRange(from, to)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, s.marketFor(session, ""), fromTime, toTime, limit)
}

// ---- users ----

func (s *Service) CreateUser(ctx context.Context, username string, password string, role string, marketID string) error {
	_, err := s.requireCapability(ctx, domain.CapAdminData)
	if err != nil {
		return err
	}

	username = strings.TrimSpace(username)
	if username == "" || len(password) < 8 {
		return store.ErrValidation
	}
	if role != domain.RoleAdmin && role != domain.RoleMarket && role != domain.RoleVendedor {
		return store.ErrValidation
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      role,
		MarketID:  marketID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	s.logAudit(ctx, marketID, "user_create", "user", username, "role="+role)
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	_, err := s.requireCapability(ctx, domain.CapAdminData)
	if err != nil {
		return nil, err
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Password = ""
	}
	return users, nil
}

func (s *Service) ChangePassword(ctx context.Context, username string, password string) error {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return fmt.Errorf("missing session: %w", store.ErrValidation)
	}
	if session.Username != username && !domain.HasCapability(session, domain.CapAdminData) {
		return fmt.Errorf("cannot change another user's password: %w", store.ErrValidation)
	}
	if len(password) < 8 {
		return store.ErrValidation
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		return err
	}

	s.logAudit(ctx, "", "user_password_change", "user", username, "")
	return nil
}

// ---- helpers ----

func (s *Service) invalidateReports(ctx context.Context, marketID string) {
	if err := s.reports.Invalidate(ctx, marketID); err != nil {
		log.Printf("[service] WARN: report cache invalidation failed market=%s: %v", marketID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, marketID string, action string, entityType string, entityID string, detail string) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		session = domain.Session{Username: "system", Role: "system"}
	}
	if marketID == "" {
		marketID = s.defaultMarketID
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		MarketID:      marketID,
		ActorUsername: session.Username,
		ActorRole:     session.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func validPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentDebit, domain.PaymentCredit, domain.PaymentTransfer, domain.PaymentCurrentAccount:
		return true
	}
	return false
}

// normalizeLines drops empty lines and merges duplicate product references.
func normalizeLines(lines []domain.SaleLineRequest) []domain.SaleLineRequest {
	agg := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == "" || line.Quantity < 1 {
			continue
		}
		if _, seen := agg[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		agg[line.ProductID] += line.Quantity
	}

	normalized := make([]domain.SaleLineRequest, 0, len(order))
	for _, productID := range order {
		normalized = append(normalized, domain.SaleLineRequest{ProductID: productID, Quantity: agg[productID]})
	}
	return normalized
}

// lineSubtotalCents prices one sale line. Count products multiply the list
// price by pieces; weight products carry a per-kilogram price and a gram
// quantity, so the price is scaled by grams/1000 and rounded.
func lineSubtotalCents(product domain.Product, quantity int) int64 {
	if product.Unit == domain.UnitWeight {
		return int64(math.Round(float64(product.PriceCents) * float64(quantity) / 1000))
	}
	return product.PriceCents * int64(quantity)
}

// derivePriceCents computes the list price from cost and markup percentage,
// rounded to the nearest cent.
func derivePriceCents(costCents int64, markupPercent float64) int64 {
	price := int64(math.Round(float64(costCents) * (1 + markupPercent/100)))
	if price < 1 {
		return 1
	}
	return price
}

// denominationsTotalCents sums a peso-denomination count map into cents.
func denominationsTotalCents(denominations map[int]int) int64 {
	var total int64
	for denomination, count := range denominations {
		if denomination < 1 || count < 1 {
			continue
		}
		total += int64(denomination) * int64(count) * 100
	}
	return total
}

func nearestExpiry(lots []domain.Lot) *time.Time {
	var nearest *time.Time
	for _, lot := range lots {
		if lot.ExpiryDate == nil || lot.Quantity < 1 {
			continue
		}
		if nearest == nil || lot.ExpiryDate.Before(*nearest) {
			expiry := *lot.ExpiryDate
			nearest = &expiry
		}
	}
	return nearest
}

func parseExpiry(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("bad expiry date %q: %w", value, store.ErrValidation)
	}
	return &parsed, nil
}

// parseRange parses inclusive from/to dates; the to bound is extended to the
// end of its day. Empty strings leave the bound open.
func parseRange(from string, to string) (time.Time, time.Time, error) {
	var fromTime, toTime time.Time
	if from != "" {
		parsed, err := time.Parse(dateLayout, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad from date %q: %w", from, store.ErrValidation)
		}
		fromTime = parsed
	}
	if to != "" {
		parsed, err := time.Parse(dateLayout, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad to date %q: %w", to, store.ErrValidation)
		}
		toTime = parsed.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !fromTime.IsZero() && !toTime.IsZero() && toTime.Before(fromTime) {
		return time.Time{}, time.Time{}, fmt.Errorf("range %s..%s inverted: %w", from, to, store.ErrValidation)
	}
	return fromTime, toTime, nil
}
