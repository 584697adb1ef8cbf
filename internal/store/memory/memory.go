package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"minimercado/backend/internal/allocator"
	"minimercado/backend/internal/domain"
	"minimercado/backend/internal/store"
	"minimercado/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	productsByID    map[string]domain.Product
	salesByID       map[string]domain.Sale
	movementsByUser map[string][]domain.CashMovement
	registerStates  map[string]domain.RegisterState
	customersByID   map[string]domain.Customer
	suppliersByID   map[string]domain.Supplier
	ordersByID      map[string]domain.SupplierOrder
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD, SEED_MARKET_PASSWORD and
// SEED_VENDEDOR_PASSWORD; unset variables fall back to dev defaults with a
// warning. Production deployments use PostgreSQL (DATABASE_URL) instead.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	marketPwd := envOr("SEED_MARKET_PASSWORD", "market123")
	vendedorPwd := envOr("SEED_VENDEDOR_PASSWORD", "vendedor123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MARKET_PASSWORD") == "" || os.Getenv("SEED_VENDEDOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD variables to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		marketID string
	}{
		{"admin", adminPwd, domain.RoleAdmin, ""},
		{"market1", marketPwd, domain.RoleMarket, "market1"},
		{"vendedor", vendedorPwd, domain.RoleVendedor, "market1"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			MarketID:  u.marketID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	expiry := func(days int) *time.Time {
		d := now.AddDate(0, 0, days).Truncate(24 * time.Hour)
		return &d
	}

	products := []domain.Product{
		{
			ID: "prod-yerba-01", MarketID: "market1", Name: "Yerba Mate 1kg", Unit: domain.UnitCount,
			CostCents: 320000, MarkupPercent: 25, PriceCents: 400000, MinStock: 10,
			Lots: []domain.Lot{
				{ID: "lot-yerba-a", Quantity: 24, ExpiryDate: expiry(180), ReceivedAt: now.AddDate(0, 0, -20)},
				{ID: "lot-yerba-b", Quantity: 36, ExpiryDate: expiry(300), ReceivedAt: now.AddDate(0, 0, -5)},
			},
		},
		{
			ID: "prod-leche-01", MarketID: "market1", Name: "Leche Entera 1L", Unit: domain.UnitCount,
			CostCents: 95000, MarkupPercent: 20, PriceCents: 114000, MinStock: 12,
			Lots: []domain.Lot{
				{ID: "lot-leche-a", Quantity: 18, ExpiryDate: expiry(6), ReceivedAt: now.AddDate(0, 0, -2)},
				{ID: "lot-leche-b", Quantity: 30, ExpiryDate: expiry(12), ReceivedAt: now.AddDate(0, 0, -1)},
			},
		},
		{
			ID: "prod-queso-01", MarketID: "market1", Name: "Queso Cremoso (kg)", Unit: domain.UnitWeight,
			CostCents: 650000, MarkupPercent: 30, PriceCents: 845000, MinStock: 2000,
			Lots: []domain.Lot{
				{ID: "lot-queso-a", Quantity: 4500, ExpiryDate: expiry(15), ReceivedAt: now.AddDate(0, 0, -3)},
			},
		},
		{
			ID: "prod-fideos-01", MarketID: "market1", Name: "Fideos Secos 500g", Unit: domain.UnitCount,
			CostCents: 70000, MarkupPercent: 28, PriceCents: 89600, MinStock: 15,
			Lots: []domain.Lot{
				{ID: "lot-fideos-a", Quantity: 48, ReceivedAt: now.AddDate(0, 0, -30)},
			},
		},
		{
			ID: "prod-gaseosa-01", MarketID: "market1", Name: "Gaseosa Cola 2.25L", Unit: domain.UnitCount,
			CostCents: 180000, MarkupPercent: 22, PriceCents: 219600, MinStock: 8,
			Lots: []domain.Lot{
				{ID: "lot-gaseosa-a", Quantity: 20, ExpiryDate: expiry(240), ReceivedAt: now.AddDate(0, 0, -10)},
			},
		},
	}

	productMap := make(map[string]domain.Product, len(products))
	for i := range products {
		products[i].Stock = allocator.TotalQuantity(products[i].Lots)
		slices.SortStableFunc(products[i].Lots, allocator.CompareLots)
		productMap[products[i].ID] = products[i]
	}

	return &Store{
		productsByID:    productMap,
		salesByID:       make(map[string]domain.Sale),
		movementsByUser: make(map[string][]domain.CashMovement),
		registerStates:  make(map[string]domain.RegisterState),
		customersByID:   make(map[string]domain.Customer),
		suppliersByID:   make(map[string]domain.Supplier),
		ordersByID:      make(map[string]domain.SupplierOrder),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewEmpty returns a store with no seed data; tests that need a blank slate
// use it instead of NewSeeded.
func NewEmpty() *Store {
	s := NewSeeded()
	s.mu.Lock()
	s.productsByID = make(map[string]domain.Product)
	s.mu.Unlock()
	return s
}

func (s *Store) ListProducts(_ context.Context, marketID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if marketID != "" && p.MarketID != marketID {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(product)
	return &dup, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.MarketID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrValidation
	}
	if product.Unit != domain.UnitCount && product.Unit != domain.UnitWeight {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productsByID[product.ID]; exists {
		return nil, store.ErrValidation
	}
	product.Stock = allocator.TotalQuantity(product.Lots)
	s.productsByID[product.ID] = cloneProduct(product)
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productsByID[product.ID]; !exists {
		return nil, store.ErrNotFound
	}
	product.Stock = allocator.TotalQuantity(product.Lots)
	s.productsByID[product.ID] = cloneProduct(product)
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.productsByID, id)
	return nil
}

// SaveSettlement writes updated products first and the sale second, matching
// the documented settlement ordering. The two steps are not atomic; a failure
// after the product writes leaves stock decremented without a recorded sale,
// which callers log for manual reconciliation.
func (s *Store) SaveSettlement(_ context.Context, sale domain.Sale, products []domain.Product) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrValidation
	}

	for _, product := range products {
		if _, exists := s.productsByID[product.ID]; !exists {
			return nil, store.ErrNotFound
		}
	}
	for i := range products {
		products[i].Stock = allocator.TotalQuantity(products[i].Lots)
		s.productsByID[products[i].ID] = cloneProduct(products[i])
	}

	s.salesByID[sale.ID] = cloneSale(sale)
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) ListSales(_ context.Context, marketID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if marketID != "" && sale.MarketID != marketID {
			continue
		}
		if !from.IsZero() && sale.Date.Before(from) {
			continue
		}
		if !to.IsZero() && sale.Date.After(to) {
			continue
		}
		sales = append(sales, cloneSale(sale))
	}

	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.Date.Equal(b.Date) {
			return cmpString(a.ID, b.ID)
		}
		if a.Date.Before(b.Date) {
			return -1
		}
		return 1
	})

	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneSale(sale)
	return &dup, nil
}

func (s *Store) MarkSalePaid(_ context.Context, saleID string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.PaymentMethod != domain.PaymentCurrentAccount {
		return nil, store.ErrValidation
	}

	sale.PaymentMethod = domain.PaymentPaidCurrentAccount
	paidAt := at.UTC()
	sale.PaidDate = &paidAt
	s.salesByID[saleID] = sale

	dup := cloneSale(sale)
	return &dup, nil
}

func (s *Store) GetRegisterState(_ context.Context, user string) (domain.RegisterState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.registerStates[user]
	if !exists {
		return domain.RegisterState{User: user, State: domain.RegisterNull}, nil
	}
	return state, nil
}

func (s *Store) PutRegisterState(_ context.Context, state domain.RegisterState) error {
	if state.User == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.registerStates[state.User] = state
	return nil
}

func (s *Store) AppendCashMovement(_ context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	if movement.User == "" || (movement.Type != domain.MovementOpening && movement.Type != domain.MovementClosing) {
		return nil, store.ErrValidation
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.Date.IsZero() {
		movement.Date = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.movementsByUser[movement.User] = append(s.movementsByUser[movement.User], cloneMovement(movement))
	created := cloneMovement(movement)
	return &created, nil
}

func (s *Store) UpdateCashMovement(_ context.Context, movement domain.CashMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	movements := s.movementsByUser[movement.User]
	for i := range movements {
		if movements[i].ID == movement.ID {
			movements[i] = cloneMovement(movement)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ListCashMovements(_ context.Context, user string) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := s.movementsByUser[user]
	result := make([]domain.CashMovement, 0, len(movements))
	for _, movement := range movements {
		result = append(result, cloneMovement(movement))
	}
	return result, nil
}

func (s *Store) FindOpenOpeningMovement(_ context.Context, user string) (*domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := s.movementsByUser[user]
	for i := len(movements) - 1; i >= 0; i-- {
		if movements[i].Type == domain.MovementOpening && movements[i].Status == domain.MovementStatusOpen {
			dup := cloneMovement(movements[i])
			return &dup, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.MarketID == "" || customer.Name == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrValidation
	}
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) ListCustomers(_ context.Context, marketID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, customer := range s.customersByID {
		if marketID != "" && customer.MarketID != marketID {
			continue
		}
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if a.LastName == b.LastName {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.LastName, b.LastName)
	})
	return customers, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.MarketID == "" || supplier.Name == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.suppliersByID[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(_ context.Context, marketID string) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		if marketID != "" && supplier.MarketID != marketID {
			continue
		}
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreateSupplierOrder(_ context.Context, order domain.SupplierOrder) (*domain.SupplierOrder, error) {
	if order.MarketID == "" || order.SupplierID == "" || len(order.Items) == 0 {
		return nil, store.ErrValidation
	}
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusDraft
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ordersByID[order.ID] = cloneOrder(order)
	created := cloneOrder(order)
	return &created, nil
}

func (s *Store) GetSupplierOrder(_ context.Context, id string) (*domain.SupplierOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneOrder(order)
	return &dup, nil
}

func (s *Store) ListSupplierOrders(_ context.Context, marketID string, status string) ([]domain.SupplierOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.SupplierOrder, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if marketID != "" && order.MarketID != marketID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	slices.SortFunc(orders, func(a, b domain.SupplierOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return orders, nil
}

func (s *Store) UpdateSupplierOrder(_ context.Context, order domain.SupplierOrder) (*domain.SupplierOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ordersByID[order.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.ordersByID[order.ID] = cloneOrder(order)
	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, marketID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if marketID != "" && entry.MarketID != marketID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
	}
	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ExportSnapshot(_ context.Context) (*domain.BackupSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &domain.BackupSnapshot{
		Products:       make([]domain.Product, 0, len(s.productsByID)),
		Sales:          make([]domain.Sale, 0, len(s.salesByID)),
		Customers:      make([]domain.Customer, 0, len(s.customersByID)),
		Suppliers:      make([]domain.Supplier, 0, len(s.suppliersByID)),
		SupplierOrders: make([]domain.SupplierOrder, 0, len(s.ordersByID)),
		CashMovements:  make([]domain.CashMovement, 0, 16),
		RegisterStates: make([]domain.RegisterState, 0, len(s.registerStates)),
	}

	for _, product := range s.productsByID {
		snapshot.Products = append(snapshot.Products, cloneProduct(product))
	}
	for _, sale := range s.salesByID {
		snapshot.Sales = append(snapshot.Sales, cloneSale(sale))
	}
	for _, customer := range s.customersByID {
		snapshot.Customers = append(snapshot.Customers, customer)
	}
	for _, supplier := range s.suppliersByID {
		snapshot.Suppliers = append(snapshot.Suppliers, supplier)
	}
	for _, order := range s.ordersByID {
		snapshot.SupplierOrders = append(snapshot.SupplierOrders, cloneOrder(order))
	}
	for _, movements := range s.movementsByUser {
		for _, movement := range movements {
			snapshot.CashMovements = append(snapshot.CashMovements, cloneMovement(movement))
		}
	}
	for _, state := range s.registerStates {
		snapshot.RegisterStates = append(snapshot.RegisterStates, state)
	}

	return snapshot, nil
}

// ImportSnapshot clears each destination collection and bulk-inserts the
// snapshot's records, mirroring the export/import contract.
func (s *Store) ImportSnapshot(_ context.Context, snapshot domain.BackupSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.productsByID = make(map[string]domain.Product, len(snapshot.Products))
	for _, product := range snapshot.Products {
		s.productsByID[product.ID] = cloneProduct(product)
	}
	s.salesByID = make(map[string]domain.Sale, len(snapshot.Sales))
	for _, sale := range snapshot.Sales {
		s.salesByID[sale.ID] = cloneSale(sale)
	}
	s.customersByID = make(map[string]domain.Customer, len(snapshot.Customers))
	for _, customer := range snapshot.Customers {
		s.customersByID[customer.ID] = customer
	}
	s.suppliersByID = make(map[string]domain.Supplier, len(snapshot.Suppliers))
	for _, supplier := range snapshot.Suppliers {
		s.suppliersByID[supplier.ID] = supplier
	}
	s.ordersByID = make(map[string]domain.SupplierOrder, len(snapshot.SupplierOrders))
	for _, order := range snapshot.SupplierOrders {
		s.ordersByID[order.ID] = cloneOrder(order)
	}
	s.movementsByUser = make(map[string][]domain.CashMovement)
	for _, movement := range snapshot.CashMovements {
		s.movementsByUser[movement.User] = append(s.movementsByUser[movement.User], cloneMovement(movement))
	}
	for _, movements := range s.movementsByUser {
		slices.SortFunc(movements, func(a, b domain.CashMovement) int {
			if a.Date.Equal(b.Date) {
				return cmpString(a.ID, b.ID)
			}
			if a.Date.Before(b.Date) {
				return -1
			}
			return 1
		})
	}
	s.registerStates = make(map[string]domain.RegisterState, len(snapshot.RegisterStates))
	for _, state := range snapshot.RegisterStates {
		s.registerStates[state.User] = state
	}

	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	lots := make([]domain.Lot, len(src.Lots))
	copy(lots, src.Lots)
	for i := range lots {
		if lots[i].ExpiryDate != nil {
			expiry := lots[i].ExpiryDate.UTC()
			lots[i].ExpiryDate = &expiry
		}
	}
	dup.Lots = lots
	return dup
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	if src.PaidDate != nil {
		paid := src.PaidDate.UTC()
		dup.PaidDate = &paid
	}
	return dup
}

func cloneMovement(src domain.CashMovement) domain.CashMovement {
	dup := src
	denominations := make(map[int]int, len(src.Denominations))
	for denom, count := range src.Denominations {
		denominations[denom] = count
	}
	dup.Denominations = denominations
	return dup
}

func cloneOrder(src domain.SupplierOrder) domain.SupplierOrder {
	dup := src
	items := make([]domain.SupplierOrderItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}
