package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"minimercado/backend/internal/allocator"
	"minimercado/backend/internal/domain"
	"minimercado/backend/internal/store"
	"minimercado/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Bootstrap creates the schema when it does not exist yet. Single-node
// deployments run it at startup instead of a migration tool.
func (s *Store) Bootstrap(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			name TEXT NOT NULL,
			unit TEXT NOT NULL,
			price_cents BIGINT NOT NULL,
			cost_cents BIGINT NOT NULL,
			markup_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_stock INT NOT NULL DEFAULT 0,
			stock INT NOT NULL DEFAULT 0,
			lots JSONB NOT NULL DEFAULT '[]'
		);
		CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			payment_method TEXT NOT NULL,
			items JSONB NOT NULL DEFAULT '[]',
			total_cents BIGINT NOT NULL,
			subtotal_cents BIGINT NOT NULL,
			tax_cents BIGINT NOT NULL,
			customer_name TEXT,
			customer_dni TEXT,
			paid_date TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_sales_market_date ON sales (market_id, date);
		CREATE TABLE IF NOT EXISTS cash_movements (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			username TEXT NOT NULL,
			market_id TEXT NOT NULL,
			denominations JSONB NOT NULL DEFAULT '{}',
			total_cents BIGINT NOT NULL,
			expected_total_cents BIGINT NOT NULL DEFAULT 0,
			difference_cents BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cash_movements_user ON cash_movements (username, date);
		CREATE TABLE IF NOT EXISTS register_states (
			username TEXT PRIMARY KEY,
			state TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			name TEXT NOT NULL,
			last_name TEXT,
			dni TEXT,
			phone TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS suppliers (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			name TEXT NOT NULL,
			phone TEXT,
			cuit TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS supplier_orders (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			supplier_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			received_at TIMESTAMPTZ,
			received_by TEXT,
			items JSONB NOT NULL DEFAULT '[]'
		);
		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			actor_username TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			market_id TEXT,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (s *Store) ListProducts(ctx context.Context, marketID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, name, unit, price_cents, cost_cents, markup_percent, min_stock, stock, lots
		FROM products
		WHERE $1 = '' OR market_id = $1
		ORDER BY name, id
	`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, market_id, name, unit, price_cents, cost_cents, markup_percent, min_stock, stock, lots
		FROM products
		WHERE id = $1
	`, id)

	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.MarketID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.Stock = allocator.TotalQuantity(product.Lots)

	lots, err := json.Marshal(product.Lots)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, market_id, name, unit, price_cents, cost_cents, markup_percent, min_stock, stock, lots)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.MarketID, product.Name, string(product.Unit), product.PriceCents,
		product.CostCents, product.MarkupPercent, product.MinStock, product.Stock, lots)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrValidation
	}
	product.Stock = allocator.TotalQuantity(product.Lots)

	lots, err := json.Marshal(product.Lots)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET market_id = $2, name = $3, unit = $4, price_cents = $5, cost_cents = $6,
			markup_percent = $7, min_stock = $8, stock = $9, lots = $10
		WHERE id = $1
	`, product.ID, product.MarketID, product.Name, string(product.Unit), product.PriceCents,
		product.CostCents, product.MarkupPercent, product.MinStock, product.Stock, lots)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveSettlement writes the touched products and the sale in one serializable
// transaction, so a settlement is either fully visible or not at all.
func (s *Store) SaveSettlement(ctx context.Context, sale domain.Sale, products []domain.Product) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, product := range products {
		product.Stock = allocator.TotalQuantity(product.Lots)
		lots, err := json.Marshal(product.Lots)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = $2, lots = $3, price_cents = $4, cost_cents = $5
			WHERE id = $1
		`, product.ID, product.Stock, lots, product.PriceCents, product.CostCents)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrNotFound
		}
	}

	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, market_id, date, payment_method, items, total_cents, subtotal_cents, tax_cents, customer_name, customer_dni, paid_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sale.ID, sale.MarketID, sale.Date, sale.PaymentMethod, items, sale.TotalCents,
		sale.SubtotalCents, sale.TaxCents, nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerDNI), nullTime(sale.PaidDate))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) ListSales(ctx context.Context, marketID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, date, payment_method, items, total_cents, subtotal_cents, tax_cents,
			COALESCE(customer_name, ''), COALESCE(customer_dni, ''), paid_date
		FROM sales
		WHERE ($1 = '' OR market_id = $1) AND date >= $2 AND date <= $3
		ORDER BY date, id
	`, marketID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 128)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, market_id, date, payment_method, items, total_cents, subtotal_cents, tax_cents,
			COALESCE(customer_name, ''), COALESCE(customer_dni, ''), paid_date
		FROM sales
		WHERE id = $1
	`, id)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) MarkSalePaid(ctx context.Context, saleID string, at time.Time) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales SET payment_method = $2, paid_date = $3
		WHERE id = $1 AND payment_method = $4
	`, saleID, domain.PaymentPaidCurrentAccount, at.UTC(), domain.PaymentCurrentAccount)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish a missing sale from one in the wrong payment state.
		if _, err := s.GetSale(ctx, saleID); err != nil {
			return nil, err
		}
		return nil, store.ErrValidation
	}

	return s.GetSale(ctx, saleID)
}

func (s *Store) GetRegisterState(ctx context.Context, user string) (domain.RegisterState, error) {
	var state domain.RegisterState
	err := s.db.QueryRowContext(ctx, `
		SELECT username, state FROM register_states WHERE username = $1
	`, user).Scan(&state.User, &state.State)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RegisterState{User: user, State: domain.RegisterNull}, nil
	}
	if err != nil {
		return domain.RegisterState{}, err
	}
	return state, nil
}

func (s *Store) PutRegisterState(ctx context.Context, state domain.RegisterState) error {
	if state.User == "" {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO register_states (username, state)
		VALUES ($1,$2)
		ON CONFLICT (username) DO UPDATE SET state = EXCLUDED.state
	`, state.User, state.State)
	return err
}

func (s *Store) AppendCashMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	if movement.User == "" || (movement.Type != domain.MovementOpening && movement.Type != domain.MovementClosing) {
		return nil, store.ErrValidation
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.Date.IsZero() {
		movement.Date = time.Now().UTC()
	}

	denominations, err := json.Marshal(movement.Denominations)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cash_movements (id, type, date, username, market_id, denominations, total_cents, expected_total_cents, difference_cents, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, movement.ID, movement.Type, movement.Date, movement.User, movement.MarketID,
		denominations, movement.TotalCents, movement.ExpectedTotalCents, movement.DifferenceCents, movement.Status)
	if err != nil {
		return nil, err
	}

	created := movement
	return &created, nil
}

func (s *Store) UpdateCashMovement(ctx context.Context, movement domain.CashMovement) error {
	denominations, err := json.Marshal(movement.Denominations)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE cash_movements
		SET denominations = $2, total_cents = $3, expected_total_cents = $4, difference_cents = $5, status = $6
		WHERE id = $1
	`, movement.ID, denominations, movement.TotalCents, movement.ExpectedTotalCents, movement.DifferenceCents, movement.Status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCashMovements(ctx context.Context, user string) ([]domain.CashMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, date, username, market_id, denominations, total_cents, expected_total_cents, difference_cents, status
		FROM cash_movements
		WHERE username = $1
		ORDER BY date, id
	`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 16)
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) FindOpenOpeningMovement(ctx context.Context, user string) (*domain.CashMovement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, date, username, market_id, denominations, total_cents, expected_total_cents, difference_cents, status
		FROM cash_movements
		WHERE username = $1 AND type = $2 AND status = $3
		ORDER BY date DESC
		LIMIT 1
	`, user, domain.MovementOpening, domain.MovementStatusOpen)

	movement, err := scanMovement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &movement, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.MarketID == "" || customer.Name == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, market_id, name, last_name, dni, phone, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.MarketID, customer.Name, customer.LastName, customer.DNI, customer.Phone, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) ListCustomers(ctx context.Context, marketID string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, name, COALESCE(last_name, ''), COALESCE(dni, ''), COALESCE(phone, ''), created_at
		FROM customers
		WHERE $1 = '' OR market_id = $1
		ORDER BY last_name, name
	`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var customer domain.Customer
		if err := rows.Scan(&customer.ID, &customer.MarketID, &customer.Name, &customer.LastName, &customer.DNI, &customer.Phone, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.MarketID == "" || supplier.Name == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, market_id, name, phone, cuit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, supplier.ID, supplier.MarketID, supplier.Name, supplier.Phone, supplier.CUIT, supplier.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(ctx context.Context, marketID string) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, name, COALESCE(phone, ''), COALESCE(cuit, ''), created_at
		FROM suppliers
		WHERE $1 = '' OR market_id = $1
		ORDER BY name
	`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.MarketID, &supplier.Name, &supplier.Phone, &supplier.CUIT, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) CreateSupplierOrder(ctx context.Context, order domain.SupplierOrder) (*domain.SupplierOrder, error) {
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

	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO supplier_orders (id, market_id, supplier_id, status, created_at, received_at, received_by, items)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, order.ID, order.MarketID, order.SupplierID, order.Status, order.CreatedAt,
		nullTime(order.ReceivedAt), nullIfEmpty(order.ReceivedBy), items)
	if err != nil {
		return nil, err
	}

	created := order
	return &created, nil
}

func (s *Store) GetSupplierOrder(ctx context.Context, id string) (*domain.SupplierOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, market_id, supplier_id, status, created_at, received_at, COALESCE(received_by, ''), items
		FROM supplier_orders
		WHERE id = $1
	`, id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListSupplierOrders(ctx context.Context, marketID string, status string) ([]domain.SupplierOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, supplier_id, status, created_at, received_at, COALESCE(received_by, ''), items
		FROM supplier_orders
		WHERE ($1 = '' OR market_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at, id
	`, marketID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.SupplierOrder, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) UpdateSupplierOrder(ctx context.Context, order domain.SupplierOrder) (*domain.SupplierOrder, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE supplier_orders
		SET status = $2, received_at = $3, received_by = $4, items = $5
		WHERE id = $1
	`, order.ID, order.Status, nullTime(order.ReceivedAt), nullIfEmpty(order.ReceivedBy), items)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := order
	return &updated, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, market_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.MarketID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, marketID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, actor_username, actor_role, action, entity_type, COALESCE(entity_id, ''), COALESCE(detail, ''), created_at
		FROM audit_logs
		WHERE ($1 = '' OR market_id = $1) AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC
		LIMIT $4
	`, marketID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.MarketID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, market_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.Role, user.MarketID, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrValidation
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, COALESCE(market_id, ''), active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.MarketID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ExportSnapshot(ctx context.Context) (*domain.BackupSnapshot, error) {
	snapshot := &domain.BackupSnapshot{}

	products, err := s.ListProducts(ctx, "")
	if err != nil {
		return nil, err
	}
	snapshot.Products = products

	sales, err := s.ListSales(ctx, "", time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	snapshot.Sales = sales

	customers, err := s.ListCustomers(ctx, "")
	if err != nil {
		return nil, err
	}
	snapshot.Customers = customers

	suppliers, err := s.ListSuppliers(ctx, "")
	if err != nil {
		return nil, err
	}
	snapshot.Suppliers = suppliers

	orders, err := s.ListSupplierOrders(ctx, "", "")
	if err != nil {
		return nil, err
	}
	snapshot.SupplierOrders = orders

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, date, username, market_id, denominations, total_cents, expected_total_cents, difference_cents, status
		FROM cash_movements
		ORDER BY date, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		snapshot.CashMovements = append(snapshot.CashMovements, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stateRows, err := s.db.QueryContext(ctx, `SELECT username, state FROM register_states ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer stateRows.Close()
	for stateRows.Next() {
		var state domain.RegisterState
		if err := stateRows.Scan(&state.User, &state.State); err != nil {
			return nil, err
		}
		snapshot.RegisterStates = append(snapshot.RegisterStates, state)
	}
	if err := stateRows.Err(); err != nil {
		return nil, err
	}

	return snapshot, nil
}

// ImportSnapshot truncates every data collection and bulk-inserts the
// snapshot inside one transaction. Users and audit logs are deliberately not
// part of the backup boundary.
func (s *Store) ImportSnapshot(ctx context.Context, snapshot domain.BackupSnapshot) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"products", "sales", "customers", "suppliers", "supplier_orders", "cash_movements", "register_states"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}

	for _, product := range snapshot.Products {
		lots, err := json.Marshal(product.Lots)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, market_id, name, unit, price_cents, cost_cents, markup_percent, min_stock, stock, lots)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, product.ID, product.MarketID, product.Name, string(product.Unit), product.PriceCents,
			product.CostCents, product.MarkupPercent, product.MinStock, allocator.TotalQuantity(product.Lots), lots); err != nil {
			return err
		}
	}
	for _, sale := range snapshot.Sales {
		items, err := json.Marshal(sale.Items)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales (id, market_id, date, payment_method, items, total_cents, subtotal_cents, tax_cents, customer_name, customer_dni, paid_date)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, sale.ID, sale.MarketID, sale.Date, sale.PaymentMethod, items, sale.TotalCents,
			sale.SubtotalCents, sale.TaxCents, nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerDNI), nullTime(sale.PaidDate)); err != nil {
			return err
		}
	}
	for _, customer := range snapshot.Customers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO customers (id, market_id, name, last_name, dni, phone, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, customer.ID, customer.MarketID, customer.Name, customer.LastName, customer.DNI, customer.Phone, customer.CreatedAt); err != nil {
			return err
		}
	}
	for _, supplier := range snapshot.Suppliers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO suppliers (id, market_id, name, phone, cuit, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, supplier.ID, supplier.MarketID, supplier.Name, supplier.Phone, supplier.CUIT, supplier.CreatedAt); err != nil {
			return err
		}
	}
	for _, order := range snapshot.SupplierOrders {
		items, err := json.Marshal(order.Items)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO supplier_orders (id, market_id, supplier_id, status, created_at, received_at, received_by, items)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, order.ID, order.MarketID, order.SupplierID, order.Status, order.CreatedAt,
			nullTime(order.ReceivedAt), nullIfEmpty(order.ReceivedBy), items); err != nil {
			return err
		}
	}
	for _, movement := range snapshot.CashMovements {
		denominations, err := json.Marshal(movement.Denominations)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cash_movements (id, type, date, username, market_id, denominations, total_cents, expected_total_cents, difference_cents, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, movement.ID, movement.Type, movement.Date, movement.User, movement.MarketID,
			denominations, movement.TotalCents, movement.ExpectedTotalCents, movement.DifferenceCents, movement.Status); err != nil {
			return err
		}
	}
	for _, state := range snapshot.RegisterStates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO register_states (username, state) VALUES ($1,$2)
		`, state.User, state.State); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	var unit string
	var lots []byte
	if err := row.Scan(&product.ID, &product.MarketID, &product.Name, &unit, &product.PriceCents,
		&product.CostCents, &product.MarkupPercent, &product.MinStock, &product.Stock, &lots); err != nil {
		return domain.Product{}, err
	}
	product.Unit = domain.Unit(unit)
	if err := json.Unmarshal(lots, &product.Lots); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var items []byte
	var paidDate sql.NullTime
	if err := row.Scan(&sale.ID, &sale.MarketID, &sale.Date, &sale.PaymentMethod, &items,
		&sale.TotalCents, &sale.SubtotalCents, &sale.TaxCents, &sale.CustomerName, &sale.CustomerDNI, &paidDate); err != nil {
		return domain.Sale{}, err
	}
	sale.Date = sale.Date.UTC()
	if paidDate.Valid {
		paid := paidDate.Time.UTC()
		sale.PaidDate = &paid
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func scanMovement(row rowScanner) (domain.CashMovement, error) {
	var movement domain.CashMovement
	var denominations []byte
	if err := row.Scan(&movement.ID, &movement.Type, &movement.Date, &movement.User, &movement.MarketID,
		&denominations, &movement.TotalCents, &movement.ExpectedTotalCents, &movement.DifferenceCents, &movement.Status); err != nil {
		return domain.CashMovement{}, err
	}
	movement.Date = movement.Date.UTC()
	if err := json.Unmarshal(denominations, &movement.Denominations); err != nil {
		return domain.CashMovement{}, err
	}
	return movement, nil
}

func scanOrder(row rowScanner) (domain.SupplierOrder, error) {
	var order domain.SupplierOrder
	var items []byte
	var receivedAt sql.NullTime
	if err := row.Scan(&order.ID, &order.MarketID, &order.SupplierID, &order.Status, &order.CreatedAt,
		&receivedAt, &order.ReceivedBy, &items); err != nil {
		return domain.SupplierOrder{}, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	if receivedAt.Valid {
		received := receivedAt.Time.UTC()
		order.ReceivedAt = &received
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return domain.SupplierOrder{}, err
	}
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
