package domain

import "time"

const (
	RoleAdmin    = "admin"
	RoleMarket   = "market"
	RoleVendedor = "vendedor"
)

// Session is the explicit identity every scoped operation receives. It is
// carried through context by the service layer; nothing reads ambient
// globals.
type Session struct {
	Username string
	Role     string
	MarketID string
}

type Capability string

const (
	CapManageProducts  Capability = "manage_products"
	CapRecordSales     Capability = "record_sales"
	CapOperateRegister Capability = "operate_register"
	CapManageAccounts  Capability = "manage_accounts"
	CapManageSuppliers Capability = "manage_suppliers"
	CapViewReports     Capability = "view_reports"
	CapAdminData       Capability = "admin_data"
)

// HasCapability is a pure role-to-capability check over an explicit session.
func HasCapability(session Session, capability Capability) bool {
	switch session.Role {
	case RoleAdmin:
		return true
	case RoleMarket:
		return capability != CapAdminData
	case RoleVendedor:
		switch capability {
		case CapRecordSales, CapOperateRegister, CapViewReports:
			return true
		}
	}
	return false
}

type Unit string

const (
	// UnitCount products are stocked and sold in whole pieces.
	UnitCount Unit = "count"
	// UnitWeight products are stocked and sold in integer grams; the list
	// price is per kilogram.
	UnitWeight Unit = "weight"
)

// Lot is a dated batch of stock owned by exactly one product. Quantity is in
// the product's sub-unit (pieces or grams). A nil ExpiryDate means the lot
// never expires and sorts after every dated lot.
type Lot struct {
	ID         string     `json:"id"`
	Quantity   int        `json:"quantity"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

type Product struct {
	ID            string  `json:"id"`
	MarketID      string  `json:"market_id"`
	Name          string  `json:"name"`
	Unit          Unit    `json:"unit"`
	PriceCents    int64   `json:"price_cents"`
	CostCents     int64   `json:"cost_cents"`
	MarkupPercent float64 `json:"markup_percent"`
	MinStock      int     `json:"min_stock"`
	Stock         int     `json:"stock"`
	Lots          []Lot   `json:"lots"`
}

const (
	PaymentCash               = "cash"
	PaymentDebit              = "debit"
	PaymentCredit             = "credit"
	PaymentTransfer           = "transfer"
	PaymentCurrentAccount     = "current_account"
	PaymentPaidCurrentAccount = "paid_current_account"
)

// SaleItem references a product by id; for weight products Quantity is the
// gram count and PriceCents is the per-kilogram list price.
type SaleItem struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	PriceCents    int64  `json:"price_cents"`
	Quantity      int    `json:"quantity"`
	SubtotalCents int64  `json:"subtotal_cents"`
	Unit          Unit   `json:"unit"`
}

type Sale struct {
	ID            string     `json:"id"`
	MarketID      string     `json:"market_id"`
	Date          time.Time  `json:"date"`
	PaymentMethod string     `json:"payment_method"`
	Items         []SaleItem `json:"items"`
	TotalCents    int64      `json:"total_cents"`
	SubtotalCents int64      `json:"subtotal_cents"`
	TaxCents      int64      `json:"tax_cents"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerDNI   string     `json:"customer_dni,omitempty"`
	PaidDate      *time.Time `json:"paid_date,omitempty"`
}

const (
	MovementOpening = "opening"
	MovementClosing = "closing"
)

const (
	MovementStatusOpen   = "open"
	MovementStatusClosed = "closed"
)

// CashMovement is one entry in a user's register ledger. Closing movements
// additionally carry the expected total and the signed counted-minus-expected
// difference.
type CashMovement struct {
	ID                 string      `json:"id"`
	Type               string      `json:"type"`
	Date               time.Time   `json:"date"`
	User               string      `json:"user"`
	MarketID           string      `json:"market_id"`
	Denominations      map[int]int `json:"denominations"`
	TotalCents         int64       `json:"total_cents"`
	ExpectedTotalCents int64       `json:"expected_total_cents,omitempty"`
	DifferenceCents    int64       `json:"difference_cents,omitempty"`
	Status             string      `json:"status"`
}

const (
	RegisterNull   = ""
	RegisterOpen   = "open"
	RegisterClosed = "closed"
)

// RegisterState is the per-user singleton tracking the drawer lifecycle.
type RegisterState struct {
	User  string `json:"user"`
	State string `json:"state"`
}

type Customer struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	Name      string    `json:"name"`
	LastName  string    `json:"last_name"`
	DNI       string    `json:"dni"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CUIT      string    `json:"cuit"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	OrderStatusDraft    = "draft"
	OrderStatusReceived = "received"
)

type SupplierOrderItem struct {
	ProductID  string     `json:"product_id"`
	Quantity   int        `json:"quantity"`
	CostCents  int64      `json:"cost_cents"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

type SupplierOrder struct {
	ID         string              `json:"id"`
	MarketID   string              `json:"market_id"`
	SupplierID string              `json:"supplier_id"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	ReceivedBy string              `json:"received_by,omitempty"`
	Items      []SupplierOrderItem `json:"items"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	MarketID  string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"market_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	MarketID        string  `json:"market_id"`
	Name            string  `json:"name"`
	Unit            Unit    `json:"unit"`
	CostCents       int64   `json:"cost_cents"`
	MarkupPercent   float64 `json:"markup_percent"`
	MinStock        int     `json:"min_stock"`
	InitialQuantity int     `json:"initial_quantity"`
	ExpiryDate      string  `json:"expiry_date,omitempty"`
}

type ProductUpdateRequest struct {
	Name          *string  `json:"name,omitempty"`
	CostCents     *int64   `json:"cost_cents,omitempty"`
	MarkupPercent *float64 `json:"markup_percent,omitempty"`
	MinStock      *int     `json:"min_stock,omitempty"`
}

type LotReceiveRequest struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiry_date,omitempty"`
}

// SaleLineRequest carries the requested deduction for one product. For weight
// products Quantity is the integer gram count.
type SaleLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SaleRequest struct {
	MarketID          string            `json:"market_id"`
	PaymentMethod     string            `json:"payment_method"`
	CashReceivedCents int64             `json:"cash_received_cents"`
	CustomerName      string            `json:"customer_name,omitempty"`
	CustomerDNI       string            `json:"customer_dni,omitempty"`
	Items             []SaleLineRequest `json:"items"`
}

type SaleResponse struct {
	Sale        Sale  `json:"sale"`
	ChangeCents int64 `json:"change_cents"`
}

type RegisterOpenRequest struct {
	Denominations map[int]int `json:"denominations"`
}

type RegisterCloseRequest struct {
	Denominations map[int]int `json:"denominations"`
}

type RegisterStatusResponse struct {
	State     string         `json:"state"`
	Movements []CashMovement `json:"movements"`
}

type CustomerCreateRequest struct {
	MarketID string `json:"market_id"`
	Name     string `json:"name"`
	LastName string `json:"last_name"`
	DNI      string `json:"dni"`
	Phone    string `json:"phone"`
}

type SupplierCreateRequest struct {
	MarketID string `json:"market_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	CUIT     string `json:"cuit"`
}

type SupplierOrderCreateRequest struct {
	MarketID   string              `json:"market_id"`
	SupplierID string              `json:"supplier_id"`
	Items      []SupplierOrderItem `json:"items"`
}

// DebtorAccount is a read-side projection of unpaid current-account sales for
// one customer identity.
type DebtorAccount struct {
	CustomerName   string `json:"customer_name"`
	CustomerDNI    string `json:"customer_dni"`
	SaleCount      int    `json:"sale_count"`
	TotalOwedCents int64  `json:"total_owed_cents"`
	Sales          []Sale `json:"sales"`
}

type PaymentTotal struct {
	PaymentMethod string `json:"payment_method"`
	SaleCount     int64  `json:"sale_count"`
	TotalCents    int64  `json:"total_cents"`
}

type SalesSummary struct {
	MarketID   string         `json:"market_id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	SaleCount  int64          `json:"sale_count"`
	TotalCents int64          `json:"total_cents"`
	ByPayment  []PaymentTotal `json:"by_payment"`
}

const (
	AlertLowStock   = "low_stock"
	AlertNearExpiry = "near_expiry"
)

type StockAlert struct {
	ProductID     string     `json:"product_id"`
	Name          string     `json:"name"`
	Code          string     `json:"code"`
	Stock         int        `json:"stock"`
	MinStock      int        `json:"min_stock"`
	NearestExpiry *time.Time `json:"nearest_expiry,omitempty"`
}

// BackupSnapshot is the full-export format: one JSON object mapping each
// collection name to that collection's records. Import replaces collections
// wholesale.
type BackupSnapshot struct {
	Products       []Product       `json:"products"`
	Sales          []Sale          `json:"sales"`
	Customers      []Customer      `json:"customers"`
	Suppliers      []Supplier      `json:"suppliers"`
	SupplierOrders []SupplierOrder `json:"supplier_orders"`
	CashMovements  []CashMovement  `json:"cash_movements"`
	RegisterStates []RegisterState `json:"register_states"`
}

// SyncResult reports the outcome of a remote sync attempt.
type SyncResult struct {
	Status         string `json:"status"`
	PendingChanges int    `json:"pending_changes"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	MarketID    string `json:"market_id"`
	ExpiresAt   string `json:"expires_at"`
}
