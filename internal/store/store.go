package store

import (
	"context"
	"errors"
	"time"

	"minimercado/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("invalid input")
	// ErrInvalidTransition marks a register operation attempted from an
	// illegal state; nothing is written and the state is unchanged.
	ErrInvalidTransition = errors.New("invalid register transition")
	// ErrInconsistentState marks a runtime invariant violation (e.g. an open
	// register without an active opening movement). It requires manual data
	// correction and is never auto-recovered.
	ErrInconsistentState = errors.New("inconsistent register state")
)

type Repository interface {
	ListProducts(ctx context.Context, marketID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	// SaveSettlement persists the updated products of a settled sale and then
	// the sale record itself. Implementations either sequence the writes in
	// that order (best effort) or wrap them in one transaction.
	SaveSettlement(ctx context.Context, sale domain.Sale, products []domain.Product) (*domain.Sale, error)
	ListSales(ctx context.Context, marketID string, from time.Time, to time.Time) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	MarkSalePaid(ctx context.Context, saleID string, at time.Time) (*domain.Sale, error)

	GetRegisterState(ctx context.Context, user string) (domain.RegisterState, error)
	PutRegisterState(ctx context.Context, state domain.RegisterState) error
	AppendCashMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error)
	UpdateCashMovement(ctx context.Context, movement domain.CashMovement) error
	ListCashMovements(ctx context.Context, user string) ([]domain.CashMovement, error)
	FindOpenOpeningMovement(ctx context.Context, user string) (*domain.CashMovement, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ListCustomers(ctx context.Context, marketID string) ([]domain.Customer, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, marketID string) ([]domain.Supplier, error)
	CreateSupplierOrder(ctx context.Context, order domain.SupplierOrder) (*domain.SupplierOrder, error)
	GetSupplierOrder(ctx context.Context, id string) (*domain.SupplierOrder, error)
	ListSupplierOrders(ctx context.Context, marketID string, status string) ([]domain.SupplierOrder, error)
	UpdateSupplierOrder(ctx context.Context, order domain.SupplierOrder) (*domain.SupplierOrder, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, marketID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	// ExportSnapshot and ImportSnapshot implement the full-backup boundary:
	// export reads every collection; import clears each destination
	// collection and bulk-inserts the snapshot's records.
	ExportSnapshot(ctx context.Context) (*domain.BackupSnapshot, error)
	ImportSnapshot(ctx context.Context, snapshot domain.BackupSnapshot) error
}
