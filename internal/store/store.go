package store

import (
	"context"
	"errors"
	"time"

	"stockdesk/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateSKU      = errors.New("duplicate sku")
	ErrInvalidInput      = errors.New("invalid input")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, sku string) error
	// DecrementStock fails with ErrInsufficientStock instead of driving the
	// quantity below zero. Each call is atomic per product.
	DecrementStock(ctx context.Context, sku string, qty int) error
	CountLowStock(ctx context.Context) (int, error)
	CountNearExpiry(ctx context.Context, within time.Duration) (int, error)
	// SupportsExpiry reports whether the backing products table carries an
	// expiry column. When false the service overlays expiry dates from the
	// secondary key-value store.
	SupportsExpiry() bool

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	CreateTransactionItems(ctx context.Context, transactionID string, items []domain.TransactionItem) error
	GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)
	DeleteTransactionItems(ctx context.Context, transactionID string) error
	DeleteTransaction(ctx context.Context, id string) error

	CreateContact(ctx context.Context, contact domain.Contact) (*domain.Contact, error)
	GetContactByID(ctx context.Context, id string) (*domain.Contact, error)
	ListContacts(ctx context.Context) ([]domain.Contact, error)
	UpdateContact(ctx context.Context, contact domain.Contact) (*domain.Contact, error)
	DeleteContact(ctx context.Context, id string) error

	CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, contactID string) ([]domain.LedgerEntry, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
