package main

import (
	"context"
	"errors"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOrderNotFound     = errors.New("order not found")
)

// InventoryStore holds the stock count of every product.
type InventoryStore interface {
	// GetStock returns the current stock of a product.
	GetStock(ctx context.Context, productID string) (int, error)

	// ReserveOne decrements the stock by one iff it is at least one, as a single
	// indivisible read-modify-write. Returns ErrInsufficientStock or
	// ErrProductNotFound when nothing was decremented.
	ReserveOne(ctx context.Context, productID string) error

	// ReleaseOne increments the stock by one. It undoes a successful ReserveOne.
	ReleaseOne(ctx context.Context, productID string) error
}

// OrderLedger is the append-only collection of committed orders.
type OrderLedger interface {
	// Append stores the order and returns its newly assigned ID.
	Append(ctx context.Context, order *Order) (string, error)

	// GetOrder fetches a committed order.
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

// ProductCatalog serves the product listing, search and administrative update.
type ProductCatalog interface {
	ListProducts(ctx context.Context, sort ProductSort) ([]Product, error)
	SearchProducts(ctx context.Context, query string, sort ProductSort) ([]Product, error)

	// SetFields overwrites product attributes and returns the matched product.
	SetFields(ctx context.Context, productID string, fields ProductFields) (*Product, error)

	// ValidProductID reports whether id is well formed for this backend.
	ValidProductID(id string) bool
}

// Transactor is implemented by stores that can run several inventory and ledger
// operations as one atomic commit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, inventory InventoryStore, ledger OrderLedger) error) error
}

// Store is a backend serving every collaborator of the webstore.
type Store interface {
	InventoryStore
	OrderLedger
	ProductCatalog
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
