package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   pgQuerier
}

// NewPostgresStore creates a store over the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		db:   pool,
	}
}

var productColumns = map[string]string{
	FieldTitle:              "title",
	FieldDescription:        "description",
	FieldPrice:              "price",
	FieldAvailableInventory: "available_inventory",
	FieldLocation:           "location",
}

const productSelect = `
		SELECT id, title, description, price, available_inventory, location
		FROM products`

// GetStock busca o estoque atual de um produto
func (r *PostgresStore) GetStock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := r.db.QueryRow(ctx, `
		SELECT available_inventory FROM products WHERE id = $1
	`, productID).Scan(&stock)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("failed to get stock: %w", err)
	}
	return stock, nil
}

// ReserveOne decrements the stock in a single conditional UPDATE. The row lock
// taken by the UPDATE serialises concurrent reservations of the same product and
// the predicate is re-checked against the latest committed row.
func (r *PostgresStore) ReserveOne(ctx context.Context, productID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET available_inventory = available_inventory - 1,
		    updated_at = NOW()
		WHERE id = $1 AND available_inventory >= 1
	`, productID)
	if err != nil {
		return fmt.Errorf("failed to decrease stock: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return nil
	}

	exists, err := r.productExists(ctx, productID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrProductNotFound
	}
	return ErrInsufficientStock
}

// ReleaseOne devolve uma unidade ao estoque (compensação)
func (r *PostgresStore) ReleaseOne(ctx context.Context, productID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET available_inventory = available_inventory + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, productID)
	if err != nil {
		return fmt.Errorf("failed to increase stock: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *PostgresStore) productExists(ctx context.Context, productID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check product: %w", err)
	}
	return exists, nil
}

// Append insere o pedido no ledger
func (r *PostgresStore) Append(ctx context.Context, order *Order) (string, error) {
	orderID := uuid.New().String()

	_, err := r.db.Exec(ctx, `
		INSERT INTO orders (id, product_ids, customer_name, phone_number, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, orderID, order.ProductIDs, order.CustomerName, order.PhoneNumber, order.Date)
	if err != nil {
		return "", fmt.Errorf("failed to insert order: %w", err)
	}

	return orderID, nil
}

// GetOrder busca um pedido pelo ID
func (r *PostgresStore) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	err := r.db.QueryRow(ctx, `
		SELECT id, product_ids, customer_name, phone_number, created_at
		FROM orders WHERE id = $1
	`, orderID).Scan(&order.ID, &order.ProductIDs, &order.CustomerName, &order.PhoneNumber, &order.Date)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (r *PostgresStore) ListProducts(ctx context.Context, sort ProductSort) ([]Product, error) {
	return r.queryProducts(ctx, productSelect+orderByClause(sort))
}

func (r *PostgresStore) SearchProducts(ctx context.Context, query string, sort ProductSort) ([]Product, error) {
	pattern := "%" + escapeLike(query) + "%"
	return r.queryProducts(ctx, productSelect+`
		WHERE title ILIKE $1 OR description ILIKE $1 OR location ILIKE $1`+orderByClause(sort), pattern)
}

func (r *PostgresStore) queryProducts(ctx context.Context, query string, args ...any) ([]Product, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Price, &p.AvailableInventory, &p.Location); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// SetFields aplica uma atualização administrativa aos atributos do produto
func (r *PostgresStore) SetFields(ctx context.Context, productID string, fields ProductFields) (*Product, error) {
	names := fields.Names()
	sets := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)
	for i, name := range names {
		sets = append(sets, fmt.Sprintf("%s = $%d", productColumns[name], i+1))
		args = append(args, fields[name])
	}
	args = append(args, productID)

	query := fmt.Sprintf(`
		UPDATE products
		SET %s, updated_at = NOW()
		WHERE id = $%d
		RETURNING id, title, description, price, available_inventory, location
	`, strings.Join(sets, ", "), len(args))

	var p Product
	err := r.db.QueryRow(ctx, query, args...).Scan(&p.ID, &p.Title, &p.Description, &p.Price, &p.AvailableInventory, &p.Location)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return &p, nil
}

func (r *PostgresStore) ValidProductID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// WithinTx runs fn inside one database transaction. Any error rolls back every
// reservation and the order insert together.
func (r *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, inventory InventoryStore, ledger OrderLedger) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	txStore := &PostgresStore{pool: r.pool, db: tx}
	if err := fn(ctx, txStore, txStore); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresStore) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func orderByClause(sort ProductSort) string {
	column, ok := productColumns[sort.Field]
	if !ok {
		column = "title"
	}
	direction := "ASC"
	if sort.Descending {
		direction = "DESC"
	}
	return fmt.Sprintf("\n\t\tORDER BY %s %s, id", column, direction)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
