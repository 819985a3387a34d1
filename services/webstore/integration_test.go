//go:build integration

package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSchema = `
CREATE TABLE products (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	price               DOUBLE PRECISION NOT NULL DEFAULT 0,
	available_inventory INTEGER NOT NULL CHECK (available_inventory >= 0),
	location            TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE orders (
	id            TEXT PRIMARY KEY,
	product_ids   TEXT[] NOT NULL,
	customer_name TEXT NOT NULL,
	phone_number  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);`

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "root",
				"POSTGRES_PASSWORD": "pass",
				"POSTGRES_DB":       "webstore",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := Config{
		DatabaseUser:     "root",
		DatabasePassword: "pass",
		DatabaseHost:     host,
		DatabasePort:     port.Port(),
		DatabaseName:     "webstore",
	}
	pool, err := initDB(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, testSchema)
	require.NoError(t, err)
	return pool
}

func insertProduct(t *testing.T, pool *pgxpool.Pool, p Product) string {
	t.Helper()
	id := uuid.New().String()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO products (id, title, description, price, available_inventory, location)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, p.Title, p.Description, p.Price, p.AvailableInventory, p.Location)
	require.NoError(t, err)
	return id
}

func TestPostgresStore_PlaceOrder(t *testing.T) {
	pool := startPostgres(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	for _, mode := range []string{OrderModeSaga, OrderModeTransaction} {
		t.Run(mode, func(t *testing.T) {
			// Arrange
			x := insertProduct(t, pool, Product{Title: "Math Lesson", AvailableInventory: 2, Location: "London"})
			y := insertProduct(t, pool, Product{Title: "Science Lesson", AvailableInventory: 0, Location: "Manchester"})
			uc := NewOrderUseCase(store, store, nil, nil, PlacementPolicy{
				CallTimeout:    2 * time.Second,
				ValidProductID: store.ValidProductID,
			})
			if mode == OrderModeTransaction {
				uc.UseTransactions(store)
			}

			// Act
			_, failErr := uc.PlaceOrder(ctx, CreateOrderRequest{ProductIDs: []string{x, y}, CustomerName: "Ada"})
			orderID, okErr := uc.PlaceOrder(ctx, CreateOrderRequest{ProductIDs: []string{x, x}, CustomerName: "Ada"})

			// Assert
			assertKind(t, failErr, FailureOutOfStock, y)
			require.NoError(t, okErr)

			stock, err := store.GetStock(ctx, x)
			require.NoError(t, err)
			assert.Equal(t, 0, stock)

			order, err := store.GetOrder(ctx, orderID)
			require.NoError(t, err)
			assert.Equal(t, []string{x, x}, order.ProductIDs)
		})
	}
}

func TestPostgresStore_ConcurrentLastUnit(t *testing.T) {
	// Arrange
	pool := startPostgres(t)
	store := NewPostgresStore(pool)
	x := insertProduct(t, pool, Product{Title: "History Lesson", AvailableInventory: 1})
	uc := NewOrderUseCase(store, store, nil, nil, PlacementPolicy{ValidProductID: store.ValidProductID})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	// Act
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := uc.PlaceOrder(context.Background(), CreateOrderRequest{
				ProductIDs:   []string{x},
				CustomerName: fmt.Sprintf("buyer-%d", i),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// Assert
	assert.Equal(t, 1, succeeded)
	stock, err := store.GetStock(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
}

func TestPostgresStore_Catalog(t *testing.T) {
	// Arrange
	pool := startPostgres(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()
	var ids []string
	for _, p := range SampleLessons() {
		ids = append(ids, insertProduct(t, pool, p))
	}

	// Act
	byPrice, err := store.ListProducts(ctx, ProductSort{Field: FieldPrice, Descending: true})
	require.NoError(t, err)
	found, err := store.SearchProducts(ctx, "manCHESTER", DefaultProductSort)
	require.NoError(t, err)
	wildcard, err := store.SearchProducts(ctx, "%", DefaultProductSort)
	require.NoError(t, err)
	updated, err := store.SetFields(ctx, ids[0], ProductFields{FieldPrice: 99.0, FieldTitle: "Algebra"})
	require.NoError(t, err)
	_, missingErr := store.SetFields(ctx, uuid.New().String(), ProductFields{FieldPrice: 1.0})

	// Assert
	require.Len(t, byPrice, 3)
	assert.Equal(t, 60.0, byPrice[0].Price)
	require.Len(t, found, 1)
	assert.Equal(t, "Science Lesson", found[0].Title)
	assert.Empty(t, wildcard)
	assert.Equal(t, "Algebra", updated.Title)
	assert.Equal(t, 99.0, updated.Price)
	assert.ErrorIs(t, missingErr, ErrProductNotFound)
}

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisProductCache_InvalidateDropsListings(t *testing.T) {
	// Arrange
	client := startRedis(t)
	cache := NewRedisProductCache(client, "webstore", time.Minute)
	ctx := context.Background()

	loads := 0
	load := func() ([]Product, error) {
		loads++
		return []Product{{ID: "p1", AvailableInventory: 10 - loads}}, nil
	}

	// Act
	first, err := cache.Load(ctx, "list", load)
	require.NoError(t, err)
	second, err := cache.Load(ctx, "list", load)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx))
	third, err := cache.Load(ctx, "list", load)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, first, second)
	assert.Equal(t, 2, loads)
	assert.Equal(t, 8, third[0].AvailableInventory)
}

func TestRedisIdempotencyStore(t *testing.T) {
	// Arrange
	client := startRedis(t)
	store := NewRedisIdempotencyStore(client, "webstore", time.Minute, 5*time.Second)
	ctx := context.Background()

	// Act & Assert
	existing, err := store.Begin(ctx, "k1")
	require.NoError(t, err)
	assert.Empty(t, existing)

	_, err = store.Begin(ctx, "k1")
	assert.ErrorIs(t, err, ErrIdempotencyInFlight)

	require.NoError(t, store.Complete(ctx, "k1", "order-1"))
	existing, err = store.Begin(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", existing)

	_, err = store.Begin(ctx, "k2")
	require.NoError(t, err)
	require.NoError(t, store.Abandon(ctx, "k2"))
	existing, err = store.Begin(ctx, "k2")
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestRedisIdempotencyStore_PendingClaimExpiresQuickly(t *testing.T) {
	// Arrange
	client := startRedis(t)
	store := NewRedisIdempotencyStore(client, "webstore", time.Hour, 5*time.Second)
	ctx := context.Background()

	// Act
	_, err := store.Begin(ctx, "crashed")
	require.NoError(t, err)
	pending, err := client.TTL(ctx, "webstore:idempotency:crashed").Result()
	require.NoError(t, err)

	_, err = store.Begin(ctx, "finished")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "finished", "order-1"))
	completed, err := client.TTL(ctx, "webstore:idempotency:finished").Result()
	require.NoError(t, err)

	// Assert
	assert.Greater(t, pending, time.Duration(0))
	assert.LessOrEqual(t, pending, 5*time.Second)
	assert.Greater(t, completed, 5*time.Second)
	assert.LessOrEqual(t, completed, time.Hour)
}

func startMongo(t *testing.T) *MongoStore {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "mongodb")
	require.NoError(t, err)

	client, err := initMongo(ctx, Config{MongoURI: endpoint, MongoDatabase: "webstore"})
	require.NoError(t, err)

	store := NewMongoStore(client, "webstore")
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	require.NoError(t, store.EnsureIndexes(ctx))
	return store
}

func insertMongoProduct(t *testing.T, store *MongoStore, p Product) string {
	t.Helper()
	oid := primitive.NewObjectID()
	_, err := store.products.InsertOne(context.Background(), productDocument{
		ID:                 oid,
		Title:              p.Title,
		Description:        p.Description,
		Price:              p.Price,
		AvailableInventory: p.AvailableInventory,
		Location:           p.Location,
	})
	require.NoError(t, err)
	return oid.Hex()
}

func TestMongoStore_PlaceOrderAndCatalog(t *testing.T) {
	// Arrange
	store := startMongo(t)
	ctx := context.Background()
	x := insertMongoProduct(t, store, Product{Title: "Math Lesson", Price: 50, AvailableInventory: 2, Location: "London"})
	y := insertMongoProduct(t, store, Product{Title: "Science Lesson", Price: 60, AvailableInventory: 0, Location: "Manchester"})
	uc := NewOrderUseCase(store, store, nil, nil, PlacementPolicy{ValidProductID: store.ValidProductID})

	// Act
	_, failErr := uc.PlaceOrder(ctx, CreateOrderRequest{ProductIDs: []string{x, y}, CustomerName: "Ada"})
	_, missingErr := uc.PlaceOrder(ctx, CreateOrderRequest{ProductIDs: []string{primitive.NewObjectID().Hex()}, CustomerName: "Ada"})
	orderID, okErr := uc.PlaceOrder(ctx, CreateOrderRequest{ProductIDs: []string{x}, CustomerName: "Ada"})
	found, searchErr := store.SearchProducts(ctx, "LONDON", DefaultProductSort)
	byPrice, listErr := store.ListProducts(ctx, ProductSort{Field: FieldPrice, Descending: true})

	// Assert
	assertKind(t, failErr, FailureOutOfStock, y)
	kind, _ := FailureKindOf(missingErr)
	assert.Equal(t, FailureProductNotFound, kind)
	require.NoError(t, okErr)

	stock, err := store.GetStock(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, 1, stock)

	order, err := store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, []string{x}, order.ProductIDs)

	require.NoError(t, searchErr)
	require.Len(t, found, 1)
	assert.Equal(t, x, found[0].ID)
	require.NoError(t, listErr)
	assert.Equal(t, y, byPrice[0].ID)
}
