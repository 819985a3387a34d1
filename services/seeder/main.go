package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/matheusmosca/lessons-webstore/internal/catalog"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	price               DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (price >= 0),
	available_inventory INTEGER NOT NULL CHECK (available_inventory >= 0),
	location            TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_products_title ON products (title);
CREATE INDEX IF NOT EXISTS idx_products_location ON products (location);

CREATE TABLE IF NOT EXISTS orders (
	id            TEXT PRIMARY KEY,
	product_ids   TEXT[] NOT NULL,
	customer_name TEXT NOT NULL,
	phone_number  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

func main() {
	driver := flag.String("driver", getEnv("STORE_DRIVER", "postgres"), "postgres or mongo")
	reset := flag.Bool("reset", false, "delete existing products and orders before seeding")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var (
		seeded int
		err    error
	)
	switch *driver {
	case "postgres":
		seeded, err = seedPostgres(ctx, *reset)
	case "mongo":
		seeded, err = seedMongo(ctx, *reset)
	default:
		err = fmt.Errorf("unknown driver %q", *driver)
	}
	if err != nil {
		log.Fatalf("Failed to seed %s: %v", *driver, err)
	}

	slog.Info("seeding finished", "driver", *driver, "inserted", seeded)
}

func postgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("DATABASE_HOST", "localhost"),
		getEnv("DATABASE_PORT", "5432"),
		getEnv("DATABASE_USER", "root"),
		getEnv("DATABASE_PASSWORD", "pass"),
		getEnv("DATABASE_NAME", "webstore"),
	)
}

func seedPostgres(ctx context.Context, reset bool) (int, error) {
	db, err := sql.Open("postgres", postgresDSN())
	if err != nil {
		return 0, err
	}
	defer db.Close()

	// Aguarda o banco ficar disponível
	for i := 0; ; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		if i == 29 {
			return 0, fmt.Errorf("database not reachable: %w", err)
		}
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return 0, fmt.Errorf("failed to create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if reset {
		if _, err := tx.ExecContext(ctx, "TRUNCATE orders, products"); err != nil {
			return 0, fmt.Errorf("failed to reset tables: %w", err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		slog.Info("products already present, skipping", "count", count)
		return 0, tx.Commit()
	}

	lessons := catalog.SampleLessons()
	for _, l := range lessons {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, title, description, price, available_inventory, location)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), l.Title, l.Description, l.Price, l.AvailableInventory, l.Location)
		if err != nil {
			return 0, fmt.Errorf("failed to insert %s: %w", l.Title, err)
		}
	}

	return len(lessons), tx.Commit()
}

func lessonDocuments(lessons []catalog.Lesson) []interface{} {
	docs := make([]interface{}, 0, len(lessons))
	for _, l := range lessons {
		docs = append(docs, bson.M{
			"_id":                primitive.NewObjectID(),
			"title":              l.Title,
			"description":        l.Description,
			"price":              l.Price,
			"availableInventory": l.AvailableInventory,
			"location":           l.Location,
		})
	}
	return docs
}

func seedMongo(ctx context.Context, reset bool) (int, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(getEnv("MONGO_URI", "mongodb://localhost:27017")))
	if err != nil {
		return 0, err
	}
	defer client.Disconnect(context.Background())

	db := client.Database(getEnv("MONGO_DATABASE", "Webstore"))
	products := db.Collection("products")

	if reset {
		if _, err := products.DeleteMany(ctx, bson.M{}); err != nil {
			return 0, err
		}
		if _, err := db.Collection("orders").DeleteMany(ctx, bson.M{}); err != nil {
			return 0, err
		}
	}

	count, err := products.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		slog.Info("products already present, skipping", "count", count)
		return 0, nil
	}

	res, err := products.InsertMany(ctx, lessonDocuments(catalog.SampleLessons()))
	if err != nil {
		return 0, fmt.Errorf("failed to insert lessons: %w", err)
	}
	return len(res.InsertedIDs), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
