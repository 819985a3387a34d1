package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type productDocument struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	Title              string             `bson:"title"`
	Description        string             `bson:"description"`
	Price              float64            `bson:"price"`
	AvailableInventory int                `bson:"availableInventory"`
	Location           string             `bson:"location"`
}

func (d productDocument) toProduct() Product {
	return Product{
		ID:                 d.ID.Hex(),
		Title:              d.Title,
		Description:        d.Description,
		Price:              d.Price,
		AvailableInventory: d.AvailableInventory,
		Location:           d.Location,
	}
}

type orderDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	ProductIDs   []string           `bson:"productIds"`
	CustomerName string             `bson:"customerName"`
	PhoneNumber  string             `bson:"phoneNumber,omitempty"`
	Date         time.Time          `bson:"date"`
}

// MongoStore implements Store on the products and orders collections.
type MongoStore struct {
	client   *mongo.Client
	products *mongo.Collection
	orders   *mongo.Collection
}

// NewMongoStore creates a store over the named database.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:   client,
		products: db.Collection("products"),
		orders:   db.Collection("orders"),
	}
}

// EnsureIndexes creates the indexes used by listing sorts and search.
func (r *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := r.products.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: FieldTitle, Value: 1}}},
		{Keys: bson.D{{Key: FieldPrice, Value: 1}}},
		{Keys: bson.D{{Key: FieldAvailableInventory, Value: 1}}},
		{Keys: bson.D{{Key: FieldLocation, Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}
	return nil
}

func (r *MongoStore) GetStock(ctx context.Context, productID string) (int, error) {
	oid, err := primitive.ObjectIDFromHex(productID)
	if err != nil {
		return 0, ErrProductNotFound
	}

	var doc productDocument
	err = r.products.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("failed to get stock: %w", err)
	}
	return doc.AvailableInventory, nil
}

// ReserveOne decrements availableInventory with a single filtered update, so
// the stock check and the decrement are one atomic document operation.
func (r *MongoStore) ReserveOne(ctx context.Context, productID string) error {
	oid, err := primitive.ObjectIDFromHex(productID)
	if err != nil {
		return ErrProductNotFound
	}

	res, err := r.products.UpdateOne(ctx,
		bson.M{"_id": oid, FieldAvailableInventory: bson.M{"$gte": 1}},
		bson.M{"$inc": bson.M{FieldAvailableInventory: -1}},
	)
	if err != nil {
		return fmt.Errorf("failed to decrease stock: %w", err)
	}
	if res.ModifiedCount == 1 {
		return nil
	}

	n, err := r.products.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to check product: %w", err)
	}
	if n == 0 {
		return ErrProductNotFound
	}
	return ErrInsufficientStock
}

func (r *MongoStore) ReleaseOne(ctx context.Context, productID string) error {
	oid, err := primitive.ObjectIDFromHex(productID)
	if err != nil {
		return ErrProductNotFound
	}

	res, err := r.products.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$inc": bson.M{FieldAvailableInventory: 1}},
	)
	if err != nil {
		return fmt.Errorf("failed to increase stock: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *MongoStore) Append(ctx context.Context, order *Order) (string, error) {
	res, err := r.orders.InsertOne(ctx, orderDocument{
		ProductIDs:   order.ProductIDs,
		CustomerName: order.CustomerName,
		PhoneNumber:  order.PhoneNumber,
		Date:         order.Date,
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert order: %w", err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected order id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

func (r *MongoStore) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	oid, err := primitive.ObjectIDFromHex(orderID)
	if err != nil {
		return nil, ErrOrderNotFound
	}

	var doc orderDocument
	if err := r.orders.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return &Order{
		ID:           doc.ID.Hex(),
		ProductIDs:   doc.ProductIDs,
		CustomerName: doc.CustomerName,
		PhoneNumber:  doc.PhoneNumber,
		Date:         doc.Date,
	}, nil
}

func (r *MongoStore) ListProducts(ctx context.Context, sort ProductSort) ([]Product, error) {
	return r.findProducts(ctx, bson.M{}, sort)
}

func (r *MongoStore) SearchProducts(ctx context.Context, query string, sort ProductSort) ([]Product, error) {
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
	filter := bson.M{"$or": bson.A{
		bson.M{FieldTitle: pattern},
		bson.M{FieldDescription: pattern},
		bson.M{FieldLocation: pattern},
	}}
	return r.findProducts(ctx, filter, sort)
}

func (r *MongoStore) findProducts(ctx context.Context, filter bson.M, sort ProductSort) ([]Product, error) {
	direction := 1
	if sort.Descending {
		direction = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: sort.Field, Value: direction}, {Key: "_id", Value: 1}})

	cur, err := r.products.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}

	var docs []productDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}

	products := make([]Product, 0, len(docs))
	for _, d := range docs {
		products = append(products, d.toProduct())
	}
	return products, nil
}

func (r *MongoStore) SetFields(ctx context.Context, productID string, fields ProductFields) (*Product, error) {
	oid, err := primitive.ObjectIDFromHex(productID)
	if err != nil {
		return nil, ErrProductNotFound
	}

	set := bson.M{}
	for name, value := range fields {
		set[name] = value
	}

	var doc productDocument
	err = r.products.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	p := doc.toProduct()
	return &p, nil
}

func (r *MongoStore) ValidProductID(id string) bool {
	return primitive.IsValidObjectID(id)
}

// WithinTx runs fn inside a multi-document transaction. The deployment must be
// a replica set.
func (r *MongoStore) WithinTx(ctx context.Context, fn func(ctx context.Context, inventory InventoryStore, ledger OrderLedger) error) error {
	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, r, r)
	})
	return err
}

func (r *MongoStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

func (r *MongoStore) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
