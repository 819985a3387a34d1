package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FailureKind classifies why an order was not placed.
type FailureKind string

const (
	FailureInvalidRequest  FailureKind = "invalid_request"
	FailureProductNotFound FailureKind = "product_not_found"
	FailureOutOfStock      FailureKind = "out_of_stock"
	FailurePersistence     FailureKind = "persistence_failure"
)

// PlacementError is returned by PlaceOrder for every failed request. ProductID
// names the offending line item when there is one.
type PlacementError struct {
	Kind      FailureKind
	ProductID string
	Reason    string
	Err       error
}

func (e *PlacementError) Error() string {
	switch e.Kind {
	case FailureInvalidRequest:
		return "invalid request: " + e.Reason
	case FailureProductNotFound:
		return fmt.Sprintf("product %s not found", e.ProductID)
	case FailureOutOfStock:
		return fmt.Sprintf("product %s is out of stock", e.ProductID)
	default:
		if e.ProductID != "" {
			return fmt.Sprintf("failed to reserve product %s: %v", e.ProductID, e.Err)
		}
		return fmt.Sprintf("failed to persist order: %v", e.Err)
	}
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

// FailureKindOf extracts the failure kind of a PlaceOrder error.
func FailureKindOf(err error) (FailureKind, bool) {
	var pe *PlacementError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

func invalidRequest(reason string) *PlacementError {
	return &PlacementError{Kind: FailureInvalidRequest, Reason: reason}
}

// PlacementPolicy holds the deployment-specific rules of order placement.
type PlacementPolicy struct {
	// RequirePhoneNumber rejects requests without a contact number.
	RequirePhoneNumber bool
	// CallTimeout bounds every individual store call. Zero disables it.
	CallTimeout time.Duration
	// ValidProductID reports whether an identifier is well formed.
	ValidProductID func(id string) bool
}

// OrderUseCase places orders. Every line item reserves one unit of stock with
// an atomic conditional decrement; the order is appended to the ledger only
// when all reservations succeed, otherwise the reservations already made are
// released in reverse order.
type OrderUseCase struct {
	inventory  InventoryStore
	ledger     OrderLedger
	transactor Transactor
	publisher  OrderPublisher
	cache      ProductCache
	policy     PlacementPolicy
	tracer     trace.Tracer
	metrics    *placementMetrics
	now        func() time.Time
}

// NewOrderUseCase cria uma nova instância de OrderUseCase
func NewOrderUseCase(
	inventory InventoryStore,
	ledger OrderLedger,
	publisher OrderPublisher,
	cache ProductCache,
	policy PlacementPolicy,
) *OrderUseCase {
	if publisher == nil {
		publisher = NoopOrderPublisher{}
	}
	if cache == nil {
		cache = NoopProductCache{}
	}
	if policy.ValidProductID == nil {
		policy.ValidProductID = func(id string) bool { return strings.TrimSpace(id) != "" }
	}

	return &OrderUseCase{
		inventory: inventory,
		ledger:    ledger,
		publisher: publisher,
		cache:     cache,
		policy:    policy,
		tracer:    defaultTracer(),
		metrics:   newPlacementMetrics(defaultMeter()),
		now:       time.Now,
	}
}

// UseTransactions makes PlaceOrder run every reservation and the ledger append
// inside one store transaction instead of compensating on failure.
func (uc *OrderUseCase) UseTransactions(t Transactor) *OrderUseCase {
	uc.transactor = t
	return uc
}

func (uc *OrderUseCase) mode() string {
	if uc.transactor != nil {
		return "transaction"
	}
	return "saga"
}

// PlaceOrder validates the request, reserves stock for every line item and
// records the order. It returns the new order ID or a *PlacementError.
func (uc *OrderUseCase) PlaceOrder(ctx context.Context, req CreateOrderRequest) (string, error) {
	ctx, span := uc.tracer.Start(ctx, "place_order")
	defer span.End()

	start := time.Now()
	span.SetAttributes(
		attribute.Int("order.line_items", len(req.ProductIDs)),
		attribute.String("order.mode", uc.mode()),
	)

	order, err := uc.place(ctx, req)
	uc.metrics.recordOutcome(ctx, float64(time.Since(start).Microseconds())/1000, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "order placement failed",
			"customer_name", req.CustomerName,
			"line_items", len(req.ProductIDs),
			"error", err,
		)
		return "", err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	slog.InfoContext(ctx, "order committed", "order_id", order.ID, "line_items", len(order.ProductIDs))

	uc.afterCommit(ctx, order)
	return order.ID, nil
}

func (uc *OrderUseCase) place(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if err := uc.validate(req); err != nil {
		return nil, err
	}

	if uc.transactor != nil {
		return uc.placeInTransaction(ctx, req)
	}
	return uc.placeWithCompensation(ctx, req)
}

func (uc *OrderUseCase) validate(req CreateOrderRequest) error {
	if len(req.ProductIDs) == 0 {
		return invalidRequest("productIds must be a non-empty list")
	}
	for _, id := range req.ProductIDs {
		if !uc.policy.ValidProductID(id) {
			return &PlacementError{
				Kind:      FailureInvalidRequest,
				ProductID: id,
				Reason:    fmt.Sprintf("invalid product id %q", id),
			}
		}
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return invalidRequest("customerName is required")
	}
	if uc.policy.RequirePhoneNumber && strings.TrimSpace(req.PhoneNumber) == "" {
		return invalidRequest("phoneNumber is required")
	}
	return nil
}

func (uc *OrderUseCase) placeWithCompensation(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	reserved := make([]string, 0, len(req.ProductIDs))

	for _, productID := range req.ProductIDs {
		if err := uc.reserve(ctx, uc.inventory, productID); err != nil {
			uc.compensate(ctx, reserved)
			return nil, err
		}
		reserved = append(reserved, productID)
	}

	order := NewOrder(req.ProductIDs, req.CustomerName, req.PhoneNumber, uc.now())
	orderID, err := uc.commit(ctx, uc.ledger, order)
	if err != nil {
		uc.compensate(ctx, reserved)
		return nil, err
	}

	order.ID = orderID
	return order, nil
}

func (uc *OrderUseCase) placeInTransaction(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var committed *Order

	err := uc.transactor.WithinTx(ctx, func(ctx context.Context, inventory InventoryStore, ledger OrderLedger) error {
		for _, productID := range req.ProductIDs {
			if err := uc.reserve(ctx, inventory, productID); err != nil {
				return err
			}
		}

		order := NewOrder(req.ProductIDs, req.CustomerName, req.PhoneNumber, uc.now())
		orderID, err := uc.commit(ctx, ledger, order)
		if err != nil {
			return err
		}
		order.ID = orderID
		committed = order
		return nil
	})
	if err != nil {
		if _, ok := FailureKindOf(err); ok {
			return nil, err
		}
		return nil, &PlacementError{Kind: FailurePersistence, Err: err}
	}

	return committed, nil
}

// callContext bounds a single store call by the call timeout. The call is
// detached from the caller: once issued it runs to completion, so a store
// that applied the change always reports it back.
func (uc *OrderUseCase) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if uc.policy.CallTimeout > 0 {
		return context.WithTimeout(ctx, uc.policy.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// reserve takes one unit of stock. A cancelled caller stops further
// reservations, but a call already issued still completes. Only a timed-out
// call counts as a failed reservation that is never compensated.
func (uc *OrderUseCase) reserve(ctx context.Context, inventory InventoryStore, productID string) error {
	if err := ctx.Err(); err != nil {
		return &PlacementError{Kind: FailurePersistence, ProductID: productID, Err: err}
	}

	callCtx, cancel := uc.callContext(ctx)
	defer cancel()

	err := inventory.ReserveOne(callCtx, productID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrProductNotFound):
		return &PlacementError{Kind: FailureProductNotFound, ProductID: productID, Err: err}
	case errors.Is(err, ErrInsufficientStock):
		return &PlacementError{Kind: FailureOutOfStock, ProductID: productID, Err: err}
	default:
		return &PlacementError{Kind: FailurePersistence, ProductID: productID, Err: err}
	}
}

func (uc *OrderUseCase) commit(ctx context.Context, ledger OrderLedger, order *Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &PlacementError{Kind: FailurePersistence, Err: err}
	}

	callCtx, cancel := uc.callContext(ctx)
	defer cancel()

	orderID, err := ledger.Append(callCtx, order)
	if err != nil {
		return "", &PlacementError{Kind: FailurePersistence, Err: err}
	}
	return orderID, nil
}

// compensate releases the given reservations, most recent first. It runs on a
// context detached from the caller so a cancelled request still gives its
// stock back.
func (uc *OrderUseCase) compensate(ctx context.Context, reserved []string) {
	if len(reserved) == 0 {
		return
	}

	ctx, span := uc.tracer.Start(context.WithoutCancel(ctx), "compensate_reservations")
	defer span.End()
	span.SetAttributes(attribute.Int("reservations", len(reserved)))

	for i := len(reserved) - 1; i >= 0; i-- {
		productID := reserved[i]

		callCtx, cancel := uc.callContext(ctx)
		err := uc.inventory.ReleaseOne(callCtx, productID)
		cancel()

		if err != nil {
			span.RecordError(err)
			uc.metrics.compensationFailures.Add(ctx, 1)
			slog.ErrorContext(ctx, "CRITICAL: failed to release reservation",
				"product_id", productID,
				"error", err,
			)
			continue
		}
		uc.metrics.released.Add(ctx, 1)
	}
}

func (uc *OrderUseCase) afterCommit(ctx context.Context, order *Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := uc.cache.Invalidate(ctx); err != nil {
		slog.WarnContext(ctx, "failed to invalidate product cache", "error", err)
	}
	if err := uc.publisher.PublishOrderPlaced(ctx, order); err != nil {
		slog.ErrorContext(ctx, "failed to publish order event", "order_id", order.ID, "error", err)
	}
}

// GetOrder busca um pedido já registrado
func (uc *OrderUseCase) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return uc.ledger.GetOrder(ctx, orderID)
}

var (
	ErrInvalidProductID = errors.New("invalid product id")
	ErrInvalidUpdate    = errors.New("invalid update payload")
)

// ProductUseCase serves the catalog, reading through the product cache.
type ProductUseCase struct {
	catalog ProductCatalog
	cache   ProductCache
	tracer  trace.Tracer
}

// NewProductUseCase cria uma nova instância de ProductUseCase
func NewProductUseCase(catalog ProductCatalog, cache ProductCache) *ProductUseCase {
	if cache == nil {
		cache = NoopProductCache{}
	}
	return &ProductUseCase{
		catalog: catalog,
		cache:   cache,
		tracer:  defaultTracer(),
	}
}

func (uc *ProductUseCase) ListProducts(ctx context.Context, sort ProductSort) ([]Product, error) {
	ctx, span := uc.tracer.Start(ctx, "list_products")
	defer span.End()

	key := fmt.Sprintf("list:%s:%t", sort.Field, sort.Descending)
	return uc.cached(ctx, key, func() ([]Product, error) {
		return uc.catalog.ListProducts(ctx, sort)
	})
}

func (uc *ProductUseCase) SearchProducts(ctx context.Context, query string, sort ProductSort) ([]Product, error) {
	ctx, span := uc.tracer.Start(ctx, "search_products")
	defer span.End()
	span.SetAttributes(attribute.String("search.query", query))

	key := fmt.Sprintf("search:%s:%t:%s", sort.Field, sort.Descending, strings.ToLower(query))
	return uc.cached(ctx, key, func() ([]Product, error) {
		return uc.catalog.SearchProducts(ctx, query, sort)
	})
}

func (uc *ProductUseCase) cached(ctx context.Context, key string, load func() ([]Product, error)) ([]Product, error) {
	return uc.cache.Load(ctx, key, load)
}

// UpdateProduct overwrites product attributes from a raw JSON payload and
// returns the updated product with the applied fields.
func (uc *ProductUseCase) UpdateProduct(ctx context.Context, productID string, raw map[string]any) (*Product, ProductFields, error) {
	ctx, span := uc.tracer.Start(ctx, "update_product")
	defer span.End()

	if !uc.catalog.ValidProductID(productID) {
		return nil, nil, ErrInvalidProductID
	}

	fields, err := ParseProductFields(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}

	product, err := uc.catalog.SetFields(ctx, productID, fields)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	if err := uc.cache.Invalidate(ctx); err != nil {
		slog.WarnContext(ctx, "failed to invalidate product cache", "error", err)
	}

	slog.InfoContext(ctx, "product updated", "product_id", productID, "fields", fields.Names())
	return product, fields, nil
}
