package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const IdempotencyHeader = "Idempotency-Key"

// OrderUseCaseInterface define a interface para o use case de pedidos
type OrderUseCaseInterface interface {
	PlaceOrder(ctx context.Context, req CreateOrderRequest) (string, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

// OrderHandler contém os handlers HTTP de pedidos
type OrderHandler struct {
	useCase     OrderUseCaseInterface
	idempotency IdempotencyStore
}

// NewOrderHandler cria uma nova instância de OrderHandler. idempotency may be
// nil, in which case the Idempotency-Key header is ignored.
func NewOrderHandler(useCase OrderUseCaseInterface, idempotency IdempotencyStore) *OrderHandler {
	return &OrderHandler{
		useCase:     useCase,
		idempotency: idempotency,
	}
}

// CreateOrder places an order for the requested lessons.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("order.line_items", len(req.ProductIDs)),
	)

	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	if key != "" && h.idempotency != nil {
		existing, err := h.idempotency.Begin(ctx, key)
		switch {
		case errors.Is(err, ErrIdempotencyInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			slog.ErrorContext(ctx, "idempotency store failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
			return
		case existing != "":
			c.Header("Idempotent-Replayed", "true")
			c.JSON(http.StatusCreated, gin.H{"message": "Order created", "orderId": existing})
			return
		}
	} else {
		key = ""
	}

	orderID, err := h.useCase.PlaceOrder(ctx, req)
	if err != nil {
		if key != "" {
			h.settleKey(ctx, func(ctx context.Context) error { return h.idempotency.Abandon(ctx, key) })
		}
		writePlacementError(c, err)
		return
	}

	if key != "" {
		h.settleKey(ctx, func(ctx context.Context) error { return h.idempotency.Complete(ctx, key, orderID) })
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Order created",
		"orderId": orderID,
	})
}

func (h *OrderHandler) settleKey(ctx context.Context, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.WarnContext(ctx, "failed to settle idempotency key", "error", err)
	}
}

// placementStatus maps a PlaceOrder failure to its HTTP status.
func placementStatus(err error) int {
	kind, ok := FailureKindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case FailureInvalidRequest, FailureProductNotFound, FailureOutOfStock:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writePlacementError(c *gin.Context, err error) {
	status := placementStatus(err)
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "Failed to create order", "reason": FailurePersistence})
		return
	}

	body := gin.H{"error": err.Error()}
	var pe *PlacementError
	if errors.As(err, &pe) {
		body["reason"] = pe.Kind
		if pe.ProductID != "" {
			body["productId"] = pe.ProductID
		}
	}
	c.JSON(status, body)
}

// GetOrder returns a committed order.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.useCase.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		slog.ErrorContext(c.Request.Context(), "failed to fetch order", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch order"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// ProductUseCaseInterface define a interface para o use case de produtos
type ProductUseCaseInterface interface {
	ListProducts(ctx context.Context, sort ProductSort) ([]Product, error)
	SearchProducts(ctx context.Context, query string, sort ProductSort) ([]Product, error)
	UpdateProduct(ctx context.Context, productID string, raw map[string]any) (*Product, ProductFields, error)
}

// ProductHandler contém os handlers HTTP do catálogo
type ProductHandler struct {
	useCase ProductUseCaseInterface
}

func NewProductHandler(useCase ProductUseCaseInterface) *ProductHandler {
	return &ProductHandler{useCase: useCase}
}

func (h *ProductHandler) ListProducts(c *gin.Context) {
	sort, err := ParseProductSort(c.Query("sortBy"), c.Query("order"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	products, err := h.useCase.ListProducts(c.Request.Context(), sort)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to fetch products", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch products"})
		return
	}
	if len(products) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No products found"})
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *ProductHandler) SearchProducts(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter is required"})
		return
	}

	sort, err := ParseProductSort(c.Query("sortBy"), c.Query("order"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	products, err := h.useCase.SearchProducts(c.Request.Context(), query, sort)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to search products", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search products"})
		return
	}
	if len(products) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No products found matching the search criteria"})
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid update payload"})
		return
	}

	product, fields, err := h.useCase.UpdateProduct(c.Request.Context(), c.Param("id"), raw)
	switch {
	case errors.Is(err, ErrInvalidProductID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
	case errors.Is(err, ErrInvalidUpdate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
	case err != nil:
		slog.ErrorContext(c.Request.Context(), "failed to update product", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update product"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"message":       "Product updated successfully",
			"updatedFields": fields,
			"product":       product,
		})
	}
}

// HealthCheck verifica a saúde do serviço e do banco
func HealthCheck(pinger interface{ Ping(context.Context) error }, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": serviceName,
				"error":   err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}

// ImagesHandler serves lesson images from dir and answers "Image not found"
// for anything missing.
func ImagesHandler(dir string) gin.HandlerFunc {
	fs := http.Dir(dir)
	return func(c *gin.Context) {
		name := c.Param("filepath")

		f, err := fs.Open(name)
		if err != nil {
			c.String(http.StatusNotFound, "Image not found")
			return
		}
		info, err := f.Stat()
		f.Close()
		if err != nil || info.IsDir() {
			c.String(http.StatusNotFound, "Image not found")
			return
		}

		c.FileFromFS(name, fs)
	}
}
