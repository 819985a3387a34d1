package main

import (
	"cmp"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type memoryProduct struct {
	mu      sync.Mutex
	product Product
}

// MemoryStore keeps products and orders in process memory. Each product carries
// its own lock, so reservations on different products never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*memoryProduct

	ordersMu sync.RWMutex
	orders   map[string]*Order
}

// NewMemoryStore creates a store holding the given products. Products without an
// ID get a new UUID.
func NewMemoryStore(products ...Product) *MemoryStore {
	s := &MemoryStore{
		products: make(map[string]*memoryProduct, len(products)),
		orders:   make(map[string]*Order),
	}
	for _, p := range products {
		s.Add(p)
	}
	return s
}

// Add inserts or replaces a product and returns its ID.
func (s *MemoryStore) Add(p Product) string {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &memoryProduct{product: p}
	return p.ID
}

func (s *MemoryStore) lookup(productID string) (*memoryProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetStock(ctx context.Context, productID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p, err := s.lookup(productID)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.product.AvailableInventory, nil
}

func (s *MemoryStore) ReserveOne(ctx context.Context, productID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.lookup(productID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.product.AvailableInventory < 1 {
		return ErrInsufficientStock
	}
	p.product.AvailableInventory--
	return nil
}

func (s *MemoryStore) ReleaseOne(ctx context.Context, productID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.lookup(productID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.product.AvailableInventory++
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, order *Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stored := *order
	stored.ID = uuid.New().String()
	stored.ProductIDs = append([]string(nil), order.ProductIDs...)

	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	s.orders[stored.ID] = &stored
	return stored.ID, nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	out := *o
	out.ProductIDs = append([]string(nil), o.ProductIDs...)
	return &out, nil
}

// OrderCount returns the number of committed orders.
func (s *MemoryStore) OrderCount() int {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	return len(s.orders)
}

func (s *MemoryStore) snapshot() []Product {
	s.mu.RLock()
	entries := make([]*memoryProduct, 0, len(s.products))
	for _, p := range s.products {
		entries = append(entries, p)
	}
	s.mu.RUnlock()

	out := make([]Product, 0, len(entries))
	for _, p := range entries {
		p.mu.Lock()
		out = append(out, p.product)
		p.mu.Unlock()
	}
	return out
}

func (s *MemoryStore) ListProducts(ctx context.Context, order ProductSort) ([]Product, error) {
	products := s.snapshot()
	sortProducts(products, order)
	return products, nil
}

func (s *MemoryStore) SearchProducts(ctx context.Context, query string, order ProductSort) ([]Product, error) {
	var matched []Product
	for _, p := range s.snapshot() {
		if p.MatchesQuery(query) {
			matched = append(matched, p)
		}
	}
	sortProducts(matched, order)
	return matched, nil
}

func (s *MemoryStore) SetFields(ctx context.Context, productID string, fields ProductFields) (*Product, error) {
	p, err := s.lookup(productID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fields.Apply(&p.product)
	out := p.product
	return &out, nil
}

func (s *MemoryStore) ValidProductID(id string) bool {
	return strings.TrimSpace(id) != ""
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// sortProducts orders products by the requested field. Equal keys fall back
// to ascending id, like the SQL and Mongo listings.
func sortProducts(products []Product, order ProductSort) {
	compare := func(a, b Product) int {
		switch order.Field {
		case FieldPrice:
			return cmp.Compare(a.Price, b.Price)
		case FieldLocation:
			return cmp.Compare(a.Location, b.Location)
		case FieldAvailableInventory:
			return cmp.Compare(a.AvailableInventory, b.AvailableInventory)
		default:
			return cmp.Compare(a.Title, b.Title)
		}
	}

	sort.Slice(products, func(i, j int) bool {
		c := compare(products[i], products[j])
		if order.Descending {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return products[i].ID < products[j].ID
	})
}
