package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/matheusmosca/lessons-webstore/internal/catalog"
)

// Product is a lesson offered in the webstore.
type Product struct {
	ID                 string  `json:"_id"`
	Title              string  `json:"title"`
	Description        string  `json:"description"`
	Price              float64 `json:"price"`
	AvailableInventory int     `json:"availableInventory"`
	Location           string  `json:"location"`
}

// Order is an immutable record of a fully reserved purchase.
type Order struct {
	ID           string    `json:"_id"`
	ProductIDs   []string  `json:"productIds"`
	CustomerName string    `json:"customerName"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	Date         time.Time `json:"date"`
}

// NewOrder builds the order committed once every line item has been reserved.
// The ledger assigns the ID.
func NewOrder(productIDs []string, customerName, phoneNumber string, date time.Time) *Order {
	ids := make([]string, len(productIDs))
	copy(ids, productIDs)

	return &Order{
		ProductIDs:   ids,
		CustomerName: customerName,
		PhoneNumber:  phoneNumber,
		Date:         date,
	}
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	ProductIDs   []string `json:"productIds"`
	CustomerName string   `json:"customerName"`
	PhoneNumber  string   `json:"phoneNumber"`
}

// Product attribute names accepted by SetFields.
const (
	FieldTitle              = "title"
	FieldDescription        = "description"
	FieldPrice              = "price"
	FieldAvailableInventory = "availableInventory"
	FieldLocation           = "location"
)

// ProductFields is a validated set of attribute overwrites keyed by JSON name.
// Text fields hold strings, price a float64, availableInventory an int.
type ProductFields map[string]any

// ParseProductFields validates an update payload.
func ParseProductFields(raw map[string]any) (ProductFields, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("update payload is empty")
	}

	fields := make(ProductFields, len(raw))
	for name, value := range raw {
		switch name {
		case FieldTitle, FieldDescription, FieldLocation:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", name)
			}
			fields[name] = s
		case FieldPrice:
			n, ok := value.(float64)
			if !ok || n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
				return nil, fmt.Errorf("price must be a non-negative number")
			}
			fields[name] = n
		case FieldAvailableInventory:
			n, ok := value.(float64)
			if !ok || n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
				return nil, fmt.Errorf("availableInventory must be a non-negative integer")
			}
			fields[name] = int(n)
		default:
			return nil, fmt.Errorf("unknown product field %q", name)
		}
	}

	return fields, nil
}

// Names returns the field names in a stable order.
func (f ProductFields) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply overwrites the matching attributes of p.
func (f ProductFields) Apply(p *Product) {
	for name, value := range f {
		switch name {
		case FieldTitle:
			p.Title = value.(string)
		case FieldDescription:
			p.Description = value.(string)
		case FieldLocation:
			p.Location = value.(string)
		case FieldPrice:
			p.Price = value.(float64)
		case FieldAvailableInventory:
			p.AvailableInventory = value.(int)
		}
	}
}

// ProductSort orders product listings.
type ProductSort struct {
	Field      string
	Descending bool
}

var sortableFields = map[string]bool{
	FieldTitle:              true,
	FieldPrice:              true,
	FieldLocation:           true,
	FieldAvailableInventory: true,
}

// DefaultProductSort lists products by title, ascending.
var DefaultProductSort = ProductSort{Field: FieldTitle}

// ParseProductSort reads the sortBy/order query parameters.
func ParseProductSort(sortBy, order string) (ProductSort, error) {
	s := DefaultProductSort
	if sortBy != "" {
		if !sortableFields[sortBy] {
			return s, fmt.Errorf("cannot sort by %q", sortBy)
		}
		s.Field = sortBy
	}

	switch strings.ToLower(order) {
	case "", "asc":
	case "desc":
		s.Descending = true
	default:
		return s, fmt.Errorf("order must be asc or desc")
	}

	return s, nil
}

// MatchesQuery reports whether the product matches a search query: a
// case-insensitive substring of its title, description or location.
func (p Product) MatchesQuery(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(p.Title), q) ||
		strings.Contains(strings.ToLower(p.Description), q) ||
		strings.Contains(strings.ToLower(p.Location), q)
}

// SampleLessons converts the starting catalog into products for the memory store.
func SampleLessons() []Product {
	lessons := catalog.SampleLessons()
	products := make([]Product, 0, len(lessons))
	for _, l := range lessons {
		products = append(products, Product{
			Title:              l.Title,
			Description:        l.Description,
			Price:              l.Price,
			AvailableInventory: l.AvailableInventory,
			Location:           l.Location,
		})
	}
	return products
}
