package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

type product struct {
	ID                 string `json:"_id"`
	Title              string `json:"title"`
	AvailableInventory int    `json:"availableInventory"`
}

type orderRequest struct {
	ProductIDs   []string `json:"productIds"`
	CustomerName string   `json:"customerName"`
	PhoneNumber  string   `json:"phoneNumber"`
}

type apiError struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	ProductID string `json:"productId"`
}

// Summary tallies the outcome of a run against one product.
type Summary struct {
	ProductID    string
	InitialStock int
	FinalStock   int
	Created      int
	OutOfStock   int
	OtherErrors  int
	Elapsed      time.Duration
}

// Check reports an oversell or a lost unit.
func (s Summary) Check() error {
	if s.Created > s.InitialStock {
		return fmt.Errorf("oversold: %d orders created for %d units", s.Created, s.InitialStock)
	}
	if s.FinalStock < 0 {
		return fmt.Errorf("stock went negative: %d", s.FinalStock)
	}
	if want := s.InitialStock - s.Created; s.FinalStock != want {
		return fmt.Errorf("stock mismatch: expected %d after %d orders, got %d", want, s.Created, s.FinalStock)
	}
	return nil
}

func main() {
	baseURL := flag.String("url", getEnv("WEBSTORE_URL", "http://localhost:3000"), "webstore base URL")
	productID := flag.String("product", "", "product to buy (defaults to the first listed)")
	requests := flag.Int("requests", 200, "number of orders to place")
	concurrency := flag.Int("concurrency", 20, "parallel clients")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	ctx := context.Background()
	target, err := findProduct(ctx, client, *productID)
	if err != nil {
		log.Fatalf("Failed to load product: %v", err)
	}
	slog.Info("starting run",
		"product_id", target.ID,
		"title", target.Title,
		"stock", target.AvailableInventory,
		"requests", *requests,
		"concurrency", *concurrency,
	)

	summary := run(ctx, client, target, *requests, *concurrency)

	final, err := findProduct(ctx, client, target.ID)
	if err != nil {
		log.Fatalf("Failed to reload product: %v", err)
	}
	summary.FinalStock = final.AvailableInventory

	slog.Info("run finished",
		"created", summary.Created,
		"out_of_stock", summary.OutOfStock,
		"other_errors", summary.OtherErrors,
		"initial_stock", summary.InitialStock,
		"final_stock", summary.FinalStock,
		"elapsed", summary.Elapsed.String(),
	)

	if err := summary.Check(); err != nil {
		slog.Error("inventory check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("inventory check passed")
}

func findProduct(ctx context.Context, client *resty.Client, id string) (product, error) {
	var products []product
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&products).
		Get("/products")
	if err != nil {
		return product{}, err
	}
	if resp.StatusCode() != http.StatusOK {
		return product{}, fmt.Errorf("GET /products returned %d", resp.StatusCode())
	}

	for _, p := range products {
		if id == "" || p.ID == id {
			return p, nil
		}
	}
	return product{}, fmt.Errorf("product %q not listed", id)
}

func run(ctx context.Context, client *resty.Client, target product, requests, concurrency int) Summary {
	summary := Summary{ProductID: target.ID, InitialStock: target.AvailableInventory}

	jobs := make(chan int)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				status, reason := placeOrder(ctx, client, target.ID, i)

				mu.Lock()
				switch {
				case status == http.StatusCreated:
					summary.Created++
				case status == http.StatusBadRequest && reason == "out_of_stock":
					summary.OutOfStock++
				default:
					summary.OtherErrors++
				}
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	summary.Elapsed = time.Since(start)
	return summary
}

func placeOrder(ctx context.Context, client *resty.Client, productID string, n int) (int, string) {
	var failure apiError
	resp, err := client.R().
		SetContext(ctx).
		SetBody(orderRequest{
			ProductIDs:   []string{productID},
			CustomerName: fmt.Sprintf("loadtest-%d", n),
			PhoneNumber:  "0000000000",
		}).
		SetError(&failure).
		Post("/orders")
	if err != nil {
		slog.Warn("request failed", "error", err)
		return 0, ""
	}
	return resp.StatusCode(), failure.Reason
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
