package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary_Check(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		wantErr string
	}{
		{"sold out cleanly", Summary{InitialStock: 5, Created: 5, FinalStock: 0}, ""},
		{"partial", Summary{InitialStock: 5, Created: 2, FinalStock: 3}, ""},
		{"oversold", Summary{InitialStock: 5, Created: 6, FinalStock: 0}, "oversold"},
		{"negative", Summary{InitialStock: 5, Created: 5, FinalStock: -1}, "negative"},
		{"lost unit", Summary{InitialStock: 5, Created: 2, FinalStock: 2}, "mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.summary.Check()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// fakeStore serves the two endpoints the load test calls.
func fakeStore(t *testing.T, stock int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]product{{ID: "p1", Title: "Math Lesson", AvailableInventory: stock}})
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if stock == 0 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(apiError{Error: "out of stock", Reason: "out_of_stock", ProductID: "p1"})
			return
		}
		stock--
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"Order created","orderId":"o"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_TalliesOutcomes(t *testing.T) {
	// Arrange
	srv := fakeStore(t, 3)
	client := resty.New().SetBaseURL(srv.URL)
	ctx := context.Background()

	target, err := findProduct(ctx, client, "")
	require.NoError(t, err)

	// Act
	summary := run(ctx, client, target, 10, 4)
	final, err := findProduct(ctx, client, "p1")
	require.NoError(t, err)
	summary.FinalStock = final.AvailableInventory

	// Assert
	assert.Equal(t, 3, summary.Created)
	assert.Equal(t, 7, summary.OutOfStock)
	assert.Zero(t, summary.OtherErrors)
	assert.NoError(t, summary.Check())
}

func TestFindProduct_Unknown(t *testing.T) {
	srv := fakeStore(t, 1)
	client := resty.New().SetBaseURL(srv.URL)

	_, err := findProduct(context.Background(), client, "nope")

	assert.Error(t, err)
}
