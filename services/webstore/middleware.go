package main

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RequestLogger logs every request with its method, URL and client IP.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.InfoContext(c.Request.Context(), c.Request.Method+" "+c.Request.URL.RequestURI(),
			"ip", c.ClientIP(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

// CORS allows the storefront to call the API from any origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+IdempotencyHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// HTTPMetrics are the prometheus request metrics of the API, registered on a
// private registry.
type HTTPMetrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	latencyMS *prometheus.HistogramVec
}

func NewHTTPMetrics(service string) *HTTPMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webstore",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "webstore",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		requests,
		latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &HTTPMetrics{
		registry:  registry,
		requests:  requests,
		latencyMS: latency,
	}
}

func (m *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		m.requests.WithLabelValues(handler, strconv.Itoa(c.Writer.Status())).Inc()
		m.latencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func (m *HTTPMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RouterConfig reúne as dependências do roteador HTTP
type RouterConfig struct {
	ServiceName string
	ImagesDir   string
	Orders      *OrderHandler
	Products    *ProductHandler
	Health      gin.HandlerFunc
	Metrics     *HTTPMetrics
}

// NewRouter wires middleware and routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(CORS())
	r.Use(RequestLogger())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	if cfg.Health != nil {
		r.GET("/health", cfg.Health)
	}
	if cfg.ImagesDir != "" {
		r.GET("/images/*filepath", ImagesHandler(cfg.ImagesDir))
		r.HEAD("/images/*filepath", ImagesHandler(cfg.ImagesDir))
	}

	r.GET("/products", cfg.Products.ListProducts)
	r.PUT("/products/:id", cfg.Products.UpdateProduct)
	r.GET("/search", cfg.Products.SearchProducts)

	r.POST("/orders", cfg.Orders.CreateOrder)
	r.GET("/orders/:id", cfg.Orders.GetOrder)

	return r
}
