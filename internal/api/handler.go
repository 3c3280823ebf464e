package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"invoice-service/internal/invoice"
	"invoice-service/internal/models"
	"invoice-service/internal/service"
	"invoice-service/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	invoiceSecretHeader = "X-Invoice-Secret"
	maxWebhookBody      = 1 << 20
)

// WebhookProcessor verifies and processes a raw payment event.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// InvoiceIssuer builds and delivers a caller-supplied invoice.
type InvoiceIssuer interface {
	Issue(ctx context.Context, req *models.InvoiceRequest) (*models.InvoiceResult, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	webhooks      WebhookProcessor
	invoices      InvoiceIssuer
	db            Pinger
	invoiceSecret string
	limiter       *RateLimiter
}

// NewHandler creates a new HTTP handler
func NewHandler(webhooks WebhookProcessor, invoices InvoiceIssuer, db Pinger, invoiceSecret string, limiter *RateLimiter) *Handler {
	return &Handler{
		webhooks:      webhooks,
		invoices:      invoices,
		db:            db,
		invoiceSecret: invoiceSecret,
		limiter:       limiter,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/payments", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/invoices", h.limiter.Limit(), h.requireInvoiceSecret(), h.createInvoice)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// paymentWebhook answers 400 only when the signature fails. Later failures
// are absorbed and still answer 200. Bodies over 1 MiB answer 413.
func (h *Handler) paymentWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	err = h.webhooks.HandleWebhook(c.Request.Context(), payload, c.GetHeader(webhook.SignatureHeader))
	if errors.Is(err, webhook.ErrInvalidSignature) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// createInvoice handles direct invoice construction
func (h *Handler) createInvoice(c *gin.Context) {
	var req models.InvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.invoices.Issue(c.Request.Context(), &req)
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid invoice request",
			"details": err.Error(),
		})
	case errors.Is(err, invoice.ErrRender):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render invoice"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store invoice"})
	default:
		c.JSON(http.StatusOK, result)
	}
}

// requireInvoiceSecret compares the shared secret in constant time. An
// empty configured secret rejects every request.
func (h *Handler) requireInvoiceSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(invoiceSecretHeader)
		if h.invoiceSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.invoiceSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
