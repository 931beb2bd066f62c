package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/trading_backend/models"
	"bitbucket.org/mmdatafocus/trading_backend/utils"
	"github.com/gin-gonic/gin"
)

// InvoiceService is the engine surface the handlers drive.
type InvoiceService interface {
	Create(ctx context.Context, input *models.NewInvoice, actor models.Actor) (*models.Invoice, error)
	Update(ctx context.Context, id int, input *models.NewInvoice, actor models.Actor) (*models.Invoice, error)
	Delete(ctx context.Context, id int, actor models.Actor) error
	ApplyPayment(ctx context.Context, invoiceId int, input *models.NewPayment, actor models.Actor) (*models.Invoice, error)
	Get(ctx context.Context, id int) (*models.Invoice, error)
	ListPayments(ctx context.Context, invoiceId int) ([]models.Payment, error)
	GetSellableStock(ctx context.Context, id int) (*models.SellableStock, error)
	GetCrateStock(ctx context.Context, id int) (*models.CrateStock, error)
	ListNotifications(ctx context.Context, recipientId int) ([]models.Notification, error)
}

type InvoiceHandler struct {
	Service InvoiceService
}

func NewInvoiceHandler(service InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{Service: service}
}

// Register mounts the invoice and stock routes. Callers put auth in front of rg.
func (h *InvoiceHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/invoices", h.CreateInvoice)
	rg.GET("/invoices/:id", h.GetInvoice)
	rg.PUT("/invoices/:id", h.UpdateInvoice)
	rg.DELETE("/invoices/:id", h.DeleteInvoice)
	rg.POST("/invoices/:id/payments", h.ApplyPayment)
	rg.GET("/invoices/:id/payments", h.ListPayments)
	rg.GET("/stocks/products/:id", h.GetSellableStock)
	rg.GET("/stocks/crates/:id", h.GetCrateStock)
	rg.GET("/notifications", h.ListNotifications)
}

func statusFor(code models.ErrorCode) int {
	switch code {
	case models.ErrorCodeValidation, models.ErrorCodeOverpayment, models.ErrorCodeAlreadyPaid:
		return http.StatusBadRequest
	case models.ErrorCodeNotFound:
		return http.StatusNotFound
	case models.ErrorCodeConflict, models.ErrorCodeInsufficientStock:
		return http.StatusConflict
	case models.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := models.ErrorCodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal server error", "code": "INTERNAL"})
		return
	}
	body := gin.H{"error": err.Error(), "code": code}
	var ise *models.InsufficientStockError
	if errors.As(err, &ise) {
		body["available"] = ise.Available
		body["requested"] = ise.Requested
	}
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	c.AbortWithStatusJSON(status, body)
}

func idParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		respondError(c, &models.ValidationError{Field: "id", Message: "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func actorOf(c *gin.Context) (models.Actor, bool) {
	actor, ok := utils.GetActorFromContext(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "UNAUTHORIZED"})
	}
	return actor, ok
}

const IdempotencyHeader = "Idempotency-Key"

// mutationContext carries the client idempotency key, if any, to the workflow.
func mutationContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if key := strings.TrimSpace(c.GetHeader(IdempotencyHeader)); key != "" {
		ctx = utils.SetIdempotencyKeyInContext(ctx, key)
	}
	return ctx
}

func bindBody(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		respondError(c, &models.ValidationError{Field: "body", Message: "is not valid JSON: " + err.Error()})
		return false
	}
	return true
}

func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.NewInvoice
	if !bindBody(c, &input) {
		return
	}
	invoice, err := h.Service.Create(mutationContext(c), &input, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

func (h *InvoiceHandler) UpdateInvoice(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	var input models.NewInvoice
	if !bindBody(c, &input) {
		return
	}
	invoice, err := h.Service.Update(c.Request.Context(), id, &input, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (h *InvoiceHandler) DeleteInvoice(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.Service.Delete(c.Request.Context(), id, actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

func (h *InvoiceHandler) ApplyPayment(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	var input models.NewPayment
	if !bindBody(c, &input) {
		return
	}
	invoice, err := h.Service.ApplyPayment(mutationContext(c), id, &input, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	invoice, err := h.Service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (h *InvoiceHandler) ListPayments(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	payments, err := h.Service.ListPayments(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

func (h *InvoiceHandler) GetSellableStock(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	stock, err := h.Service.GetSellableStock(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

func (h *InvoiceHandler) GetCrateStock(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	stock, err := h.Service.GetCrateStock(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

// ListNotifications returns the caller's own notifications.
func (h *InvoiceHandler) ListNotifications(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	rows, err := h.Service.ListNotifications(c.Request.Context(), actor.UserId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
