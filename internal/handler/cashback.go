// internal/handler/cashback.go
package handler

import (
	"cashledger/internal/cashback"
	"cashledger/internal/domain"
	"cashledger/internal/engine"
	"cashledger/internal/storage"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	val "cashledger/internal/validator"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RewardsEngine is the engine capability the handlers need; the concrete
// *engine.Engine satisfies it, tests plug in fakes.
type RewardsEngine interface {
	ApplyTransaction(ctx context.Context, txn domain.Transaction) (*engine.ApplyResult, error)
	RemoveTransaction(ctx context.Context, transactionID string) error
	GetCycleStats(ctx context.Context, accountID, refOrTag string) (*engine.CycleStats, error)
	ListCycles(ctx context.Context, accountID string) ([]engine.CycleStats, error)
	Simulate(ctx context.Context, accountID string, amount float64, categoryID string) (*cashback.Resolution, error)
}

type CashbackHandler struct {
	engine RewardsEngine
}

func NewCashbackHandler(eng RewardsEngine) *CashbackHandler {
	return &CashbackHandler{engine: eng}
}

// CreateTransaction godoc
// @Summary Record or update a ledger transaction and refresh its cashback
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body TransactionRequest true "Transaction"
// @Success 200 {object} engine.ApplyResult
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/transactions [post]
func (h *CashbackHandler) CreateTransaction(c *gin.Context) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if err := validateStruct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	occurredAt, err := time.Parse(time.RFC3339, req.OccurredAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "occurredAt must be RFC 3339"})
		return
	}

	txn := domain.Transaction{
		ID:         req.ID,
		AccountID:  req.AccountID,
		Type:       domain.TransactionType(req.Type),
		Amount:     req.Amount,
		CategoryID: req.CategoryID,
		Note:       req.Note,
		OccurredAt: occurredAt,
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}

	result, err := h.engine.ApplyTransaction(c.Request.Context(), txn)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		slog.Error("ApplyTransaction failed", "error", err, "transaction_id", txn.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply transaction"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteTransaction godoc
// @Summary Void a transaction and recompute the cycles it touched
// @Tags transactions
// @Param id path string true "Transaction ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/transactions/{id} [delete]
func (h *CashbackHandler) DeleteTransaction(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.RemoveTransaction(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		slog.Error("RemoveTransaction failed", "error", err, "transaction_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove transaction"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetCycle godoc
// @Summary Cycle aggregates for an account and period
// @Tags cycles
// @Param account_id query string true "Account ID"
// @Param ref query string true "YYYY-MM tag or a date inside the cycle"
// @Success 200 {object} engine.CycleStats
// @Failure 404 {object} map[string]string
// @Router /api/v1/cycles [get]
func (h *CashbackHandler) GetCycle(c *gin.Context) {
	accountID := c.Query("account_id")
	ref := c.Query("ref")
	if accountID == "" || ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id and ref query params required"})
		return
	}

	stats, err := h.engine.GetCycleStats(c.Request.Context(), accountID, ref)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(err, domain.ErrCycleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no cycle for that period"})
		default:
			slog.Error("GetCycleStats failed", "error", err, "account_id", accountID, "ref", ref)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListCycles godoc
// @Summary All cycles recorded for an account
// @Tags cycles
// @Param account_id query string true "Account ID"
// @Success 200 {array} engine.CycleStats
// @Router /api/v1/cycles/list [get]
func (h *CashbackHandler) ListCycles(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id query param required"})
		return
	}
	cycles, err := h.engine.ListCycles(c.Request.Context(), accountID)
	if err != nil {
		slog.Error("ListCycles failed", "error", err, "account_id", accountID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	if cycles == nil {
		cycles = []engine.CycleStats{}
	}
	c.JSON(http.StatusOK, cycles)
}

// Simulate godoc
// @Summary Preview the rate a spend would earn right now
// @Tags cycles
// @Accept json
// @Produce json
// @Param request body SimulateRequest true "Spend to preview"
// @Success 200 {object} cashback.Resolution
// @Failure 400 {object} map[string]string
// @Router /api/v1/simulate [post]
func (h *CashbackHandler) Simulate(c *gin.Context) {
	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if err := validateStruct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.engine.Simulate(c.Request.Context(), req.AccountID, req.Amount, req.CategoryID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(err, domain.ErrNotCreditCard):
			c.JSON(http.StatusBadRequest, gin.H{"error": "account has no cashback program"})
		default:
			slog.Error("Simulate failed", "error", err, "account_id", req.AccountID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

// === DTO ===

type TransactionRequest struct {
	ID         string  `json:"id"`
	AccountID  string  `json:"accountId" validate:"required,notblank"`
	Type       string  `json:"type" validate:"required,txntype"`
	Amount     float64 `json:"amount" validate:"required"`
	CategoryID string  `json:"categoryId"`
	Note       string  `json:"note"`
	OccurredAt string  `json:"occurredAt" validate:"required"`
}

type SimulateRequest struct {
	AccountID  string  `json:"accountId" validate:"required,notblank"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
	CategoryID string  `json:"categoryId"`
}

func validateStruct(v any) error {
	if err := val.Validate.Struct(v); err != nil {
		var errs []string
		for _, e := range err.(validator.ValidationErrors) {
			errs = append(errs, fieldErrorToString(e))
		}
		return fmt.Errorf("invalid input: %s", strings.Join(errs, "; "))
	}
	return nil
}

func fieldErrorToString(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "yearmonth":
		return fmt.Sprintf("%s must be in YYYY-MM format", e.Field())
	case "notblank":
		return fmt.Sprintf("%s must not be blank", e.Field())
	case "txntype":
		return fmt.Sprintf("%s must be one of expense, income, debt, transfer", e.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", e.Field(), e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", e.Field(), e.Param())
	default:
		return fmt.Sprintf("%s is invalid", e.Field())
	}
}
