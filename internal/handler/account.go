// internal/handler/account.go
package handler

import (
	"cashledger/internal/domain"
	"cashledger/internal/storage"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountHandler is the minimal account surface the engine needs as a config
// source; full account management lives with the ledger collaborator.
type AccountHandler struct {
	store storage.AccountStorage
}

func NewAccountHandler(store storage.AccountStorage) *AccountHandler {
	return &AccountHandler{store: store}
}

type CreateAccountRequest struct {
	ID             string          `json:"id"`
	Name           string          `json:"name" validate:"required,notblank"`
	Type           string          `json:"type" validate:"required,oneof=cash bank credit_card"`
	CashbackConfig json.RawMessage `json:"cashbackConfig"`
}

// CreateAccount godoc
// @Summary Register an account (credit cards carry a cashback config blob)
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body CreateAccountRequest true "Account"
// @Success 200 {object} domain.Account
// @Failure 400 {object} map[string]string
// @Router /api/v1/accounts [post]
func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if err := validateStruct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc := domain.Account{
		ID:             req.ID,
		Name:           req.Name,
		Type:           domain.AccountType(req.Type),
		CashbackConfig: req.CashbackConfig,
		CreatedAt:      time.Now(),
	}
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}

	if err := h.store.CreateAccount(c.Request.Context(), acc); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
			return
		}
		slog.Error("CreateAccount failed", "error", err, "account_id", acc.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}
	c.JSON(http.StatusOK, acc)
}

// GetAccount godoc
// @Summary Fetch one account
// @Tags accounts
// @Param id path string true "Account ID"
// @Success 200 {object} domain.Account
// @Failure 404 {object} map[string]string
// @Router /api/v1/accounts/{id} [get]
func (h *AccountHandler) GetAccount(c *gin.Context) {
	id := c.Param("id")
	acc, err := h.store.GetAccount(c.Request.Context(), id)
	if err != nil {
		slog.Error("GetAccount failed", "error", err, "account_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	if acc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, acc)
}

// ListAccounts godoc
// @Summary List accounts
// @Tags accounts
// @Success 200 {array} domain.Account
// @Router /api/v1/accounts [get]
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.store.ListAccounts(c.Request.Context())
	if err != nil {
		slog.Error("ListAccounts failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	c.JSON(http.StatusOK, accounts)
}
