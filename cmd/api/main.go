// cmd/api/main.go
package main

import (
	"cashledger/internal/auth"
	"cashledger/internal/config"
	"cashledger/internal/engine"
	"cashledger/internal/handler"
	"cashledger/internal/middleware"
	"cashledger/internal/storage"
	"cashledger/internal/storage/memory"
	"cashledger/internal/storage/postgres"
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.MustLoad()

	// The store handle is chosen once here; everything downstream is
	// handle-agnostic.
	var store storage.Store
	if cfg.DBConn != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DBConn)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(context.Background()); err != nil {
			slog.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")
		store = postgres.NewStorage(pool)
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		store = memory.NewStore()
	}

	eng := engine.New(store)
	tokenService := auth.NewTokenService(cfg)
	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/api/v1/login", func(c *gin.Context) {
		var req struct {
			UserID int64 `json:"user_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
			return
		}
		token, err := tokenService.GenerateToken(req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	cashbackHandler := handler.NewCashbackHandler(eng)
	accountHandler := handler.NewAccountHandler(store)

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware.RequireAuth())
	{
		v1.POST("/accounts", accountHandler.CreateAccount)
		v1.GET("/accounts", accountHandler.ListAccounts)
		v1.GET("/accounts/:id", accountHandler.GetAccount)

		v1.POST("/transactions", cashbackHandler.CreateTransaction)
		v1.DELETE("/transactions/:id", cashbackHandler.DeleteTransaction)

		v1.GET("/cycles", cashbackHandler.GetCycle)
		v1.GET("/cycles/list", cashbackHandler.ListCycles)
		v1.POST("/simulate", cashbackHandler.Simulate)
	}

	slog.Info("server started", "port", cfg.ServerPort)
	if err := router.Run(cfg.ServerPort); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}
