package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/greengrove/tut-engine/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Balance endpoints (requires authentication)
		balance := v1.Group("/balance", middleware.Auth(authCfg))
		{
			balance.GET("", handler.GetBalance)
			balance.GET("/transactions", handler.ListTransactions)
			balance.POST("/sync", handler.SyncBalance)
			balance.PUT("/wallet", handler.BindWallet)
			balance.GET("/activity", handler.GetChainActivity)
		}

		// Discount endpoints (requires authentication)
		discounts := v1.Group("/discounts", middleware.Auth(authCfg))
		{
			discounts.POST("/generate", handler.GenerateDiscount)
			discounts.GET("/my-discounts", handler.ListMyDiscounts)
			discounts.POST("/validate", handler.ValidateDiscount)
			discounts.POST("/apply", handler.ApplyDiscount)
		}

		// Order endpoints (requires authentication)
		orders := v1.Group("/orders", middleware.Auth(authCfg))
		{
			orders.POST("", handler.CreateOrder)
			orders.GET("", handler.ListOrders)
			orders.GET("/:id", handler.GetOrder)
			orders.POST("/:id/cancel", handler.CancelOrder)
		}

		// Admin endpoints (requires API key authentication only)
		admin := v1.Group("/admin", middleware.APIKeyAuth(authCfg))
		{
			admin.GET("/discounts", handler.AdminListDiscounts)
			admin.POST("/discounts", handler.AdminCreateDiscount)
			admin.PUT("/discounts/:id", handler.AdminUpdateDiscount)
			admin.DELETE("/discounts/:id", handler.AdminDeleteDiscount)

			admin.PUT("/orders/:id/status", handler.AdminUpdateOrderStatus)
			admin.PUT("/orders/:id/payment-status", handler.AdminUpdatePaymentStatus)

			admin.POST("/rewards", handler.AdminCreateReward)
			admin.POST("/rewards/batch", handler.AdminBatchRewards)
		}
	}
}
