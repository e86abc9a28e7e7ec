package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greengrove/tut-engine/internal/api/middleware"
	"github.com/greengrove/tut-engine/internal/discount"
	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/ledger"
	"github.com/greengrove/tut-engine/internal/pricing"
)

// Handler defines the HTTP API of the TUT engine
type Handler interface {
	// HealthCheck handles GET /health
	HealthCheck(c *gin.Context)

	// GetBalance handles GET /api/v1/balance
	GetBalance(c *gin.Context)
	// ListTransactions handles GET /api/v1/balance/transactions
	ListTransactions(c *gin.Context)
	// SyncBalance handles POST /api/v1/balance/sync
	SyncBalance(c *gin.Context)
	// BindWallet handles PUT /api/v1/balance/wallet
	BindWallet(c *gin.Context)
	// GetChainActivity handles GET /api/v1/balance/activity
	GetChainActivity(c *gin.Context)

	// GenerateDiscount handles POST /api/v1/discounts/generate
	GenerateDiscount(c *gin.Context)
	// ListMyDiscounts handles GET /api/v1/discounts/my-discounts
	ListMyDiscounts(c *gin.Context)
	// ValidateDiscount handles POST /api/v1/discounts/validate
	ValidateDiscount(c *gin.Context)
	// ApplyDiscount handles POST /api/v1/discounts/apply
	ApplyDiscount(c *gin.Context)

	// CreateOrder handles POST /api/v1/orders
	CreateOrder(c *gin.Context)
	// ListOrders handles GET /api/v1/orders
	ListOrders(c *gin.Context)
	// GetOrder handles GET /api/v1/orders/:id
	GetOrder(c *gin.Context)
	// CancelOrder handles POST /api/v1/orders/:id/cancel
	CancelOrder(c *gin.Context)

	// AdminListDiscounts handles GET /api/v1/admin/discounts
	AdminListDiscounts(c *gin.Context)
	// AdminCreateDiscount handles POST /api/v1/admin/discounts
	AdminCreateDiscount(c *gin.Context)
	// AdminUpdateDiscount handles PUT /api/v1/admin/discounts/:id
	AdminUpdateDiscount(c *gin.Context)
	// AdminDeleteDiscount handles DELETE /api/v1/admin/discounts/:id
	AdminDeleteDiscount(c *gin.Context)

	// AdminUpdateOrderStatus handles PUT /api/v1/admin/orders/:id/status
	AdminUpdateOrderStatus(c *gin.Context)
	// AdminUpdatePaymentStatus handles PUT /api/v1/admin/orders/:id/payment-status
	AdminUpdatePaymentStatus(c *gin.Context)

	// AdminCreateReward handles POST /api/v1/admin/rewards
	AdminCreateReward(c *gin.Context)
	// AdminBatchRewards handles POST /api/v1/admin/rewards/batch
	AdminBatchRewards(c *gin.Context)
}

type handler struct {
	ledger     ledger.Service
	reconciler ledger.Reconciler
	discounts  discount.Service
	pricing    pricing.Service
}

// NewHandler creates a new REST handler
func NewHandler(
	ledgerSvc ledger.Service,
	reconciler ledger.Reconciler,
	discounts discount.Service,
	pricingSvc pricing.Service,
) Handler {
	return &handler{
		ledger:     ledgerSvc,
		reconciler: reconciler,
		discounts:  discounts,
		pricing:    pricingSvc,
	}
}

// HealthCheck handles GET /health
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestUserID pulls the authenticated user out of the context, aborting
// with 401 when the token carried no usable subject
func requestUserID(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondWithError(c, http.StatusUnauthorized, errCodeUnauthorized, "Authenticated user required")
		return uuid.Nil, false
	}
	return userID, true
}

// GetBalance handles GET /api/v1/balance
func (h *handler) GetBalance(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	account, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		respondInternalError(c, err, "Failed to get balance", zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, toBalanceResponse(account))
}

// ListTransactions handles GET /api/v1/balance/transactions
func (h *handler) ListTransactions(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var params PageQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	params.Clamp()

	txns, total, err := h.ledger.GetTransactions(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		respondInternalError(c, err, "Failed to list transactions", zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": toTransactionResponses(txns),
		"meta":         ListMeta{Total: total, Limit: params.Limit, Offset: params.Offset},
	})
}

// SyncBalance handles POST /api/v1/balance/sync
func (h *handler) SyncBalance(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var req SyncBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	result, err := h.reconciler.Sync(c.Request.Context(), userID, req.BlockchainBalance)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotBound) {
			respondDomainError(c, err, "Failed to sync balance")
			return
		}
		respondInternalError(c, err, "Failed to sync balance", zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, result)
}

// BindWallet handles PUT /api/v1/balance/wallet
func (h *handler) BindWallet(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var req BindWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	if err := h.reconciler.BindWallet(c.Request.Context(), userID, req.WalletAddress); err != nil {
		respondBadRequest(c, "Failed to bind wallet", err.Error())
		return
	}

	account, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		respondInternalError(c, err, "Failed to get balance", zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, toBalanceResponse(account))
}

// GetChainActivity handles GET /api/v1/balance/activity
func (h *handler) GetChainActivity(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var params ChainActivityQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	events, err := h.reconciler.ChainActivity(c.Request.Context(), userID, params.FromBlock, params.ToBlock)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotBound) {
			respondDomainError(c, err, "Failed to get activity")
			return
		}
		respondInternalError(c, err, "Failed to get activity", zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GenerateDiscount handles POST /api/v1/discounts/generate
func (h *handler) GenerateDiscount(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var req GenerateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	code, txn, err := h.discounts.GenerateFromRedemption(c.Request.Context(), userID, req.TUTAmount)
	if err != nil {
		respondDomainError(c, err, "Failed to generate discount")
		return
	}

	c.JSON(http.StatusCreated, GenerateDiscountResponse{
		Discount:    toDiscountCodeResponse(code),
		Transaction: toTransactionResponse(txn),
	})
}

// ListMyDiscounts handles GET /api/v1/discounts/my-discounts
func (h *handler) ListMyDiscounts(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var params ListMyDiscountsQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	status, ok := params.StatusFilter()
	if !ok {
		respondValidationError(c, "unknown status "+params.Status)
		return
	}
	page := PageQueryParams{Limit: params.Limit, Offset: params.Offset}
	page.Clamp()

	codes, total, err := h.discounts.ListForUser(c.Request.Context(), userID, status, page.Limit, page.Offset)
	if err != nil {
		respondInternalError(c, err, "Failed to list discounts", zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"discounts": toDiscountCodeResponses(codes),
		"meta":      ListMeta{Total: total, Limit: page.Limit, Offset: page.Offset},
	})
}

// ValidateDiscount handles POST /api/v1/discounts/validate
func (h *handler) ValidateDiscount(c *gin.Context) {
	var req ValidateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	quote, err := h.discounts.Validate(c.Request.Context(), req.Code, req.OrderAmount)
	if err != nil {
		respondDomainError(c, err, "Failed to validate discount")
		return
	}

	c.JSON(http.StatusOK, quote)
}

// ApplyDiscount handles POST /api/v1/discounts/apply
func (h *handler) ApplyDiscount(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var req ApplyDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	quote, err := h.discounts.Apply(c.Request.Context(), req.Code, userID, req.OrderID, req.OrderAmount)
	if err != nil {
		respondDomainError(c, err, "Failed to apply discount")
		return
	}

	c.JSON(http.StatusOK, quote)
}

// CreateOrder handles POST /api/v1/orders
func (h *handler) CreateOrder(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	method := domain.PaymentMethod(req.PaymentMethod)
	if !domain.IsValidPaymentMethod(method) {
		respondValidationError(c, "unknown payment method "+req.PaymentMethod)
		return
	}

	lines := make([]pricing.LineInput, 0, len(req.Items))
	for _, item := range req.Items {
		itemType := domain.ItemType(item.ItemType)
		if !domain.IsValidItemType(itemType) {
			respondValidationError(c, "unknown item type "+item.ItemType)
			return
		}
		lines = append(lines, pricing.LineInput{
			ItemType: itemType,
			ItemID:   item.ItemID,
			Quantity: item.Quantity,
		})
	}

	order, err := h.pricing.CreateOrder(c.Request.Context(), pricing.OrderInput{
		UserID:          userID,
		Items:           lines,
		PaymentMethod:   method,
		ShippingAddress: req.ShippingAddress,
		DiscountCode:    req.DiscountCode,
	})
	if err != nil {
		respondDomainError(c, err, "Failed to create order")
		return
	}

	c.JSON(http.StatusCreated, toOrderResponse(order))
}

// ListOrders handles GET /api/v1/orders
func (h *handler) ListOrders(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var params PageQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	params.Clamp()

	orders, total, err := h.pricing.ListOrders(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		respondInternalError(c, err, "Failed to list orders", zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": toOrderResponses(orders),
		"meta":   ListMeta{Total: total, Limit: params.Limit, Offset: params.Offset},
	})
}

// GetOrder handles GET /api/v1/orders/:id
func (h *handler) GetOrder(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidationError(c, "invalid order id")
		return
	}

	order, err := h.pricing.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondInternalError(c, err, "Failed to get order", zap.String("order_id", orderID.String()))
		return
	}
	// Absent orders and other users' orders are indistinguishable
	if order == nil || order.UserID != userID {
		respondNotFound(c, "Order not found")
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// CancelOrder handles POST /api/v1/orders/:id/cancel
func (h *handler) CancelOrder(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidationError(c, "invalid order id")
		return
	}

	order, err := h.pricing.CancelOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		respondDomainError(c, err, "Failed to cancel order")
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// AdminListDiscounts handles GET /api/v1/admin/discounts
func (h *handler) AdminListDiscounts(c *gin.Context) {
	var params AdminListDiscountsQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	filter, ok := params.Filter()
	if !ok {
		respondValidationError(c, "unknown status "+params.Status)
		return
	}

	codes, total, stats, err := h.discounts.AdminList(c.Request.Context(), filter)
	if err != nil {
		respondInternalError(c, err, "Failed to list discounts")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"discounts": toDiscountCodeResponses(codes),
		"stats":     stats,
		"meta":      ListMeta{Total: total, Limit: filter.Limit, Offset: filter.Offset},
	})
}

// AdminCreateDiscount handles POST /api/v1/admin/discounts
func (h *handler) AdminCreateDiscount(c *gin.Context) {
	var req AdminCreateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	code, err := h.discounts.AdminCreate(c.Request.Context(), discount.AdminCreateInput{
		Code:              req.Code,
		Percentage:        req.Percentage,
		UserID:            req.UserID,
		MaxUsage:          req.MaxUsage,
		MinOrderAmount:    req.MinOrderAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		ExpiresAt:         req.ExpiresAt,
	})
	if err != nil {
		respondDomainError(c, err, "Failed to create discount")
		return
	}

	c.JSON(http.StatusCreated, toDiscountCodeResponse(code))
}

// AdminUpdateDiscount handles PUT /api/v1/admin/discounts/:id
func (h *handler) AdminUpdateDiscount(c *gin.Context) {
	codeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidationError(c, "invalid discount id")
		return
	}

	var req AdminUpdateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	input := discount.AdminUpdateInput{
		Percentage:        req.Percentage,
		MaxUsage:          req.MaxUsage,
		MinOrderAmount:    req.MinOrderAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		ExpiresAt:         req.ExpiresAt,
	}
	if req.Status != nil {
		status := domain.DiscountStatus(*req.Status)
		if !domain.IsValidDiscountStatus(status) {
			respondValidationError(c, "unknown status "+*req.Status)
			return
		}
		input.Status = &status
	}

	code, err := h.discounts.AdminUpdate(c.Request.Context(), codeID, input)
	if err != nil {
		respondDomainError(c, err, "Failed to update discount")
		return
	}

	c.JSON(http.StatusOK, toDiscountCodeResponse(code))
}

// AdminDeleteDiscount handles DELETE /api/v1/admin/discounts/:id
func (h *handler) AdminDeleteDiscount(c *gin.Context) {
	codeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidationError(c, "invalid discount id")
		return
	}

	if err := h.discounts.AdminDelete(c.Request.Context(), codeID); err != nil {
		respondDomainError(c, err, "Failed to delete discount")
		return
	}

	c.Status(http.StatusNoContent)
}

// AdminUpdateOrderStatus handles PUT /api/v1/admin/orders/:id/status
func (h *handler) AdminUpdateOrderStatus(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidationError(c, "invalid order id")
		return
	}

	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	status := domain.OrderStatus(req.Status)
	if !domain.IsValidOrderStatus(status) {
		respondValidationError(c, "unknown status "+req.Status)
		return
	}

	order, err := h.pricing.UpdateStatus(c.Request.Context(), orderID, status)
	if err != nil {
		respondDomainError(c, err, "Failed to update order status")
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// AdminUpdatePaymentStatus handles PUT /api/v1/admin/orders/:id/payment-status
func (h *handler) AdminUpdatePaymentStatus(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidationError(c, "invalid order id")
		return
	}

	var req UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	status := domain.PaymentStatus(req.PaymentStatus)
	if !domain.IsValidPaymentStatus(status) {
		respondValidationError(c, "unknown payment status "+req.PaymentStatus)
		return
	}

	order, err := h.pricing.UpdatePaymentStatus(c.Request.Context(), orderID, status)
	if err != nil {
		respondDomainError(c, err, "Failed to update payment status")
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// AdminCreateReward handles POST /api/v1/admin/rewards
func (h *handler) AdminCreateReward(c *gin.Context) {
	var req AdminRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	reason := domain.ReasonCode(req.Reason)
	if !domain.IsValidReasonCode(reason) {
		respondValidationError(c, "unknown reason "+req.Reason)
		return
	}

	txn, balance, err := h.ledger.RecordReward(c.Request.Context(), ledger.RecordInput{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Reason:      reason,
		Description: req.Description,
	})
	if err != nil {
		respondDomainError(c, err, "Failed to record reward")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction": toTransactionResponse(txn),
		"balance":     balance,
	})
}

// AdminBatchRewards handles POST /api/v1/admin/rewards/batch
func (h *handler) AdminBatchRewards(c *gin.Context) {
	var req AdminBatchRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	reason := domain.ReasonCode(req.Reason)
	if !domain.IsValidReasonCode(reason) {
		respondValidationError(c, "unknown reason "+req.Reason)
		return
	}

	entries := make([]ledger.BatchRewardEntry, 0, len(req.Rewards))
	for _, reward := range req.Rewards {
		entries = append(entries, ledger.BatchRewardEntry{
			UserID:      reward.UserID,
			Amount:      reward.Amount,
			Description: reward.Description,
		})
	}

	txns, err := h.ledger.RecordBatchRewards(c.Request.Context(), reason, entries)
	if err != nil {
		respondDomainError(c, err, "Failed to record batch rewards")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transactions": toTransactionResponses(txns)})
}
