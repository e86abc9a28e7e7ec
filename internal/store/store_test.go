package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/store/schema"
)

// =============================================================================
// Test Data Builders
// =============================================================================

// buildTestReward creates a reward input for the given user
func buildTestReward(userID uuid.UUID, amount int64, reason domain.ReasonCode) AppendTransactionInput {
	return AppendTransactionInput{
		UserID:      userID,
		Type:        domain.TransactionTypeReward,
		Amount:      amount,
		Description: "Test reward",
		Reason:      reason,
	}
}

// buildTestRedemption creates a redemption input for the given user
func buildTestRedemption(userID uuid.UUID, amount int64) AppendTransactionInput {
	return AppendTransactionInput{
		UserID:      userID,
		Type:        domain.TransactionTypeRedemption,
		Amount:      amount,
		Description: "Test redemption",
		Reason:      domain.ReasonRedemption,
	}
}

// buildTestDiscountCode creates an active single-use code owned by userID
func buildTestDiscountCode(userID uuid.UUID, code string, percentage int) schema.DiscountCode {
	return schema.DiscountCode{
		Code:       code,
		Percentage: percentage,
		UserID:     userID,
		Status:     domain.DiscountStatusActive,
		MaxUsage:   1,
		ExpiresAt:  time.Now().UTC().Add(30 * 24 * time.Hour),
	}
}

// buildTestOrder creates a cash-only order for the given user
func buildTestOrder(userID uuid.UUID, subtotal string) schema.Order {
	sub := decimal.RequireFromString(subtotal)
	tax := sub.Mul(decimal.RequireFromString("0.08")).Round(2)
	return schema.Order{
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   domain.PaymentMethodCard,
		Subtotal:        sub,
		Tax:             tax,
		TotalAmount:     sub.Add(tax),
		ShippingAddress: datatypes.JSON([]byte(`{"city":"Portland"}`)),
	}
}

// buildTestOrderItem creates a cash-priced line
func buildTestOrderItem(itemID string, quantity int, price string) schema.OrderItem {
	return schema.OrderItem{
		ItemType: domain.ItemTypeTree,
		ItemID:   itemID,
		Name:     "Test tree",
		Quantity: quantity,
		Price:    decimal.RequireFromString(price),
	}
}

// seedBalance rewards the user so later redemptions have something to spend
func seedBalance(t *testing.T, store Store, userID uuid.UUID, amount int64) {
	t.Helper()
	_, _, err := store.AppendTransaction(context.Background(), buildTestReward(userID, amount, domain.ReasonInitialReward))
	require.NoError(t, err)
}

// =============================================================================
// Test: Accounts
// =============================================================================

func testGetOrCreateAccount(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("returns nil for unknown user", func(t *testing.T) {
		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Nil(t, account)
	})

	t.Run("creates zero-balance account on first access", func(t *testing.T) {
		account, err := store.GetOrCreateAccount(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, account)
		assert.Equal(t, userID, account.UserID)
		assert.Equal(t, int64(0), account.Balance)
		assert.Equal(t, int64(0), account.TotalEarned)
		assert.Equal(t, int64(0), account.TotalRedeemed)
	})

	t.Run("second access returns the same account", func(t *testing.T) {
		account, err := store.GetOrCreateAccount(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, account)
		assert.Equal(t, userID, account.UserID)

		existing, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, existing)
		assert.Equal(t, account.CreatedAt.Unix(), existing.CreatedAt.Unix())
	})
}

func testSetWalletAddress(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()
	wallet := "0x1234567890123456789012345678901234567890"

	err := store.SetWalletAddress(ctx, userID, wallet)
	require.NoError(t, err)

	account, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, account)
	require.NotNil(t, account.WalletAddress)
	assert.Equal(t, wallet, *account.WalletAddress)

	t.Run("rebinding overwrites the address", func(t *testing.T) {
		other := "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
		err := store.SetWalletAddress(ctx, userID, other)
		require.NoError(t, err)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, account.WalletAddress)
		assert.Equal(t, other, *account.WalletAddress)
	})
}

// =============================================================================
// Test: Ledger
// =============================================================================

func testAppendTransaction(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("reward credits the balance and lifetime earned", func(t *testing.T) {
		txn, balance, err := store.AppendTransaction(ctx, buildTestReward(userID, 100, domain.ReasonInitialReward))
		require.NoError(t, err)
		require.NotNil(t, txn)
		assert.Equal(t, int64(100), balance)
		assert.Equal(t, domain.TransactionTypeReward, txn.Type)
		assert.NotEmpty(t, txn.ID)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), account.Balance)
		assert.Equal(t, int64(100), account.TotalEarned)
	})

	t.Run("redemption debits the balance and lifetime redeemed", func(t *testing.T) {
		txn, balance, err := store.AppendTransaction(ctx, buildTestRedemption(userID, 40))
		require.NoError(t, err)
		require.NotNil(t, txn)
		assert.Equal(t, int64(60), balance)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(60), account.Balance)
		assert.Equal(t, int64(100), account.TotalEarned)
		assert.Equal(t, int64(40), account.TotalRedeemed)
	})

	t.Run("redemption past the balance fails and changes nothing", func(t *testing.T) {
		_, _, err := store.AppendTransaction(ctx, buildTestRedemption(userID, 61))
		require.ErrorIs(t, err, domain.ErrInsufficientBalance)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(60), account.Balance)
	})

	t.Run("non-positive amounts are rejected", func(t *testing.T) {
		_, _, err := store.AppendTransaction(ctx, buildTestReward(userID, 0, domain.ReasonAchievement))
		require.Error(t, err)

		_, _, err = store.AppendTransaction(ctx, buildTestReward(userID, -5, domain.ReasonAchievement))
		require.Error(t, err)
	})

	t.Run("reference is persisted alongside the event", func(t *testing.T) {
		input := buildTestReward(userID, 10, domain.ReasonReferral)
		input.Reference = &domain.TransactionReference{Kind: domain.ReferenceKindOrder, ID: uuid.NewString()}
		txn, _, err := store.AppendTransaction(ctx, input)
		require.NoError(t, err)
		require.NotNil(t, txn.ReferenceKind)
		assert.Equal(t, domain.ReferenceKindOrder, *txn.ReferenceKind)
		require.NotNil(t, txn.ReferenceID)
		assert.Equal(t, input.Reference.ID, *txn.ReferenceID)
	})
}

func testListTransactions(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()
	other := uuid.New()

	seedBalance(t, store, userID, 100)
	_, _, err := store.AppendTransaction(ctx, buildTestRedemption(userID, 30))
	require.NoError(t, err)
	_, _, err = store.AppendTransaction(ctx, buildTestReward(userID, 20, domain.ReasonPlantTree))
	require.NoError(t, err)
	seedBalance(t, store, other, 999)

	t.Run("returns only the user's events with the total count", func(t *testing.T) {
		txns, total, err := store.ListTransactions(ctx, userID, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, txns, 3)
		for _, txn := range txns {
			assert.Equal(t, userID, txn.UserID)
		}
	})

	t.Run("newest first", func(t *testing.T) {
		txns, _, err := store.ListTransactions(ctx, userID, 10, 0)
		require.NoError(t, err)
		require.Len(t, txns, 3)
		assert.Equal(t, int64(20), txns[0].Amount)
		assert.Equal(t, domain.TransactionTypeReward, txns[0].Type)
	})

	t.Run("pagination", func(t *testing.T) {
		txns, total, err := store.ListTransactions(ctx, userID, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, txns, 2)

		txns, _, err = store.ListTransactions(ctx, userID, 2, 2)
		require.NoError(t, err)
		assert.Len(t, txns, 1)
	})
}

func testFoldBalance(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("empty log folds to zero", func(t *testing.T) {
		balance, err := store.FoldBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})

	t.Run("fold matches the cached balance", func(t *testing.T) {
		seedBalance(t, store, userID, 100)
		_, _, err := store.AppendTransaction(ctx, buildTestRedemption(userID, 25))
		require.NoError(t, err)
		_, _, err = store.AppendTransaction(ctx, buildTestReward(userID, 5, domain.ReasonTreeAdoption))
		require.NoError(t, err)

		folded, err := store.FoldBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(80), folded)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, folded, account.Balance)
	})
}

func testSyncBalance(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()

	seedBalance(t, store, userID, 100)

	t.Run("credits the delta when the chain reports more", func(t *testing.T) {
		result, err := store.SyncBalance(ctx, userID, 150)
		require.NoError(t, err)
		assert.Equal(t, int64(50), result.SyncedAmount)
		assert.Equal(t, int64(150), result.DatabaseBalance)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(150), account.Balance)
	})

	t.Run("retry with the same external balance is a no-op", func(t *testing.T) {
		result, err := store.SyncBalance(ctx, userID, 150)
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.SyncedAmount)
		assert.Equal(t, int64(150), result.DatabaseBalance)

		folded, err := store.FoldBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(150), folded)
	})

	t.Run("never debits when the chain reports less", func(t *testing.T) {
		result, err := store.SyncBalance(ctx, userID, 120)
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.SyncedAmount)
		assert.Equal(t, int64(150), result.DatabaseBalance)
	})

	t.Run("correction is an ordinary ledger event", func(t *testing.T) {
		txns, _, err := store.ListTransactions(ctx, userID, 10, 0)
		require.NoError(t, err)
		require.Len(t, txns, 2)
		assert.Equal(t, domain.ReasonSyncCorrection, txns[0].Reason)
		require.NotNil(t, txns[0].SyncKey)
		assert.Equal(t, userID.String()+":150", *txns[0].SyncKey)
	})
}

func testBlockCursorRoundTrip(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("unsaved cursor reads as zero", func(t *testing.T) {
		cursor, err := store.GetBlockCursor(ctx, "tut:sepolia")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), cursor)
	})

	t.Run("set and get", func(t *testing.T) {
		err := store.SetBlockCursor(ctx, "tut:sepolia", 12345)
		require.NoError(t, err)

		cursor, err := store.GetBlockCursor(ctx, "tut:sepolia")
		require.NoError(t, err)
		assert.Equal(t, uint64(12345), cursor)
	})

	t.Run("overwrite advances the cursor", func(t *testing.T) {
		err := store.SetBlockCursor(ctx, "tut:sepolia", 12400)
		require.NoError(t, err)

		cursor, err := store.GetBlockCursor(ctx, "tut:sepolia")
		require.NoError(t, err)
		assert.Equal(t, uint64(12400), cursor)
	})

	t.Run("cursors are isolated per chain", func(t *testing.T) {
		cursor, err := store.GetBlockCursor(ctx, "tut:ethereum")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), cursor)
	})
}

// =============================================================================
// Test: Discount codes
// =============================================================================

func testMintDiscountFromRedemption(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()

	seedBalance(t, store, userID, 600)

	t.Run("mints the code and debits the tokens together", func(t *testing.T) {
		code := buildTestDiscountCode(userID, "TREES25X", 25)
		tut := int64(250)
		code.TUTAmount = &tut

		minted, txn, err := store.MintDiscountFromRedemption(ctx, MintDiscountInput{
			UserID:      userID,
			TUTAmount:   250,
			Description: "Redeemed 250 TUT for a 25% discount",
			Code:        code,
		})
		require.NoError(t, err)
		require.NotNil(t, minted)
		require.NotNil(t, txn)
		assert.NotEqual(t, uuid.Nil, minted.ID)
		assert.Equal(t, domain.TransactionTypeRedemption, txn.Type)
		require.NotNil(t, txn.ReferenceKind)
		assert.Equal(t, domain.ReferenceKindDiscount, *txn.ReferenceKind)
		require.NotNil(t, txn.ReferenceID)
		assert.Equal(t, minted.ID.String(), *txn.ReferenceID)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(350), account.Balance)
	})

	t.Run("duplicate code rolls back the redemption too", func(t *testing.T) {
		_, _, err := store.MintDiscountFromRedemption(ctx, MintDiscountInput{
			UserID:      userID,
			TUTAmount:   250,
			Description: "Redeemed 250 TUT for a 25% discount",
			Code:        buildTestDiscountCode(userID, "TREES25X", 25),
		})
		require.ErrorIs(t, err, domain.ErrDuplicateCode)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(350), account.Balance)
	})

	t.Run("insufficient balance mints nothing", func(t *testing.T) {
		_, _, err := store.MintDiscountFromRedemption(ctx, MintDiscountInput{
			UserID:      userID,
			TUTAmount:   1000,
			Description: "Redeemed 1000 TUT for a 50% discount",
			Code:        buildTestDiscountCode(userID, "TREES50X", 50),
		})
		require.ErrorIs(t, err, domain.ErrInsufficientBalance)

		dc, err := store.GetDiscountCodeByCode(ctx, "TREES50X")
		require.NoError(t, err)
		assert.Nil(t, dc)
	})
}

func testDiscountCodeCRUD(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("create and fetch by code and id", func(t *testing.T) {
		code := buildTestDiscountCode(userID, "SPRING10", 10)
		err := store.CreateDiscountCode(ctx, &code)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, code.ID)

		byCode, err := store.GetDiscountCodeByCode(ctx, "SPRING10")
		require.NoError(t, err)
		require.NotNil(t, byCode)
		assert.Equal(t, code.ID, byCode.ID)
		assert.Equal(t, 10, byCode.Percentage)

		byID, err := store.GetDiscountCodeByID(ctx, code.ID)
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, "SPRING10", byID.Code)
	})

	t.Run("duplicate code string fails", func(t *testing.T) {
		dup := buildTestDiscountCode(userID, "SPRING10", 15)
		err := store.CreateDiscountCode(ctx, &dup)
		require.ErrorIs(t, err, domain.ErrDuplicateCode)
	})

	t.Run("unknown lookups return nil", func(t *testing.T) {
		byCode, err := store.GetDiscountCodeByCode(ctx, "NOPE")
		require.NoError(t, err)
		assert.Nil(t, byCode)

		byID, err := store.GetDiscountCodeByID(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, byID)
	})

	t.Run("update persists admin edits", func(t *testing.T) {
		dc, err := store.GetDiscountCodeByCode(ctx, "SPRING10")
		require.NoError(t, err)
		require.NotNil(t, dc)

		dc.Percentage = 12
		dc.MaxUsage = 3
		require.NoError(t, store.UpdateDiscountCode(ctx, dc))

		updated, err := store.GetDiscountCodeByID(ctx, dc.ID)
		require.NoError(t, err)
		assert.Equal(t, 12, updated.Percentage)
		assert.Equal(t, 3, updated.MaxUsage)
	})

	t.Run("delete removes the code", func(t *testing.T) {
		dc, err := store.GetDiscountCodeByCode(ctx, "SPRING10")
		require.NoError(t, err)
		require.NotNil(t, dc)

		require.NoError(t, store.DeleteDiscountCode(ctx, dc.ID))

		gone, err := store.GetDiscountCodeByID(ctx, dc.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})
}

func testExpireDiscountCode(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()

	code := buildTestDiscountCode(userID, "OLDCODE1", 10)
	code.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateDiscountCode(ctx, &code))

	require.NoError(t, store.ExpireDiscountCode(ctx, code.ID))

	expired, err := store.GetDiscountCodeByID(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DiscountStatusExpired, expired.Status)

	t.Run("only active codes flip", func(t *testing.T) {
		used := buildTestDiscountCode(userID, "USEDCODE", 10)
		used.Status = domain.DiscountStatusUsed
		require.NoError(t, store.CreateDiscountCode(ctx, &used))

		require.NoError(t, store.ExpireDiscountCode(ctx, used.ID))

		dc, err := store.GetDiscountCodeByID(ctx, used.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DiscountStatusUsed, dc.Status)
	})
}

func testApplyDiscountCode(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()
	orderID := uuid.New()
	now := time.Now().UTC()

	code := buildTestDiscountCode(userID, "APPLY20X", 20)
	code.MinOrderAmount = decimal.RequireFromString("50")
	require.NoError(t, store.CreateDiscountCode(ctx, &code))

	t.Run("unknown code", func(t *testing.T) {
		_, err := store.ApplyDiscountCode(ctx, "MISSING", userID, orderID, decimal.RequireFromString("100"), now)
		require.ErrorIs(t, err, domain.ErrCodeNotFound)
	})

	t.Run("order below minimum", func(t *testing.T) {
		_, err := store.ApplyDiscountCode(ctx, "APPLY20X", userID, orderID, decimal.RequireFromString("49.99"), now)
		require.ErrorIs(t, err, domain.ErrOrderBelowMinimum)
	})

	t.Run("successful apply consumes the only usage", func(t *testing.T) {
		applied, err := store.ApplyDiscountCode(ctx, "APPLY20X", userID, orderID, decimal.RequireFromString("100"), now)
		require.NoError(t, err)
		require.NotNil(t, applied)
		assert.Equal(t, 1, applied.CurrentUsage)
		assert.Equal(t, domain.DiscountStatusUsed, applied.Status)
		require.NotNil(t, applied.UsedAt)
		require.NotNil(t, applied.UsedBy)
		assert.Equal(t, userID, *applied.UsedBy)
		require.NotNil(t, applied.OrderID)
		assert.Equal(t, orderID, *applied.OrderID)
	})

	t.Run("second apply is rejected", func(t *testing.T) {
		_, err := store.ApplyDiscountCode(ctx, "APPLY20X", userID, orderID, decimal.RequireFromString("100"), now)
		require.ErrorIs(t, err, domain.ErrCodeNotActive)
	})

	t.Run("expired code", func(t *testing.T) {
		stale := buildTestDiscountCode(userID, "STALE20X", 20)
		stale.ExpiresAt = now.Add(-time.Minute)
		require.NoError(t, store.CreateDiscountCode(ctx, &stale))

		_, err := store.ApplyDiscountCode(ctx, "STALE20X", userID, orderID, decimal.RequireFromString("100"), now)
		require.ErrorIs(t, err, domain.ErrCodeExpired)
	})

	t.Run("multi-use code stays active until exhausted", func(t *testing.T) {
		multi := buildTestDiscountCode(userID, "MULTI10X", 10)
		multi.MaxUsage = 2
		require.NoError(t, store.CreateDiscountCode(ctx, &multi))

		first, err := store.ApplyDiscountCode(ctx, "MULTI10X", userID, orderID, decimal.RequireFromString("100"), now)
		require.NoError(t, err)
		assert.Equal(t, 1, first.CurrentUsage)
		assert.Equal(t, domain.DiscountStatusActive, first.Status)

		second, err := store.ApplyDiscountCode(ctx, "MULTI10X", userID, uuid.New(), decimal.RequireFromString("100"), now)
		require.NoError(t, err)
		assert.Equal(t, 2, second.CurrentUsage)
		assert.Equal(t, domain.DiscountStatusUsed, second.Status)
		// first apply keeps the attribution
		require.NotNil(t, second.OrderID)
		assert.Equal(t, orderID, *second.OrderID)
	})
}

func testListDiscountCodes(t *testing.T, store Store) {
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	codes := []schema.DiscountCode{
		buildTestDiscountCode(alice, "TREES10A", 10),
		buildTestDiscountCode(alice, "TREES25B", 25),
		buildTestDiscountCode(bob, "FOREST40", 40),
	}
	usedCode := buildTestDiscountCode(bob, "FOREST50", 50)
	usedCode.Status = domain.DiscountStatusUsed
	codes = append(codes, usedCode)
	for i := range codes {
		require.NoError(t, store.CreateDiscountCode(ctx, &codes[i]))
	}

	t.Run("filter by user", func(t *testing.T) {
		got, total, err := store.ListDiscountCodes(ctx, DiscountFilter{UserID: &alice})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, got, 2)
		for _, dc := range got {
			assert.Equal(t, alice, dc.UserID)
		}
	})

	t.Run("filter by status", func(t *testing.T) {
		used := domain.DiscountStatusUsed
		got, total, err := store.ListDiscountCodes(ctx, DiscountFilter{Status: &used})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, got, 1)
		assert.Equal(t, "FOREST50", got[0].Code)
	})

	t.Run("filter by percentage range", func(t *testing.T) {
		minPct, maxPct := 20, 40
		got, total, err := store.ListDiscountCodes(ctx, DiscountFilter{MinPercentage: &minPct, MaxPercentage: &maxPct})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, got, 2)
	})

	t.Run("search matches code substring case-insensitively", func(t *testing.T) {
		got, total, err := store.ListDiscountCodes(ctx, DiscountFilter{Search: "forest"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, got, 2)
	})

	t.Run("pagination", func(t *testing.T) {
		got, total, err := store.ListDiscountCodes(ctx, DiscountFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		assert.Len(t, got, 2)

		got, _, err = store.ListDiscountCodes(ctx, DiscountFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("counts per status", func(t *testing.T) {
		counts, err := store.CountDiscountsByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), counts[domain.DiscountStatusActive])
		assert.Equal(t, int64(1), counts[domain.DiscountStatusUsed])
	})
}

// =============================================================================
// Test: Orders
// =============================================================================

func testCreateOrder(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("cash order with lines", func(t *testing.T) {
		order, err := store.CreateOrder(ctx, CreateOrderInput{
			Order: buildTestOrder(userID, "25.00"),
			Items: []schema.OrderItem{
				buildTestOrderItem("oak-sapling", 2, "10.00"),
				buildTestOrderItem("pine-sapling", 1, "5.00"),
			},
		})
		require.NoError(t, err)
		require.NotNil(t, order)
		assert.NotEqual(t, uuid.Nil, order.ID)
		assert.Contains(t, order.OrderNumber, "ORD-")

		fetched, err := store.GetOrderByID(ctx, order.ID)
		require.NoError(t, err)
		require.NotNil(t, fetched)
		assert.Len(t, fetched.Items, 2)
		assert.True(t, fetched.Subtotal.Equal(decimal.RequireFromString("25.00")))
	})

	t.Run("token order debits the ledger in the same transaction", func(t *testing.T) {
		seedBalance(t, store, userID, 100)

		order := buildTestOrder(userID, "0")
		order.PaymentMethod = domain.PaymentMethodTUTTokens
		order.TUTTotal = 60
		order.TUTUsed = 60
		order.Tax = decimal.Zero
		order.TotalAmount = decimal.Zero

		item := buildTestOrderItem("token-badge", 2, "0")
		tut := int64(30)
		item.TUTPrice = &tut

		created, err := store.CreateOrder(ctx, CreateOrderInput{Order: order, Items: []schema.OrderItem{item}})
		require.NoError(t, err)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(40), account.Balance)

		txns, _, err := store.ListTransactions(ctx, userID, 1, 0)
		require.NoError(t, err)
		require.Len(t, txns, 1)
		assert.Equal(t, domain.TransactionTypeRedemption, txns[0].Type)
		require.NotNil(t, txns[0].ReferenceID)
		assert.Equal(t, created.ID.String(), *txns[0].ReferenceID)
	})

	t.Run("insufficient tokens roll back the whole order", func(t *testing.T) {
		order := buildTestOrder(userID, "0")
		order.PaymentMethod = domain.PaymentMethodTUTTokens
		order.TUTTotal = 500
		order.TUTUsed = 500

		_, err := store.CreateOrder(ctx, CreateOrderInput{Order: order, Items: []schema.OrderItem{buildTestOrderItem("oak-sapling", 1, "0")}})
		require.ErrorIs(t, err, domain.ErrInsufficientBalance)

		_, total, err := store.ListOrdersByUser(ctx, userID, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(40), account.Balance)
	})

	t.Run("discount is consumed inside the order transaction", func(t *testing.T) {
		code := buildTestDiscountCode(userID, "ORDER15X", 15)
		require.NoError(t, store.CreateDiscountCode(ctx, &code))

		apply := "ORDER15X"
		order, err := store.CreateOrder(ctx, CreateOrderInput{
			Order:             buildTestOrder(userID, "100.00"),
			Items:             []schema.OrderItem{buildTestOrderItem("oak-sapling", 10, "10.00")},
			ApplyDiscountCode: &apply,
		})
		require.NoError(t, err)

		applied, err := store.GetDiscountCodeByCode(ctx, "ORDER15X")
		require.NoError(t, err)
		assert.Equal(t, domain.DiscountStatusUsed, applied.Status)
		require.NotNil(t, applied.OrderID)
		assert.Equal(t, order.ID, *applied.OrderID)
	})

	t.Run("failed discount apply rolls the order back", func(t *testing.T) {
		apply := "NOSUCHCODE"
		_, err := store.CreateOrder(ctx, CreateOrderInput{
			Order:             buildTestOrder(userID, "100.00"),
			Items:             []schema.OrderItem{buildTestOrderItem("oak-sapling", 10, "10.00")},
			ApplyDiscountCode: &apply,
		})
		require.ErrorIs(t, err, domain.ErrCodeNotFound)

		_, total, err := store.ListOrdersByUser(ctx, userID, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
	})
}

func testListOrdersByUser(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()
	other := uuid.New()

	for _, subtotal := range []string{"10.00", "20.00", "30.00"} {
		_, err := store.CreateOrder(ctx, CreateOrderInput{Order: buildTestOrder(userID, subtotal)})
		require.NoError(t, err)
	}
	_, err := store.CreateOrder(ctx, CreateOrderInput{Order: buildTestOrder(other, "99.00")})
	require.NoError(t, err)

	orders, total, err := store.ListOrdersByUser(ctx, userID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, orders, 2)
	for _, order := range orders {
		assert.Equal(t, userID, order.UserID)
	}

	t.Run("unknown order id reads as nil", func(t *testing.T) {
		order, err := store.GetOrderByID(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, order)
	})
}

func testUpdateOrderStatus(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()

	order, err := store.CreateOrder(ctx, CreateOrderInput{Order: buildTestOrder(userID, "10.00")})
	require.NoError(t, err)

	t.Run("legal transition", func(t *testing.T) {
		updated, err := store.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusConfirmed)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusConfirmed, updated.Status)
	})

	t.Run("illegal transition names both states", func(t *testing.T) {
		_, err := store.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusDelivered)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Contains(t, err.Error(), "confirmed")
		assert.Contains(t, err.Error(), "delivered")
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := store.UpdateOrderStatus(ctx, uuid.New(), domain.OrderStatusConfirmed)
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("payment status update", func(t *testing.T) {
		updated, err := store.UpdateOrderPaymentStatus(ctx, order.ID, domain.PaymentStatusPaid)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPaid, updated.PaymentStatus)
	})
}

func testCancelOrder(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.New()

	seedBalance(t, store, userID, 100)

	order := buildTestOrder(userID, "0")
	order.PaymentMethod = domain.PaymentMethodTUTTokens
	order.TUTTotal = 30
	order.TUTUsed = 30
	created, err := store.CreateOrder(ctx, CreateOrderInput{Order: order})
	require.NoError(t, err)

	account, err := store.GetAccount(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(70), account.Balance)

	t.Run("cancel refunds the token payment", func(t *testing.T) {
		cancelled, err := store.CancelOrder(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), account.Balance)

		txns, _, err := store.ListTransactions(ctx, userID, 1, 0)
		require.NoError(t, err)
		require.Len(t, txns, 1)
		assert.Equal(t, domain.TransactionTypeReward, txns[0].Type)
		assert.Equal(t, domain.ReasonOrderRefund, txns[0].Reason)
		assert.Equal(t, int64(30), txns[0].Amount)
	})

	t.Run("terminal orders cannot be cancelled", func(t *testing.T) {
		_, err := store.CancelOrder(ctx, created.ID)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)

		account, err := store.GetAccount(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), account.Balance)
	})

	t.Run("shipped orders cannot be cancelled", func(t *testing.T) {
		shipped, err := store.CreateOrder(ctx, CreateOrderInput{Order: buildTestOrder(userID, "10.00")})
		require.NoError(t, err)
		for _, next := range []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped} {
			_, err = store.UpdateOrderStatus(ctx, shipped.ID, next)
			require.NoError(t, err)
		}

		_, err = store.CancelOrder(ctx, shipped.ID)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

// RunStoreTests runs the full store test suite against an implementation
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store, cleanupDB func(t *testing.T)) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"GetOrCreateAccount", testGetOrCreateAccount},
		{"SetWalletAddress", testSetWalletAddress},
		{"AppendTransaction", testAppendTransaction},
		{"ListTransactions", testListTransactions},
		{"FoldBalance", testFoldBalance},
		{"SyncBalance", testSyncBalance},
		{"BlockCursor", testBlockCursorRoundTrip},
		{"MintDiscountFromRedemption", testMintDiscountFromRedemption},
		{"DiscountCodeCRUD", testDiscountCodeCRUD},
		{"ExpireDiscountCode", testExpireDiscountCode},
		{"ApplyDiscountCode", testApplyDiscountCode},
		{"ListDiscountCodes", testListDiscountCodes},
		{"CreateOrder", testCreateOrder},
		{"ListOrdersByUser", testListOrdersByUser},
		{"UpdateOrderStatus", testUpdateOrderStatus},
		{"CancelOrder", testCancelOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := initDB(t)
			defer cleanupDB(t)
			tt.fn(t, store)
		})
	}
}
