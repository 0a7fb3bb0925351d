package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opencollect/tcgstore/internal/database"
	"github.com/opencollect/tcgstore/internal/models"
	"github.com/opencollect/tcgstore/internal/store"
)

func TestPlaceOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db, "checkout1@example.com")
	address := createTestAddress(t, db, user.ID)
	card := createTestCard(t, db, "Black Lotus", "10.00", 5)

	if err := store.AddQuantity(ctx, db, user.ID, card.ID, 3); err != nil {
		t.Fatalf("Add to cart: %v", err)
	}

	order, err := store.PlaceOrder(ctx, db, store.PlaceOrderRequest{
		UserID:        user.ID,
		AddressID:     address.ID,
		PaymentMethod: models.PaymentMethodPix,
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	// 3 x 10.00 + 15.00 delivery fee.
	if !order.Total.Equal(decimal.RequireFromString("45.00")) {
		t.Errorf("Expected total 45.00, got %s", order.Total)
	}
	if order.Status != models.OrderStatusProcessing {
		t.Errorf("Expected status %q, got %q", models.OrderStatusProcessing, order.Status)
	}
	if order.OrderNumber == "" {
		t.Error("Expected an order number")
	}
	if len(order.Items) != 1 {
		t.Fatalf("Expected 1 order item, got %d", len(order.Items))
	}
	if order.Items[0].Quantity != 3 {
		t.Errorf("Expected quantity 3, got %d", order.Items[0].Quantity)
	}
	if !order.Items[0].UnitPrice.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("Expected unit price 10.00, got %s", order.Items[0].UnitPrice)
	}
	if !order.Items[0].Subtotal.Equal(decimal.RequireFromString("30.00")) {
		t.Errorf("Expected subtotal 30.00, got %s", order.Items[0].Subtotal)
	}

	if order.Payment == nil {
		t.Fatal("Expected a payment record")
	}
	if order.Payment.Status != models.PaymentStatusPending {
		t.Errorf("Expected payment status %q, got %q", models.PaymentStatusPending, order.Payment.Status)
	}
	if !order.Payment.Amount.Equal(order.Total) {
		t.Errorf("Expected payment amount %s, got %s", order.Total, order.Payment.Amount)
	}

	if got := cardStock(t, db, card.ID); got != 2 {
		t.Errorf("Expected stock 2 after checkout, got %d", got)
	}

	// The source cart is emptied and closed; the next access gets a fresh one.
	count, err := store.CartItemCount(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty cart after checkout, got %d lines", count)
	}

	var closed int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM carts WHERE user_id = $1 AND status = $2`,
		user.ID, models.CartStatusClosed).Scan(&closed)
	if err != nil {
		t.Fatalf("Count closed carts: %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected 1 closed cart, got %d", closed)
	}

	fresh, err := store.GetOrCreateOpenCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get fresh cart: %v", err)
	}
	if fresh.Status != models.CartStatusOpen {
		t.Errorf("Expected a fresh open cart, got status %q", fresh.Status)
	}
}

func TestPlaceOrderCartNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db, "checkout2@example.com")
	address := createTestAddress(t, db, user.ID)

	_, err := store.PlaceOrder(ctx, db, store.PlaceOrderRequest{
		UserID:    user.ID,
		AddressID: address.ID,
	})
	if !errors.Is(err, database.ErrCartNotFound) {
		t.Errorf("Expected cart not found, got: %v", err)
	}
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db, "checkout3@example.com")
	address := createTestAddress(t, db, user.ID)

	if _, err := store.GetOrCreateOpenCart(ctx, db, user.ID); err != nil {
		t.Fatalf("Create cart: %v", err)
	}

	_, err := store.PlaceOrder(ctx, db, store.PlaceOrderRequest{
		UserID:    user.ID,
		AddressID: address.ID,
	})
	if !errors.Is(err, database.ErrEmptyCart) {
		t.Errorf("Expected empty cart error, got: %v", err)
	}
}

func TestPlaceOrderForeignAddress(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db, "checkout4@example.com")
	other := createTestUser(t, db, "checkout4b@example.com")
	otherAddress := createTestAddress(t, db, other.ID)
	card := createTestCard(t, db, "Mox Pearl", "50.00", 5)

	if err := store.AddQuantity(ctx, db, user.ID, card.ID, 1); err != nil {
		t.Fatalf("Add to cart: %v", err)
	}

	_, err := store.PlaceOrder(ctx, db, store.PlaceOrderRequest{
		UserID:    user.ID,
		AddressID: otherAddress.ID,
	})
	if !errors.Is(err, database.ErrAddressNotFound) {
		t.Errorf("Expected address not found for foreign address, got: %v", err)
	}

	// The cart is untouched by the failed attempt.
	count, err := store.CartItemCount(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected cart still holding 1 line, got %d", count)
	}
	if got := cardStock(t, db, card.ID); got != 5 {
		t.Errorf("Expected stock unchanged at 5, got %d", got)
	}
}

func TestPlaceOrderInvalidPaymentMethod(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db, "checkout5@example.com")
	address := createTestAddress(t, db, user.ID)
	card := createTestCard(t, db, "Mox Jet", "50.00", 5)

	if err := store.AddQuantity(ctx, db, user.ID, card.ID, 1); err != nil {
		t.Fatalf("Add to cart: %v", err)
	}

	_, err := store.PlaceOrder(ctx, db, store.PlaceOrderRequest{
		UserID:        user.ID,
		AddressID:     address.ID,
		PaymentMethod: "cheque",
	})
	if !errors.Is(err, database.ErrInvalidInput) {
		t.Errorf("Expected invalid input, got: %v", err)
	}
}

func TestPlaceOrderStockConflictRollsBackEverything(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db, "checkout6@example.com")
	address := createTestAddress(t, db, user.ID)

	cardA := createTestCard(t, db, "Ancestral Recall", "10.00", 5)
	cardB := createTestCard(t, db, "Time Walk", "20.00", 2)
	cardC := createTestCard(t, db, "Timetwister", "30.00", 5)

	if err := store.AddQuantity(ctx, db, user.ID, cardA.ID, 1); err != nil {
		t.Fatalf("Add A: %v", err)
	}
	if err := store.AddQuantity(ctx, db, user.ID, cardB.ID, 2); err != nil {
		t.Fatalf("Add B: %v", err)
	}
	if err := store.AddQuantity(ctx, db, user.ID, cardC.ID, 1); err != nil {
		t.Fatalf("Add C: %v", err)
	}

	// Someone else buys a Time Walk between cart-add and checkout.
	if _, err := db.ExecContext(ctx, `UPDATE cards SET stock = 1 WHERE id = $1`, cardB.ID); err != nil {
		t.Fatalf("Shrink stock: %v", err)
	}

	_, err := store.PlaceOrder(ctx, db, store.PlaceOrderRequest{
		UserID:    user.ID,
		AddressID: address.ID,
	})
	if !errors.Is(err, database.ErrStockConflict) {
		t.Fatalf("Expected stock conflict, got: %v", err)
	}

	// Nothing moved: no order, no stock decrement for any card, the cart
	// still open with all three lines.
	var orders int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&orders); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	if orders != 0 {
		t.Errorf("Expected 0 orders after rollback, got %d", orders)
	}

	if got := cardStock(t, db, cardA.ID); got != 5 {
		t.Errorf("Expected card A stock 5, got %d", got)
	}
	if got := cardStock(t, db, cardB.ID); got != 1 {
		t.Errorf("Expected card B stock 1, got %d", got)
	}
	if got := cardStock(t, db, cardC.ID); got != 5 {
		t.Errorf("Expected card C stock 5, got %d", got)
	}

	count, err := store.CartItemCount(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected cart still holding 3 lines, got %d", count)
	}

	cart, err := store.GetOrCreateOpenCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if cart.Status != models.CartStatusOpen {
		t.Errorf("Expected cart still open, got %q", cart.Status)
	}
}

func TestConcurrentCheckoutLastUnit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	card := createTestCard(t, db, "Shivan Dragon", "40.00", 1)

	userA := createTestUser(t, db, "checkout7a@example.com")
	userB := createTestUser(t, db, "checkout7b@example.com")
	addressA := createTestAddress(t, db, userA.ID)
	addressB := createTestAddress(t, db, userB.ID)

	// Both carts hold the single remaining unit; only one checkout can win.
	if err := store.AddQuantity(ctx, db, userA.ID, card.ID, 1); err != nil {
		t.Fatalf("Add for A: %v", err)
	}
	if err := store.AddQuantity(ctx, db, userB.ID, card.ID, 1); err != nil {
		t.Fatalf("Add for B: %v", err)
	}

	type attempt struct {
		userID    int64
		addressID int64
	}
	attempts := []attempt{
		{userA.ID, addressA.ID},
		{userB.ID, addressB.ID},
	}

	var wg sync.WaitGroup
	results := make(chan error, len(attempts))

	for _, a := range attempts {
		wg.Add(1)
		go func(a attempt) {
			defer wg.Done()
			_, err := store.PlaceOrder(ctx, db, store.PlaceOrderRequest{
				UserID:    a.userID,
				AddressID: a.addressID,
			})
			results <- err
		}(a)
	}

	wg.Wait()
	close(results)

	successCount := 0
	conflictCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrStockConflict), errors.Is(err, database.ErrInsufficientStock):
			conflictCount++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 1 {
		t.Errorf("Expected exactly 1 successful checkout, got %d", successCount)
	}
	if conflictCount != 1 {
		t.Errorf("Expected exactly 1 stock conflict, got %d", conflictCount)
	}

	if got := cardStock(t, db, card.ID); got != 0 {
		t.Errorf("Expected final stock 0, got %d", got)
	}
}
