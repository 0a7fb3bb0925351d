package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/opencollect/tcgstore/internal/database"
	"github.com/opencollect/tcgstore/internal/models"
)

type PlaceOrderRequest struct {
	UserID        int64
	AddressID     int64
	PaymentMethod string
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%s", uuid.NewString())
}

func validPaymentMethod(method string) bool {
	switch method {
	case models.PaymentMethodPix, models.PaymentMethodCreditCard, models.PaymentMethodBoleto:
		return true
	}
	return false
}

// PlaceOrder converts the user's open cart into an order: it re-totals the
// cart server-side, writes the order and its items, decrements stock with a
// commit-time re-check, empties and closes the cart, and records a pending
// payment. The whole conversion is a single transaction; any failure leaves
// cart, items and stock untouched.
func PlaceOrder(ctx context.Context, db *sql.DB, req PlaceOrderRequest) (*models.Order, error) {
	method := req.PaymentMethod
	if method == "" {
		method = models.PaymentMethodPix
	}
	if !validPaymentMethod(method) {
		return nil, fmt.Errorf("%w: unknown payment method %q", database.ErrInvalidInput, req.PaymentMethod)
	}

	var orderID int64

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		cart, err := getOpenCartTx(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		// Snapshot the item list before any row is touched; the loop
		// below deletes from the same collection it came from.
		items, err := listCartItemsTx(ctx, tx, cart.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return database.ErrEmptyCart
		}

		if err := checkAddressOwnershipTx(ctx, tx, req.AddressID, req.UserID); err != nil {
			return err
		}

		// The client never supplies a total; it is recomputed here from
		// the locked cart rows.
		total := DeliveryFee
		for _, item := range items {
			total = total.Add(item.Subtotal())
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (order_number, user_id, address_id, status, total, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			 RETURNING id`,
			generateOrderNumber(), req.UserID, req.AddressID, models.OrderStatusProcessing, total).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range items {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, card_id, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, NOW())`,
				orderID, item.CardID, item.Quantity, item.UnitPrice, item.Subtotal())
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}

			// Stock is re-checked here, not trusted from cart-add
			// time: the gap between adding and checking out is
			// unbounded and stock is contended across users.
			if err := DecrementStock(ctx, tx, item.CardID, item.Quantity); err != nil {
				return err
			}

			if err := deleteCartItemTx(ctx, tx, item.ID); err != nil {
				return err
			}
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE carts
			 SET status = $1, updated_at = NOW()
			 WHERE id = $2 AND status = $3`,
			models.CartStatusClosed, cart.ID, models.CartStatusOpen)
		if err != nil {
			return fmt.Errorf("close cart: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrCartNotFound
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO payments (order_id, method, status, amount, created_at)
			 VALUES ($1, $2, $3, $4, NOW())`,
			orderID, method, models.PaymentStatusPending, total)
		if err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return GetOrder(ctx, db, req.UserID, orderID)
}
