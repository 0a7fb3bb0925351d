package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opencollect/tcgstore/internal/database"
	"github.com/opencollect/tcgstore/internal/models"
	"github.com/shopspring/decimal"
)

// DeliveryFee is the flat shipping charge added to every order at checkout.
var DeliveryFee = decimal.RequireFromString("15.00")

type CartAction string

const (
	CartActionAdd    CartAction = "add"
	CartActionRemove CartAction = "remove"
	CartActionDelete CartAction = "delete"
)

func ParseCartAction(s string) (CartAction, error) {
	switch CartAction(s) {
	case CartActionAdd, CartActionRemove, CartActionDelete:
		return CartAction(s), nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", database.ErrInvalidInput, s)
	}
}

// CartSummary is the display view of an open cart. Total is informational
// only; PlaceOrder recomputes it inside its own transaction.
type CartSummary struct {
	Cart        models.Cart       `json:"cart"`
	Items       []models.CartItem `json:"items"`
	Subtotal    decimal.Decimal   `json:"subtotal"`
	DeliveryFee decimal.Decimal   `json:"delivery_fee"`
	Total       decimal.Decimal   `json:"total"`
}

// GetOrCreateOpenCart returns the user's open cart, creating one lazily on
// first access. The partial unique index on carts(user_id) WHERE status='open'
// makes the one-open-cart invariant hold even across racing creates; the
// losing insert hits ON CONFLICT DO NOTHING and re-reads the winner's row.
func GetOrCreateOpenCart(ctx context.Context, db *sql.DB, userID int64) (*models.Cart, error) {
	var cart *models.Cart

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var err error
		cart, err = getOrCreateOpenCartTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

func getOrCreateOpenCartTx(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}

	err := tx.QueryRowContext(ctx,
		`SELECT id, user_id, status, created_at, updated_at
		 FROM carts
		 WHERE user_id = $1 AND status = $2
		 FOR UPDATE`,
		userID, models.CartStatusOpen).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err == nil {
		return cart, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("get open cart: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO carts (user_id, status, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (user_id) WHERE status = 'open' DO NOTHING
		 RETURNING id, user_id, status, created_at, updated_at`,
		userID, models.CartStatusOpen).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err == nil {
		return cart, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("create open cart: %w", err)
	}

	// Lost the race: another request created the open cart between our
	// select and insert. Read theirs.
	err = tx.QueryRowContext(ctx,
		`SELECT id, user_id, status, created_at, updated_at
		 FROM carts
		 WHERE user_id = $1 AND status = $2
		 FOR UPDATE`,
		userID, models.CartStatusOpen).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get open cart after conflict: %w", err)
	}

	return cart, nil
}

// getOpenCartTx loads and locks the user's open cart without creating one.
func getOpenCartTx(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}

	err := tx.QueryRowContext(ctx,
		`SELECT id, user_id, status, created_at, updated_at
		 FROM carts
		 WHERE user_id = $1 AND status = $2
		 FOR UPDATE`,
		userID, models.CartStatusOpen).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("get open cart: %w", err)
	}

	return cart, nil
}

// UpdateItemQuantity applies a single-unit cart mutation as one atomic unit
// of work. "add" increments by one after checking the card's current stock,
// "remove" decrements by one, "delete" drops the line. A resulting quantity
// of zero or less never persists: the row is deleted instead.
func UpdateItemQuantity(ctx context.Context, db *sql.DB, userID, cardID int64, action CartAction) error {
	return database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		card, err := getCardForUpdate(ctx, tx, cardID)
		if err != nil {
			return err
		}

		cart, err := getOrCreateOpenCartTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		item, err := getCartItemTx(ctx, tx, cart.ID, cardID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		missing := err == sql.ErrNoRows

		// Work out the resulting quantity before touching any row: the
		// quantity > 0 check constraint means a zero-quantity line must
		// never be written, only deleted or skipped.
		existing := 0
		unitPrice := card.Price
		if !missing {
			existing = item.Quantity
			unitPrice = item.UnitPrice
		}

		var newQty int
		switch action {
		case CartActionAdd:
			if card.Stock < existing+1 {
				return database.NewInsufficientStockError(cardID, card.Stock-existing)
			}
			newQty = existing + 1
		case CartActionRemove:
			newQty = existing - 1
		case CartActionDelete:
			newQty = 0
		default:
			return fmt.Errorf("%w: unknown action %q", database.ErrInvalidInput, action)
		}

		switch {
		case newQty <= 0 && missing:
			return nil
		case newQty <= 0:
			return deleteCartItemTx(ctx, tx, item.ID)
		case missing:
			_, err = createCartItemTx(ctx, tx, cart.ID, cardID, newQty, unitPrice)
			return err
		default:
			return setCartItemQuantityTx(ctx, tx, item.ID, newQty, unitPrice)
		}
	})
}

// AddQuantity adds qty units of a card in one step, the multi-unit
// counterpart of UpdateItemQuantity's "add". On success the line's price
// snapshot is refreshed to the card's current catalog price.
func AddQuantity(ctx context.Context, db *sql.DB, userID, cardID int64, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", database.ErrInvalidQuantity)
	}

	return database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		card, err := getCardForUpdate(ctx, tx, cardID)
		if err != nil {
			return err
		}

		cart, err := getOrCreateOpenCartTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		item, err := getCartItemTx(ctx, tx, cart.ID, cardID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		missing := err == sql.ErrNoRows

		existing := 0
		if !missing {
			existing = item.Quantity
		}

		newQty := existing + qty
		if newQty > card.Stock {
			return database.NewInsufficientStockError(cardID, card.Stock-existing)
		}

		if missing {
			_, err = createCartItemTx(ctx, tx, cart.ID, cardID, newQty, card.Price)
			return err
		}
		// A successful multi-unit add also refreshes the price snapshot
		// to the card's current catalog price.
		return setCartItemQuantityTx(ctx, tx, item.ID, newQty, card.Price)
	})
}

// CartItemCount reports how many distinct lines the user's open cart holds.
// A missing cart is the normal zero state, not an error.
func CartItemCount(ctx context.Context, db *sql.DB, userID int64) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM cart_items ci
		 JOIN carts c ON c.id = ci.cart_id
		 WHERE c.user_id = $1 AND c.status = $2`,
		userID, models.CartStatusOpen).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count cart items: %w", err)
	}
	return count, nil
}

// GetCartSummary returns the open cart with its items and display totals,
// creating the cart if the user has none.
func GetCartSummary(ctx context.Context, db *sql.DB, userID int64) (*CartSummary, error) {
	cart, err := GetOrCreateOpenCart(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	items, err := listCartItems(ctx, db, cart.ID)
	if err != nil {
		return nil, err
	}

	subtotal, total := CartTotals(items, DeliveryFee)

	return &CartSummary{
		Cart:        *cart,
		Items:       items,
		Subtotal:    subtotal,
		DeliveryFee: DeliveryFee,
		Total:       total,
	}, nil
}

// CartTotals sums the line subtotals and adds the delivery fee.
func CartTotals(items []models.CartItem, fee decimal.Decimal) (subtotal, total decimal.Decimal) {
	for _, item := range items {
		subtotal = subtotal.Add(item.Subtotal())
	}
	return subtotal, subtotal.Add(fee)
}

func getCartItemTx(ctx context.Context, tx *sql.Tx, cartID, cardID int64) (*models.CartItem, error) {
	item := &models.CartItem{}

	err := tx.QueryRowContext(ctx,
		`SELECT id, cart_id, card_id, quantity, unit_price, created_at, updated_at
		 FROM cart_items
		 WHERE cart_id = $1 AND card_id = $2
		 FOR UPDATE`,
		cartID, cardID).Scan(
		&item.ID,
		&item.CartID,
		&item.CardID,
		&item.Quantity,
		&item.UnitPrice,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get cart item: %w", err)
	}

	return item, nil
}

func createCartItemTx(ctx context.Context, tx *sql.Tx, cartID, cardID int64, qty int, unitPrice decimal.Decimal) (*models.CartItem, error) {
	item := &models.CartItem{}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO cart_items (cart_id, card_id, quantity, unit_price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 RETURNING id, cart_id, card_id, quantity, unit_price, created_at, updated_at`,
		cartID, cardID, qty, unitPrice).Scan(
		&item.ID,
		&item.CartID,
		&item.CardID,
		&item.Quantity,
		&item.UnitPrice,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create cart item: %w", err)
	}

	return item, nil
}

func setCartItemQuantityTx(ctx context.Context, tx *sql.Tx, itemID int64, qty int, unitPrice decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE cart_items
		 SET quantity = $1, unit_price = $2, updated_at = NOW()
		 WHERE id = $3`,
		qty, unitPrice, itemID)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	return nil
}

func deleteCartItemTx(ctx context.Context, tx *sql.Tx, itemID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

func listCartItems(ctx context.Context, db *sql.DB, cartID int64) ([]models.CartItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ci.id, ci.cart_id, ci.card_id, ca.name, ci.quantity, ci.unit_price, ci.created_at, ci.updated_at
		 FROM cart_items ci
		 JOIN cards ca ON ca.id = ci.card_id
		 WHERE ci.cart_id = $1
		 ORDER BY ci.id`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.CardID,
			&item.CardName,
			&item.Quantity,
			&item.UnitPrice,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func listCartItemsTx(ctx context.Context, tx *sql.Tx, cartID int64) ([]models.CartItem, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, cart_id, card_id, quantity, unit_price, created_at, updated_at
		 FROM cart_items
		 WHERE cart_id = $1
		 ORDER BY id
		 FOR UPDATE`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.CardID,
			&item.Quantity,
			&item.UnitPrice,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}
