package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opencollect/tcgstore/internal/database"
	"github.com/opencollect/tcgstore/internal/models"
	"github.com/shopspring/decimal"
)

type CreateCardRequest struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Category    string
	Condition   string
	Edition     string
	Rarity      string
	ImageURL    string
}

func CreateCard(ctx context.Context, db *sql.DB, req CreateCardRequest) (*models.Card, error) {
	card := &models.Card{}

	query := `
		INSERT INTO cards (name, description, price, stock, category, condition, edition, rarity, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, name, description, price, stock, category, condition, edition, rarity, image_url, created_at, updated_at`

	err := db.QueryRowContext(ctx, query,
		req.Name, req.Description, req.Price, req.Stock,
		req.Category, req.Condition, req.Edition, req.Rarity, req.ImageURL,
	).Scan(
		&card.ID,
		&card.Name,
		&card.Description,
		&card.Price,
		&card.Stock,
		&card.Category,
		&card.Condition,
		&card.Edition,
		&card.Rarity,
		&card.ImageURL,
		&card.CreatedAt,
		&card.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}

	return card, nil
}

func GetCard(ctx context.Context, db *sql.DB, id int64) (*models.Card, error) {
	card := &models.Card{}

	query := `
		SELECT id, name, description, price, stock, category, condition, edition, rarity, image_url, created_at, updated_at
		FROM cards
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&card.ID,
		&card.Name,
		&card.Description,
		&card.Price,
		&card.Stock,
		&card.Category,
		&card.Condition,
		&card.Edition,
		&card.Rarity,
		&card.ImageURL,
		&card.CreatedAt,
		&card.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCardNotFound
		}
		return nil, fmt.Errorf("get card: %w", err)
	}

	return card, nil
}

// getCardForUpdate locks the card row for the rest of the transaction so a
// concurrent cart mutation or checkout cannot interleave a stock change.
func getCardForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Card, error) {
	card := &models.Card{}

	query := `
		SELECT id, name, description, price, stock, category, condition, edition, rarity, image_url, created_at, updated_at
		FROM cards
		WHERE id = $1
		FOR UPDATE`

	err := tx.QueryRowContext(ctx, query, id).Scan(
		&card.ID,
		&card.Name,
		&card.Description,
		&card.Price,
		&card.Stock,
		&card.Category,
		&card.Condition,
		&card.Edition,
		&card.Rarity,
		&card.ImageURL,
		&card.CreatedAt,
		&card.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCardNotFound
		}
		return nil, fmt.Errorf("lock card: %w", err)
	}

	return card, nil
}

// DecrementStock conditionally takes quantity units from the card's stock.
// Zero rows affected means the guard failed: someone else got there first.
func DecrementStock(ctx context.Context, tx *sql.Tx, cardID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE cards
		 SET stock = stock - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock >= $1`,
		quantity, cardID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var available int
		if err := tx.QueryRowContext(ctx,
			`SELECT stock FROM cards WHERE id = $1`, cardID).Scan(&available); err != nil {
			if err == sql.ErrNoRows {
				return database.ErrCardNotFound
			}
			return fmt.Errorf("read remaining stock: %w", err)
		}
		return database.NewStockConflictError(cardID, available)
	}

	return nil
}

func ListCards(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count cards: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT id, name, description, price, stock, category, condition, edition, rarity, image_url, created_at, updated_at
		FROM cards
		ORDER BY name, id
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var card models.Card
		err := rows.Scan(
			&card.ID,
			&card.Name,
			&card.Description,
			&card.Price,
			&card.Stock,
			&card.Category,
			&card.Condition,
			&card.Edition,
			&card.Rarity,
			&card.ImageURL,
			&card.CreatedAt,
			&card.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      cards,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}
