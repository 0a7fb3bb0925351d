package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/opencollect/tcgstore/internal/database"
	"github.com/opencollect/tcgstore/internal/models"
)

type AddressInput struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Complement string
}

// normalize validates the required fields and canonicalizes state and postal
// code. Postal codes keep digits only and must have exactly 8 of them.
func (in *AddressInput) normalize() error {
	if in.Street == "" || in.City == "" || in.State == "" || in.PostalCode == "" {
		return fmt.Errorf("%w: street, city, state and postal code are required", database.ErrInvalidInput)
	}

	cleaned := NormalizePostalCode(in.PostalCode)
	if len(cleaned) != 8 {
		return fmt.Errorf("%w: postal code must have 8 digits", database.ErrInvalidInput)
	}
	in.PostalCode = cleaned

	in.State = strings.ToUpper(in.State)
	if len(in.State) > 2 {
		in.State = in.State[:2]
	}

	return nil
}

// NormalizePostalCode strips everything but digits.
func NormalizePostalCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func CreateAddress(ctx context.Context, db *sql.DB, userID int64, in AddressInput) (*models.Address, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	address := &models.Address{}

	query := `
		INSERT INTO addresses (user_id, street, city, state, postal_code, complement, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, user_id, street, city, state, postal_code, complement, created_at`

	err := db.QueryRowContext(ctx, query,
		userID, in.Street, in.City, in.State, in.PostalCode, in.Complement,
	).Scan(
		&address.ID,
		&address.UserID,
		&address.Street,
		&address.City,
		&address.State,
		&address.PostalCode,
		&address.Complement,
		&address.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create address: %w", err)
	}

	return address, nil
}

func UpdateAddress(ctx context.Context, db *sql.DB, userID, id int64, in AddressInput) (*models.Address, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	address := &models.Address{}

	query := `
		UPDATE addresses
		SET street = $1, city = $2, state = $3, postal_code = $4, complement = $5
		WHERE id = $6 AND user_id = $7
		RETURNING id, user_id, street, city, state, postal_code, complement, created_at`

	err := db.QueryRowContext(ctx, query,
		in.Street, in.City, in.State, in.PostalCode, in.Complement, id, userID,
	).Scan(
		&address.ID,
		&address.UserID,
		&address.Street,
		&address.City,
		&address.State,
		&address.PostalCode,
		&address.Complement,
		&address.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrAddressNotFound
		}
		return nil, fmt.Errorf("update address: %w", err)
	}

	return address, nil
}

// GetUserAddress loads an address only if it belongs to the given user.
func GetUserAddress(ctx context.Context, db *sql.DB, userID, id int64) (*models.Address, error) {
	address := &models.Address{}

	query := `
		SELECT id, user_id, street, city, state, postal_code, complement, created_at
		FROM addresses
		WHERE id = $1 AND user_id = $2`

	err := db.QueryRowContext(ctx, query, id, userID).Scan(
		&address.ID,
		&address.UserID,
		&address.Street,
		&address.City,
		&address.State,
		&address.PostalCode,
		&address.Complement,
		&address.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrAddressNotFound
		}
		return nil, fmt.Errorf("get address: %w", err)
	}

	return address, nil
}

func checkAddressOwnershipTx(ctx context.Context, tx *sql.Tx, id, userID int64) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM addresses WHERE id = $1 AND user_id = $2)`,
		id, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check address: %w", err)
	}
	if !exists {
		return database.ErrAddressNotFound
	}
	return nil
}

func ListAddresses(ctx context.Context, db *sql.DB, userID int64) ([]models.Address, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, user_id, street, city, state, postal_code, complement, created_at
		 FROM addresses
		 WHERE user_id = $1
		 ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var addresses []models.Address
	for rows.Next() {
		var address models.Address
		err := rows.Scan(
			&address.ID,
			&address.UserID,
			&address.Street,
			&address.City,
			&address.State,
			&address.PostalCode,
			&address.Complement,
			&address.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		addresses = append(addresses, address)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return addresses, nil
}
