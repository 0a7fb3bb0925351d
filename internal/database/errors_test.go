package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassPermanent},
		{"serialization failure", &pq.Error{Code: "40001"}, ErrorClassSerialization},
		{"deadlock", &pq.Error{Code: "40P01"}, ErrorClassDeadlock},
		{"lock not available", &pq.Error{Code: "55P03"}, ErrorClassTransient},
		{"unique violation", &pq.Error{Code: "23505"}, ErrorClassPermanent},
		{"check violation", &pq.Error{Code: "23514"}, ErrorClassPermanent},
		{"no rows", sql.ErrNoRows, ErrorClassPermanent},
		{"wrapped serialization", fmt.Errorf("commit: %w", &pq.Error{Code: "40001"}), ErrorClassSerialization},
		{"plain error", errors.New("boom"), ErrorClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(&pq.Error{Code: "40P01"}))
	assert.True(t, IsRetryable(&pq.Error{Code: "55P03"}))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	assert.False(t, IsRetryable(sql.ErrNoRows))
	assert.False(t, IsRetryable(nil))
}

func TestInsufficientStockError(t *testing.T) {
	cartTime := NewInsufficientStockError(7, 2)
	assert.ErrorIs(t, cartTime, ErrInsufficientStock)
	assert.NotErrorIs(t, cartTime, ErrStockConflict)
	assert.Contains(t, cartTime.Error(), "2 unit(s) available")

	checkoutTime := NewStockConflictError(7, 0)
	assert.ErrorIs(t, checkoutTime, ErrStockConflict)
	assert.NotErrorIs(t, checkoutTime, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	assert.ErrorAs(t, fmt.Errorf("checkout: %w", checkoutTime), &stockErr)
	assert.Equal(t, int64(7), stockErr.CardID)
	assert.Equal(t, 0, stockErr.Available)
}
