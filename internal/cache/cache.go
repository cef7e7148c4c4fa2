package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/marketcart/internal/domain"
)

// CartCache is a read-through copy of the durable cart snapshot.
type CartCache interface {
	Get(ctx context.Context, sessionID string) ([]domain.LineItem, error)
	Set(ctx context.Context, sessionID string, items []domain.LineItem) error
	Delete(ctx context.Context, sessionID string) error
}

var ErrCacheMiss = errors.New("cache miss")
