package repository

import (
	"context"

	"github.com/fjod/go_cart/marketcart/internal/domain"
)

// CartRepository is the durable slot holding each session's cart snapshot.
type CartRepository interface {
	Load(ctx context.Context, sessionID string) ([]domain.LineItem, error)
	Save(ctx context.Context, sessionID string, items []domain.LineItem) error
	Delete(ctx context.Context, sessionID string) error
}
