package checkout

import (
	"errors"
	"time"

	"github.com/fjod/go_cart/marketcart/internal/domain"
	"github.com/fjod/go_cart/marketcart/internal/store"
	"github.com/shopspring/decimal"
)

var ErrEmptyCart = errors.New("cart is empty")

const DefaultCurrency = "USD"

// SellerOrder is the part of a submission fulfilled by one seller.
type SellerOrder struct {
	SellerID   string            `json:"seller_id"`
	SellerName string            `json:"seller_name"`
	Items      []domain.LineItem `json:"items"`
	ItemCount  int               `json:"item_count"`
	Subtotal   decimal.Decimal   `json:"subtotal"`
}

// Submission is what the checkout collaborator receives to open an order.
type Submission struct {
	SessionID      string          `json:"session_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Sellers        []SellerOrder   `json:"sellers"`
	TotalItems     int             `json:"total_items"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Build splits the cart by seller. Sellers are ordered by the first time
// one of their items entered the cart.
func Build(sessionID string, st *store.Store, currency string) (Submission, error) {
	if currency == "" {
		currency = DefaultCurrency
	}

	items := st.Items()
	if len(items) == 0 {
		return Submission{}, ErrEmptyCart
	}

	// group from one snapshot so totals and groups agree
	var order []string
	groups := make(map[string][]domain.LineItem)
	for _, item := range items {
		if _, ok := groups[item.SellerID]; !ok {
			order = append(order, item.SellerID)
		}
		groups[item.SellerID] = append(groups[item.SellerID], item)
	}

	sub := Submission{
		SessionID:   sessionID,
		TotalAmount: decimal.Zero,
		Currency:    currency,
		CreatedAt:   time.Now().UTC(),
	}
	for _, sellerID := range order {
		group := SellerGroup(sellerID, groups[sellerID])
		sub.Sellers = append(sub.Sellers, group)
		sub.TotalItems += group.ItemCount
		sub.TotalAmount = sub.TotalAmount.Add(group.Subtotal)
	}
	return sub, nil
}

// SellerGroup totals one seller's lines.
func SellerGroup(sellerID string, items []domain.LineItem) SellerOrder {
	order := SellerOrder{
		SellerID: sellerID,
		Items:    items,
		Subtotal: decimal.Zero,
	}
	for _, item := range items {
		if order.SellerName == "" {
			order.SellerName = item.SellerName
		}
		order.ItemCount += item.Quantity
		order.Subtotal = order.Subtotal.Add(item.Subtotal())
	}
	return order
}
