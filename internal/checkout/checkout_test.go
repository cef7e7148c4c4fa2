package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fjod/go_cart/marketcart/internal/domain"
	"github.com/fjod/go_cart/marketcart/internal/store"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func fill(t *testing.T) *store.Store {
	t.Helper()
	st := store.New()
	lines := []struct {
		product, seller, price string
		qty                    int
	}{
		{"A", "S2", "10.00", 2},
		{"B", "S1", "3.50", 1},
		{"C", "S2", "1.25", 4},
	}
	for _, l := range lines {
		_, err := st.AddItem(domain.AddItemInput{
			ProductID:  l.product,
			SellerID:   l.seller,
			SellerName: "Shop " + l.seller,
			Price:      decimal.RequireFromString(l.price),
			Quantity:   domain.Qty(l.qty),
		})
		require.NoError(t, err)
	}
	return st
}

func TestBuild_GroupsBySellerInCartOrder(t *testing.T) {
	st := fill(t)

	sub, err := Build("session-1", st, "")
	require.NoError(t, err)

	require.Len(t, sub.Sellers, 2)
	assert.Equal(t, "S2", sub.Sellers[0].SellerID)
	assert.Equal(t, "Shop S2", sub.Sellers[0].SellerName)
	assert.Equal(t, "25", sub.Sellers[0].Subtotal.String())
	assert.Equal(t, 6, sub.Sellers[0].ItemCount)
	assert.Equal(t, "S1", sub.Sellers[1].SellerID)
	assert.Equal(t, "3.5", sub.Sellers[1].Subtotal.String())

	assert.Equal(t, DefaultCurrency, sub.Currency)
	assert.Equal(t, st.TotalItems(), sub.TotalItems)
	assert.True(t, st.TotalPrice().Equal(sub.TotalAmount))
}

func TestBuild_MatchesItemsBySeller(t *testing.T) {
	st := fill(t)
	groups := st.ItemsBySeller()

	sub, err := Build("session-1", st, "EUR")
	require.NoError(t, err)

	require.Len(t, sub.Sellers, len(groups))
	for _, seller := range sub.Sellers {
		assert.Equal(t, groups[seller.SellerID], seller.Items)
	}
	assert.Equal(t, "EUR", sub.Currency)
}

func TestBuild_EmptyCart(t *testing.T) {
	_, err := Build("session-1", store.New(), "")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestBuild_DoesNotClearCart(t *testing.T) {
	st := fill(t)

	_, err := Build("session-1", st, "")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Len())
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}
	sub, err := Build("session-1", fill(t), "")
	require.NoError(t, err)
	sub.IdempotencyKey = "key-1"

	require.NoError(t, p.Publish(context.Background(), sub))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "session-1", string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	var decoded Submission
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "key-1", decoded.IdempotencyKey)
	assert.True(t, sub.TotalAmount.Equal(decoded.TotalAmount))
	assert.Len(t, decoded.Sellers, 2)
}

func TestPublish_WriterError(t *testing.T) {
	p := &Publisher{writer: &fakeWriter{err: errors.New("broker unavailable")}}

	err := p.Publish(context.Background(), Submission{SessionID: "s"})
	require.ErrorContains(t, err, "publish submission failed")
}
