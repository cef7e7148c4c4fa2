package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantKey(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Variant
		equal bool
	}{
		{"both absent", nil, nil, true},
		{"both empty", Variant{}, Variant{}, true},
		{"absent vs empty", nil, Variant{}, false},
		{"key order", Variant{"size": "M", "color": "red"}, Variant{"color": "red", "size": "M"}, true},
		{"different value", Variant{"size": "M"}, Variant{"size": "L"}, false},
		{"extra key", Variant{"size": "M"}, Variant{"size": "M", "color": "red"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.Key() == tt.b.Key())
		})
	}
}

func TestVariantValid(t *testing.T) {
	assert.True(t, Variant(nil).Valid())
	assert.True(t, Variant{}.Valid())
	assert.True(t, Variant{"größe": "M"}.Valid())
	assert.False(t, Variant{"size": "\xff"}.Valid())
	assert.False(t, Variant{"\xfe": "M"}.Valid())

	// both collapse to U+FFFD when encoded, which is why they are rejected
	assert.Equal(t, Variant{"size": "\xff"}.Key(), Variant{"size": "\xfe"}.Key())
}

func TestVariantJSONKeepsAbsentAndEmptyApart(t *testing.T) {
	items := []LineItem{
		{ID: "1", ProductID: "A", Variant: nil},
		{ID: "2", ProductID: "A", Variant: Variant{}},
	}

	data, err := json.Marshal(items)
	require.NoError(t, err)

	var decoded []LineItem
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded[0].Variant)
	assert.NotNil(t, decoded[1].Variant)
	assert.False(t, decoded[0].SameLine("A", decoded[1].Variant))
}

func TestLineItemSubtotal(t *testing.T) {
	orig := decimal.NewFromInt(50)
	item := LineItem{Price: decimal.RequireFromString("12.50"), OriginalPrice: &orig, Quantity: 4}

	assert.Equal(t, "50", item.Subtotal().String())
}

func TestLineItemClone(t *testing.T) {
	orig := decimal.NewFromInt(9)
	item := LineItem{Variant: Variant{"size": "M"}, OriginalPrice: &orig}

	c := item.Clone()
	c.Variant["size"] = "L"
	*c.OriginalPrice = decimal.NewFromInt(1)

	assert.Equal(t, "M", item.Variant["size"])
	assert.True(t, decimal.NewFromInt(9).Equal(*item.OriginalPrice))
}
