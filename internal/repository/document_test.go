package repository

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentConversion(t *testing.T) {
	for _, item := range sampleItems() {
		back, err := fromDocument(toDocument(item))
		require.NoError(t, err)

		assert.Equal(t, item.ID, back.ID)
		assert.True(t, item.Price.Equal(back.Price))
		assert.Equal(t, item.Variant, back.Variant)
		if item.OriginalPrice == nil {
			assert.Nil(t, back.OriginalPrice)
		} else {
			assert.True(t, item.OriginalPrice.Equal(*back.OriginalPrice))
		}
	}
}

func TestFromDocument_BadOriginalPrice(t *testing.T) {
	bad := "??"
	d := toDocument(sampleItems()[0])
	d.OriginalPrice = &bad

	_, err := fromDocument(d)
	assert.Error(t, err)
}

func TestToDocument_PriceIsExactString(t *testing.T) {
	item := sampleItems()[0]
	item.Price = decimal.RequireFromString("0.30")

	assert.Equal(t, "0.3", toDocument(item).Price)
}
