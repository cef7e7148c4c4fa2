package domain

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// absentVariantKey never collides with a JSON object encoding.
const absentVariantKey = "-"

// Variant maps an option name (size, color, storage) to the selected value.
// A nil Variant means the product has no selectable options.
type Variant map[string]string

// Key returns a canonical encoding of the variant. encoding/json writes map
// keys in sorted order, so two variants with the same pairs share a key.
// An absent (nil) variant and a present empty variant get different keys.
func (v Variant) Key() string {
	if v == nil {
		return absentVariantKey
	}
	b, err := json.Marshal(map[string]string(v))
	if err != nil {
		// map[string]string always encodes
		panic(err)
	}
	return string(b)
}

// Valid reports whether every option name and value is valid UTF-8. Key
// would otherwise map distinct invalid byte sequences to the same line.
func (v Variant) Valid() bool {
	for k, val := range v {
		if !utf8.ValidString(k) || !utf8.ValidString(val) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy, keeping nil as nil.
func (v Variant) Clone() Variant {
	if v == nil {
		return nil
	}
	out := make(Variant, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

type LineItem struct {
	ID            string           `json:"id"`
	ProductID     string           `json:"product_id"`
	Name          string           `json:"name"`
	Image         string           `json:"image"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Quantity      int              `json:"quantity"`
	Variant       Variant          `json:"variant"`
	SellerID      string           `json:"seller_id"`
	SellerName    string           `json:"seller_name"`
	AddedAt       time.Time        `json:"added_at"`
}

// SameLine reports whether the item is the cart line for productID+variant.
func (li LineItem) SameLine(productID string, variant Variant) bool {
	return li.ProductID == productID && li.Variant.Key() == variant.Key()
}

// Subtotal is price times quantity. OriginalPrice is display-only.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Clone deep-copies the mutable parts of the item.
func (li LineItem) Clone() LineItem {
	out := li
	out.Variant = li.Variant.Clone()
	if li.OriginalPrice != nil {
		p := *li.OriginalPrice
		out.OriginalPrice = &p
	}
	return out
}

// AddItemInput carries everything a catalog lookup supplies for a new line.
// Quantity nil means 1.
type AddItemInput struct {
	ProductID     string
	Name          string
	Image         string
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	Quantity      *int
	Variant       Variant
	SellerID      string
	SellerName    string
}

// Qty is a helper for filling AddItemInput.Quantity.
func Qty(n int) *int {
	return &n
}
