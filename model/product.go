package model

import "encoding/json"

// Product is a catalog item. The storefront only ever reads products.
type Product struct {
	ID          string     `json:"_id,omitempty"`
	Name        string     `json:"name"`
	Tagline     string     `json:"tagline,omitempty"`
	Description string     `json:"description,omitempty"`
	Image       string     `json:"image,omitempty"`
	Color       string     `json:"color,omitempty"`
	Price       Price      `json:"price"`
	Highlight   Highlights `json:"highlight,omitempty"`
	InStock     *bool      `json:"inStock,omitempty"`
	CreatedAt   Timestamp  `json:"createdAt,omitzero"`
}

func (p *Product) UnmarshalJSON(data []byte) error {
	type Alias Product
	aux := struct {
		*Alias
		RawID ID `json:"_id"`
		AltID ID `json:"id"`
	}{Alias: (*Alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.ID = pickID(aux.RawID, aux.AltID)
	return nil
}

// EffectivePrice is the product price, or DefaultPrice when the product carries none.
func (p Product) EffectivePrice() Price {
	if p.Price.IsZero() {
		return DefaultPrice
	}
	return p.Price
}

// Available reports stock. A product without an inStock field is considered in stock.
func (p Product) Available() bool {
	return p.InStock == nil || *p.InStock
}

// Bool returns a pointer to b, for optional flags such as Product.InStock.
func Bool(b bool) *bool {
	return &b
}
