package model

import "encoding/json"

// CartLine is one product's row in a user's cart. Name, Image, Color and Price are a snapshot of
// the product taken when the line was created and are never refreshed by the cart itself.
type CartLine struct {
	ID         string `json:"_id,omitempty"`
	OwnerEmail string `json:"userEmail"`
	ProductID  string `json:"productId"`
	Name       string `json:"name"`
	Image      string `json:"image"`
	Color      string `json:"color"`
	Price      Price  `json:"price"`
	Quantity   int    `json:"quantity"`
}

func (l *CartLine) UnmarshalJSON(data []byte) error {
	type Alias CartLine
	aux := struct {
		*Alias
		RawID ID `json:"_id"`
		AltID ID `json:"id"`
	}{Alias: (*Alias)(l)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	l.ID = pickID(aux.RawID, aux.AltID)
	return nil
}

// NewCartLine snapshots product for owner. Quantities below one become one.
func NewCartLine(owner string, product Product, quantity int) CartLine {
	if quantity < 1 {
		quantity = 1
	}
	return CartLine{
		OwnerEmail: owner,
		ProductID:  product.ID,
		Name:       product.Name,
		Image:      product.Image,
		Color:      product.Color,
		Price:      product.EffectivePrice(),
		Quantity:   quantity,
	}
}

// EffectiveQuantity treats a missing quantity as one.
func (l CartLine) EffectiveQuantity() int {
	if l.Quantity < 1 {
		return 1
	}
	return l.Quantity
}

// Subtotal is price times quantity.
func (l CartLine) Subtotal() Price {
	return l.Price.Times(l.EffectiveQuantity())
}
