package model

import "encoding/json"

// WishlistEntry marks a product as saved by a user, with the same kind of snapshot as CartLine.
type WishlistEntry struct {
	ID         string `json:"_id,omitempty"`
	OwnerEmail string `json:"email"`
	ProductID  string `json:"productId"`
	Name       string `json:"name"`
	Image      string `json:"image"`
	Price      Price  `json:"price"`
	Color      string `json:"color"`
	Tagline    string `json:"tagline"`
	InStock    bool   `json:"inStock"`
}

func (w *WishlistEntry) UnmarshalJSON(data []byte) error {
	type Alias WishlistEntry
	aux := struct {
		*Alias
		RawID ID `json:"_id"`
		AltID ID `json:"id"`
	}{Alias: (*Alias)(w)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	w.ID = pickID(aux.RawID, aux.AltID)
	return nil
}

func NewWishlistEntry(owner string, product Product) WishlistEntry {
	return WishlistEntry{
		OwnerEmail: owner,
		ProductID:  product.ID,
		Name:       product.Name,
		Image:      product.Image,
		Price:      product.EffectivePrice(),
		Color:      product.Color,
		Tagline:    product.Tagline,
		InStock:    product.Available(),
	}
}
