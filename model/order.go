package model

import "encoding/json"

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentBkash  PaymentMethod = "bkash"
	PaymentNagad  PaymentMethod = "nagad"
	PaymentRocket PaymentMethod = "rocket"
	PaymentBank   PaymentMethod = "bank"
)

// Valid reports whether m is an accepted payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentBkash, PaymentNagad, PaymentRocket, PaymentBank:
		return true
	}
	return false
}

// Wallet reports whether m is a mobile wallet that needs a sender number and transaction id.
func (m PaymentMethod) Wallet() bool {
	return m == PaymentBkash || m == PaymentNagad || m == PaymentRocket
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

type OrderItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	Color     string `json:"color,omitempty"`
	Price     Price  `json:"price"`
	Quantity  int    `json:"quantity"`
}

type Shipping struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city,omitempty"`
}

type Payment struct {
	Method      PaymentMethod `json:"method"`
	SenderPhone string        `json:"senderPhone,omitempty"`
	TrxID       string        `json:"trxId,omitempty"`
	AccountName string        `json:"bankAccountName,omitempty"`
	AccountNo   string        `json:"bankAccountNumber,omitempty"`
}

type Order struct {
	ID         string      `json:"_id,omitempty"`
	OwnerEmail string      `json:"userEmail"`
	Items      []OrderItem `json:"items"`
	Shipping   Shipping    `json:"shipping"`
	Payment    Payment     `json:"payment"`
	Subtotal   Price       `json:"subtotal"`
	ShipFee    Price       `json:"shippingFee"`
	Total      Price       `json:"total"`
	Status     OrderStatus `json:"status"`
	CreatedAt  Timestamp   `json:"createdAt,omitzero"`
}

func (o *Order) UnmarshalJSON(data []byte) error {
	type Alias Order
	aux := struct {
		*Alias
		RawID ID `json:"_id"`
		AltID ID `json:"id"`
	}{Alias: (*Alias)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.ID = pickID(aux.RawID, aux.AltID)
	return nil
}

// OrderItemFromLine copies a cart line into an order.
func OrderItemFromLine(l CartLine) OrderItem {
	return OrderItem{
		ProductID: l.ProductID,
		Name:      l.Name,
		Image:     l.Image,
		Color:     l.Color,
		Price:     l.Price,
		Quantity:  l.EffectiveQuantity(),
	}
}
