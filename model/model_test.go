package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct_DecodesIDVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"mongo _id", `{"_id":"p1","name":"Thermo"}`, "p1"},
		{"plain id", `{"id":"p2","name":"Thermo"}`, "p2"},
		{"numeric id", `{"id":7,"name":"Thermo"}`, "7"},
		{"extended json", `{"_id":{"$oid":"65f0c0ffee"},"name":"Thermo"}`, "65f0c0ffee"},
		{"_id wins", `{"_id":"a","id":"b"}`, "a"},
		{"missing", `{"name":"Thermo"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Product
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
			assert.Equal(t, tt.want, p.ID)
		})
	}
}

func TestProduct_DefaultsAndStock(t *testing.T) {
	var p Product
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"p1","name":"Flask","highlight":"Light, Durable ,"}`), &p))

	assert.True(t, p.Available(), "absent inStock means in stock")
	assert.Equal(t, "45.00", p.EffectivePrice().String())
	assert.Equal(t, Highlights{"Light", "Durable"}, p.Highlight)

	require.NoError(t, json.Unmarshal([]byte(`{"_id":"p1","price":"19.5","inStock":false,"highlight":["a","b"]}`), &p))
	assert.False(t, p.Available())
	assert.Equal(t, "19.50", p.EffectivePrice().String())
	assert.Equal(t, Highlights{"a", "b"}, p.Highlight)
}

func TestProduct_CreatedAtLayouts(t *testing.T) {
	for _, body := range []string{
		`{"createdAt":"2024-03-01T10:00:00.000Z"}`,
		`{"createdAt":"2024-03-01"}`,
		`{"createdAt":1709287200000}`,
	} {
		var p Product
		require.NoError(t, json.Unmarshal([]byte(body), &p), body)
		assert.Equal(t, 2024, p.CreatedAt.Year(), body)
	}

	var p Product
	require.NoError(t, json.Unmarshal([]byte(`{"createdAt":""}`), &p))
	assert.True(t, p.CreatedAt.IsZero())
}

func TestPrice_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		P Price `json:"p"`
	}{NewPrice(12.5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":12.5}`, string(data))

	var p Price
	require.NoError(t, json.Unmarshal([]byte(`"7.25"`), &p))
	assert.Equal(t, "7.25", p.String())
	require.NoError(t, json.Unmarshal([]byte(`null`), &p))
	assert.True(t, p.IsZero())
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &p))
}

func TestPrice_Arithmetic(t *testing.T) {
	sum := NewPrice(0.1).Plus(NewPrice(0.2))
	assert.Equal(t, "0.30", sum.String())
	assert.Equal(t, "135.00", DefaultPrice.Times(3).String())
}

func TestNewCartLine_Snapshot(t *testing.T) {
	product := Product{ID: "p1", Name: "Flask", Image: "img.png", Color: "red", Tagline: "keeps hot"}
	line := NewCartLine("user1@x.com", product, 0)

	assert.Equal(t, "user1@x.com", line.OwnerEmail)
	assert.Equal(t, "p1", line.ProductID)
	assert.Equal(t, 1, line.Quantity)
	assert.Equal(t, "45.00", line.Price.String())
	assert.Empty(t, line.ID)

	data, err := json.Marshal(line)
	require.NoError(t, err)
	assert.JSONEq(t, `{"userEmail":"user1@x.com","productId":"p1","name":"Flask","image":"img.png",
		"color":"red","price":45,"quantity":1}`, string(data))
}

func TestCartLine_EffectiveQuantity(t *testing.T) {
	var line CartLine
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"c1","productId":"p1","price":10}`), &line))
	assert.Equal(t, "c1", line.ID)
	assert.Equal(t, 1, line.EffectiveQuantity())
	assert.Equal(t, "10.00", line.Subtotal().String())
}

func TestNewWishlistEntry_Snapshot(t *testing.T) {
	product := Product{ID: "p9", Name: "Mug", Price: NewPrice(20), InStock: Bool(false), Tagline: "ceramic"}
	entry := NewWishlistEntry("user1@x.com", product)

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"user1@x.com","productId":"p9","name":"Mug","image":"","price":20,
		"color":"","tagline":"ceramic","inStock":false}`, string(data))
}

func TestIdentity_Decode(t *testing.T) {
	var id Identity
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"u1","uid":"firebase-1","email":"a@x.com",
		"role":"admin","loyaltyParams":{"points":10,"tier":"Silver","nextTierPoints":2500}}`), &id))

	assert.Equal(t, "u1", id.ID)
	assert.True(t, id.IsAdmin())
	require.NotNil(t, id.Loyalty)
	assert.Equal(t, "Silver", id.Loyalty.Tier)
	assert.True(t, RoleModerator.Valid())
	assert.False(t, Role("root").Valid())
}

func TestPaymentMethod(t *testing.T) {
	assert.True(t, PaymentCOD.Valid())
	assert.False(t, PaymentCOD.Wallet())
	assert.True(t, PaymentBkash.Wallet())
	assert.False(t, PaymentBank.Wallet())
	assert.False(t, PaymentMethod("card").Valid())
}
