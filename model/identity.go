package model

import "encoding/json"

type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// DefaultAvatar is used when a new account has no photo.
const DefaultAvatar = "https://i.ibb.co/MgsTCcv/avater.jpg"

type Loyalty struct {
	Points         int    `json:"points"`
	Tier           string `json:"tier"`
	NextTierPoints int    `json:"nextTierPoints"`
}

// DefaultLoyalty is the starting loyalty state of a new account.
func DefaultLoyalty() Loyalty {
	return Loyalty{Points: 0, Tier: "Bronze", NextTierPoints: 500}
}

// Identity is the signed-in user's profile. Email, not UID, keys carts and wishlists.
type Identity struct {
	ID          string    `json:"_id,omitempty"`
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL"`
	Role        Role      `json:"role"`
	Phone       string    `json:"phone,omitempty"`
	Address     string    `json:"address,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	CreatedAt   Timestamp `json:"createdAt,omitzero"`
	Loyalty     *Loyalty  `json:"loyaltyParams,omitempty"`
}

func (i *Identity) UnmarshalJSON(data []byte) error {
	type Alias Identity
	aux := struct {
		*Alias
		RawID ID `json:"_id"`
		AltID ID `json:"id"`
	}{Alias: (*Alias)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	i.ID = pickID(aux.RawID, aux.AltID)
	return nil
}

// IsAdmin reports whether the identity may use admin screens.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	}
	return false
}
