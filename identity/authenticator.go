// Package identity owns the signed-in session: it verifies credentials with an authentication
// provider, keeps the matching profile row of the users collection, and tells the cart and
// wishlist when the signed-in email changes.
package identity

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
)

const component = syncErrors.Component("identity")

// Account is what the authentication provider knows about a user.
type Account struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// Authenticator is the port to the authentication provider.
type Authenticator interface {
	// VerifyIDToken checks an ID token and returns the account it was issued for.
	VerifyIDToken(ctx context.Context, idToken string) (Account, error)

	// CreateUser registers a new email/password account.
	CreateUser(ctx context.Context, email, password, displayName, photoURL string) (Account, error)

	// UpdateUser changes the display fields of an account. Empty values are left untouched.
	UpdateUser(ctx context.Context, uid, displayName, photoURL string) error

	DeleteUser(ctx context.Context, uid string) error

	// PasswordResetLink returns a link the user can follow to choose a new password.
	PasswordResetLink(ctx context.Context, email string) (string, error)
}

// StaticAuthenticator keeps accounts in memory and accepts an account's email as its ID token.
// It backs the development setup, where no authentication provider is configured.
type StaticAuthenticator struct {
	// AutoRegister creates an account for unknown emails on VerifyIDToken.
	AutoRegister bool

	mu       sync.Mutex
	accounts map[string]*Account // by lower-cased email
}

var _ Authenticator = (*StaticAuthenticator)(nil)

func NewStaticAuthenticator(autoRegister bool, accounts ...Account) *StaticAuthenticator {
	s := &StaticAuthenticator{AutoRegister: autoRegister, accounts: make(map[string]*Account)}
	for _, a := range accounts {
		if a.UID == "" {
			a.UID = uuid.NewString()
		}
		s.accounts[strings.ToLower(a.Email)] = &a
	}
	return s
}

func (s *StaticAuthenticator) VerifyIDToken(_ context.Context, idToken string) (Account, error) {
	email := strings.TrimSpace(idToken)
	if email == "" {
		return Account{}, syncErrors.E(syncErrors.OpSignIn, component, syncErrors.KindUnauthenticated, "empty id token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[strings.ToLower(email)]; ok {
		return *a, nil
	}
	if !s.AutoRegister || !strings.Contains(email, "@") {
		return Account{}, syncErrors.E(syncErrors.OpSignIn, component, syncErrors.KindUnauthenticated,
			fmt.Sprintf("unknown account %q", email))
	}
	a := &Account{UID: uuid.NewString(), Email: email}
	s.accounts[strings.ToLower(email)] = a
	return *a, nil
}

func (s *StaticAuthenticator) CreateUser(_ context.Context, email, password, displayName, photoURL string) (Account, error) {
	if !strings.Contains(email, "@") {
		return Account{}, syncErrors.NewValidationError(syncErrors.OpSignIn, fmt.Errorf("invalid email %q", email))
	}
	if len(password) < 6 {
		return Account{}, syncErrors.NewValidationError(syncErrors.OpSignIn, fmt.Errorf("password must be at least 6 characters"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := s.accounts[key]; ok {
		return Account{}, syncErrors.E(syncErrors.OpSignIn, component, syncErrors.KindInvalid,
			fmt.Sprintf("email %q already in use", email))
	}
	a := &Account{UID: uuid.NewString(), Email: email, DisplayName: displayName, PhotoURL: photoURL}
	s.accounts[key] = a
	return *a, nil
}

func (s *StaticAuthenticator) UpdateUser(_ context.Context, uid, displayName, photoURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byUID(uid)
	if a == nil {
		return syncErrors.E(syncErrors.OpUpdateProfile, component, syncErrors.KindNotFound, fmt.Sprintf("no account %s", uid))
	}
	if displayName != "" {
		a.DisplayName = displayName
	}
	if photoURL != "" {
		a.PhotoURL = photoURL
	}
	return nil
}

func (s *StaticAuthenticator) DeleteUser(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byUID(uid)
	if a == nil {
		return syncErrors.E(syncErrors.OpDelete, component, syncErrors.KindNotFound, fmt.Sprintf("no account %s", uid))
	}
	delete(s.accounts, strings.ToLower(a.Email))
	return nil
}

func (s *StaticAuthenticator) PasswordResetLink(_ context.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[strings.ToLower(email)]; !ok {
		return "", syncErrors.E(syncErrors.OpUpdateProfile, component, syncErrors.KindNotFound, fmt.Sprintf("no account for %q", email))
	}
	return "https://storefront.local/reset-password?email=" + url.QueryEscape(email), nil
}

func (s *StaticAuthenticator) byUID(uid string) *Account {
	for _, a := range s.accounts {
		if a.UID == uid {
			return a
		}
	}
	return nil
}
